package token

type Type int

const (
	EOF Type = iota
	Ident
	Number
	Char
	Def
	Extern
	If
	Then
	Else
	For
	In
	Do
	End
	Binary
	Unary
)

var KeywordMap = map[string]Type{
	"def":    Def,
	"extern": Extern,
	"if":     If,
	"then":   Then,
	"else":   Else,
	"for":    For,
	"in":     In,
	"do":     Do,
	"end":    End,
	"binary": Binary,
	"unary":  Unary,
}

// Reverse mapping from Type to the keyword string
var TypeStrings = map[Type]string{
	EOF:    "end of input",
	Ident:  "identifier",
	Number: "number",
	Char:   "character",
}

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "unknown"
}

// Token is one lexeme. Value holds the identifier text, the literal text of a
// number, or the single character of a Char token.
type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}

// Is reports whether tok is the punctuation character ch.
func (tok Token) Is(ch rune) bool {
	return tok.Type == Char && tok.Value == string(ch)
}

// Rune returns the character of a Char token, or 0.
func (tok Token) Rune() rune {
	if tok.Type != Char {
		return 0
	}
	for _, r := range tok.Value {
		return r
	}
	return 0
}

func (tok Token) String() string {
	switch tok.Type {
	case Ident, Number:
		return tok.Type.String() + " '" + tok.Value + "'"
	case Char:
		return "'" + tok.Value + "'"
	case EOF:
		return tok.Type.String()
	}
	return "'" + tok.Type.String() + "'"
}
