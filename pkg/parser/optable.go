package parser

const (
	MinPrecedence = 1
	MaxPrecedence = 100
)

// OpTable maps binary operator symbols to their precedence. Higher binds
// tighter. It is shared by every parser of a session so operators declared in
// one unit affect how later units parse.
type OpTable struct {
	prec map[rune]int
}

func NewOpTable() *OpTable {
	return &OpTable{prec: map[rune]int{
		'<': 10,
		'+': 20,
		'-': 20,
		'*': 40,
	}}
}

// Precedence returns the precedence of op, or -1 if op is not a binary operator.
func (t *OpTable) Precedence(op rune) int {
	if p, ok := t.prec[op]; ok {
		return p
	}
	return -1
}

// Set installs or overwrites the precedence of op and returns the previous entry.
func (t *OpTable) Set(op rune, prec int) (old int, existed bool) {
	old, existed = t.prec[op]
	t.prec[op] = prec
	return old, existed
}
