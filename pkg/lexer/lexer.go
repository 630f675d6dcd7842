package lexer

import (
	"bufio"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/token"
)

// Lexer turns a rune stream into tokens on demand. It reads at most one rune
// past the current token and keeps no token history.
type Lexer struct {
	r         *bufio.Reader
	fileIndex int
	line      int
	column    int
	cfg       *config.Config
	eof       bool
}

// New returns a lexer over r. A nil cfg uses the default configuration.
func New(r io.Reader, fileIndex int, cfg *config.Config) *Lexer {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Lexer{r: bufio.NewReader(r), fileIndex: fileIndex, line: 1, column: 1, cfg: cfg}
}

func (l *Lexer) Next() token.Token {
	for {
		l.skipWhitespace()
		line, col := l.line, l.column

		ch, ok := l.peek()
		if !ok {
			return l.makeToken(token.EOF, "", line, col, 0)
		}

		if ch == '#' && l.cfg.IsFeatureEnabled(config.FeatLineComments) {
			l.lineComment()
			continue
		}

		if unicode.IsLetter(ch) {
			return l.identifierOrKeyword(line, col)
		}
		if isDigit(ch) || (ch == '.' && l.digitAfterDot()) {
			return l.numberLiteral(line, col)
		}

		l.advance()
		return l.makeToken(token.Char, string(ch), line, col, 1)
	}
}

func (l *Lexer) peek() (rune, bool) {
	if l.eof {
		return 0, false
	}
	ch, _, err := l.r.ReadRune()
	if err != nil {
		l.eof = true
		return 0, false
	}
	_ = l.r.UnreadRune()
	return ch, true
}

// digitAfterDot reports whether the '.' at the read position is followed by a digit.
func (l *Lexer) digitAfterDot() bool {
	buf, err := l.r.Peek(2)
	if err != nil || len(buf) < 2 {
		return false
	}
	return isDigit(rune(buf[1]))
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func (l *Lexer) advance() rune {
	if l.eof {
		return 0
	}
	ch, _, err := l.r.ReadRune()
	if err != nil {
		l.eof = true
		return 0
	}
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return ch
}

func (l *Lexer) makeToken(typ token.Type, value string, line, col, length int) token.Token {
	return token.Token{
		Type: typ, Value: value, FileIndex: l.fileIndex,
		Line: line, Column: col, Len: length,
	}
}

func (l *Lexer) skipWhitespace() {
	for {
		ch, ok := l.peek()
		if !ok || !unicode.IsSpace(ch) {
			return
		}
		l.advance()
	}
}

func (l *Lexer) lineComment() {
	for {
		ch, ok := l.peek()
		if !ok {
			return
		}
		l.advance()
		if ch == '\n' || ch == '\r' {
			return
		}
	}
}

func (l *Lexer) identifierOrKeyword(line, col int) token.Token {
	var sb strings.Builder
	for {
		ch, ok := l.peek()
		if !ok || !(unicode.IsLetter(ch) || isDigit(ch)) {
			break
		}
		sb.WriteRune(l.advance())
	}
	value := sb.String()
	n := utf8.RuneCountInString(value)
	if typ, isKeyword := token.KeywordMap[value]; isKeyword {
		return l.makeToken(typ, "", line, col, n)
	}
	return l.makeToken(token.Ident, value, line, col, n)
}

// numberLiteral reads digits with at most one '.'. A second '.' ends the
// literal and starts the next token.
func (l *Lexer) numberLiteral(line, col int) token.Token {
	var sb strings.Builder
	seenDot := false
	for {
		ch, ok := l.peek()
		if !ok {
			break
		}
		if ch == '.' {
			if seenDot {
				break
			}
			seenDot = true
		} else if !isDigit(ch) {
			break
		}
		sb.WriteRune(l.advance())
	}
	value := sb.String()
	return l.makeToken(token.Number, value, line, col, len(value))
}
