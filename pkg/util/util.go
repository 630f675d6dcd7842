package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/token"
)

type Kind int

const (
	KindParse Kind = iota
	KindCodegen
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindCodegen:
		return "codegen error"
	case KindBackend:
		return "backend error"
	}
	return "error"
}

// Diagnostic is a user facing error anchored at a token.
type Diagnostic struct {
	Kind Kind
	Tok  token.Token
	Msg  string
	Err  error
}

func (d *Diagnostic) Error() string {
	if d.Msg == "" && d.Err != nil {
		return d.Err.Error()
	}
	return d.Msg
}

func (d *Diagnostic) Unwrap() error { return d.Err }

func Errorf(kind Kind, tok token.Token, sentinel error, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Tok: tok, Msg: fmt.Sprintf(format, args...), Err: sentinel}
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

type Reporter struct {
	cfg   *config.Config
	out   io.Writer
	color bool
	files []SourceFileRecord

	Errors   int
	Warnings int
}

// NewReporter writes diagnostics to w. Colours are used only when w is a terminal.
func NewReporter(cfg *config.Config, w io.Writer) *Reporter {
	r := &Reporter{cfg: cfg, out: w}
	if f, ok := w.(*os.File); ok {
		r.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return r
}

// AddSourceFile records a file and returns its index for token.FileIndex.
func (r *Reporter) AddSourceFile(name string, content []rune) int {
	r.files = append(r.files, SourceFileRecord{Name: name, Content: content})
	return len(r.files) - 1
}

func (r *Reporter) paint(code, s string) string {
	if !r.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (r *Reporter) location(tok token.Token) string {
	name := "<stdin>"
	if tok.FileIndex >= 0 && tok.FileIndex < len(r.files) {
		name = r.files[tok.FileIndex].Name
	}
	return fmt.Sprintf("%s:%d:%d", name, tok.Line, tok.Column)
}

// printErrorLine prints the source line and a caret under the token
func (r *Reporter) printErrorLine(tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(r.files) || tok.Line == 0 {
		return
	}
	content := r.files[tok.FileIndex].Content
	lineNum, lineStart := tok.Line, 0
	for i, c := range content {
		if lineNum <= 1 {
			break
		}
		if c == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	if lineNum > 1 {
		return
	}
	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(r.out, "  %s\n", string(content[lineStart:lineEnd]))
	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(r.out, "  %s%s\n", strings.Repeat(" ", max(tok.Column-1, 0)), r.paint("32", caret))
}

// Error prints err. Diagnostics carry their own location; anything else is
// reported as a plain backend error.
func (r *Reporter) Error(err error) {
	r.Errors++
	var d *Diagnostic
	if !errors.As(err, &d) {
		fmt.Fprintf(r.out, "kaleido: %s %v\n", r.paint("31", "error:"), err)
		return
	}
	fmt.Fprintf(r.out, "%s: %s %s\n", r.location(d.Tok), r.paint("31", d.Kind.String()+":"), d.Error())
	r.printErrorLine(d.Tok)
}

// Warn prints a warning if wt is enabled.
func (r *Reporter) Warn(wt config.Warning, tok token.Token, format string, args ...any) {
	if r.cfg != nil && !r.cfg.IsWarningEnabled(wt) {
		return
	}
	r.Warnings++
	name := ""
	if r.cfg != nil {
		name = r.cfg.Warnings[wt].Name
	}
	fmt.Fprintf(r.out, "%s: %s %s [-W%s]\n", r.location(tok), r.paint("33", "warning:"), fmt.Sprintf(format, args...), name)
	r.printErrorLine(tok)
}
