package parser

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/kaleido/pkg/ast"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/lexer"
	"github.com/xplshn/kaleido/pkg/token"
	"github.com/xplshn/kaleido/pkg/util"
)

func newParser(src string, cfg *config.Config, out *bytes.Buffer) *Parser {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if out == nil {
		out = &bytes.Buffer{}
	}
	p := New(lexer.New(strings.NewReader(src), 0, cfg), NewOpTable(), cfg, util.NewReporter(cfg, out))
	p.Advance()
	return p
}

// parseAll parses every top-level item and renders it, stopping at the first error.
func parseAll(p *Parser) ([]string, error) {
	var out []string
	for {
		var node *ast.Node
		var err error
		switch tok := p.Current(); {
		case tok.Type == token.EOF:
			return out, nil
		case tok.Is(';'):
			p.Advance()
			continue
		case tok.Type == token.Def:
			node, err = p.ParseDefinition()
		case tok.Type == token.Extern:
			node, err = p.ParseExtern()
		default:
			node, err = p.ParseTopLevelExpr()
			if err == nil {
				node = node.Data.(ast.FunctionNode).Body
			}
		}
		if err != nil {
			return out, err
		}
		out = append(out, ast.String(node))
	}
}

func TestParseExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1+2*3", "(+ 1 (* 2 3))"},
		{"1*2+3", "(+ (* 1 2) 3)"},
		{"a-b-c", "(- (- a b) c)"},
		{"a<b+c*d", "(< a (+ b (* c d)))"},
		{"(1+2)*3", "(* (+ 1 2) 3)"},
		{"foo(1, x+1)", "(call foo 1 (+ x 1))"},
		{"foo()", "(call foo)"},
		{"if 0 then 1 end", "(if 0 1 0)"},
		{"if 1 then 2 else 3 end", "(if 1 2 3)"},
		{"for i = 1, i < 10, 1 do putchard(42) end", "(for i 1 (< i 10) 1 (call putchard 42))"},
		{"!x", "(! x)"},
		{"-(1)", "(- 1)"},
		{"1 - -2", "(- 1 (- 2))"},
		{".5", "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := parseAll(newParser(tt.src, nil, nil))
			if err != nil {
				t.Fatalf("parse %q: %v", tt.src, err)
			}
			if diff := cmp.Diff([]string{tt.want}, got); diff != "" {
				t.Errorf("AST mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"trailing comma", "foo(1,)", ErrUnexpectedToken},
		{"unclosed call", "foo(1 2)", ErrExpectedToken},
		{"unclosed paren", "(1+2", ErrExpectedToken},
		{"missing then", "if 1 2 end", ErrExpectedToken},
		{"missing end", "if 1 then 2", ErrExpectedToken},
		{"missing step", "for i = 1, i < 3 do x end", ErrExpectedToken},
		{"missing do", "for i = 1, i < 3, 1 x end", ErrExpectedToken},
		{"no expression", ")", ErrUnexpectedToken},
		{"precedence too high", "def binary& 101 (a b) a", ErrPrecedenceRange},
		{"precedence zero", "def binary& 0 (a b) a", ErrPrecedenceRange},
		{"fractional precedence", "def binary& 2.5 (a b) a", ErrPrecedenceRange},
		{"unary arity", "def unary!(a b) 0", ErrOperatorArity},
		{"binary arity", "def binary| 5 (a) 0", ErrOperatorArity},
		{"missing name", "extern (a)", ErrMalformedPrototype},
		{"missing operator", "def binary (a b) 0", ErrMalformedPrototype},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAll(newParser(tt.src, nil, nil))
			if !errors.Is(err, tt.want) {
				t.Fatalf("parse %q: got error %v, want %v", tt.src, err, tt.want)
			}
			var d *util.Diagnostic
			if !errors.As(err, &d) || d.Kind != util.KindParse {
				t.Errorf("error %v is not a parse diagnostic", err)
			}
		})
	}
}

func TestUserDefinedOperators(t *testing.T) {
	src := "def binary& 5 (a b) if a then b else 0 end\n1 & 2 + 3\n2 * 3 & 4"
	p := newParser(src, nil, nil)
	got, err := parseAll(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{
		"(def binary&(a b) (if a b 0))",
		"(& 1 (+ 2 3))",
		"(& (* 2 3) 4)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
	if prec := p.ops.Precedence('&'); prec != 5 {
		t.Errorf("precedence of '&' = %d, want 5", prec)
	}
}

func TestBinaryDefaultPrecedence(t *testing.T) {
	p := newParser("extern binary| (a b)\n1 | 2 * 3", nil, nil)
	got, err := parseAll(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if prec := p.ops.Precedence('|'); prec != ast.DefaultPrecedence {
		t.Errorf("precedence of '|' = %d, want %d", prec, ast.DefaultPrecedence)
	}
	if diff := cmp.Diff([]string{"binary|(a b)", "(| 1 (* 2 3))"}, got); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecedenceChangeWarning(t *testing.T) {
	var out bytes.Buffer
	p := newParser("extern binary+ 50 (a b)", nil, &out)
	if _, err := parseAll(p); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(out.String(), "[-Wprecedence]") {
		t.Errorf("expected precedence warning, got %q", out.String())
	}
	if prec := p.ops.Precedence('+'); prec != 50 {
		t.Errorf("precedence of '+' = %d, want 50", prec)
	}
}

func TestPrototypeParameterSeparators(t *testing.T) {
	commas := config.NewConfig()
	commas.SetFeature(config.FeatCommaParams, true)

	tests := []struct {
		name    string
		src     string
		cfg     *config.Config
		want    string
		wantErr error
	}{
		{name: "permissive spaces", src: "extern f(a b c)", want: "f(a b c)"},
		{name: "permissive rejects commas", src: "extern f(a, b)", wantErr: ErrExpectedToken},
		{name: "permissive empty", src: "extern f()", want: "f()"},
		{name: "commas accepted", src: "extern f(a, b, c)", cfg: commas, want: "f(a b c)"},
		{name: "commas required", src: "extern f(a b)", cfg: commas, wantErr: ErrExpectedToken},
		{name: "commas empty", src: "extern f()", cfg: commas, want: "f()"},
		{name: "commas trailing", src: "extern f(a,)", cfg: commas, wantErr: ErrExpectedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAll(newParser(tt.src, tt.cfg, nil))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff([]string{tt.want}, got); diff != "" {
				t.Errorf("prototype mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnaryOpsDisabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatUnaryOps, false)
	if _, err := parseAll(newParser("!x", cfg, nil)); !errors.Is(err, ErrUnexpectedToken) {
		t.Errorf("got %v, want ErrUnexpectedToken", err)
	}
}

func TestOpTable(t *testing.T) {
	ops := NewOpTable()
	for op, want := range map[rune]int{'<': 10, '+': 20, '-': 20, '*': 40} {
		if got := ops.Precedence(op); got != want {
			t.Errorf("Precedence(%q) = %d, want %d", op, got, want)
		}
	}
	if got := ops.Precedence('&'); got != -1 {
		t.Errorf("Precedence('&') = %d, want -1", got)
	}
	if old, existed := ops.Set('<', 15); !existed || old != 10 {
		t.Errorf("Set('<') = %d, %v, want 10, true", old, existed)
	}
	if got := ops.Precedence('<'); got != 15 {
		t.Errorf("Precedence('<') after Set = %d, want 15", got)
	}
}
