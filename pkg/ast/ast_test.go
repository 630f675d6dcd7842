package ast

import (
	"testing"

	"github.com/xplshn/kaleido/pkg/token"
)

func TestString(t *testing.T) {
	var tok token.Token
	num := func(v float64) *Node { return NewNumber(tok, v) }
	x := NewVariable(tok, "x")

	tests := []struct {
		node *Node
		want string
	}{
		{NewBinaryOp(tok, '+', num(1), NewBinaryOp(tok, '*', num(2), num(3.5))), "(+ 1 (* 2 3.5))"},
		{NewUnary(tok, '!', x), "(! x)"},
		{NewCall(tok, "f", []*Node{x, num(2)}), "(call f x 2)"},
		{NewIf(tok, x, num(1), nil), "(if x 1 0)"},
		{NewFor(tok, "i", num(0), NewBinaryOp(tok, '<', NewVariable(tok, "i"), num(3)), nil, x), "(for i 0 (< i 3) <nil> x)"},
		{NewFunction(tok, NewPrototype(tok, "binary|", []string{"a", "b"}, KindBinary, 5), num(0)), "(def binary|(a b) 0)"},
	}
	for _, tt := range tests {
		if got := String(tt.node); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestOperatorNames(t *testing.T) {
	if got := OperatorName(KindBinary, '&'); got != "binary&" {
		t.Errorf("OperatorName(binary, &) = %q", got)
	}
	if got := OperatorName(KindUnary, '-'); got != "unary-" {
		t.Errorf("OperatorName(unary, -) = %q", got)
	}
	for _, tt := range []struct {
		proto PrototypeNode
		want  rune
	}{
		{PrototypeNode{Name: "binary&", Kind: KindBinary}, '&'},
		{PrototypeNode{Name: "unary!", Kind: KindUnary}, '!'},
		{PrototypeNode{Name: "fib", Kind: KindPlain}, 0},
	} {
		if got := tt.proto.OperatorSymbol(); got != tt.want {
			t.Errorf("%s: OperatorSymbol() = %q, want %q", tt.proto.Name, got, tt.want)
		}
	}
}
