// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"strconv"
	"strings"

	"github.com/xplshn/kaleido/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

const (
	// Expressions
	Number NodeType = iota
	Variable
	Unary
	BinaryOp
	Call
	If
	For

	// Top level
	Prototype
	Function
)

// Node represents a node in the Abstract Syntax Tree. Every subtree is owned
// by exactly one parent.
type Node struct {
	Type NodeType
	Tok  token.Token
	Data any
}

type OpKind int

const (
	KindPlain OpKind = iota
	KindUnary
	KindBinary
)

// DefaultPrecedence is used by binary prototypes without a precedence literal.
const DefaultPrecedence = 30

// --- Node Data Structs ---
type NumberNode struct{ Value float64 }
type VariableNode struct{ Name string }
type UnaryNode struct {
	Op      rune
	Operand *Node
}
type BinaryOpNode struct {
	Op          rune
	Left, Right *Node
}
type CallNode struct {
	Callee string
	Args   []*Node
}
type IfNode struct{ Cond, Then, Else *Node }
type ForNode struct {
	Var   string
	Start *Node
	Cond  *Node
	Step  *Node
	Body  *Node
}
type PrototypeNode struct {
	Name       string
	Params     []string
	Kind       OpKind
	Precedence int
}
type FunctionNode struct{ Proto, Body *Node }

// --- Node Constructors ---

func NewNumber(tok token.Token, value float64) *Node {
	return &Node{Type: Number, Tok: tok, Data: NumberNode{Value: value}}
}
func NewVariable(tok token.Token, name string) *Node {
	return &Node{Type: Variable, Tok: tok, Data: VariableNode{Name: name}}
}
func NewUnary(tok token.Token, op rune, operand *Node) *Node {
	return &Node{Type: Unary, Tok: tok, Data: UnaryNode{Op: op, Operand: operand}}
}
func NewBinaryOp(tok token.Token, op rune, left, right *Node) *Node {
	return &Node{Type: BinaryOp, Tok: tok, Data: BinaryOpNode{Op: op, Left: left, Right: right}}
}
func NewCall(tok token.Token, callee string, args []*Node) *Node {
	return &Node{Type: Call, Tok: tok, Data: CallNode{Callee: callee, Args: args}}
}

// NewIf builds a conditional. A nil elseExpr becomes the literal 0.
func NewIf(tok token.Token, cond, thenExpr, elseExpr *Node) *Node {
	if elseExpr == nil {
		elseExpr = NewNumber(tok, 0)
	}
	return &Node{Type: If, Tok: tok, Data: IfNode{Cond: cond, Then: thenExpr, Else: elseExpr}}
}
func NewFor(tok token.Token, varName string, start, cond, step, body *Node) *Node {
	return &Node{Type: For, Tok: tok, Data: ForNode{Var: varName, Start: start, Cond: cond, Step: step, Body: body}}
}
func NewPrototype(tok token.Token, name string, params []string, kind OpKind, precedence int) *Node {
	return &Node{Type: Prototype, Tok: tok, Data: PrototypeNode{Name: name, Params: params, Kind: kind, Precedence: precedence}}
}
func NewFunction(tok token.Token, proto, body *Node) *Node {
	return &Node{Type: Function, Tok: tok, Data: FunctionNode{Proto: proto, Body: body}}
}

// OperatorName is the function name an operator symbol desugars to.
func OperatorName(kind OpKind, op rune) string {
	switch kind {
	case KindUnary:
		return "unary" + string(op)
	case KindBinary:
		return "binary" + string(op)
	}
	return string(op)
}

// OperatorSymbol returns the symbol of a unary or binary prototype.
func (p PrototypeNode) OperatorSymbol() rune {
	if p.Kind == KindPlain {
		return 0
	}
	for _, r := range strings.TrimPrefix(strings.TrimPrefix(p.Name, "unary"), "binary") {
		return r
	}
	return 0
}

// String renders n as an s-expression, e.g. (+ 1 (* 2 3)).
func String(n *Node) string {
	var sb strings.Builder
	write(&sb, n)
	return sb.String()
}

func write(sb *strings.Builder, n *Node) {
	if n == nil {
		sb.WriteString("<nil>")
		return
	}
	switch d := n.Data.(type) {
	case NumberNode:
		sb.WriteString(strconv.FormatFloat(d.Value, 'g', -1, 64))
	case VariableNode:
		sb.WriteString(d.Name)
	case UnaryNode:
		sb.WriteString("(" + string(d.Op) + " ")
		write(sb, d.Operand)
		sb.WriteByte(')')
	case BinaryOpNode:
		sb.WriteString("(" + string(d.Op) + " ")
		write(sb, d.Left)
		sb.WriteByte(' ')
		write(sb, d.Right)
		sb.WriteByte(')')
	case CallNode:
		sb.WriteString("(call " + d.Callee)
		for _, arg := range d.Args {
			sb.WriteByte(' ')
			write(sb, arg)
		}
		sb.WriteByte(')')
	case IfNode:
		sb.WriteString("(if ")
		write(sb, d.Cond)
		sb.WriteByte(' ')
		write(sb, d.Then)
		sb.WriteByte(' ')
		write(sb, d.Else)
		sb.WriteByte(')')
	case ForNode:
		sb.WriteString("(for " + d.Var)
		for _, part := range []*Node{d.Start, d.Cond, d.Step, d.Body} {
			sb.WriteByte(' ')
			write(sb, part)
		}
		sb.WriteByte(')')
	case PrototypeNode:
		sb.WriteString(d.Name + "(" + strings.Join(d.Params, " ") + ")")
	case FunctionNode:
		sb.WriteString("(def ")
		write(sb, d.Proto)
		sb.WriteByte(' ')
		write(sb, d.Body)
		sb.WriteByte(')')
	default:
		sb.WriteString("<unknown>")
	}
}
