package parser

import (
	"errors"
	"math"
	"strconv"

	"github.com/xplshn/kaleido/pkg/ast"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/lexer"
	"github.com/xplshn/kaleido/pkg/token"
	"github.com/xplshn/kaleido/pkg/util"
)

var (
	ErrUnexpectedToken    = errors.New("unexpected token")
	ErrExpectedToken      = errors.New("expected token")
	ErrMalformedPrototype = errors.New("malformed prototype")
	ErrPrecedenceRange    = errors.New("precedence out of range")
	ErrOperatorArity      = errors.New("invalid number of operands for operator")
)

// AnonExprName is the name of the prototype wrapping a bare top-level expression.
const AnonExprName = "__anon_expr"

// Parser holds the state for the parsing process. It pulls tokens from the
// lexer one at a time and keeps exactly one token of lookahead.
type Parser struct {
	lex      *lexer.Lexer
	current  token.Token
	previous token.Token
	ops      *OpTable
	cfg      *config.Config
	rep      *util.Reporter
}

// New creates a parser over l. The lookahead slot is empty until the first
// call to Advance.
func New(l *lexer.Lexer, ops *OpTable, cfg *config.Config, rep *util.Reporter) *Parser {
	if ops == nil {
		ops = NewOpTable()
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Parser{lex: l, ops: ops, cfg: cfg, rep: rep}
}

func (p *Parser) Current() token.Token { return p.current }

// Advance replaces the lookahead with the next token from the lexer.
func (p *Parser) Advance() {
	p.previous = p.current
	p.current = p.lex.Next()
}

func (p *Parser) check(tokType token.Type) bool { return p.current.Type == tokType }

func (p *Parser) checkChar(ch rune) bool { return p.current.Is(ch) }

func (p *Parser) errorf(sentinel error, format string, args ...any) error {
	return util.Errorf(util.KindParse, p.current, sentinel, format, args...)
}

func (p *Parser) expect(tokType token.Type, what string) error {
	if !p.check(tokType) {
		return p.errorf(ErrExpectedToken, "Expected '%s' %s, found %s", tokType, what, p.current)
	}
	p.Advance()
	return nil
}

func (p *Parser) expectChar(ch rune, what string) error {
	if !p.checkChar(ch) {
		return p.errorf(ErrExpectedToken, "Expected '%c' %s, found %s", ch, what, p.current)
	}
	p.Advance()
	return nil
}

// ParseDefinition parses 'def' prototype expression.
func (p *Parser) ParseDefinition() (*ast.Node, error) {
	tok := p.current
	if err := p.expect(token.Def, "to start a definition"); err != nil {
		return nil, err
	}
	proto, err := p.parsePrototype()
	if err != nil {
		return nil, err
	}
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return ast.NewFunction(tok, proto, body), nil
}

// ParseExtern parses 'extern' prototype.
func (p *Parser) ParseExtern() (*ast.Node, error) {
	if err := p.expect(token.Extern, "to start a declaration"); err != nil {
		return nil, err
	}
	return p.parsePrototype()
}

// ParseTopLevelExpr wraps a bare expression in a nullary function named
// AnonExprName.
func (p *Parser) ParseTopLevelExpr() (*ast.Node, error) {
	tok := p.current
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	proto := ast.NewPrototype(tok, AnonExprName, nil, ast.KindPlain, 0)
	return ast.NewFunction(tok, proto, body), nil
}

// Expression Parsing

func (p *Parser) ParseExpression() (*ast.Node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return p.parseBinOpRHS(0, lhs)
}

// tokPrecedence returns the precedence of the lookahead as a binary operator,
// or -1 when it is not one.
func (p *Parser) tokPrecedence() int {
	if p.current.Type != token.Char {
		return -1
	}
	return p.ops.Precedence(p.current.Rune())
}

func (p *Parser) parseBinOpRHS(minPrec int, lhs *ast.Node) (*ast.Node, error) {
	for {
		prec := p.tokPrecedence()
		if prec < minPrec {
			return lhs, nil
		}

		opTok := p.current
		p.Advance()

		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		if prec < p.tokPrecedence() {
			if rhs, err = p.parseBinOpRHS(prec+1, rhs); err != nil {
				return nil, err
			}
		}
		lhs = ast.NewBinaryOp(opTok, opTok.Rune(), lhs, rhs)
	}
}

func isUnaryOperator(tok token.Token) bool {
	if tok.Type != token.Char {
		return false
	}
	switch tok.Rune() {
	case '(', ',', ')', ';':
		return false
	}
	return true
}

func (p *Parser) parseUnary() (*ast.Node, error) {
	if !p.cfg.IsFeatureEnabled(config.FeatUnaryOps) || !isUnaryOperator(p.current) {
		return p.parsePrimary()
	}
	opTok := p.current
	p.Advance()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return ast.NewUnary(opTok, opTok.Rune(), operand), nil
}

func (p *Parser) parsePrimary() (*ast.Node, error) {
	switch {
	case p.check(token.Ident):
		return p.parseIdentifier()
	case p.check(token.Number):
		return p.parseNumber()
	case p.checkChar('('):
		return p.parseParen()
	case p.check(token.If):
		return p.parseIf()
	case p.check(token.For):
		return p.parseFor()
	}
	return nil, p.errorf(ErrUnexpectedToken, "Expected an expression, found %s", p.current)
}

func (p *Parser) parseNumber() (*ast.Node, error) {
	tok := p.current
	val, err := strconv.ParseFloat(tok.Value, 64)
	if err != nil {
		return nil, p.errorf(ErrUnexpectedToken, "Malformed number literal '%s'", tok.Value)
	}
	p.Advance()
	return ast.NewNumber(tok, val), nil
}

func (p *Parser) parseParen() (*ast.Node, error) {
	p.Advance()
	expr, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar(')', "after expression"); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Parser) parseIdentifier() (*ast.Node, error) {
	tok := p.current
	p.Advance()
	if !p.checkChar('(') {
		return ast.NewVariable(tok, tok.Value), nil
	}
	p.Advance()

	var args []*ast.Node
	if !p.checkChar(')') {
		for {
			arg, err := p.ParseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.checkChar(')') {
				break
			}
			if !p.checkChar(',') {
				return nil, p.errorf(ErrExpectedToken, "Expected ')' or ',' in argument list, found %s", p.current)
			}
			p.Advance()
			if p.checkChar(')') {
				return nil, p.errorf(ErrUnexpectedToken, "Trailing ',' in argument list")
			}
		}
	}
	p.Advance()
	return ast.NewCall(tok, tok.Value, args), nil
}

func (p *Parser) parseIf() (*ast.Node, error) {
	tok := p.current
	p.Advance()

	cond, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.Then, "after 'if' condition"); err != nil {
		return nil, err
	}
	thenExpr, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}

	var elseExpr *ast.Node
	if p.check(token.Else) {
		p.Advance()
		if elseExpr, err = p.ParseExpression(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(token.End, "to close 'if'"); err != nil {
		return nil, err
	}
	return ast.NewIf(tok, cond, thenExpr, elseExpr), nil
}

func (p *Parser) parseFor() (*ast.Node, error) {
	tok := p.current
	p.Advance()

	if !p.check(token.Ident) {
		return nil, p.errorf(ErrExpectedToken, "Expected identifier after 'for', found %s", p.current)
	}
	varName := p.current.Value
	p.Advance()

	if err := p.expectChar('=', "after loop variable"); err != nil {
		return nil, err
	}
	start, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar(',', "after loop start value"); err != nil {
		return nil, err
	}
	cond, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar(',', "after loop condition"); err != nil {
		return nil, err
	}
	step, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.Do, "after loop step"); err != nil {
		return nil, err
	}
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.End, "to close 'for'"); err != nil {
		return nil, err
	}
	return ast.NewFor(tok, varName, start, cond, step, body), nil
}

// Prototype Parsing

func (p *Parser) parsePrototype() (*ast.Node, error) {
	tok := p.current
	var name string
	kind := ast.KindPlain
	prec := 0

	switch p.current.Type {
	case token.Ident:
		name = p.current.Value
		p.Advance()
	case token.Unary:
		p.Advance()
		if !isUnaryOperator(p.current) {
			return nil, p.errorf(ErrMalformedPrototype, "Expected unary operator, found %s", p.current)
		}
		kind, name = ast.KindUnary, ast.OperatorName(ast.KindUnary, p.current.Rune())
		p.Advance()
	case token.Binary:
		p.Advance()
		if !isUnaryOperator(p.current) {
			return nil, p.errorf(ErrMalformedPrototype, "Expected binary operator, found %s", p.current)
		}
		kind, name = ast.KindBinary, ast.OperatorName(ast.KindBinary, p.current.Rune())
		p.Advance()

		prec = ast.DefaultPrecedence
		if p.check(token.Number) {
			var err error
			if prec, err = p.parsePrecedence(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, p.errorf(ErrMalformedPrototype, "Expected function name in prototype, found %s", p.current)
	}

	if err := p.expectChar('(', "in prototype"); err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar(')', "to close prototype parameters"); err != nil {
		return nil, err
	}

	if want := map[ast.OpKind]int{ast.KindUnary: 1, ast.KindBinary: 2}[kind]; kind != ast.KindPlain && len(params) != want {
		return nil, util.Errorf(util.KindParse, tok, ErrOperatorArity, "Operator '%s' takes %d operand(s), got %d", name, want, len(params))
	}

	proto := ast.NewPrototype(tok, name, params, kind, prec)
	if kind == ast.KindBinary {
		p.registerOperator(tok, proto.Data.(ast.PrototypeNode).OperatorSymbol(), prec)
	}
	return proto, nil
}

func (p *Parser) parsePrecedence() (int, error) {
	val, err := strconv.ParseFloat(p.current.Value, 64)
	if err != nil || val != math.Trunc(val) {
		return 0, p.errorf(ErrPrecedenceRange, "Precedence must be an integer in [%d, %d], got '%s'", MinPrecedence, MaxPrecedence, p.current.Value)
	}
	if val < MinPrecedence || val > MaxPrecedence {
		return 0, p.errorf(ErrPrecedenceRange, "Precedence must be in [%d, %d], got %s", MinPrecedence, MaxPrecedence, p.current.Value)
	}
	p.Advance()
	return int(val), nil
}

// parseParams reads parameter names up to the closing ')'. Without the
// comma-params feature any non-identifier ends the list.
func (p *Parser) parseParams() ([]string, error) {
	var params []string
	if !p.cfg.IsFeatureEnabled(config.FeatCommaParams) {
		for p.check(token.Ident) {
			params = append(params, p.current.Value)
			p.Advance()
		}
		return params, nil
	}

	if p.checkChar(')') {
		return params, nil
	}
	for {
		if !p.check(token.Ident) {
			return nil, p.errorf(ErrExpectedToken, "Expected parameter name, found %s", p.current)
		}
		params = append(params, p.current.Value)
		p.Advance()
		if !p.checkChar(',') {
			return params, nil
		}
		p.Advance()
	}
}

func (p *Parser) registerOperator(tok token.Token, op rune, prec int) {
	old, existed := p.ops.Set(op, prec)
	if existed && old != prec && p.rep != nil {
		p.rep.Warn(config.WarnPrecedence, tok, "Precedence of operator '%c' changed from %d to %d", op, old, prec)
	}
}
