package codegen

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/xplshn/kaleido/pkg/ast"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/ir"
	"github.com/xplshn/kaleido/pkg/token"
	"github.com/xplshn/kaleido/pkg/util"
)

var (
	ErrUnboundVariable = errors.New("unbound variable")
	ErrUnknownFunction = errors.New("unknown function")
	ErrArityMismatch   = errors.New("arity mismatch")
	ErrRedefinition    = errors.New("function redefinition")
	ErrInvalidFunction = errors.New("function failed verification")
)

// Context lowers AST nodes into the active unit. The unit, the binding scope
// and the block being filled are the only state it mutates besides the
// registry it was given.
type Context struct {
	prog         *ir.Program
	registry     *Registry
	scope        map[string]ir.Value
	currentFunc  *ir.Func
	currentBlock *ir.BasicBlock
	tempCount    int
	labelCount   int
	cfg          *config.Config
	rep          *util.Reporter
	pipeline     *ir.Pipeline
	logger       *slog.Logger
}

func NewContext(cfg *config.Config, registry *Registry, rep *util.Reporter) *Context {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Context{
		prog:     ir.NewProgram(),
		registry: registry,
		scope:    make(map[string]ir.Value),
		cfg:      cfg,
		rep:      rep,
		pipeline: ir.DefaultPipeline(),
		logger:   slog.New(slog.DiscardHandler),
	}
}

func (ctx *Context) SetLogger(l *slog.Logger) {
	ctx.logger = l
	ctx.pipeline.Logger = l
}

func (ctx *Context) Registry() *Registry { return ctx.registry }

// TakeUnit hands out the active unit and starts a fresh, empty one.
func (ctx *Context) TakeUnit() *ir.Program {
	unit := ctx.prog
	ctx.prog = ir.NewProgram()
	return unit
}

func (ctx *Context) errorf(tok token.Token, sentinel error, format string, args ...any) error {
	return util.Errorf(util.KindCodegen, tok, sentinel, format, args...)
}

func (ctx *Context) warn(wt config.Warning, tok token.Token, format string, args ...any) {
	if ctx.rep != nil {
		ctx.rep.Warn(wt, tok, format, args...)
	}
}

// GenPrototype materializes the signature of a prototype node in the active
// unit. A declaration already in the unit is updated in place; a function
// with a body is returned unchanged.
func (ctx *Context) GenPrototype(node *ast.Node) (*ir.Func, error) {
	proto, ok := node.Data.(ast.PrototypeNode)
	if !ok {
		return nil, fmt.Errorf("GenPrototype: unexpected node type %d", node.Type)
	}
	return ctx.declare(proto), nil
}

func (ctx *Context) declare(proto ast.PrototypeNode) *ir.Func {
	params := make([]*ir.Param, len(proto.Params))
	for i, name := range proto.Params {
		params[i] = &ir.Param{Name: name, Typ: ir.TypeD, Val: &ir.Temporary{Name: name, ID: -1}}
	}

	if fn := ctx.prog.FindFunc(proto.Name); fn != nil {
		if fn.IsDeclaration() {
			fn.Params = params
		}
		return fn
	}
	fn := &ir.Func{Name: proto.Name, Params: params, ReturnType: ir.TypeD}
	ctx.prog.AddFunc(fn)
	return fn
}

// GenExtern records an extern prototype in the registry and declares it in
// the active unit. A previously generated body stays recorded unless the
// extern changes the arity, in which case the name is free to be defined again.
func (ctx *Context) GenExtern(node *ast.Node) (*ir.Func, error) {
	proto, ok := node.Data.(ast.PrototypeNode)
	if !ok {
		return nil, fmt.Errorf("GenExtern: unexpected node type %d", node.Type)
	}
	old, exists := ctx.registry.Lookup(proto.Name)
	arityChanged := exists && len(old.Proto.Params) != len(proto.Params)
	if arityChanged {
		ctx.warn(config.WarnExternOverride, node.Tok, "extern '%s' changes its arity from %d to %d", proto.Name, len(old.Proto.Params), len(proto.Params))
	}
	ctx.registry.Set(proto, node.Tok, !arityChanged)
	return ctx.GenPrototype(node)
}

// GenFunction generates a definition into the active unit. On failure the
// function is removed from the unit and its registry entry has no body.
func (ctx *Context) GenFunction(node *ast.Node) (*ir.Func, error) {
	def, ok := node.Data.(ast.FunctionNode)
	if !ok {
		return nil, fmt.Errorf("GenFunction: unexpected node type %d", node.Type)
	}
	proto := def.Proto.Data.(ast.PrototypeNode)

	if entry, exists := ctx.registry.Lookup(proto.Name); exists && entry.Defined {
		return nil, ctx.errorf(def.Proto.Tok, ErrRedefinition, "Function '%s' cannot be redefined", proto.Name)
	}
	if fn := ctx.prog.FindFunc(proto.Name); fn != nil && !fn.IsDeclaration() {
		return nil, ctx.errorf(def.Proto.Tok, ErrRedefinition, "Function '%s' cannot be redefined", proto.Name)
	}

	ctx.registry.Set(proto, def.Proto.Tok, false)
	fn := ctx.declare(proto)

	ctx.currentFunc = fn
	ctx.tempCount, ctx.labelCount = 0, 0
	ctx.scope = make(map[string]ir.Value, len(fn.Params))
	for _, p := range fn.Params {
		ctx.scope[p.Name] = p.Val
	}

	ctx.startBlock(&ir.Label{Name: "start"})
	result, err := ctx.codegenExpr(def.Body)
	if err != nil {
		ctx.discard(fn)
		return nil, err
	}
	ctx.emitRet(result)

	if err := ctx.finish(fn, node.Tok); err != nil {
		ctx.discard(fn)
		return nil, err
	}
	ctx.registry.SetDefined(proto.Name, true)
	return fn, nil
}

// finish verifies fn and runs the optimization pipeline over it.
func (ctx *Context) finish(fn *ir.Func, tok token.Token) error {
	verify := ctx.cfg == nil || ctx.cfg.IsFeatureEnabled(config.FeatVerify)
	if verify {
		if err := ir.Verify(fn, ctx.prog); err != nil {
			return util.Errorf(util.KindCodegen, tok, ErrInvalidFunction, "%v", err)
		}
	}
	if ctx.cfg == nil || ctx.cfg.IsFeatureEnabled(config.FeatOptimize) {
		rounds := ctx.pipeline.Run(fn)
		ctx.logger.Debug("optimized function", "func", fn.Name, "rounds", rounds, "blocks", len(fn.Blocks))
		if verify {
			if err := ir.Verify(fn, ctx.prog); err != nil {
				return util.Errorf(util.KindCodegen, tok, ErrInvalidFunction, "after optimization: %v", err)
			}
		}
	}
	return nil
}

func (ctx *Context) discard(fn *ir.Func) {
	fn.Blocks = nil
	ctx.prog.RemoveFunc(fn)
	ctx.currentFunc, ctx.currentBlock = nil, nil
}

// resolveFunction finds name in the active unit, or declares it there from
// the registry.
func (ctx *Context) resolveFunction(tok token.Token, name string) (*ir.Func, error) {
	if fn := ctx.prog.FindFunc(name); fn != nil {
		return fn, nil
	}
	if entry, ok := ctx.registry.Lookup(name); ok {
		return ctx.declare(entry.Proto), nil
	}
	return nil, ctx.errorf(tok, ErrUnknownFunction, "Unknown function '%s'", name)
}

func (ctx *Context) codegenExpr(node *ast.Node) (ir.Value, error) {
	switch d := node.Data.(type) {
	case ast.NumberNode:
		return &ir.Const{Value: d.Value, Typ: ir.TypeD}, nil
	case ast.VariableNode:
		v, ok := ctx.scope[d.Name]
		if !ok {
			return nil, ctx.errorf(node.Tok, ErrUnboundVariable, "Unknown variable name '%s'", d.Name)
		}
		return v, nil
	case ast.UnaryNode:
		return ctx.codegenUnary(node, d)
	case ast.BinaryOpNode:
		return ctx.codegenBinary(node, d)
	case ast.CallNode:
		return ctx.codegenCall(node, d)
	case ast.IfNode:
		return ctx.codegenIf(d)
	case ast.ForNode:
		return ctx.codegenFor(node, d)
	case ast.PrototypeNode, ast.FunctionNode:
		return nil, fmt.Errorf("codegenExpr: %T is not an expression", d)
	}
	return nil, fmt.Errorf("codegenExpr: unhandled node type %d", node.Type)
}

func (ctx *Context) codegenUnary(node *ast.Node, d ast.UnaryNode) (ir.Value, error) {
	operand, err := ctx.codegenExpr(d.Operand)
	if err != nil {
		return nil, err
	}
	return ctx.callOperator(node.Tok, ast.OperatorName(ast.KindUnary, d.Op), operand)
}

func (ctx *Context) codegenBinary(node *ast.Node, d ast.BinaryOpNode) (ir.Value, error) {
	l, err := ctx.codegenExpr(d.Left)
	if err != nil {
		return nil, err
	}
	r, err := ctx.codegenExpr(d.Right)
	if err != nil {
		return nil, err
	}

	switch d.Op {
	case '+':
		return ctx.emitBinary(ir.OpAdd, "add", l, r), nil
	case '-':
		return ctx.emitBinary(ir.OpSub, "sub", l, r), nil
	case '*':
		return ctx.emitBinary(ir.OpMul, "mul", l, r), nil
	case '<':
		return ctx.emitLess(l, r), nil
	}
	return ctx.callOperator(node.Tok, ast.OperatorName(ast.KindBinary, d.Op), l, r)
}

func (ctx *Context) callOperator(tok token.Token, name string, args ...ir.Value) (ir.Value, error) {
	fn, err := ctx.resolveFunction(tok, name)
	if err != nil {
		return nil, err
	}
	if len(fn.Params) != len(args) {
		return nil, ctx.errorf(tok, ErrArityMismatch, "Operator function '%s' takes %d argument(s), %d passed", name, len(fn.Params), len(args))
	}
	return ctx.emitCall(fn, args), nil
}

func (ctx *Context) codegenCall(node *ast.Node, d ast.CallNode) (ir.Value, error) {
	fn, err := ctx.resolveFunction(node.Tok, d.Callee)
	if err != nil {
		return nil, err
	}
	if len(fn.Params) != len(d.Args) {
		return nil, ctx.errorf(node.Tok, ErrArityMismatch, "Function '%s' takes %d argument(s), %d passed", d.Callee, len(fn.Params), len(d.Args))
	}

	args := make([]ir.Value, 0, len(d.Args))
	for _, argNode := range d.Args {
		arg, err := ctx.codegenExpr(argNode)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return ctx.emitCall(fn, args), nil
}

func (ctx *Context) codegenIf(d ast.IfNode) (ir.Value, error) {
	cond, err := ctx.codegenExpr(d.Cond)
	if err != nil {
		return nil, err
	}
	pred := ctx.emitTruth(cond)

	thenLabel, elseLabel, mergeLabel := ctx.newLabel("then"), ctx.newLabel("else"), ctx.newLabel("ifcont")
	ctx.emitJnz(pred, thenLabel, elseLabel)

	ctx.startBlock(thenLabel)
	thenVal, err := ctx.codegenExpr(d.Then)
	if err != nil {
		return nil, err
	}
	thenEnd := ctx.currentBlock.Label
	ctx.emitJmp(mergeLabel)

	ctx.startBlock(elseLabel)
	elseVal, err := ctx.codegenExpr(d.Else)
	if err != nil {
		return nil, err
	}
	elseEnd := ctx.currentBlock.Label
	ctx.emitJmp(mergeLabel)

	ctx.startBlock(mergeLabel)
	res := ctx.newTemp("iftmp")
	ctx.addInstr(&ir.Instruction{
		Op: ir.OpPhi, Typ: ir.TypeD, Result: res,
		Args: []ir.Value{thenEnd, thenVal, elseEnd, elseVal},
	})
	return res, nil
}

func (ctx *Context) codegenFor(node *ast.Node, d ast.ForNode) (ir.Value, error) {
	start, err := ctx.codegenExpr(d.Start)
	if err != nil {
		return nil, err
	}
	preheader := ctx.currentBlock.Label

	loopLabel, bodyLabel, afterLabel := ctx.newLabel("loop"), ctx.newLabel("body"), ctx.newLabel("afterloop")
	ctx.emitJmp(loopLabel)

	ctx.startBlock(loopLabel)
	induction := ctx.newTemp(d.Var)
	phi := &ir.Instruction{Op: ir.OpPhi, Typ: ir.TypeD, Result: induction, Args: []ir.Value{preheader, start}}
	ctx.addInstr(phi)

	old, shadowed := ctx.scope[d.Var]
	if shadowed {
		ctx.warn(config.WarnShadow, node.Tok, "Loop variable '%s' shadows an existing binding", d.Var)
	}
	ctx.scope[d.Var] = induction
	defer func() {
		if shadowed {
			ctx.scope[d.Var] = old
		} else {
			delete(ctx.scope, d.Var)
		}
	}()

	cond, err := ctx.codegenExpr(d.Cond)
	if err != nil {
		return nil, err
	}
	ctx.emitJnz(ctx.emitTruth(cond), bodyLabel, afterLabel)

	ctx.startBlock(bodyLabel)
	if _, err := ctx.codegenExpr(d.Body); err != nil {
		return nil, err
	}
	step, err := ctx.codegenExpr(d.Step)
	if err != nil {
		return nil, err
	}
	next := ctx.emitBinary(ir.OpAdd, "next", induction, step)
	phi.Args = append(phi.Args, ctx.currentBlock.Label, next)
	ctx.emitJmp(loopLabel)

	ctx.startBlock(afterLabel)
	return zero(), nil
}
