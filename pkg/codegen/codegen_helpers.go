package codegen

import (
	"strconv"

	"github.com/xplshn/kaleido/pkg/ir"
)

func (ctx *Context) newTemp(hint string) *ir.Temporary {
	t := &ir.Temporary{Name: hint, ID: ctx.tempCount}
	ctx.tempCount++
	return t
}

func (ctx *Context) newLabel(hint string) *ir.Label {
	l := &ir.Label{Name: hint + strconv.Itoa(ctx.labelCount)}
	ctx.labelCount++
	return l
}

func (ctx *Context) startBlock(label *ir.Label) {
	block := &ir.BasicBlock{Label: label}
	ctx.currentFunc.Blocks = append(ctx.currentFunc.Blocks, block)
	ctx.currentBlock = block
}

func (ctx *Context) addInstr(instr *ir.Instruction) {
	ctx.currentBlock.Instructions = append(ctx.currentBlock.Instructions, instr)
}

func (ctx *Context) emitBinary(op ir.Op, hint string, l, r ir.Value) *ir.Temporary {
	res := ctx.newTemp(hint)
	ctx.addInstr(&ir.Instruction{Op: op, Typ: ir.TypeD, Result: res, Args: []ir.Value{l, r}})
	return res
}

// emitLess compares two scalars and converts the boolean result back to a scalar.
func (ctx *Context) emitLess(l, r ir.Value) *ir.Temporary {
	cmp := ctx.newTemp("cmp")
	ctx.addInstr(&ir.Instruction{Op: ir.OpCLt, Typ: ir.TypeW, OperandType: ir.TypeD, Result: cmp, Args: []ir.Value{l, r}})
	res := ctx.newTemp("bool")
	ctx.addInstr(&ir.Instruction{Op: ir.OpSWToF, Typ: ir.TypeD, OperandType: ir.TypeW, Result: res, Args: []ir.Value{cmp}})
	return res
}

// emitTruth tests a scalar against zero, yielding a word usable by jnz.
func (ctx *Context) emitTruth(v ir.Value) *ir.Temporary {
	pred := ctx.newTemp("cond")
	ctx.addInstr(&ir.Instruction{Op: ir.OpCNe, Typ: ir.TypeW, OperandType: ir.TypeD, Result: pred, Args: []ir.Value{v, zero()}})
	return pred
}

func (ctx *Context) emitCall(fn *ir.Func, args []ir.Value) *ir.Temporary {
	res := ctx.newTemp("call")
	ctx.addInstr(&ir.Instruction{
		Op: ir.OpCall, Typ: ir.TypeD, Result: res,
		Args: append([]ir.Value{&ir.Global{Name: fn.Name}}, args...),
	})
	return res
}

func (ctx *Context) emitJmp(target *ir.Label) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{target}})
}

func (ctx *Context) emitJnz(cond ir.Value, t, f *ir.Label) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{cond, t, f}})
}

func (ctx *Context) emitRet(v ir.Value) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpRet, Args: []ir.Value{v}})
}

func zero() *ir.Const { return &ir.Const{Value: 0, Typ: ir.TypeD} }
