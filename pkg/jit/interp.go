package jit

import (
	"context"
	"fmt"
	"io"

	"github.com/xplshn/kaleido/pkg/ir"
)

// MaxCallDepth bounds recursion in the interpreter.
const MaxCallDepth = 10000

// Interp executes IR units directly. It needs no toolchain and is what the
// session falls back to when no C compiler is available.
type Interp struct {
	units
	out io.Writer
}

// NewInterp returns an interpreter whose builtins write to out.
func NewInterp(out io.Writer) *Interp {
	if out == nil {
		out = io.Discard
	}
	return &Interp{units: newUnits(), out: out}
}

func (in *Interp) Load(unit *ir.Program) (Handle, error) { return in.load(unit), nil }

func (in *Interp) Unload(h Handle) error { return in.unload(h) }

func (in *Interp) Close() error {
	in.units = newUnits()
	return nil
}

func (in *Interp) Lookup(name string) error {
	if in.definition(name) != nil || IsBuiltin(name) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
}

func (in *Interp) Call(ctx context.Context, name string) (float64, error) {
	return in.invoke(ctx, name, nil, 0)
}

func (in *Interp) invoke(ctx context.Context, name string, args []float64, depth int) (float64, error) {
	if depth > MaxCallDepth {
		return 0, fmt.Errorf("%w: %d frames calling %s", ErrStackOverflow, depth, name)
	}
	if fn := in.definition(name); fn != nil {
		if len(fn.Params) != len(args) {
			return 0, fmt.Errorf("%s expects %d arguments, got %d", name, len(fn.Params), len(args))
		}
		return in.exec(ctx, fn, args, depth)
	}
	if b, ok := builtins[name]; ok {
		if b.arity != len(args) {
			return 0, fmt.Errorf("%s expects %d arguments, got %d", name, b.arity, len(args))
		}
		return b.fn(in.out, args), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
}

type frame struct {
	env map[string]float64
}

func (f *frame) value(v ir.Value) (float64, error) {
	switch val := v.(type) {
	case *ir.Const:
		return val.Value, nil
	case *ir.Temporary:
		x, ok := f.env[val.String()]
		if !ok {
			return 0, fmt.Errorf("%w: %s used before definition", ir.ErrInvalidIR, val)
		}
		return x, nil
	}
	return 0, fmt.Errorf("%w: %v is not a scalar operand", ir.ErrInvalidIR, v)
}

func (in *Interp) exec(ctx context.Context, fn *ir.Func, args []float64, depth int) (float64, error) {
	if len(fn.Blocks) == 0 {
		return 0, fmt.Errorf("%w: %s has no body", ErrSymbolNotFound, fn.Name)
	}
	f := &frame{env: make(map[string]float64)}
	for i, p := range fn.Params {
		f.env[p.Val.String()] = args[i]
	}

	block, prev := fn.Blocks[0], ""
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		// Phis read the values live on entry, so collect them before binding.
		start := 0
		var phis []float64
		for ; start < len(block.Instructions) && block.Instructions[start].Op == ir.OpPhi; start++ {
			instr := block.Instructions[start]
			found := false
			for i := 0; i+1 < len(instr.Args); i += 2 {
				if instr.Args[i].(*ir.Label).Name != prev {
					continue
				}
				x, err := f.value(instr.Args[i+1])
				if err != nil {
					return 0, err
				}
				phis = append(phis, x)
				found = true
				break
			}
			if !found {
				return 0, fmt.Errorf("%w: phi in @%s has no edge from @%s", ir.ErrInvalidIR, block.Label.Name, prev)
			}
		}
		for i, x := range phis {
			f.env[block.Instructions[i].Result.String()] = x
		}

		var next string
	body:
		for _, instr := range block.Instructions[start:] {
			switch instr.Op {
			case ir.OpJmp:
				next = instr.Args[0].(*ir.Label).Name
				break body
			case ir.OpJnz:
				c, err := f.value(instr.Args[0])
				if err != nil {
					return 0, err
				}
				if c != 0 {
					next = instr.Args[1].(*ir.Label).Name
				} else {
					next = instr.Args[2].(*ir.Label).Name
				}
				break body
			case ir.OpRet:
				if len(instr.Args) == 0 {
					return 0, nil
				}
				return f.value(instr.Args[0])
			case ir.OpCall:
				callee, ok := instr.Args[0].(*ir.Global)
				if !ok {
					return 0, fmt.Errorf("%w: call target %v", ir.ErrInvalidIR, instr.Args[0])
				}
				vals := make([]float64, len(instr.Args)-1)
				for i, a := range instr.Args[1:] {
					x, err := f.value(a)
					if err != nil {
						return 0, err
					}
					vals[i] = x
				}
				r, err := in.invoke(ctx, callee.Name, vals, depth+1)
				if err != nil {
					return 0, err
				}
				if instr.Result != nil {
					f.env[instr.Result.String()] = r
				}
			default:
				r, err := f.arith(instr)
				if err != nil {
					return 0, err
				}
				f.env[instr.Result.String()] = r
			}
		}
		if next == "" {
			return 0, fmt.Errorf("%w: block @%s falls through", ir.ErrInvalidIR, block.Label.Name)
		}
		target := fn.FindBlock(next)
		if target == nil {
			return 0, fmt.Errorf("%w: jump to missing block @%s", ir.ErrInvalidIR, next)
		}
		prev, block = block.Label.Name, target
	}
}

func (f *frame) arith(instr *ir.Instruction) (float64, error) {
	ops := make([]float64, len(instr.Args))
	for i, a := range instr.Args {
		x, err := f.value(a)
		if err != nil {
			return 0, err
		}
		ops[i] = x
	}
	switch instr.Op {
	case ir.OpAdd:
		return ops[0] + ops[1], nil
	case ir.OpSub:
		return ops[0] - ops[1], nil
	case ir.OpMul:
		return ops[0] * ops[1], nil
	case ir.OpCLt:
		return truth(ops[0] < ops[1]), nil
	case ir.OpCNe:
		return truth(ops[0] != ops[1]), nil
	case ir.OpSWToF, ir.OpCopy:
		return ops[0], nil
	}
	return 0, fmt.Errorf("%w: interpreter has no rule for %s", ir.ErrInvalidIR, instr.Op)
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
