package ir

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidIR = errors.New("invalid IR")

func invalid(fn *Func, format string, args ...any) error {
	return fmt.Errorf("%w: function '%s': %s", ErrInvalidIR, fn.Name, fmt.Sprintf(format, args...))
}

// Verify checks the structural well-formedness of fn. When prog is not nil,
// calls are also checked against the arity of functions known to it.
func Verify(fn *Func, prog *Program) error {
	if len(fn.Blocks) == 0 {
		return invalid(fn, "no basic blocks")
	}

	labels := make(map[string]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		if b.Label == nil {
			return invalid(fn, "block without label")
		}
		if labels[b.Label.Name] {
			return invalid(fn, "duplicate label %s", b.Label)
		}
		labels[b.Label.Name] = true
	}

	defined := make(map[string]bool)
	for _, p := range fn.Params {
		defined[p.Val.String()] = true
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			if instr.Result == nil {
				continue
			}
			name := instr.Result.String()
			if defined[name] {
				return invalid(fn, "%s assigned more than once", name)
			}
			defined[name] = true
		}
	}

	preds := Predecessors(fn)
	for _, b := range fn.Blocks {
		if err := verifyBlock(fn, b, labels, defined, preds[b.Label.Name], prog); err != nil {
			return err
		}
	}
	return nil
}

func verifyBlock(fn *Func, b *BasicBlock, labels, defined map[string]bool, preds []string, prog *Program) error {
	if len(b.Instructions) == 0 {
		return invalid(fn, "block %s is empty", b.Label)
	}
	if b.Terminator() == nil {
		return invalid(fn, "block %s does not end in a terminator", b.Label)
	}

	inPhis := true
	for i, instr := range b.Instructions {
		if instr.Op.IsTerminator() && i != len(b.Instructions)-1 {
			return invalid(fn, "terminator '%s' in the middle of block %s", instr.Op, b.Label)
		}
		if instr.Op == OpPhi {
			if !inPhis {
				return invalid(fn, "phi after non-phi instruction in block %s", b.Label)
			}
			if err := verifyPhi(fn, b, instr, preds, defined); err != nil {
				return err
			}
			continue
		}
		inPhis = false

		for _, arg := range instr.Args {
			switch v := arg.(type) {
			case *Temporary:
				if !defined[v.String()] {
					return invalid(fn, "use of undefined value %s in block %s", v, b.Label)
				}
			case *Label:
				if !labels[v.Name] {
					return invalid(fn, "branch to unknown block %s", v)
				}
			}
		}

		switch instr.Op {
		case OpJmp:
			if len(instr.Args) != 1 {
				return invalid(fn, "jmp needs one target")
			}
		case OpJnz:
			if len(instr.Args) != 3 {
				return invalid(fn, "jnz needs a condition and two targets")
			}
		case OpCall:
			if err := verifyCall(fn, instr, prog); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyPhi(fn *Func, b *BasicBlock, phi *Instruction, preds []string, defined map[string]bool) error {
	if len(phi.Args)%2 != 0 {
		return invalid(fn, "phi %s has an odd number of arguments", phi.Result)
	}
	var incoming []string
	for i := 0; i < len(phi.Args); i += 2 {
		label, ok := phi.Args[i].(*Label)
		if !ok {
			return invalid(fn, "phi %s edge %d is not a label", phi.Result, i/2)
		}
		if t, ok := phi.Args[i+1].(*Temporary); ok && !defined[t.String()] {
			return invalid(fn, "phi %s uses undefined value %s", phi.Result, t)
		}
		incoming = append(incoming, label.Name)
	}
	want := slices.Clone(preds)
	slices.Sort(want)
	slices.Sort(incoming)
	if !slices.Equal(want, incoming) {
		return invalid(fn, "phi %s in block %s has edges %v, predecessors are %v", phi.Result, b.Label, incoming, want)
	}
	return nil
}

func verifyCall(fn *Func, call *Instruction, prog *Program) error {
	if len(call.Args) == 0 {
		return invalid(fn, "call without callee")
	}
	callee, ok := call.Args[0].(*Global)
	if !ok {
		return invalid(fn, "call target %v is not a global", call.Args[0])
	}
	if prog == nil {
		return nil
	}
	if target := prog.FindFunc(callee.Name); target != nil && len(target.Params) != len(call.Args)-1 {
		return invalid(fn, "call to %s passes %d argument(s), it takes %d", callee, len(call.Args)-1, len(target.Params))
	}
	return nil
}
