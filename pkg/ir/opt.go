package ir

import (
	"log/slog"
	"math"
)

// Pass rewrites a function in place and reports whether it changed anything.
type Pass struct {
	Name string
	Run  func(fn *Func) bool
}

// Pipeline runs its passes in order until none of them changes the function
// or MaxRounds is reached.
type Pipeline struct {
	Passes    []Pass
	MaxRounds int
	Logger    *slog.Logger
}

func DefaultPipeline() *Pipeline {
	return &Pipeline{
		Passes: []Pass{
			{"const-fold", FoldConstants},
			{"branch-simplify", SimplifyBranches},
			{"unreachable", RemoveUnreachable},
			{"trivial-phi", RemoveTrivialPhis},
			{"block-merge", MergeBlocks},
			{"dce", EliminateDeadCode},
		},
		MaxRounds: 16,
	}
}

// Run optimizes fn and returns the number of rounds that changed it.
func (p *Pipeline) Run(fn *Func) int {
	if fn.IsDeclaration() {
		return 0
	}
	rounds := 0
	for rounds < p.MaxRounds {
		changed := false
		for _, pass := range p.Passes {
			if pass.Run(fn) {
				changed = true
				if p.Logger != nil {
					p.Logger.Debug("pass changed function", "pass", pass.Name, "func", fn.Name, "round", rounds)
				}
			}
		}
		if !changed {
			break
		}
		rounds++
	}
	return rounds
}

// replaceUses substitutes every use of the value named from with to.
func replaceUses(fn *Func, from string, to Value) {
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			for i, arg := range instr.Args {
				if t, ok := arg.(*Temporary); ok && t.String() == from {
					instr.Args[i] = to
				}
			}
		}
	}
}

func constArgs(instr *Instruction) (float64, float64, bool) {
	if len(instr.Args) != 2 {
		return 0, 0, false
	}
	a, okA := instr.Args[0].(*Const)
	b, okB := instr.Args[1].(*Const)
	if !okA || !okB {
		return 0, 0, false
	}
	return a.Value, b.Value, true
}

func boolConst(v bool) *Const {
	if v {
		return &Const{Value: 1, Typ: TypeW}
	}
	return &Const{Value: 0, Typ: TypeW}
}

// FoldConstants evaluates instructions whose operands are all constants and
// substitutes the result for their uses.
func FoldConstants(fn *Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		kept := b.Instructions[:0]
		for _, instr := range b.Instructions {
			folded := foldInstr(instr)
			if folded == nil {
				kept = append(kept, instr)
				continue
			}
			replaceUses(fn, instr.Result.String(), folded)
			changed = true
		}
		b.Instructions = kept
	}
	return changed
}

func foldInstr(instr *Instruction) *Const {
	if instr.Result == nil {
		return nil
	}
	switch instr.Op {
	case OpAdd, OpSub, OpMul:
		a, b, ok := constArgs(instr)
		if !ok {
			return nil
		}
		var v float64
		switch instr.Op {
		case OpAdd:
			v = a + b
		case OpSub:
			v = a - b
		case OpMul:
			v = a * b
		}
		// Inf and NaN have no literal form in QBE.
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil
		}
		return &Const{Value: v, Typ: instr.Typ}
	case OpCLt:
		if a, b, ok := constArgs(instr); ok {
			return boolConst(a < b)
		}
	case OpCNe:
		if a, b, ok := constArgs(instr); ok {
			return boolConst(a != b)
		}
	case OpSWToF, OpCopy:
		if c, ok := instr.Args[0].(*Const); ok {
			return &Const{Value: c.Value, Typ: instr.Typ}
		}
	}
	return nil
}

// removePhiEdges drops the incoming edges from pred in the phis of block.
func removePhiEdges(block *BasicBlock, pred string) {
	for _, instr := range block.Instructions {
		if instr.Op != OpPhi {
			break
		}
		args := instr.Args[:0]
		for i := 0; i < len(instr.Args); i += 2 {
			if instr.Args[i].(*Label).Name != pred {
				args = append(args, instr.Args[i], instr.Args[i+1])
			}
		}
		instr.Args = args
	}
}

// SimplifyBranches turns jnz on a constant, or with identical targets, into jmp.
func SimplifyBranches(fn *Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		term := b.Terminator()
		if term == nil || term.Op != OpJnz {
			continue
		}
		t, f := term.Args[1].(*Label), term.Args[2].(*Label)
		target, dropped := t, (*Label)(nil)
		switch c, isConst := term.Args[0].(*Const); {
		case t.Name == f.Name:
		case isConst && c.Value != 0:
			dropped = f
		case isConst:
			target, dropped = f, t
		default:
			continue
		}
		if dropped != nil {
			if blk := fn.FindBlock(dropped.Name); blk != nil {
				removePhiEdges(blk, b.Label.Name)
			}
		}
		b.Instructions[len(b.Instructions)-1] = &Instruction{Op: OpJmp, Args: []Value{target}}
		changed = true
	}
	return changed
}

// RemoveUnreachable deletes blocks that cannot be reached from the entry block.
func RemoveUnreachable(fn *Func) bool {
	if len(fn.Blocks) == 0 {
		return false
	}
	reached := map[string]bool{fn.Blocks[0].Label.Name: true}
	work := []*BasicBlock{fn.Blocks[0]}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, succ := range b.Successors() {
			if !reached[succ] {
				reached[succ] = true
				if blk := fn.FindBlock(succ); blk != nil {
					work = append(work, blk)
				}
			}
		}
	}
	if len(reached) == len(fn.Blocks) {
		return false
	}

	var kept, dead []*BasicBlock
	for _, b := range fn.Blocks {
		if reached[b.Label.Name] {
			kept = append(kept, b)
		} else {
			dead = append(dead, b)
		}
	}
	for _, d := range dead {
		for _, succ := range d.Successors() {
			if blk := fn.FindBlock(succ); blk != nil && reached[succ] {
				removePhiEdges(blk, d.Label.Name)
			}
		}
	}
	fn.Blocks = kept
	return true
}

// RemoveTrivialPhis replaces phis whose incoming values are all the same
// (ignoring references to the phi itself) with that value.
func RemoveTrivialPhis(fn *Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		kept := b.Instructions[:0]
		for _, instr := range b.Instructions {
			if instr.Op != OpPhi {
				kept = append(kept, instr)
				continue
			}
			self := instr.Result.String()
			var same Value
			trivial := true
			for i := 1; i < len(instr.Args); i += 2 {
				v := instr.Args[i]
				if v.String() == self || (same != nil && v.String() == same.String()) {
					continue
				}
				if same != nil {
					trivial = false
					break
				}
				same = v
			}
			if !trivial || same == nil {
				kept = append(kept, instr)
				continue
			}
			replaceUses(fn, self, same)
			changed = true
		}
		b.Instructions = kept
	}
	return changed
}

// MergeBlocks folds a block into its only predecessor when that predecessor
// jumps to it unconditionally.
func MergeBlocks(fn *Func) bool {
	changed := false
	for {
		preds := Predecessors(fn)
		merged := false
		for _, a := range fn.Blocks {
			term := a.Terminator()
			if term == nil || term.Op != OpJmp {
				continue
			}
			target := term.Args[0].(*Label).Name
			b := fn.FindBlock(target)
			if b == nil || b == a || b == fn.Blocks[0] || len(preds[target]) != 1 || b.Instructions[0].Op == OpPhi {
				continue
			}

			a.Instructions = append(a.Instructions[:len(a.Instructions)-1], b.Instructions...)
			for _, succ := range b.Successors() {
				if blk := fn.FindBlock(succ); blk != nil {
					relabelPhiEdges(blk, b.Label.Name, a.Label)
				}
			}
			fn.Blocks = removeBlock(fn.Blocks, b)
			merged, changed = true, true
			break
		}
		if !merged {
			return changed
		}
	}
}

func relabelPhiEdges(block *BasicBlock, from string, to *Label) {
	for _, instr := range block.Instructions {
		if instr.Op != OpPhi {
			break
		}
		for i := 0; i < len(instr.Args); i += 2 {
			if instr.Args[i].(*Label).Name == from {
				instr.Args[i] = to
			}
		}
	}
}

func removeBlock(blocks []*BasicBlock, dead *BasicBlock) []*BasicBlock {
	for i, b := range blocks {
		if b == dead {
			return append(blocks[:i], blocks[i+1:]...)
		}
	}
	return blocks
}

// EliminateDeadCode removes instructions whose results are never used. Calls
// are kept for their side effects.
func EliminateDeadCode(fn *Func) bool {
	changed := false
	for {
		used := make(map[string]bool)
		for _, b := range fn.Blocks {
			for _, instr := range b.Instructions {
				for _, arg := range instr.Args {
					if t, ok := arg.(*Temporary); ok {
						used[t.String()] = true
					}
				}
			}
		}

		removed := false
		for _, b := range fn.Blocks {
			kept := b.Instructions[:0]
			for _, instr := range b.Instructions {
				if instr.Result != nil && instr.Op != OpCall && !used[instr.Result.String()] {
					removed = true
					continue
				}
				kept = append(kept, instr)
			}
			b.Instructions = kept
		}
		if !removed {
			return changed
		}
		changed = true
	}
}
