package ir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func labels(fn *Func) []string {
	var out []string
	for _, b := range fn.Blocks {
		out = append(out, b.Label.Name)
	}
	return out
}

func TestFoldConstants(t *testing.T) {
	fn := &Func{Name: "f", Blocks: []*BasicBlock{block("start",
		binop(OpMul, tmp("m", 0), d(2), d(3)),
		binop(OpAdd, tmp("a", 1), d(1), tmp("m", 0)),
		&Instruction{Op: OpCLt, Typ: TypeW, OperandType: TypeD, Result: tmp("c", 2), Args: []Value{tmp("a", 1), d(10)}},
		&Instruction{Op: OpSWToF, Typ: TypeD, Result: tmp("f", 3), Args: []Value{tmp("c", 2)}},
		ret(tmp("f", 3)),
	)}}
	if !FoldConstants(fn) {
		t.Fatal("FoldConstants reported no change")
	}
	if diff := cmp.Diff([]*Instruction{ret(d(1))}, fn.Blocks[0].Instructions); diff != "" {
		t.Errorf("folded body mismatch (-want +got):\n%s", diff)
	}
	if FoldConstants(fn) {
		t.Errorf("second run changed a folded function")
	}
}

func TestFoldConstantsKeepsOverflow(t *testing.T) {
	fn := &Func{Name: "f", Blocks: []*BasicBlock{block("start",
		binop(OpMul, tmp("m", 0), d(1e308), d(10)),
		ret(tmp("m", 0)),
	)}}
	if FoldConstants(fn) {
		t.Errorf("folded an overflowing product into %v", fn.Blocks[0].Instructions)
	}
	if got := len(fn.Blocks[0].Instructions); got != 2 {
		t.Errorf("block has %d instructions, want 2", got)
	}
}

func TestSimplifyBranchesDropsPhiEdge(t *testing.T) {
	fn := &Func{Name: "f", Blocks: []*BasicBlock{
		block("start", jnz(&Const{Value: 0, Typ: TypeW}, "a", "b")),
		block("a", jmp("b")),
		block("b", phi(tmp("p", 0), lbl("start"), d(1), lbl("a"), d(2)), ret(tmp("p", 0))),
	}}
	if !SimplifyBranches(fn) {
		t.Fatal("SimplifyBranches reported no change")
	}
	if diff := cmp.Diff(jmp("b"), fn.Blocks[0].Terminator()); diff != "" {
		t.Errorf("terminator mismatch (-want +got):\n%s", diff)
	}
	// start still reaches b, so its edge stays; a is now unreachable.
	if !RemoveUnreachable(fn) {
		t.Fatal("RemoveUnreachable reported no change")
	}
	if diff := cmp.Diff([]string{"start", "b"}, labels(fn)); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Value{lbl("start"), d(1)}, fn.Blocks[1].Instructions[0].Args); diff != "" {
		t.Errorf("phi edges mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveTrivialPhis(t *testing.T) {
	self := tmp("p", 0)
	fn := &Func{Name: "f", Params: []*Param{param("x")}, Blocks: []*BasicBlock{
		block("start", jmp("loop")),
		block("loop", phi(self, lbl("start"), &Temporary{Name: "x", ID: -1}, lbl("loop"), self), jnz(self, "loop", "out")),
		block("out", ret(self)),
	}}
	if !RemoveTrivialPhis(fn) {
		t.Fatal("RemoveTrivialPhis reported no change")
	}
	if diff := cmp.Diff(ret(&Temporary{Name: "x", ID: -1}), fn.Blocks[2].Terminator()); diff != "" {
		t.Errorf("phi not replaced by its only value (-want +got):\n%s", diff)
	}
}

func TestMergeBlocksRelabelsPhis(t *testing.T) {
	fn := &Func{Name: "f", Params: []*Param{param("x")}, Blocks: []*BasicBlock{
		block("start", jnz(&Temporary{Name: "x", ID: -1}, "a", "join")),
		block("a", jmp("a2")),
		block("a2", jmp("join")),
		block("join", phi(tmp("p", 0), lbl("start"), d(0), lbl("a2"), d(1)), ret(tmp("p", 0))),
	}}
	if !MergeBlocks(fn) {
		t.Fatal("MergeBlocks reported no change")
	}
	if diff := cmp.Diff([]string{"start", "a", "join"}, labels(fn)); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Value{lbl("start"), d(0), lbl("a"), d(1)}, fn.Blocks[2].Instructions[0].Args); diff != "" {
		t.Errorf("phi edges mismatch (-want +got):\n%s", diff)
	}
	if err := Verify(fn, nil); err != nil {
		t.Errorf("merged function does not verify: %v", err)
	}
}

func TestEliminateDeadCodeKeepsCalls(t *testing.T) {
	call := &Instruction{Op: OpCall, Typ: TypeD, Result: tmp("c", 0), Args: []Value{&Global{Name: "putchard"}, d(65)}}
	fn := &Func{Name: "f", Params: []*Param{param("x")}, Blocks: []*BasicBlock{block("start",
		call,
		binop(OpAdd, tmp("dead", 1), &Temporary{Name: "x", ID: -1}, d(1)),
		binop(OpMul, tmp("dead2", 2), tmp("dead", 1), d(2)),
		ret(d(0)),
	)}}
	if !EliminateDeadCode(fn) {
		t.Fatal("EliminateDeadCode reported no change")
	}
	if diff := cmp.Diff([]*Instruction{call, ret(d(0))}, fn.Blocks[0].Instructions); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineCollapsesConstantDiamond(t *testing.T) {
	fn := diamond(&Const{Value: 1, Typ: TypeW})
	if rounds := DefaultPipeline().Run(fn); rounds == 0 {
		t.Fatal("pipeline made no change")
	}
	if diff := cmp.Diff([]string{"start"}, labels(fn)); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ret(d(1)), fn.Blocks[0].Terminator()); diff != "" {
		t.Errorf("return mismatch (-want +got):\n%s", diff)
	}
	if err := Verify(fn, nil); err != nil {
		t.Errorf("optimized function does not verify: %v", err)
	}
}

func TestPipelineLeavesDeclarations(t *testing.T) {
	if rounds := DefaultPipeline().Run(&Func{Name: "sin", Params: []*Param{param("x")}}); rounds != 0 {
		t.Errorf("declaration optimized for %d rounds", rounds)
	}
}
