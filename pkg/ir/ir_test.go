package ir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func d(v float64) *Const { return &Const{Value: v, Typ: TypeD} }

func tmp(name string, id int) *Temporary { return &Temporary{Name: name, ID: id} }

func lbl(name string) *Label { return &Label{Name: name} }

func block(name string, instrs ...*Instruction) *BasicBlock {
	return &BasicBlock{Label: lbl(name), Instructions: instrs}
}

func binop(op Op, res *Temporary, a, b Value) *Instruction {
	return &Instruction{Op: op, Typ: TypeD, Result: res, Args: []Value{a, b}}
}

func jmp(to string) *Instruction { return &Instruction{Op: OpJmp, Args: []Value{lbl(to)}} }

func jnz(c Value, t, f string) *Instruction {
	return &Instruction{Op: OpJnz, Args: []Value{c, lbl(t), lbl(f)}}
}

func ret(v Value) *Instruction { return &Instruction{Op: OpRet, Args: []Value{v}} }

func phi(res *Temporary, edges ...Value) *Instruction {
	return &Instruction{Op: OpPhi, Typ: TypeD, Result: res, Args: edges}
}

func param(name string) *Param {
	return &Param{Name: name, Typ: TypeD, Val: &Temporary{Name: name, ID: -1}}
}

// diamond is: start branches on %x to then/else, both jump to join, which
// merges 1 and 2 in a phi.
func diamond(cond Value) *Func {
	return &Func{
		Name:       "f",
		Params:     []*Param{param("x")},
		ReturnType: TypeD,
		Blocks: []*BasicBlock{
			block("start", jnz(cond, "then", "else")),
			block("then", jmp("join")),
			block("else", jmp("join")),
			block("join", phi(tmp("r", 0), lbl("then"), d(1), lbl("else"), d(2)), ret(tmp("r", 0))),
		},
	}
}

func TestValueStrings(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{d(1.5), "d_1.5"},
		{d(-2), "d_-2"},
		{&Const{Value: 1, Typ: TypeW}, "1"},
		{&Temporary{Name: "x", ID: -1}, "%x"},
		{tmp("iftmp", 3), "%.iftmp.3"},
		{lbl("loop0"), "@loop0"},
		{&Global{Name: "fib"}, "$fib"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestSuccessorsAndPredecessors(t *testing.T) {
	fn := diamond(&Temporary{Name: "x", ID: -1})
	want := map[string][]string{
		"then": {"start"},
		"else": {"start"},
		"join": {"then", "else"},
	}
	if diff := cmp.Diff(want, Predecessors(fn)); diff != "" {
		t.Errorf("predecessors mismatch (-want +got):\n%s", diff)
	}

	same := block("b", jnz(d(1), "x", "x"))
	if diff := cmp.Diff([]string{"x"}, same.Successors()); diff != "" {
		t.Errorf("jnz with identical targets (-want +got):\n%s", diff)
	}
}

func TestLink(t *testing.T) {
	decl := &Func{Name: "g", Params: []*Param{param("a")}}
	def := &Func{Name: "g", Params: []*Param{param("a")}, Blocks: []*BasicBlock{block("start", ret(d(1)))}}
	laterDecl := &Func{Name: "g", Params: []*Param{param("a")}}
	anon1 := &Func{Name: "anon", Blocks: []*BasicBlock{block("start", ret(d(1)))}}
	anon2 := &Func{Name: "anon", Blocks: []*BasicBlock{block("start", ret(d(2)))}}

	linked := Link(
		&Program{Funcs: []*Func{decl}},
		&Program{Funcs: []*Func{def, anon1}},
		&Program{Funcs: []*Func{laterDecl, anon2}},
	)
	if got := linked.FindFunc("g"); got != def {
		t.Errorf("g resolved to %+v, want the definition", got)
	}
	if got := linked.FindFunc("anon"); got != anon2 {
		t.Errorf("anon resolved to the earlier definition")
	}
	if len(linked.Funcs) != 2 {
		t.Errorf("linked program has %d functions, want 2", len(linked.Funcs))
	}
}

func TestLinkArityChangeRetiresBody(t *testing.T) {
	def := &Func{Name: "g", Params: []*Param{param("a")}, Blocks: []*BasicBlock{block("start", ret(d(1)))}}
	wider := &Func{Name: "g", Params: []*Param{param("a"), param("b")}}

	linked := Link(&Program{Funcs: []*Func{def}}, &Program{Funcs: []*Func{wider}})
	if got := linked.FindFunc("g"); got != wider {
		t.Errorf("g resolved to %+v, want the two-parameter declaration", got)
	}
	linked = Link(&Program{Funcs: []*Func{wider}}, &Program{Funcs: []*Func{def}})
	if got := linked.FindFunc("g"); got != def {
		t.Errorf("a later definition did not replace the declaration")
	}
}

func TestProgramUnits(t *testing.T) {
	a, b := NewProgram(), NewProgram()
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("unit ids %q and %q are not unique", a.ID, b.ID)
	}
	fn := &Func{Name: "f"}
	a.AddFunc(fn)
	if len(a.Funcs) != 1 || a.FindFunc("f") != fn {
		t.Fatalf("AddFunc did not register f")
	}
	a.RemoveFunc(fn)
	if len(a.Funcs) != 0 {
		t.Errorf("RemoveFunc left %v", a.Funcs)
	}
}
