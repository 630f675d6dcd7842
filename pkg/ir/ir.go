package ir

import (
	"strconv"

	"github.com/google/uuid"
)

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpCLt
	OpCNe
	OpSWToF
	OpCopy
	OpCall
	OpPhi
	OpJmp
	OpJnz
	OpRet
)

var opNames = [...]string{
	OpAdd:   "add",
	OpSub:   "sub",
	OpMul:   "mul",
	OpCLt:   "clt",
	OpCNe:   "cne",
	OpSWToF: "swtof",
	OpCopy:  "copy",
	OpCall:  "call",
	OpPhi:   "phi",
	OpJmp:   "jmp",
	OpJnz:   "jnz",
	OpRet:   "ret",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "op" + strconv.Itoa(int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool { return op == OpJmp || op == OpJnz || op == OpRet }

type Type int

const (
	TypeNone Type = iota
	TypeW         // word (32-bit), comparison results
	TypeL         // long (64-bit)
	TypeD         // double float (64-bit), the language's only scalar
)

func (t Type) String() string {
	switch t {
	case TypeW:
		return "w"
	case TypeL:
		return "l"
	case TypeD:
		return "d"
	}
	return ""
}

type Value interface {
	isValue()
	String() string
}

type Const struct {
	Value float64
	Typ   Type
}
type Global struct{ Name string }

// Temporary is an SSA value. Parameters use ID -1 and print as their name.
type Temporary struct {
	Name string
	ID   int
}
type Label struct{ Name string }

func (c *Const) isValue()     {}
func (g *Global) isValue()    {}
func (t *Temporary) isValue() {}
func (l *Label) isValue()     {}

func (c *Const) String() string {
	if c.Typ == TypeD {
		return "d_" + strconv.FormatFloat(c.Value, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(c.Value), 10)
}
func (g *Global) String() string { return "$" + g.Name }
func (t *Temporary) String() string {
	if t.ID < 0 {
		return "%" + t.Name
	}
	return "%." + t.Name + "." + strconv.Itoa(t.ID)
}
func (l *Label) String() string { return "@" + l.Name }

type Func struct {
	Name       string
	Params     []*Param
	ReturnType Type
	Blocks     []*BasicBlock
}

// IsDeclaration reports whether fn has no body.
func (fn *Func) IsDeclaration() bool { return len(fn.Blocks) == 0 }

func (fn *Func) FindBlock(name string) *BasicBlock {
	for _, b := range fn.Blocks {
		if b.Label.Name == name {
			return b
		}
	}
	return nil
}

type Param struct {
	Name string
	Typ  Type
	Val  Value
}

type BasicBlock struct {
	Label        *Label
	Instructions []*Instruction
}

// Terminator returns the last instruction of b if it ends the block.
func (b *BasicBlock) Terminator() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	if last := b.Instructions[len(b.Instructions)-1]; last.Op.IsTerminator() {
		return last
	}
	return nil
}

// Successors lists the labels b may branch to.
func (b *BasicBlock) Successors() []string {
	term := b.Terminator()
	if term == nil {
		return nil
	}
	switch term.Op {
	case OpJmp:
		return []string{term.Args[0].(*Label).Name}
	case OpJnz:
		t, f := term.Args[1].(*Label).Name, term.Args[2].(*Label).Name
		if t == f {
			return []string{t}
		}
		return []string{t, f}
	}
	return nil
}

// Instruction is a single IR operation. Args layout per op:
//   - call: callee Global, then arguments
//   - phi:  label, value pairs
//   - jmp:  target label
//   - jnz:  condition, true label, false label
//   - ret:  optional value
type Instruction struct {
	Op          Op
	Typ         Type
	OperandType Type
	Result      Value
	Args        []Value
}

// Program is one compilation unit: the functions defined or declared by the
// top-level items that produced it.
type Program struct {
	ID    string
	Funcs []*Func
}

func NewProgram() *Program { return &Program{ID: uuid.NewString()} }

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (p *Program) AddFunc(fn *Func) { p.Funcs = append(p.Funcs, fn) }

// RemoveFunc deletes fn from the unit.
func (p *Program) RemoveFunc(fn *Func) {
	for i, f := range p.Funcs {
		if f == fn {
			p.Funcs = append(p.Funcs[:i], p.Funcs[i+1:]...)
			return
		}
	}
}

// Link merges units into one program. A definition replaces a declaration of
// the same name, and a later definition replaces an earlier one. A later
// declaration with a different arity replaces everything before it.
func Link(units ...*Program) *Program {
	out := NewProgram()
	index := make(map[string]int)
	for _, unit := range units {
		for _, fn := range unit.Funcs {
			i, seen := index[fn.Name]
			switch {
			case !seen:
				index[fn.Name] = len(out.Funcs)
				out.Funcs = append(out.Funcs, fn)
			case !fn.IsDeclaration() || out.Funcs[i].IsDeclaration(),
				len(fn.Params) != len(out.Funcs[i].Params):
				out.Funcs[i] = fn
			}
		}
	}
	return out
}

// Predecessors maps each block label to the labels of the blocks branching to it.
func Predecessors(fn *Func) map[string][]string {
	preds := make(map[string][]string, len(fn.Blocks))
	for _, b := range fn.Blocks {
		for _, succ := range b.Successors() {
			preds[succ] = append(preds[succ], b.Label.Name)
		}
	}
	return preds
}
