package codegen

import (
	"fmt"
	"strings"

	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/ir"
)

type qbeBackend struct {
	out *strings.Builder
}

func NewQBEBackend() Backend { return &qbeBackend{} }

func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	var sb strings.Builder
	b.out = &sb
	for _, fn := range prog.Funcs {
		if fn.IsDeclaration() {
			b.genDecl(fn)
			continue
		}
		if err := b.genFunc(fn); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// MangleName maps a function name onto the QBE identifier alphabet. Bytes
// outside [A-Za-z0-9_.] become _XX, so "binary&" is emitted as "binary_26".
func MangleName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "_%02x", c)
		}
	}
	return sb.String()
}

func (b *qbeBackend) genDecl(fn *ir.Func) {
	types := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		types[i] = p.Typ.String()
	}
	fmt.Fprintf(b.out, "# extern %s $%s(%s)\n", fn.ReturnType, MangleName(fn.Name), strings.Join(types, ", "))
}

func (b *qbeBackend) genFunc(fn *ir.Func) error {
	fmt.Fprintf(b.out, "\nexport function %s $%s(", fn.ReturnType, MangleName(fn.Name))
	for i, p := range fn.Params {
		if i > 0 {
			b.out.WriteString(", ")
		}
		fmt.Fprintf(b.out, "%s %s", p.Typ, b.formatValue(p.Val))
	}
	b.out.WriteString(") {\n")

	for _, block := range fn.Blocks {
		fmt.Fprintf(b.out, "@%s\n", block.Label.Name)
		for _, instr := range block.Instructions {
			if err := b.genInstr(instr); err != nil {
				return fmt.Errorf("function %s: %w", fn.Name, err)
			}
		}
	}
	b.out.WriteString("}\n")
	return nil
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) error {
	b.out.WriteString("\t")
	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), instr.Typ)
	}

	switch instr.Op {
	case ir.OpCall:
		fmt.Fprintf(b.out, "call %s(", b.formatValue(instr.Args[0]))
		for i, arg := range instr.Args[1:] {
			if i > 0 {
				b.out.WriteString(", ")
			}
			fmt.Fprintf(b.out, "d %s", b.formatValue(arg))
		}
		b.out.WriteString(")\n")
		return nil
	case ir.OpPhi:
		b.out.WriteString("phi")
		for i := 0; i < len(instr.Args); i += 2 {
			if i > 0 {
				b.out.WriteString(",")
			}
			fmt.Fprintf(b.out, " %s %s", b.formatValue(instr.Args[i]), b.formatValue(instr.Args[i+1]))
		}
		b.out.WriteString("\n")
		return nil
	}

	opStr, err := b.formatOp(instr)
	if err != nil {
		return err
	}
	b.out.WriteString(opStr)
	for i, arg := range instr.Args {
		if i > 0 {
			b.out.WriteString(",")
		}
		b.out.WriteString(" " + b.formatValue(arg))
	}
	b.out.WriteString("\n")
	return nil
}

func (b *qbeBackend) formatValue(v ir.Value) string {
	switch val := v.(type) {
	case *ir.Global:
		return "$" + MangleName(val.Name)
	case nil:
		return ""
	}
	return v.String()
}

func (b *qbeBackend) formatOp(instr *ir.Instruction) (string, error) {
	operand := instr.OperandType
	if operand == ir.TypeNone {
		operand = instr.Typ
	}
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpSWToF, ir.OpCopy, ir.OpJmp, ir.OpJnz, ir.OpRet:
		return instr.Op.String(), nil
	case ir.OpCLt, ir.OpCNe:
		return instr.Op.String() + operand.String(), nil
	}
	return "", fmt.Errorf("no QBE form for op %s", instr.Op)
}

// QBERuntime renders the glue linked around a program by the native engine:
// a main that prints the value of entry behind ResultMarker, plus putchard
// and printd when they are called but not defined by the program.
func QBERuntime(prog *ir.Program, entry string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\ndata $kal_fmt = { b \"%s%%.17g\", b 10, b 0 }\n", ResultMarker)
	fmt.Fprintf(&sb, "data $kal_numfmt = { b \"%%f\", b 10, b 0 }\n")

	if fn := prog.FindFunc("putchard"); fn != nil && fn.IsDeclaration() && len(fn.Params) == 1 {
		sb.WriteString(`
export function d $putchard(d %x) {
@start
	%c =w dtosi %x
	call $putchar(w %c)
	ret d_0
}
`)
	}
	if fn := prog.FindFunc("printd"); fn != nil && fn.IsDeclaration() && len(fn.Params) == 1 {
		sb.WriteString(`
export function d $printd(d %x) {
@start
	call $printf(l $kal_numfmt, ..., d %x)
	ret d_0
}
`)
	}

	fmt.Fprintf(&sb, `
export function w $main() {
@start
	%%r =d call $%s()
	call $printf(l $kal_fmt, ..., d %%r)
	ret 0
}
`, MangleName(entry))
	return sb.String()
}

// ResultMarker prefixes the line carrying the result of the entry function.
const ResultMarker = "kal:"
