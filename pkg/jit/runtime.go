package jit

import (
	"fmt"
	"io"
	"math"
)

type builtin struct {
	arity int
	fn    func(out io.Writer, args []float64) float64
}

func unary(f func(float64) float64) builtin {
	return builtin{arity: 1, fn: func(_ io.Writer, args []float64) float64 { return f(args[0]) }}
}

// builtins are the host functions an extern may bind to.
var builtins = map[string]builtin{
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"atan":  unary(math.Atan),
	"sqrt":  unary(math.Sqrt),
	"exp":   unary(math.Exp),
	"log":   unary(math.Log),
	"fabs":  unary(math.Abs),
	"floor": unary(math.Floor),
	"pow": {arity: 2, fn: func(_ io.Writer, args []float64) float64 {
		return math.Pow(args[0], args[1])
	}},
	"putchard": {arity: 1, fn: func(out io.Writer, args []float64) float64 {
		out.Write([]byte{byte(int32(args[0]))})
		return 0
	}},
	"printd": {arity: 1, fn: func(out io.Writer, args []float64) float64 {
		fmt.Fprintf(out, "%f\n", args[0])
		return 0
	}},
}

// IsBuiltin reports whether name is provided by the runtime.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}
