package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/kaleido/pkg/codegen"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/ir"
	"github.com/xplshn/kaleido/pkg/jit"
	"github.com/xplshn/kaleido/pkg/parser"
	"github.com/xplshn/kaleido/pkg/util"
)

type fixture struct {
	s       *Session
	cfg     *config.Config
	out     bytes.Buffer // acknowledgements
	diag    bytes.Buffer // diagnostics
	program bytes.Buffer // output of the running program
	dump    bytes.Buffer
}

func newFixture(t *testing.T, src string, setup ...func(*config.Config)) *fixture {
	t.Helper()
	f := &fixture{cfg: config.NewConfig()}
	for _, fn := range setup {
		fn(f.cfg)
	}
	f.s = New(f.cfg, jit.NewInterp(&f.program),
		WithReporter(util.NewReporter(f.cfg, &f.diag)),
		WithSource("test.ks", src),
		WithOutput(&f.out),
		WithDumpOutput(&f.dump),
	)
	t.Cleanup(func() { f.s.Close() })
	return f
}

func (f *fixture) run(t *testing.T) []string {
	t.Helper()
	if err := f.s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return strings.Split(strings.TrimSuffix(f.out.String(), "\n"), "\n")
}

// steps runs Step until EOF and returns the error of every item other than ';'.
func (f *fixture) steps(t *testing.T) []error {
	t.Helper()
	var errs []error
	for range 100 {
		res, err := f.s.Step(context.Background())
		if errors.Is(err, io.EOF) {
			return errs
		}
		if res != nil || err != nil {
			errs = append(errs, err)
		}
	}
	t.Fatalf("session did not reach end of input")
	return nil
}

func TestRunTranscript(t *testing.T) {
	f := newFixture(t, `
def foo(a b) a*a + 2*a*b + b*b;
foo(2, 3);
extern sin(x);
sin(0);
if 0 then 1 end;
if 1 then 2 else 3 end;
`)
	want := []string{
		"Defined foo(a b)",
		"Evaluated to 25.000000",
		"Declared extern sin(x)",
		"Evaluated to 0.000000",
		"Evaluated to 0.000000",
		"Evaluated to 2.000000",
	}
	if diff := cmp.Diff(want, f.run(t)); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if f.diag.Len() != 0 {
		t.Errorf("unexpected diagnostics:\n%s", f.diag.String())
	}
	if _, ok := f.s.cg.Registry().Lookup(parser.AnonExprName); ok {
		t.Errorf("%s left in the registry", parser.AnonExprName)
	}
}

func TestStepResults(t *testing.T) {
	f := newFixture(t, "; def id(x) x; id(4)")
	ctx := context.Background()

	if res, err := f.s.Step(ctx); res != nil || err != nil {
		t.Fatalf("';' = %+v, %v; want nil, nil", res, err)
	}
	res, err := f.s.Step(ctx)
	if err != nil || res.Kind != ItemDefinition || res.Name != "id" {
		t.Fatalf("definition = %+v, %v", res, err)
	}
	f.s.Step(ctx)
	res, err = f.s.Step(ctx)
	if err != nil || res.Kind != ItemExpression || res.Value != 4 {
		t.Fatalf("expression = %+v, %v", res, err)
	}
	if _, err := f.s.Step(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("got %v at end of input, want io.EOF", err)
	}
}

func TestZeroIterationLoopRunsNoBody(t *testing.T) {
	f := newFixture(t, `
extern putchard(c);
for i = 0, i < 0, 1 do putchard(65) end;
for i = 0, i < 2, 1 do putchard(66) end;
`)
	got := f.run(t)
	if diff := cmp.Diff("BB", f.program.String()); diff != "" {
		t.Errorf("program output mismatch (-want +got):\n%s", diff)
	}
	if got[len(got)-1] != "Evaluated to 0.000000" {
		t.Errorf("loop value = %q, want 0", got[len(got)-1])
	}
}

func TestLoopVariableUnboundAfterLoop(t *testing.T) {
	f := newFixture(t, "def f(x) (for i = 0, i < 3, 1 do i end) + i; f(1)")
	errs := f.steps(t)
	if len(errs) != 2 {
		t.Fatalf("got %d items, want 2: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], codegen.ErrUnboundVariable) {
		t.Errorf("definition: got %v, want ErrUnboundVariable", errs[0])
	}
	// f keeps only its prototype, so calling it finds no body.
	var d *util.Diagnostic
	if !errors.Is(errs[1], jit.ErrSymbolNotFound) || !errors.As(errs[1], &d) || d.Kind != util.KindBackend {
		t.Errorf("call: got %v, want a backend ErrSymbolNotFound", errs[1])
	}
}

func TestExternOverrideChangesArity(t *testing.T) {
	f := newFixture(t, "def foo(a) a; extern foo(a b); foo(1); foo(1, 2)")
	errs := f.steps(t)
	if len(errs) != 4 {
		t.Fatalf("got %d items, want 4: %v", len(errs), errs)
	}
	if !errors.Is(errs[2], codegen.ErrArityMismatch) {
		t.Errorf("old arity: got %v, want ErrArityMismatch", errs[2])
	}
	if !errors.Is(errs[3], jit.ErrSymbolNotFound) {
		t.Errorf("new arity before a new body: got %v, want ErrSymbolNotFound", errs[3])
	}
	if !strings.Contains(f.diag.String(), "[-Wextern-override]") {
		t.Errorf("no extern-override warning in %q", f.diag.String())
	}

	f.s.SetSource("more.ks", "def foo(a b) a*b; foo(3, 4)")
	if errs := f.steps(t); errs[0] != nil || errs[1] != nil {
		t.Fatalf("redefining foo with the new arity: %v", errs)
	}
	if !strings.Contains(f.out.String(), "Evaluated to 12.000000") {
		t.Errorf("foo(3, 4) not evaluated with the new body:\n%s", f.out.String())
	}
}

// rejectingEngine fails the next Load and then behaves like the interpreter.
type rejectingEngine struct {
	*jit.Interp
	reject bool
}

var errRejected = errors.New("unit rejected")

func (e *rejectingEngine) Load(unit *ir.Program) (jit.Handle, error) {
	if e.reject {
		e.reject = false
		return 0, errRejected
	}
	return e.Interp.Load(unit)
}

func TestFailedLoadAllowsRedefinition(t *testing.T) {
	cfg := config.NewConfig()
	var diag bytes.Buffer
	engine := &rejectingEngine{Interp: jit.NewInterp(nil), reject: true}
	s := New(cfg, engine,
		WithReporter(util.NewReporter(cfg, &diag)),
		WithSource("test.ks", "def f(x) x; def f(x) x+1; f(2)"),
		WithOutput(io.Discard),
	)
	defer s.Close()
	ctx := context.Background()

	var d *util.Diagnostic
	if _, err := s.Step(ctx); !errors.Is(err, errRejected) || !errors.As(err, &d) || d.Kind != util.KindBackend {
		t.Fatalf("first definition: got %v, want a backend error", err)
	}
	if entry, ok := s.cg.Registry().Lookup("f"); !ok || entry.Defined {
		t.Errorf("registry entry after failed load = %+v, %v; want prototype without body", entry, ok)
	}
	s.Step(ctx)
	if _, err := s.Step(ctx); err != nil {
		t.Fatalf("second definition: %v", err)
	}
	s.Step(ctx)
	res, err := s.Step(ctx)
	if err != nil || res.Value != 3 {
		t.Errorf("f(2) = %+v, %v; want 3", res, err)
	}
}

func TestUserOperators(t *testing.T) {
	f := newFixture(t, `
def binary| 5 (L R) if L then 1 else if R then 1 else 0 end end;
0 | 1;
0 | 0;
def unary!(v) if v then 0 else 1 end;
!0;
def binary> 10 (L R) R < L;
3 > 2;
1 + 2 | 0;
`)
	want := []string{
		"Defined binary|(L R)",
		"Evaluated to 1.000000",
		"Evaluated to 0.000000",
		"Defined unary!(v)",
		"Evaluated to 1.000000",
		"Defined binary>(L R)",
		"Evaluated to 1.000000",
		"Evaluated to 1.000000",
	}
	if diff := cmp.Diff(want, f.run(t)); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if got := f.s.ops.Precedence('|'); got != 5 {
		t.Errorf("precedence of '|' = %d, want 5", got)
	}
}

func TestRecoveryAfterErrors(t *testing.T) {
	f := newFixture(t, ") 1+1; def (x) x; nope(2); 4;")
	want := []string{"Evaluated to 2.000000", "Evaluated to 4.000000"}
	if diff := cmp.Diff(want, f.run(t)); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if f.s.rep.Errors < 3 {
		t.Errorf("reported %d errors, want at least 3:\n%s", f.s.rep.Errors, f.diag.String())
	}
	for _, want := range []string{"test.ks:1:1: parse error:", "codegen error: Unknown function 'nope'"} {
		if !strings.Contains(f.diag.String(), want) {
			t.Errorf("diagnostics missing %q:\n%s", want, f.diag.String())
		}
	}
}

func TestRedefinitionKeepsFirstBody(t *testing.T) {
	f := newFixture(t, "def f(x) x; def f(x) 2; f(5)")
	ctx := context.Background()
	if _, err := f.s.Step(ctx); err != nil {
		t.Fatalf("first definition: %v", err)
	}
	f.s.Step(ctx)
	if _, err := f.s.Step(ctx); !errors.Is(err, codegen.ErrRedefinition) {
		t.Errorf("second definition: got %v, want ErrRedefinition", err)
	}
	f.s.Step(ctx)
	res, err := f.s.Step(ctx)
	if err != nil || res.Value != 5 {
		t.Errorf("f(5) = %+v, %v; want the first body", res, err)
	}
}

func TestDumps(t *testing.T) {
	f := newFixture(t, "1+2", func(cfg *config.Config) {
		cfg.DumpIR = true
		cfg.DumpAST = true
		cfg.SetFeature(config.FeatOptimize, false)
	})
	f.run(t)
	for _, want := range []string{"(def __anon_expr() (+ 1 2))", "export function d $__anon_expr()", "add d_1, d_2"} {
		if !strings.Contains(f.dump.String(), want) {
			t.Errorf("dump missing %q:\n%s", want, f.dump.String())
		}
	}
}
