// Package session drives the incremental loop: parse one top-level item,
// generate it into the active unit, hand the unit to an engine and start a
// fresh one.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goforj/godump"
	"github.com/xplshn/kaleido/pkg/ast"
	"github.com/xplshn/kaleido/pkg/codegen"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/ir"
	"github.com/xplshn/kaleido/pkg/jit"
	"github.com/xplshn/kaleido/pkg/lexer"
	"github.com/xplshn/kaleido/pkg/parser"
	"github.com/xplshn/kaleido/pkg/token"
	"github.com/xplshn/kaleido/pkg/util"
)

// DefaultPrompt is printed before each top-level item in interactive mode.
const DefaultPrompt = "ready> "

type ItemKind int

const (
	ItemDefinition ItemKind = iota
	ItemExtern
	ItemExpression
)

func (k ItemKind) String() string {
	switch k {
	case ItemDefinition:
		return "definition"
	case ItemExtern:
		return "extern"
	case ItemExpression:
		return "expression"
	}
	return "item"
}

// Result describes one successfully processed top-level item.
type Result struct {
	Kind    ItemKind
	Name    string
	Value   float64
	Message string
}

// Session is the state that survives across top-level items: the operator
// table, the prototype registry and the engine with its loaded units.
type Session struct {
	cfg     *config.Config
	engine  jit.Engine
	ops     *parser.OpTable
	cg      *codegen.Context
	backend codegen.Backend
	rep     *util.Reporter
	logger  *slog.Logger

	in        io.Reader
	fileIndex int
	p         *parser.Parser

	out       io.Writer
	dump      io.Writer
	prompt    string
	promptOut io.Writer

	handles []jit.Handle
}

type Option func(*Session)

// WithReporter sets the reporter diagnostics and warnings are printed to.
func WithReporter(rep *util.Reporter) Option { return func(s *Session) { s.rep = rep } }

// WithOutput sets where acknowledgements are written.
func WithOutput(w io.Writer) Option { return func(s *Session) { s.out = w } }

// WithDumpOutput sets where IR and AST dumps are written.
func WithDumpOutput(w io.Writer) Option { return func(s *Session) { s.dump = w } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithInput reads the program from a stream with no recorded source text.
func WithInput(r io.Reader) Option {
	return func(s *Session) { s.in, s.fileIndex = r, -1 }
}

// WithSource reads the program from content, recorded under name so that
// diagnostics can quote the offending line.
func WithSource(name, content string) Option {
	return func(s *Session) { s.SetSource(name, content) }
}

// WithPrompt prints prompt to w before each top-level item.
func WithPrompt(prompt string, w io.Writer) Option {
	return func(s *Session) { s.prompt, s.promptOut = prompt, w }
}

// New creates a session running units on engine. Options are applied in
// order, so WithReporter must precede WithSource.
func New(cfg *config.Config, engine jit.Engine, opts ...Option) *Session {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	s := &Session{
		cfg:       cfg,
		engine:    engine,
		ops:       parser.NewOpTable(),
		backend:   codegen.NewQBEBackend(),
		logger:    slog.New(slog.DiscardHandler),
		in:        os.Stdin,
		fileIndex: -1,
		out:       os.Stdout,
		dump:      os.Stdout,
	}
	s.rep = util.NewReporter(cfg, os.Stderr)
	for _, opt := range opts {
		opt(s)
	}
	s.cg = codegen.NewContext(cfg, codegen.NewRegistry(), s.rep)
	s.cg.SetLogger(s.logger)
	return s
}

// SetSource switches the session to a new input. Operators, prototypes and
// loaded units carry over; the lookahead of the previous input is dropped.
func (s *Session) SetSource(name, content string) {
	s.in = strings.NewReader(content)
	s.fileIndex = s.rep.AddSourceFile(name, []rune(content))
	s.p = nil
}

// Close unloads every unit and closes the engine.
func (s *Session) Close() error {
	var errs []error
	for _, h := range s.handles {
		errs = append(errs, s.engine.Unload(h))
	}
	s.handles = nil
	errs = append(errs, s.engine.Close())
	return errors.Join(errs...)
}

// Run processes items until the input is exhausted or ctx is cancelled.
// Failed items are reported and never stop the loop.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.Step(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			s.rep.Error(err)
			continue
		}
		if res != nil {
			fmt.Fprintln(s.out, res.Message)
		}
	}
}

// Step processes exactly one top-level item. It returns io.EOF at the end of
// input, and a nil Result for a lone ';'. After a parse error one token is
// discarded before the next Step.
func (s *Session) Step(ctx context.Context) (*Result, error) {
	if s.prompt != "" && s.promptOut != nil {
		fmt.Fprint(s.promptOut, s.prompt)
	}
	if s.p == nil {
		s.p = parser.New(lexer.New(s.in, s.fileIndex, s.cfg), s.ops, s.cfg, s.rep)
		s.p.Advance()
	}

	tok := s.p.Current()
	switch {
	case tok.Type == token.EOF:
		return nil, io.EOF
	case tok.Is(';'):
		s.p.Advance()
		return nil, nil
	case tok.Type == token.Def:
		return s.handleDefinition()
	case tok.Type == token.Extern:
		return s.handleExtern()
	}
	return s.handleExpression(ctx)
}

// skip discards the token a parse error stopped at.
func (s *Session) skip(err error) error {
	s.p.Advance()
	return err
}

func (s *Session) handleDefinition() (*Result, error) {
	node, err := s.p.ParseDefinition()
	if err != nil {
		return nil, s.skip(err)
	}
	s.dumpAST(node)
	fn, err := s.cg.GenFunction(node)
	if err != nil {
		return nil, err
	}
	if err := s.commit(node.Tok); err != nil {
		// The engine never got the body, so the name may be defined again.
		s.cg.Registry().SetDefined(fn.Name, false)
		return nil, err
	}
	proto := node.Data.(ast.FunctionNode).Proto.Data.(ast.PrototypeNode)
	return &Result{Kind: ItemDefinition, Name: fn.Name, Message: "Defined " + signature(proto)}, nil
}

func (s *Session) handleExtern() (*Result, error) {
	node, err := s.p.ParseExtern()
	if err != nil {
		return nil, s.skip(err)
	}
	s.dumpAST(node)
	fn, err := s.cg.GenExtern(node)
	if err != nil {
		return nil, err
	}
	if err := s.commit(node.Tok); err != nil {
		return nil, err
	}
	proto := node.Data.(ast.PrototypeNode)
	return &Result{Kind: ItemExtern, Name: fn.Name, Message: "Declared extern " + signature(proto)}, nil
}

// commit loads the active unit into the engine and keeps it loaded.
func (s *Session) commit(tok token.Token) error {
	unit := s.cg.TakeUnit()
	s.dumpIR(unit)
	h, err := s.engine.Load(unit)
	if err != nil {
		return backendError(tok, err)
	}
	s.handles = append(s.handles, h)
	s.logger.Debug("committed unit", "unit", unit.ID, "handle", h)
	return nil
}

func (s *Session) handleExpression(ctx context.Context) (*Result, error) {
	node, err := s.p.ParseTopLevelExpr()
	if err != nil {
		return nil, s.skip(err)
	}
	s.dumpAST(node)
	defer s.cg.Registry().Delete(parser.AnonExprName)

	if _, err := s.cg.GenFunction(node); err != nil {
		return nil, err
	}
	unit := s.cg.TakeUnit()
	s.dumpIR(unit)

	h, err := s.engine.Load(unit)
	if err != nil {
		return nil, backendError(node.Tok, err)
	}
	defer func() {
		if err := s.engine.Unload(h); err != nil {
			s.logger.Warn("unload failed", "handle", h, "err", err)
		}
	}()

	if err := s.engine.Lookup(parser.AnonExprName); err != nil {
		return nil, backendError(node.Tok, err)
	}
	v, err := s.engine.Call(ctx, parser.AnonExprName)
	if err != nil {
		return nil, backendError(node.Tok, err)
	}
	return &Result{Kind: ItemExpression, Name: parser.AnonExprName, Value: v, Message: fmt.Sprintf("Evaluated to %f", v)}, nil
}

func backendError(tok token.Token, err error) error {
	return util.Errorf(util.KindBackend, tok, err, "%v", err)
}

// signature renders a prototype the way acknowledgements show it.
func signature(p ast.PrototypeNode) string {
	return p.Name + "(" + strings.Join(p.Params, " ") + ")"
}

func (s *Session) dumpIR(unit *ir.Program) {
	if !s.cfg.DumpIR {
		return
	}
	text, err := s.backend.GenerateIR(unit, s.cfg)
	if err != nil {
		s.rep.Error(backendError(token.Token{FileIndex: -1}, err))
		return
	}
	fmt.Fprint(s.dump, text)
}

func (s *Session) dumpAST(node *ast.Node) {
	if !s.cfg.DumpAST {
		return
	}
	fmt.Fprintln(s.dump, ast.String(node))
	fmt.Fprint(s.dump, godump.DumpStr(node))
}
