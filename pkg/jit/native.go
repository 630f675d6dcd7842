package jit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/xplshn/kaleido/pkg/codegen"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/ir"
)

var ErrNoResult = errors.New("program produced no result")

// Native compiles the loaded units to machine code through QBE and the
// system C compiler, then runs the result as a child process. Binaries are
// cached by the hash of the IL they were built from.
type Native struct {
	units
	cfg     *config.Config
	out     io.Writer
	logger  *slog.Logger
	backend codegen.Backend
	dir     string
	cache   map[uint64]string
}

// NewNative prepares a native engine writing program output to out. It fails
// when cfg.CC cannot be found.
func NewNative(cfg *config.Config, out io.Writer, logger *slog.Logger) (*Native, error) {
	if _, err := exec.LookPath(cfg.CC); err != nil {
		return nil, fmt.Errorf("C compiler '%s' not found: %w", cfg.CC, err)
	}
	if cfg.QbeTarget == "" {
		cfg.SetTarget(runtime.GOOS, runtime.GOARCH, "")
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dir, err := os.MkdirTemp("", "kaleido-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &Native{
		units:   newUnits(),
		cfg:     cfg,
		out:     out,
		logger:  logger,
		backend: codegen.NewQBEBackend(),
		dir:     dir,
		cache:   make(map[uint64]string),
	}, nil
}

func (n *Native) Load(unit *ir.Program) (Handle, error) {
	h := n.load(unit)
	n.logger.Debug("loaded unit", "handle", h, "unit", unit.ID, "funcs", len(unit.Funcs))
	return h, nil
}

func (n *Native) Unload(h Handle) error { return n.unload(h) }

func (n *Native) Lookup(name string) error {
	if n.definition(name) == nil {
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	return nil
}

func (n *Native) Close() error {
	n.cache = make(map[uint64]string)
	return os.RemoveAll(n.dir)
}

func (n *Native) Call(ctx context.Context, name string) (float64, error) {
	if err := n.Lookup(name); err != nil {
		return 0, err
	}
	prog := Reachable(n.link(), name)

	il, err := n.backend.GenerateIR(prog, n.cfg)
	if err != nil {
		return 0, fmt.Errorf("QBE generation failed: %w", err)
	}
	il += codegen.QBERuntime(prog, name)

	key := xxhash.Sum64String(il)
	bin, ok := n.cache[key]
	if !ok {
		if bin, err = n.build(ctx, il, key); err != nil {
			return 0, err
		}
		n.cache[key] = bin
	} else {
		n.logger.Debug("reusing binary", "binary", bin)
	}
	return n.run(ctx, bin)
}

func (n *Native) build(ctx context.Context, il string, key uint64) (string, error) {
	asm, err := codegen.AssembleQBE(il, n.cfg)
	if err != nil {
		return "", err
	}
	base := filepath.Join(n.dir, strconv.FormatUint(key, 16))
	if err := os.WriteFile(base+".s", asm.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write assembly: %w", err)
	}

	args := []string{"-no-pie", "-o", base, base + ".s", "-lm"}
	args = append(args, n.cfg.LinkerArgs...)
	cmd := exec.CommandContext(ctx, n.cfg.CC, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s failed: %w\nOutput:\n%s", n.cfg.CC, err, output)
	}

	if st, err := os.Stat(base); err == nil {
		n.logger.Debug("linked binary", "binary", base, "asm", humanize.Bytes(uint64(asm.Len())), "size", humanize.Bytes(uint64(st.Size())))
	}
	return base, nil
}

// run executes bin, forwards everything it printed before the result line to
// n.out and parses the result.
func (n *Native) run(ctx context.Context, bin string) (float64, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out := stdout.Bytes()
	idx := bytes.LastIndex(out, []byte(codegen.ResultMarker))
	if idx < 0 {
		n.out.Write(out)
		if runErr != nil {
			return 0, fmt.Errorf("%s: %w\n%s", filepath.Base(bin), runErr, stderr.String())
		}
		return 0, ErrNoResult
	}
	n.out.Write(out[:idx])
	if runErr != nil {
		return 0, fmt.Errorf("%s: %w\n%s", filepath.Base(bin), runErr, stderr.String())
	}

	text := strings.TrimSpace(string(out[idx+len(codegen.ResultMarker):]))
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed result %q: %w", text, err)
	}
	return v, nil
}

// Reachable returns the part of prog that entry can call, so a program never
// links against symbols only unrelated functions need.
func Reachable(prog *ir.Program, entry string) *ir.Program {
	out := ir.NewProgram()
	seen := make(map[string]bool)
	work := []string{entry}
	for len(work) > 0 {
		name := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[name] {
			continue
		}
		seen[name] = true
		fn := prog.FindFunc(name)
		if fn == nil {
			continue
		}
		for _, b := range fn.Blocks {
			for _, instr := range b.Instructions {
				if instr.Op != ir.OpCall {
					continue
				}
				if g, ok := instr.Args[0].(*ir.Global); ok && !seen[g.Name] {
					work = append(work, g.Name)
				}
			}
		}
	}
	for _, fn := range prog.Funcs {
		if seen[fn.Name] {
			out.AddFunc(fn)
		}
	}
	return out
}
