package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/xplshn/kaleido/pkg/cli"
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/jit"
	"github.com/xplshn/kaleido/pkg/session"
	"github.com/xplshn/kaleido/pkg/util"
	"golang.org/x/term"
)

func main() {
	app := cli.NewApp("kaleido")
	app.Synopsis = "[options] [file.ks ...]"
	app.Description = "An incremental compiler for a small expression language. Reads from standard input when no files are given."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/kaleido>"

	var (
		backend    string
		target     string
		cc         string
		logLevel   string
		logFormat  string
		linkerArgs []string
		dumpIR     bool
		dumpAST    bool
		wall       bool
		noPrompt   bool
	)

	fs := app.FlagSet
	fs.String(&backend, "backend", "b", config.BackendNative, "Execution engine: 'native' (QBE + cc) or 'interp'.", "engine")
	fs.String(&target, "target", "t", "", "QBE target for the native engine (defaults to the host).", "target")
	fs.String(&cc, "cc", "C", "cc", "C compiler used to link native units.", "path")
	fs.List(&linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")
	fs.Bool(&dumpIR, "dump-ir", "d", false, "Print the QBE IL of every finished unit.")
	fs.Bool(&dumpAST, "dump-ast", "", false, "Print the AST of every top-level item.")
	fs.String(&logLevel, "log-level", "v", "warn", "Internal log level (debug, info, warn, error).", "level")
	fs.String(&logFormat, "log-format", "", "text", "Internal log format (text, json).", "format")
	fs.Bool(&wall, "Wall", "", false, "Enable all warnings.")
	fs.Bool(&noPrompt, "no-prompt", "", false, "Never print the interactive prompt.")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	app.Action = func(inputFiles []string) error {
		if wall {
			for i := config.Warning(0); i < config.WarnCount; i++ {
				cfg.SetWarning(i, true)
			}
		}
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target)
		if err := cfg.SetBackend(backend); err != nil {
			fmt.Fprintf(os.Stderr, "kaleido: error: %v\n", err)
			return err
		}
		cfg.CC = cc
		cfg.LinkerArgs = append(cfg.LinkerArgs, linkerArgs...)
		cfg.DumpIR, cfg.DumpAST = dumpIR, dumpAST

		logger, err := util.NewLogger(util.LogConfig{Level: logLevel, Format: logFormat}, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kaleido: error: %v\n", err)
			return err
		}

		engine := newEngine(cfg, logger)
		rep := util.NewReporter(cfg, os.Stderr)
		opts := []session.Option{session.WithReporter(rep), session.WithLogger(logger)}

		interactive := len(inputFiles) == 0
		if interactive && !noPrompt && term.IsTerminal(int(os.Stdin.Fd())) {
			opts = append(opts, session.WithPrompt(session.DefaultPrompt, os.Stderr))
		}

		s := session.New(cfg, engine, opts...)
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if interactive {
			return s.Run(ctx)
		}
		for _, path := range inputFiles {
			content, err := os.ReadFile(path)
			if err != nil {
				rep.Error(fmt.Errorf("could not read file '%s': %w", path, err))
				continue
			}
			s.SetSource(path, string(content))
			if err := s.Run(ctx); err != nil {
				return err
			}
		}
		if rep.Errors > 0 {
			return fmt.Errorf("%d error(s)", rep.Errors)
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// newEngine builds the configured engine, falling back to the interpreter
// when the native toolchain is missing.
func newEngine(cfg *config.Config, logger *slog.Logger) jit.Engine {
	if cfg.Backend == config.BackendNative {
		native, err := jit.NewNative(cfg, os.Stdout, logger)
		if err == nil {
			return native
		}
		fmt.Fprintf(os.Stderr, "kaleido: warning: %v; using the interpreter\n", err)
	}
	return jit.NewInterp(os.Stdout)
}
