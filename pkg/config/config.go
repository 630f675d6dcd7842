package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/xplshn/kaleido/pkg/cli"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatCommaParams Feature = iota
	FeatUnaryOps
	FeatOptimize
	FeatVerify
	FeatLineComments
	FeatCount
)

type Warning int

const (
	WarnShadow Warning = iota
	WarnExternOverride
	WarnPrecedence
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	BackendNative = "native"
	BackendInterp = "interp"
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning

	Backend    string
	QbeTarget  string
	CC         string
	LinkerArgs []string
	DumpIR     bool
	DumpAST    bool
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		Backend:    BackendNative,
		QbeTarget:  libqbe.DefaultTarget(runtime.GOOS, runtime.GOARCH),
		CC:         "cc",
	}

	features := map[Feature]Info{
		FeatCommaParams:  {"comma-params", false, "Require ',' between parameter names in prototypes."},
		FeatUnaryOps:     {"unary-ops", true, "Parse prefix operators as calls to 'unary<op>' functions."},
		FeatOptimize:     {"opt", true, "Run the local optimization pipeline over every finished function."},
		FeatVerify:       {"verify", true, "Structurally verify every finished function."},
		FeatLineComments: {"comments", true, "Recognize '#' line comments."},
	}

	warnings := map[Warning]Info{
		WarnShadow:         {"shadow", false, "Warn when a loop variable shadows an existing binding."},
		WarnExternOverride: {"extern-override", true, "Warn when an extern changes the arity of a known function."},
		WarnPrecedence:     {"precedence", true, "Warn when a binary operator declaration changes an existing precedence."},
		WarnExtra:          {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget configures the native backend for a QBE target, defaulting to the host.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
	} else {
		c.QbeTarget = qbeTarget
	}

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
	default:
		fmt.Fprintf(os.Stderr, "kaleido: warning: unrecognized or unsupported QBE target '%s'\n", c.QbeTarget)
	}
}

func (c *Config) SetBackend(name string) error {
	switch name {
	case BackendNative, BackendInterp:
		c.Backend = name
		return nil
	}
	return fmt.Errorf("unsupported backend '%s'. Supported: '%s', '%s'", name, BackendNative, BackendInterp)
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyFlag applies a single -W<name>, -Wno-<name>, -F<name> or -Fno-<name> switch.
func (c *Config) ApplyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	var isWarning bool
	switch {
	case strings.HasPrefix(trimmed, "W"):
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
	default:
		return fmt.Errorf("unrecognized flag '%s'", flag)
	}
	name := trimmed[1:]
	enable := !strings.HasPrefix(name, "no-")
	name = strings.TrimPrefix(name, "no-")

	if isWarning && name == "all" {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return nil
	}

	if isWarning {
		w, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(w, enable)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok {
		return fmt.Errorf("unknown feature '%s'", name)
	}
	c.SetFeature(f, enable)
	return nil
}

// SetupFlagGroups registers -W/-F switches for every warning and feature on fs.
// The returned entries are indexed by Warning and Feature respectively.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) ([]cli.FlagGroupEntry, []cli.FlagGroupEntry) {
	warningFlags := make([]cli.FlagGroupEntry, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		enabled, disabled := false, false
		warningFlags[i] = cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Default: info.Enabled, Enabled: &enabled, Disabled: &disabled}
	}

	featureFlags := make([]cli.FlagGroupEntry, FeatCount)
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		enabled, disabled := false, false
		featureFlags[i] = cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Default: info.Enabled, Enabled: &enabled, Disabled: &disabled}
	}

	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning flag", "Available Warning Flags:", warningFlags)
	fs.AddFlagGroup("Feature Flags", "Enable or disable specific features", "feature flag", "Available feature flags:", featureFlags)
	return warningFlags, featureFlags
}

// ApplyFlagGroups applies the switches given on the command line. Entries
// that were not mentioned leave the config untouched.
func (c *Config) ApplyFlagGroups(warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i, entry := range warningFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range featureFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}
