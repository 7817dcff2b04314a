package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/vmt/pkg/cli"
)

type Feature int

const (
	FeatBootstrap Feature = iota
	FeatForceBootstrap
	FeatHaltLoop
	FeatSourceComments
	FeatCount
)

type Warning int

const (
	WarnDuplicateUnit Warning = iota
	WarnUndefinedLabel
	WarnMissingEntry
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	DefaultEntryPoint = "Sys.init"
	DefaultStackBase  = 256
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	EntryPoint string
	StackBase  uint16
	Verbose    bool
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		EntryPoint: DefaultEntryPoint,
		StackBase:  DefaultStackBase,
	}

	features := map[Feature]Info{
		FeatBootstrap:      {"bootstrap", true, "Emit bootstrap code when a unit declares the entry point."},
		FeatForceBootstrap: {"force-bootstrap", false, "Emit bootstrap code even when no unit declares the entry point."},
		FeatHaltLoop:       {"halt-loop", false, "Park the machine in an infinite loop if the entry point returns."},
		FeatSourceComments: {"source-comments", true, "Precede each translated opcode with a `// L<line>: <source>` comment."},
	}

	warnings := map[Warning]Info{
		WarnDuplicateUnit:  {"duplicate-unit", true, "Warn when two inputs have identical content."},
		WarnUndefinedLabel: {"undefined-label", true, "Warn when goto/if-goto names a label its function never declares."},
		WarnMissingEntry:   {"missing-entry", true, "Warn when several units are linked without an entry point."},
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

// SetStackBase parses the initial stack pointer written by the bootstrap. It
// must leave room above the registers and the static segment.
func (c *Config) SetStackBase(s string) error {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return fmt.Errorf("invalid stack base '%s': %w", s, err)
	}
	if n < 256 || n >= 16384 {
		return fmt.Errorf("stack base %d outside 256..16383", n)
	}
	c.StackBase = uint16(n)
	return nil
}

// SetEntryPoint names the function the bootstrap calls. An empty name keeps
// the default and reports false.
func (c *Config) SetEntryPoint(name string) bool {
	if name == "" {
		c.EntryPoint = DefaultEntryPoint
		return false
	}
	c.EntryPoint = name
	return true
}

// SetupFlagGroups registers -W<warning>/-Wno-<warning> and -F<feature>/-Fno-<feature>.
// The returned entries hold the parsed values, indexed by Warning and Feature.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warnings, features []cli.FlagGroupEntry) {
	warnings = make([]cli.FlagGroupEntry, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		enabled, disabled := false, false
		warnings[i] = cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Default: info.Enabled, Enabled: &enabled, Disabled: &disabled}
	}
	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning flag", "Available Warning Flags:", warnings)

	features = make([]cli.FlagGroupEntry, FeatCount)
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		enabled, disabled := false, false
		features[i] = cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Default: info.Enabled, Enabled: &enabled, Disabled: &disabled}
	}
	fs.AddFlagGroup("Feature Flags", "Enable or disable specific features", "feature flag", "Available Feature Flags:", features)

	return warnings, features
}

// ApplyFlagGroups copies the -W/-F flags given on the command line into the
// configuration. Flags that were not given leave the current value alone.
func (c *Config) ApplyFlagGroups(warnings, features []cli.FlagGroupEntry) {
	for i, entry := range warnings {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range features {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else {
		if f, ok := c.FeatureMap[name]; ok {
			c.SetFeature(f, enable)
		}
	}
}

// ProcessFlags applies flag names in two rounds so that -Wall/-Wno-all never
// override a more specific flag given on the same command line.
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) {
	visitFlag(func(name string) {
		if name == "Wall" || name == "Wno-all" {
			c.applyFlag("-" + name)
		}
	})
	visitFlag(func(name string) {
		if name != "Wall" && name != "Wno-all" {
			c.applyFlag("-" + name)
		}
	})
}
