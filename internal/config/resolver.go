package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/providers/confmap"
	koanf "github.com/knadh/koanf/v2"
)

// SettingsFileName is the settings file searched for in the target
// directory.
const SettingsFileName = "granary.toml"

// ResolveOptions configures multi-source settings resolution.
type ResolveOptions struct {
	// SettingsFile is an explicit settings file path. When set, the
	// target-directory search is skipped; a missing explicit file is an
	// error.
	SettingsFile string

	// TargetDir is the directory to search for granary.toml. Defaults to
	// ".".
	TargetDir string

	// Flags holds explicit CLI flag overrides (highest precedence), keyed
	// by flat setting path ("logging.level", "output.root", ...).
	Flags map[string]any
}

// Resolve runs the 4-layer settings resolution pipeline:
//
//  1. Built-in defaults
//  2. Settings file (granary.toml)
//  3. Environment variables (GRANARY_* prefix)
//  4. CLI flags
//
// A missing granary.toml in the target directory is silently ignored; an
// invalid one returns an error.
func Resolve(opts ResolveOptions) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(settingsToFlatMap(DefaultSettings()), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	path := opts.SettingsFile
	explicit := path != ""
	if path == "" {
		dir := opts.TargetDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, SettingsFileName)
	}
	if _, err := os.Stat(path); err == nil {
		fileSettings, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(confmap.Provider(settingsToFlatMap(fileSettings), "."), nil); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		slog.Debug("settings file loaded", "path", path)
	} else if explicit {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}

	if err := k.Load(confmap.Provider(buildEnvMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	if len(opts.Flags) > 0 {
		if err := k.Load(confmap.Provider(opts.Flags, "."), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var out Settings
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &out, nil
}

// settingsToFlatMap flattens a Settings value onto koanf paths. Only
// non-zero values are emitted so lower layers show through.
func settingsToFlatMap(s *Settings) map[string]any {
	m := map[string]any{}
	if s.Logging.Level != "" {
		m["logging.level"] = s.Logging.Level
	}
	if s.Logging.Format != "" {
		m["logging.format"] = s.Logging.Format
	}
	if s.Discovery.Root != "" {
		m["discovery.root"] = s.Discovery.Root
	}
	if s.Discovery.SkipLargeFiles != 0 {
		m["discovery.skip_large_files"] = s.Discovery.SkipLargeFiles
	}
	if len(s.Discovery.Include) > 0 {
		m["discovery.include"] = s.Discovery.Include
	}
	if len(s.Discovery.Exclude) > 0 {
		m["discovery.exclude"] = s.Discovery.Exclude
	}
	if len(s.Discovery.Extensions) > 0 {
		m["discovery.extensions"] = s.Discovery.Extensions
	}
	if s.Discovery.SkipDuplicates {
		m["discovery.skip_duplicates"] = true
	}
	if s.Output.Root != "" {
		m["output.root"] = s.Output.Root
	}
	if s.Concurrency != 0 {
		m["concurrency"] = s.Concurrency
	}
	return m
}
