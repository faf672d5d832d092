// Package config provides engine settings loading, multi-source
// resolution, and logging setup for the granary CLI. This package is a
// foundational cross-cutting concern used by every other internal package.
package config

// Settings is the top-level engine configuration parsed from a
// granary.toml file. It covers the ambient engine concerns; extraction
// semantics live in YAML profiles, never here.
type Settings struct {
	// Logging configures the slog default logger.
	Logging LoggingSettings `toml:"logging" koanf:"logging"`

	// Discovery configures candidate file discovery defaults.
	Discovery DiscoverySettings `toml:"discovery" koanf:"discovery"`

	// Output configures where built outputs and plan artifacts land.
	Output OutputSettings `toml:"output" koanf:"output"`

	// Concurrency bounds parallel file work (validation, hashing).
	// Zero means a per-stage default.
	Concurrency int `toml:"concurrency" koanf:"concurrency"`
}

// LoggingSettings configure the global logger.
type LoggingSettings struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `toml:"level" koanf:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" koanf:"format"`
}

// DiscoverySettings configure the candidate walker.
type DiscoverySettings struct {
	// Root is the default directory to discover candidate files under.
	Root string `toml:"root" koanf:"root"`

	// SkipLargeFiles is the size threshold in bytes above which candidates
	// are skipped. Zero disables the check.
	SkipLargeFiles int64 `toml:"skip_large_files" koanf:"skip_large_files"`

	// Include is the list of doublestar glob patterns candidates must
	// match when non-empty.
	Include []string `toml:"include" koanf:"include"`

	// Exclude is the list of doublestar glob patterns that remove
	// candidates regardless of includes.
	Exclude []string `toml:"exclude" koanf:"exclude"`

	// Extensions is the extension shorthand filter, without leading dots.
	Extensions []string `toml:"extensions" koanf:"extensions"`

	// SkipDuplicates drops candidates whose content hash was already
	// seen.
	SkipDuplicates bool `toml:"skip_duplicates" koanf:"skip_duplicates"`
}

// OutputSettings configure artifact destinations.
type OutputSettings struct {
	// Root is the directory built outputs and plan artifacts are written
	// under.
	Root string `toml:"root" koanf:"root"`
}
