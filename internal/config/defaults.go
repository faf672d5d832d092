package config

// DefaultSkipLargeFiles is the default discovery size threshold (512 MiB).
const DefaultSkipLargeFiles int64 = 512 * 1024 * 1024

// DefaultSettings returns the built-in settings layer: the values in
// effect when no settings file, environment variable, or flag overrides
// them.
func DefaultSettings() *Settings {
	return &Settings{
		Logging: LoggingSettings{
			Level:  "info",
			Format: "text",
		},
		Discovery: DiscoverySettings{
			Root:           ".",
			SkipLargeFiles: DefaultSkipLargeFiles,
		},
		Output: OutputSettings{
			Root: "output",
		},
		Concurrency: 0,
	}
}
