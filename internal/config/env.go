package config

import (
	"os"
	"strconv"
)

// Environment variable name constants for GRANARY_ prefixed overrides.
const (
	// EnvLogLevel overrides the log level.
	EnvLogLevel = "GRANARY_LOG_LEVEL"
	// EnvLogFormat overrides the log output format.
	EnvLogFormat = "GRANARY_LOG_FORMAT"
	// EnvOutputRoot overrides the output root directory.
	EnvOutputRoot = "GRANARY_OUTPUT_ROOT"
	// EnvDiscoveryRoot overrides the discovery root.
	EnvDiscoveryRoot = "GRANARY_DISCOVERY_ROOT"
	// EnvConcurrency overrides the worker bound.
	EnvConcurrency = "GRANARY_CONCURRENCY"
	// EnvDebug forces debug logging when set to 1.
	EnvDebug = "GRANARY_DEBUG"
)

// buildEnvMap reads GRANARY_* environment variables into a flat map
// suitable for a koanf confmap provider. Only non-empty values that parse
// successfully are included, so a bad env var never blocks resolution.
func buildEnvMap() map[string]any {
	m := map[string]any{}

	if v := os.Getenv(EnvLogLevel); v != "" {
		m["logging.level"] = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		m["logging.format"] = v
	}
	if v := os.Getenv(EnvOutputRoot); v != "" {
		m["output.root"] = v
	}
	if v := os.Getenv(EnvDiscoveryRoot); v != "" {
		m["discovery.root"] = v
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m["concurrency"] = n
		}
	}
	return m
}
