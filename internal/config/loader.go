package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadFromFile reads and parses a TOML settings file at path. Unknown
// TOML keys produce slog warnings (not errors) to stay forward compatible
// with future schema additions. Invalid TOML syntax returns an error that
// includes the file path and decoder position.
func LoadFromFile(path string) (*Settings, error) {
	var s Settings
	meta, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	warnUndecodedKeys(meta, path)
	return &s, nil
}

// LoadFromString parses TOML settings from an in-memory string. The name
// parameter is used in log messages and error output.
func LoadFromString(data, name string) (*Settings, error) {
	var s Settings
	meta, err := toml.Decode(data, &s)
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", name, err)
	}
	warnUndecodedKeys(meta, name)
	return &s, nil
}

// warnUndecodedKeys logs a warning for each key in the TOML document that
// did not map to any Settings field, so newer config files keep working
// against older binaries.
func warnUndecodedKeys(meta toml.MetaData, source string) {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return
	}
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	slog.Warn("unknown settings keys will be ignored",
		"source", source,
		"keys", strings.Join(keys, ", "),
	)
}
