package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromString(t *testing.T) {
	t.Parallel()

	s, err := LoadFromString(`
concurrency = 8

[logging]
level = "debug"
format = "json"

[discovery]
root = "/data"
skip_large_files = 1024
extensions = ["csv", "json"]

[output]
root = "/out"
`, "test")
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "json", s.Logging.Format)
	assert.Equal(t, "/data", s.Discovery.Root)
	assert.Equal(t, int64(1024), s.Discovery.SkipLargeFiles)
	assert.Equal(t, []string{"csv", "json"}, s.Discovery.Extensions)
	assert.Equal(t, "/out", s.Output.Root)
	assert.Equal(t, 8, s.Concurrency)
}

func TestLoadFromString_InvalidTOML(t *testing.T) {
	t.Parallel()

	_, err := LoadFromString(`[logging`, "bad")
	assert.Error(t, err)
}

func TestResolve_Layering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingsFileName), []byte(`
[logging]
level = "warn"

[output]
root = "/from-file"
`), 0o644))

	t.Setenv(EnvOutputRoot, "/from-env")

	s, err := Resolve(ResolveOptions{
		TargetDir: dir,
		Flags:     map[string]any{"logging.format": "json"},
	})
	require.NoError(t, err)

	// File beats default, env beats file, flag beats all.
	assert.Equal(t, "warn", s.Logging.Level)
	assert.Equal(t, "/from-env", s.Output.Root)
	assert.Equal(t, "json", s.Logging.Format)
	// Untouched default survives.
	assert.Equal(t, ".", s.Discovery.Root)
}

func TestResolve_MissingFileIsIgnored(t *testing.T) {
	t.Parallel()

	s, err := Resolve(ResolveOptions{TargetDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "info", s.Logging.Level)
}

func TestResolve_ExplicitMissingFileErrors(t *testing.T) {
	t.Parallel()

	_, err := Resolve(ResolveOptions{SettingsFile: filepath.Join(t.TempDir(), "none.toml")})
	assert.Error(t, err)
}

func TestResolveLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		quiet    bool
		settings string
		want     slog.Level
	}{
		{"verbose wins", true, true, "error", slog.LevelDebug},
		{"quiet", false, true, "info", slog.LevelError},
		{"settings debug", false, false, "debug", slog.LevelDebug},
		{"settings warn", false, false, "warn", slog.LevelWarn},
		{"default info", false, false, "", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveLogLevel(tt.verbose, tt.quiet, tt.settings))
		})
	}
}

func TestResolveLogLevel_DebugEnv(t *testing.T) {
	t.Setenv(EnvDebug, "1")
	assert.Equal(t, slog.LevelDebug, ResolveLogLevel(false, true, "error"))
}

func TestSetupLoggingWithWriter_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	SetupLoggingWithWriter(slog.LevelInfo, "json", &buf)
	slog.Info("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestValidateFlags(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateFlags(&FlagValues{}))
	assert.Error(t, ValidateFlags(&FlagValues{Verbose: true, Quiet: true}))
	assert.Error(t, ValidateFlags(&FlagValues{LogFormat: "xml"}))
}

func TestFlagOverrides(t *testing.T) {
	t.Parallel()

	m := FlagOverrides(&FlagValues{Dir: "/d", LogFormat: "json"})
	assert.Equal(t, "/d", m["discovery.root"])
	assert.Equal(t, "json", m["logging.format"])
	assert.NotContains(t, m, "output.root")
}
