package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lintableProfile = `
schema_version: "1.0.0"
meta:
  profile_id: lint_me
  title: Lintable
levels:
  - name: run
    tables:
      - id: t1
        select:
          strategy: flat_object
          path: $.summary
`

func runCLI(t *testing.T, args ...string) int {
	t.Helper()
	rootCmd.SetArgs(args)
	return Execute()
}

func TestLintCommand(t *testing.T) {
	good := filepath.Join(t.TempDir(), "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(lintableProfile), 0o644))

	assert.Equal(t, 0, runCLI(t, "lint", good))
}

func TestLintCommand_InvalidProfile(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("meta: {title: no id}\nschema_version: x\n"), 0o644))

	assert.Equal(t, 1, runCLI(t, "lint", bad))
}

func TestProbeCommand(t *testing.T) {
	csv := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(csv, []byte("a,b\n1,2\n"), 0o644))

	assert.Equal(t, 0, runCLI(t, "probe", csv))
}

func TestProbeCommand_MissingFile(t *testing.T) {
	assert.Equal(t, 2, runCLI(t, "probe", filepath.Join(t.TempDir(), "nope.csv")))
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, 0, runCLI(t, "version"))
}
