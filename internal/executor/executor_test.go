package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granarydata/granary/internal/adapter"
	"github.com/granarydata/granary/internal/profile"
)

const runDoc = `{
	"summary": {"jobname": "LOT1", "tool": "T-100", "run_time": 42.5},
	"sites": [
		{"site_id": "s0", "cd": 10.0},
		{"site_id": "s1", "cd": 11.0}
	]
}`

const runDoc2 = `{
	"summary": {"jobname": "LOT2", "tool": "T-200", "run_time": 40.0},
	"sites": [
		{"site_id": "s0", "cd": 12.0}
	]
}`

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testProfile() *profile.Profile {
	p, err := profile.Parse([]byte(`
schema_version: "1.0.0"
meta:
  profile_id: metrology
  title: Metrology Runs
datasource:
  format: json
context_defaults:
  defaults:
    jobname: DEFAULT
  content_patterns:
    - field: jobname
      path: $.summary.jobname
levels:
  - name: run
    tables:
      - id: summary
        label: Summary
        select:
          strategy: flat_object
          path: $.summary
  - name: image
    tables:
      - id: sites
        label: Sites
        select:
          strategy: array_of_objects
          path: $.sites
`))
	if err != nil {
		panic(err)
	}
	return p
}

func TestExecute_SingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "LOT1_run.json", runDoc)

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), testProfile(), []string{file}, Options{})
	require.NoError(t, err)

	require.Contains(t, result.Tables, "summary")
	require.Contains(t, result.Tables, "sites")
	assert.Equal(t, 1, result.Tables["summary"].Height())
	assert.Equal(t, 2, result.Tables["sites"].Height())
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, "LOT1", result.RunContext["jobname"])
}

func TestExecute_ContextStaysOutOfTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "r.json", runDoc)

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), testProfile(), []string{file}, Options{})
	require.NoError(t, err)

	// jobname is resolved context, not an extracted column of sites.
	assert.False(t, result.Tables["sites"].HasColumn("jobname"))
	assert.Equal(t, "LOT1", result.RunContext["jobname"])
}

func TestExecute_MultiFileAccumulation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f1 := writeDoc(t, dir, "a.json", runDoc)
	f2 := writeDoc(t, dir, "b.json", runDoc2)

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), testProfile(), []string{f1, f2}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Tables["sites"].Height())
	assert.Equal(t, 2, result.Tables["summary"].Height())
	// Caller-supplied file order is preserved in accumulation.
	assert.Equal(t, 10.0, result.Tables["sites"].Cell(0, "cd"))
	assert.Equal(t, 12.0, result.Tables["sites"].Cell(2, "cd"))
	// Run context comes from the first file.
	assert.Equal(t, "LOT1", result.RunContext["jobname"])
}

func TestExecute_SelectedTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "r.json", runDoc)

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), testProfile(), []string{file}, Options{
		SelectedTables: []string{"sites"},
	})
	require.NoError(t, err)

	assert.NotContains(t, result.Tables, "summary")
	assert.Contains(t, result.Tables, "sites")
}

func TestExecute_BadFileIsRecoverable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeDoc(t, dir, "good.json", runDoc)
	bad := writeDoc(t, dir, "bad.json", `{"broken":`)

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), testProfile(), []string{bad, good}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, 2, result.Tables["sites"].Height())
	assert.NotEmpty(t, result.Warnings)
}

func TestExecute_GovernanceLimits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f1 := writeDoc(t, dir, "a.json", runDoc)
	f2 := writeDoc(t, dir, "b.json", runDoc)

	p := testProfile()
	p.Governance = &profile.Governance{Limits: &profile.Limits{MaxFilesPerRun: 1}}

	_, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), p, []string{f1, f2}, Options{})
	var le *LimitExceededError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, le.Error(), "GOVERNANCE_LIMIT_EXCEEDED")
}

func TestExecute_AccessControl(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "a.json", runDoc)

	p := testProfile()
	p.Governance = &profile.Governance{Access: &profile.Access{Read: []string{"engineer"}}}
	ex := New(adapter.NewDefaultRegistry())

	_, err := ex.Execute(context.Background(), p, []string{file}, Options{Roles: []string{"viewer"}})
	var ae *AccessDeniedError
	require.True(t, errors.As(err, &ae))

	_, err = ex.Execute(context.Background(), p, []string{file}, Options{Roles: []string{"engineer"}})
	assert.NoError(t, err)

	// "all" opens access to everyone.
	p.Governance.Access.Read = []string{"all"}
	_, err = ex.Execute(context.Background(), p, []string{file}, Options{})
	assert.NoError(t, err)
}

func TestExecute_SkipFilePattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "nomatch.json", runDoc)

	p := testProfile()
	p.ContextDefault.RegexPatterns = []profile.RegexPattern{
		{Field: "lot", Pattern: `(?P<lot>LOT\d+)_run`, Required: true, OnFail: "skip_file"},
	}

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), p, []string{file}, Options{})
	require.NoError(t, err)

	assert.Zero(t, result.FilesProcessed)
	assert.Equal(t, 1, result.FilesSkipped)
	assert.Empty(t, result.Tables)
}

func TestExecute_DatasourceFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keep := writeDoc(t, dir, "LOT1_run.json", runDoc)
	drop := writeDoc(t, dir, "notes.json", runDoc)

	p := testProfile()
	p.Datasource.Filter = &profile.FilterNode{Field: "filename", Op: "startswith", Value: "LOT"}

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), p, []string{keep, drop}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 1, result.Tables["summary"].Height())
}

func TestExecute_UserOverrideAllowlisted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "r.json", runDoc)

	p := testProfile()
	p.ContextDefault.AllowUserOverride = []string{"jobname"}

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), p, []string{file}, Options{
		UserOverrides: map[string]any{"jobname": "USER", "evil": "x"},
	})
	require.NoError(t, err)

	assert.Equal(t, "USER", result.RunContext["jobname"])
	assert.NotContains(t, result.RunContext, "evil")
}

func TestExecute_CSVDatasource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "data.csv", "site,cd\ns0,10.5\ns1,11.5\n")

	p, err := profile.Parse([]byte(`
schema_version: "1.0.0"
meta: {profile_id: csvp, title: CSV}
datasource:
  format: csv
levels:
  - name: run
    tables:
      - id: rows
        select:
          strategy: array_of_objects
          path: $.data
`))
	require.NoError(t, err)

	result, err := New(adapter.NewDefaultRegistry()).Execute(context.Background(), p, []string{file}, Options{})
	require.NoError(t, err)

	require.Contains(t, result.Tables, "rows")
	assert.Equal(t, 2, result.Tables["rows"].Height())
	assert.Equal(t, 10.5, result.Tables["rows"].Cell(0, "cd"))
}

func TestExecute_Cancellation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeDoc(t, dir, "r.json", runDoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(adapter.NewDefaultRegistry()).Execute(ctx, testProfile(), []string{file}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
