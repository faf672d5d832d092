package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalProfile = `
schema_version: "1.0.0"
version: 2
meta:
  profile_id: cd_metrology
  title: CD Metrology Runs
datasource:
  format: json
levels:
  - name: run
    tables:
      - id: summary
        label: Run Summary
        select:
          strategy: flat_object
          path: $.summary
  - name: image
    tables:
      - id: sites
        label: Site Measurements
        select:
          strategy: array_of_objects
          path: $.sites
        stable_columns: [site_id, cd]
        stable_columns_mode: error
outputs:
  defaults:
    - id: run_data
      from_level: run
      from_tables: [summary]
`

func parseValid(t *testing.T, src string) *Profile {
	t.Helper()
	p, err := Parse([]byte(src))
	require.NoError(t, err)
	return p
}

func TestParse_Minimal(t *testing.T) {
	t.Parallel()

	p := parseValid(t, minimalProfile)

	assert.Equal(t, "cd_metrology", p.Meta.ProfileID)
	assert.Equal(t, 2, p.Version)
	require.Len(t, p.Levels, 2)
	assert.Equal(t, "run", p.Levels[0].Name)
	require.Len(t, p.AllTables(), 2)
	assert.Equal(t, "error", p.GetTable("image", "sites").Mode())
	assert.True(t, p.GetTable("image", "sites").SubsetAllowed())
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalProfile), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cd_metrology", p.Meta.ProfileID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing profile id",
			src: `
schema_version: "1.0.0"
meta:
  title: No ID
`,
			want: "validate profile",
		},
		{
			name: "duplicate table in level",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: run
    tables:
      - id: t1
        select: {strategy: flat_object, path: $.a}
      - id: t1
        select: {strategy: flat_object, path: $.b}
`,
			want: "duplicate table id",
		},
		{
			name: "headers_data missing data_key",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: run
    tables:
      - id: t1
        select: {strategy: headers_data, path: $.stats, headers_key: headers}
`,
			want: "data_key",
		},
		{
			name: "join missing right",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: run
    tables:
      - id: t1
        select:
          strategy: join
          left: {path: $.a, key: id}
`,
			want: "right.path",
		},
		{
			name: "output references unknown level",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: run
    tables:
      - id: t1
        select: {strategy: flat_object, path: $.a}
outputs:
  defaults:
    - id: o1
      from_level: ghost
      from_tables: [t1]
`,
			want: "unknown level",
		},
		{
			name: "aggregation references unknown table",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: run
    tables:
      - id: t1
        select: {strategy: flat_object, path: $.a}
outputs:
  aggregations:
    - id: a1
      from_table: ghost
      group_by: [x]
      aggregations: {v: mean}
`,
			want: "unknown table",
		},
		{
			name: "bad regex pattern",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
context_defaults:
  regex_patterns:
    - field: lot
      pattern: "(?P<lot"
`,
			want: "regex pattern",
		},
		{
			name: "unknown strategy",
			src: `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: run
    tables:
      - id: t1
        select: {strategy: transmute, path: $.a}
`,
			want: "validate profile",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_RepeatOverRequiresBlock(t *testing.T) {
	t.Parallel()

	src := `
schema_version: "1.0.0"
meta: {profile_id: p, title: T}
levels:
  - name: image
    tables:
      - id: site_stats
        select:
          strategy: headers_data
          path: $.sites[{i}].stats
          headers_key: headers
          data_key: rows
          repeat_over:
            path: $.sites
            as: i
            inject_fields:
              site_id: $.id
`
	p := parseValid(t, src)
	sel := p.GetTable("image", "site_stats").Select
	require.NotNil(t, sel.RepeatOver)
	assert.Equal(t, "i", sel.RepeatOver.AsVar)
	assert.Equal(t, "$.id", sel.RepeatOver.InjectFields["site_id"])
}

func TestLimits_Effective(t *testing.T) {
	t.Parallel()

	var l *Limits
	eff := l.Effective()
	assert.Equal(t, DefaultMaxFilesPerRun, eff.MaxFilesPerRun)
	assert.Equal(t, DefaultPreviewTimeoutSeconds, eff.PreviewTimeoutSeconds)

	custom := &Limits{MaxFilesPerRun: 5}
	eff = custom.Effective()
	assert.Equal(t, 5, eff.MaxFilesPerRun)
	assert.Equal(t, DefaultMaxFileSizeMB, eff.MaxFileSizeMB)
}
