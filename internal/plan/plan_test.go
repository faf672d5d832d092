package plan

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granarydata/granary/internal/testutil"
)

func testEnv() *EnvironmentProfile {
	return &EnvironmentProfile{
		ID:     uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Name:   "Test Environment",
		Source: "filesystem",
		Roots: DataRoots{
			TemplatesRoot: "/templates",
			OutputRoot:    "/output",
			DataAggRel:    "{run_key}/DataAgg/{category}",
		},
		Contexts: []JobContext{{
			Name:    "Sides",
			Key:     "sides",
			Values:  []string{"Left", "Right"},
			Aliases: map[string]string{"l": "Left", "r": "Right"},
		}},
		PrimaryKey: "sides",
	}
}

func testDRM() *DRM {
	return &DRM{
		TemplateID:       uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
		RequiredContexts: []RequiredContext{{Name: "side", Required: true}},
		RequiredMetrics:  []RequiredMetric{{Name: "CD", Aggregation: "mean"}},
	}
}

func testMappings() *Mappings {
	return &Mappings{
		ProjectID: uuid.MustParse("99999999-8888-7777-6666-555555555555"),
		Contexts:  []ContextMapping{{ContextName: "side", SourceType: "column", SourceColumn: "Side"}},
		Metrics:   []MetricMapping{{MetricName: "CD", SourceColumn: "Space CD (nm)"}},
	}
}

func TestCanonicalJSON_SortsMapKeys(t *testing.T) {
	t.Parallel()

	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2, "c": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":["x"]}`, string(a))
}

func TestCanonicalJSON_TimestampsAndUUIDs(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 10, 30, 0, 0, time.FixedZone("X", 3600))
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	out, err := CanonicalJSON(map[string]any{"t": ts, "id": id})
	require.NoError(t, err)
	// Timestamp renders fixed-width UTC; UUID renders 36 chars.
	assert.Equal(t, `{"id":"11111111-2222-3333-4444-555555555555","t":"2024-03-05T09:30:00.000000000Z"}`, string(out))
}

func TestCanonicalJSON_StructFieldsSorted(t *testing.T) {
	t.Parallel()

	out, err := CanonicalJSON(Lookup{
		FSRoot:            "/r",
		FSDataAgg:         "/d",
		JobContextFolders: map[string]string{"Right": "/d/R", "Left": "/d/L"},
	})
	require.NoError(t, err)
	testutil.Golden(t, "lookup_canonical", out)
}

func TestSHA1Hex_IndependentOfMapOrder(t *testing.T) {
	t.Parallel()

	// Build the "same" map many times; Go randomizes iteration order, the
	// canonical form must not care.
	want, err := SHA1Hex(map[string]any{"a": 1, "b": 2, "c": 3, "d": 4})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		got, err := SHA1Hex(map[string]any{"d": 4, "c": 3, "b": 2, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Len(t, want, 40)
}

func TestRequestGraph_Deduplicate(t *testing.T) {
	t.Parallel()

	g := RequestGraph{}
	g.Add(Partition{RunKey: "r1", JobContextValue: "Left", FilePaths: []string{"a.csv"}})
	g.Add(Partition{RunKey: "r1", JobContextValue: "Left", FilePaths: []string{"b.csv"}})
	g.Add(Partition{RunKey: "r1", JobContextValue: "Right"})

	g.Deduplicate()

	assert.Equal(t, 2, g.TotalPartitions)
	assert.Equal(t, 1, g.DedupedCount)
	// First occurrence survives.
	assert.Equal(t, []string{"a.csv"}, g.Partitions[0].FilePaths)

	seen := map[[2]string]bool{}
	for _, p := range g.Partitions {
		assert.False(t, seen[p.Key()])
		seen[p.Key()] = true
	}
}

func TestRequestGraph_SortStable(t *testing.T) {
	t.Parallel()

	g := RequestGraph{}
	g.Add(Partition{RunKey: "r2", JobContextValue: "Left"})
	g.Add(Partition{RunKey: "r1", JobContextValue: "Right"})
	g.Add(Partition{RunKey: "r1", JobContextValue: "Left"})

	g.SortStable()

	assert.Equal(t, "r1", g.Partitions[0].RunKey)
	assert.Equal(t, "Left", g.Partitions[0].JobContextValue)
	assert.Equal(t, "Right", g.Partitions[1].JobContextValue)
	assert.Equal(t, "r2", g.Partitions[2].RunKey)
}

func TestBuild_LookupExpandsPrimaryContext(t *testing.T) {
	t.Parallel()

	artifacts, err := NewBuilder().Build(testDRM(), testMappings(), testEnv(), uuid.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, "/templates", artifacts.Lookup.FSRoot)
	assert.Equal(t, "/output", artifacts.Lookup.FSDataAgg)
	assert.Equal(t, "/output/{run_key}/DataAgg/Left", artifacts.Lookup.JobContextFolders["Left"])
	assert.Equal(t, "/output/{run_key}/DataAgg/Right", artifacts.Lookup.JobContextFolders["Right"])
}

func TestBuild_AliasesResolveInRequestGraph(t *testing.T) {
	t.Parallel()

	artifacts, err := NewBuilder().Build(testDRM(), testMappings(), testEnv(), uuid.New(), []PartitionSource{
		{RunKey: "r1", JobContextValue: "l", FilePaths: []string{"x.csv"}},
		{RunKey: "r1", JobContextValue: "Left", FilePaths: []string{"y.csv"}},
	})
	require.NoError(t, err)

	// Alias "l" resolved to "Left" and the duplicate collapsed.
	require.Equal(t, 1, artifacts.RequestGraph.TotalPartitions)
	assert.Equal(t, "Left", artifacts.RequestGraph.Partitions[0].JobContextValue)
	assert.Equal(t, 1, artifacts.RequestGraph.DedupedCount)
}

func TestBuild_ManifestDeterminism(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	projectID := uuid.MustParse("12121212-3434-5656-7878-909090909090")
	sources := []PartitionSource{
		{RunKey: "r2", JobContextValue: "Right", FilePaths: []string{"b.csv"}},
		{RunKey: "r1", JobContextValue: "Left", FilePaths: []string{"a.csv"}},
	}

	first, err := b.Build(testDRM(), testMappings(), testEnv(), projectID, sources)
	require.NoError(t, err)
	second, err := b.Build(testDRM(), testMappings(), testEnv(), projectID, sources)
	require.NoError(t, err)

	assert.Equal(t, first.Manifest.DRMSHA1, second.Manifest.DRMSHA1)
	assert.Equal(t, first.Manifest.MappingsSHA1, second.Manifest.MappingsSHA1)
	assert.Equal(t, first.Manifest.EnvironmentSHA1, second.Manifest.EnvironmentSHA1)
	assert.Equal(t, first.Manifest.LookupSHA1, second.Manifest.LookupSHA1)
	assert.Equal(t, first.Manifest.RequestGraphSHA1, second.Manifest.RequestGraphSHA1)
	assert.Equal(t, CodeVersion, first.Manifest.CodeVersion)
	// FrozenAt differs between builds but is not hashed, so the hashes
	// above already proved it is excluded.
}

func TestJobContext_Resolve(t *testing.T) {
	t.Parallel()

	jc := testEnv().Contexts[0]
	assert.Equal(t, "Left", jc.Resolve("Left"))
	assert.Equal(t, "Left", jc.Resolve("l"))
	assert.Empty(t, jc.Resolve("unknown"))
}
