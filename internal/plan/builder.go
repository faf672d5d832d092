package plan

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CodeVersion stamps built manifests; it changes only when the plan
// semantics change.
const CodeVersion = "2.0.0"

// PartitionSource supplies the (run_key, value) partitions observed in
// available data, with their file paths.
type PartitionSource struct {
	RunKey          string
	JobContextValue string
	FilePaths       []string
}

// Builder builds frozen plan artifacts.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder returns a plan builder.
func NewBuilder() *Builder {
	return &Builder{logger: slog.Default().With("component", "plan-builder")}
}

// Build produces the complete artifact triple. Partitions come from the
// caller's scan of available data; the builder dedupes and stable-sorts
// them before hashing. FrozenAt lives beside the hashes but never inside
// any hashed input.
func (b *Builder) Build(drm *DRM, mappings *Mappings, env *EnvironmentProfile, projectID uuid.UUID, partitions []PartitionSource) (*Artifacts, error) {
	b.logger.Info("building plan", "project_id", projectID.String())

	lookup := b.buildLookup(env)
	graph := b.buildRequestGraph(env, partitions)

	manifest, err := b.buildManifest(drm, mappings, env, &lookup, &graph)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}

	b.logger.Info("plan built",
		"partitions", graph.TotalPartitions,
		"deduped", graph.DedupedCount,
		"drm_sha1", manifest.DRMSHA1[:8],
	)

	return &Artifacts{
		ID:           uuid.New(),
		ProjectID:    projectID,
		Lookup:       lookup,
		RequestGraph: graph,
		Manifest:     manifest,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// buildLookup expands the environment's path template for every valid
// value of the primary job-context dimension.
func (b *Builder) buildLookup(env *EnvironmentProfile) Lookup {
	folders := map[string]string{}
	if primary := env.PrimaryContext(); primary != nil {
		rel := env.Roots.DataAggRel
		if rel == "" {
			rel = "{run_key}/DataAgg/{category}"
		}
		for _, value := range primary.Values {
			expanded := strings.ReplaceAll(rel, "{category}", value)
			folders[value] = path.Join(env.Roots.OutputRoot, expanded)
		}
	}
	return Lookup{
		FSRoot:            env.Roots.TemplatesRoot,
		FSDataAgg:         env.Roots.OutputRoot,
		JobContextFolders: folders,
	}
}

// buildRequestGraph resolves context values through aliases, then dedupes
// and stable-sorts.
func (b *Builder) buildRequestGraph(env *EnvironmentProfile, sources []PartitionSource) RequestGraph {
	primary := env.PrimaryContext()

	graph := RequestGraph{}
	for _, src := range sources {
		value := src.JobContextValue
		if primary != nil {
			if resolved := primary.Resolve(value); resolved != "" {
				value = resolved
			}
		}
		graph.Add(Partition{
			RunKey:          src.RunKey,
			JobContextValue: value,
			FilePaths:       src.FilePaths,
		})
	}
	graph.Deduplicate()
	graph.SortStable()
	return graph
}

func (b *Builder) buildManifest(drm *DRM, mappings *Mappings, env *EnvironmentProfile, lookup *Lookup, graph *RequestGraph) (Manifest, error) {
	drmSHA, err := SHA1Hex(drm)
	if err != nil {
		return Manifest{}, err
	}
	mapSHA, err := SHA1Hex(mappings)
	if err != nil {
		return Manifest{}, err
	}
	envSHA, err := SHA1Hex(env)
	if err != nil {
		return Manifest{}, err
	}
	lookupSHA, err := SHA1Hex(lookup)
	if err != nil {
		return Manifest{}, err
	}
	graphSHA, err := SHA1Hex(graph)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{
		DRMSHA1:          drmSHA,
		MappingsSHA1:     mapSHA,
		EnvironmentSHA1:  envSHA,
		LookupSHA1:       lookupSHA,
		RequestGraphSHA1: graphSHA,
		CodeVersion:      CodeVersion,
		FrozenAt:         time.Now().UTC(),
	}, nil
}
