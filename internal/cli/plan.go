// This file implements `granary plan`, which builds the frozen plan
// artifact triple from DRM, mappings, and environment profile files and
// writes the canonical JSON artifacts under the output root.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/granarydata/granary/internal/pipeline"
	"github.com/granarydata/granary/internal/plan"
)

var (
	planDRMPath  string
	planMapPath  string
	planEnvPath  string
	planProject  string
	planGraphSrc string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build frozen plan artifacts (lookup, request graph, manifest)",
	Long: `Plan builds the deterministic artifact triple: a lookup of filesystem
roots and per-partition folders, a deduped request graph, and a manifest
of SHA-1 hashes over canonical serializations. Identical inputs always
produce byte-identical hashes.

The partition list is read from a JSON file of
{"run_key": ..., "job_context_value": ..., "file_paths": [...]} entries.

Examples:
  granary plan --drm drm.json --mappings map.json --environment env.json \
      --partitions partitions.json --project 7e6d8d2e-...`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planDRMPath, "drm", "", "path to the DRM JSON file")
	planCmd.Flags().StringVar(&planMapPath, "mappings", "", "path to the mappings JSON file")
	planCmd.Flags().StringVar(&planEnvPath, "environment", "", "path to the environment profile JSON file")
	planCmd.Flags().StringVar(&planGraphSrc, "partitions", "", "path to the partition source JSON file")
	planCmd.Flags().StringVar(&planProject, "project", "", "project id (UUID)")
	_ = planCmd.MarkFlagRequired("drm")
	_ = planCmd.MarkFlagRequired("mappings")
	_ = planCmd.MarkFlagRequired("environment")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	var drm plan.DRM
	if err := readJSON(planDRMPath, &drm); err != nil {
		return err
	}
	var mappings plan.Mappings
	if err := readJSON(planMapPath, &mappings); err != nil {
		return err
	}
	var env plan.EnvironmentProfile
	if err := readJSON(planEnvPath, &env); err != nil {
		return err
	}

	var sources []plan.PartitionSource
	if planGraphSrc != "" {
		var raw []struct {
			RunKey          string   `json:"run_key"`
			JobContextValue string   `json:"job_context_value"`
			FilePaths       []string `json:"file_paths"`
		}
		if err := readJSON(planGraphSrc, &raw); err != nil {
			return err
		}
		for _, r := range raw {
			sources = append(sources, plan.PartitionSource{
				RunKey:          r.RunKey,
				JobContextValue: r.JobContextValue,
				FilePaths:       r.FilePaths,
			})
		}
	}

	projectID := uuid.New()
	if planProject != "" {
		parsed, err := uuid.Parse(planProject)
		if err != nil {
			return fmt.Errorf("--project: %w", err)
		}
		projectID = parsed
	}

	artifacts, err := plan.NewBuilder().Build(&drm, &mappings, &env, projectID, sources)
	if err != nil {
		return pipeline.NewError("plan build failed", err)
	}

	root := Settings().Output.Root
	for name, v := range map[string]any{
		"manifest.json":      artifacts.Manifest,
		"lookup.json":        artifacts.Lookup,
		"request_graph.json": artifacts.RequestGraph,
	} {
		data, err := plan.CanonicalJSON(v)
		if err != nil {
			return pipeline.NewError("serialize "+name, err)
		}
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return pipeline.NewError("write "+name, err)
		}
		fmt.Printf("wrote %s\n", path)
	}

	fmt.Printf("partitions: %d (deduped %d)\n", artifacts.RequestGraph.TotalPartitions, artifacts.RequestGraph.DedupedCount)
	fmt.Printf("drm_sha1: %s\n", artifacts.Manifest.DRMSHA1)
	return nil
}

func readJSON(path string, v any) error {
	if path == "" {
		return fmt.Errorf("missing required input file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
