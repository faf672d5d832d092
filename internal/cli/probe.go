// This file implements `granary probe`, which probes one or more files'
// schemas without reading full data.
package cli

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/granarydata/granary/internal/adapter"
	"github.com/granarydata/granary/internal/pipeline"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <file> [file...]",
	Short: "Probe file schemas without reading full data",
	Long: `Probe inspects each file with its format adapter and reports the
inferred columns, row-count estimate, detected delimiter and encoding, and
sheet list where applicable. Probing reads a bounded sample regardless of
file size.

Examples:
  granary probe data.csv
  granary probe --json runs/*.parquet`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "emit probe results as JSON")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	registry := adapter.NewDefaultRegistry()

	failures := 0
	for _, path := range args {
		a, err := registry.SelectFor(path, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failures++
			continue
		}
		probe, err := a.ProbeSchema(cmd.Context(), path, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failures++
			continue
		}

		if probeJSON {
			out, err := json.MarshalIndent(probe, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			continue
		}

		fmt.Printf("%s (%s)\n", probe.FilePath, probe.AdapterID)
		exact := "~"
		if probe.RowCountExact {
			exact = "="
		}
		fmt.Printf("  rows: %s%d  columns: %d  size: %d bytes\n",
			exact, probe.RowCountEstimate, len(probe.Columns), probe.FileSizeBytes)
		if probe.DelimiterDetected != "" {
			fmt.Printf("  delimiter: %q  encoding: %s\n", probe.DelimiterDetected, probe.EncodingDetected)
		}
		if len(probe.Sheets) > 0 {
			fmt.Printf("  sheets: %v\n", probe.Sheets)
		}
		for _, col := range probe.Columns {
			fmt.Printf("  %-3d %-24s %s\n", col.Position, col.Name, col.InferredType)
		}
		for _, w := range probe.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	if failures > 0 {
		return pipeline.NewPartialError(fmt.Sprintf("%d of %d files failed to probe", failures, len(args)), nil)
	}
	return nil
}
