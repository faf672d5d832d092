// This file implements `granary lint`, which validates profile YAML files
// without touching any data.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/granarydata/granary/internal/pipeline"
	"github.com/granarydata/granary/internal/profile"
)

var lintCmd = &cobra.Command{
	Use:   "lint <profile.yaml> [profile.yaml...]",
	Short: "Validate profile files without extracting",
	Long: `Lint parses and validates each profile: structural validation of every
declared field, plus the cross-reference invariants (unique table ids,
compiling regex patterns, strategy-specific field presence, and output
references back to declared levels and tables).

Examples:
  granary lint profiles/metrology.yaml
  granary lint profiles/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLint,
}

func init() {
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	failures := 0
	for _, path := range args {
		p, err := profile.Load(path)
		if err != nil {
			fmt.Printf("FAIL %s\n  %v\n", path, err)
			failures++
			continue
		}
		fmt.Printf("ok   %s (profile_id=%s, levels=%d, tables=%d)\n",
			path, p.Meta.ProfileID, len(p.Levels), len(p.AllTables()))
	}
	if failures > 0 {
		return pipeline.NewError(fmt.Sprintf("%d of %d profiles failed validation", failures, len(args)), nil)
	}
	return nil
}
