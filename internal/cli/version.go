// This file implements `granary version`.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/granarydata/granary/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("granary %s (%s, %s/%s, built %s)\n",
			buildinfo.Version, buildinfo.Commit, buildinfo.OS(), buildinfo.Arch(), buildinfo.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
