// Package cli implements the Cobra command hierarchy for the granary CLI.
// The root command is the entry point for all subcommands and handles
// cross-cutting concerns: settings resolution, logging initialization, and
// exit-code mapping.
package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/granarydata/granary/internal/config"
	"github.com/granarydata/granary/internal/pipeline"
)

// flagValues holds the parsed global flag values, populated by
// config.BindFlags during command initialization.
var flagValues *config.FlagValues

// settings holds the resolved engine settings, populated in
// PersistentPreRunE.
var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:   "granary",
	Short: "Profile-driven extraction for heterogeneous data files.",
	Long: `Granary ingests heterogeneous tabular and semi-structured files
(CSV/TSV, JSON/JSONL, Excel, Parquet), extracts logical tables from them
according to a declarative YAML profile, normalizes and validates the
results, and emits deterministic, hash-identified plan artifacts plus
output tables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ValidateFlags(flagValues); err != nil {
			return err
		}

		resolved, err := config.Resolve(config.ResolveOptions{
			SettingsFile: flagValues.SettingsFile,
			Flags:        config.FlagOverrides(flagValues),
		})
		if err != nil {
			return err
		}
		settings = resolved

		level := config.ResolveLogLevel(flagValues.Verbose, flagValues.Quiet, settings.Logging.Level)
		config.SetupLogging(level, settings.Logging.Format)
		slog.Debug("logging initialized", "level", level, "format", settings.Logging.Format)
		return nil
	},
}

func init() {
	flagValues = config.BindFlags(rootCmd)
}

// GlobalFlags exposes the parsed global flags to subcommand files.
func GlobalFlags() *config.FlagValues { return flagValues }

// Settings exposes the resolved engine settings to subcommand files.
func Settings() *config.Settings { return settings }

// Execute runs the root command and returns the process exit code. A
// *pipeline.GranaryError supplies its own code; other errors exit 1.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		var ge *pipeline.GranaryError
		if errors.As(err, &ge) {
			return ge.Code
		}
		return int(pipeline.ExitError)
	}
	return int(pipeline.ExitSuccess)
}
