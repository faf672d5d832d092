package config

import (
	"fmt"

	"github.com/spf13/cobra"
)

// FlagValues collects the parsed global flag values from the CLI. It is
// populated by BindFlags and read after Cobra has parsed the command
// line.
type FlagValues struct {
	SettingsFile string
	ProfilePath  string
	Dir          string
	OutputRoot   string
	LogFormat    string
	Verbose      bool
	Quiet        bool
}

// BindFlags registers the global persistent flags on the given Cobra
// command and returns the FlagValues pointer they populate.
func BindFlags(cmd *cobra.Command) *FlagValues {
	fv := &FlagValues{}

	pf := cmd.PersistentFlags()
	pf.StringVar(&fv.SettingsFile, "settings", "", "path to granary.toml (default: ./granary.toml)")
	pf.StringVarP(&fv.ProfilePath, "profile", "p", "", "path to the extraction profile YAML")
	pf.StringVarP(&fv.Dir, "dir", "d", "", "directory to discover candidate files under")
	pf.StringVarP(&fv.OutputRoot, "output-root", "o", "", "directory outputs and plan artifacts are written under")
	pf.StringVar(&fv.LogFormat, "log-format", "", "log output format: text, json")
	pf.BoolVarP(&fv.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&fv.Quiet, "quiet", "q", false, "suppress all output except errors")

	return fv
}

// ValidateFlags checks the parsed values for mutual exclusion. Call from
// PersistentPreRunE after Cobra has parsed the flags.
func ValidateFlags(fv *FlagValues) error {
	if fv.Verbose && fv.Quiet {
		return fmt.Errorf("--verbose and --quiet are mutually exclusive")
	}
	switch fv.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("--log-format: invalid value %q (allowed: text, json)", fv.LogFormat)
	}
	return nil
}

// FlagOverrides converts the explicit flag values into the flat overlay
// map consumed by Resolve. Unset flags are omitted so lower layers show
// through.
func FlagOverrides(fv *FlagValues) map[string]any {
	m := map[string]any{}
	if fv.Dir != "" {
		m["discovery.root"] = fv.Dir
	}
	if fv.OutputRoot != "" {
		m["output.root"] = fv.OutputRoot
	}
	if fv.LogFormat != "" {
		m["logging.format"] = fv.LogFormat
	}
	return m
}
