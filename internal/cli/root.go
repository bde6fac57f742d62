// Package cli implements the lctscprep command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns the lctscprep root command with every subcommand
// attached.
func NewRootCommand() *cobra.Command {
	var flags globalFlags
	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "lctscprep",
		Short:         "Preprocess lung CT DICOM and RTSTRUCT cohorts into training archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: auto, console, json")

	rootCmd.AddCommand(newPreprocessCommand(ctx))
	rootCmd.AddCommand(newSynthCommand(ctx))
	rootCmd.AddCommand(newInspectCommand(ctx))
	rootCmd.AddCommand(newDatasetCommand(ctx))

	return rootCmd
}
