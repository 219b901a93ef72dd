package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installengine/pkg/telemetry"
)

var (
	// Global flags
	dbPath        string
	logLevel      string
	jsonOutput    bool
	metricsAddr   string
	traceExporter string
	traceEndpoint string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-install",
		Short: "Table-driven package installer",
		Long: `froyo-install runs package installations described by CUE or YAML definitions.

A definition lists features, components, properties and two ordered sequence
tables. The installer walks the tables, evaluating each row's condition,
resolves which features and components to install, records deferred work into
scripts and replays them at InstallFinalize.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				zerolog.SetGlobalLevel(telemetry.ParseLevel(logLevel))
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/froyo-install.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (otlp, stdout, none)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
