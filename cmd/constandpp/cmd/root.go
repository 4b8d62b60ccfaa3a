// Package cmd provides CLI command implementations
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/logging"
)

var (
	// Global flags
	logLevel string
	logFile  string
	devMode  bool

	// Flags for run command
	configFile string
	force      bool
	threads    int

	// Flags for summarize command
	channels  []string
	delimiter string
)

var (
	runtimeEnv *config.Runtime
	logger     zerolog.Logger
	closeLog   = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "constandpp",
	Short: "CONSTANd++ - isobaric-label proteomics data processing",
	Long: `CONSTANd++ processes isobaric-label (TMT/iTRAQ) PSM exports into protein-level
differential expression results stored in a SQLite database.

Processing per experiment:
- Removal of unusable detections (missing values, confidence, isolation interference)
- Isotopic impurity correction
- Collapse of PSM algorithm, retention time, charge and PTM duplicates
- Normalization and mapping of peptides onto master proteins

Experiments are then combined for t-tests, Benjamini-Hochberg correction,
fold changes, PCA and hierarchical clustering of the reporter channels.

Environment:
  CONSTANDPP_LOG_LEVEL  default log level (trace, debug, info, warn, error)
  CONSTANDPP_DEV_MODE   human readable debug logs
  CONSTANDPP_THREADS    default for --threads`,
	Version:            "1.0.0",
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return closeLog() },
	SilenceUsage:       true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(summarizeCmd)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides CONSTANDPP_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also append JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Human readable debug logs (overrides CONSTANDPP_DEV_MODE)")

	// Run command flags
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Job configuration file (required)")
	runCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing output database")
	runCmd.Flags().IntVar(&threads, "threads", 0, "Number of experiments processed at once (0 = one per CPU)")
	runCmd.MarkFlagRequired("config")

	// Summarize command flags
	summarizeCmd.Flags().StringSliceVar(&channels, "channels", nil, "Comma-separated reporter channel headers (required)")
	summarizeCmd.Flags().StringVar(&delimiter, "delimiter", "\t", "Field delimiter")
	summarizeCmd.MarkFlagRequired("channels")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	rt, err := config.ParseRuntime()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		rt.LogLevel = logLevel
	}
	if cmd.Flags().Changed("dev") {
		rt.DevMode = devMode
	}
	runtimeEnv = rt

	logger, closeLog, err = logging.Configure(logging.Options{
		Level:   rt.LogLevel,
		DevMode: rt.DevMode,
		File:    logFile,
	})
	return err
}
