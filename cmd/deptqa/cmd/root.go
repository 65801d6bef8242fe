// Package cmd provides the CLI commands for deptqa.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/logging"
	"github.com/map-community/CHATBOT-AI-sub000/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	configFile string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the deptqa CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deptqa",
		Short: "Department board QA service",
		Long: `deptqa answers questions about university department board posts.

It crawls the department boards (notices, jobs, seminars, faculty and
staff pages), extracts text from post bodies, images, and attachments,
and serves answers over HTTP through hybrid BM25 + dense retrieval with
LLM composition.

Run 'deptqa serve' to start the answer server, or 'deptqa ingest' to
crawl the boards once.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("deptqa version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: ./deptqa.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newTraceCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newOrphansCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging loads .env and installs the process logger. Secrets live
// in the environment only, so .env is read before any config load.
func setupLogging(_ *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig loads the layered configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load(".")
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}
