// Package cmd provides the CLI commands for GovRAG.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/govrag/govrag/internal/logging"
	"github.com/govrag/govrag/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the govrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "govrag",
		Short: "Evidence-grounded chat over Korean government documents",
		Long: `GovRAG answers questions over a corpus of Korean government documents
using hybrid lexical+vector retrieval, cross-encoder reranking, and
evidence-only generation with post-hoc grounding and citation tracking.

Run 'govrag serve' to start the chat HTTP server.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("govrag version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.govrag/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
