package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/govrag/govrag/internal/api"
	"github.com/govrag/govrag/internal/app"
	"github.com/govrag/govrag/internal/config"
	"github.com/govrag/govrag/internal/logging"
	"github.com/govrag/govrag/internal/session"
)

func newServeCmd() *cobra.Command {
	var configDir string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat HTTP server",
		Long: `Start the GovRAG chat HTTP server: session management, non-streaming
and streaming turns, and interrupt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configDir, port)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", ".", "project directory to load .govrag.yaml from")
	cmd.Flags().IntVar(&port, "port", 0, "override the configured server port (0 = use config)")

	return cmd
}

func runServe(ctx context.Context, configDir string, portOverride int) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	// Root already set up default logging; re-setup only when the server
	// config asks for a different level (and --debug isn't forcing one).
	logger := slog.Default()
	if !debugMode && !strings.EqualFold(cfg.Server.LogLevel, logging.DefaultConfig().Level) {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Server.LogLevel
		l, closeLogs, err := logging.Setup(logCfg)
		if err != nil {
			return fmt.Errorf("set up logging: %w", err)
		}
		defer closeLogs()
		logger = l
		slog.SetDefault(l)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build collaborator graph: %w", err)
	}
	defer func() { _ = a.Close() }()

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go pruneSessions(pruneCtx, a.Sessions, cfg.AuditRetentionDuration(), logger)

	router := api.NewRouter(a.API, time.Duration(cfg.Server.RequestTimeoutS)*time.Second)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("govrag serve: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
		slog.Info("govrag serve: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pruneSessions periodically deletes sessions idle past the audit-retention
// window. The sweep interval is a fraction of the window, floored at one
// minute so an aggressive setting doesn't turn into a busy loop.
func pruneSessions(ctx context.Context, store *session.Store, retention time.Duration, logger *slog.Logger) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneExpired(ctx, retention)
			if err != nil {
				logger.Warn("session prune sweep failed", "error", err)
				continue
			}
			if len(pruned) > 0 {
				logger.Info("pruned expired sessions", "count", len(pruned))
			}
		}
	}
}
