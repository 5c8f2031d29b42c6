package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianrag/obsidianrag/internal/app"
	"github.com/obsidianrag/obsidianrag/internal/httpapi"
	"github.com/obsidianrag/obsidianrag/internal/logging"
	"github.com/obsidianrag/obsidianrag/internal/output"
	"github.com/obsidianrag/obsidianrag/pkg/version"
)

// shutdownGracePeriod bounds how long in-flight sessions may drain
// after a shutdown signal before the server stops. The server does no
// readiness probing of its own; it starts listening and logs readiness
// once bound.
const (
	shutdownGracePeriod = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/SSE server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

// runServe loads config, wires the App, runs an initial indexing
// pass, and serves HTTP until an interrupt or terminate signal fires
// (spec.md §6.4, §5 "Cancellation"), mirroring the teacher's
// signal.NotifyContext shutdown idiom.
func runServe(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out.Statusf("📓", "vault: %s", cfg.VaultPath)

	logger, cleanup, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		return fmt.Errorf("obsidianrag: setup logging: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		out.Errorf("failed to initialize: %v", err)
		return fmt.Errorf("obsidianrag: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("shutdown: failed to persist state", "error", closeErr)
		}
	}()

	if err := a.EnsureIndexed(ctx); err != nil {
		out.Errorf("indexing failed: %v", err)
		return fmt.Errorf("obsidianrag: %w", err)
	}
	out.Success("vault indexed, ready to serve")

	server := httpapi.New(httpapi.Config{
		Orchestrator: a.Orchestrator,
		Indexer:      a.Indexer,
		VectorStore:  a.VectorStore,
		Manifest:     a.Manifest,
		VaultPath:    cfg.VaultPath,
		Model:        cfg.LLMModel,
		Version:      version.Short(),
	}, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.BindPort),
		Handler: server,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr, "vault", cfg.VaultPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("obsidianrag: server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining sessions")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("obsidianrag: graceful shutdown: %w", err)
		}
		return nil
	}
}
