// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/internal/observability"
	"github.com/pagepilot/pagepilot/internal/service"
)

// factory is swapped out by command tests.
var factory = service.NewComponentFactory()

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the decision API server.",
	Long: `Starts the HTTP server exposing element analysis, action selection,
experience recording and statistics. The server runs until interrupted and
drains in-flight work on shutdown.`,
	RunE: runServe,
}

var modelPath string

func init() {
	serveCmd.Flags().StringVar(&modelPath, "model", "", "path to a saved preference model to load at startup and save on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	components, err := factory.Create(ctx, cfg, service.Options{Registry: registry}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	pilot := components.Pilot
	if modelPath != "" {
		if err := pilot.LoadModel(modelPath); err != nil {
			logger.Warn("Could not load preference model, starting cold.",
				zap.String("path", modelPath), zap.Error(err))
		} else {
			logger.Info("Preference model loaded.", zap.String("path", modelPath))
		}
		defer func() {
			if err := pilot.SaveModel(modelPath); err != nil {
				logger.Error("Failed to save preference model.",
					zap.String("path", modelPath), zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           service.NewHandler(pilot, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening.", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, draining.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
