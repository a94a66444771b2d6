package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/recollect/collector/internal/api"
	"github.com/recollect/collector/internal/config"
	"github.com/recollect/collector/internal/logbuf"
	"github.com/recollect/collector/internal/ocr"
	"github.com/recollect/collector/internal/sink"
	"github.com/recollect/collector/internal/supervisor"
)

const shutdownGrace = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run collectord as a daemon with scheduled collection",
	Long: `Run collectord as a long-running daemon.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8420)
  - Scheduled collector runs based on cron expressions in config.toml
  - Directory watch subscriptions with debounced file handoff

Configure schedules in config.toml:
  [messages]
  schedule = "*/15 * * * *"   # every 15 minutes

  [mail]
  schedule = "0 * * * *"      # hourly

Send SIGHUP to reload configuration without restarting.
Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Keep recent log records queryable over the API.
	logs := logbuf.New(2048, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	logger = slog.New(logs)
	slog.SetDefault(logger)

	sk, err := sink.NewClient(cfg.Sink.Endpoint, cfg.Sink.APIKey, cfg.Sink.RateLimitQPS)
	if err != nil {
		return fmt.Errorf("create sink client: %w", err)
	}

	var rec ocr.Recognizer
	if cfg.OCR.Enabled {
		rec, err = ocr.NewClient(cfg.OCR.Endpoint)
		if err != nil {
			return fmt.Errorf("create recognizer client: %w", err)
		}
	}

	sup, err := supervisor.New(cfg, sk, rec, logger)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := sup.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	server := api.NewServer(cfg, sup, logs, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			shutdown(server, sup)
			return nil
		case err := <-errCh:
			shutdown(server, sup)
			return fmt.Errorf("api server: %w", err)
		case <-hupCh:
			logger.Info("SIGHUP received, reloading configuration")
			newCfg, err := config.Load(cfgFile)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			if err := sup.Reload(newCfg); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			cfg = newCfg
		}
	}
}

func shutdown(server *api.Server, sup *supervisor.Supervisor) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	sup.Shutdown(shutdownGrace)
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
