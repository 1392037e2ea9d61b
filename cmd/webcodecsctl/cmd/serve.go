package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codecbridge/webcodecs/internal/httpapi"
	"github.com/codecbridge/webcodecs/internal/resourcemgr"
	"github.com/codecbridge/webcodecs/internal/resourcemgr/activitylog"
	"github.com/codecbridge/webcodecs/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resource manager and admin HTTP surface",
	Long: `Start the long-running webcodecsctl process: the resource-reclamation
manager and its admin/introspection HTTP surface (instance listing, manual
reclaim trigger, Prometheus metrics, dynamic log level).

Codec instances are created by embedders linking this module against the
same resource manager; serve itself hosts no transcode of its own.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	versionInfo := version.GetInfo()
	logger.Info("webcodecsctl starting",
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.CommitSHA),
		slog.String("go", versionInfo.GoVersion),
		slog.String("platform", versionInfo.Platform),
	)

	manager := resourcemgr.New(logger)

	if cfg.Resource.ActivityLogDSN != "" {
		journal, err := activitylog.Open(cfg.Resource.ActivityLogDSN, logger)
		if err != nil {
			return fmt.Errorf("opening activity journal: %w", err)
		}
		defer journal.Close()
		manager.SetJournal(journal)
		logger.Info("activity journal attached", slog.String("dsn", cfg.Resource.ActivityLogDSN))
	}

	if cfg.Resource.SweepEnabled {
		if err := manager.StartPeriodicSweep(cfg.Resource.SweepSchedule); err != nil {
			return fmt.Errorf("starting periodic sweep: %w", err)
		}
		defer manager.StopPeriodicSweep()
		logger.Info("periodic reclaim sweep started", slog.String("schedule", cfg.Resource.SweepSchedule))
	}

	admin := httpapi.NewServer(httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, manager, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := admin.Start(); err != nil {
			errCh <- err
		}
	}()
	logger.Info("admin HTTP surface listening", slog.String("address", cfg.Server.Address()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	}

	if err := admin.Shutdown(); err != nil {
		logger.Warn("admin server shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
	return nil
}
