package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/pemtool/internal/archive"
	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/logging"
	"github.com/JonMunkholm/pemtool/internal/store"
	"github.com/JonMunkholm/pemtool/internal/web"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store_driver", cfg.Store.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"archive_enabled", cfg.Archive.Enabled(),
	)
	slog.Debug("configuration", "config", cfg.String())

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("connected to store", "driver", cfg.Store.Driver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := core.OptionsFromConfig(cfg)
	opts.Metrics = core.NewMetrics(reg)
	if cfg.Archive.Enabled() {
		arch, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			slog.Error("failed to configure archive", "bucket", cfg.Archive.Bucket, "error", err)
			os.Exit(1)
		}
		opts.Archiver = arch
		slog.Info("archiving exports", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}

	service := core.NewService(st, opts)
	core.RegisterLimiter(reg, service.Limiter())

	server := web.NewServer(service, cfg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartPruneScheduler(jobCtx, core.PruneConfig{
		KeepRevisions: cfg.Edit.MaxRevisions,
		CheckInterval: cfg.Edit.PruneInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active uploads and edits to complete (with timeout)
		uploadStatus := service.UploadLimiterStatus()
		if uploadStatus.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", uploadStatus.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
