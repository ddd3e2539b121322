package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/config"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/fetch"
	"github.com/JonMunkholm/openpdi/internal/history"
	"github.com/JonMunkholm/openpdi/internal/logging"
	"github.com/JonMunkholm/openpdi/internal/service"
	"github.com/JonMunkholm/openpdi/internal/telemetry"
	"github.com/JonMunkholm/openpdi/internal/web"
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

	logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"catalog", cfg.Catalog.Dir,
		"run_max_concurrent", cfg.Run.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"history", cfg.History.Path != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	// Load the catalog; a broken catalog at startup is fatal
	reg := core.NewRegistry(core.WithEthnicityParity(cfg.Transform.EthnicityParity))
	cat, err := catalog.Load(cfg.Catalog.Dir, reg)
	if err != nil {
		logger.Error("failed to load catalog", "dir", cfg.Catalog.Dir, "error", err)
		os.Exit(1)
	}
	logger.Info("catalog loaded", "topics", cat.Len())

	fetcher := fetch.New(nil, fetch.Options{
		Timeout:       cfg.Fetch.Timeout,
		MaxBytes:      cfg.Fetch.MaxBytes,
		Retries:       cfg.Fetch.Retries,
		RetryInterval: cfg.Fetch.RetryInterval,
		UserAgent:     cfg.Fetch.UserAgent,
	}, logger)

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("failed to open run history", "path", cfg.History.Path, "error", err)
			os.Exit(1)
		}
		defer hist.Close()
	}

	svc := service.New(cat, reg, fetcher, hist, service.Options{
		Prefetch:      cfg.Fetch.Prefetch,
		RunTimeout:    cfg.Run.Timeout,
		MaxConcurrent: cfg.Run.MaxConcurrent,
		MaxWait:       cfg.Run.MaxWait,
		BatchSize:     cfg.Sink.BatchSize,
		ExportDir:     cfg.Sink.ExportDir,
		LinkParallel:  cfg.Fetch.LinkParallel,
		HTTPClient:    &http.Client{Timeout: cfg.Fetch.Timeout},
	})

	// Reload the catalog on change; the previous catalog stays active on error
	if cfg.Catalog.Watch {
		watcher, err := catalog.NewWatcher(cfg.Catalog.Dir, reg, svc.SetCatalog, logger)
		if err != nil {
			logger.Warn("catalog watch disabled", "error", err)
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("catalog watcher stopped", "error", err)
				}
			}()
		}
	}

	// Scheduled exports and history purge
	var jobs []service.Job
	if cfg.Schedule.File != "" {
		jobs, err = service.LoadJobs(cfg.Schedule.File)
		if err != nil {
			logger.Error("failed to load schedule", "file", cfg.Schedule.File, "error", err)
			os.Exit(1)
		}
	}
	var scheduler *service.Scheduler
	if len(jobs) > 0 || (hist != nil && cfg.History.Retention > 0) {
		scheduler, err = service.NewScheduler(svc, jobs, service.SchedulerConfig{
			HistoryRetention: cfg.History.Retention,
			PurgeSchedule:    cfg.History.PurgeSchedule,
		}, logger)
		if err != nil {
			logger.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start(ctx)
	}

	server := web.NewServer(svc, scheduler, web.Options{
		Server:             cfg.Server,
		Rate:               cfg.Rate,
		Security:           cfg.Security,
		DefaultDestination: cfg.Sink.DSN,
		Destinations:       cfg.Sink.Destinations,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		if scheduler != nil {
			select {
			case <-scheduler.Stop().Done():
			case <-shutdownCtx.Done():
				logger.Warn("scheduled jobs did not finish in time")
			}
		}

		// Wait for active runs to complete (with timeout)
		if status := svc.Limiter().Status(); status.Active > 0 {
			logger.Info("waiting for runs to complete", "active", status.Active)
			if err := svc.Drain(shutdownCtx); err != nil {
				logger.Warn("runs did not complete in time", "error", err)
			} else {
				logger.Info("all runs completed")
			}
		}

		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		stop()
		os.Exit(1)
	}
	<-done
	logger.Info("server stopped")
}
