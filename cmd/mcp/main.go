// Command mcp serves the topic catalog to MCP clients over stdio.
//
// Stdout carries the protocol, so logs go to stderr.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/config"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/fetch"
	"github.com/JonMunkholm/openpdi/internal/history"
	"github.com/JonMunkholm/openpdi/internal/logging"
	mcpserver "github.com/JonMunkholm/openpdi/internal/mcp"
	"github.com/JonMunkholm/openpdi/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	reg := core.NewRegistry(core.WithEthnicityParity(cfg.Transform.EthnicityParity))
	cat, err := catalog.Load(cfg.Catalog.Dir, reg)
	if err != nil {
		logger.Error("failed to load catalog", "dir", cfg.Catalog.Dir, "error", err)
		os.Exit(1)
	}

	fetcher := fetch.New(nil, fetch.Options{
		Timeout:       cfg.Fetch.Timeout,
		MaxBytes:      cfg.Fetch.MaxBytes,
		Retries:       cfg.Fetch.Retries,
		RetryInterval: cfg.Fetch.RetryInterval,
		UserAgent:     cfg.Fetch.UserAgent,
	}, logger)

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.Open(context.Background(), cfg.History.Path)
		if err != nil {
			logger.Error("failed to open run history", "path", cfg.History.Path, "error", err)
			os.Exit(1)
		}
	}

	svc := service.New(cat, reg, fetcher, hist, service.Options{
		Prefetch:      cfg.Fetch.Prefetch,
		RunTimeout:    cfg.Run.Timeout,
		MaxConcurrent: cfg.Run.MaxConcurrent,
		MaxWait:       cfg.Run.MaxWait,
	})

	logger.Info("serving MCP on stdio", "topics", cat.Len())
	err = mcpserver.New(svc).Serve()
	if hist != nil {
		hist.Close()
	}
	if err != nil {
		logger.Error("MCP server stopped", "error", err)
		os.Exit(1)
	}
}
