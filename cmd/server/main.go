// StarDrive Server
//
// Features:
// - Confined local filesystem storage behind a pluggable backend interface
// - Streaming compressed archives (tar.gz, tar.zst, zip) of files and folders
// - Bounded breadth-first search and directory sizing
// - Short-lived download links backed by BadgerDB or PostgreSQL
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stardrive/stardrive/internal/api"
	"github.com/stardrive/stardrive/internal/config"
	"github.com/stardrive/stardrive/internal/downloads"
	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("STARDRIVE_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("StarDrive server starting...",
		logging.String("listen", cfg.Server.ListenAddr),
		logging.String("metrics", cfg.Server.MetricsAddr))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage
	files, err := config.CreateManager(cfg)
	if err != nil {
		logging.Fatal("storage init failed", logging.Err(err))
	}
	defer files.Close()
	logging.Info("storage ready",
		zap.Strings("backends", files.Names()),
		logging.String("active", files.ActiveName()),
		logging.String("archive_format", string(files.ArchiveFormat())))

	// Download links
	store, err := config.CreateDownloadStore(ctx, &cfg.Downloads)
	if err != nil {
		logging.Fatal("download store init failed", logging.Err(err))
	}
	defer store.Close()

	tokens, err := downloads.NewTokens(cfg.Downloads.Secret)
	if err != nil {
		logging.Fatal("download tokens init failed", logging.Err(err))
	}
	links := downloads.NewService(store, tokens, files, cfg.Downloads.LinkTTL)
	logging.Info("download links initialized",
		logging.String("store", cfg.Downloads.Store),
		logging.Duration("ttl", cfg.Downloads.LinkTTL))

	srv := api.NewServer(files, links, api.Options{
		MaxUploadSize: cfg.Server.MaxUploadSize,
		PublicURL:     cfg.Server.PublicURL,
	})

	// Start metrics server
	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", logging.String("addr", cfg.Server.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", logging.Err(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Periodic purge of expired download records
	go func() {
		ticker := time.NewTicker(cfg.Downloads.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := links.PurgeExpired(ctx)
				if err != nil {
					logging.Warn("download record purge failed", logging.Err(err))
					continue
				}
				if n > 0 {
					logging.Debug("purged expired download records", logging.Int64("count", n))
				}
			}
		}
	}()

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http shutdown incomplete", logging.Err(err))
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("server listening", logging.String("addr", cfg.Server.ListenAddr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", logging.Err(err))
	}
	<-stopped
	logging.Info("server stopped")
}
