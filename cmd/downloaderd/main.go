// Command downloaderd runs the persistent download orchestrator: HTTP
// control plane, scheduler, and worker pool over one SQLite-backed queue.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"downloaderd/internal/config"
	"downloaderd/internal/extractor"
	"downloaderd/internal/httpapi"
	"downloaderd/internal/logger"
	"downloaderd/internal/recovery"
	"downloaderd/internal/scheduler"
	"downloaderd/internal/storage"
	"downloaderd/internal/worker"
)

// Version is set at build time via -ldflags.
var Version string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.BaseDownloadDir); err != nil {
		fmt.Printf("warning: failed to initialize logger: %v\n", err)
	}
	logger.Log.Info().
		Str("event", "startup").
		Str("version", Version).
		Str("base_download_dir", cfg.BaseDownloadDir).
		Int("max_concurrent_downloads", cfg.MaxConcurrentDownloads).
		Msg("downloaderd starting up")

	if err := os.MkdirAll(cfg.BaseDownloadDir, 0755); err != nil {
		return fmt.Errorf("create base download dir: %w", err)
	}

	db, err := storage.New(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	store := storage.NewStore(db)
	logger.Log.Info().Msg("database initialized")

	if err := recovery.Run(store); err != nil {
		logger.Log.Error().Err(err).Msg("recovery_failed")
	}

	ex := extractor.NewYtDlpExtractor("yt-dlp")
	w := worker.New(store, ex, cfg)
	sched := scheduler.New(store, w, cfg.MaxConcurrentDownloads)
	sched.Start()
	defer sched.Stop()

	api := httpapi.New(store, sched, cfg)
	addr := listenAddr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // downloads served via /files can be large; no fixed cap
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func listenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}
