// Package main wires together the revalidation and view-count service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/api"
	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/clock/system"
	"github.com/Rosersn/rose-vanblog/internal/config"
	contentmemory "github.com/Rosersn/rose-vanblog/internal/content/memory"
	"github.com/Rosersn/rose-vanblog/internal/feeds"
	"github.com/Rosersn/rose-vanblog/internal/isr"
	"github.com/Rosersn/rose-vanblog/internal/logging"
	"github.com/Rosersn/rose-vanblog/internal/metrics"
	"github.com/Rosersn/rose-vanblog/internal/paths"
	"github.com/Rosersn/rose-vanblog/internal/progress"
	"github.com/Rosersn/rose-vanblog/internal/progress/sinks"
	"github.com/Rosersn/rose-vanblog/internal/renderer"
	storagememory "github.com/Rosersn/rose-vanblog/internal/storage/memory"
	"github.com/Rosersn/rose-vanblog/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	loc := cfg.Location()

	var visits blog.VisitStore
	var closeStore func()
	if cfg.DB.DSN != "" {
		store, err := postgres.NewVisitStore(ctx, postgres.VisitStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}, clock, loc)
		if err != nil {
			logger.Fatal("postgres visit store init failed", zap.Error(err))
		}
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("visits schema migration failed", zap.Error(err))
		}
		visits = store
		closeStore = store.Close
		logger.Info("using postgres visit store")
	} else {
		visits = storagememory.NewVisitStore(clock, loc)
		closeStore = func() {}
		logger.Info("using in-memory visit store")
	}
	defer closeStore()

	content := contentmemory.NewSource(cfg.Site.PageSize)

	eventStore := sinks.NewMemorySink(0)
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger.Named("isr")),
		sinks.NewPrometheusSink(),
		eventStore,
	)

	resolver := paths.NewResolver(content, logger.Named("paths"))
	client := renderer.NewClient(renderer.Config{
		BaseURL:    cfg.Renderer.BaseURL,
		Attempts:   cfg.Renderer.InvokeRetries,
		RetryDelay: cfg.RendererRetryDelay(),
		Timeout:    cfg.RendererTimeout(),
	}, logger.Named("renderer"))

	dispatcher := isr.New(
		resolver,
		client,
		[]blog.Regenerator{
			feeds.NewLogRegenerator("rss", logger),
			feeds.NewLogRegenerator("sitemap", logger),
		},
		hub,
		clock,
		isr.Config{
			Disabled:      cfg.ISR.Disabled,
			Mode:          cfg.ISR.Mode,
			Debounce:      cfg.Debounce(),
			ProbeAttempts: cfg.ISR.ProbeAttempts,
			ProbeDelay:    cfg.ProbeDelay(),
		},
		logger.Named("isr"),
	)

	server := api.NewServer(visits, content, dispatcher, eventStore, clock, cfg, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// First boot renders the whole site so the renderer never serves from a
	// cold cache.
	if err := dispatcher.TriggerFullSiteForced("initial full render on startup"); err != nil {
		logger.Warn("startup full-site trigger failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("dispatcher closed with in-flight cycle", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
}
