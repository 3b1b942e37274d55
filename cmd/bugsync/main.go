package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bugsync/bugsync/internal/adapter/bugzilla"
	bshttp "github.com/bugsync/bugsync/internal/adapter/http"
	"github.com/bugsync/bugsync/internal/adapter/jira"
	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/logger"
	"github.com/bugsync/bugsync/internal/middleware"
	"github.com/bugsync/bugsync/internal/resilience"
	"github.com/bugsync/bugsync/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"actions_file", cfg.Actions,
	)

	actions, err := config.LoadActions(cfg.Actions)
	if err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	slog.Info("actions loaded", "count", actions.Len(), "projects", actions.ProjectKeys())

	// --- Tracker clients ---

	retry := resilience.RetryPolicy{
		MaxRetries:      uint64(cfg.Retry.MaxRetries),
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}

	bzClient := bugzilla.NewClient(cfg.Bugzilla, cfg.Jira.BaseURL, retry)
	bzClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	jiraClient := jira.NewClient(cfg.Jira, retry)
	jiraClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	cache, err := jira.NewMetadataCache(cfg.Cache.MaxSizeMB<<20, cfg.Cache.MetadataTTL)
	if err != nil {
		return fmt.Errorf("metadata cache: %w", err)
	}
	defer cache.Close()
	jiraClient.SetMetadataCache(cache)

	// --- Services ---

	runner, err := service.NewRunner(bzClient, jiraClient, actions, log)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	verifier := service.NewVerifier(bzClient, jiraClient, actions, cfg.Health.MaxParallel, log)

	// --- HTTP ---

	handlers := &bshttp.Handlers{
		Runner:   runner,
		Verifier: verifier,
		Actions:  actions,
		Version:  bshttp.VersionInfo{Version: version},
		Log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(bshttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	bshttp.MountRoutes(r, handlers, cfg.Webhook)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
