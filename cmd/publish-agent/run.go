package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-publish-agent/internal/config"
	httpapi "github.com/tbourn/go-publish-agent/internal/http"
	"github.com/tbourn/go-publish-agent/internal/llm"
	"github.com/tbourn/go-publish-agent/internal/observability"
	"github.com/tbourn/go-publish-agent/internal/registry"
	"github.com/tbourn/go-publish-agent/internal/repo"
)

const shutdownGrace = 15 * time.Second

// openDeps connects the document store and builds the inference and registry
// clients. The returned close func releases the store.
func openDeps(cfg config.Config) (httpapi.Dependencies, func(), error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return httpapi.Dependencies{}, nil, fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return httpapi.Dependencies{}, nil, fmt.Errorf("migrate: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	deps := httpapi.Dependencies{
		DB:       db,
		LLM:      llm.New(cfg.Ollama),
		Registry: registry.New(cfg.Registry, cfg.Agent.FrontendBaseURL),
	}
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("ollama", cfg.Ollama.Host).
		Str("model", cfg.Ollama.Model).
		Str("registry", cfg.Registry.Endpoint).
		Msg("dependencies ready")
	return deps, closeDB, nil
}

// setupTracing installs tracing for one process role. Failure is logged and
// tracing stays off; the service runs either way.
func setupTracing(ctx context.Context, cfg config.Config, role string) func() {
	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version, role)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}
}

func newEngine(cfg config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	return gin.New()
}

func newServer(cfg config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// listenAndServe runs srv until ctx is done, then drains in-flight requests.
func listenAndServe(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg(name + " listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down " + name)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	return nil
}
