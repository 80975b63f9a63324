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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mrmushfiq/imagegw/internal/gateway"
	"github.com/mrmushfiq/imagegw/internal/gateway/audit"
	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
	"github.com/mrmushfiq/imagegw/internal/gateway/handlers"
	"github.com/mrmushfiq/imagegw/internal/gateway/materialize"
	"github.com/mrmushfiq/imagegw/internal/gateway/providers"
	"github.com/mrmushfiq/imagegw/internal/gateway/resolver"
	"github.com/mrmushfiq/imagegw/internal/shared/config"
	"github.com/mrmushfiq/imagegw/internal/shared/database"
	"github.com/mrmushfiq/imagegw/internal/shared/logger"
	"github.com/mrmushfiq/imagegw/internal/shared/metrics"
	"github.com/mrmushfiq/imagegw/internal/shared/redis"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	log.Info("starting image gateway",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("version", version))

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to postgres")

	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()
	log.Info("connected to redis")

	collector := metrics.NewCollector(cfg.MetricsNamespace)

	var recorder audit.Recorder = audit.Nop{}
	var asyncRecorder *audit.AsyncRecorder
	if cfg.AuditEnabled {
		asyncRecorder = audit.NewAsyncRecorder(audit.NewSinkRecorder(db), cfg.AuditQueueSize, collector, log)
		recorder = asyncRecorder
	}

	registry := dialect.New(cfg.ExtendedHostSuffix)
	service := gateway.NewService(gateway.Options{
		Resolver: resolver.New(db, registry, cfg.CredentialSecret, log),
		Dispatcher: providers.NewDispatcher(
			providers.NewLoggingClientFactory(nil, log),
			cfg.GenerationTimeout,
			providers.DefaultFixes(cfg.ExtendedMinSize),
			log,
		),
		Materializer: materialize.New(materialize.Options{
			MaxBytes:    cfg.MaterializeMaxBytes,
			Concurrency: cfg.MaterializeConcurrency,
			Timeout:     cfg.MaterializeTimeout,
			Metrics:     collector,
		}, log),
		Recorder: recorder,
		Metrics:  collector,
		Logger:   log,
	})

	mw := handlers.NewMiddleware(db, redisClient, cfg.DefaultRateLimit, log)
	images := handlers.NewImageHandler(service, log)

	// A single call may spend the full generation timeout upstream and then
	// fetch URL results.
	writeTimeout := cfg.GenerationTimeout + cfg.MaterializeTimeout + 30*time.Second

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.RequestLogger)
	r.Use(mw.CORSMiddleware)

	r.Get("/health", handlers.HandleHealth)
	r.Handle("/metrics", collector.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.AuthMiddleware)
		r.Use(mw.RateLimitMiddleware)
		r.Use(chimiddleware.Timeout(writeTimeout))

		r.Post("/images/generations", images.HandleGenerate)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: writeTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.Duration("generation_timeout", cfg.GenerationTimeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	if asyncRecorder != nil {
		if err := asyncRecorder.Close(shutdownCtx); err != nil {
			log.Warn("audit queue not fully drained", zap.Error(err))
		}
	}

	log.Info("server stopped")
	return nil
}
