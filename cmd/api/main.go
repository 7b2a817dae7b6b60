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

	"github.com/dunamismax/artify/internal/api"
	"github.com/dunamismax/artify/internal/config"
	"github.com/dunamismax/artify/internal/engine"
	"github.com/dunamismax/artify/internal/logging"
	"github.com/dunamismax/artify/internal/pipeline"
	"github.com/dunamismax/artify/internal/ratelimit"
	"github.com/dunamismax/artify/internal/storage"
	"github.com/dunamismax/artify/internal/store"
	"github.com/dunamismax/artify/internal/stylize"
	"github.com/dunamismax/artify/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "artify: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image pipeline: %w", err)
	}
	defer pipeline.Shutdown()

	if err := fetchModel(ctx, cfg, logger); err != nil {
		return err
	}

	eng, err := engine.New(cfg.Engine.ToEngineConfig())
	if err != nil {
		return fmt.Errorf("load %s engine: %w", cfg.Engine.Kind, err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn().Err(err).Msg("engine close failed")
		}
	}()
	logger.Info().Str("engine", eng.Name()).Msg("stylization engine ready")
	if cfg.Engine.IsPassthrough() {
		logger.Warn().Msg("identity engine active: responses echo the content image without styling")
	}

	normalizer, err := pipeline.NewNormalizer(cfg.Image.MaxDim, cfg.Image.PipelineOptions())
	if err != nil {
		return fmt.Errorf("build normalizer: %w", err)
	}

	usageStore, closeUsage, err := openUsageStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsage()

	limiter, closeLimiter, err := openRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	registry := prometheus.NewRegistry()
	svc, err := stylize.NewService(logger, normalizer, pipeline.NewEncoder(cfg.Image.JPEGQuality), eng, stylize.Options{
		MaxConcurrent:    cfg.Engine.MaxConcurrent,
		AcquireTimeout:   cfg.Engine.AcquireTimeout,
		InferenceTimeout: cfg.Engine.Timeout,
		UsageStore:       usageStore,
		Registerer:       registry,
	})
	if err != nil {
		return fmt.Errorf("build stylize service: %w", err)
	}

	apiOpts := api.Options{
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		RefinedStatus:  cfg.API.RefinedStatus,
		CORSOrigins:    cfg.API.CORSOrigins,
		ClientIDHeader: cfg.API.ClientIDHeader,
		Registry:       registry,
	}
	if limiter != nil {
		apiOpts.RateLimiter = limiter
	}
	app := api.NewServer(logger, svc, apiOpts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

// fetchModel pulls the ONNX model from the registry bucket before the
// engine loads it.
func fetchModel(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if cfg.Engine.Kind != engine.KindONNX || cfg.Engine.ONNX.ModelObject == "" {
		return nil
	}

	registry, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		UseSSL:   cfg.Storage.UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect model registry: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	if err := registry.FetchModel(fetchCtx, cfg.Engine.ONNX.ModelObject, cfg.Engine.ONNX.ModelPath); err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}
	return nil
}

func openUsageStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.UsageStore, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Info().Int("history", cfg.Database.MemoryHistory).Msg("usage log kept in memory")
		return store.NewMemoryUsageStore(cfg.Database.MemoryHistory), func() {}, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	pg, err := store.NewPostgresUsageStore(pgCtx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open usage store: %w", err)
	}
	logger.Info().Msg("usage log stored in postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Warn().Err(err).Msg("usage store close failed")
		}
	}, nil
}

func openRateLimiter(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*ratelimit.RedisTokenBucket, func(), error) {
	if !cfg.RateLimit.Enabled {
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis close failed")
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The limiter fails open, so an unreachable redis is not fatal.
		logger.Warn().Err(err).Str("addr", cfg.RateLimit.RedisAddr).Msg("redis unreachable at startup")
	}

	limiter, err := ratelimit.NewRedisTokenBucket(client, ratelimit.Config{
		Capacity:  cfg.RateLimit.Capacity,
		Window:    cfg.RateLimit.Window,
		KeyPrefix: cfg.RateLimit.KeyPrefix,
	})
	if err != nil {
		closeClient()
		return nil, nil, fmt.Errorf("build rate limiter: %w", err)
	}
	logger.Info().Int("capacity", cfg.RateLimit.Capacity).Dur("window", cfg.RateLimit.Window).Msg("rate limiting enabled")
	return limiter, closeClient, nil
}
