// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/config"
	"splitmate-scan/internal/domain/ports/repository"
	aiAdapters "splitmate-scan/internal/infra/adapters/ai"
	"splitmate-scan/internal/infra/api"
	pg "splitmate-scan/internal/infra/db/postgres"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/memstore"
	"splitmate-scan/internal/infra/metrics"
	"splitmate-scan/internal/infra/ratelimit"
	red "splitmate-scan/internal/infra/redis"
	"splitmate-scan/internal/infra/sched"
	"splitmate-scan/internal/infra/security"
	"splitmate-scan/internal/infra/worker"
	"splitmate-scan/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, error details in responses)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, time.Now().Unix())

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("scan service stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Redis (optional) ----
	var redisClient red.RedisClient
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		switch {
		case err == nil:
			redisClient = rc
			defer rc.Close()
		case cfg.Store.Backend == "redis":
			return fmt.Errorf("redis: %w", err)
		default:
			// the rate limiter degrades to its in-process window
			logger.Error().Err(err).Msg("redis unavailable at startup, using in-memory rate limiting")
		}
	}

	// ---- Job store ----
	var store interface {
		repository.ScanJobStore
		sched.Sweeper
	}
	switch cfg.Store.Backend {
	case "redis":
		rs := red.NewScanJobStore(redisClient, cfg.Store.MaxStoredJobs, cfg.Store.JobExpiration, logger)
		if cfg.Redis.BufferKey != "" {
			enc, err := security.NewEncryptionService(cfg.Redis.BufferKey)
			if err != nil {
				return fmt.Errorf("buffer encryption: %w", err)
			}
			rs.WithBufferSealer(enc)
		}
		store = rs
	default:
		store = memstore.NewScanJobStore(memstore.Options{
			MaxStoredJobs: cfg.Store.MaxStoredJobs,
			JobExpiration: cfg.Store.JobExpiration,
		}, logger)
	}
	logger.Info().Str("backend", cfg.Store.Backend).Int("max_stored_jobs", cfg.Store.MaxStoredJobs).
		Dur("job_expiration", cfg.Store.JobExpiration).Msg("job store ready")

	// ---- Rate limiter ----
	memLimiter := ratelimit.NewMemory(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	var limiter ratelimit.Strategy = memLimiter
	var limiterDB api.Pinger
	if cfg.RateLimit.Backend == "redis" && redisClient != nil {
		durable := red.NewSlidingWindowLimiter(redisClient, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
		limiter = ratelimit.NewFallback(durable, memLimiter, logger)
		limiterDB = redisClient
	}
	logger.Info().Str("backend", limiter.Name()).Int("max_requests", cfg.RateLimit.MaxRequests).
		Dur("window", cfg.RateLimit.Window).Msg("rate limiter ready")

	// ---- Outcome archive (optional) ----
	var archive repository.ScanOutcomeRepository
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		repo := pg.NewScanOutcomeRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		archive = repo
		logger.Info().Msg("scan outcome archive enabled")
	}

	// ---- Extraction ----
	vision, err := aiAdapters.NewVisionFromConfig(ctx, cfg.AI, cfg.Runtime.Dev, logger)
	if err != nil {
		return fmt.Errorf("vision adapter: %w", err)
	}
	extractor := usecase.NewExtractionClient(vision, usecase.ExtractionOptions{
		Timeout:     cfg.Extraction.Timeout,
		MaxRetries:  cfg.Extraction.MaxRetries,
		RetryDelay:  cfg.Extraction.RetryDelay,
		RetryFactor: cfg.Extraction.RetryFactor,
		MaxDelay:    cfg.Extraction.MaxDelay,
	}, logger)
	info := extractor.Provider()
	logger.Info().Str("provider", info.Provider).Str("model", info.Name).Msg("extraction client ready")

	// ---- Processing ----
	// at most one task per stored job can be alive
	workers := worker.NewPool(cfg.Store.MaxStoredJobs, logger)
	processor := worker.NewScanProcessor(store, extractor, archive, workers, cfg.Runtime.Dev, logger)
	scans := usecase.NewScanUseCase(store, processor, usecase.UploadPolicy{
		MaxBytes:         cfg.Upload.MaxBytes(),
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
	}, logger)

	// ---- Sweepers ----
	sweepCtx, stopSweepers := context.WithCancel(ctx)
	defer stopSweepers()
	jobSweeper := sched.NewExpiryWorker("scan_jobs", cfg.Store.SweepInterval, store, logger)
	limiterSweeper := sched.NewExpiryWorker("rate_limit_clients", cfg.RateLimit.CleanupInterval, sched.SweepFunc(memLimiter.Sweep), logger)
	go func() { _ = jobSweeper.Run(sweepCtx) }()
	go func() { _ = limiterSweeper.Run(sweepCtx) }()

	// ---- HTTP ----
	srv := api.NewServer(api.Options{
		Scans:          scans,
		Limiter:        limiter,
		LimiterDB:      limiterDB,
		Extraction:     extractor,
		Archive:        archive,
		MaxUploadBytes: cfg.Upload.MaxBytes(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustProxy:     cfg.HTTP.TrustProxy,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Dev:            cfg.Runtime.Dev,
		Version:        version,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(fmt.Sprintf(":%d", cfg.HTTP.Port))
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	stopSweepers()
	if err := workers.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("in_flight", workers.InFlight()).Msg("scan tasks abandoned at shutdown")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
