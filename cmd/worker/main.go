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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/notify/internal/api"
	"github.com/lalithlochan/notify/internal/circuitbreaker"
	"github.com/lalithlochan/notify/internal/config"
	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/delivery"
	"github.com/lalithlochan/notify/internal/jobcache"
	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/observ"
	"github.com/lalithlochan/notify/internal/provider"
	"github.com/lalithlochan/notify/internal/redis"
	"github.com/lalithlochan/notify/internal/s3"
	"github.com/lalithlochan/notify/internal/sqs"
	"github.com/lalithlochan/notify/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notify worker",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("bucket", cfg.CSVUploadBucket),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,

		ApplicationName: "notify-worker",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	store := redis.NewStore(redisClient, logger)

	cache := jobcache.New(jobcache.Config{
		TTL:        cfg.JobCacheTTL,
		MaxEntries: cfg.JobCacheMaxEntries,
	}, store, logger)
	defer cache.Close()

	s3Client, err := s3.NewClient(ctx, s3.ClientConfig{
		Region:   cfg.CSVUploadRegion,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to create s3 client: %w", err)
	}
	gateway := s3.NewGateway(s3Client, cache, s3.Config{
		Bucket:      cfg.CSVUploadBucket,
		CallTimeout: cfg.S3CallTimeout,
	}, logger)

	registry, err := providerRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	selector := provider.NewSelector(repo, registry, cfg.ProviderCacheTTL, logger)

	producer, err := sqs.NewProducer(ctx, sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL}, logger)
	if err != nil {
		return fmt.Errorf("failed to create sqs producer: %w", err)
	}
	consumer, err := sqs.NewConsumer(ctx, sqs.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL}, logger)
	if err != nil {
		return fmt.Errorf("failed to create sqs consumer: %w", err)
	}

	dispatcher := delivery.NewDispatcher(delivery.Deps{
		Notifications: repo,
		Services:      repo,
		Templates:     repo,
		Jobs:          gateway,
		Providers:     selector,
		KV:            store,
		Simulator:     producer,
	}, delivery.Config{
		Environment: cfg.Env,
		EmailDomain: cfg.NotifyEmailDomain,
	}, logger)

	w := worker.New(consumer, dispatcher, repo, redis.NewDeliveryLock(redisClient, logger, 0), worker.Config{
		MaxRetries: cfg.DeliveryMaxRetries,
	}, logger)

	scheduler := worker.NewScheduler(gateway, cache, gateway, repo, worker.SchedulerConfig{
		WarmInterval:  cfg.CacheWarmInterval,
		CleanInterval: cfg.CacheCleanInterval,
		Retention:     time.Duration(cfg.JobRetentionDays) * 24 * time.Hour,
	}, logger)

	handler := api.NewHandler(logger, api.Deps{
		Notifications: repo,
		Queue:         producer,
		Providers:     selector,
		Breakers:      registry,
		Jobs:          gateway,
		Cache:         cache,
		Checks: map[string]api.HealthCheck{
			"postgres": database.Health,
			"redis":    redisClient.Ping,
		},
	})
	limiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
		Limit:  100,
		Window: time.Minute,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.Start(gctx)
		return nil
	})

	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				total, _ := redisClient.PoolStats()
				metrics.SetRedisConnections(int(total))
				metrics.SetJobCacheEntries(cache.Len())
			}
		}
	})

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("worker stopped gracefully")
	return nil
}

// providerRegistry wraps each provider client in its own circuit breaker.
func providerRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	snsClient, err := provider.NewSNSClient(ctx, provider.SNSConfig{
		Region: cfg.SNSRegion,
		Rate:   cfg.SNSSMSRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sns client: %w", err)
	}

	sesClient, err := provider.NewSESClient(ctx, provider.SESConfig{Region: cfg.SESRegion}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ses client: %w", err)
	}

	return provider.NewRegistry(
		provider.NewProtectedSMS(snsClient, circuitbreaker.New(circuitbreaker.DefaultConfig(snsClient.Name()), logger)),
		provider.NewProtectedEmail(sesClient, circuitbreaker.New(circuitbreaker.DefaultConfig(sesClient.Name()), logger)),
	), nil
}
