package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/config"
	"github.com/lalithlochan/notify/internal/jobcache"
	"github.com/lalithlochan/notify/internal/observ"
	"github.com/lalithlochan/notify/internal/s3"
)

// app holds what every subcommand needs. Flags override the environment.
type app struct {
	bucket   string
	region   string
	endpoint string

	logger  *zap.Logger
	cache   *jobcache.Cache
	gateway *s3.Gateway
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a.logger, err = observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if a.bucket == "" {
		a.bucket = cfg.CSVUploadBucket
	}
	if a.region == "" {
		a.region = cfg.CSVUploadRegion
	}
	if a.endpoint == "" {
		a.endpoint = cfg.S3Endpoint
	}

	client, err := s3.NewClient(ctx, s3.ClientConfig{Region: a.region, Endpoint: a.endpoint})
	if err != nil {
		return fmt.Errorf("failed to create s3 client: %w", err)
	}

	// The CLI is short lived, so the cache is local and uncounted.
	a.cache = jobcache.New(jobcache.Config{
		TTL:        cfg.JobCacheTTL,
		MaxEntries: cfg.JobCacheMaxEntries,
	}, nil, a.logger)
	a.gateway = s3.NewGateway(client, a.cache, s3.Config{
		Bucket:      a.bucket,
		CallTimeout: cfg.S3CallTimeout,
	}, a.logger)
	return nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
