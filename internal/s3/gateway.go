// Package s3 reads job CSV files from object storage into the job cache.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/notify/internal/csvjob"
	"github.com/lalithlochan/notify/internal/jobcache"
	"github.com/lalithlochan/notify/internal/metrics"
)

// ObjectAPI is the part of *s3.Client the gateway uses.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config for the gateway.
type Config struct {
	Bucket      string
	CallTimeout time.Duration
	// WarmConcurrency caps parallel downloads during WarmCache.
	WarmConcurrency int
	Retry           RetryPolicy
}

// Gateway bridges the job cache and the bucket holding job CSVs.
type Gateway struct {
	api       ObjectAPI
	cache     *jobcache.Cache
	extractor *csvjob.Extractor
	logger    *zap.Logger

	bucket      string
	callTimeout time.Duration
	warmLimit   int
	retry       RetryPolicy
}

// NewGateway creates a gateway over api.
func NewGateway(api ObjectAPI, cache *jobcache.Cache, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 8
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Gateway{
		api:         api,
		cache:       cache,
		extractor:   csvjob.NewExtractor(logger),
		logger:      logger,
		bucket:      cfg.Bucket,
		callTimeout: cfg.CallTimeout,
		warmLimit:   cfg.WarmConcurrency,
		retry:       cfg.Retry,
	}
}

// Bucket returns the configured job bucket.
func (g *Gateway) Bucket() string {
	return g.bucket
}

// ListJobObjects yields every key in the bucket. A listing error is logged
// and ends the sequence.
func (g *Gateway) ListJobObjects(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		paginator := s3.NewListObjectsV2Paginator(g.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(g.bucket),
		})

		for paginator.HasMorePages() {
			callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
			page, err := paginator.NextPage(callCtx)
			cancel()
			if err != nil {
				g.logger.Error("failed to list job objects",
					zap.String("bucket", g.bucket),
					zap.Error(classify(err)),
				)
				return
			}

			for _, obj := range page.Contents {
				if !yield(aws.ToString(obj.Key)) {
					return
				}
			}
		}
	}
}

// FileExists reports whether key is present in bucket.
func (g *Gateway) FileExists(ctx context.Context, bucket, key string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	_, err := g.api.HeadObject(callCtx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	err = classify(err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", key, err)
}

// GetJob fetches a job's CSV body. It never fails loudly: a missing object,
// a permanent error, or running out of retries all log and return false.
func (g *Gateway) GetJob(ctx context.Context, serviceID, jobID string) (string, bool) {
	key := JobObjectKey(serviceID, jobID)

	exists, err := g.FileExists(ctx, g.bucket, key)
	if err != nil {
		g.logger.Error("failed to check job object",
			zap.String("service_id", serviceID),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return "", false
	}
	if !exists {
		g.logger.Error("job object does not exist",
			zap.String("service_id", serviceID),
			zap.String("job_id", jobID),
			zap.String("key", key),
		)
		return "", false
	}

	var body string
	attempts, err := g.retry.Do(ctx, func(ctx context.Context) error {
		b, err := g.readObject(ctx, g.bucket, key)
		metrics.RecordS3Attempt(outcome(err))
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		g.logger.Error("failed to get job from object storage",
			zap.String("service_id", serviceID),
			zap.String("job_id", jobID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return "", false
	}

	if attempts > 1 {
		g.logger.Info("fetched job after retrying",
			zap.String("job_id", jobID),
			zap.Int("attempts", attempts),
		)
	}
	return body, true
}

// ReadJobAndCache downloads one object and caches its body, phone lookup and
// personalisation lookup together.
func (g *Gateway) ReadJobAndCache(ctx context.Context, bucket, key string) error {
	jobID, ok := JobIDFromObjectKey(key)
	if !ok {
		return fmt.Errorf("malformed job object key %q", key)
	}

	body, err := g.readObject(ctx, bucket, key)
	if err != nil {
		return err
	}

	g.cacheJob(jobID, body)
	return nil
}

// WarmCache loads every job in the bucket into the cache. Failures on single
// objects are logged and skipped. It returns the number of jobs cached.
func (g *Gateway) WarmCache(ctx context.Context) (int, error) {
	var cached atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.warmLimit)

	for key := range g.ListJobObjects(egCtx) {
		if _, ok := JobIDFromObjectKey(key); !ok {
			g.logger.Warn("skipping object with unexpected key", zap.String("key", key))
			continue
		}

		eg.Go(func() error {
			if err := g.ReadJobAndCache(egCtx, g.bucket, key); err != nil {
				g.logger.Error("failed to warm job cache",
					zap.String("key", key),
					zap.Error(err),
				)
				return nil
			}
			cached.Add(1)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return int(cached.Load()), err
	}
	if err := ctx.Err(); err != nil {
		return int(cached.Load()), err
	}

	g.logger.Info("job cache warmed",
		zap.Int64("jobs", cached.Load()),
		zap.Int("entries", g.cache.Len()),
	)
	return int(cached.Load()), nil
}

// RemoveJob deletes a job's CSV and drops it from the cache.
func (g *Gateway) RemoveJob(ctx context.Context, serviceID, jobID string) error {
	if err := g.RemoveObject(ctx, g.bucket, JobObjectKey(serviceID, jobID)); err != nil {
		return err
	}
	g.cache.Forget(jobID)
	return nil
}

// RemoveObject deletes one object. Errors are returned to the caller.
func (g *Gateway) RemoveObject(ctx context.Context, bucket, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	_, err := g.api.DeleteObject(callCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, classify(err))
	}

	g.logger.Info("removed job object",
		zap.String("bucket", bucket),
		zap.String("key", key),
	)
	return nil
}

// DownloadFileToLocal copies an object to path.
func (g *Gateway) DownloadFileToLocal(ctx context.Context, bucket, key, path string) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	out, err := g.api.GetObject(callCtx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classify(err)
		g.logger.Error("failed to download job object",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// PutJob uploads a job CSV for serviceID.
func (g *Gateway) PutJob(ctx context.Context, serviceID, jobID, body string) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	key := JobObjectKey(serviceID, jobID)
	_, err := g.api.PutObject(callCtx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, classify(err))
	}
	return nil
}

func (g *Gateway) readObject(ctx context.Context, bucket, key string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	out, err := g.api.GetObject(callCtx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", classify(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

func (g *Gateway) cacheJob(jobID, body string) {
	g.cache.SetJob(jobID, body)
	g.cache.SetPhones(jobID, g.extractor.ExtractPhones(body))
	g.cache.SetPersonalisation(jobID, g.extractor.ExtractPersonalisation(body))
}
