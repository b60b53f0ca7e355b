package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/metrics"
)

type Warmer interface {
	WarmCache(ctx context.Context) (int, error)
}

type Cleaner interface {
	Clean() int
	Len() int
}

type JobRemover interface {
	RemoveJob(ctx context.Context, serviceID, jobID string) error
}

type JobArchive interface {
	JobsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]db.Job, error)
	MarkJobArchived(ctx context.Context, id uuid.UUID) error
}

type SchedulerConfig struct {
	WarmInterval    time.Duration
	CleanInterval   time.Duration
	ArchiveInterval time.Duration
	// Retention is how long a job CSV is kept after upload.
	Retention    time.Duration
	ArchiveBatch int
}

// Scheduler keeps the job cache warm and trims expired jobs.
type Scheduler struct {
	warmer  Warmer
	cache   Cleaner
	remover JobRemover
	jobs    JobArchive
	config  SchedulerConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewScheduler(warmer Warmer, cache Cleaner, remover JobRemover, jobs JobArchive, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.WarmInterval == 0 {
		cfg.WarmInterval = 30 * time.Minute
	}
	if cfg.CleanInterval == 0 {
		cfg.CleanInterval = 10 * time.Minute
	}
	if cfg.ArchiveInterval == 0 {
		cfg.ArchiveInterval = time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.ArchiveBatch == 0 {
		cfg.ArchiveBatch = 100
	}

	return &Scheduler{
		warmer:  warmer,
		cache:   cache,
		remover: remover,
		jobs:    jobs,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run warms the cache once, then runs each task on its own ticker until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.WarmCache(ctx)

	warm := time.NewTicker(s.config.WarmInterval)
	defer warm.Stop()
	clean := time.NewTicker(s.config.CleanInterval)
	defer clean.Stop()
	archive := time.NewTicker(s.config.ArchiveInterval)
	defer archive.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-warm.C:
			s.WarmCache(ctx)
		case <-clean.C:
			s.CleanCache()
		case <-archive.C:
			s.ArchiveJobs(ctx)
		}
	}
}

func (s *Scheduler) WarmCache(ctx context.Context) {
	start := s.now()
	n, err := s.warmer.WarmCache(ctx)
	if err != nil {
		s.logger.Error("job cache warm failed", zap.Error(err))
		metrics.RecordTask("warm_cache", "error")
		return
	}
	s.logger.Info("job cache warmed",
		zap.Int("jobs", n),
		zap.Duration("took", s.now().Sub(start)),
	)
	metrics.RecordTask("warm_cache", "ok")
}

func (s *Scheduler) CleanCache() {
	removed := s.cache.Clean()
	metrics.SetJobCacheEntries(s.cache.Len())
	if removed > 0 {
		s.logger.Info("expired jobs removed from cache", zap.Int("removed", removed))
	}
	metrics.RecordTask("clean_cache", "ok")
}

// ArchiveJobs deletes the CSVs of jobs past retention and flags them
// archived. A job whose object cannot be removed is retried next run.
func (s *Scheduler) ArchiveJobs(ctx context.Context) int {
	cutoff := s.now().Add(-s.config.Retention)

	jobs, err := s.jobs.JobsOlderThan(ctx, cutoff, s.config.ArchiveBatch)
	if err != nil {
		s.logger.Error("failed to list jobs to archive", zap.Error(err))
		metrics.RecordTask("archive_jobs", "error")
		return 0
	}

	archived := 0
	for _, job := range jobs {
		if err := s.remover.RemoveJob(ctx, job.ServiceID.String(), job.ID.String()); err != nil {
			s.logger.Error("failed to remove job csv",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if err := s.jobs.MarkJobArchived(ctx, job.ID); err != nil {
			s.logger.Error("failed to mark job archived",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}
		archived++
	}

	if archived > 0 {
		s.logger.Info("jobs archived", zap.Int("count", archived))
	}
	metrics.RecordTask("archive_jobs", "ok")
	return archived
}
