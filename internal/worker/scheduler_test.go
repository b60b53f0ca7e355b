package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
)

type fakeWarmer struct {
	calls int
	err   error
}

func (f *fakeWarmer) WarmCache(context.Context) (int, error) {
	f.calls++
	return 3, f.err
}

type fakeCleaner struct {
	removed int
	len     int
}

func (f *fakeCleaner) Clean() int { return f.removed }
func (f *fakeCleaner) Len() int   { return f.len }

type fakeRemover struct {
	removed []string
	failFor string
}

func (f *fakeRemover) RemoveJob(_ context.Context, _, jobID string) error {
	if jobID == f.failFor {
		return errors.New("access denied")
	}
	f.removed = append(f.removed, jobID)
	return nil
}

type fakeArchive struct {
	jobs     []db.Job
	cutoff   time.Time
	archived []uuid.UUID
}

func (f *fakeArchive) JobsOlderThan(_ context.Context, cutoff time.Time, limit int) ([]db.Job, error) {
	f.cutoff = cutoff
	if len(f.jobs) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

func (f *fakeArchive) MarkJobArchived(_ context.Context, id uuid.UUID) error {
	f.archived = append(f.archived, id)
	return nil
}

func TestArchiveJobs(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	failing := uuid.New()
	archive := &fakeArchive{jobs: []db.Job{
		{ID: uuid.New(), ServiceID: uuid.New()},
		{ID: failing, ServiceID: uuid.New()},
		{ID: uuid.New(), ServiceID: uuid.New()},
	}}
	remover := &fakeRemover{failFor: failing.String()}

	s := NewScheduler(&fakeWarmer{}, &fakeCleaner{}, remover, archive, SchedulerConfig{}, zap.NewNop())
	s.now = func() time.Time { return now }

	if got := s.ArchiveJobs(context.Background()); got != 2 {
		t.Errorf("expected 2 archived, got %d", got)
	}
	if want := now.Add(-7 * 24 * time.Hour); !archive.cutoff.Equal(want) {
		t.Errorf("cutoff: got %v, want %v", archive.cutoff, want)
	}
	for _, id := range archive.archived {
		if id == failing {
			t.Error("job whose csv was not removed must not be marked archived")
		}
	}
}

func TestArchiveJobs_BatchLimit(t *testing.T) {
	archive := &fakeArchive{}
	for i := 0; i < 5; i++ {
		archive.jobs = append(archive.jobs, db.Job{ID: uuid.New(), ServiceID: uuid.New()})
	}

	s := NewScheduler(&fakeWarmer{}, &fakeCleaner{}, &fakeRemover{}, archive, SchedulerConfig{ArchiveBatch: 2}, zap.NewNop())
	if got := s.ArchiveJobs(context.Background()); got != 2 {
		t.Errorf("expected batch of 2, got %d", got)
	}
}

func TestRun_WarmsImmediately(t *testing.T) {
	warmer := &fakeWarmer{}
	s := NewScheduler(warmer, &fakeCleaner{}, &fakeRemover{}, &fakeArchive{}, SchedulerConfig{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if warmer.calls != 1 {
		t.Errorf("expected 1 warm on start, got %d", warmer.calls)
	}
}

func TestRun_Tickers(t *testing.T) {
	warmer := &fakeWarmer{err: errors.New("list failed")}
	cleaner := &fakeCleaner{removed: 1, len: 4}
	s := NewScheduler(warmer, cleaner, &fakeRemover{}, &fakeArchive{}, SchedulerConfig{
		WarmInterval:    5 * time.Millisecond,
		CleanInterval:   5 * time.Millisecond,
		ArchiveInterval: 5 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if warmer.calls < 2 {
		t.Errorf("expected repeated warms, got %d", warmer.calls)
	}
}
