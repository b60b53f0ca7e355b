package s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/csvjob"
	"github.com/lalithlochan/notify/internal/jobcache"
	"github.com/lalithlochan/notify/internal/redis"
)

type countingCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *countingCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *countingCounter) get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func setupGateway(t *testing.T, objects *fakeObjects, counter jobcache.Counter) (*Gateway, *recordedSleeps) {
	t.Helper()

	cache := jobcache.New(jobcache.Config{}, counter, zap.NewNop())
	t.Cleanup(cache.Close)

	sleeps := &recordedSleeps{}
	retry := DefaultRetryPolicy()
	retry.Sleep = sleeps.sleep

	gw := NewGateway(objects, cache, Config{Bucket: "jobs", Retry: retry}, zap.NewNop())
	return gw, sleeps
}

func TestGetJob_SlowDownExhaustsRetries(t *testing.T) {
	objects := newFakeObjects()
	objects.put(JobObjectKey("svc", "job"), "phone number\r\n5550100001")
	objects.getErr = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	gw, sleeps := setupGateway(t, objects, nil)

	body, ok := gw.GetJob(context.Background(), "svc", "job")
	if ok || body != "" {
		t.Fatalf("expected no job, got %q", body)
	}
	if objects.gets() != 4 {
		t.Errorf("expected 4 attempts, got %d", objects.gets())
	}

	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	if !slices.Equal(sleeps.delays, want) {
		t.Errorf("expected delays %v, got %v", want, sleeps.delays)
	}
}

func TestGetJob_NoRetryOnPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}},
		{"arbitrary error", errors.New("connection reset by peer")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects := newFakeObjects()
			objects.put(JobObjectKey("svc", "job"), "phone number\r\n5550100001")
			objects.getErr = tt.err
			gw, sleeps := setupGateway(t, objects, nil)

			if _, ok := gw.GetJob(context.Background(), "svc", "job"); ok {
				t.Fatal("expected no job")
			}
			if objects.gets() != 1 {
				t.Errorf("expected 1 attempt, got %d", objects.gets())
			}
			if len(sleeps.delays) != 0 {
				t.Errorf("expected no sleeps, got %v", sleeps.delays)
			}
		})
	}
}

func TestGetJob_RecoversAfterThrottling(t *testing.T) {
	objects := newFakeObjects()
	objects.put(JobObjectKey("svc", "job"), "phone number\r\n5550100001")
	objects.getErrs = []error{
		&smithy.GenericAPIError{Code: "Throttling"},
		&smithy.GenericAPIError{Code: "RequestTimeout"},
	}
	gw, _ := setupGateway(t, objects, nil)

	body, ok := gw.GetJob(context.Background(), "svc", "job")
	if !ok {
		t.Fatal("expected job after retries")
	}
	if body != "phone number\r\n5550100001" {
		t.Errorf("unexpected body %q", body)
	}
	if objects.gets() != 3 {
		t.Errorf("expected 3 attempts, got %d", objects.gets())
	}
}

func TestGetJob_MissingObjectShortCircuits(t *testing.T) {
	objects := newFakeObjects()
	gw, _ := setupGateway(t, objects, nil)

	if _, ok := gw.GetJob(context.Background(), "svc", "missing"); ok {
		t.Fatal("expected no job")
	}
	if objects.headCalls != 1 {
		t.Errorf("expected 1 existence check, got %d", objects.headCalls)
	}
	if objects.gets() != 0 {
		t.Errorf("expected no downloads, got %d", objects.gets())
	}
}

func TestPhoneNumber_CachesAfterFirstFetch(t *testing.T) {
	objects := newFakeObjects()
	objects.put("service-svc1-notify/job1.csv", "phone number\r\n+1 (555) 222-2222")
	counter := &countingCounter{}
	gw, _ := setupGateway(t, objects, counter)
	ctx := context.Background()

	if got := gw.PhoneNumber(ctx, "svc1", "job1", 0); got != "15552222222" {
		t.Fatalf("first lookup: got %q", got)
	}
	if objects.gets() != 1 {
		t.Fatalf("expected 1 fetch, got %d", objects.gets())
	}
	if got := counter.get(redis.JobsCacheMissesKey); got != 1 {
		t.Errorf("first lookup should record exactly 1 miss, got %d", got)
	}
	if got := counter.get(redis.JobsCacheHitsKey); got != 0 {
		t.Errorf("first lookup should record no hits, got %d", got)
	}

	if got := gw.PhoneNumber(ctx, "svc1", "job1", 0); got != "15552222222" {
		t.Fatalf("second lookup: got %q", got)
	}
	if objects.gets() != 1 {
		t.Errorf("second lookup should not fetch, got %d fetches", objects.gets())
	}
	if got := counter.get(redis.JobsCacheHitsKey); got != 1 {
		t.Errorf("second lookup should record exactly 1 hit, got %d", got)
	}
	if got := counter.get(redis.JobsCacheMissesKey); got != 1 {
		t.Errorf("second lookup should not record a miss, got %d misses", got)
	}

	// personalisation is not derived yet, but the body is cached
	if _, ok := gw.Personalisation(ctx, "svc1", "job1", 0); !ok {
		t.Fatal("expected personalisation for row 0")
	}
	if hits, misses := counter.get(redis.JobsCacheHitsKey), counter.get(redis.JobsCacheMissesKey); hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d and %d", hits, misses)
	}
}

func TestPhoneNumber_Unavailable(t *testing.T) {
	objects := newFakeObjects()
	objects.put(JobObjectKey("svc", "job"), "name,phone number\r\nAlice,5550100001\r\nBob")
	gw, _ := setupGateway(t, objects, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		jobID string
		row   int
	}{
		{"short row", "job", 1},
		{"row past end", "job", 7},
		{"missing job", "nope", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gw.PhoneNumber(ctx, "svc", tt.jobID, tt.row); got != csvjob.Unavailable {
				t.Errorf("got %q, want %q", got, csvjob.Unavailable)
			}
		})
	}
}

func TestPersonalisation(t *testing.T) {
	objects := newFakeObjects()
	objects.put(JobObjectKey("svc", "job"), "phone number,name\r\n5550100001,Alice")
	gw, _ := setupGateway(t, objects, nil)
	ctx := context.Background()

	values, ok := gw.Personalisation(ctx, "svc", "job", 0)
	if !ok || values["name"] != "Alice" {
		t.Fatalf("got %v, %v", values, ok)
	}

	if _, ok := gw.Personalisation(ctx, "svc", "job", 3); ok {
		t.Error("expected no personalisation for missing row")
	}
	if _, ok := gw.Personalisation(ctx, "svc", "other", 0); ok {
		t.Error("expected no personalisation for missing job")
	}
}

func TestListJobObjects_Paginates(t *testing.T) {
	objects := newFakeObjects()
	objects.pageSize = 2
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		objects.put(JobObjectKey("svc", id), "phone number\r\n1")
	}
	gw, _ := setupGateway(t, objects, nil)

	var keys []string
	for key := range gw.ListJobObjects(context.Background()) {
		keys = append(keys, key)
	}
	if len(keys) != 5 {
		t.Errorf("expected 5 keys across pages, got %d: %v", len(keys), keys)
	}
}

func TestListJobObjects_ErrorEndsSequence(t *testing.T) {
	objects := newFakeObjects()
	objects.listErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	gw, _ := setupGateway(t, objects, nil)

	n := 0
	for range gw.ListJobObjects(context.Background()) {
		n++
	}
	if n != 0 {
		t.Errorf("expected empty sequence, got %d keys", n)
	}
}

func TestWarmCache_SkipsBadObjects(t *testing.T) {
	objects := newFakeObjects()
	objects.pageSize = 2
	objects.put(JobObjectKey("svc", "job1"), "phone number\r\n5550100001")
	objects.put(JobObjectKey("svc", "job2"), "phone number\r\n5550100002")
	objects.put("not-a-job.txt", "junk")
	gw, _ := setupGateway(t, objects, nil)
	ctx := context.Background()

	n, err := gw.WarmCache(ctx)
	if err != nil {
		t.Fatalf("warm failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 jobs cached, got %d", n)
	}

	phones, ok := gw.cache.Phones(ctx, "job2")
	if !ok || phones[0] != "5550100002" {
		t.Errorf("expected warmed phones for job2, got %v", phones)
	}
	if _, ok := gw.cache.Personalisation(ctx, "job1"); !ok {
		t.Error("expected warmed personalisation for job1")
	}
}

func TestRemoveJob(t *testing.T) {
	objects := newFakeObjects()
	objects.put(JobObjectKey("svc", "job"), "phone number\r\n5550100001")
	gw, _ := setupGateway(t, objects, nil)
	ctx := context.Background()

	gw.PhoneNumber(ctx, "svc", "job", 0)

	if err := gw.RemoveJob(ctx, "svc", "job"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if exists, _ := gw.FileExists(ctx, "jobs", JobObjectKey("svc", "job")); exists {
		t.Error("object should be gone")
	}
	if gw.cache.Len() != 0 {
		t.Errorf("cache should be empty, has %d entries", gw.cache.Len())
	}
}

func TestRemoveObject_PropagatesErrors(t *testing.T) {
	objects := newFakeObjects()
	objects.deleteErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	gw, _ := setupGateway(t, objects, nil)

	if err := gw.RemoveObject(context.Background(), "jobs", "k"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDownloadFileToLocal(t *testing.T) {
	objects := newFakeObjects()
	objects.put("service-svc-notify/job.csv", "phone number\r\n5550100001")
	gw, _ := setupGateway(t, objects, nil)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "job.csv")
	if err := gw.DownloadFileToLocal(ctx, "jobs", "service-svc-notify/job.csv", path); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "phone number\r\n5550100001" {
		t.Errorf("unexpected file contents %q", data)
	}

	err = gw.DownloadFileToLocal(ctx, "jobs", "service-svc-notify/missing.csv", path)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutJob(t *testing.T) {
	objects := newFakeObjects()
	gw, _ := setupGateway(t, objects, nil)

	if err := gw.PutJob(context.Background(), "svc", "job", "phone number\r\n1"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, ok := gw.GetJob(context.Background(), "svc", "job"); !ok {
		t.Error("uploaded job should be readable")
	}
}
