package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/db"
)

type fakeStore struct {
	mu        sync.Mutex
	providers []db.ProviderDetails
	loads     atomic.Int32
	delay     time.Duration
	gate      chan struct{}
	err       error

	reduced   []string
	reduceHit bool
}

func (f *fakeStore) ProvidersByType(ctx context.Context, notificationType string, international bool) ([]db.ProviderDetails, error) {
	f.loads.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	var out []db.ProviderDetails
	for _, p := range f.providers {
		if p.NotificationType != notificationType {
			continue
		}
		if international && !p.SupportsInternational {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) ReducePriority(_ context.Context, identifier string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reduced = append(f.reduced, identifier)
	if !f.reduceHit {
		return false, nil
	}
	for i := range f.providers {
		if f.providers[i].Identifier == identifier {
			f.providers[i].Priority = min(f.providers[i].Priority+10, 100)
		}
	}
	return true, nil
}

type namedSMS struct{ name string }

func (n namedSMS) Name() string { return n.name }
func (n namedSMS) SendSMS(context.Context, SMS) (string, error) {
	return n.name + "-id", nil
}

func smsProvider(id string, priority int, active bool) db.ProviderDetails {
	return db.ProviderDetails{
		Identifier:            id,
		NotificationType:      db.TypeSMS,
		Priority:              priority,
		Active:                active,
		SupportsInternational: true,
	}
}

func newTestSelector(store *fakeStore, ttl time.Duration) *Selector {
	registry := NewRegistry(namedSMS{"a"}, namedSMS{"b"})
	return NewSelector(store, registry, ttl, zap.NewNop())
}

func TestSelect_LowestPriorityWins(t *testing.T) {
	store := &fakeStore{providers: []db.ProviderDetails{
		smsProvider("a", 20, true),
		smsProvider("b", 10, true),
	}}
	sel := newTestSelector(store, time.Minute)

	client, err := sel.SMSProvider(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Name() != "b" {
		t.Errorf("expected b, got %s", client.Name())
	}
}

func TestSelect_SkipsInactive(t *testing.T) {
	store := &fakeStore{providers: []db.ProviderDetails{
		smsProvider("a", 20, true),
		smsProvider("b", 10, false),
	}}
	sel := newTestSelector(store, time.Minute)

	details, err := sel.Select(context.Background(), db.TypeSMS, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.Identifier != "a" {
		t.Errorf("expected a, got %s", details.Identifier)
	}
}

func TestSelect_AllInactiveFails(t *testing.T) {
	store := &fakeStore{providers: []db.ProviderDetails{
		smsProvider("a", 20, false),
		smsProvider("b", 10, false),
	}}
	sel := newTestSelector(store, time.Minute)

	client, err := sel.ProviderToUse(context.Background(), db.TypeSMS, false)
	if !errors.Is(err, ErrNoActiveProvider) {
		t.Fatalf("expected ErrNoActiveProvider, got %v", err)
	}
	if client != nil {
		t.Errorf("expected no client, got %s", client.Name())
	}
}

func TestSelect_ErrorsAreNotCached(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	sel := newTestSelector(store, time.Minute)
	ctx := context.Background()

	if _, err := sel.Select(ctx, db.TypeSMS, false); err == nil {
		t.Fatal("expected error")
	}

	store.mu.Lock()
	store.err = nil
	store.providers = []db.ProviderDetails{smsProvider("a", 10, true)}
	store.mu.Unlock()

	if _, err := sel.Select(ctx, db.TypeSMS, false); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestSelect_CachedWithinTTL(t *testing.T) {
	store := &fakeStore{providers: []db.ProviderDetails{smsProvider("a", 10, true)}}
	sel := newTestSelector(store, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := sel.Select(ctx, db.TypeSMS, false); err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
	}
	if got := store.loads.Load(); got != 1 {
		t.Errorf("expected 1 load, got %d", got)
	}

	// international selections are cached separately
	sel.Select(ctx, db.TypeSMS, true)
	if got := store.loads.Load(); got != 2 {
		t.Errorf("expected 2 loads, got %d", got)
	}

	time.Sleep(150 * time.Millisecond)
	sel.Select(ctx, db.TypeSMS, false)
	if got := store.loads.Load(); got != 3 {
		t.Errorf("expected reload after TTL, got %d loads", got)
	}
}

func TestSelect_ConcurrentCallersShareOneLoad(t *testing.T) {
	store := &fakeStore{
		providers: []db.ProviderDetails{smsProvider("a", 10, true)},
		delay:     50 * time.Millisecond,
	}
	sel := newTestSelector(store, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sel.Select(context.Background(), db.TypeSMS, false); err != nil {
				t.Errorf("select: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.loads.Load(); got != 1 {
		t.Errorf("expected 1 load, got %d", got)
	}
}

func TestReducePriority_DropsCachedSelection(t *testing.T) {
	store := &fakeStore{
		providers: []db.ProviderDetails{
			smsProvider("a", 10, true),
			smsProvider("b", 15, true),
		},
		reduceHit: true,
	}
	sel := newTestSelector(store, time.Minute)
	ctx := context.Background()

	first, _ := sel.Select(ctx, db.TypeSMS, false)
	if first.Identifier != "a" {
		t.Fatalf("expected a first, got %s", first.Identifier)
	}

	if err := sel.ReducePriority(ctx, "a", time.Minute); err != nil {
		t.Fatalf("reduce: %v", err)
	}

	next, _ := sel.Select(ctx, db.TypeSMS, false)
	if next.Identifier != "b" {
		t.Errorf("expected b after a was pushed down, got %s", next.Identifier)
	}
}

func TestReducePriority_WithinThresholdKeepsCache(t *testing.T) {
	store := &fakeStore{providers: []db.ProviderDetails{smsProvider("a", 10, true)}}
	sel := newTestSelector(store, time.Minute)
	ctx := context.Background()

	sel.Select(ctx, db.TypeSMS, false)
	if err := sel.ReducePriority(ctx, "a", time.Minute); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	sel.Select(ctx, db.TypeSMS, false)

	if got := store.loads.Load(); got != 1 {
		t.Errorf("cache should survive a no-op reduction, got %d loads", got)
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	store := &fakeStore{providers: []db.ProviderDetails{smsProvider("mmg", 10, true)}}
	sel := newTestSelector(store, time.Minute)

	_, err := sel.SMSProvider(context.Background(), false)
	if !errors.Is(err, ErrNoActiveProvider) {
		t.Fatalf("expected ErrNoActiveProvider, got %v", err)
	}
}

func TestSelect_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &fakeStore{
		providers: []db.ProviderDetails{smsProvider("a", 10, true)},
		gate:      make(chan struct{}),
	}
	sel := newTestSelector(store, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := sel.Select(ctx, db.TypeSMS, false)
		firstErr <- err
	}()

	deadline := time.Now().Add(time.Second)
	for store.loads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("load never started")
		}
		time.Sleep(time.Millisecond)
	}

	type result struct {
		details db.ProviderDetails
		err     error
	}
	second := make(chan result, 1)
	go func() {
		d, err := sel.Select(context.Background(), db.TypeSMS, false)
		second <- result{d, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
	}

	close(store.gate)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("second caller should not see the first caller's cancellation: %v", res.err)
		}
		if res.details.Identifier != "a" {
			t.Errorf("expected provider a, got %s", res.details.Identifier)
		}
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	if got := store.loads.Load(); got != 1 {
		t.Errorf("expected 1 load, got %d", got)
	}
}
