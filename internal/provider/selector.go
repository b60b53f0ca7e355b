package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lalithlochan/notify/internal/db"
	"github.com/lalithlochan/notify/internal/metrics"
)

// ErrNoActiveProvider means no active provider can take the notification.
var ErrNoActiveProvider = errors.New("no active provider")

const (
	DefaultCacheTTL     = 10 * time.Second
	selectionCacheItems = 8
	loadTimeout         = 5 * time.Second
)

// Store is the provider_details table.
type Store interface {
	ProvidersByType(ctx context.Context, notificationType string, international bool) ([]db.ProviderDetails, error)
	ReducePriority(ctx context.Context, identifier string, threshold time.Duration) (bool, error)
}

// Selector chooses one active provider per notification type and
// international flag. Choices are cached briefly so a burst of sends costs
// one query, while an operator disabling a provider takes effect within the
// cache TTL.
type Selector struct {
	store    Store
	registry *Registry
	logger   *zap.Logger

	selections *ttlcache.Cache[string, db.ProviderDetails]
	loads      singleflight.Group
}

// NewSelector creates a selector. ttl <= 0 uses DefaultCacheTTL.
func NewSelector(store Store, registry *Registry, ttl time.Duration, logger *zap.Logger) *Selector {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Selector{
		store:    store,
		registry: registry,
		logger:   logger,
		selections: ttlcache.New[string, db.ProviderDetails](
			ttlcache.WithTTL[string, db.ProviderDetails](ttl),
			ttlcache.WithCapacity[string, db.ProviderDetails](selectionCacheItems),
			ttlcache.WithDisableTouchOnHit[string, db.ProviderDetails](),
		),
	}
}

func selectionKey(notificationType string, international bool) string {
	return notificationType + ":" + strconv.FormatBool(international)
}

// Select returns the details of the provider to use.
func (s *Selector) Select(ctx context.Context, notificationType string, international bool) (db.ProviderDetails, error) {
	key := selectionKey(notificationType, international)
	if item := s.selections.Get(key); item != nil {
		return item.Value(), nil
	}

	// The load is shared by every caller waiting on key, so it must not
	// inherit one caller's cancellation.
	loads := s.loads.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		providers, err := s.store.ProvidersByType(loadCtx, notificationType, international)
		if err != nil {
			return db.ProviderDetails{}, fmt.Errorf("load providers: %w", err)
		}

		chosen, ok := choose(providers)
		if !ok {
			s.logger.Error("no active providers",
				zap.String("notification_type", notificationType),
				zap.Bool("international", international),
				zap.Int("configured", len(providers)),
			)
			return db.ProviderDetails{}, fmt.Errorf("%w for %s (international=%t)",
				ErrNoActiveProvider, notificationType, international)
		}

		s.selections.Set(key, chosen, ttlcache.DefaultTTL)
		return chosen, nil
	})

	select {
	case <-ctx.Done():
		return db.ProviderDetails{}, ctx.Err()
	case res := <-loads:
		if res.Err != nil {
			return db.ProviderDetails{}, res.Err
		}
		return res.Val.(db.ProviderDetails), nil
	}
}

// choose returns the active provider with the lowest priority number.
// Ties keep store order.
func choose(providers []db.ProviderDetails) (db.ProviderDetails, bool) {
	var best db.ProviderDetails
	found := false
	for _, p := range providers {
		if !p.Active {
			continue
		}
		if !found || p.Priority < best.Priority {
			best = p
			found = true
		}
	}
	return best, found
}

// ProviderToUse returns the client for the selected provider.
func (s *Selector) ProviderToUse(ctx context.Context, notificationType string, international bool) (Client, error) {
	details, err := s.Select(ctx, notificationType, international)
	if err != nil {
		return nil, err
	}
	return s.registry.Lookup(details.Identifier)
}

// SMSProvider returns the SMS client to use.
func (s *Selector) SMSProvider(ctx context.Context, international bool) (SMSClient, error) {
	c, err := s.ProviderToUse(ctx, db.TypeSMS, international)
	if err != nil {
		return nil, err
	}
	sms, ok := c.(SMSClient)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot send sms", ErrNoActiveProvider, c.Name())
	}
	return sms, nil
}

// EmailProvider returns the email client to use.
func (s *Selector) EmailProvider(ctx context.Context) (EmailClient, error) {
	c, err := s.ProviderToUse(ctx, db.TypeEmail, false)
	if err != nil {
		return nil, err
	}
	email, ok := c.(EmailClient)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot send email", ErrNoActiveProvider, c.Name())
	}
	return email, nil
}

// Providers lists every configured provider for a type, active or not.
func (s *Selector) Providers(ctx context.Context, notificationType string, international bool) ([]db.ProviderDetails, error) {
	return s.store.ProvidersByType(ctx, notificationType, international)
}

// ReducePriority moves a failing provider down the order unless it was
// changed within threshold. Cached selections are dropped when it moves.
func (s *Selector) ReducePriority(ctx context.Context, identifier string, threshold time.Duration) error {
	reduced, err := s.store.ReducePriority(ctx, identifier, threshold)
	if err != nil {
		return err
	}
	if !reduced {
		s.logger.Debug("provider priority changed recently, not reducing",
			zap.String("provider", identifier),
		)
		return nil
	}

	metrics.RecordPriorityReduction(identifier)
	s.selections.DeleteAll()
	s.logger.Warn("reduced provider priority",
		zap.String("provider", identifier),
		zap.Duration("threshold", threshold),
	)
	return nil
}

// Invalidate drops every cached selection.
func (s *Selector) Invalidate() {
	s.selections.DeleteAll()
}
