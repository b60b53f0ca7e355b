package provider

import (
	"context"

	"github.com/lalithlochan/notify/internal/circuitbreaker"
)

// ProtectedSMS fails fast while its provider's circuit is open.
type ProtectedSMS struct {
	client  SMSClient
	breaker *circuitbreaker.CircuitBreaker
}

func NewProtectedSMS(client SMSClient, breaker *circuitbreaker.CircuitBreaker) *ProtectedSMS {
	return &ProtectedSMS{client: client, breaker: breaker}
}

func (p *ProtectedSMS) Name() string { return p.client.Name() }

// SendSMS rejects an unparseable recipient before the breaker sees it, so
// bad data never counts against the provider.
func (p *ProtectedSMS) SendSMS(ctx context.Context, msg SMS) (string, error) {
	if _, err := FormatE164(msg.To); err != nil {
		return "", err
	}

	var id string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = p.client.SendSMS(ctx, msg)
		return err
	})
	return id, err
}

// Breaker returns the underlying circuit breaker for the ops API.
func (p *ProtectedSMS) Breaker() *circuitbreaker.CircuitBreaker { return p.breaker }

// ProtectedEmail fails fast while its provider's circuit is open.
type ProtectedEmail struct {
	client  EmailClient
	breaker *circuitbreaker.CircuitBreaker
}

func NewProtectedEmail(client EmailClient, breaker *circuitbreaker.CircuitBreaker) *ProtectedEmail {
	return &ProtectedEmail{client: client, breaker: breaker}
}

func (p *ProtectedEmail) Name() string { return p.client.Name() }

func (p *ProtectedEmail) SendEmail(ctx context.Context, msg Email) (string, error) {
	var ref string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		ref, err = p.client.SendEmail(ctx, msg)
		return err
	})
	return ref, err
}

func (p *ProtectedEmail) Breaker() *circuitbreaker.CircuitBreaker { return p.breaker }

// Breakers collects the circuit breakers of protected clients in r.
func (r *Registry) Breakers() []circuitbreaker.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats []circuitbreaker.Stats
	for _, c := range r.clients {
		if b, ok := c.(interface {
			Breaker() *circuitbreaker.CircuitBreaker
		}); ok {
			stats = append(stats, b.Breaker().Stats())
		}
	}
	return stats
}
