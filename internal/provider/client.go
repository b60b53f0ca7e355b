// Package provider picks the vendor a notification goes out through and
// holds the vendor clients.
package provider

import (
	"context"
	"fmt"
	"sync"
)

// SMS is one text message handed to a provider.
type SMS struct {
	To            string
	Content       string
	Reference     string
	Sender        string
	International bool
}

// Email is one email handed to a provider.
type Email struct {
	From     string
	To       string
	Subject  string
	Body     string
	HTMLBody string
	ReplyTo  string
}

// Client is a vendor integration, named by its provider_details identifier.
type Client interface {
	Name() string
}

type SMSClient interface {
	Client
	// SendSMS returns the provider's message id.
	SendSMS(ctx context.Context, msg SMS) (string, error)
}

type EmailClient interface {
	Client
	// SendEmail returns the provider's reference for the message.
	SendEmail(ctx context.Context, msg Email) (string, error)
}

// Registry maps provider identifiers to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the client for c.Name().
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Lookup returns the client registered under identifier.
func (r *Registry) Lookup(identifier string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for %q", ErrNoActiveProvider, identifier)
	}
	return c, nil
}

// Names lists registered identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
