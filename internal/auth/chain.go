// Package auth resolves the caller identity of HTTP requests.
//
// Shipped providers:
//   - APIKeyProvider: static keys mapped to caller subjects
//   - ServiceAccountProvider: HMAC-signed tokens minted by a trusted front end
//
// The resolved Identity.Subject is the caller ID that agent ownership,
// conversation ownership and rate limiting are keyed on.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ErrNoSubject is returned when a provider accepts a credential that does
// not name a caller. Ownership checks cannot run without one.
var ErrNoSubject = errors.New("credential has no subject")

// ProviderChain implements contracts.AuthProviderChain.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

// NewProviderChain creates an empty chain. Every request is anonymous
// until a provider is registered.
func NewProviderChain() *ProviderChain {
	return &ProviderChain{}
}

// RegisterProvider appends provider. Disabled providers are kept so
// ListProviders reports them, but they never authenticate.
func (c *ProviderChain) RegisterProvider(provider contracts.AuthProvider) {
	c.mu.Lock()
	c.providers = append(c.providers, provider)
	c.mu.Unlock()

	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("🔑 Auth provider registered")
}

// Authenticate returns the first identity an enabled provider resolves.
// A provider error stops the walk: a bad credential is never retried as
// another kind.
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	c.mu.RLock()
	providers := c.providers
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		id, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().Err(err).Str("provider", p.Name()).Msg("Credential rejected")
			return nil, err
		}
		if id == nil {
			continue
		}
		id.Subject = strings.TrimSpace(id.Subject)
		if id.Subject == "" {
			return nil, ErrNoSubject
		}
		if id.Provider == "" {
			id.Provider = p.Name()
		}
		return id, nil
	}
	return nil, nil
}

// ListProviders returns provider names in chain order.
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}
