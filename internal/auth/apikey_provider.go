package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
)

// APIKeyProvider validates static API keys from the Authorization: Bearer
// or X-API-Key headers. Each key maps to the caller subject it acts as.
//
// Spec format (AGENTOVEN_API_KEYS): "key1=alice,key2=bob". A key without
// "=subject" acts as "apikey:<first 16 hex of its sha256>".
type APIKeyProvider struct {
	mu          sync.RWMutex
	keys        map[string]string // key → subject
	defaultRole string
}

// NewAPIKeyProvider parses spec into a provider. An empty spec yields a
// disabled provider.
func NewAPIKeyProvider(spec, defaultRole string) *APIKeyProvider {
	if defaultRole == "" {
		defaultRole = "user"
	}
	p := &APIKeyProvider{keys: make(map[string]string), defaultRole: defaultRole}
	for _, entry := range strings.Split(spec, ",") {
		key, subject, _ := strings.Cut(strings.TrimSpace(entry), "=")
		key, subject = strings.TrimSpace(key), strings.TrimSpace(subject)
		if key != "" {
			p.AddKey(key, subject)
		}
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate validates the API key and returns its Identity.
// Returns (nil, nil) if no API key is present.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := extractAPIKeyFromRequest(r)
	if apiKey == "" {
		return nil, nil
	}

	subject, ok := p.lookup(apiKey)
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}
	return &contracts.Identity{
		Subject:     subject,
		Provider:    "apikey",
		Role:        p.defaultRole,
		DisplayName: subject,
	}, nil
}

// lookup compares against every key in constant time.
func (p *APIKeyProvider) lookup(candidate string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	subject, found := "", false
	for key, sub := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			subject, found = sub, true
		}
	}
	return subject, found
}

// AddKey adds a key at runtime. An empty subject derives one from the key.
func (p *APIKeyProvider) AddKey(key, subject string) {
	if subject == "" {
		subject = "apikey:" + fmt.Sprintf("%x", sha256.Sum256([]byte(key)))[:16]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = subject
}

// RemoveKey removes a key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func extractAPIKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}
