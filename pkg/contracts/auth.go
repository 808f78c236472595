// Caller authentication for the data agent API.

package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity is the authenticated caller of a request. Subject is compared
// against Agent.OwnerID and Conversation.UserID on every owner-scoped
// operation, and keys the chat rate limiter.
type Identity struct {
	Subject     string    `json:"subject"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Provider    string    `json:"provider"` // "apikey" or "service_account"
	Role        string    `json:"role"`     // informational only
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider resolves a request to an Identity.
//
//   - (*Identity, nil): authenticated
//   - (nil, nil): the request carries no credential this provider reads
//   - (nil, error): a credential was presented and is invalid
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain asks providers in order and returns the first
// Identity. (nil, nil) means the request is anonymous.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
