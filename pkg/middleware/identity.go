// Package middleware provides shared context helpers for request identity.
//
// It lives in pkg/ so out-of-tree auth providers can read and set the
// authenticated caller without importing internal/.
package middleware

import (
	"context"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
// Called by the auth middleware after successful authentication.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil if no identity is set (anonymous/unauthenticated request).
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}

// CallerID returns the authenticated subject, or "" for anonymous requests.
func CallerID(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil {
		return id.Subject
	}
	return ""
}
