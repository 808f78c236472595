package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
)

// ServiceAccountProvider validates HMAC-signed caller tokens. The web
// front end that owns user sessions mints them; the engine only verifies.
//
// Token format: base64url(JSON payload) + "." + base64url(HMAC-SHA256)
// Payload: {"sub": "user-123", "email": "a@b.c", "role": "user", "exp": 1234567890}
//
// Config: AGENTOVEN_SA_SECRET (HMAC secret key).
type ServiceAccountProvider struct {
	secret []byte
	now    func() time.Time
}

type serviceAccountPayload struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
	Exp     int64  `json:"exp"` // Unix timestamp
}

// NewServiceAccountProvider creates a provider. An empty secret disables it.
func NewServiceAccountProvider(secret string) *ServiceAccountProvider {
	return &ServiceAccountProvider{secret: []byte(secret), now: time.Now}
}

func (p *ServiceAccountProvider) Name() string  { return "service_account" }
func (p *ServiceAccountProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate validates the token from the X-Service-Token header.
// Returns (nil, nil) if no service token is present.
func (p *ServiceAccountProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token := r.Header.Get("X-Service-Token")
	if token == "" {
		return nil, nil
	}

	payload, err := p.validateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid service account token: %w", err)
	}

	return &contracts.Identity{
		Subject:     payload.Subject,
		Email:       payload.Email,
		Provider:    "service_account",
		Role:        payload.Role,
		DisplayName: payload.Subject,
		ExpiresAt:   time.Unix(payload.Exp, 0),
	}, nil
}

func (p *ServiceAccountProvider) validateToken(token string) (*serviceAccountPayload, error) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return nil, fmt.Errorf("malformed token: expected payload.signature")
	}
	payloadB64, sigB64 := token[:i], token[i+1:]

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payloadB64))
	expectedSig := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(sig, expectedSig) {
		return nil, fmt.Errorf("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	var payload serviceAccountPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if payload.Exp > 0 && p.now().Unix() > payload.Exp {
		return nil, fmt.Errorf("token expired")
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}
	if payload.Role == "" {
		payload.Role = "user"
	}
	return &payload, nil
}

// GenerateToken creates a signed caller token. Used by tests and by
// front ends written in Go; the server never calls it.
func GenerateToken(secret []byte, subject, email, role string, ttl time.Duration) (string, error) {
	payloadBytes, err := json.Marshal(serviceAccountPayload{
		Subject: subject,
		Email:   email,
		Role:    role,
		Exp:     time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadB64))
	return payloadB64 + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
