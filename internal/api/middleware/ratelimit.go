package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/ratelimit"
	pkgmw "github.com/agentoven/agentoven/data-agent/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// RateLimit enforces a per-caller request budget. Authenticated requests
// are keyed on the identity subject, anonymous ones on the client address
// (run chimw.RealIP first). Must be mounted after the auth middleware.
func RateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := pkgmw.CallerID(r.Context())
			if key == "" {
				key = "ip:" + r.RemoteAddr
			}

			d := l.Allow(key)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(d.RetryAfter.Seconds())))))
				log.Debug().Str("key", key).Dur("retry_after", d.RetryAfter).Msg("Rate limited")
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": apperr.MsgRateLimited})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
