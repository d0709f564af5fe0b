package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	apperrors "github.com/windfall/prosody_service/internal/errors"
	"github.com/windfall/prosody_service/internal/metrics"
	"github.com/windfall/prosody_service/internal/service"
	"github.com/windfall/prosody_service/pkg/response"
)

// Limiter decides whether one more request is allowed for an identifier.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (service.RateDecision, error)
}

// RateLimit returns a fixed-window rate limiting middleware. Requests are
// keyed by user when authenticated, by client IP otherwise. Limiter errors
// let the request through.
func RateLimit(limiter Limiter, m *metrics.Metrics, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Allow(r.Context(), clientIdentifier(r))
			if err != nil {
				log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				m.ObserveRateLimited()
				response.FromError(w, apperrors.RateLimit("Too many requests").WithDetails(map[string]any{
					"remaining":  decision.Remaining,
					"reset_time": decision.ResetAt.UTC(),
				}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentifier(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
