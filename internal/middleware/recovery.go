package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	apperrors "github.com/windfall/prosody_service/internal/errors"
	"github.com/windfall/prosody_service/pkg/response"
)

// Recovery returns a panic recovery middleware.
func Recovery(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.Error().
						Interface("panic", err).
						Str("stack", string(debug.Stack())).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("Panic recovered")

					response.FromError(w, apperrors.Internal("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
