package guard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/agentid/agentid-core/pkg/credential"
)

type contextKey string

const (
	// ContextKeyAgentID carries the verified agent id.
	ContextKeyAgentID contextKey = "agentid-agent"
	// ContextKeyClaims carries the full verified claims.
	ContextKeyClaims contextKey = "agentid-claims"
)

// maxBodySize caps what the middleware will buffer for signing.
const maxBodySize = 10 << 20 // 10MB

// ClaimsFromContext returns the claims the middleware stored, if any.
func ClaimsFromContext(ctx context.Context) (*credential.Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*credential.Claims)
	return claims, ok
}

// Middleware wraps a handler with inbound request verification. Rejected
// requests get 401 for missing or stale auth material and 403 for
// credential or signature failures.
func Middleware(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
				if err != nil {
					http.Error(w, "failed to read request body", http.StatusInternalServerError)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			claims, err := g.VerifyInbound(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
			if err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAgentID, claims.AgentID)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingHeaders), errors.Is(err, ErrStaleTimestamp):
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}
