package middleware

import (
	"context"
	"net/http"

	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/metrics"
)

// Verifier resolves a session token to its owner, sliding its expiry.
type Verifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

// Authenticate attaches an auth.Identity to requests carrying a valid bearer
// token. Requests without one, or with a bad or expired one, continue
// anonymously; handlers decide whether that is allowed.
func Authenticate(v Verifier, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			// The refresh is not abandoned if the client disconnects.
			userID, err := v.Verify(context.WithoutCancel(r.Context()), token)
			m.SessionVerified(err == nil)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: userID, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
