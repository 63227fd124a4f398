// Package authgate verifies bearer session tokens on incoming requests.
package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/token"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier is satisfied by *token.Issuer.
type Verifier interface {
	Verify(tokenStr string) (token.Identity, error)
}

type Gate struct {
	verifier Verifier
	logger   *zap.SugaredLogger
}

func New(v Verifier, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{verifier: v, logger: logger}
}

// Authenticate parses an Authorization header value of the form
// "Bearer <token>" and returns the identity it asserts.
func (g *Gate) Authenticate(header string) (token.Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" || len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return token.Identity{}, ErrUnauthenticated
	}
	raw := strings.TrimSpace(header[len("bearer "):])
	if raw == "" {
		return token.Identity{}, ErrUnauthenticated
	}
	id, err := g.verifier.Verify(raw)
	if err != nil {
		return token.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

type ctxKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context for downstream handlers.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			g.logger.Debugw("request unauthenticated", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="account"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "code": "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(ctx context.Context) (token.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(token.Identity)
	return id, ok
}
