package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/dmitrijs2005/plotroom/internal/server/services"
)

var identityKey = &ctxKey{"identity"}

// Authenticator turns an access token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*services.Identity, error)
}

func WithIdentity(ctx context.Context, id *services.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by Authenticate or
// OptionalAuthenticate, if any.
func IdentityFromContext(ctx context.Context) (*services.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*services.Identity)
	return id, ok && id != nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is matched case-sensitively; "bearer" and other schemes are
// treated as a missing token.
func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get(common.AuthorizationHeaderName)
	token, ok := strings.CutPrefix(h, common.BearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		return "", common.ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Authenticate rejects the request with 401 unless it carries a valid access
// token for an active user.
func Authenticate(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, err)
				return
			}
			id, err := a.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuthenticate attaches an identity when the request carries a valid
// token and otherwise lets the request through anonymously.
func OptionalAuthenticate(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, err := bearerToken(r); err == nil {
				if id, err := a.Authenticate(r.Context(), token); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
