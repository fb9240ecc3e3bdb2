package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

// contextKey is an unexported type used for context keys in this package.
// Only this package can build a key of this type, so nothing else can read
// or shadow the identity stored under it.
type contextKey string

const identityKey contextKey = "identity"

// Identity is who a request is acting as, once its token checked out.
type Identity struct {
	UserID snowflake.ID
	Flags  model.UserFlags
	Token  string
}

// ErrTokenRejected is what an Authenticator wraps when the token is not one
// the store knows. Any other error means the answer is unknown.
var ErrTokenRejected = errors.New("auth: token rejected")

// Authenticator resolves a raw token to an identity. It must look the token
// up in the token store; parsing alone proves nothing.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// RequireAuth rejects requests without a valid token in the Authorization
// header with 401, and stores the Identity in the request context otherwise.
// Only errors wrapping ErrTokenRejected count as an invalid token; any other
// Authenticate error is a 500.
//
// The header carries the token as-is; a "Bearer " prefix is tolerated.
func RequireAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				unauthorized(w)
				return
			}

			id, err := authn.Authenticate(r.Context(), token)
			switch {
			case errors.Is(err, ErrTokenRejected):
				unauthorized(w)
				return
			case err != nil:
				// The token store is unreachable; the token may well be valid.
				unavailable(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity RequireAuth stored, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserIDFromContext is IdentityFromContext for callers that only need the ID.
func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}

func tokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return header
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"invalid_token","message":"a valid token is required"}`))
}

func unavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"error":"internal_error","message":"could not check the token"}`))
}
