package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/essence/internal/model"
)

// fakeAuthenticator accepts exactly one token.
type fakeAuthenticator struct {
	token string
	id    Identity
	seen  []string
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	f.seen = append(f.seen, token)
	if token != f.token {
		return Identity{}, fmt.Errorf("%w: unknown token", ErrTokenRejected)
	}
	return f.id, nil
}

func TestRequireAuth(t *testing.T) {
	authn := &fakeAuthenticator{
		token: "good-token",
		id:    Identity{UserID: 42, Flags: model.UserBot, Token: "good-token"},
	}

	var got Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAuth(authn)(next)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"raw token", "good-token", http.StatusNoContent},
		{"bearer prefix", "Bearer good-token", http.StatusNoContent},
		{"surrounding whitespace", "  Bearer   good-token ", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "bad-token", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = Identity{}
			req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, authn.id, got)
			} else {
				assert.JSONEq(t, `{"error":"invalid_token","message":"a valid token is required"}`, rec.Body.String())
				assert.Equal(t, Identity{}, got, "next must not run")
			}
		})
	}
}

// downAuthenticator cannot reach its token store.
type downAuthenticator struct{}

func (downAuthenticator) Authenticate(context.Context, string) (Identity, error) {
	return Identity{}, errors.New("connection refused")
}

func TestRequireAuth_StoreOutageIsNotUnauthorized(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	handler := RequireAuth(downAuthenticator{})(next)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code, "a valid token must not look revoked")
	assert.JSONEq(t, `{"error":"internal_error","message":"could not check the token"}`, rec.Body.String())
	assert.False(t, called)
}

func TestRequireAuth_EmptyTokenSkipsLookup(t *testing.T) {
	authn := &fakeAuthenticator{token: "x"}
	handler := RequireAuth(authn)(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, authn.seen)
}

func TestUserIDFromContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: 7})
	id, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.EqualValues(t, 7, id)
}
