package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/handler"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/service"
	"github.com/sakif/essence/internal/snowflake"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================
//
// The handlers only parse requests and map errors, so the fakes below
// record what they were called with and return canned results. The service
// logic itself is tested in internal/service.

const callerID snowflake.ID = 1 << 18

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// asCaller stands in for auth.RequireAuth: every request acts as callerID.
func asCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: callerID, Token: "test"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

type fakeAuthService struct {
	result *service.AuthResult
	user   *model.ClientUser
	code   string
	err    error

	gotRegister service.RegisterInput
	gotMethod   service.TokenRetrievalMethod
	gotEmail    string
	gotCode     string
	gotProfile  service.EditProfileInput
	gotUserID   snowflake.ID
	revokedFor  snowflake.ID
	loggedOut   string
}

func (f *fakeAuthService) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	f.gotRegister = in
	return f.result, f.err
}

func (f *fakeAuthService) Login(_ context.Context, email, _ string, method service.TokenRetrievalMethod) (*service.AuthResult, error) {
	f.gotEmail = email
	f.gotMethod = method
	return f.result, f.err
}

func (f *fakeAuthService) RevokeAllTokens(_ context.Context, userID snowflake.ID) error {
	f.revokedFor = userID
	return f.err
}

func (f *fakeAuthService) Logout(_ context.Context, token string) error {
	f.loggedOut = token
	return f.err
}

func (f *fakeAuthService) Me(context.Context, snowflake.ID) (*model.ClientUser, error) {
	return f.user, f.err
}

func (f *fakeAuthService) User(_ context.Context, userID snowflake.ID) (*model.User, error) {
	f.gotUserID = userID
	if f.err != nil {
		return nil, f.err
	}
	return &f.user.User, nil
}

func (f *fakeAuthService) EditProfile(_ context.Context, _ snowflake.ID, in service.EditProfileInput) (*model.ClientUser, error) {
	f.gotProfile = in
	return f.user, f.err
}

func (f *fakeAuthService) BeginEmailChange(_ context.Context, _ snowflake.ID, newEmail, _ string) (string, error) {
	f.gotEmail = newEmail
	return f.code, f.err
}

func (f *fakeAuthService) ConfirmEmailChange(_ context.Context, _ snowflake.ID, code string) (*model.ClientUser, error) {
	f.gotCode = code
	return f.user, f.err
}

type recordingSender struct {
	email, code string
}

func (s *recordingSender) SendVerificationCode(_ context.Context, _ snowflake.ID, email, code string) error {
	s.email, s.code = email, code
	return nil
}

func newAuthRouter(svc handler.AuthService, sender handler.CodeSender) http.Handler {
	h := handler.NewAuthHandler(svc, sender, testLogger())
	r := chi.NewRouter()
	h.PublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(asCaller)
		h.Routes(r)
	})
	return r
}

func testUser() *model.ClientUser {
	email := "alice@example.com"
	return &model.ClientUser{
		User:         model.User{ID: callerID, Username: "alice"},
		Email:        &email,
		PasswordHash: "$argon2id$secret",
	}
}

// =========================================================================
// AUTH HANDLER TESTS
// =========================================================================

func TestHandleRegister(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &fakeAuthService{result: &service.AuthResult{User: testUser(), Token: "tok"}}
		router := newAuthRouter(svc, &recordingSender{})

		rr := do(t, router, http.MethodPost, "/users",
			`{"username":"alice","email":"alice@example.com","password":"long enough"}`)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "alice", svc.gotRegister.Username)
		assert.NotContains(t, rr.Body.String(), "argon2id", "password verifier must not leak")

		var res struct {
			User  model.ClientUser `json:"user"`
			Token string           `json:"token"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "tok", res.Token)
		assert.Equal(t, callerID, res.User.ID)
	})

	t.Run("invalid payloads", func(t *testing.T) {
		tests := []struct {
			name  string
			body  string
			field string
		}{
			{"bad email", `{"username":"alice","email":"nope","password":"long enough"}`, "email"},
			{"short password", `{"username":"alice","email":"a@example.com","password":"short"}`, "password"},
			{"missing username", `{"email":"a@example.com","password":"long enough"}`, "username"},
			{"unknown field", `{"username":"alice","email":"a@example.com","password":"long enough","admin":true}`, "body"},
			{"not json", `{"username":`, "body"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := &fakeAuthService{}
				rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodPost, "/users", tt.body)

				assert.Equal(t, http.StatusBadRequest, rr.Code)
				res := decodeError(t, rr)
				assert.Equal(t, string(apperror.KindValidation), res.Error)
				assert.Equal(t, tt.field, res.Field)
				assert.Empty(t, svc.gotRegister.Username, "service must not be called")
			})
		}
	})

	t.Run("email taken", func(t *testing.T) {
		svc := &fakeAuthService{err: apperror.AlreadyTaken("email", "email")}
		rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodPost, "/users",
			`{"username":"alice","email":"alice@example.com","password":"long enough"}`)

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, string(apperror.KindAlreadyTaken), decodeError(t, rr).Error)
	})
}

func TestHandleLogin(t *testing.T) {
	t.Run("defaults to reuse", func(t *testing.T) {
		svc := &fakeAuthService{result: &service.AuthResult{User: testUser(), Token: "tok"}}
		rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodPost, "/login",
			`{"email":"alice@example.com","password":"pw"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, service.TokenReuse, svc.gotMethod)
		assert.Equal(t, "alice@example.com", svc.gotEmail)
	})

	t.Run("explicit method", func(t *testing.T) {
		svc := &fakeAuthService{result: &service.AuthResult{User: testUser(), Token: "tok"}}
		rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodPost, "/login",
			`{"email":"alice@example.com","password":"pw","method":"revoke"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, service.TokenRevoke, svc.gotMethod)
	})

	t.Run("unknown method", func(t *testing.T) {
		svc := &fakeAuthService{}
		rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodPost, "/login",
			`{"email":"alice@example.com","password":"pw","method":"refresh"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "method", decodeError(t, rr).Field)
	})

	t.Run("bad credentials", func(t *testing.T) {
		svc := &fakeAuthService{err: apperror.InvalidCredentials()}
		rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodPost, "/login",
			`{"email":"alice@example.com","password":"pw"}`)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, string(apperror.KindInvalidCredentials), decodeError(t, rr).Error)
	})
}

func TestHandleMeAndRevoke(t *testing.T) {
	svc := &fakeAuthService{user: testUser()}
	router := newAuthRouter(svc, &recordingSender{})

	rr := do(t, router, http.MethodGet, "/users/me", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"alice"`)
	assert.NotContains(t, rr.Body.String(), "argon2id")

	rr = do(t, router, http.MethodDelete, "/users/me/tokens", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, callerID, svc.revokedFor)
}

func TestHandleUser(t *testing.T) {
	svc := &fakeAuthService{user: testUser()}
	router := newAuthRouter(svc, &recordingSender{})

	rr := do(t, router, http.MethodGet, "/users/42", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, snowflake.ID(42), svc.gotUserID)
	assert.NotContains(t, rr.Body.String(), "email", "the public profile has no private fields")

	rr = do(t, router, http.MethodGet, "/users/nope", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleEditProfile(t *testing.T) {
	svc := &fakeAuthService{user: testUser()}
	router := newAuthRouter(svc, &recordingSender{})

	rr := do(t, router, http.MethodPatch, "/users/me", `{"display_name":"Alice","bio":""}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.gotProfile.DisplayName)
	assert.Equal(t, "Alice", *svc.gotProfile.DisplayName)
	require.NotNil(t, svc.gotProfile.Bio, "an empty bio clears it")
	assert.Nil(t, svc.gotProfile.Username)

	rr = do(t, router, http.MethodPatch, "/users/me", `{"username":"a"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "username", decodeError(t, rr).Field)
}

func TestHandleLogout(t *testing.T) {
	svc := &fakeAuthService{}
	rr := do(t, newAuthRouter(svc, &recordingSender{}), http.MethodDelete, "/users/me/token", "")

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "test", svc.loggedOut, "the token the request came with")
	assert.Zero(t, svc.revokedFor, "other tokens are left alone")
}

func TestHandleEmailChange(t *testing.T) {
	svc := &fakeAuthService{user: testUser(), code: "123456"}
	sender := &recordingSender{}
	router := newAuthRouter(svc, sender)

	rr := do(t, router, http.MethodPost, "/users/me/email", `{"email":"new@example.com","password":"pw"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Empty(t, rr.Body.String(), "the code must only go to the new address")
	assert.Equal(t, "123456", sender.code)
	assert.Equal(t, "new@example.com", sender.email)

	rr = do(t, router, http.MethodPost, "/users/me/email/verify", `{"code":"12345"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/users/me/email/verify", `{"code":"123456"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "123456", svc.gotCode)
}

// =========================================================================
// GUILD HANDLER TESTS
// =========================================================================

type fakeGuildService struct {
	guild *model.Guild
	err   error

	gotActor, gotGuild, gotUser, gotRole, gotChannel snowflake.ID
	gotOverwrite                                     model.PermissionOverwrite
	gotRoleInput                                     service.CreateRoleInput
	gotEditRole                                      service.EditRoleInput
	gotChannelInput                                  service.CreateChannelInput
	gotInviteInput                                   service.CreateInviteInput
	gotReason                                        *string
	gotCode                                          string
	unbanned                                         bool
	deleted                                          string
}

func (f *fakeGuildService) CreateGuild(_ context.Context, ownerID snowflake.ID, name string) (*model.Guild, error) {
	f.gotActor = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return &model.Guild{PartialGuild: model.PartialGuild{ID: 7 << 18, Name: name, OwnerID: ownerID}}, nil
}

func (f *fakeGuildService) CreateRole(_ context.Context, actorID, guildID snowflake.ID, in service.CreateRoleInput) (*model.Role, error) {
	f.gotActor, f.gotGuild, f.gotRoleInput = actorID, guildID, in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Role{ID: 9, GuildID: guildID, Name: in.Name, Position: in.Position}, nil
}

func (f *fakeGuildService) DeleteGuild(_ context.Context, actorID, guildID snowflake.ID) error {
	f.gotActor, f.gotGuild, f.deleted = actorID, guildID, "guild"
	return f.err
}

func (f *fakeGuildService) EditRole(_ context.Context, actorID, guildID, roleID snowflake.ID, in service.EditRoleInput) (*model.Role, error) {
	f.gotActor, f.gotGuild, f.gotRole, f.gotEditRole = actorID, guildID, roleID, in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Role{ID: roleID, GuildID: guildID, Name: "edited"}, nil
}

func (f *fakeGuildService) DeleteRole(_ context.Context, actorID, guildID, roleID snowflake.ID) error {
	f.gotActor, f.gotGuild, f.gotRole, f.deleted = actorID, guildID, roleID, "role"
	return f.err
}

func (f *fakeGuildService) DeleteChannel(_ context.Context, actorID, guildID, channelID snowflake.ID) error {
	f.gotActor, f.gotGuild, f.gotChannel, f.deleted = actorID, guildID, channelID, "channel"
	return f.err
}

func (f *fakeGuildService) KickMember(_ context.Context, actorID, guildID, userID snowflake.ID) error {
	f.gotActor, f.gotGuild, f.gotUser, f.deleted = actorID, guildID, userID, "member"
	return f.err
}

func (f *fakeGuildService) AssignRole(_ context.Context, actorID, guildID, userID, roleID snowflake.ID) error {
	f.gotActor, f.gotGuild, f.gotUser, f.gotRole = actorID, guildID, userID, roleID
	return f.err
}

func (f *fakeGuildService) CreateChannel(_ context.Context, actorID, guildID snowflake.ID, in service.CreateChannelInput) (*model.GuildChannel, error) {
	f.gotActor, f.gotGuild, f.gotChannelInput = actorID, guildID, in
	if f.err != nil {
		return nil, f.err
	}
	return &model.GuildChannel{ID: 11, GuildID: guildID, Name: in.Name, Type: in.Type}, nil
}

func (f *fakeGuildService) SetOverwrite(_ context.Context, actorID, guildID, channelID snowflake.ID, o model.PermissionOverwrite) error {
	f.gotActor, f.gotGuild, f.gotChannel, f.gotOverwrite = actorID, guildID, channelID, o
	return f.err
}

func (f *fakeGuildService) CreateInvite(_ context.Context, actorID, guildID snowflake.ID, in service.CreateInviteInput) (*model.Invite, error) {
	f.gotActor, f.gotGuild, f.gotInviteInput = actorID, guildID, in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Invite{Code: "abc", GuildID: guildID, MaxUses: in.MaxUses, MaxAge: in.MaxAge}, nil
}

func (f *fakeGuildService) UseInvite(_ context.Context, userID snowflake.ID, code string) (*model.PartialGuild, error) {
	f.gotUser, f.gotCode = userID, code
	if f.err != nil {
		return nil, f.err
	}
	return &model.PartialGuild{ID: 7 << 18, Name: "joined"}, nil
}

func (f *fakeGuildService) ResolveInvite(_ context.Context, code string) (*model.PartialGuild, error) {
	f.gotCode = code
	if f.err != nil {
		return nil, f.err
	}
	return &model.PartialGuild{ID: 7 << 18, Name: "preview"}, nil
}

func (f *fakeGuildService) BanMember(_ context.Context, actorID, guildID, userID snowflake.ID, reason *string) error {
	f.gotActor, f.gotGuild, f.gotUser, f.gotReason = actorID, guildID, userID, reason
	return f.err
}

func (f *fakeGuildService) UnbanMember(_ context.Context, actorID, guildID, userID snowflake.ID) error {
	f.gotActor, f.gotGuild, f.gotUser = actorID, guildID, userID
	f.unbanned = true
	return f.err
}

type fakePermissionService struct {
	perms      model.Permissions
	err        error
	gotChannel snowflake.ID
}

func (f *fakePermissionService) PermissionsFor(_ context.Context, _, _, channelID snowflake.ID) (model.Permissions, error) {
	f.gotChannel = channelID
	return f.perms, f.err
}

func newGuildRouter(guilds handler.GuildService, perms handler.PermissionService) http.Handler {
	h := handler.NewGuildHandler(guilds, perms, testLogger())
	r := chi.NewRouter()
	r.Use(asCaller)
	h.Routes(r)
	return r
}

func TestHandleCreateGuild(t *testing.T) {
	svc := &fakeGuildService{}
	router := newGuildRouter(svc, &fakePermissionService{})

	rr := do(t, router, http.MethodPost, "/guilds", `{"name":"my guild"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, callerID, svc.gotActor)
	assert.Contains(t, rr.Body.String(), `"name":"my guild"`)
	assert.Contains(t, rr.Body.String(), `"id":"1835008"`, "snowflakes are sent as strings")

	rr = do(t, router, http.MethodPost, "/guilds", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "name", decodeError(t, rr).Field)
}

func TestHandlePermissions(t *testing.T) {
	perms := &fakePermissionService{perms: model.PermViewChannel | model.PermSendMessages}
	router := newGuildRouter(&fakeGuildService{}, perms)

	rr := do(t, router, http.MethodGet, "/guilds/123/permissions?channel_id=456", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, snowflake.ID(456), perms.gotChannel)

	var res struct {
		Permissions model.Permissions `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, model.PermViewChannel|model.PermSendMessages, res.Permissions)

	rr = do(t, router, http.MethodGet, "/guilds/123/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, perms.gotChannel, "no channel_id means guild-wide")

	rr = do(t, router, http.MethodGet, "/guilds/123/permissions?channel_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "channel_id", decodeError(t, rr).Field)

	rr = do(t, router, http.MethodGet, "/guilds/not-a-number/permissions", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "guildID", decodeError(t, rr).Field)
}

func TestHandlePermissions_NotMember(t *testing.T) {
	perms := &fakePermissionService{err: apperror.NotMember(123)}
	rr := do(t, newGuildRouter(&fakeGuildService{}, perms), http.MethodGet, "/guilds/123/permissions", "")

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, string(apperror.KindNotMember), decodeError(t, rr).Error)
}

func TestHandleCreateRole(t *testing.T) {
	svc := &fakeGuildService{}
	router := newGuildRouter(svc, &fakePermissionService{})

	rr := do(t, router, http.MethodPost, "/guilds/123/roles",
		`{"name":"mods","permissions":{"allow":8192,"deny":0},"position":2,"hoisted":true}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, snowflake.ID(123), svc.gotGuild)
	assert.Equal(t, model.Permissions(8192), svc.gotRoleInput.Permissions.Allow)
	assert.Equal(t, uint16(2), svc.gotRoleInput.Position)
	assert.True(t, svc.gotRoleInput.Hoisted)

	rr = do(t, router, http.MethodPost, "/guilds/123/roles", `{"name":"mods","position":0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "position", decodeError(t, rr).Field)
}

func TestHandleCreateRole_MissingPermissions(t *testing.T) {
	svc := &fakeGuildService{err: apperror.MissingPermissions(model.PermManageRoles)}
	rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodPost, "/guilds/123/roles",
		`{"name":"mods","position":1}`)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	res := decodeError(t, rr)
	assert.Equal(t, string(apperror.KindMissingPermissions), res.Error)
	assert.Equal(t, model.PermManageRoles, res.Permissions)
}

func TestHandleAssignRole(t *testing.T) {
	svc := &fakeGuildService{}
	rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodPut, "/guilds/1/members/2/roles/3", "")

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, callerID, svc.gotActor)
	assert.Equal(t, snowflake.ID(1), svc.gotGuild)
	assert.Equal(t, snowflake.ID(2), svc.gotUser)
	assert.Equal(t, snowflake.ID(3), svc.gotRole)
}

func TestHandleCreateChannel(t *testing.T) {
	svc := &fakeGuildService{}
	router := newGuildRouter(svc, &fakePermissionService{})

	rr := do(t, router, http.MethodPost, "/guilds/1/channels",
		`{"name":"voice","type":"voice","parent_id":"77","position":3}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, model.ChannelVoice, svc.gotChannelInput.Type)
	require.NotNil(t, svc.gotChannelInput.ParentID)
	assert.Equal(t, snowflake.ID(77), *svc.gotChannelInput.ParentID)
	assert.Contains(t, rr.Body.String(), `"type":"voice"`)

	rr = do(t, router, http.MethodPost, "/guilds/1/channels", `{"name":"x","type":"hologram"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSetOverwrite(t *testing.T) {
	svc := &fakeGuildService{}
	rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodPut,
		"/guilds/1/channels/5/overwrites/9", `{"allow":1,"deny":4}`)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, snowflake.ID(5), svc.gotChannel)
	assert.Equal(t, snowflake.ID(9), svc.gotOverwrite.ID)
	assert.Equal(t, model.Permissions(1), svc.gotOverwrite.Allow)
	assert.Equal(t, model.Permissions(4), svc.gotOverwrite.Deny)
}

func TestHandleInvites(t *testing.T) {
	svc := &fakeGuildService{}
	router := newGuildRouter(svc, &fakePermissionService{})

	rr := do(t, router, http.MethodPost, "/guilds/1/invites", "")
	assert.Equal(t, http.StatusCreated, rr.Code, "body is optional")
	assert.Zero(t, svc.gotInviteInput.MaxAge)

	rr = do(t, router, http.MethodPost, "/guilds/1/invites", `{"max_uses":5,"max_age":3600}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, uint32(5), svc.gotInviteInput.MaxUses)
	assert.Equal(t, uint32(3600), svc.gotInviteInput.MaxAge)

	rr = do(t, router, http.MethodPost, "/guilds/1/invites", `{"max_age":9999999}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/invites/abc", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "preview")

	rr = do(t, router, http.MethodPost, "/invites/abc", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, callerID, svc.gotUser)
	assert.Equal(t, "abc", svc.gotCode)
}

func TestHandleUseInvite_Banned(t *testing.T) {
	svc := &fakeGuildService{err: apperror.Forbidden("You are banned from this guild.")}
	rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodPost, "/invites/abc", "")

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleBan(t *testing.T) {
	svc := &fakeGuildService{}
	router := newGuildRouter(svc, &fakePermissionService{})

	rr := do(t, router, http.MethodPut, "/guilds/1/bans/2", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Nil(t, svc.gotReason)
	assert.Equal(t, snowflake.ID(2), svc.gotUser)

	rr = do(t, router, http.MethodPut, "/guilds/1/bans/2", `{"reason":"spam"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, svc.gotReason)
	assert.Equal(t, "spam", *svc.gotReason)

	rr = do(t, router, http.MethodDelete, "/guilds/1/bans/2", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, svc.unbanned)
}

func TestHandleEditRole(t *testing.T) {
	svc := &fakeGuildService{}
	router := newGuildRouter(svc, &fakePermissionService{})

	rr := do(t, router, http.MethodPatch, "/guilds/1/roles/3", `{"name":"mods","position":4,"hoisted":false}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, snowflake.ID(3), svc.gotRole)
	require.NotNil(t, svc.gotEditRole.Name)
	assert.Equal(t, "mods", *svc.gotEditRole.Name)
	require.NotNil(t, svc.gotEditRole.Position)
	assert.Equal(t, uint16(4), *svc.gotEditRole.Position)
	require.NotNil(t, svc.gotEditRole.Hoisted)
	assert.False(t, *svc.gotEditRole.Hoisted)
	assert.Nil(t, svc.gotEditRole.Permissions, "absent fields stay nil")

	managed := &fakeGuildService{err: apperror.Forbidden("Managed roles cannot be edited.")}
	rr = do(t, newGuildRouter(managed, &fakePermissionService{}), http.MethodPatch, "/guilds/1/roles/3", `{"name":"x"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleDeletes(t *testing.T) {
	tests := []struct {
		name, path, want string
	}{
		{"guild", "/guilds/1", "guild"},
		{"role", "/guilds/1/roles/3", "role"},
		{"channel", "/guilds/1/channels/5", "channel"},
		{"kick", "/guilds/1/members/2", "member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeGuildService{}
			rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodDelete, tt.path, "")

			assert.Equal(t, http.StatusNoContent, rr.Code)
			assert.Equal(t, tt.want, svc.deleted)
			assert.Equal(t, callerID, svc.gotActor)
			assert.Equal(t, snowflake.ID(1), svc.gotGuild)
		})
	}
}

func TestHandleDeleteGuild_NotOwner(t *testing.T) {
	svc := &fakeGuildService{err: apperror.NotOwner(1)}
	rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodDelete, "/guilds/1", "")

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, string(apperror.KindNotOwner), decodeError(t, rr).Error)
}

// =========================================================================
// MESSAGE HANDLER TESTS
// =========================================================================

type fakeMessageService struct {
	err error

	gotAuthor, gotGuild, gotChannel snowflake.ID
	gotInput                        service.CreateMessageInput
}

func (f *fakeMessageService) CreateMessage(_ context.Context, authorID, guildID, channelID snowflake.ID, in service.CreateMessageInput) (*model.Message, error) {
	f.gotAuthor, f.gotGuild, f.gotChannel, f.gotInput = authorID, guildID, channelID, in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Message{ID: 99, ChannelID: channelID, AuthorID: &authorID, Content: in.Content}, nil
}

func newMessageRouter(svc handler.MessageService) http.Handler {
	h := handler.NewMessageHandler(svc, testLogger())
	r := chi.NewRouter()
	r.Use(asCaller)
	h.Routes(r)
	return r
}

func TestHandleCreateMessage(t *testing.T) {
	svc := &fakeMessageService{}
	router := newMessageRouter(svc)

	rr := do(t, router, http.MethodPost, "/guilds/1/channels/5/messages", `{"content":"hello"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, callerID, svc.gotAuthor)
	assert.Equal(t, snowflake.ID(1), svc.gotGuild)
	assert.Equal(t, snowflake.ID(5), svc.gotChannel)
	require.NotNil(t, svc.gotInput.Content)
	assert.Equal(t, "hello", *svc.gotInput.Content)
	assert.Contains(t, rr.Body.String(), `"content":"hello"`)

	rr = do(t, router, http.MethodPost, "/guilds/1/channels/5/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "unknown fields are rejected")

	rr = do(t, router, http.MethodPost, "/guilds/1/channels/x/messages", `{"content":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "channelID", decodeError(t, rr).Field)
}

func TestHandleCreateMessage_MissingPermissions(t *testing.T) {
	svc := &fakeMessageService{err: apperror.MissingPermissions(model.PermSendMessages)}
	rr := do(t, newMessageRouter(svc), http.MethodPost, "/guilds/1/channels/5/messages", `{"content":"hello"}`)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, model.PermSendMessages, decodeError(t, rr).Permissions)
}

func TestWriteError_InternalErrorsAreHidden(t *testing.T) {
	svc := &fakeGuildService{err: errors.New("sqlite: disk I/O error at /var/lib/essence.db")}
	rr := do(t, newGuildRouter(svc, &fakePermissionService{}), http.MethodPost, "/guilds", `{"name":"my guild"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	res := decodeError(t, rr)
	assert.Equal(t, "internal_error", res.Error)
	assert.NotContains(t, res.Message, "sqlite")
}
