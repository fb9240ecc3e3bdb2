package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/essence/internal/auth"
	"github.com/sakif/essence/internal/cache"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository/sqlite"
	"github.com/sakif/essence/internal/snowflake"
)

// =========================================================================
// TEST HARNESS
// =========================================================================
//
// The services are exercised against the real SQLite repository on an
// in-memory database and a Redis cache backed by miniredis. Both are fast
// enough for unit tests, and using the real stores means the tests also
// catch mismatches between what a service expects and what the store does.
//
// brokenCache below is the one hand-written fake: it fails every call, so
// tests can check that the services treat the cache as advisory.

type testEnv struct {
	db     *sqlite.DB
	cache  cache.Cache
	redis  *miniredis.Miniredis
	ids    *snowflake.Generator
	hasher *auth.Hasher
	logger *slog.Logger

	auth     *AuthService
	perms    *PermissionService
	guilds   *GuildService
	messages *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return newTestEnvWithCache(t, cache.NewRedisFromClient(client), mr)
}

func newTestEnvWithCache(t *testing.T, c cache.Cache, mr *miniredis.Miniredis) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ids, err := snowflake.NewGenerator(1)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	env := &testEnv{
		db:    db,
		cache: c,
		redis: mr,
		ids:   ids,
		// The cheapest argon2 parameters; the defaults add up across a suite.
		hasher: auth.NewHasher(auth.HasherConfig{MemoryKiB: 64, Iterations: 1, Workers: 2}),
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
	env.auth = NewAuthService(db, db, c, env.hasher, ids, env.logger)
	env.perms = NewPermissionService(db, db, db, c, env.logger)
	env.guilds = NewGuildService(db, db, db, db, env.perms, c, ids, env.logger)
	env.messages = NewMessageService(db, env.perms, ids, env.logger)
	return env
}

// register creates an account and returns it with its first token.
func (e *testEnv) register(t *testing.T, username, email string) *AuthResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return res
}

// newGuild creates a guild owned by ownerID.
func (e *testEnv) newGuild(t *testing.T, ownerID snowflake.ID) *model.Guild {
	t.Helper()
	guild, err := e.guilds.CreateGuild(context.Background(), ownerID, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild() error = %v", err)
	}
	return guild
}

// join adds userID to the guild through a fresh invite from the owner.
func (e *testEnv) join(t *testing.T, guild *model.Guild, userID snowflake.ID) {
	t.Helper()
	ctx := context.Background()
	invite, err := e.guilds.CreateInvite(ctx, guild.OwnerID, guild.ID, CreateInviteInput{})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	if _, err := e.guilds.UseInvite(ctx, userID, invite.Code); err != nil {
		t.Fatalf("UseInvite() error = %v", err)
	}
}

var errCacheDown = errors.New("cache is down")

// brokenCache fails every call it overrides and misses on the rest.
type brokenCache struct {
	cache.Noop
}

func (brokenCache) UserInfoForToken(context.Context, string) (cache.TokenInfo, bool, error) {
	return cache.TokenInfo{}, false, errCacheDown
}
func (brokenCache) CacheToken(context.Context, string, cache.TokenInfo) error { return errCacheDown }
func (brokenCache) InvalidateTokensFor(context.Context, snowflake.ID) error  { return errCacheDown }

func (brokenCache) UpdateChannel(context.Context, snowflake.ID, model.ChannelInspection) error {
	return errCacheDown
}
func (brokenCache) InsertGuild(context.Context, snowflake.ID) error { return errCacheDown }

func (brokenCache) IsMember(context.Context, snowflake.ID, snowflake.ID) (bool, bool, error) {
	return false, false, errCacheDown
}
func (brokenCache) UpdateMembers(context.Context, snowflake.ID, ...snowflake.ID) error {
	return errCacheDown
}
func (brokenCache) OwnerOf(context.Context, snowflake.ID) (snowflake.ID, bool, error) {
	return 0, false, errCacheDown
}
func (brokenCache) UpdateOwner(context.Context, snowflake.ID, snowflake.ID) error { return errCacheDown }

func (brokenCache) PermissionsFor(context.Context, snowflake.ID, snowflake.ID, snowflake.ID) (model.Permissions, bool, error) {
	return 0, false, errCacheDown
}
func (brokenCache) PermissionsEpoch(context.Context, snowflake.ID) (uint64, error) {
	return 0, errCacheDown
}
func (brokenCache) UpdatePermissions(context.Context, snowflake.ID, snowflake.ID, snowflake.ID, model.Permissions, uint64) error {
	return errCacheDown
}
func (brokenCache) SetInvite(context.Context, string, cache.InviteInfo) error { return errCacheDown }
func (brokenCache) Invite(context.Context, string) (cache.InviteInfo, bool, error) {
	return cache.InviteInfo{}, false, errCacheDown
}
func (brokenCache) RemoveInvite(context.Context, string) error { return errCacheDown }

func (brokenCache) User(context.Context, snowflake.ID) (*model.User, bool, error) {
	return nil, false, errCacheDown
}
func (brokenCache) UpdateUser(context.Context, *model.User) error  { return errCacheDown }
func (brokenCache) RemoveUser(context.Context, snowflake.ID) error { return errCacheDown }
func (brokenCache) Channel(context.Context, snowflake.ID) (model.ChannelInspection, bool, error) {
	return model.ChannelInspection{}, false, errCacheDown
}
func (brokenCache) IsBanned(context.Context, snowflake.ID, snowflake.ID) (bool, error) {
	return false, errCacheDown
}
