package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

const (
	tokensKey   = "essence-tokens"
	usersKey    = "essence-users"
	channelsKey = "essence-channels"
	guildsKey   = "essence-guilds"

	// guildWide is the hash field holding a member's permissions outside
	// any channel.
	guildWide = "0"
)

var _ Cache = (*Redis)(nil)

// errStale aborts a conditional write whose preconditions no longer hold.
var errStale = errors.New("cache: stale write")

// Redis is the production Cache.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and pings it once, giving up after 5 seconds.
func NewRedis(ctx context.Context, opts *redis.Options) (*Redis, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client. Tests use it with miniredis.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func membersKey(guildID snowflake.ID) string { return guildID.String() + "-members" }
func ownerKey(guildID snowflake.ID) string   { return guildID.String() + "-owner" }
func bansKey(guildID snowflake.ID) string    { return guildID.String() + "-bans" }
func epochKey(guildID snowflake.ID) string   { return guildID.String() + "-perm-epoch" }

func permKey(guildID, userID snowflake.ID) string {
	return guildID.String() + "-" + userID.String() + "-perm"
}

func permField(channelID snowflake.ID) string {
	if channelID == 0 {
		return guildWide
	}
	return channelID.String()
}

func emailVerifyKey(userID snowflake.ID) string { return "email-verify-" + userID.String() }
func inviteKey(code string) string              { return "invite-" + code }

// =========================================================================
// TOKENS
// =========================================================================

func (r *Redis) UserInfoForToken(ctx context.Context, token string) (TokenInfo, bool, error) {
	data, err := r.client.HGet(ctx, tokensKey, token).Bytes()
	if errors.Is(err, redis.Nil) {
		return TokenInfo{}, false, nil
	}
	if err != nil {
		return TokenInfo{}, false, fmt.Errorf("cache: reading token: %w", err)
	}

	var info TokenInfo
	if err := decode(data, &info); err != nil {
		return TokenInfo{}, false, err
	}
	return info, true, nil
}

func (r *Redis) CacheToken(ctx context.Context, token string, info TokenInfo) error {
	data, err := encode(info)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, tokensKey, token, data).Err(); err != nil {
		return fmt.Errorf("cache: storing token: %w", err)
	}
	return nil
}

func (r *Redis) InvalidateToken(ctx context.Context, token string) error {
	if err := r.client.HDel(ctx, tokensKey, token).Err(); err != nil {
		return fmt.Errorf("cache: removing token: %w", err)
	}
	return nil
}

// InvalidateTokensFor walks the whole token hash. Tokens are only indexed by
// value, and a full revocation is rare enough that the scan is acceptable.
func (r *Redis) InvalidateTokensFor(ctx context.Context, userID snowflake.ID) error {
	all, err := r.client.HGetAll(ctx, tokensKey).Result()
	if err != nil {
		return fmt.Errorf("cache: listing tokens: %w", err)
	}

	var stale []string
	for token, raw := range all {
		var info TokenInfo
		if err := decode([]byte(raw), &info); err != nil {
			// Unreadable entries are useless to everyone; drop them too.
			stale = append(stale, token)
			continue
		}
		if info.UserID == userID {
			stale = append(stale, token)
		}
	}

	if len(stale) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, tokensKey, stale...).Err(); err != nil {
		return fmt.Errorf("cache: removing tokens: %w", err)
	}
	return nil
}

// =========================================================================
// USERS
// =========================================================================

func (r *Redis) User(ctx context.Context, userID snowflake.ID) (*model.User, bool, error) {
	data, err := r.client.HGet(ctx, usersKey, userID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: reading user: %w", err)
	}

	var user model.User
	if err := decode(data, &user); err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

func (r *Redis) UpdateUser(ctx context.Context, user *model.User) error {
	data, err := encode(user)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, usersKey, user.ID.String(), data).Err(); err != nil {
		return fmt.Errorf("cache: storing user: %w", err)
	}
	return nil
}

func (r *Redis) RemoveUser(ctx context.Context, userID snowflake.ID) error {
	if err := r.client.HDel(ctx, usersKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("cache: removing user: %w", err)
	}
	return nil
}

// =========================================================================
// CHANNELS
// =========================================================================

func (r *Redis) Channel(ctx context.Context, channelID snowflake.ID) (model.ChannelInspection, bool, error) {
	data, err := r.client.HGet(ctx, channelsKey, channelID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ChannelInspection{}, false, nil
	}
	if err != nil {
		return model.ChannelInspection{}, false, fmt.Errorf("cache: reading channel: %w", err)
	}

	var info model.ChannelInspection
	if err := decode(data, &info); err != nil {
		return model.ChannelInspection{}, false, err
	}
	return info, true, nil
}

func (r *Redis) UpdateChannel(ctx context.Context, channelID snowflake.ID, info model.ChannelInspection) error {
	data, err := encode(info)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, channelsKey, channelID.String(), data).Err(); err != nil {
		return fmt.Errorf("cache: storing channel: %w", err)
	}
	return nil
}

func (r *Redis) RemoveChannel(ctx context.Context, channelID snowflake.ID) error {
	if err := r.client.HDel(ctx, channelsKey, channelID.String()).Err(); err != nil {
		return fmt.Errorf("cache: removing channel: %w", err)
	}
	return nil
}

// =========================================================================
// GUILDS
// =========================================================================

func (r *Redis) InsertGuild(ctx context.Context, guildID snowflake.ID) error {
	if err := r.client.SAdd(ctx, guildsKey, guildID.String()).Err(); err != nil {
		return fmt.Errorf("cache: inserting guild: %w", err)
	}
	return nil
}

// RemoveGuild forgets the guild and every per-guild key under it.
func (r *Redis) RemoveGuild(ctx context.Context, guildID snowflake.ID) error {
	if err := r.client.SRem(ctx, guildsKey, guildID.String()).Err(); err != nil {
		return fmt.Errorf("cache: removing guild: %w", err)
	}
	return r.deleteMatching(ctx, guildID.String()+"-*")
}

func (r *Redis) IsMember(ctx context.Context, guildID, userID snowflake.ID) (bool, bool, error) {
	key := membersKey(guildID)

	pipe := r.client.Pipeline()
	exists := pipe.Exists(ctx, key)
	member := pipe.SIsMember(ctx, key, userID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return false, false, fmt.Errorf("cache: checking membership: %w", err)
	}

	if exists.Val() == 0 {
		return false, false, nil
	}
	return member.Val(), true, nil
}

func (r *Redis) UpdateMembers(ctx context.Context, guildID snowflake.ID, userIDs ...snowflake.ID) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]any, len(userIDs))
	for i, id := range userIDs {
		members[i] = id.String()
	}
	if err := r.client.SAdd(ctx, membersKey(guildID), members...).Err(); err != nil {
		return fmt.Errorf("cache: adding members: %w", err)
	}
	return nil
}

// RemoveMember also drops the member's cached permissions and bumps the
// guild's permission epoch so in-flight resolutions can't write them back.
func (r *Redis) RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, membersKey(guildID), userID.String())
	pipe.Incr(ctx, epochKey(guildID))
	pipe.Del(ctx, permKey(guildID, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: removing member: %w", err)
	}
	return nil
}

func (r *Redis) OwnerOf(ctx context.Context, guildID snowflake.ID) (snowflake.ID, bool, error) {
	raw, err := r.client.Get(ctx, ownerKey(guildID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: reading owner: %w", err)
	}

	owner, err := snowflake.Parse(raw)
	if err != nil {
		return 0, false, fmt.Errorf("cache: reading owner: %w", err)
	}
	return owner, true, nil
}

func (r *Redis) UpdateOwner(ctx context.Context, guildID, userID snowflake.ID) error {
	if err := r.client.Set(ctx, ownerKey(guildID), userID.String(), 0).Err(); err != nil {
		return fmt.Errorf("cache: storing owner: %w", err)
	}
	return nil
}

// Bans are stored in full, so a missing entry means "not banned".
func (r *Redis) IsBanned(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	banned, err := r.client.SIsMember(ctx, bansKey(guildID), userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("cache: checking ban: %w", err)
	}
	return banned, nil
}

func (r *Redis) AddBan(ctx context.Context, guildID, userID snowflake.ID) error {
	if err := r.client.SAdd(ctx, bansKey(guildID), userID.String()).Err(); err != nil {
		return fmt.Errorf("cache: adding ban: %w", err)
	}
	return nil
}

func (r *Redis) RemoveBan(ctx context.Context, guildID, userID snowflake.ID) error {
	if err := r.client.SRem(ctx, bansKey(guildID), userID.String()).Err(); err != nil {
		return fmt.Errorf("cache: removing ban: %w", err)
	}
	return nil
}

// =========================================================================
// PERMISSIONS
// =========================================================================

func (r *Redis) PermissionsFor(ctx context.Context, guildID, userID, channelID snowflake.ID) (model.Permissions, bool, error) {
	bits, err := r.client.HGet(ctx, permKey(guildID, userID), permField(channelID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: reading permissions: %w", err)
	}
	return model.Permissions(bits).Truncate(), true, nil
}

func (r *Redis) PermissionsEpoch(ctx context.Context, guildID snowflake.ID) (uint64, error) {
	epoch, err := r.client.Get(ctx, epochKey(guildID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: reading permission epoch: %w", err)
	}
	return epoch, nil
}

// UpdatePermissions stores perms only while the guild is still at epoch and
// the user is still in its member set. Both keys are watched, so a removal
// or invalidation racing the write aborts it. A dropped write is not an
// error.
func (r *Redis) UpdatePermissions(ctx context.Context, guildID, userID, channelID snowflake.ID, perms model.Permissions, epoch uint64) error {
	eKey, mKey := epochKey(guildID), membersKey(guildID)
	value := strconv.FormatInt(int64(perms), 10)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, eKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return errStale
		}
		member, err := tx.SIsMember(ctx, mKey, userID.String()).Result()
		if err != nil {
			return err
		}
		if !member {
			return errStale
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, permKey(guildID, userID), permField(channelID), value)
			return nil
		})
		return err
	}, eKey, mKey)

	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: storing permissions: %w", err)
	}
	return nil
}

func (r *Redis) InvalidatePermissions(ctx context.Context, guildID, userID snowflake.ID) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, epochKey(guildID))
	pipe.Del(ctx, permKey(guildID, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: invalidating permissions: %w", err)
	}
	return nil
}

// InvalidateGuildPermissions is used whenever a role or an overwrite in the
// guild changes, since any member's result may depend on it.
func (r *Redis) InvalidateGuildPermissions(ctx context.Context, guildID snowflake.ID) error {
	if err := r.client.Incr(ctx, epochKey(guildID)).Err(); err != nil {
		return fmt.Errorf("cache: bumping permission epoch: %w", err)
	}
	return r.deleteMatching(ctx, guildID.String()+"-*-perm")
}

// =========================================================================
// EMAIL VERIFICATION & INVITES
// =========================================================================

func (r *Redis) SetEmailVerification(ctx context.Context, userID snowflake.ID, code, email string) error {
	err := r.client.Set(ctx, emailVerifyKey(userID), code+":"+email, EmailVerificationTTL).Err()
	if err != nil {
		return fmt.Errorf("cache: storing email verification: %w", err)
	}
	return nil
}

func (r *Redis) EmailVerification(ctx context.Context, userID snowflake.ID) (string, string, bool, error) {
	raw, err := r.client.Get(ctx, emailVerifyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("cache: reading email verification: %w", err)
	}

	// The code never contains a colon; the email might.
	code, email, ok := strings.Cut(raw, ":")
	if !ok {
		return "", "", false, nil
	}
	return code, email, true, nil
}

func (r *Redis) ClearEmailVerification(ctx context.Context, userID snowflake.ID) error {
	if err := r.client.Del(ctx, emailVerifyKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache: clearing email verification: %w", err)
	}
	return nil
}

// SetInvite expires the entry together with the invite. An invite whose
// expiry has already passed is removed instead.
func (r *Redis) SetInvite(ctx context.Context, code string, info InviteInfo) error {
	var ttl time.Duration
	if info.ExpiresAt != 0 {
		ttl = time.Until(time.UnixMilli(info.ExpiresAt))
		if ttl <= 0 {
			return r.RemoveInvite(ctx, code)
		}
	}

	data, err := encode(info)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, inviteKey(code), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: storing invite: %w", err)
	}
	return nil
}

func (r *Redis) Invite(ctx context.Context, code string) (InviteInfo, bool, error) {
	data, err := r.client.Get(ctx, inviteKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return InviteInfo{}, false, nil
	}
	if err != nil {
		return InviteInfo{}, false, fmt.Errorf("cache: reading invite: %w", err)
	}

	var info InviteInfo
	if err := decode(data, &info); err != nil {
		return InviteInfo{}, false, err
	}
	return info, true, nil
}

func (r *Redis) RemoveInvite(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, inviteKey(code)).Err(); err != nil {
		return fmt.Errorf("cache: removing invite: %w", err)
	}
	return nil
}

// deleteMatching removes every key matching pattern, batching the deletes
// per SCAN page.
func (r *Redis) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache: scanning %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: deleting %q: %w", pattern, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
