// Package cache holds hot lookups in front of the relational store: token to
// user resolution, guild membership and ownership, and resolved permission
// masks.
//
// Every entry is advisory. A miss means "go ask the store", never "no".
// Services must behave identically with the Noop cache, only slower.
//
// KEY LAYOUT (Redis implementation):
//
//	essence-tokens        hash  token        -> {user_id, user_flags}
//	essence-users         hash  user_id      -> User
//	essence-channels      hash  channel_id   -> {guild_id?, owner_id?, type}
//	essence-guilds        set   guild_id
//	{g}-members           set   user_id
//	{g}-owner             str   user_id
//	{g}-bans              set   user_id
//	{g}-{u}-perm          hash  channel_id|0 -> permission bits
//	{g}-perm-epoch        str   bumped on every permission invalidation
//	email-verify-{u}      str   "code:pending_email", expires after 10 minutes
//	invite-{code}         str   {guild_id, expires_at}, expires with the invite
package cache

import (
	"context"
	"time"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

// EmailVerificationTTL is how long a pending email change stays valid.
const EmailVerificationTTL = 600 * time.Second

// TokenInfo is what a token resolves to.
type TokenInfo struct {
	UserID snowflake.ID    `cbor:"1,keyasint"`
	Flags  model.UserFlags `cbor:"2,keyasint"`
}

// InviteInfo is what an invite code resolves to. ExpiresAt is in Unix
// milliseconds, zero for invites that never expire by age.
type InviteInfo struct {
	GuildID   snowflake.ID `cbor:"1,keyasint"`
	ExpiresAt int64        `cbor:"2,keyasint,omitempty"`
}

// Expired reports whether the invite's age limit has passed at now.
func (i InviteInfo) Expired(now time.Time) bool {
	return i.ExpiresAt != 0 && now.UnixMilli() >= i.ExpiresAt
}

// Cache is the contract services program against.
//
// Methods returning (value, ok, err) report ok=false on a miss. Permission
// lookups take channelID 0 for guild-wide permissions.
type Cache interface {
	UserInfoForToken(ctx context.Context, token string) (TokenInfo, bool, error)
	CacheToken(ctx context.Context, token string, info TokenInfo) error
	InvalidateToken(ctx context.Context, token string) error
	InvalidateTokensFor(ctx context.Context, userID snowflake.ID) error

	User(ctx context.Context, userID snowflake.ID) (*model.User, bool, error)
	UpdateUser(ctx context.Context, user *model.User) error
	RemoveUser(ctx context.Context, userID snowflake.ID) error

	Channel(ctx context.Context, channelID snowflake.ID) (model.ChannelInspection, bool, error)
	UpdateChannel(ctx context.Context, channelID snowflake.ID, info model.ChannelInspection) error
	RemoveChannel(ctx context.Context, channelID snowflake.ID) error

	InsertGuild(ctx context.Context, guildID snowflake.ID) error
	RemoveGuild(ctx context.Context, guildID snowflake.ID) error

	// IsMember reports known=false when the guild's member set was never
	// built, in which case member carries no information.
	IsMember(ctx context.Context, guildID, userID snowflake.ID) (member, known bool, err error)
	UpdateMembers(ctx context.Context, guildID snowflake.ID, userIDs ...snowflake.ID) error
	RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error

	OwnerOf(ctx context.Context, guildID snowflake.ID) (snowflake.ID, bool, error)
	UpdateOwner(ctx context.Context, guildID, userID snowflake.ID) error

	IsBanned(ctx context.Context, guildID, userID snowflake.ID) (bool, error)
	AddBan(ctx context.Context, guildID, userID snowflake.ID) error
	RemoveBan(ctx context.Context, guildID, userID snowflake.ID) error

	PermissionsFor(ctx context.Context, guildID, userID, channelID snowflake.ID) (model.Permissions, bool, error)
	// PermissionsEpoch is read before a resolution loads its inputs. Every
	// invalidation bumps it, and UpdatePermissions drops writes made under
	// an older epoch or for a user no longer in the member set.
	PermissionsEpoch(ctx context.Context, guildID snowflake.ID) (uint64, error)
	UpdatePermissions(ctx context.Context, guildID, userID, channelID snowflake.ID, perms model.Permissions, epoch uint64) error
	InvalidatePermissions(ctx context.Context, guildID, userID snowflake.ID) error
	InvalidateGuildPermissions(ctx context.Context, guildID snowflake.ID) error

	SetEmailVerification(ctx context.Context, userID snowflake.ID, code, email string) error
	EmailVerification(ctx context.Context, userID snowflake.ID) (code, email string, ok bool, err error)
	ClearEmailVerification(ctx context.Context, userID snowflake.ID) error

	SetInvite(ctx context.Context, code string, info InviteInfo) error
	Invite(ctx context.Context, code string) (InviteInfo, bool, error)
	RemoveInvite(ctx context.Context, code string) error
}
