// Package repository declares the relational store the services depend on.
//
// Implementations return *apperror.AppError values wrapping ErrNotFound or
// ErrConflict for missing rows and unique-key clashes, so services can pass
// them straight through.
package repository

import (
	"context"
	"time"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

type UserRepository interface {
	// CreateUser fails with a conflict if the email is already registered.
	CreateUser(ctx context.Context, user *model.ClientUser) error
	GetUser(ctx context.Context, id snowflake.ID) (*model.ClientUser, error)
	GetUserByEmail(ctx context.Context, email string) (*model.ClientUser, error)
	UpdateEmail(ctx context.Context, id snowflake.ID, email string) error
	// UpdateProfile writes the public profile fields of user.
	UpdateProfile(ctx context.Context, user *model.User) error
}

type TokenRepository interface {
	CreateToken(ctx context.Context, userID snowflake.ID, token string) error
	// TokenOwner returns the user a stored token belongs to, or an
	// apperror.InvalidToken for tokens it has never seen.
	TokenOwner(ctx context.Context, token string) (*model.User, error)
	// LatestToken returns the most recently issued token for the user.
	LatestToken(ctx context.Context, userID snowflake.ID) (string, error)
	// DeleteToken revokes a single token.
	DeleteToken(ctx context.Context, token string) error
	// DeleteTokens removes every token of the user and returns how many
	// there were.
	DeleteTokens(ctx context.Context, userID snowflake.ID) (int64, error)
}

type GuildRepository interface {
	// CreateGuild stores the guild together with its roles, channels and
	// members in one transaction.
	CreateGuild(ctx context.Context, guild *model.Guild) error
	GetGuild(ctx context.Context, id snowflake.ID) (*model.PartialGuild, error)
	// DeleteGuild removes the guild and everything it owns.
	DeleteGuild(ctx context.Context, id snowflake.ID) error

	IsMember(ctx context.Context, guildID, userID snowflake.ID) (bool, error)
	MemberIDs(ctx context.Context, guildID snowflake.ID) ([]snowflake.ID, error)
	AddMember(ctx context.Context, member *model.Member) error
	RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error

	// BanMember records the ban and removes the membership atomically.
	BanMember(ctx context.Context, ban *model.GuildBan) error
	IsBanned(ctx context.Context, guildID, userID snowflake.ID) (bool, error)
	RemoveBan(ctx context.Context, guildID, userID snowflake.ID) error
}

type RoleRepository interface {
	CreateRole(ctx context.Context, role *model.Role) error
	GetRole(ctx context.Context, id snowflake.ID) (*model.Role, error)
	// MemberRoles returns the default role plus every role assigned to the
	// member, in no particular order.
	MemberRoles(ctx context.Context, guildID, userID snowflake.ID) ([]model.Role, error)
	AssignRole(ctx context.Context, guildID, userID, roleID snowflake.ID) error
	// UpdateRole writes name, color, permissions, position and flags.
	UpdateRole(ctx context.Context, role *model.Role) error
	// DeleteRole removes the role and every assignment of it.
	DeleteRole(ctx context.Context, id snowflake.ID) error
}

type ChannelRepository interface {
	CreateChannel(ctx context.Context, channel *model.GuildChannel) error
	// GetChannel returns the channel with its overwrites.
	GetChannel(ctx context.Context, id snowflake.ID) (*model.GuildChannel, error)
	Overwrites(ctx context.Context, channelID snowflake.ID) ([]model.PermissionOverwrite, error)
	// SetOverwrite inserts or replaces the overwrite for overwrite.ID.
	SetOverwrite(ctx context.Context, channelID snowflake.ID, overwrite model.PermissionOverwrite) error
	// DeleteChannel removes the channel with its overwrites and messages,
	// closing the gap it leaves in the guild's channel positions.
	DeleteChannel(ctx context.Context, id snowflake.ID) error
}

type InviteRepository interface {
	CreateInvite(ctx context.Context, invite *model.Invite) error
	GetInvite(ctx context.Context, code string) (*model.Invite, error)
	// RedeemInvite counts one use of the invite and adds member to its guild
	// in a single transaction. member.GuildID is filled in from the invite.
	//
	// An invite that is expired at now, or has no uses left, is reported as
	// not found; an expired one is deleted, as is one whose last use this
	// was. A banned user gets apperror.Forbidden and an existing member a
	// conflict, and neither consumes a use.
	RedeemInvite(ctx context.Context, code string, member *model.Member, now time.Time) (*model.Invite, error)
	DeleteInvite(ctx context.Context, code string) error
}

type MessageRepository interface {
	// CreateMessage stores the message with its mentions and embeds.
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id snowflake.ID) (*model.Message, error)
}
