package model

import (
	"time"

	"github.com/sakif/essence/internal/snowflake"
)

// GuildFlags describe guild-wide features.
type GuildFlags uint32

const (
	// Listed in discovery and joinable without an invite.
	GuildPublic GuildFlags = 1 << iota
	GuildVerified
	GuildVanityURL
)

const allGuildFlags = GuildVanityURL<<1 - 1

func (f *GuildFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allGuildFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// PartialGuild is a guild without its members, roles and channels.
type PartialGuild struct {
	ID          snowflake.ID      `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Icon        *string           `json:"icon"`
	Banner      *string           `json:"banner"`
	OwnerID     snowflake.ID      `json:"owner_id"`
	Flags       GuildFlags        `json:"flags"`
	MemberCount *GuildMemberCount `json:"member_count,omitempty"`
	VanityURL   *string           `json:"vanity_url"`
}

type GuildMemberCount struct {
	Total  uint32  `json:"total"`
	Online *uint32 `json:"online"`
}

// Guild is a full guild as returned right after creation.
type Guild struct {
	PartialGuild
	Members  []Member       `json:"members,omitempty"`
	Roles    []Role         `json:"roles,omitempty"`
	Channels []GuildChannel `json:"channels,omitempty"`
}

// Member is a user's presence in one guild.
//
// Roles lists the explicitly assigned roles; the default role is implied
// and never stored.
type Member struct {
	UserID   snowflake.ID   `json:"id"`
	GuildID  snowflake.ID   `json:"guild_id"`
	Nick     *string        `json:"nick"`
	Roles    []snowflake.ID `json:"roles,omitempty"`
	JoinedAt time.Time      `json:"joined_at"`
}

// GuildBan records a removed member that may not rejoin.
type GuildBan struct {
	GuildID     snowflake.ID `json:"guild_id"`
	UserID      snowflake.ID `json:"user_id"`
	ModeratorID snowflake.ID `json:"moderator_id"`
	Reason      *string      `json:"reason"`
	BannedAt    time.Time    `json:"banned_at"`
}
