package model

import "github.com/sakif/essence/internal/snowflake"

// RoleFlags describe how a role behaves in the member list and in mentions.
type RoleFlags uint32

const (
	// Members with this role are listed separately.
	RoleHoisted RoleFlags = 1 << iota
	// Managed by an integration; members cannot edit or delete it.
	RoleManaged
	RoleMentionable
	// The guild's default role. Every member holds it implicitly.
	RoleDefault
)

const allRoleFlags = RoleDefault<<1 - 1

func (f *RoleFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allRoleFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Role is a named permission grant inside a guild.
//
// Position orders roles bottom-up: 0 is the default role, higher positions
// sit above it. Equal positions fall back to ID order, i.e. creation order.
type Role struct {
	ID          snowflake.ID   `json:"id"`
	GuildID     snowflake.ID   `json:"guild_id"`
	Name        string         `json:"name"`
	Color       *uint32        `json:"color"`
	Permissions PermissionPair `json:"permissions"`
	Position    uint16         `json:"position"`
	Flags       RoleFlags      `json:"flags"`
}

// DefaultRoleID is the ID of a guild's default role: the guild's own ID
// with the kind bits rewritten to Role.
func DefaultRoleID(guildID snowflake.ID) snowflake.ID {
	return snowflake.WithKind(guildID, snowflake.KindRole)
}
