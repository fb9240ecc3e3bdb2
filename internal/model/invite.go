package model

import (
	"time"

	"github.com/sakif/essence/internal/snowflake"
)

// Invite lets users join a guild by code.
//
// MaxUses and MaxAge use 0 for "unlimited". MaxAge is in seconds from CreatedAt.
type Invite struct {
	Code      string        `json:"code"`
	InviterID snowflake.ID  `json:"inviter_id"`
	GuildID   snowflake.ID  `json:"guild_id"`
	Guild     *PartialGuild `json:"guild,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Uses      uint32        `json:"uses"`
	MaxUses   uint32        `json:"max_uses"`
	MaxAge    uint32        `json:"max_age"`
}

// Expired reports whether the invite can no longer be used at now.
func (i *Invite) Expired(now time.Time) bool {
	if i.MaxUses > 0 && i.Uses >= i.MaxUses {
		return true
	}
	if i.MaxAge > 0 && now.After(i.CreatedAt.Add(time.Duration(i.MaxAge)*time.Second)) {
		return true
	}
	return false
}
