package model

import "github.com/sakif/essence/internal/snowflake"

// ChannelType is the kind of a channel. Discriminants are stable.
type ChannelType uint8

const (
	ChannelText ChannelType = iota
	ChannelAnnouncement
	ChannelVoice
	ChannelCategory
	ChannelMerged
	ChannelDM
	ChannelGroup
)

var channelTypeNames = []string{"text", "announcement", "voice", "category", "merged", "dm", "group"}

func (c ChannelType) MarshalText() ([]byte, error) {
	return enumName(channelTypeNames, c, "channel type")
}

func (c *ChannelType) UnmarshalText(text []byte) error {
	v, err := parseEnum[ChannelType](channelTypeNames, text, "channel type")
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// IsGuild reports whether channels of this type live in a guild.
func (c ChannelType) IsGuild() bool {
	return c != ChannelDM && c != ChannelGroup
}

// IsText reports whether messages can be sent in channels of this type.
func (c ChannelType) IsText() bool {
	switch c {
	case ChannelText, ChannelAnnouncement, ChannelDM, ChannelGroup:
		return true
	}
	return false
}

// PermissionOverwrite applies on top of role permissions inside one channel.
// ID names either a role or a member; the resolver tells them apart by
// matching against the member's roles.
type PermissionOverwrite struct {
	ID snowflake.ID `json:"id"`
	PermissionPair
}

// GuildChannel is a channel inside a guild. Text fields only apply to
// text-based types, UserLimit only to voice.
type GuildChannel struct {
	ID         snowflake.ID          `json:"id"`
	GuildID    snowflake.ID          `json:"guild_id"`
	Type       ChannelType           `json:"type"`
	Name       string                `json:"name"`
	Position   uint16                `json:"position"`
	ParentID   *snowflake.ID         `json:"parent_id"`
	Topic      *string               `json:"topic,omitempty"`
	NSFW       bool                  `json:"nsfw"`
	Locked     bool                  `json:"locked"`
	Slowmode   uint32                `json:"slowmode"`
	UserLimit  uint32                `json:"user_limit,omitempty"`
	Overwrites []PermissionOverwrite `json:"overwrites"`
}

// ChannelInspection is the small summary of a channel the cache keeps so
// permission checks can find the owning guild without a query.
type ChannelInspection struct {
	GuildID *snowflake.ID `cbor:"1,keyasint,omitempty" json:"guild_id"`
	OwnerID *snowflake.ID `cbor:"2,keyasint,omitempty" json:"owner_id"`
	Type    ChannelType   `cbor:"3,keyasint" json:"type"`
}
