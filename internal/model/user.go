package model

import (
	"github.com/sakif/essence/internal/snowflake"
)

// UserFlags mark special account types.
type UserFlags uint32

const (
	UserBot UserFlags = 1 << iota
)

const allUserFlags = UserBot<<1 - 1

func (f *UserFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allUserFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// User is the public profile of an account.
//
// Older records carried a 16-bit discriminator next to the username; the
// current model uses a free-form display name instead.
type User struct {
	ID          snowflake.ID `json:"id"`
	Username    string       `json:"username"`
	DisplayName *string      `json:"display_name"`
	Avatar      *string      `json:"avatar"`
	Banner      *string      `json:"banner"`
	Bio         *string      `json:"bio"`
	Flags       UserFlags    `json:"flags"`
}

// ClientUser is the user as seen by themselves: the public profile plus
// private settings. The password verifier never leaves the server.
type ClientUser struct {
	User
	Email                *string              `json:"email"`
	PasswordHash         string               `json:"-"`
	DMPrivacy            PrivacyConfiguration `json:"dm_privacy"`
	GroupDMPrivacy       PrivacyConfiguration `json:"group_dm_privacy"`
	FriendRequestPrivacy PrivacyConfiguration `json:"friend_request_privacy"`
}

// PrivacyConfiguration says who may start a conversation of some kind.
type PrivacyConfiguration int16

const (
	PrivacyFriends PrivacyConfiguration = 1 << iota
	PrivacyMutualFriends
	PrivacyGuildMembers
	PrivacyEveryone
)

const (
	DefaultDMPrivacy            = PrivacyFriends | PrivacyMutualFriends | PrivacyGuildMembers
	DefaultGroupDMPrivacy       = PrivacyFriends
	DefaultFriendRequestPrivacy = PrivacyEveryone

	allPrivacy = PrivacyEveryone<<1 - 1
)

func (p *PrivacyConfiguration) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allPrivacy)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// RelationshipType is the state between two users, from the viewer's side.
type RelationshipType uint8

const (
	RelationshipFriend RelationshipType = iota
	RelationshipOutgoingRequest
	RelationshipIncomingRequest
	RelationshipBlocked
)

var relationshipNames = []string{"friend", "outgoing_request", "incoming_request", "blocked"}

func (r RelationshipType) MarshalText() ([]byte, error) {
	return enumName(relationshipNames, r, "relationship type")
}

func (r *RelationshipType) UnmarshalText(text []byte) error {
	v, err := parseEnum[RelationshipType](relationshipNames, text, "relationship type")
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Relationship pairs the other user with the relationship state.
type Relationship struct {
	User User             `json:"user"`
	Type RelationshipType `json:"type"`
}
