package model

// Permissions is a 64-bit capability mask.
//
// The bits below are stable. ADMINISTRATOR is special: once it survives role
// folding, the resolver hands back All() and ignores channel overwrites.
type Permissions int64

const (
	// Can view channels and read messages sent in real time.
	PermViewChannel Permissions = 1 << iota
	// Can read messages sent before the member opened the channel.
	PermViewMessageHistory
	PermSendMessages
	// Can delete and pin other members' messages.
	PermManageMessages
	PermAttachFiles
	PermSendEmbeds
	PermAddReactions
	PermPinMessages
	PermStarMessages
	// Can publish messages in announcement channels to following channels.
	PermPublishMessages
	// Can edit channel name, topic and slowmode, but not overwrites.
	PermModifyChannels
	// Can create, delete and fully edit channels, overwrites included.
	PermManageChannels
	PermManageWebhooks
	PermManageEmojis
	PermManageStarboard
	// Can edit guild settings such as name and icon.
	PermManageGuild
	// Can create and edit roles lower than the member's top role.
	PermManageRoles
	PermCreateInvites
	PermManageInvites
	PermUseExternalEmojis
	PermChangeNickname
	PermManageNicknames
	PermTimeoutMembers
	PermKickMembers
	PermBanMembers
	PermBulkDeleteMessages
	PermViewAuditLog
	// Can mention @everyone and roles that are not mentionable.
	PermPrivilegedMentions
	PermConnect
	PermSpeak
	PermMuteMembers
	PermDeafenMembers
	// Grants every permission and bypasses channel overwrites.
	PermAdministrator
)

// allPermissions has every defined bit set.
const allPermissions = PermAdministrator<<1 - 1

// DefaultPermissions is what the default role of a new guild allows.
const DefaultPermissions = PermViewChannel |
	PermViewMessageHistory |
	PermSendMessages |
	PermAttachFiles |
	PermSendEmbeds |
	PermAddReactions |
	PermStarMessages |
	PermCreateInvites |
	PermUseExternalEmojis |
	PermChangeNickname |
	PermConnect |
	PermSpeak

// All returns the mask with every defined permission.
func All() Permissions { return allPermissions }

// Contains reports whether every bit in other is set in p.
func (p Permissions) Contains(other Permissions) bool {
	return p&other == other
}

// Truncate drops bits that no defined permission uses.
func (p Permissions) Truncate() Permissions {
	return Truncate(p, allPermissions)
}

// UnmarshalJSON accepts a number and drops unknown bits.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allPermissions)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// PermissionPair is an allow/deny couple. Anything in neither mask is
// neutral and left to lower layers. If a bit is in both, deny wins.
type PermissionPair struct {
	Allow Permissions `json:"allow"`
	Deny  Permissions `json:"deny"`
}

// Apply runs allow-then-deny on mask, which is how channel overwrites stack.
func (pp PermissionPair) Apply(mask Permissions) Permissions {
	mask |= pp.Allow
	mask &^= pp.Deny
	return mask
}
