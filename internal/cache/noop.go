package cache

import (
	"context"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

var _ Cache = Noop{}

// Noop misses on every read and drops every write.
//
// Email verifications and invites have nowhere else to live, so features
// built on them simply never find the pending state with this cache.
type Noop struct{}

func (Noop) UserInfoForToken(context.Context, string) (TokenInfo, bool, error) {
	return TokenInfo{}, false, nil
}
func (Noop) CacheToken(context.Context, string, TokenInfo) error      { return nil }
func (Noop) InvalidateToken(context.Context, string) error            { return nil }
func (Noop) InvalidateTokensFor(context.Context, snowflake.ID) error { return nil }

func (Noop) User(context.Context, snowflake.ID) (*model.User, bool, error) { return nil, false, nil }
func (Noop) UpdateUser(context.Context, *model.User) error                 { return nil }
func (Noop) RemoveUser(context.Context, snowflake.ID) error                { return nil }

func (Noop) Channel(context.Context, snowflake.ID) (model.ChannelInspection, bool, error) {
	return model.ChannelInspection{}, false, nil
}
func (Noop) UpdateChannel(context.Context, snowflake.ID, model.ChannelInspection) error { return nil }
func (Noop) RemoveChannel(context.Context, snowflake.ID) error                          { return nil }

func (Noop) InsertGuild(context.Context, snowflake.ID) error { return nil }
func (Noop) RemoveGuild(context.Context, snowflake.ID) error { return nil }

func (Noop) IsMember(context.Context, snowflake.ID, snowflake.ID) (bool, bool, error) {
	return false, false, nil
}
func (Noop) UpdateMembers(context.Context, snowflake.ID, ...snowflake.ID) error { return nil }
func (Noop) RemoveMember(context.Context, snowflake.ID, snowflake.ID) error     { return nil }

func (Noop) OwnerOf(context.Context, snowflake.ID) (snowflake.ID, bool, error) { return 0, false, nil }
func (Noop) UpdateOwner(context.Context, snowflake.ID, snowflake.ID) error     { return nil }

// IsBanned always reports false; services consult the store for bans that
// matter.
func (Noop) IsBanned(context.Context, snowflake.ID, snowflake.ID) (bool, error) { return false, nil }
func (Noop) AddBan(context.Context, snowflake.ID, snowflake.ID) error            { return nil }
func (Noop) RemoveBan(context.Context, snowflake.ID, snowflake.ID) error         { return nil }

func (Noop) PermissionsFor(context.Context, snowflake.ID, snowflake.ID, snowflake.ID) (model.Permissions, bool, error) {
	return 0, false, nil
}
func (Noop) PermissionsEpoch(context.Context, snowflake.ID) (uint64, error) { return 0, nil }
func (Noop) UpdatePermissions(context.Context, snowflake.ID, snowflake.ID, snowflake.ID, model.Permissions, uint64) error {
	return nil
}
func (Noop) InvalidatePermissions(context.Context, snowflake.ID, snowflake.ID) error { return nil }
func (Noop) InvalidateGuildPermissions(context.Context, snowflake.ID) error          { return nil }

func (Noop) SetEmailVerification(context.Context, snowflake.ID, string, string) error { return nil }
func (Noop) EmailVerification(context.Context, snowflake.ID) (string, string, bool, error) {
	return "", "", false, nil
}
func (Noop) ClearEmailVerification(context.Context, snowflake.ID) error { return nil }

func (Noop) SetInvite(context.Context, string, InviteInfo) error      { return nil }
func (Noop) Invite(context.Context, string) (InviteInfo, bool, error) { return InviteInfo{}, false, nil }
func (Noop) RemoveInvite(context.Context, string) error               { return nil }
