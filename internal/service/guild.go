package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/cache"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository"
	"github.com/sakif/essence/internal/snowflake"
)

// GuildService handles guild structure and membership: creating guilds,
// roles, channels and invites, and the moderation actions on members.
//
// Every mutating method takes the acting user first and checks permissions
// through PermissionService before touching the store.
type GuildService struct {
	guilds   repository.GuildRepository
	roles    repository.RoleRepository
	channels repository.ChannelRepository
	invites  repository.InviteRepository
	perms    *PermissionService
	cache    cache.Cache
	ids      IDGenerator
	logger   *slog.Logger

	// now is the clock for join, ban and invite timestamps.
	now func() time.Time
}

func NewGuildService(
	guilds repository.GuildRepository,
	roles repository.RoleRepository,
	channels repository.ChannelRepository,
	invites repository.InviteRepository,
	perms *PermissionService,
	c cache.Cache,
	ids IDGenerator,
	logger *slog.Logger,
) *GuildService {
	return &GuildService{
		guilds:   guilds,
		roles:    roles,
		channels: channels,
		invites:  invites,
		perms:    perms,
		cache:    c,
		ids:      ids,
		logger:   logger,
		now:      time.Now,
	}
}

// =========================================================================
// GUILDS
// =========================================================================

// CreateGuild creates a guild owned by ownerID with a default role, a
// "general" text channel, and the owner as its first member.
func (s *GuildService) CreateGuild(ctx context.Context, ownerID snowflake.ID, name string) (*model.Guild, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < MinGuildNameLength || n > MaxGuildNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("guild name must be between %d and %d characters", MinGuildNameLength, MaxGuildNameLength))
	}

	guildID := s.ids.Generate(snowflake.KindGuild)
	channelID := s.ids.Generate(snowflake.KindChannel)

	guild := &model.Guild{
		PartialGuild: model.PartialGuild{ID: guildID, Name: name, OwnerID: ownerID},
		Roles: []model.Role{{
			ID:          model.DefaultRoleID(guildID),
			GuildID:     guildID,
			Name:        "@everyone",
			Permissions: model.PermissionPair{Allow: model.DefaultPermissions},
			Position:    0,
			Flags:       model.RoleDefault,
		}},
		Channels: []model.GuildChannel{{
			ID:         channelID,
			GuildID:    guildID,
			Type:       model.ChannelText,
			Name:       "general",
			Overwrites: []model.PermissionOverwrite{},
		}},
		Members: []model.Member{{
			UserID:   ownerID,
			GuildID:  guildID,
			JoinedAt: s.now().UTC(),
		}},
	}

	if err := s.guilds.CreateGuild(ctx, guild); err != nil {
		return nil, fmt.Errorf("service/guild: creating guild: %w", err)
	}

	s.warmGuild(ctx, guild)
	s.logger.InfoContext(ctx, "guild created",
		slog.String("guildID", guildID.String()),
		slog.String("ownerID", ownerID.String()),
	)
	return guild, nil
}

// warmGuild seeds the cache with everything a new guild's first permission
// checks will ask for.
func (s *GuildService) warmGuild(ctx context.Context, guild *model.Guild) {
	steps := []struct {
		op string
		fn func() error
	}{
		{"InsertGuild", func() error { return s.cache.InsertGuild(ctx, guild.ID) }},
		{"UpdateOwner", func() error { return s.cache.UpdateOwner(ctx, guild.ID, guild.OwnerID) }},
		{"UpdateMembers", func() error { return s.cache.UpdateMembers(ctx, guild.ID, guild.OwnerID) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			cacheFailed(ctx, s.logger, step.op, err)
		}
	}
	for _, ch := range guild.Channels {
		s.cacheChannel(ctx, &ch)
	}
}

func (s *GuildService) cacheChannel(ctx context.Context, ch *model.GuildChannel) {
	guildID := ch.GuildID
	info := model.ChannelInspection{GuildID: &guildID, Type: ch.Type}
	if err := s.cache.UpdateChannel(ctx, ch.ID, info); err != nil {
		cacheFailed(ctx, s.logger, "UpdateChannel", err)
	}
}

// DeleteGuild is reserved for the owner.
func (s *GuildService) DeleteGuild(ctx context.Context, actorID, guildID snowflake.ID) error {
	owner, err := s.perms.ownerOf(ctx, guildID)
	if err != nil {
		return err
	}
	if owner != actorID {
		return apperror.NotOwner(guildID)
	}

	if err := s.guilds.DeleteGuild(ctx, guildID); err != nil {
		return fmt.Errorf("service/guild: deleting guild: %w", err)
	}
	// Cached members and masks would outlive the guild, so this is not
	// advisory.
	if err := s.cache.RemoveGuild(ctx, guildID); err != nil {
		return fmt.Errorf("service/guild: evicting guild: %w", err)
	}

	s.logger.InfoContext(ctx, "guild deleted",
		slog.String("guildID", guildID.String()),
		slog.String("ownerID", actorID.String()),
	)
	return nil
}

// =========================================================================
// ROLES
// =========================================================================

type CreateRoleInput struct {
	Name        string
	Color       *uint32
	Permissions model.PermissionPair
	Position    uint16
	Hoisted     bool
	Mentionable bool
}

// CreateRole requires MANAGE_ROLES, a top role above the new role's
// position, and every permission the new role would allow.
func (s *GuildService) CreateRole(ctx context.Context, actorID, guildID snowflake.ID, in CreateRoleInput) (*model.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxRoleNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("role name must be between 1 and %d characters", MaxRoleNameLength))
	}
	// Position 0 belongs to the default role.
	if in.Position == 0 {
		return nil, apperror.ValidationFailed("position", "position must be at least 1")
	}

	actorPerms, err := s.perms.PermissionsFor(ctx, guildID, actorID, 0)
	if err != nil {
		return nil, err
	}
	if !actorPerms.Contains(model.PermManageRoles) {
		return nil, apperror.MissingPermissions(model.PermManageRoles)
	}
	allow := in.Permissions.Allow.Truncate()
	if !actorPerms.Contains(allow) {
		return nil, apperror.MissingPermissions(allow &^ actorPerms)
	}
	if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, in.Position); err != nil {
		return nil, err
	}

	var flags model.RoleFlags
	if in.Hoisted {
		flags |= model.RoleHoisted
	}
	if in.Mentionable {
		flags |= model.RoleMentionable
	}

	role := &model.Role{
		ID:      s.ids.Generate(snowflake.KindRole),
		GuildID: guildID,
		Name:    name,
		Color:   in.Color,
		Permissions: model.PermissionPair{
			Allow: allow,
			Deny:  in.Permissions.Deny.Truncate(),
		},
		Position: in.Position,
		Flags:    flags,
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("service/guild: creating role: %w", err)
	}
	return role, nil
}

// AssignRole gives a member a role the actor outranks.
func (s *GuildService) AssignRole(ctx context.Context, actorID, guildID, userID, roleID snowflake.ID) error {
	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermManageRoles); err != nil {
		return err
	}

	role, err := s.guildRole(ctx, guildID, roleID)
	if err != nil {
		return err
	}
	if role.Flags&model.RoleDefault != 0 {
		return apperror.ValidationFailed("role_id", "the default role cannot be assigned")
	}
	if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, role.Position); err != nil {
		return err
	}

	isMember, err := s.guilds.IsMember(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("service/guild: checking membership: %w", err)
	}
	if !isMember {
		return apperror.NotFound("member", userID)
	}

	if err := s.roles.AssignRole(ctx, guildID, userID, roleID); err != nil {
		return fmt.Errorf("service/guild: assigning role: %w", err)
	}
	if err := s.cache.InvalidatePermissions(ctx, guildID, userID); err != nil {
		return fmt.Errorf("service/guild: invalidating permissions: %w", err)
	}
	return nil
}

// EditRoleInput is a partial update. Nil fields are left alone.
type EditRoleInput struct {
	Name        *string
	Color       *uint32
	Permissions *model.PermissionPair
	Position    *uint16
	Hoisted     *bool
	Mentionable *bool
}

// EditRole requires MANAGE_ROLES and a top role above both the role's
// current position and the one it moves to. New allows must be held by the
// actor. Managed roles are read-only and the default role stays at 0.
func (s *GuildService) EditRole(ctx context.Context, actorID, guildID, roleID snowflake.ID, in EditRoleInput) (*model.Role, error) {
	role, err := s.guildRole(ctx, guildID, roleID)
	if err != nil {
		return nil, err
	}
	if role.Flags&model.RoleManaged != 0 {
		return nil, apperror.Forbidden("Managed roles cannot be edited.")
	}

	actorPerms, err := s.perms.PermissionsFor(ctx, guildID, actorID, 0)
	if err != nil {
		return nil, err
	}
	if !actorPerms.Contains(model.PermManageRoles) {
		return nil, apperror.MissingPermissions(model.PermManageRoles)
	}
	if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, role.Position); err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || utf8.RuneCountInString(name) > MaxRoleNameLength {
			return nil, apperror.ValidationFailed("name",
				fmt.Sprintf("role name must be between 1 and %d characters", MaxRoleNameLength))
		}
		role.Name = name
	}
	if in.Color != nil {
		role.Color = in.Color
	}
	if in.Permissions != nil {
		allow := in.Permissions.Allow.Truncate()
		if !actorPerms.Contains(allow) {
			return nil, apperror.MissingPermissions(allow &^ actorPerms)
		}
		role.Permissions = model.PermissionPair{Allow: allow, Deny: in.Permissions.Deny.Truncate()}
	}
	if in.Position != nil && *in.Position != role.Position {
		if role.Flags&model.RoleDefault != 0 {
			return nil, apperror.ValidationFailed("position", "the default role cannot be moved")
		}
		if *in.Position == 0 {
			return nil, apperror.ValidationFailed("position", "position must be at least 1")
		}
		if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, *in.Position); err != nil {
			return nil, err
		}
		role.Position = *in.Position
	}
	role.Flags = setFlag(role.Flags, model.RoleHoisted, in.Hoisted)
	role.Flags = setFlag(role.Flags, model.RoleMentionable, in.Mentionable)

	if err := s.roles.UpdateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("service/guild: updating role: %w", err)
	}
	if err := s.cache.InvalidateGuildPermissions(ctx, guildID); err != nil {
		return nil, fmt.Errorf("service/guild: invalidating permissions: %w", err)
	}
	return role, nil
}

// DeleteRole requires MANAGE_ROLES and a top role above the role. Managed
// roles and the default role cannot be deleted.
func (s *GuildService) DeleteRole(ctx context.Context, actorID, guildID, roleID snowflake.ID) error {
	role, err := s.guildRole(ctx, guildID, roleID)
	if err != nil {
		return err
	}
	if role.Flags&model.RoleManaged != 0 {
		return apperror.Forbidden("Managed roles cannot be deleted.")
	}
	if role.Flags&model.RoleDefault != 0 {
		return apperror.ValidationFailed("role_id", "the default role cannot be deleted")
	}

	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermManageRoles); err != nil {
		return err
	}
	if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, role.Position); err != nil {
		return err
	}

	if err := s.roles.DeleteRole(ctx, roleID); err != nil {
		return fmt.Errorf("service/guild: deleting role: %w", err)
	}
	if err := s.cache.InvalidateGuildPermissions(ctx, guildID); err != nil {
		return fmt.Errorf("service/guild: invalidating permissions: %w", err)
	}
	return nil
}

// guildRole loads a role and hides roles of other guilds behind NotFound.
func (s *GuildService) guildRole(ctx context.Context, guildID, roleID snowflake.ID) (*model.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("service/guild: loading role: %w", err)
	}
	if role.GuildID != guildID {
		return nil, apperror.NotFound("role", roleID)
	}
	return role, nil
}

func setFlag(flags, flag model.RoleFlags, on *bool) model.RoleFlags {
	switch {
	case on == nil:
		return flags
	case *on:
		return flags | flag
	default:
		return flags &^ flag
	}
}

// =========================================================================
// CHANNELS
// =========================================================================

type CreateChannelInput struct {
	Name     string
	Type     model.ChannelType
	Topic    *string
	ParentID *snowflake.ID
	Position uint16
}

// CreateChannel requires MANAGE_CHANNELS guild-wide.
func (s *GuildService) CreateChannel(ctx context.Context, actorID, guildID snowflake.ID, in CreateChannelInput) (*model.GuildChannel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxChannelName {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("channel name must be between 1 and %d characters", MaxChannelName))
	}
	if !in.Type.IsGuild() {
		return nil, apperror.ValidationFailed("type", "channel type cannot be used in a guild")
	}
	if in.Topic != nil && utf8.RuneCountInString(*in.Topic) > MaxTopicLength {
		return nil, apperror.ValidationFailed("topic",
			fmt.Sprintf("topic must be at most %d characters", MaxTopicLength))
	}

	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermManageChannels); err != nil {
		return nil, err
	}

	if in.ParentID != nil {
		parent, err := s.channels.GetChannel(ctx, *in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("service/guild: loading parent channel: %w", err)
		}
		if parent.GuildID != guildID || parent.Type != model.ChannelCategory {
			return nil, apperror.ValidationFailed("parent_id", "parent must be a category in this guild")
		}
	}

	channel := &model.GuildChannel{
		ID:         s.ids.Generate(snowflake.KindChannel),
		GuildID:    guildID,
		Type:       in.Type,
		Name:       name,
		Position:   in.Position,
		ParentID:   in.ParentID,
		Topic:      in.Topic,
		Overwrites: []model.PermissionOverwrite{},
	}
	if err := s.channels.CreateChannel(ctx, channel); err != nil {
		return nil, fmt.Errorf("service/guild: creating channel: %w", err)
	}

	s.cacheChannel(ctx, channel)
	return channel, nil
}

// SetOverwrite requires MANAGE_CHANNELS in the channel itself. Any member's
// result may change, so the whole guild's cached permissions are dropped.
func (s *GuildService) SetOverwrite(ctx context.Context, actorID, guildID, channelID snowflake.ID, overwrite model.PermissionOverwrite) error {
	if _, err := s.perms.channelInGuild(ctx, guildID, channelID); err != nil {
		return err
	}

	if err := s.perms.Require(ctx, guildID, actorID, channelID, model.PermManageChannels); err != nil {
		return err
	}

	overwrite.Allow = overwrite.Allow.Truncate()
	overwrite.Deny = overwrite.Deny.Truncate()
	if err := s.channels.SetOverwrite(ctx, channelID, overwrite); err != nil {
		return fmt.Errorf("service/guild: setting overwrite: %w", err)
	}
	if err := s.cache.InvalidateGuildPermissions(ctx, guildID); err != nil {
		return fmt.Errorf("service/guild: invalidating permissions: %w", err)
	}
	return nil
}

// DeleteChannel requires MANAGE_CHANNELS in the channel itself.
func (s *GuildService) DeleteChannel(ctx context.Context, actorID, guildID, channelID snowflake.ID) error {
	if _, err := s.perms.channelInGuild(ctx, guildID, channelID); err != nil {
		return err
	}
	if err := s.perms.Require(ctx, guildID, actorID, channelID, model.PermManageChannels); err != nil {
		return err
	}

	if err := s.channels.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("service/guild: deleting channel: %w", err)
	}
	if err := s.cache.RemoveChannel(ctx, channelID); err != nil {
		cacheFailed(ctx, s.logger, "RemoveChannel", err)
	}
	if err := s.cache.InvalidateGuildPermissions(ctx, guildID); err != nil {
		cacheFailed(ctx, s.logger, "InvalidateGuildPermissions", err)
	}
	return nil
}

// =========================================================================
// INVITES
// =========================================================================

type CreateInviteInput struct {
	MaxUses uint32
	// MaxAge is in seconds; 0 never expires.
	MaxAge uint32
}

// CreateInvite requires CREATE_INVITES guild-wide.
func (s *GuildService) CreateInvite(ctx context.Context, actorID, guildID snowflake.ID, in CreateInviteInput) (*model.Invite, error) {
	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermCreateInvites); err != nil {
		return nil, err
	}

	invite := &model.Invite{
		Code:      xid.New().String(),
		InviterID: actorID,
		GuildID:   guildID,
		CreatedAt: s.now().UTC(),
		MaxUses:   in.MaxUses,
		MaxAge:    in.MaxAge,
	}
	if err := s.invites.CreateInvite(ctx, invite); err != nil {
		return nil, fmt.Errorf("service/guild: creating invite: %w", err)
	}
	if err := s.cache.SetInvite(ctx, invite.Code, inviteInfo(invite)); err != nil {
		cacheFailed(ctx, s.logger, "SetInvite", err)
	}
	return invite, nil
}

// UseInvite joins userID to the invite's guild.
//
// Expired and used-up invites are deleted on sight and reported as missing.
// Counting the use and adding the member happen in one store transaction,
// so an invite with one use left admits exactly one of any number of
// concurrent joiners.
func (s *GuildService) UseInvite(ctx context.Context, userID snowflake.ID, code string) (*model.PartialGuild, error) {
	invite, err := s.invites.GetInvite(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("service/guild: loading invite: %w", err)
	}

	banned, err := s.isBanned(ctx, invite.GuildID, userID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, apperror.Forbidden("You are banned from this guild.")
	}

	member := &model.Member{UserID: userID, JoinedAt: s.now().UTC()}
	redeemed, err := s.invites.RedeemInvite(ctx, code, member, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.forgetInvite(ctx, code)
		}
		return nil, fmt.Errorf("service/guild: redeeming invite: %w", err)
	}
	if redeemed.MaxUses != 0 && redeemed.Uses >= redeemed.MaxUses {
		s.forgetInvite(ctx, code)
	}
	s.cacheMemberJoined(ctx, member.GuildID, userID)

	guild, err := s.guilds.GetGuild(ctx, member.GuildID)
	if err != nil {
		return nil, fmt.Errorf("service/guild: loading guild: %w", err)
	}
	return guild, nil
}

// ResolveInvite returns the guild an invite code leads to, without joining.
//
// The cached entry carries the invite's expiry, so a hit is re-checked
// against the clock. Used-up invites are evicted when their last use is
// taken and deleted from the store, so they miss and then fail to load.
func (s *GuildService) ResolveInvite(ctx context.Context, code string) (*model.PartialGuild, error) {
	info, ok, err := s.cache.Invite(ctx, code)
	if err != nil {
		cacheFailed(ctx, s.logger, "Invite", err)
	}
	if ok && info.Expired(s.now()) {
		s.forgetInvite(ctx, code)
		return nil, apperror.NotFoundCode("invite", code)
	}
	if !ok {
		invite, err := s.invites.GetInvite(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("service/guild: loading invite: %w", err)
		}
		if invite.Expired(s.now()) {
			return nil, apperror.NotFoundCode("invite", code)
		}
		info = inviteInfo(invite)
		if err := s.cache.SetInvite(ctx, code, info); err != nil {
			cacheFailed(ctx, s.logger, "SetInvite", err)
		}
	}

	guild, err := s.guilds.GetGuild(ctx, info.GuildID)
	if err != nil {
		return nil, fmt.Errorf("service/guild: loading guild: %w", err)
	}
	return guild, nil
}

func inviteInfo(invite *model.Invite) cache.InviteInfo {
	info := cache.InviteInfo{GuildID: invite.GuildID}
	if invite.MaxAge != 0 {
		expires := invite.CreatedAt.Add(time.Duration(invite.MaxAge) * time.Second)
		info.ExpiresAt = expires.UnixMilli()
	}
	return info
}

func (s *GuildService) forgetInvite(ctx context.Context, code string) {
	if err := s.cache.RemoveInvite(ctx, code); err != nil {
		cacheFailed(ctx, s.logger, "RemoveInvite", err)
	}
}

// cacheMemberJoined adds the member to the cached member set, but only if
// that set already exists. Creating it here would make a partial set look
// complete.
func (s *GuildService) cacheMemberJoined(ctx context.Context, guildID, userID snowflake.ID) {
	_, known, err := s.cache.IsMember(ctx, guildID, userID)
	if err != nil {
		cacheFailed(ctx, s.logger, "IsMember", err)
		return
	}
	if !known {
		return
	}
	if err := s.cache.UpdateMembers(ctx, guildID, userID); err != nil {
		cacheFailed(ctx, s.logger, "UpdateMembers", err)
	}
}

// =========================================================================
// MEMBERS
// =========================================================================

// KickMember requires KICK_MEMBERS and a top role above the target's. The
// owner cannot be kicked, and nobody can kick themselves. Unlike a ban, the
// user may rejoin with an invite.
func (s *GuildService) KickMember(ctx context.Context, actorID, guildID, userID snowflake.ID) error {
	if actorID == userID {
		return apperror.ValidationFailed("user_id", "you cannot kick yourself")
	}

	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermKickMembers); err != nil {
		return err
	}

	top, targetIsOwner, err := s.perms.TopRolePosition(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if targetIsOwner {
		return apperror.Forbidden("The guild owner cannot be kicked.")
	}
	if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, top); err != nil {
		return err
	}

	if err := s.guilds.RemoveMember(ctx, guildID, userID); err != nil {
		return fmt.Errorf("service/guild: removing member: %w", err)
	}
	if err := s.cache.RemoveMember(ctx, guildID, userID); err != nil {
		return fmt.Errorf("service/guild: evicting kicked member: %w", err)
	}

	s.logger.InfoContext(ctx, "member kicked",
		slog.String("guildID", guildID.String()),
		slog.String("userID", userID.String()),
		slog.String("moderatorID", actorID.String()),
	)
	return nil
}

// =========================================================================
// BANS
// =========================================================================

// BanMember requires BAN_MEMBERS and, for a current member, a top role above
// theirs. The owner cannot be banned, and nobody can ban themselves.
func (s *GuildService) BanMember(ctx context.Context, actorID, guildID, userID snowflake.ID, reason *string) error {
	if reason != nil && utf8.RuneCountInString(*reason) > MaxBanReasonLength {
		return apperror.ValidationFailed("reason",
			fmt.Sprintf("reason must be at most %d characters", MaxBanReasonLength))
	}
	if actorID == userID {
		return apperror.ValidationFailed("user_id", "you cannot ban yourself")
	}

	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermBanMembers); err != nil {
		return err
	}

	top, targetIsOwner, err := s.perms.TopRolePosition(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if targetIsOwner {
		return apperror.Forbidden("The guild owner cannot be banned.")
	}

	isMember, err := s.guilds.IsMember(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("service/guild: checking membership: %w", err)
	}
	if isMember {
		if err := s.perms.AssertTopRoleHigherThan(ctx, guildID, actorID, top); err != nil {
			return err
		}
	}

	ban := &model.GuildBan{
		GuildID:     guildID,
		UserID:      userID,
		ModeratorID: actorID,
		Reason:      reason,
		BannedAt:    s.now().UTC(),
	}
	if err := s.guilds.BanMember(ctx, ban); err != nil {
		return fmt.Errorf("service/guild: banning member: %w", err)
	}

	// A cached membership would let the banned user keep acting in the
	// guild, so these two are not advisory.
	if err := s.cache.RemoveMember(ctx, guildID, userID); err != nil {
		return fmt.Errorf("service/guild: evicting banned member: %w", err)
	}
	if err := s.cache.AddBan(ctx, guildID, userID); err != nil {
		cacheFailed(ctx, s.logger, "AddBan", err)
	}

	s.logger.InfoContext(ctx, "member banned",
		slog.String("guildID", guildID.String()),
		slog.String("userID", userID.String()),
		slog.String("moderatorID", actorID.String()),
	)
	return nil
}

// UnbanMember requires BAN_MEMBERS.
func (s *GuildService) UnbanMember(ctx context.Context, actorID, guildID, userID snowflake.ID) error {
	if err := s.perms.Require(ctx, guildID, actorID, 0, model.PermBanMembers); err != nil {
		return err
	}
	if err := s.guilds.RemoveBan(ctx, guildID, userID); err != nil {
		return fmt.Errorf("service/guild: removing ban: %w", err)
	}
	if err := s.cache.RemoveBan(ctx, guildID, userID); err != nil {
		return fmt.Errorf("service/guild: evicting ban: %w", err)
	}
	return nil
}

// isBanned trusts a cached "banned" but confirms a cached "not banned" with
// the store, since the cached set only holds bans this process has seen.
func (s *GuildService) isBanned(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	banned, err := s.cache.IsBanned(ctx, guildID, userID)
	if err != nil {
		cacheFailed(ctx, s.logger, "IsBanned", err)
	}
	if banned {
		return true, nil
	}

	banned, err = s.guilds.IsBanned(ctx, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("service/guild: checking ban: %w", err)
	}
	if banned {
		if err := s.cache.AddBan(ctx, guildID, userID); err != nil {
			cacheFailed(ctx, s.logger, "AddBan", err)
		}
	}
	return banned, nil
}
