package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/cache"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/permission"
	"github.com/sakif/essence/internal/repository"
	"github.com/sakif/essence/internal/snowflake"
)

// PermissionService answers "what may this member do here?".
//
// It does the lookups around the pure resolver in internal/permission:
// membership, ownership, the member's roles and the channel's overwrites.
// Results are cached per (guild, member, channel) and invalidated by
// GuildService whenever an input changes.
type PermissionService struct {
	guilds   repository.GuildRepository
	roles    repository.RoleRepository
	channels repository.ChannelRepository
	cache    cache.Cache
	logger   *slog.Logger

	// lookups collapses concurrent identical resolutions into one.
	lookups singleflight.Group
}

func NewPermissionService(
	guilds repository.GuildRepository,
	roles repository.RoleRepository,
	channels repository.ChannelRepository,
	c cache.Cache,
	logger *slog.Logger,
) *PermissionService {
	return &PermissionService{
		guilds:   guilds,
		roles:    roles,
		channels: channels,
		cache:    c,
		logger:   logger,
	}
}

// PermissionsFor returns the member's effective permissions in the guild,
// or in one of its channels when channelID is non-zero.
//
// Non-members get apperror.NotMember. The owner always gets model.All().
func (s *PermissionService) PermissionsFor(ctx context.Context, guildID, userID, channelID snowflake.ID) (model.Permissions, error) {
	perms, ok, err := s.cache.PermissionsFor(ctx, guildID, userID, channelID)
	if err != nil {
		cacheFailed(ctx, s.logger, "PermissionsFor", err)
	}
	if ok {
		// A mask is only as good as the membership behind it. When the
		// member set can't vouch either way, resolve from the store.
		isMember, known, err := s.cache.IsMember(ctx, guildID, userID)
		if err != nil {
			cacheFailed(ctx, s.logger, "IsMember", err)
		} else if known {
			if !isMember {
				return 0, apperror.NotMember(guildID)
			}
			return perms, nil
		}
	}

	key := fmt.Sprintf("%s:%s:%s", guildID, userID, channelID)
	// The shared resolution must not die with whichever caller started it.
	detached := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(key, func() (any, error) {
		return s.resolve(detached, guildID, userID, channelID)
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(model.Permissions), nil
	}
}

func (s *PermissionService) resolve(ctx context.Context, guildID, userID, channelID snowflake.ID) (model.Permissions, error) {
	// Taken before any input is read. A ban, kick or role change landing
	// while this runs bumps the epoch and the write-back below is dropped.
	epoch, err := s.cache.PermissionsEpoch(ctx, guildID)
	writeBack := err == nil
	if err != nil {
		cacheFailed(ctx, s.logger, "PermissionsEpoch", err)
	}

	if err := s.assertMember(ctx, guildID, userID); err != nil {
		return 0, err
	}
	if channelID != 0 {
		if _, err := s.channelInGuild(ctx, guildID, channelID); err != nil {
			return 0, err
		}
	}

	owner, err := s.ownerOf(ctx, guildID)
	if err != nil {
		return 0, err
	}

	var perms model.Permissions
	if owner == userID {
		perms = model.All()
	} else {
		var (
			roles   []model.Role
			channel *model.GuildChannel
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			roles, err = s.roles.MemberRoles(gctx, guildID, userID)
			return err
		})
		if channelID != 0 {
			g.Go(func() error {
				var err error
				channel, err = s.channels.GetChannel(gctx, channelID)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return 0, fmt.Errorf("service/permission: loading inputs: %w", err)
		}

		var overwrites []model.PermissionOverwrite
		if channel != nil {
			if channel.GuildID != guildID {
				return 0, apperror.NotFound("channel", channelID)
			}
			overwrites = channel.Overwrites
		}
		perms = permission.Calculate(userID, roles, overwrites)
	}

	if writeBack {
		if err := s.cache.UpdatePermissions(ctx, guildID, userID, channelID, perms, epoch); err != nil {
			cacheFailed(ctx, s.logger, "UpdatePermissions", err)
		}
	}
	return perms, nil
}

// Require fails with apperror.MissingPermissions unless the member has every
// bit in required.
func (s *PermissionService) Require(ctx context.Context, guildID, userID, channelID snowflake.ID, required model.Permissions) error {
	perms, err := s.PermissionsFor(ctx, guildID, userID, channelID)
	if err != nil {
		return err
	}
	if !perms.Contains(required) {
		return apperror.MissingPermissions(required &^ perms)
	}
	return nil
}

// TopRolePosition is the highest position among the member's roles. The
// owner is reported separately since they outrank every role.
func (s *PermissionService) TopRolePosition(ctx context.Context, guildID, userID snowflake.ID) (top uint16, isOwner bool, err error) {
	owner, err := s.ownerOf(ctx, guildID)
	if err != nil {
		return 0, false, err
	}
	if owner == userID {
		return 0, true, nil
	}

	roles, err := s.roles.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return 0, false, fmt.Errorf("service/permission: loading roles: %w", err)
	}
	for _, r := range roles {
		top = max(top, r.Position)
	}
	return top, false, nil
}

// AssertTopRoleHigherThan fails with apperror.RoleTooLow unless the member's
// top role sits strictly above position. The owner always passes.
func (s *PermissionService) AssertTopRoleHigherThan(ctx context.Context, guildID, userID snowflake.ID, position uint16) error {
	top, isOwner, err := s.TopRolePosition(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !isOwner && top <= position {
		return apperror.RoleTooLow(top, position)
	}
	return nil
}

// assertMember checks membership against the cached member set, building
// the set from the store the first time the guild is asked about.
func (s *PermissionService) assertMember(ctx context.Context, guildID, userID snowflake.ID) error {
	isMember, known, err := s.cache.IsMember(ctx, guildID, userID)
	if err != nil {
		cacheFailed(ctx, s.logger, "IsMember", err)
		known = false
	}

	if !known {
		ids, err := s.guilds.MemberIDs(ctx, guildID)
		if err != nil {
			return fmt.Errorf("service/permission: loading members: %w", err)
		}
		isMember = false
		for _, id := range ids {
			if id == userID {
				isMember = true
				break
			}
		}
		if err := s.cache.UpdateMembers(ctx, guildID, ids...); err != nil {
			cacheFailed(ctx, s.logger, "UpdateMembers", err)
		}
	}

	if !isMember {
		return apperror.NotMember(guildID)
	}
	return nil
}

// channelInGuild answers from the cached channel inspection when it can, so
// a channel from another guild is rejected without loading it.
func (s *PermissionService) channelInGuild(ctx context.Context, guildID, channelID snowflake.ID) (model.ChannelInspection, error) {
	info, ok, err := s.cache.Channel(ctx, channelID)
	if err != nil {
		cacheFailed(ctx, s.logger, "Channel", err)
	}
	if !ok {
		channel, err := s.channels.GetChannel(ctx, channelID)
		if err != nil {
			return model.ChannelInspection{}, fmt.Errorf("service/permission: loading channel: %w", err)
		}
		owner := channel.GuildID
		info = model.ChannelInspection{GuildID: &owner, Type: channel.Type}
		if err := s.cache.UpdateChannel(ctx, channelID, info); err != nil {
			cacheFailed(ctx, s.logger, "UpdateChannel", err)
		}
	}

	if info.GuildID == nil || *info.GuildID != guildID {
		return model.ChannelInspection{}, apperror.NotFound("channel", channelID)
	}
	return info, nil
}

func (s *PermissionService) ownerOf(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	owner, ok, err := s.cache.OwnerOf(ctx, guildID)
	if err != nil {
		cacheFailed(ctx, s.logger, "OwnerOf", err)
	}
	if ok {
		return owner, nil
	}

	guild, err := s.guilds.GetGuild(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("service/permission: loading guild: %w", err)
	}
	if err := s.cache.UpdateOwner(ctx, guildID, guild.OwnerID); err != nil {
		cacheFailed(ctx, s.logger, "UpdateOwner", err)
	}
	return guild.OwnerID, nil
}
