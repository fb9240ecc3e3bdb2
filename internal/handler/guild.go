package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/service"
	"github.com/sakif/essence/internal/snowflake"
)

// GuildService is what GuildHandler needs from service.GuildService.
type GuildService interface {
	CreateGuild(ctx context.Context, ownerID snowflake.ID, name string) (*model.Guild, error)
	DeleteGuild(ctx context.Context, actorID, guildID snowflake.ID) error
	CreateRole(ctx context.Context, actorID, guildID snowflake.ID, in service.CreateRoleInput) (*model.Role, error)
	EditRole(ctx context.Context, actorID, guildID, roleID snowflake.ID, in service.EditRoleInput) (*model.Role, error)
	DeleteRole(ctx context.Context, actorID, guildID, roleID snowflake.ID) error
	AssignRole(ctx context.Context, actorID, guildID, userID, roleID snowflake.ID) error
	CreateChannel(ctx context.Context, actorID, guildID snowflake.ID, in service.CreateChannelInput) (*model.GuildChannel, error)
	DeleteChannel(ctx context.Context, actorID, guildID, channelID snowflake.ID) error
	SetOverwrite(ctx context.Context, actorID, guildID, channelID snowflake.ID, overwrite model.PermissionOverwrite) error
	CreateInvite(ctx context.Context, actorID, guildID snowflake.ID, in service.CreateInviteInput) (*model.Invite, error)
	UseInvite(ctx context.Context, userID snowflake.ID, code string) (*model.PartialGuild, error)
	ResolveInvite(ctx context.Context, code string) (*model.PartialGuild, error)
	KickMember(ctx context.Context, actorID, guildID, userID snowflake.ID) error
	BanMember(ctx context.Context, actorID, guildID, userID snowflake.ID, reason *string) error
	UnbanMember(ctx context.Context, actorID, guildID, userID snowflake.ID) error
}

// PermissionService is what GuildHandler needs from service.PermissionService.
type PermissionService interface {
	PermissionsFor(ctx context.Context, guildID, userID, channelID snowflake.ID) (model.Permissions, error)
}

// GuildHandler serves guild structure, invite and moderation endpoints.
// Every route sits behind auth.RequireAuth.
type GuildHandler struct {
	guilds   GuildService
	perms    PermissionService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewGuildHandler(guilds GuildService, perms PermissionService, logger *slog.Logger) *GuildHandler {
	return &GuildHandler{
		guilds:   guilds,
		perms:    perms,
		validate: newValidator(),
		logger:   logger,
	}
}

// Routes mounts the handler under r.
//
// ROUTE STRUCTURE:
// POST   /guilds                                                → create guild
// DELETE /guilds/{guildID}                                      → delete guild (owner only)
// GET    /guilds/{guildID}/permissions?channel_id=              → caller's permissions
// POST   /guilds/{guildID}/roles                                → create role
// PATCH  /guilds/{guildID}/roles/{roleID}                       → edit role
// DELETE /guilds/{guildID}/roles/{roleID}                       → delete role
// PUT    /guilds/{guildID}/members/{userID}/roles/{roleID}      → assign role
// DELETE /guilds/{guildID}/members/{userID}                     → kick
// POST   /guilds/{guildID}/channels                             → create channel
// DELETE /guilds/{guildID}/channels/{channelID}                 → delete channel
// PUT    /guilds/{guildID}/channels/{channelID}/overwrites/{targetID} → set overwrite
// POST   /guilds/{guildID}/invites                              → create invite
// PUT    /guilds/{guildID}/bans/{userID}                        → ban
// DELETE /guilds/{guildID}/bans/{userID}                        → unban
// GET    /invites/{code}                                        → preview invite
// POST   /invites/{code}                                        → join via invite
func (h *GuildHandler) Routes(r chi.Router) {
	r.Post("/guilds", h.HandleCreateGuild)
	r.Route("/guilds/{guildID}", func(r chi.Router) {
		r.Delete("/", h.HandleDeleteGuild)
		r.Get("/permissions", h.HandlePermissions)
		r.Post("/roles", h.HandleCreateRole)
		r.Patch("/roles/{roleID}", h.HandleEditRole)
		r.Delete("/roles/{roleID}", h.HandleDeleteRole)
		r.Put("/members/{userID}/roles/{roleID}", h.HandleAssignRole)
		r.Delete("/members/{userID}", h.HandleKick)
		r.Post("/channels", h.HandleCreateChannel)
		r.Delete("/channels/{channelID}", h.HandleDeleteChannel)
		r.Put("/channels/{channelID}/overwrites/{targetID}", h.HandleSetOverwrite)
		r.Post("/invites", h.HandleCreateInvite)
		r.Put("/bans/{userID}", h.HandleBan)
		r.Delete("/bans/{userID}", h.HandleUnban)
	})
	r.Get("/invites/{code}", h.HandleResolveInvite)
	r.Post("/invites/{code}", h.HandleUseInvite)
}

// actorAndGuild pulls the caller and {guildID} out of the request, which
// almost every route here needs.
func actorAndGuild(r *http.Request) (actorID, guildID snowflake.ID, err error) {
	if actorID, err = currentUser(r); err != nil {
		return 0, 0, err
	}
	if guildID, err = idParam(r, "guildID"); err != nil {
		return 0, 0, err
	}
	return actorID, guildID, nil
}

// =========================================================================
// GUILDS
// =========================================================================

type createGuildRequest struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
}

func (h *GuildHandler) HandleCreateGuild(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createGuildRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	guild, err := h.guilds.CreateGuild(r.Context(), userID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, guild)
}

func (h *GuildHandler) HandleDeleteGuild(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.guilds.DeleteGuild(r.Context(), actorID, guildID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionsResponse struct {
	Permissions model.Permissions `json:"permissions"`
}

// HandlePermissions reports the caller's own permissions, guild-wide or in
// the channel named by ?channel_id=.
func (h *GuildHandler) HandlePermissions(w http.ResponseWriter, r *http.Request) {
	userID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var channelID snowflake.ID
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		if channelID, err = snowflake.Parse(raw); err != nil {
			writeError(w, apperror.ValidationFailed("channel_id", "invalid snowflake"))
			return
		}
	}

	perms, err := h.perms.PermissionsFor(r.Context(), guildID, userID, channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{Permissions: perms})
}

// =========================================================================
// ROLES
// =========================================================================

type createRoleRequest struct {
	Name        string               `json:"name" validate:"required,max=32"`
	Color       *uint32              `json:"color" validate:"omitempty,max=16777215"`
	Permissions model.PermissionPair `json:"permissions"`
	Position    uint16               `json:"position" validate:"min=1"`
	Hoisted     bool                 `json:"hoisted"`
	Mentionable bool                 `json:"mentionable"`
}

func (h *GuildHandler) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createRoleRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	role, err := h.guilds.CreateRole(r.Context(), actorID, guildID, service.CreateRoleInput{
		Name:        req.Name,
		Color:       req.Color,
		Permissions: req.Permissions,
		Position:    req.Position,
		Hoisted:     req.Hoisted,
		Mentionable: req.Mentionable,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// editRoleRequest is a partial update; absent fields stay as they are.
type editRoleRequest struct {
	Name        *string               `json:"name" validate:"omitempty,max=32"`
	Color       *uint32               `json:"color" validate:"omitempty,max=16777215"`
	Permissions *model.PermissionPair `json:"permissions"`
	Position    *uint16               `json:"position"`
	Hoisted     *bool                 `json:"hoisted"`
	Mentionable *bool                 `json:"mentionable"`
}

func (h *GuildHandler) HandleEditRole(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	roleID, err := idParam(r, "roleID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req editRoleRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	role, err := h.guilds.EditRole(r.Context(), actorID, guildID, roleID, service.EditRoleInput{
		Name:        req.Name,
		Color:       req.Color,
		Permissions: req.Permissions,
		Position:    req.Position,
		Hoisted:     req.Hoisted,
		Mentionable: req.Mentionable,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *GuildHandler) HandleDeleteRole(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	roleID, err := idParam(r, "roleID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.guilds.DeleteRole(r.Context(), actorID, guildID, roleID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GuildHandler) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := idParam(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}
	roleID, err := idParam(r, "roleID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.guilds.AssignRole(r.Context(), actorID, guildID, userID, roleID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// CHANNELS
// =========================================================================

type createChannelRequest struct {
	Name     string            `json:"name" validate:"required,max=32"`
	Type     model.ChannelType `json:"type"`
	Topic    *string           `json:"topic" validate:"omitempty,max=1024"`
	ParentID *snowflake.ID     `json:"parent_id"`
	Position uint16            `json:"position"`
}

func (h *GuildHandler) HandleCreateChannel(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createChannelRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	channel, err := h.guilds.CreateChannel(r.Context(), actorID, guildID, service.CreateChannelInput{
		Name:     req.Name,
		Type:     req.Type,
		Topic:    req.Topic,
		ParentID: req.ParentID,
		Position: req.Position,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, channel)
}

func (h *GuildHandler) HandleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	channelID, err := idParam(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.guilds.DeleteChannel(r.Context(), actorID, guildID, channelID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetOverwrite takes the target from the path and the allow/deny pair
// from the body.
func (h *GuildHandler) HandleSetOverwrite(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	channelID, err := idParam(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}
	targetID, err := idParam(r, "targetID")
	if err != nil {
		writeError(w, err)
		return
	}

	var pair model.PermissionPair
	if err := decodeJSON(r, h.validate, &pair); err != nil {
		writeError(w, err)
		return
	}

	overwrite := model.PermissionOverwrite{ID: targetID, PermissionPair: pair}
	if err := h.guilds.SetOverwrite(r.Context(), actorID, guildID, channelID, overwrite); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// INVITES
// =========================================================================

type createInviteRequest struct {
	MaxUses uint32 `json:"max_uses"`
	// MaxAge is in seconds, at most a week. 0 never expires.
	MaxAge uint32 `json:"max_age" validate:"max=604800"`
}

func (h *GuildHandler) HandleCreateInvite(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createInviteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, h.validate, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	invite, err := h.guilds.CreateInvite(r.Context(), actorID, guildID, service.CreateInviteInput{
		MaxUses: req.MaxUses,
		MaxAge:  req.MaxAge,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (h *GuildHandler) HandleResolveInvite(w http.ResponseWriter, r *http.Request) {
	guild, err := h.guilds.ResolveInvite(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guild)
}

func (h *GuildHandler) HandleUseInvite(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	guild, err := h.guilds.UseInvite(r.Context(), userID, chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guild)
}

// =========================================================================
// MEMBERS
// =========================================================================

// HandleKick removes {userID} from the guild. Unlike a ban, they may rejoin.
func (h *GuildHandler) HandleKick(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := idParam(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.guilds.KickMember(r.Context(), actorID, guildID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// BANS
// =========================================================================

type banRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=512"`
}

// HandleBan bans {userID}. The body, and the reason in it, are optional.
func (h *GuildHandler) HandleBan(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := idParam(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req banRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, h.validate, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.guilds.BanMember(r.Context(), actorID, guildID, userID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GuildHandler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	actorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := idParam(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.guilds.UnbanMember(r.Context(), actorID, guildID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
