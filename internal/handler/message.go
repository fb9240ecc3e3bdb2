package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/service"
	"github.com/sakif/essence/internal/snowflake"
)

// MessageService is what MessageHandler needs from service.MessageService.
type MessageService interface {
	CreateMessage(ctx context.Context, authorID, guildID, channelID snowflake.ID, in service.CreateMessageInput) (*model.Message, error)
}

// MessageHandler serves message endpoints. Every route sits behind
// auth.RequireAuth.
//
// HANDLER RESPONSIBILITIES:
//   - HandleCreateMessage → POST /guilds/{guildID}/channels/{channelID}/messages
type MessageHandler struct {
	messages MessageService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMessageHandler(messages MessageService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		validate: newValidator(),
		logger:   logger,
	}
}

func (h *MessageHandler) Routes(r chi.Router) {
	r.Post("/guilds/{guildID}/channels/{channelID}/messages", h.HandleCreateMessage)
}

type createMessageRequest struct {
	Content *string       `json:"content" validate:"omitempty,max=4096"`
	Embeds  []model.Embed `json:"embeds" validate:"max=10"`
}

// HandleCreateMessage sends a message. The body needs content, embeds or
// both; the service enforces that.
func (h *MessageHandler) HandleCreateMessage(w http.ResponseWriter, r *http.Request) {
	authorID, guildID, err := actorAndGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	channelID, err := idParam(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req createMessageRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.messages.CreateMessage(r.Context(), authorID, guildID, channelID, service.CreateMessageInput{
		Content: req.Content,
		Embeds:  req.Embeds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
