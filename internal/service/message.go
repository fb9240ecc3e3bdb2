package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository"
	"github.com/sakif/essence/internal/snowflake"
)

// MessageService sends messages into guild channels.
type MessageService struct {
	messages repository.MessageRepository
	perms    *PermissionService
	ids      IDGenerator
	logger   *slog.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	perms *PermissionService,
	ids IDGenerator,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{
		messages: messages,
		perms:    perms,
		ids:      ids,
		logger:   logger,
	}
}

type CreateMessageInput struct {
	Content *string
	Embeds  []model.Embed
}

// CreateMessage needs VIEW_CHANNEL and SEND_MESSAGES in the channel, plus
// SEND_EMBEDS when the message carries embeds. Mentions are read out of the
// content once, here, and stored with the message.
func (s *MessageService) CreateMessage(ctx context.Context, authorID, guildID, channelID snowflake.ID, in CreateMessageInput) (*model.Message, error) {
	var content *string
	if in.Content != nil {
		if trimmed := strings.TrimSpace(*in.Content); trimmed != "" {
			content = &trimmed
		}
	}
	if content == nil && len(in.Embeds) == 0 {
		return nil, apperror.ValidationFailed("content", "a message needs content or at least one embed")
	}
	if content != nil && len(*content) > MaxMessageLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("content must be at most %d bytes", MaxMessageLength))
	}
	if len(in.Embeds) > MaxEmbeds {
		return nil, apperror.ValidationFailed("embeds",
			fmt.Sprintf("a message takes at most %d embeds", MaxEmbeds))
	}

	info, err := s.perms.channelInGuild(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	if !info.Type.IsText() {
		return nil, apperror.ValidationFailed("channel_id", "messages can only be sent in text channels")
	}

	required := model.PermViewChannel | model.PermSendMessages
	if len(in.Embeds) > 0 {
		required |= model.PermSendEmbeds
	}
	if err := s.perms.Require(ctx, guildID, authorID, channelID, required); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:          s.ids.Generate(snowflake.KindMessage),
		ChannelID:   channelID,
		AuthorID:    &authorID,
		Content:     content,
		Embeds:      in.Embeds,
		Attachments: []model.Attachment{},
	}
	msg.Mentions = msg.ContentMentions()
	if msg.Embeds == nil {
		msg.Embeds = []model.Embed{}
	}
	if msg.Mentions == nil {
		msg.Mentions = []snowflake.ID{}
	}

	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("service/message: creating message: %w", err)
	}

	s.logger.DebugContext(ctx, "message created",
		slog.String("messageID", msg.ID.String()),
		slog.String("channelID", channelID.String()),
		slog.Int("mentions", len(msg.Mentions)),
	)
	return msg, nil
}
