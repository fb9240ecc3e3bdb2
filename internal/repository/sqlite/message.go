package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository"
	"github.com/sakif/essence/internal/snowflake"
)

var _ repository.MessageRepository = (*DB)(nil)

func (db *DB) CreateMessage(ctx context.Context, msg *model.Message) error {
	embeds, err := json.Marshal(nonNil(msg.Embeds))
	if err != nil {
		return fmt.Errorf("sqlite: encoding embeds of message %s: %w", msg.ID, err)
	}
	mentions, err := json.Marshal(nonNil(msg.Mentions))
	if err != nil {
		return fmt.Errorf("sqlite: encoding mentions of message %s: %w", msg.ID, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, author_id, type, content, embeds, mentions, flags, stars)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.ChannelID,
		msg.AuthorID,
		msg.Info.Type,
		msg.Content,
		string(embeds),
		string(mentions),
		msg.Flags,
		msg.Stars,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting message %s: %w", msg.ID, err)
	}
	return nil
}

func (db *DB) GetMessage(ctx context.Context, id snowflake.ID) (*model.Message, error) {
	var (
		m                model.Message
		embeds, mentions string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, channel_id, author_id, type, content, embeds, mentions, flags, stars
		 FROM messages WHERE id = ?`,
		id,
	).Scan(
		&m.ID,
		&m.ChannelID,
		&m.AuthorID,
		&m.Info.Type,
		&m.Content,
		&embeds,
		&mentions,
		&m.Flags,
		&m.Stars,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting message %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(embeds), &m.Embeds); err != nil {
		return nil, fmt.Errorf("sqlite: decoding embeds of message %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(mentions), &m.Mentions); err != nil {
		return nil, fmt.Errorf("sqlite: decoding mentions of message %s: %w", id, err)
	}
	// Join and leave notices are authored by the user they announce.
	if (m.Info.Type == model.MessageJoin || m.Info.Type == model.MessageLeave) && m.AuthorID != nil {
		m.Info.UserID = *m.AuthorID
	}
	m.Attachments = []model.Attachment{}
	return &m, nil
}

// nonNil makes a nil slice encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
