package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository"
	"github.com/sakif/essence/internal/snowflake"
)

var _ repository.ChannelRepository = (*DB)(nil)

// CreateChannel stores the channel and any overwrites it was created with.
func (db *DB) CreateChannel(ctx context.Context, channel *model.GuildChannel) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertChannel(ctx, tx, channel)
	})
}

func (db *DB) GetChannel(ctx context.Context, id snowflake.ID) (*model.GuildChannel, error) {
	var c model.GuildChannel
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, guild_id, type, name, position, parent_id, topic, nsfw, locked, slowmode, user_limit
		 FROM channels WHERE id = ?`,
		id,
	).Scan(
		&c.ID,
		&c.GuildID,
		&c.Type,
		&c.Name,
		&c.Position,
		&c.ParentID,
		&c.Topic,
		&c.NSFW,
		&c.Locked,
		&c.Slowmode,
		&c.UserLimit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("channel", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting channel %s: %w", id, err)
	}

	// The row scan above has finished with the connection, so this second
	// query does not deadlock on the single-connection pool.
	c.Overwrites, err = db.Overwrites(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Overwrites returns the channel's overwrites. It never returns nil, so the
// JSON form is [] rather than null.
func (db *DB) Overwrites(ctx context.Context, channelID snowflake.ID) ([]model.PermissionOverwrite, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT target_id, allow, deny FROM channel_overwrites
		 WHERE channel_id = ? ORDER BY target_id`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing overwrites of channel %s: %w", channelID, err)
	}
	defer rows.Close()

	overwrites := []model.PermissionOverwrite{}
	for rows.Next() {
		var o model.PermissionOverwrite
		if err := rows.Scan(&o.ID, &o.Allow, &o.Deny); err != nil {
			return nil, fmt.Errorf("sqlite: scanning overwrite row: %w", err)
		}
		o.Allow = o.Allow.Truncate()
		o.Deny = o.Deny.Truncate()
		overwrites = append(overwrites, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating overwrites: %w", err)
	}
	return overwrites, nil
}

// SetOverwrite is an upsert: a second call for the same target replaces the
// pair rather than merging it.
func (db *DB) SetOverwrite(ctx context.Context, channelID snowflake.ID, overwrite model.PermissionOverwrite) error {
	return upsertOverwrite(ctx, db.conn, channelID, overwrite)
}

// DeleteChannel shifts every later channel in the guild up one position
// before dropping the row. Overwrites and messages cascade.
func (db *DB) DeleteChannel(ctx context.Context, id snowflake.ID) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE channels SET position = position - 1
			 WHERE guild_id = (SELECT guild_id FROM channels WHERE id = ?)
			   AND position > (SELECT position FROM channels WHERE id = ?)`,
			id, id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: shifting channel positions: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting channel %s: %w", id, err)
		}
		return expectOneRow(result, apperror.NotFound("channel", id))
	})
}

func insertChannel(ctx context.Context, q querier, c *model.GuildChannel) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO channels (id, guild_id, type, name, position, parent_id, topic, nsfw, locked, slowmode, user_limit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.GuildID,
		c.Type,
		c.Name,
		c.Position,
		c.ParentID,
		c.Topic,
		c.NSFW,
		c.Locked,
		c.Slowmode,
		c.UserLimit,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting channel %s: %w", c.ID, err)
	}

	for _, o := range c.Overwrites {
		if err := upsertOverwrite(ctx, q, c.ID, o); err != nil {
			return err
		}
	}
	return nil
}

func upsertOverwrite(ctx context.Context, q querier, channelID snowflake.ID, o model.PermissionOverwrite) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO channel_overwrites (channel_id, target_id, allow, deny)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (channel_id, target_id) DO UPDATE SET allow = excluded.allow, deny = excluded.deny`,
		channelID, o.ID, o.Allow, o.Deny,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting overwrite %s on channel %s: %w", o.ID, channelID, err)
	}
	return nil
}
