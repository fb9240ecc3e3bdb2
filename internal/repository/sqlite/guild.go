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

var _ repository.GuildRepository = (*DB)(nil)

// CreateGuild stores a freshly built guild in one transaction: the guild row,
// then its roles, channels and members. If any insert fails nothing is left
// behind.
func (db *DB) CreateGuild(ctx context.Context, guild *model.Guild) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO guilds (id, owner_id, name, description, icon, banner, flags, vanity_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			guild.ID,
			guild.OwnerID,
			guild.Name,
			guild.Description,
			guild.Icon,
			guild.Banner,
			guild.Flags,
			guild.VanityURL,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.AlreadyTaken("vanity_url", "vanity URL")
			}
			return fmt.Errorf("sqlite: inserting guild %s: %w", guild.ID, err)
		}

		for i := range guild.Roles {
			if err := insertRole(ctx, tx, &guild.Roles[i]); err != nil {
				return err
			}
		}
		for i := range guild.Channels {
			if err := insertChannel(ctx, tx, &guild.Channels[i]); err != nil {
				return err
			}
		}
		for i := range guild.Members {
			if err := insertMember(ctx, tx, &guild.Members[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) GetGuild(ctx context.Context, id snowflake.ID) (*model.PartialGuild, error) {
	var g model.PartialGuild
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, icon, banner, flags, vanity_url
		 FROM guilds WHERE id = ?`,
		id,
	).Scan(&g.ID, &g.OwnerID, &g.Name, &g.Description, &g.Icon, &g.Banner, &g.Flags, &g.VanityURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("guild", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting guild %s: %w", id, err)
	}
	return &g, nil
}

// DeleteGuild relies on ON DELETE CASCADE for the guild's members, roles,
// channels, invites and bans.
func (db *DB) DeleteGuild(ctx context.Context, id snowflake.ID) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting guild %s: %w", id, err)
	}
	return expectOneRow(result, apperror.NotFound("guild", id))
}

// =========================================================================
// MEMBERS
// =========================================================================

func (db *DB) IsMember(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE guild_id = ? AND id = ?)`,
		guildID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking membership in guild %s: %w", guildID, err)
	}
	return exists, nil
}

// MemberIDs lists every member of the guild. It is what the cache's member
// set is rebuilt from.
func (db *DB) MemberIDs(ctx context.Context, guildID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM members WHERE guild_id = ? ORDER BY id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members of guild %s: %w", guildID, err)
	}
	defer rows.Close()

	var ids []snowflake.ID
	for rows.Next() {
		var id snowflake.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning member row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating members: %w", err)
	}
	return ids, nil
}

func (db *DB) AddMember(ctx context.Context, member *model.Member) error {
	return insertMember(ctx, db.conn, member)
}

// RemoveMember deletes the membership; role assignments cascade with it.
func (db *DB) RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM members WHERE guild_id = ? AND id = ?`, guildID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: removing member %s from guild %s: %w", userID, guildID, err)
	}
	return expectOneRow(result, apperror.NotFound("member", userID))
}

// insertMember stores the member and its explicit role assignments.
func insertMember(ctx context.Context, q querier, m *model.Member) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO members (guild_id, id, nick, joined_at) VALUES (?, ?, ?, ?)`,
		m.GuildID, m.UserID, m.Nick, m.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("User is already a member of this guild.")
		}
		return fmt.Errorf("sqlite: inserting member %s: %w", m.UserID, err)
	}

	for _, roleID := range m.Roles {
		if err := insertRoleAssignment(ctx, q, m.GuildID, m.UserID, roleID); err != nil {
			return err
		}
	}
	return nil
}

// =========================================================================
// BANS
// =========================================================================

// BanMember records the ban and drops the membership, if any. Banning a
// user who already left still records the ban.
func (db *DB) BanMember(ctx context.Context, ban *model.GuildBan) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bans (guild_id, user_id, moderator_id, reason, banned_at)
			 VALUES (?, ?, ?, ?, ?)`,
			ban.GuildID, ban.UserID, ban.ModeratorID, ban.Reason, ban.BannedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("User is already banned from this guild.")
			}
			return fmt.Errorf("sqlite: inserting ban: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM members WHERE guild_id = ? AND id = ?`, ban.GuildID, ban.UserID)
		if err != nil {
			return fmt.Errorf("sqlite: removing banned member: %w", err)
		}
		return nil
	})
}

func (db *DB) IsBanned(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	var banned bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bans WHERE guild_id = ? AND user_id = ?)`,
		guildID, userID,
	).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking ban in guild %s: %w", guildID, err)
	}
	return banned, nil
}

func (db *DB) RemoveBan(ctx context.Context, guildID, userID snowflake.ID) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM bans WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: removing ban in guild %s: %w", guildID, err)
	}
	return expectOneRow(result, apperror.NotFound("ban for user", userID))
}
