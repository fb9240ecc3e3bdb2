package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/essence/internal/apperror"
	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/repository"
)

var _ repository.InviteRepository = (*DB)(nil)

func (db *DB) CreateInvite(ctx context.Context, invite *model.Invite) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO invites (code, guild_id, inviter_id, created_at, uses, max_uses, max_age)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		invite.Code,
		invite.GuildID,
		invite.InviterID,
		invite.CreatedAt,
		invite.Uses,
		invite.MaxUses,
		invite.MaxAge,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.AlreadyTaken("code", "invite code")
		}
		return fmt.Errorf("sqlite: inserting invite %q: %w", invite.Code, err)
	}
	return nil
}

func (db *DB) GetInvite(ctx context.Context, code string) (*model.Invite, error) {
	return getInvite(ctx, db.conn, code)
}

// RedeemInvite is the whole join-by-invite write.
//
// The use is taken with a guarded UPDATE rather than a read-then-write, so
// two redemptions racing for the last use cannot both see it free. The
// member insert carries the ban check for the same reason.
func (db *DB) RedeemInvite(ctx context.Context, code string, member *model.Member, now time.Time) (*model.Invite, error) {
	var (
		redeemed *model.Invite
		expired  bool
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		inv, err := getInvite(ctx, tx, code)
		if err != nil {
			return err
		}
		if inv.Expired(now) {
			expired = true
			return deleteInvite(ctx, tx, code)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE invites SET uses = uses + 1
			 WHERE code = ? AND (max_uses = 0 OR uses < max_uses)`,
			code,
		)
		if err != nil {
			return fmt.Errorf("sqlite: counting use of invite %q: %w", code, err)
		}
		if err := expectOneRow(result, apperror.NotFoundCode("invite", code)); err != nil {
			return err
		}
		inv.Uses++

		member.GuildID = inv.GuildID
		result, err = tx.ExecContext(ctx,
			`INSERT INTO members (guild_id, id, nick, joined_at)
			 SELECT ?, ?, ?, ?
			 WHERE NOT EXISTS (SELECT 1 FROM bans WHERE guild_id = ? AND user_id = ?)`,
			member.GuildID, member.UserID, member.Nick, member.JoinedAt,
			member.GuildID, member.UserID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("User is already a member of this guild.")
			}
			return fmt.Errorf("sqlite: inserting member %s: %w", member.UserID, err)
		}
		if err := expectOneRow(result, apperror.Forbidden("You are banned from this guild.")); err != nil {
			return err
		}

		if inv.MaxUses != 0 && inv.Uses >= inv.MaxUses {
			if err := deleteInvite(ctx, tx, code); err != nil {
				return err
			}
		}
		redeemed = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, apperror.NotFoundCode("invite", code)
	}
	return redeemed, nil
}

func (db *DB) DeleteInvite(ctx context.Context, code string) error {
	return deleteInvite(ctx, db.conn, code)
}

func getInvite(ctx context.Context, q querier, code string) (*model.Invite, error) {
	var inv model.Invite
	err := q.QueryRowContext(ctx,
		`SELECT code, guild_id, inviter_id, created_at, uses, max_uses, max_age
		 FROM invites WHERE code = ?`,
		code,
	).Scan(
		&inv.Code,
		&inv.GuildID,
		&inv.InviterID,
		&inv.CreatedAt,
		&inv.Uses,
		&inv.MaxUses,
		&inv.MaxAge,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundCode("invite", code)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting invite %q: %w", code, err)
	}
	return &inv, nil
}

func deleteInvite(ctx context.Context, q querier, code string) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM invites WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("sqlite: deleting invite %q: %w", code, err)
	}
	return expectOneRow(result, apperror.NotFoundCode("invite", code))
}
