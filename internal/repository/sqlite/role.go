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

var _ repository.RoleRepository = (*DB)(nil)

const roleColumns = `id, guild_id, name, color, allow, deny, position, flags`

func (db *DB) CreateRole(ctx context.Context, role *model.Role) error {
	return insertRole(ctx, db.conn, role)
}

func (db *DB) GetRole(ctx context.Context, id snowflake.ID) (*model.Role, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = ?`, id)

	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("role", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting role %s: %w", id, err)
	}
	return role, nil
}

// MemberRoles returns the member's roles as the resolver wants them: the
// guild's default role, which every member has without a role_data row,
// plus every explicit assignment.
func (db *DB) MemberRoles(ctx context.Context, guildID, userID snowflake.ID) ([]model.Role, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles
		 WHERE id = ?
		    OR id IN (SELECT role_id FROM role_data WHERE guild_id = ? AND user_id = ?)`,
		model.DefaultRoleID(guildID), guildID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing roles of %s in guild %s: %w", userID, guildID, err)
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning role row: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating roles: %w", err)
	}
	return roles, nil
}

// AssignRole gives the member a role. Assigning a role twice is a no-op.
func (db *DB) AssignRole(ctx context.Context, guildID, userID, roleID snowflake.ID) error {
	return insertRoleAssignment(ctx, db.conn, guildID, userID, roleID)
}

func (db *DB) UpdateRole(ctx context.Context, role *model.Role) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE roles SET name = ?, color = ?, allow = ?, deny = ?, position = ?, flags = ?
		 WHERE id = ?`,
		role.Name,
		role.Color,
		role.Permissions.Allow,
		role.Permissions.Deny,
		role.Position,
		role.Flags,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating role %s: %w", role.ID, err)
	}
	return expectOneRow(result, apperror.NotFound("role", role.ID))
}

// DeleteRole removes the role; its role_data rows cascade.
func (db *DB) DeleteRole(ctx context.Context, id snowflake.ID) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting role %s: %w", id, err)
	}
	return expectOneRow(result, apperror.NotFound("role", id))
}

func insertRole(ctx context.Context, q querier, r *model.Role) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.GuildID,
		r.Name,
		r.Color,
		r.Permissions.Allow,
		r.Permissions.Deny,
		r.Position,
		r.Flags,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting role %s: %w", r.ID, err)
	}
	return nil
}

func insertRoleAssignment(ctx context.Context, q querier, guildID, userID, roleID snowflake.ID) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_data (guild_id, user_id, role_id) VALUES (?, ?, ?)`,
		guildID, userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: assigning role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*model.Role, error) {
	var r model.Role
	err := row.Scan(
		&r.ID,
		&r.GuildID,
		&r.Name,
		&r.Color,
		&r.Permissions.Allow,
		&r.Permissions.Deny,
		&r.Position,
		&r.Flags,
	)
	if err != nil {
		return nil, err
	}
	// Rows written by an older build may carry bits this one does not know.
	r.Permissions.Allow = r.Permissions.Allow.Truncate()
	r.Permissions.Deny = r.Permissions.Deny.Truncate()
	return &r, nil
}
