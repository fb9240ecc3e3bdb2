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

// compile-time checks that *DB implements the account repositories
var (
	_ repository.UserRepository  = (*DB)(nil)
	_ repository.TokenRepository = (*DB)(nil)
)

const userColumns = `id, username, display_name, avatar, banner, bio, flags,
	email, password, dm_privacy, group_dm_privacy, friend_request_privacy`

// CreateUser inserts a new account. The caller allocates the ID.
//
// The UNIQUE constraint on email is the source of truth for "email taken";
// checking first and inserting second would race with a concurrent signup.
func (db *DB) CreateUser(ctx context.Context, user *model.ClientUser) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.DisplayName,
		user.Avatar,
		user.Banner,
		user.Bio,
		user.Flags,
		user.Email,
		user.PasswordHash,
		user.DMPrivacy,
		user.GroupDMPrivacy,
		user.FriendRequestPrivacy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.AlreadyTaken("email", "email")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
	}
	return nil
}

// GetUser retrieves an account by ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUser(ctx context.Context, id snowflake.ID) (*model.ClientUser, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetUserByEmail is the login lookup.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.ClientUser, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundCode("user with email", email)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

func (db *DB) UpdateEmail(ctx context.Context, id snowflake.ID, email string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET email = ? WHERE id = ?`, email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.AlreadyTaken("email", "email")
		}
		return fmt.Errorf("sqlite: updating email of user %s: %w", id, err)
	}
	return expectOneRow(result, apperror.NotFound("user", id))
}

func (db *DB) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, display_name = ?, avatar = ?, banner = ?, bio = ?
		 WHERE id = ?`,
		user.Username, user.DisplayName, user.Avatar, user.Banner, user.Bio, user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile of user %s: %w", user.ID, err)
	}
	return expectOneRow(result, apperror.NotFound("user", user.ID))
}

func scanUser(row rowScanner) (*model.ClientUser, error) {
	var u model.ClientUser
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.Avatar,
		&u.Banner,
		&u.Bio,
		&u.Flags,
		&u.Email,
		&u.PasswordHash,
		&u.DMPrivacy,
		&u.GroupDMPrivacy,
		&u.FriendRequestPrivacy,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// expectOneRow turns "the WHERE clause matched nothing" into notFound.
func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// =========================================================================
// TOKENS
// =========================================================================

func (db *DB) CreateToken(ctx context.Context, userID snowflake.ID, token string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tokens (token, user_id) VALUES (?, ?)`, token, userID)
	if err != nil {
		return fmt.Errorf("sqlite: storing token for user %s: %w", userID, err)
	}
	return nil
}

// TokenOwner joins through to the user so Authenticate can learn the
// account flags in the same round trip.
func (db *DB) TokenOwner(ctx context.Context, token string) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.display_name, u.avatar, u.banner, u.bio, u.flags
		 FROM tokens t JOIN users u ON u.id = t.user_id
		 WHERE t.token = ?`,
		token,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.Avatar, &u.Banner, &u.Bio, &u.Flags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.InvalidToken()
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: looking up token: %w", err)
	}
	return &u, nil
}

func (db *DB) LatestToken(ctx context.Context, userID snowflake.ID) (string, error) {
	var token string
	err := db.conn.QueryRowContext(ctx,
		`SELECT token FROM tokens WHERE user_id = ? ORDER BY seq DESC LIMIT 1`,
		userID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperror.NotFound("token for user", userID)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: latest token for user %s: %w", userID, err)
	}
	return token, nil
}

func (db *DB) DeleteToken(ctx context.Context, token string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("sqlite: deleting token: %w", err)
	}
	return expectOneRow(result, apperror.InvalidToken())
}

func (db *DB) DeleteTokens(ctx context.Context, userID snowflake.ID) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting tokens of user %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
