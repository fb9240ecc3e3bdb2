// Package sqlite implements the repository interfaces on an embedded SQLite
// database.
//
// WHY SQLITE?
// One node, one file, no server to run. The relational side of this system
// is small (accounts, guilds, roles, channels, invites, messages) and most
// hot reads go through the cache anyway.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without a C
// toolchain and cross-compiles like any other Go program.
//
// SNOWFLAKES AS INTEGER:
// snowflake.ID implements driver.Valuer and sql.Scanner, so IDs go in and
// come out of INTEGER columns without manual conversion at every call site.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// The driver registers itself as "sqlite" in its init(). We also use its
	// error type to recognise constraint violations.
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// querier is what both *sql.DB and *sql.Tx offer, so helpers can run inside
// or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/essence.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ONE CONNECTION:
	// PRAGMAs are per connection, and every connection to ":memory:" is a
	// brand new empty database. SQLite serialises writers anyway, so a
	// single connection costs little and keeps both problems away.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. Guild-owned rows cascade
	// away with their guild, so we need them on.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// withTx runs fn in a transaction, committing if it returns nil and rolling
// back otherwise.
//
// Inside fn, use ONLY tx. With a single connection, touching db.conn while
// the transaction holds it would block forever.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// migrate creates every table.
//
// CREATE TABLE IF NOT EXISTS makes this safe to run on every start. There is
// no migration history; a schema change means a new statement here that is
// itself idempotent.
func (db *DB) migrate() error {
	for _, m := range migrations {
		if _, err := db.conn.Exec(m.sql); err != nil {
			return fmt.Errorf("creating %s: %w", m.name, err)
		}
	}
	return nil
}

var migrations = []struct {
	name string
	sql  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id                     INTEGER PRIMARY KEY,
			username               TEXT NOT NULL,
			display_name           TEXT,
			avatar                 TEXT,
			banner                 TEXT,
			bio                    TEXT,
			flags                  INTEGER NOT NULL DEFAULT 0,
			email                  TEXT UNIQUE,
			password               TEXT NOT NULL,
			dm_privacy             INTEGER NOT NULL,
			group_dm_privacy       INTEGER NOT NULL,
			friend_request_privacy INTEGER NOT NULL
		);
	`},
	// seq orders a user's tokens by issue time. Token timestamps only have
	// millisecond resolution, so two logins can tie.
	{"tokens", `
		CREATE TABLE IF NOT EXISTS tokens (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			token   TEXT NOT NULL UNIQUE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_tokens_user_id ON tokens(user_id, seq);
	`},
	{"guilds", `
		CREATE TABLE IF NOT EXISTS guilds (
			id          INTEGER PRIMARY KEY,
			owner_id    INTEGER NOT NULL,
			name        TEXT NOT NULL,
			description TEXT,
			icon        TEXT,
			banner      TEXT,
			flags       INTEGER NOT NULL DEFAULT 0,
			vanity_url  TEXT UNIQUE
		);
	`},
	{"members", `
		CREATE TABLE IF NOT EXISTS members (
			guild_id  INTEGER NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			id        INTEGER NOT NULL,
			nick      TEXT,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (guild_id, id)
		);
	`},
	{"roles", `
		CREATE TABLE IF NOT EXISTS roles (
			id          INTEGER PRIMARY KEY,
			guild_id    INTEGER NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			color       INTEGER,
			allow       INTEGER NOT NULL DEFAULT 0,
			deny        INTEGER NOT NULL DEFAULT 0,
			position    INTEGER NOT NULL DEFAULT 0,
			flags       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_roles_guild_id ON roles(guild_id);
	`},
	// role_data only holds explicit assignments. The default role is implied.
	{"role_data", `
		CREATE TABLE IF NOT EXISTS role_data (
			guild_id INTEGER NOT NULL,
			user_id  INTEGER NOT NULL,
			role_id  INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			PRIMARY KEY (guild_id, user_id, role_id),
			FOREIGN KEY (guild_id, user_id) REFERENCES members(guild_id, id) ON DELETE CASCADE
		);
	`},
	{"channels", `
		CREATE TABLE IF NOT EXISTS channels (
			id         INTEGER PRIMARY KEY,
			guild_id   INTEGER NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			type       INTEGER NOT NULL,
			name       TEXT NOT NULL,
			position   INTEGER NOT NULL DEFAULT 0,
			parent_id  INTEGER,
			topic      TEXT,
			nsfw       BOOLEAN NOT NULL DEFAULT FALSE,
			locked     BOOLEAN NOT NULL DEFAULT FALSE,
			slowmode   INTEGER NOT NULL DEFAULT 0,
			user_limit INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_channels_guild_id ON channels(guild_id);
	`},
	{"channel_overwrites", `
		CREATE TABLE IF NOT EXISTS channel_overwrites (
			channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			target_id  INTEGER NOT NULL,
			allow      INTEGER NOT NULL DEFAULT 0,
			deny       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, target_id)
		);
	`},
	{"invites", `
		CREATE TABLE IF NOT EXISTS invites (
			code       TEXT PRIMARY KEY,
			guild_id   INTEGER NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			inviter_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			uses       INTEGER NOT NULL DEFAULT 0,
			max_uses   INTEGER NOT NULL DEFAULT 0,
			max_age    INTEGER NOT NULL DEFAULT 0
		);
	`},
	// mentions and embeds are JSON arrays; nothing queries inside them.
	{"messages", `
		CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY,
			channel_id  INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			author_id   INTEGER,
			type        INTEGER NOT NULL DEFAULT 0,
			content     TEXT,
			embeds      TEXT NOT NULL DEFAULT '[]',
			mentions    TEXT NOT NULL DEFAULT '[]',
			flags       INTEGER NOT NULL DEFAULT 0,
			stars       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages(channel_id, id);
	`},
	{"bans", `
		CREATE TABLE IF NOT EXISTS bans (
			guild_id     INTEGER NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
			user_id      INTEGER NOT NULL,
			moderator_id INTEGER NOT NULL,
			reason       TEXT,
			banned_at    DATETIME NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		);
	`},
}
