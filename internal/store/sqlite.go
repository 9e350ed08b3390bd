// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user, token hash, and guild membership persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. The path ":memory:" opens a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// foreign_keys is per-connection, so it goes in the DSN to cover the whole pool
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			flags      INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_tokens (
			user_id    TEXT PRIMARY KEY,
			token_hash BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS guilds (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES users(id)
		);

		CREATE TABLE IF NOT EXISTS guild_members (
			guild_id  TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id),
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_guild_members_user ON guild_members(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation checks if the error references a missing parent row
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// CreateUser inserts a user. Returns ErrDuplicate if the ID is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, flags, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, int64(u.Flags), u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", u.ID, "name", u.Name)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id snowflake.ID) (*User, error) {
	var u User
	var flags int64
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, flags, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &flags, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.Flags = uint64(flags)
	u.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// SetTokenHash stores or replaces the token hash for a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SetTokenHash(ctx context.Context, userID snowflake.ID, hash []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (user_id, token_hash, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET token_hash = excluded.token_hash, updated_at = excluded.updated_at
	`, userID, hash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storing token hash: %w", err)
	}
	return nil
}

// GetTokenHash returns the stored token hash for a user.
// Returns ErrNotFound if the user has no token.
func (s *SQLiteStore) GetTokenHash(ctx context.Context, userID snowflake.ID) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash FROM user_tokens WHERE user_id = ?`, userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token hash: %w", err)
	}
	return hash, nil
}

// CreateGuild inserts a guild and its owner's membership in one transaction.
func (s *SQLiteStore) CreateGuild(ctx context.Context, g *Guild) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	created := g.CreatedAt.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guilds (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`,
		g.ID, g.OwnerID, g.Name, created,
	); err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrDuplicate
		case isForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("inserting guild: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guild_members (guild_id, user_id, joined_at) VALUES (?, ?, ?)`,
		g.ID, g.OwnerID, created,
	); err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing guild: %w", err)
	}

	s.logger.Debug("created guild", "id", g.ID, "owner_id", g.OwnerID)
	return nil
}

// DeleteGuild removes a guild and, by cascade, its memberships.
// Returns ErrNotFound if the guild doesn't exist.
func (s *SQLiteStore) DeleteGuild(ctx context.Context, id snowflake.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting guild: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember adds a user to a guild. Adding an existing member is a no-op.
// Returns ErrNotFound if either the guild or the user doesn't exist.
func (s *SQLiteStore) AddMember(ctx context.Context, guildID, userID snowflake.ID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO guild_members (guild_id, user_id, joined_at) VALUES (?, ?, ?)`,
		guildID, userID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a guild.
// Returns ErrNotFound if the user was not a member.
func (s *SQLiteStore) RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM guild_members WHERE guild_id = ? AND user_id = ?`, guildID, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserGuilds returns the guilds a user belongs to. A user with no
// memberships yields an empty slice, not an error.
func (s *SQLiteStore) ListUserGuilds(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	return s.listIDs(ctx, `SELECT guild_id FROM guild_members WHERE user_id = ?`, userID)
}

// ListGuildMembers returns the users belonging to a guild.
func (s *SQLiteStore) ListGuildMembers(ctx context.Context, guildID snowflake.ID) ([]snowflake.ID, error) {
	return s.listIDs(ctx, `SELECT user_id FROM guild_members WHERE guild_id = ?`, guildID)
}

func (s *SQLiteStore) listIDs(ctx context.Context, query string, arg snowflake.ID) ([]snowflake.ID, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	ids := []snowflake.ID{}
	for rows.Next() {
		var id snowflake.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}
	return ids, nil
}
