// ABOUTME: Store interface and data types for gateway persistence
// ABOUTME: Users, stored token hashes, guilds, and guild membership

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose ID already exists
var ErrDuplicate = errors.New("already exists")

// User is an account that may connect to the gateway
type User struct {
	ID        snowflake.ID
	Name      string
	Flags     uint64
	CreatedAt time.Time
}

// Guild is the membership unit events are routed by
type Guild struct {
	ID        snowflake.ID
	OwnerID   snowflake.ID
	Name      string
	CreatedAt time.Time
}

// Store is the persistence surface the gateway reads during the handshake.
// The request-serving tier owns these tables; the write methods exist for
// bootstrap tooling and tests.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)

	// SetTokenHash replaces the stored bcrypt hash for a user's gateway token.
	SetTokenHash(ctx context.Context, userID snowflake.ID, hash []byte) error
	GetTokenHash(ctx context.Context, userID snowflake.ID) ([]byte, error)

	// CreateGuild stores the guild and adds its owner as the first member.
	CreateGuild(ctx context.Context, g *Guild) error
	DeleteGuild(ctx context.Context, id snowflake.ID) error
	AddMember(ctx context.Context, guildID, userID snowflake.ID) error
	RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error

	ListUserGuilds(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
	ListGuildMembers(ctx context.Context, guildID snowflake.ID) ([]snowflake.ID, error)

	Ping(ctx context.Context) error
	Close() error
}
