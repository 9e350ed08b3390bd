// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject backend failures

package store

import (
	"context"
	"sync"
	"time"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	users   map[snowflake.ID]*User
	tokens  map[snowflake.ID][]byte
	guilds  map[snowflake.ID]*Guild
	members map[snowflake.ID]map[snowflake.ID]struct{} // guild -> users

	// Err, when set, is returned by every read method.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:   make(map[snowflake.ID]*User),
		tokens:  make(map[snowflake.ID][]byte),
		guilds:  make(map[snowflake.ID]*Guild),
		members: make(map[snowflake.ID]map[snowflake.ID]struct{}),
	}
}

// CreateUser stores a copy of the user.
func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[u.ID]; exists {
		return ErrDuplicate
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	c := *u
	m.users[u.ID] = &c
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id snowflake.ID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// SetTokenHash stores the hash for an existing user.
func (m *MockStore) SetTokenHash(ctx context.Context, userID snowflake.ID, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	m.tokens[userID] = append([]byte(nil), hash...)
	return nil
}

// GetTokenHash returns the stored hash.
func (m *MockStore) GetTokenHash(ctx context.Context, userID snowflake.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	h, ok := m.tokens[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), h...), nil
}

// CreateGuild stores the guild and adds the owner as a member.
func (m *MockStore) CreateGuild(ctx context.Context, g *Guild) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.guilds[g.ID]; exists {
		return ErrDuplicate
	}
	if _, ok := m.users[g.OwnerID]; !ok {
		return ErrNotFound
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	c := *g
	m.guilds[g.ID] = &c
	m.members[g.ID] = map[snowflake.ID]struct{}{g.OwnerID: {}}
	return nil
}

// DeleteGuild removes the guild and its memberships.
func (m *MockStore) DeleteGuild(ctx context.Context, id snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.guilds[id]; !ok {
		return ErrNotFound
	}
	delete(m.guilds, id)
	delete(m.members, id)
	return nil
}

// AddMember adds a user to a guild.
func (m *MockStore) AddMember(ctx context.Context, guildID, userID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[guildID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	set[userID] = struct{}{}
	return nil
}

// RemoveMember removes a user from a guild.
func (m *MockStore) RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[guildID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := set[userID]; !ok {
		return ErrNotFound
	}
	delete(set, userID)
	return nil
}

// ListUserGuilds returns the guilds containing userID.
func (m *MockStore) ListUserGuilds(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	ids := []snowflake.ID{}
	for g, set := range m.members {
		if _, ok := set[userID]; ok {
			ids = append(ids, g)
		}
	}
	return ids, nil
}

// ListGuildMembers returns the users in a guild.
func (m *MockStore) ListGuildMembers(ctx context.Context, guildID snowflake.ID) ([]snowflake.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	ids := []snowflake.ID{}
	for u := range m.members[guildID] {
		ids = append(ids, u)
	}
	return ids, nil
}

// Ping reports Err, if set.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Err
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// SetErr sets the error returned by read methods.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
