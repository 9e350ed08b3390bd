// ABOUTME: Sharded index of identified sessions by user and by guild
// ABOUTME: Concurrent-safe; lookups return copies so callers never hold shard locks

package session

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/snowflake"
)

var (
	// ErrAlreadyIdentified is returned when a session registers twice.
	ErrAlreadyIdentified = errors.New("session already identified")
	// ErrSessionClosed is returned when registering a session that was already unregistered.
	ErrSessionClosed = errors.New("session closed")
)

// DefaultShards is used when NewRegistry is given a non-positive shard count.
const DefaultShards = 32

type sessionSet map[*Session]struct{}

type shard struct {
	mu     sync.RWMutex
	users  map[snowflake.ID]sessionSet
	guilds map[snowflake.ID]sessionSet
}

// Registry maps user IDs and guild IDs to live identified sessions.
//
// Lock order: a session's mu is always taken before any shard mu. Lookups
// take only shard locks and release them before touching sessions.
type Registry struct {
	shards []*shard
	logger *slog.Logger
}

// NewRegistry creates a registry with n shards.
func NewRegistry(n int, logger *slog.Logger) *Registry {
	if n <= 0 {
		n = DefaultShards
	}
	r := &Registry{
		shards: make([]*shard, n),
		logger: logger.With("component", "registry"),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			users:  make(map[snowflake.ID]sessionSet),
			guilds: make(map[snowflake.ID]sessionSet),
		}
	}
	return r
}

func (r *Registry) shardFor(id snowflake.ID) *shard {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return r.shards[xxhash.Sum64(b[:])%uint64(len(r.shards))]
}

func addTo(index map[snowflake.ID]sessionSet, id snowflake.ID, s *Session) {
	set, ok := index[id]
	if !ok {
		set = make(sessionSet)
		index[id] = set
	}
	set[s] = struct{}{}
}

func removeFrom(index map[snowflake.ID]sessionSet, id snowflake.ID, s *Session) {
	set, ok := index[id]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(index, id)
	}
}

// Register identifies the session as userID with the given intents and
// indexes it under the user and each guild. A session registers at most once.
func (r *Registry) Register(s *Session, userID snowflake.ID, intents protocol.Intents, guildIDs []snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return ErrSessionClosed
	}
	if s.Identified() {
		return ErrAlreadyIdentified
	}

	s.userID = userID
	s.intents = intents
	for _, g := range guildIDs {
		s.guilds[g] = struct{}{}
	}

	sh := r.shardFor(userID)
	sh.mu.Lock()
	addTo(sh.users, userID, s)
	sh.mu.Unlock()

	for g := range s.guilds {
		gs := r.shardFor(g)
		gs.mu.Lock()
		addTo(gs.guilds, g, s)
		gs.mu.Unlock()
	}

	s.markIdentified()
	r.logger.Debug("session registered",
		"conn_id", s.ID,
		"user_id", userID,
		"guilds", len(s.guilds),
		"intents", uint64(intents),
	)
	return nil
}

// Unregister removes the session from every index. It is idempotent and safe
// to call for sessions that never identified.
func (r *Registry) Unregister(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return
	}
	s.removed = true
	if !s.Identified() {
		return
	}

	sh := r.shardFor(s.userID)
	sh.mu.Lock()
	removeFrom(sh.users, s.userID, s)
	sh.mu.Unlock()

	for g := range s.guilds {
		gs := r.shardFor(g)
		gs.mu.Lock()
		removeFrom(gs.guilds, g, s)
		gs.mu.Unlock()
	}

	r.logger.Debug("session unregistered", "conn_id", s.ID, "user_id", s.userID)
}

func snapshot(set sessionSet) []*Session {
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Lookup returns the live sessions of a user.
func (r *Registry) Lookup(userID snowflake.ID) []*Session {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return snapshot(sh.users[userID])
}

// LookupGuild returns the live sessions indexed under a guild.
func (r *Registry) LookupGuild(guildID snowflake.ID) []*Session {
	sh := r.shardFor(guildID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return snapshot(sh.guilds[guildID])
}

// JoinGuild indexes every live session of userID under guildID.
func (r *Registry) JoinGuild(userID, guildID snowflake.ID) {
	gs := r.shardFor(guildID)
	for _, s := range r.Lookup(userID) {
		s.mu.Lock()
		if !s.removed {
			s.guilds[guildID] = struct{}{}
			gs.mu.Lock()
			addTo(gs.guilds, guildID, s)
			gs.mu.Unlock()
		}
		s.mu.Unlock()
	}
}

// LeaveGuild removes every session of userID from guildID's index.
func (r *Registry) LeaveGuild(userID, guildID snowflake.ID) {
	gs := r.shardFor(guildID)
	for _, s := range r.Lookup(userID) {
		s.mu.Lock()
		if !s.removed {
			delete(s.guilds, guildID)
			gs.mu.Lock()
			removeFrom(gs.guilds, guildID, s)
			gs.mu.Unlock()
		}
		s.mu.Unlock()
	}
}

// DropGuild removes a guild from the index entirely.
func (r *Registry) DropGuild(guildID snowflake.ID) {
	gs := r.shardFor(guildID)
	gs.mu.Lock()
	members := snapshot(gs.guilds[guildID])
	delete(gs.guilds, guildID)
	gs.mu.Unlock()

	for _, s := range members {
		s.mu.Lock()
		delete(s.guilds, guildID)
		s.mu.Unlock()
	}
}

// Recipients resolves a target to the deduplicated set of live sessions.
func (r *Registry) Recipients(t protocol.Target) []*Session {
	seen := make(sessionSet)
	var out []*Session
	add := func(list []*Session) {
		for _, s := range list {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	if t.GuildID != nil {
		add(r.LookupGuild(*t.GuildID))
	}
	for _, uid := range t.UserIDs {
		add(r.Lookup(uid))
	}
	return out
}

// Apply performs a membership update carried by an event.
func (r *Registry) Apply(m protocol.Membership) {
	switch m.Op {
	case protocol.MembershipJoin:
		r.JoinGuild(m.UserID, m.GuildID)
	case protocol.MembershipLeave:
		r.LeaveGuild(m.UserID, m.GuildID)
	case protocol.MembershipDrop:
		r.DropGuild(m.GuildID)
	default:
		r.logger.Warn("ignoring unknown membership op", "op", m.Op)
	}
}

// Sessions returns every identified session.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, set := range sh.users {
			for s := range set {
				out = append(out, s)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Stats summarizes the registry contents.
type Stats struct {
	Sessions int `json:"sessions"`
	Users    int `json:"users"`
	Guilds   int `json:"guilds"`
}

// Stats counts indexed sessions, users, and guilds.
func (r *Registry) Stats() Stats {
	var st Stats
	for _, sh := range r.shards {
		sh.mu.RLock()
		st.Users += len(sh.users)
		st.Guilds += len(sh.guilds)
		for _, set := range sh.users {
			st.Sessions += len(set)
		}
		sh.mu.RUnlock()
	}
	return st
}
