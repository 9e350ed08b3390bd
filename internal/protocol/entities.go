// ABOUTME: Immutable snapshots of entities owned by the request-serving tier
// ABOUTME: Attached to outbound events; the gateway never mutates them

package protocol

import (
	"time"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// User is a platform account.
type User struct {
	ID     snowflake.ID `json:"id"`
	Name   string       `json:"name"`
	Avatar *string      `json:"avatar,omitempty"`
	Flags  uint64       `json:"flags"`
}

// Guild is a community with channels, roles, and members.
type Guild struct {
	ID       snowflake.ID `json:"id"`
	OwnerID  snowflake.ID `json:"owner_id"`
	Name     string       `json:"name"`
	Avatar   *string      `json:"avatar,omitempty"`
	Flags    uint64       `json:"flags"`
	Channels []Channel    `json:"channels,omitempty"`
	Members  []Member     `json:"members,omitempty"`
	Roles    []Role       `json:"roles,omitempty"`
}

// Channel is a text channel inside a guild.
type Channel struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id"`
	Name    string       `json:"name"`
}

// Role is a named permission set inside a guild.
type Role struct {
	ID          snowflake.ID `json:"id"`
	GuildID     snowflake.ID `json:"guild_id"`
	Name        string       `json:"name"`
	Color       *int32       `json:"color,omitempty"`
	Position    int32        `json:"position"`
	Permissions uint64       `json:"permissions"`
}

// Member links a user to a guild.
type Member struct {
	GuildID snowflake.ID `json:"guild_id"`
	UserID  snowflake.ID `json:"user_id"`
	User    *User        `json:"user,omitempty"`
}

// Invite is a join code for a guild.
type Invite struct {
	Code      string       `json:"code"`
	OwnerID   snowflake.ID `json:"owner_id"`
	GuildID   snowflake.ID `json:"guild_id"`
	CreatedAt int64        `json:"created_at"`
	Uses      int32        `json:"uses"`
	MaxUses   *int32       `json:"max_uses,omitempty"`
	MaxAge    *int64       `json:"max_age,omitempty"`
}

// Message is a chat message posted to a channel.
type Message struct {
	ID        snowflake.ID `json:"id"`
	ChannelID snowflake.ID `json:"channel_id"`
	AuthorID  snowflake.ID `json:"author_id"`
	Content   *string      `json:"content,omitempty"`
	EditedAt  *time.Time   `json:"edited_at,omitempty"`
}
