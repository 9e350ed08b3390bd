// ABOUTME: Gateway-to-client events, their recipients, and the fan-out wire form
// ABOUTME: Constructors pair each event type with its payload and default target

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// EventType tags an outbound event on the wire.
type EventType string

const (
	EventGuildCreate   EventType = "GuildCreate"
	EventGuildUpdate   EventType = "GuildUpdate"
	EventGuildDelete   EventType = "GuildDelete"
	EventChannelCreate EventType = "ChannelCreate"
	EventChannelUpdate EventType = "ChannelUpdate"
	EventChannelDelete EventType = "ChannelDelete"
	EventRoleCreate    EventType = "RoleCreate"
	EventRoleUpdate    EventType = "RoleUpdate"
	EventRoleDelete    EventType = "RoleDelete"
	EventMemberCreate  EventType = "MemberCreate"
	EventMemberDelete  EventType = "MemberDelete"
	EventInviteCreate  EventType = "InviteCreate"
	EventInviteDelete  EventType = "InviteDelete"
	EventMessageCreate EventType = "MessageCreate"
	EventMessageUpdate EventType = "MessageUpdate"
	EventMessageDelete EventType = "MessageDelete"
	EventUserUpdate    EventType = "UserUpdate"
	EventPing          EventType = "Ping"
	EventPong          EventType = "Pong"
)

var requiredIntents = map[EventType]Intents{
	EventGuildCreate:   IntentGuilds,
	EventGuildUpdate:   IntentGuilds,
	EventGuildDelete:   IntentGuilds,
	EventChannelCreate: IntentGuilds,
	EventChannelUpdate: IntentGuilds,
	EventChannelDelete: IntentGuilds,
	EventRoleCreate:    IntentGuilds,
	EventRoleUpdate:    IntentGuilds,
	EventRoleDelete:    IntentGuilds,
	EventMemberCreate:  IntentGuildMembers,
	EventMemberDelete:  IntentGuildMembers,
	EventInviteCreate:  IntentGuildInvites,
	EventInviteDelete:  IntentGuildInvites,
	EventMessageCreate: IntentGuildMessages,
	EventMessageUpdate: IntentGuildMessages,
	EventMessageDelete: IntentGuildMessages,
	EventUserUpdate:    IntentUsers,
	EventPing:          0,
	EventPong:          0,
}

// Known reports whether t is part of the outbound catalog.
func (t EventType) Known() bool {
	_, ok := requiredIntents[t]
	return ok
}

// RequiredIntent returns the intent bit a session must hold to receive t.
func (t EventType) RequiredIntent() Intents {
	return requiredIntents[t]
}

var (
	ErrUnknownEventType = errors.New("unknown outbound event type")
	ErrNoRecipients     = errors.New("event has no recipients")
)

// MembershipOp is a registry update carried alongside an event.
type MembershipOp string

const (
	// MembershipJoin indexes the user under the guild before delivery.
	MembershipJoin MembershipOp = "join"
	// MembershipLeave removes the user from the guild after delivery.
	MembershipLeave MembershipOp = "leave"
	// MembershipDrop removes the whole guild from the index after delivery.
	MembershipDrop MembershipOp = "drop"
)

// Membership tells every gateway node how to update its guild index.
type Membership struct {
	Op      MembershipOp `json:"op"`
	GuildID snowflake.ID `json:"guild_id"`
	UserID  snowflake.ID `json:"user_id,omitzero"`
}

// Target names the sessions an event is routed to. Recipients are the union
// of the guild's indexed members and the listed users.
type Target struct {
	GuildID    *snowflake.ID  `json:"guild_id,omitempty"`
	UserIDs    []snowflake.ID `json:"user_ids,omitempty"`
	Membership *Membership    `json:"membership,omitempty"`
}

// Empty reports whether the target addresses nobody.
func (t Target) Empty() bool {
	return t.GuildID == nil && len(t.UserIDs) == 0
}

// Outbound is one event bound for connected clients.
type Outbound struct {
	Type   EventType
	Data   any
	Target Target
}

// Validate checks that the event can be published.
func (o Outbound) Validate() error {
	if !o.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, o.Type)
	}
	if o.Target.Empty() {
		return fmt.Errorf("%s: %w", o.Type, ErrNoRecipients)
	}
	return nil
}

type clientFrame struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// EncodeFrame renders the client-facing text frame {"event":...,"data":...}.
func (o Outbound) EncodeFrame() ([]byte, error) {
	data, err := json.Marshal(clientFrame{Event: o.Type, Data: o.Data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", o.Type, err)
	}
	return data, nil
}

type bridgeFrame struct {
	Event  EventType       `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Target Target          `json:"target"`
}

// EncodeBridge renders the fan-out message: the client frame plus its target.
func (o Outbound) EncodeBridge() ([]byte, error) {
	f := bridgeFrame{Event: o.Type, Target: o.Target}
	if o.Data != nil {
		raw, err := json.Marshal(o.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", o.Type, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// DecodeBridge parses a fan-out message. The payload stays raw so it is
// forwarded to clients byte-for-byte.
func DecodeBridge(data []byte) (Outbound, error) {
	var f bridgeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Outbound{}, fmt.Errorf("decoding bridge message: %w", err)
	}
	o := Outbound{Type: f.Event, Target: f.Target}
	if len(f.Data) > 0 {
		o.Data = f.Data
	}
	if err := o.Validate(); err != nil {
		return Outbound{}, err
	}
	return o, nil
}

// Pong is the reply to a client Ping.
func PongEvent() Outbound { return Outbound{Type: EventPong} }

// PingEvent is the gateway heartbeat probe.
func PingEvent() Outbound { return Outbound{Type: EventPing} }

func guildTarget(id snowflake.ID) Target {
	return Target{GuildID: &id}
}

// GuildCreate is delivered to the owner, who is indexed as a member first.
func GuildCreate(g Guild) Outbound {
	t := guildTarget(g.ID)
	t.Membership = &Membership{Op: MembershipJoin, GuildID: g.ID, UserID: g.OwnerID}
	return Outbound{Type: EventGuildCreate, Data: g, Target: t}
}

func GuildUpdate(g Guild) Outbound {
	return Outbound{Type: EventGuildUpdate, Data: g, Target: guildTarget(g.ID)}
}

// GuildDelete reaches every member, then the guild is dropped from the index.
func GuildDelete(g Guild) Outbound {
	t := guildTarget(g.ID)
	t.Membership = &Membership{Op: MembershipDrop, GuildID: g.ID}
	return Outbound{Type: EventGuildDelete, Data: g, Target: t}
}

func ChannelCreate(c Channel) Outbound {
	return Outbound{Type: EventChannelCreate, Data: c, Target: guildTarget(c.GuildID)}
}

func ChannelUpdate(c Channel) Outbound {
	return Outbound{Type: EventChannelUpdate, Data: c, Target: guildTarget(c.GuildID)}
}

func ChannelDelete(c Channel) Outbound {
	return Outbound{Type: EventChannelDelete, Data: c, Target: guildTarget(c.GuildID)}
}

func RoleCreate(r Role) Outbound {
	return Outbound{Type: EventRoleCreate, Data: r, Target: guildTarget(r.GuildID)}
}

func RoleUpdate(r Role) Outbound {
	return Outbound{Type: EventRoleUpdate, Data: r, Target: guildTarget(r.GuildID)}
}

func RoleDelete(r Role) Outbound {
	return Outbound{Type: EventRoleDelete, Data: r, Target: guildTarget(r.GuildID)}
}

// MemberCreate indexes the joining user before delivery so they see it too.
func MemberCreate(m Member) Outbound {
	t := guildTarget(m.GuildID)
	t.Membership = &Membership{Op: MembershipJoin, GuildID: m.GuildID, UserID: m.UserID}
	return Outbound{Type: EventMemberCreate, Data: m, Target: t}
}

// MemberDelete reaches the departing user too; they are unindexed afterwards.
func MemberDelete(m Member) Outbound {
	t := guildTarget(m.GuildID)
	t.Membership = &Membership{Op: MembershipLeave, GuildID: m.GuildID, UserID: m.UserID}
	return Outbound{Type: EventMemberDelete, Data: m, Target: t}
}

func InviteCreate(i Invite) Outbound {
	return Outbound{Type: EventInviteCreate, Data: i, Target: guildTarget(i.GuildID)}
}

func InviteDelete(i Invite) Outbound {
	return Outbound{Type: EventInviteDelete, Data: i, Target: guildTarget(i.GuildID)}
}

func MessageCreate(guildID snowflake.ID, m Message) Outbound {
	return Outbound{Type: EventMessageCreate, Data: m, Target: guildTarget(guildID)}
}

func MessageUpdate(guildID snowflake.ID, m Message) Outbound {
	return Outbound{Type: EventMessageUpdate, Data: m, Target: guildTarget(guildID)}
}

func MessageDelete(guildID snowflake.ID, m Message) Outbound {
	return Outbound{Type: EventMessageDelete, Data: m, Target: guildTarget(guildID)}
}

// UserUpdate goes to the user's own sessions plus any explicitly listed
// users who share a guild with them.
func UserUpdate(u User, alsoNotify ...snowflake.ID) Outbound {
	ids := append([]snowflake.ID{u.ID}, alsoNotify...)
	return Outbound{Type: EventUserUpdate, Data: u, Target: Target{UserIDs: ids}}
}
