// Package protocol defines the gateway's wire vocabulary.
//
// # Inbound
//
// Clients send JSON text frames tagged by an "event" field:
//
//	{"event":"Identify","token":"...","intents":0}
//	{"event":"Ping"}
//	{"event":"Pong"}
//
// DecodeInbound returns one of Identify, Ping, or Pong. Anything else is a
// decode error that the RX pipeline maps to CloseInvalidPayload.
//
// # Outbound
//
// Events bound for clients are Outbound values. Each carries a Target that
// names its recipients (a guild, explicit users, or both) and an optional
// Membership update that every gateway node applies to its guild index.
// Clients see only the envelope:
//
//	{"event":"RoleDelete","data":{"id":42,"guild_id":7,...}}
//
// Between nodes the same event travels with its target attached
// (EncodeBridge / DecodeBridge).
//
// # Close Codes
//
// CloseCode values are stable and partitioned by attribution:
//
//   - 1xxx: transport-standard codes (1001 going away, 1003 binary data)
//   - 2xxx: malformed client input
//   - 4xxx: client protocol misuse (bad credentials, duplicate Identify)
//   - 5xxx: server-side faults (missing backends, heartbeat/identify timeouts)
package protocol
