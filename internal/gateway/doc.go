// Package gateway orchestrates the chat-gateway server components.
//
// # Overview
//
// The Gateway owns the process-wide backends (SQLite store, fan-out bus),
// the session registry, the bridge, and the connection handler, and serves
// them over HTTP and an optional gRPC health listener.
//
// # HTTP Routes
//
//	GET  /ws                    WebSocket upgrade (path from server.ws_path)
//	POST /internal/events       publish an event (bearer server.publish_token)
//	GET  /api/sessions          local connection and registry counts
//	GET  /api/sessions/detail   counts plus one entry per live connection (bearer)
//	GET  /health                liveness
//	GET  /health/ready          200 when storage and the bus subscription are up
//
// The publish body is the bridge message format:
//
//	{"event":"RoleDelete","data":{...},"target":{"guild_id":123}}
//
// A request carrying an Idempotency-Key header that was already accepted in
// the last few minutes is answered 200 "duplicate" and not published again.
//
// # Degraded Backends
//
// A store or bus that fails to start does not stop the process. New logs the
// failure and connections are refused with 5003 or 5002 respectively until
// the gateway is restarted with a working backend.
//
// # Shutdown
//
// Shutdown stops the listeners, closes every live connection with 1001,
// ends the bus subscription, then closes the bus and the store.
package gateway
