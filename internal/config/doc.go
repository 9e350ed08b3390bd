// Package config handles configuration loading for chat-gateway.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from CHAT_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chat-gateway/gateway.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_GATEWAY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"        # /ws, /internal/events, /api/sessions, /health
//	  grpc_addr: "0.0.0.0:50051"       # gRPC health service (optional)
//	  ws_path: "/ws"
//	  publish_token: "${PUBLISH_TOKEN}" # empty disables POST /internal/events
//
//	database:
//	  path: "/var/lib/chat-gateway/gateway.db"
//
//	auth:
//	  mode: "token"   # token (stored bcrypt hashes) or jwt
//	  jwt_secret: ""  # required for jwt, at least 32 bytes
//
//	bridge:
//	  backend: "redis"     # redis, nats, memory
//	  deployment: "prod"   # keys the shared channel
//	  redis:
//	    addr: "localhost:6379"
//	  nats:
//	    url: "nats://localhost:4222"
//
//	gateway:
//	  send_queue_size: 256
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "20s"
//	  write_timeout: "10s"
//	  max_message_size: 65536
//	  registry_shards: 32
//	  node_id: 0
//
//	tailscale:
//	  enabled: false
//	  hostname: "chat-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax.
package config
