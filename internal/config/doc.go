// Package config handles configuration loading for coreassist.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Missing values get defaults; Validate reports the first problem.
//
// # Configuration File
//
// The CLI resolves the path in this order:
//
//  1. --config flag
//  2. COREASSIST_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coreassist/gateway.yaml (~/.config when unset)
//
// # Environment Variable Expansion
//
//	auth:
//	  shared_secret: "${COREASSIST_SHARED_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// call_timeout, token_ttl, session_ttl, and dedupe ttl use time.ParseDuration
// syntax ("30s", "5m", "24h") and must be positive.
//
// # Example
//
//	server:
//	  http_addr: "localhost:8000"
//	  grpc_addr: "localhost:50051"   # optional gRPC health service
//
//	connectors:
//	  dir: ""                        # empty = built-in manifests
//	  disabled: []
//
//	dispatch:
//	  call_timeout: "30s"
//
//	auth:
//	  shared_secret: "${COREASSIST_SHARED_SECRET}"   # required
//	  jwt_secret: "${COREASSIST_JWT_SECRET}"         # optional, >= 32 bytes
//	  token_ttl: "24h"
//
//	credentials:
//	  backend: "memory"              # memory, sqlite, or redis
//	  session_ttl: "24h"
//	  sweep_schedule: "@every 10m"   # cron spec
//
//	database:
//	  path: "~/.local/share/coreassist/coreassist.db"
//
//	redis:
//	  addr: "localhost:6379"
//	  key_prefix: "coreassist:"
//
//	dedupe:
//	  enabled: true
//	  ttl: "5m"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"                  # debug, info, warn, error
//	  format: "text"                 # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
//	mcp:
//	  enabled: true
//	  path: "/mcp"
//
//	dev_endpoints: false
//
// With the redis backend, users and sessions still live in memory, or in
// SQLite when database.path is set; only connector credentials go to Redis.
package config
