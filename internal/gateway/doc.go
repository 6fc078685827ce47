// Package gateway wires the coreassist server together.
//
// # Overview
//
// A Gateway owns the connector registry, the dispatch service, the identity
// and credential stores, the optional MCP bridge, and the servers that expose
// them. New loads every configured connector before returning, so a Gateway
// is ready to answer calls as soon as Run starts listening.
//
// # HTTP API
//
// Routes are registered on a chi router in router.go:
//
//   - GET /health - connector counts plus store stats; sweeps expired sessions
//   - GET /tools/manifest - the merged tool catalog
//   - GET /connectors - loaded connectors with their tools
//   - POST /tools/call - run a tool (shared secret or bearer)
//   - POST /connectors/{name}/reload - reload one connector (shared secret or bearer)
//   - POST /api/users, POST /api/users/{id}/sessions, DELETE /api/sessions/{id},
//     POST /api/users/{id}/tokens - identity management (shared secret only)
//   - GET /api/users/{id}/connections, PUT and DELETE
//     /api/users/{id}/credentials/{connector}, DELETE
//     /api/users/{id}/tokens/{tokenID} - credential and token management
//     (shared secret, or a bearer token for the same user)
//   - GET /dev/auth/stats - store stats when dev_endpoints is set
//   - GET /metrics - Prometheus exposition when metrics.enabled is set
//   - /mcp - MCP streamable HTTP when mcp.enabled is set
//
// POST /tools/call always answers 200 once the request is authenticated and
// well formed. The body's success flag and error_kind describe the outcome.
//
// # gRPC
//
// When server.grpc_addr is set the gateway serves grpc.health.v1.Health.
// The empty service name reports overall status. Each loaded connector is
// reported as coreassist.connector.<name> and drops to NOT_SERVING when it
// is removed or fails to reload.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Run also starts the cron-driven sweep of expired sessions. Shutdown stops
// the servers, the sweeper, the replay cache, and the stores.
package gateway
