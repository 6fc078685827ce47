// ABOUTME: gRPC health service reporting overall and per-connector serving status
// ABOUTME: Connectors appear as coreassist.connector.<name> services

package gateway

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ConnectorServicePrefix prefixes per-connector health service names.
const ConnectorServicePrefix = "coreassist.connector."

const (
	healthpbServing    = healthpb.HealthCheckResponse_SERVING
	healthpbNotServing = healthpb.HealthCheckResponse_NOT_SERVING
)

func unitHealthService(unit string) string {
	return ConnectorServicePrefix + unit
}

func registerHealth(server *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(server, hs)
}
