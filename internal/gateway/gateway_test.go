// ABOUTME: Tests for Gateway construction, lifecycle, health status, and store backends
// ABOUTME: Uses the built-in connectors, in-memory manifests, and miniredis

package gateway

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ndtriplebolt/coreassist-electron/internal/config"
	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
	"github.com/ndtriplebolt/coreassist-electron/internal/integrations"
	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

const (
	testSharedSecret = "gateway-test-shared-secret"
	testJWTSecret    = "gateway-test-jwt-secret-at-least-32-bytes"
)

const baseTestConfig = `
server:
  http_addr: "127.0.0.1:0"
auth:
  shared_secret: "` + testSharedSecret + `"
  jwt_secret: "` + testJWTSecret + `"
dedupe:
  enabled: true
metrics:
  enabled: true
mcp:
  enabled: true
dev_endpoints: true
`

// testConfig parses baseTestConfig plus extra YAML sections.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(baseTestConfig + extra))
	require.NoError(t, err)
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, cfg *config.Config, opts ...Option) *Gateway {
	t.Helper()
	gw, err := New(cfg, testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func healthStatus(t *testing.T, gw *Gateway, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := gw.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestGatewayNew(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, ""))

	assert.Equal(t, []string{"google_calendar", "google_tasks", "slack"}, gw.registry.Units())
	assert.Equal(t, 12, gw.registry.ToolCount())
	assert.NotNil(t, gw.tokens, "jwt_secret should enable bearer tokens")
	assert.NotNil(t, gw.replay, "dedupe.enabled should create the replay cache")
	assert.NotNil(t, gw.mcpServer)
	assert.Nil(t, gw.grpcServer, "gRPC is off without grpc_addr")

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, gw, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, gw, "coreassist.connector.slack"))
}

func TestGatewayNew_OptionalFeaturesOff(t *testing.T) {
	cfg, err := config.Parse([]byte(`
auth:
  shared_secret: "` + testSharedSecret + `"
`))
	require.NoError(t, err)

	gw := newTestGateway(t, cfg)
	assert.Nil(t, gw.tokens)
	assert.Nil(t, gw.replay)
	assert.Nil(t, gw.mcpServer)
}

func TestGatewayNew_DisabledConnectors(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, `
connectors:
  disabled: [slack]
`))

	assert.Equal(t, []string{"google_calendar", "google_tasks"}, gw.registry.Units())

	_, err := gw.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "coreassist.connector.slack"})
	assert.Error(t, err, "a connector that never loaded has no health entry")
}

func TestGatewayNew_ConnectorDir(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, "connectors:\n  dir: "+filepath.Join(dir, "missing")+"\n")

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading connectors")
}

func TestGatewayNew_SQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coreassist.db")
	gw := newTestGateway(t, testConfig(t, `
credentials:
  backend: sqlite
database:
  path: "`+dbPath+`"
`))

	_, ok := gw.credentials.(*store.SQLiteStore)
	assert.True(t, ok)
	assert.Same(t, gw.identities, gw.credentials)
}

func TestGatewayNew_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	gw := newTestGateway(t, testConfig(t, `
credentials:
  backend: redis
redis:
  addr: "`+mr.Addr()+`"
  key_prefix: "test:"
`))

	_, ok := gw.credentials.(*store.RedisCredentialStore)
	require.True(t, ok)
	_, ok = gw.identities.(*store.MemoryStore)
	assert.True(t, ok)

	ctx := context.Background()
	require.NoError(t, gw.credentials.PutCredentials(ctx, "user-1", "slack", map[string]any{"access_token": "xoxb"}))
	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		assert.Regexp(t, `^test:`, k)
	}
}

func TestGatewayNew_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(testConfig(t, `
credentials:
  backend: redis
redis:
  addr: "`+addr+`"
`), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis")
}

// reloadableSource serves slack's manifest from a map the test can edit.
func reloadableSource(t *testing.T) fstest.MapFS {
	t.Helper()
	data, err := fs.ReadFile(integrations.Manifests(), "slack/manifest.json")
	require.NoError(t, err)
	return fstest.MapFS{"slack/manifest.json": {Data: data}}
}

func TestGatewayHealthFollowsReload(t *testing.T) {
	fsys := reloadableSource(t)
	gw := newTestGateway(t, testConfig(t, ""), WithSource(connector.NewFSSource(fsys)))
	ctx := context.Background()

	require.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, gw, "coreassist.connector.slack"))
	require.Equal(t, 4, gw.mcpServer.Sync()/2)

	fsys["slack/manifest.json"] = &fstest.MapFile{Data: []byte(`{"tools": [`)}
	require.Error(t, gw.dispatch.Reload(ctx, "slack"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthStatus(t, gw, "coreassist.connector.slack"))
	assert.Equal(t, 0, gw.registry.Len())

	fsys["slack/manifest.json"] = &fstest.MapFile{Data: []byte(`{"tools": [{"name": "send_message"}]}`)}
	require.NoError(t, gw.dispatch.Reload(ctx, "slack"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, gw, "coreassist.connector.slack"))
	assert.Equal(t, 1, gw.registry.ToolCount())
}

func TestGatewaySweepSessions(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, ""))
	ctx := context.Background()

	require.NoError(t, gw.identities.CreateUser(ctx, &store.User{ID: "user-1"}))
	_, err := gw.identities.CreateSession(ctx, "user-1", time.Nanosecond)
	require.NoError(t, err)
	live, err := gw.identities.CreateSession(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	gw.sweepSessions()

	active, err := gw.identities.CountActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	_, err = gw.identities.GetSession(ctx, live.ID)
	assert.NoError(t, err)
}

func TestGatewayRun(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, gw.grpcServer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.NoError(t, gw.Shutdown(context.Background()), "second shutdown repeats the first result")

	resp, err := gw.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGatewayRun_ListenError(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, ""))
	gw.config.Server.HTTPAddr = "127.0.0.1:-1"

	err := gw.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestAppendCloseError(t *testing.T) {
	errs := appendCloseError(nil, "store close", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "store close", errors.New("boom"))
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "store close: boom")
}

func TestHandlerServesWithoutRun(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, ""))
	rec := doRequest(t, gw, http.MethodGet, "/tools/manifest", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
