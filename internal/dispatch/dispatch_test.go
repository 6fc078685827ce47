// ABOUTME: Tests for the dispatch service: resolution, credentials, soft failures, timeouts, and replay
// ABOUTME: Uses fake connectors over in-memory manifests and the built-in integrations

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
	"github.com/ndtriplebolt/coreassist-electron/internal/dedupe"
	"github.com/ndtriplebolt/coreassist-electron/internal/integrations"
	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedConnector runs a fixed behavior per tool and counts executions.
type scriptedConnector struct {
	connector.Base
	release  chan struct{}
	executed atomic.Int32
}

func (c *scriptedConnector) Execute(ctx context.Context, tool string, params map[string]any, auth connector.AuthData) (map[string]any, error) {
	c.executed.Add(1)
	switch tool {
	case "ping":
		return map[string]any{"unit": c.Name(), "token": auth.AccessToken(), "params": params}, nil
	case "fail":
		return nil, errors.New("downstream exploded")
	case "boom":
		panic("unexpected nil")
	case "soft":
		return map[string]any{"error": "rate limited", "retry_after": 5}, nil
	case "needs_auth":
		return c.AuthRequired("Scripted"), nil
	case "hang":
		<-c.release
		return map[string]any{}, nil
	case "respect_ctx":
		<-ctx.Done()
		return nil, ctx.Err()
	case "nil_result":
		return nil, nil
	}
	return connector.UnknownTool(tool), nil
}

func scriptedManifest(tools ...string) *fstest.MapFile {
	doc := `{"tools": [`
	for i, name := range tools {
		if i > 0 {
			doc += ","
		}
		doc += fmt.Sprintf(`{"name": %q, "description": "%s", "parameters": {"type": "object"}}`, name, name)
	}
	doc += `]}`
	return &fstest.MapFile{Data: []byte(doc)}
}

type fixture struct {
	registry *connector.Registry
	conns    map[string]*scriptedConnector
}

// newFixture loads "alpha" (every scripted tool) and "beta" (ping only).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	fx := &fixture{conns: map[string]*scriptedConnector{}}
	var mu sync.Mutex
	factory := func(m *connector.Manifest) (connector.Connector, error) {
		c := &scriptedConnector{Base: connector.NewBase(m), release: release}
		mu.Lock()
		fx.conns[m.Unit()] = c
		mu.Unlock()
		return c, nil
	}

	fsys := fstest.MapFS{
		"alpha/manifest.json": scriptedManifest("ping", "fail", "boom", "soft", "needs_auth", "hang", "respect_ctx", "nil_result"),
		"beta/manifest.json":  scriptedManifest("ping"),
	}
	factories := connector.NewFactories()
	require.NoError(t, factories.Register("alpha", factory))
	require.NoError(t, factories.Register("beta", factory))

	fx.registry = connector.NewRegistry(connector.NewFSSource(fsys), factories, discardLogger())
	report := fx.registry.LoadAll(context.Background())
	require.Empty(t, report.Failed)
	return fx
}

// recordingCreds serves credentials from a map and records lookups.
type recordingCreds struct {
	mu      sync.Mutex
	data    map[string]map[string]any
	err     error
	lookups []string
}

func (r *recordingCreds) GetCredentials(_ context.Context, userID, unit string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, userID+"/"+unit)
	if r.err != nil {
		return nil, r.err
	}
	d, ok := r.data[userID+"/"+unit]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func TestCatalog(t *testing.T) {
	fx := newFixture(t)
	svc := New(fx.registry, WithLogger(discardLogger()))

	cat := svc.Catalog()
	assert.True(t, cat.SupportsNamespacedCalls)
	assert.Equal(t, []string{"alpha", "beta"}, cat.Units)
	// 8 alpha tools and 1 beta tool, each listed twice.
	assert.Len(t, cat.Tools, 18)
	assert.Equal(t, "alpha.ping", cat.Tools[0].Name)
	assert.Equal(t, "beta.ping", cat.Tools[16].Name)
	assert.Equal(t, "ping", cat.Tools[17].Name)

	assert.Equal(t, cat, svc.Catalog(), "catalog should be stable without reloads")
}

func TestCatalog_Empty(t *testing.T) {
	reg := connector.NewRegistry(connector.NewFSSource(fstest.MapFS{}), connector.NewFactories(), discardLogger())
	svc := New(reg, WithLogger(discardLogger()))

	cat := svc.Catalog()
	assert.NotNil(t, cat.Tools)
	assert.Empty(t, cat.Tools)
	assert.Equal(t, Health{}, svc.Health())
}

func TestCall_Resolution(t *testing.T) {
	fx := newFixture(t)
	svc := New(fx.registry, WithLogger(discardLogger()))
	ctx := context.Background()

	t.Run("bare name goes to first registered unit", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "ping"})
		require.True(t, resp.Success, resp.Error)
		assert.Equal(t, "alpha", resp.Result["unit"])
		assert.Empty(t, resp.Kind)
	})

	t.Run("namespaced name selects the unit", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "beta.ping", Parameters: map[string]any{"x": 1}})
		require.True(t, resp.Success, resp.Error)
		assert.Equal(t, "beta", resp.Result["unit"])
		assert.Equal(t, map[string]any{"x": 1}, resp.Result["params"])
	})

	t.Run("nil parameters become an empty map", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "alpha.ping"})
		require.True(t, resp.Success)
		assert.Equal(t, map[string]any{}, resp.Result["params"])
	})

	for _, name := range []string{"nope", "gamma.ping", "beta.fail", "", "alpha."} {
		t.Run("not found: "+name, func(t *testing.T) {
			resp := svc.Call(ctx, CallRequest{ToolName: name})
			assert.False(t, resp.Success)
			assert.Equal(t, KindToolNotFound, resp.Kind)
			assert.Equal(t, "Tool not found: "+name, resp.Error)
			assert.NotNil(t, resp.Result)
		})
	}
}

func TestCall_Credentials(t *testing.T) {
	fx := newFixture(t)
	creds := &recordingCreds{data: map[string]map[string]any{
		"u1/alpha": {"access_token": "alpha-token"},
		"u1/beta":  {"access_token": "beta-token"},
	}}
	svc := New(fx.registry, WithCredentials(creds), WithLogger(discardLogger()))
	ctx := context.Background()

	t.Run("bare name fetches credentials for the resolved unit", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "ping", UserID: "u1"})
		require.True(t, resp.Success)
		assert.Equal(t, "alpha-token", resp.Result["token"])
	})

	t.Run("namespaced name fetches credentials for the prefix", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "beta.ping", UserID: "u1"})
		require.True(t, resp.Success)
		assert.Equal(t, "beta-token", resp.Result["token"])
	})

	t.Run("no stored credentials passes empty auth", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "ping", UserID: "u2"})
		require.True(t, resp.Success)
		assert.Equal(t, "", resp.Result["token"])
	})

	t.Run("no user skips the store", func(t *testing.T) {
		before := len(creds.lookups)
		resp := svc.Call(ctx, CallRequest{ToolName: "ping"})
		require.True(t, resp.Success)
		assert.Len(t, creds.lookups, before)
	})

	t.Run("unknown tool skips the store", func(t *testing.T) {
		before := len(creds.lookups)
		svc.Call(ctx, CallRequest{ToolName: "missing", UserID: "u1"})
		assert.Len(t, creds.lookups, before)
	})

	t.Run("store errors are not fatal", func(t *testing.T) {
		broken := &recordingCreds{err: errors.New("connection refused")}
		svc := New(fx.registry, WithCredentials(broken), WithLogger(discardLogger()))
		resp := svc.Call(ctx, CallRequest{ToolName: "ping", UserID: "u1"})
		require.True(t, resp.Success)
		assert.Equal(t, "", resp.Result["token"])
	})
}

func TestCall_Failures(t *testing.T) {
	fx := newFixture(t)
	svc := New(fx.registry, WithCallTimeout(50*time.Millisecond), WithLogger(discardLogger()))
	ctx := context.Background()

	tests := []struct {
		tool      string
		wantKind  FailureKind
		wantError string
	}{
		{tool: "alpha.fail", wantKind: KindExecutionFailed, wantError: "Tool execution failed: downstream exploded"},
		{tool: "alpha.boom", wantKind: KindExecutionFailed, wantError: "Tool execution failed: internal error: unexpected nil"},
		{tool: "alpha.soft", wantKind: KindExecutionFailed, wantError: "rate limited"},
		{tool: "alpha.needs_auth", wantKind: KindAuthRequired, wantError: "OAuth token required for Scripted API"},
		{tool: "alpha.hang", wantKind: KindTimeout, wantError: "Tool execution timed out after 50ms"},
		{tool: "alpha.respect_ctx", wantKind: KindTimeout, wantError: "Tool execution timed out after 50ms"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			resp := svc.Call(ctx, CallRequest{ToolName: tt.tool})
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotNil(t, resp.Result)
		})
	}

	t.Run("soft failure passes the result through", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "alpha.soft"})
		assert.Equal(t, 5, resp.Result["retry_after"])
	})

	t.Run("auth required passes the result through", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "alpha.needs_auth"})
		assert.Equal(t, true, resp.Result["auth_required"])
		assert.Equal(t, "Please authenticate with Scripted first", resp.Result["message"])
	})

	t.Run("nil result is an empty success", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "alpha.nil_result"})
		assert.True(t, resp.Success)
		assert.Equal(t, map[string]any{}, resp.Result)
	})

	t.Run("service keeps working after failures", func(t *testing.T) {
		resp := svc.Call(ctx, CallRequest{ToolName: "ping"})
		assert.True(t, resp.Success)
	})
}

func TestCall_CanceledContext(t *testing.T) {
	fx := newFixture(t)
	svc := New(fx.registry, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := svc.Call(ctx, CallRequest{ToolName: "alpha.respect_ctx"})
	assert.False(t, resp.Success)
	assert.Equal(t, KindExecutionFailed, resp.Kind)
	assert.Contains(t, resp.Error, "context canceled")
}

func TestCall_Replay(t *testing.T) {
	fx := newFixture(t)
	cache := dedupe.New[CallResponse](time.Minute, 100)
	t.Cleanup(cache.Close)
	svc := New(fx.registry, WithReplayCache(cache), WithLogger(discardLogger()))
	ctx := context.Background()
	alpha := fx.conns["alpha"]

	first := svc.Call(ctx, CallRequest{ToolName: "alpha.ping", RequestID: "req-1", UserID: "u1"})
	second := svc.Call(ctx, CallRequest{ToolName: "alpha.ping", RequestID: "req-1", UserID: "u1"})
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), alpha.executed.Load())

	svc.Call(ctx, CallRequest{ToolName: "alpha.ping", RequestID: "req-1", UserID: "u2"})
	assert.Equal(t, int32(2), alpha.executed.Load(), "request IDs are scoped per user")

	svc.Call(ctx, CallRequest{ToolName: "alpha.ping"})
	svc.Call(ctx, CallRequest{ToolName: "alpha.ping"})
	assert.Equal(t, int32(4), alpha.executed.Load(), "calls without a request ID always run")

	svc.Call(ctx, CallRequest{ToolName: "alpha.soft", RequestID: "req-2"})
	svc.Call(ctx, CallRequest{ToolName: "alpha.soft", RequestID: "req-2"})
	assert.Equal(t, int32(6), alpha.executed.Load(), "soft failures are not replayed")

	beta := fx.conns["beta"]
	other := svc.Call(ctx, CallRequest{ToolName: "beta.ping", RequestID: "req-1", UserID: "u1"})
	assert.True(t, other.Success)
	assert.Equal(t, "beta", other.Result["unit"], "request IDs are scoped per tool")
	assert.Equal(t, int32(1), beta.executed.Load())
}

func TestCall_ReplayRetriesFailures(t *testing.T) {
	fx := newFixture(t)
	cache := dedupe.New[CallResponse](time.Minute, 100)
	t.Cleanup(cache.Close)
	svc := New(fx.registry,
		WithReplayCache(cache),
		WithCallTimeout(30*time.Millisecond),
		WithLogger(discardLogger()),
	)
	ctx := context.Background()
	alpha := fx.conns["alpha"]

	t.Run("timeout", func(t *testing.T) {
		before := alpha.executed.Load()
		first := svc.Call(ctx, CallRequest{ToolName: "alpha.hang", RequestID: "r1"})
		assert.Equal(t, KindTimeout, first.Kind)

		retry := svc.Call(ctx, CallRequest{ToolName: "alpha.hang", RequestID: "r1"})
		assert.Equal(t, KindTimeout, retry.Kind)
		require.Eventually(t, func() bool { return alpha.executed.Load() == before+2 },
			time.Second, 5*time.Millisecond, "the retry runs the tool again")
	})

	t.Run("canceled caller", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		first := svc.Call(canceled, CallRequest{ToolName: "alpha.respect_ctx", RequestID: "r2"})
		assert.Equal(t, KindExecutionFailed, first.Kind)
		assert.Contains(t, first.Error, "context canceled")

		// A live retry runs again and hits the call timeout instead.
		retry := svc.Call(ctx, CallRequest{ToolName: "alpha.respect_ctx", RequestID: "r2"})
		assert.Equal(t, KindTimeout, retry.Kind)
	})

	t.Run("auth required then a different tool", func(t *testing.T) {
		first := svc.Call(ctx, CallRequest{ToolName: "alpha.needs_auth", RequestID: "r3"})
		assert.Equal(t, KindAuthRequired, first.Kind)

		next := svc.Call(ctx, CallRequest{ToolName: "beta.ping", RequestID: "r3"})
		assert.True(t, next.Success)
		assert.Equal(t, "beta", next.Result["unit"])
	})

	t.Run("tool not found", func(t *testing.T) {
		first := svc.Call(ctx, CallRequest{ToolName: "alpha.ping", RequestID: "r4"})
		assert.True(t, first.Success)
		missing := svc.Call(ctx, CallRequest{ToolName: "gamma.ping", RequestID: "r5"})
		assert.Equal(t, KindToolNotFound, missing.Kind)
	})

	assert.Equal(t, 2, cache.Len(), "only successful responses are cached")
}

func TestCall_Metrics(t *testing.T) {
	fx := newFixture(t)
	metrics := NewMetrics()
	svc := New(fx.registry, WithMetrics(metrics), WithLogger(discardLogger()))
	ctx := context.Background()

	svc.Call(ctx, CallRequest{ToolName: "ping"})
	svc.Call(ctx, CallRequest{ToolName: "beta.ping"})
	svc.Call(ctx, CallRequest{ToolName: "alpha.soft"})
	svc.Call(ctx, CallRequest{ToolName: "missing"})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("alpha", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("beta", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("alpha", "execution_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues("unknown", "tool_not_found")))
}

func TestCall_Spans(t *testing.T) {
	fx := newFixture(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := New(fx.registry, WithTracerProvider(tp), WithLogger(discardLogger()))
	svc.Call(context.Background(), CallRequest{ToolName: "beta.ping"})
	svc.Call(context.Background(), CallRequest{ToolName: "alpha.fail"})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "dispatch.Call", spans[0].Name())
	assert.Equal(t, otelcodes.Unset, spans[0].Status().Code)
	assert.Equal(t, otelcodes.Error, spans[1].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "alpha.fail", attrs["tool.name"])
	assert.Equal(t, "alpha", attrs["tool.unit"])
	assert.Equal(t, "execution_failed", attrs["tool.outcome"])
}

func TestServiceReloadAndHealth(t *testing.T) {
	fx := newFixture(t)
	metrics := NewMetrics()
	fx.registry.SetObserver(metrics.RegistryObserver(fx.registry))
	svc := New(fx.registry, WithMetrics(metrics), WithLogger(discardLogger()))

	assert.Equal(t, Health{UnitsLoaded: 2, TotalTools: 9}, svc.Health())

	require.NoError(t, svc.Reload(context.Background(), "alpha"))
	assert.Equal(t, []string{"beta", "alpha"}, svc.Catalog().Units)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.unitsLoaded))
	assert.Equal(t, 9.0, testutil.ToFloat64(metrics.toolsLoaded))

	err := svc.Reload(context.Background(), "gamma")
	assert.True(t, connector.IsNotFound(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.loadFailures.WithLabelValues("gamma")))

	units := svc.Units()
	require.Len(t, units, 2)
	assert.Equal(t, "beta", units[0].Name)
	assert.Equal(t, 1, units[0].ToolCount)
}

func TestCall_ConcurrentWithReload(t *testing.T) {
	fx := newFixture(t)
	svc := New(fx.registry, WithLogger(discardLogger()))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				resp := svc.Call(ctx, CallRequest{ToolName: "ping"})
				// During an alpha reload, bare ping may resolve to beta or be
				// briefly absent; it must never panic.
				if !resp.Success {
					assert.Equal(t, KindToolNotFound, resp.Kind)
				}
			}
		}()
	}
	for j := 0; j < 20; j++ {
		_ = svc.Reload(ctx, "alpha")
	}
	wg.Wait()
}

func TestCall_BuiltInIntegrations(t *testing.T) {
	factories := connector.NewFactories()
	require.NoError(t, integrations.RegisterAll(factories))
	reg := connector.NewRegistry(connector.NewFSSource(integrations.Manifests()), factories, discardLogger())
	require.Empty(t, reg.LoadAll(context.Background()).Failed)

	creds := store.NewMemoryStore()
	ctx := context.Background()
	svc := New(reg, WithCredentials(creds), WithLogger(discardLogger()))

	params := map[string]any{"channel": "#general", "text": "hi"}

	resp := svc.Call(ctx, CallRequest{ToolName: "slack.send_message", Parameters: params, UserID: "u1"})
	assert.False(t, resp.Success)
	assert.Equal(t, KindAuthRequired, resp.Kind)
	assert.Equal(t, true, resp.Result["auth_required"])

	require.NoError(t, creds.PutCredentials(ctx, "u1", "slack", map[string]any{"access_token": "xoxb-test"}))

	resp = svc.Call(ctx, CallRequest{ToolName: "slack.send_message", Parameters: params, UserID: "u1"})
	assert.True(t, resp.Success, resp.Error)

	resp = svc.Call(ctx, CallRequest{ToolName: "send_message", Parameters: map[string]any{"channel": "#general"}, UserID: "u1"})
	assert.False(t, resp.Success)
	assert.Equal(t, KindExecutionFailed, resp.Kind)
}
