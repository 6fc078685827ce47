// ABOUTME: Tests for the MCP bridge: tool registration, call routing, and the HTTP transport
// ABOUTME: Runs against the built-in integrations with an in-memory credential store

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtriplebolt/coreassist-electron/internal/auth"
	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
	"github.com/ndtriplebolt/coreassist-electron/internal/dedupe"
	"github.com/ndtriplebolt/coreassist-electron/internal/dispatch"
	"github.com/ndtriplebolt/coreassist-electron/internal/integrations"
	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

type testEnv struct {
	server   *Server
	registry *connector.Registry
	creds    *store.MemoryStore
}

func newTestEnv(t *testing.T, opts ...dispatch.Option) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	factories := connector.NewFactories()
	require.NoError(t, integrations.RegisterAll(factories))
	reg := connector.NewRegistry(connector.NewFSSource(integrations.Manifests()), factories, logger)
	require.Empty(t, reg.LoadAll(context.Background()).Failed)

	creds := store.NewMemoryStore()
	opts = append([]dispatch.Option{dispatch.WithCredentials(creds), dispatch.WithLogger(logger)}, opts...)
	svc := dispatch.New(reg, opts...)

	s, err := NewServer(Config{Dispatch: svc, Version: "test", Logger: logger})
	require.NoError(t, err)
	return &testEnv{server: s, registry: reg, creds: creds}
}

func callTool(t *testing.T, s *Server, ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := s.mcpServer.GetTool(name)
	require.NotNil(t, tool, "tool %s should be registered", name)
	res, err := tool.Handler(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestNewServer_RequiresDispatch(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestSync_RegistersCatalog(t *testing.T) {
	env := newTestEnv(t)

	tools := env.server.mcpServer.ListTools()
	assert.Len(t, tools, 24)

	for _, name := range []string{"slack.send_message", "send_message", "google_calendar.list_events"} {
		tool, ok := tools[name]
		require.True(t, ok, "missing %s", name)
		assert.NotEmpty(t, tool.Tool.Description)

		var schema map[string]any
		require.NoError(t, json.Unmarshal(tool.Tool.RawInputSchema, &schema))
		assert.Equal(t, "object", schema["type"])
	}
}

func TestSync_FollowsReload(t *testing.T) {
	env := newTestEnv(t)

	require.True(t, env.registry.Remove("slack"))
	assert.Equal(t, 16, env.server.Sync())
	assert.Nil(t, env.server.mcpServer.GetTool("slack.send_message"))

	require.NoError(t, env.registry.Reload(context.Background(), "slack"))
	assert.Equal(t, 24, env.server.Sync())
	assert.NotNil(t, env.server.mcpServer.GetTool("slack.send_message"))
}

func TestCallHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	args := map[string]any{"channel": "#general", "text": "hi"}

	t.Run("without credentials returns auth required error", func(t *testing.T) {
		res := callTool(t, env.server, ctx, "slack.send_message", args)
		assert.True(t, res.IsError)

		var resp dispatch.CallResponse
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
		assert.Equal(t, dispatch.KindAuthRequired, resp.Kind)
		assert.Equal(t, true, resp.Result["auth_required"])
	})

	require.NoError(t, env.creds.PutCredentials(ctx, "u1", "slack", map[string]any{"access_token": "xoxb"}))

	t.Run("with credentials returns the result", func(t *testing.T) {
		res := callTool(t, env.server, WithUser(ctx, "u1"), "send_message", args)
		assert.False(t, res.IsError)

		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
		assert.Equal(t, true, result["ok"])
		assert.Equal(t, "#general", result["channel"])
	})

	t.Run("other users do not see the credentials", func(t *testing.T) {
		res := callTool(t, env.server, WithUser(ctx, "u2"), "send_message", args)
		assert.True(t, res.IsError)
	})
}

func TestCallerContext(t *testing.T) {
	tests := []struct {
		name    string
		auth    *auth.AuthContext
		header  string
		wantUID string
	}{
		{name: "unauthenticated", wantUID: ""},
		{name: "bearer acts as itself", auth: &auth.AuthContext{Method: auth.MethodBearer, UserID: "u1"}, header: "u2", wantUID: "u1"},
		{name: "service names the user", auth: &auth.AuthContext{Method: auth.MethodSharedSecret}, header: "u2", wantUID: "u2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.auth != nil {
				req = req.WithContext(auth.WithAuth(req.Context(), tt.auth))
			}
			req.Header.Set(UserHeader, tt.header)

			ctx := callerContext(req.Context(), req)
			assert.Equal(t, tt.wantUID, userFromContext(ctx))
		})
	}

	t.Run("request id header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set(RequestIDHeader, "req-7")
		assert.Equal(t, "req-7", requestIDFromContext(callerContext(req.Context(), req)))

		bare := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		assert.Empty(t, requestIDFromContext(callerContext(bare.Context(), bare)))
	})
}

func TestCallHandler_PassesRequestID(t *testing.T) {
	cache := dedupe.New[dispatch.CallResponse](time.Minute, 100)
	t.Cleanup(cache.Close)
	env := newTestEnv(t, dispatch.WithReplayCache(cache))
	ctx := WithUser(context.Background(), "u1")
	require.NoError(t, env.creds.PutCredentials(ctx, "u1", "slack", map[string]any{"access_token": "xoxb"}))
	args := map[string]any{"channel": "#general", "text": "hi"}

	callTool(t, env.server, ctx, "slack.send_message", args)
	assert.Equal(t, 0, cache.Len(), "calls without a request ID are not remembered")

	first := callTool(t, env.server, WithRequestID(ctx, "req-1"), "slack.send_message", args)
	assert.Equal(t, 1, cache.Len())
	again := callTool(t, env.server, WithRequestID(ctx, "req-1"), "slack.send_message", args)
	assert.Equal(t, resultText(t, first), resultText(t, again))
	assert.Equal(t, 1, cache.Len())
}

func TestHandler_ToolsCallOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.creds.PutCredentials(context.Background(), "u1", "google_tasks", map[string]any{"access_token": "ya29"}))

	asUser := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithAuth(r.Context(), &auth.AuthContext{Method: auth.MethodBearer, UserID: "u1"})
		env.server.Handler().ServeHTTP(w, r.WithContext(ctx))
	})

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "google_tasks.list_task_lists",
			"arguments": map[string]any{},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()
	asUser.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rpc struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rpc))
	assert.False(t, rpc.Result.IsError)
	require.Len(t, rpc.Result.Content, 1)
	assert.Contains(t, rpc.Result.Content[0].Text, "sample_list_1")
}
