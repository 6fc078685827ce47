// ABOUTME: MCP bridge registering catalog tools with mcp-go and routing calls through dispatch
// ABOUTME: Serves the Streamable HTTP transport in stateless mode

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ndtriplebolt/coreassist-electron/internal/auth"
	"github.com/ndtriplebolt/coreassist-electron/internal/dispatch"
)

// UserHeader names the user a shared-secret caller acts for.
const UserHeader = "X-User-ID"

// RequestIDHeader carries the caller's idempotency key for tool calls.
const RequestIDHeader = "X-Request-ID"

// emptySchema is advertised for tools that declare no parameters.
var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Config holds the dependencies of a Server.
type Config struct {
	Dispatch *dispatch.Service
	Name     string
	Version  string
	Logger   *slog.Logger
}

// Server bridges dispatch to MCP clients.
type Server struct {
	dispatch  *dispatch.Service
	mcpServer *server.MCPServer
	http      *server.StreamableHTTPServer
	logger    *slog.Logger

	mu sync.Mutex // serializes Sync
}

// NewServer creates the bridge and registers the current catalog.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatch == nil {
		return nil, errors.New("dispatch service is required")
	}
	name := cfg.Name
	if name == "" {
		name = "coreassist"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		dispatch:  cfg.Dispatch,
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		logger:    logger.With("component", "mcp"),
	}
	s.http = server.NewStreamableHTTPServer(s.mcpServer,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(callerContext),
	)
	s.Sync()
	return s, nil
}

// Handler returns the Streamable HTTP handler. Mount it behind auth middleware.
func (s *Server) Handler() http.Handler {
	return s.http
}

// Sync replaces the advertised tools with the current catalog.
func (s *Server) Sync() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := s.dispatch.Catalog()
	tools := make([]server.ServerTool, 0, len(catalog.Tools))
	for _, desc := range catalog.Tools {
		schema := emptySchema
		if len(desc.Parameters) > 0 {
			raw, err := json.Marshal(desc.Parameters)
			if err != nil {
				s.logger.Warn("skipping tool with unencodable schema", "tool_name", desc.Name, "error", err)
				continue
			}
			schema = raw
		}
		tools = append(tools, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(desc.Name, desc.Description, schema),
			Handler: s.callHandler(desc.Name),
		})
	}
	s.mcpServer.SetTools(tools...)

	s.logger.Debug("mcp tools synced", "tool_count", len(tools))
	return len(tools)
}

// callHandler routes tools/call for one tool name through dispatch.
func (s *Server) callHandler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID := requestIDFromContext(ctx)
		userID := userFromContext(ctx)

		s.logger.Debug("tools/call",
			"tool_name", toolName,
			"request_id", requestID,
			"user_id", userID,
		)

		resp := s.dispatch.Call(ctx, dispatch.CallRequest{
			ToolName:   toolName,
			Parameters: request.GetArguments(),
			UserID:     userID,
			RequestID:  requestID,
		})

		body, err := json.Marshal(resp)
		if err != nil {
			return mcp.NewToolResultError("failed to encode tool result: " + err.Error()), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(string(body)), nil
		}

		result, err := json.Marshal(resp.Result)
		if err != nil {
			return mcp.NewToolResultError("failed to encode tool result: " + err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	}
}

type (
	userKey      struct{}
	requestIDKey struct{}
)

// callerContext records which user's credentials apply to this request and
// the request ID it carries.
func callerContext(ctx context.Context, r *http.Request) context.Context {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		ctx = WithRequestID(ctx, id)
	}
	authCtx := auth.FromContext(r.Context())
	switch {
	case authCtx == nil:
		return ctx
	case authCtx.IsService():
		return WithUser(ctx, r.Header.Get(UserHeader))
	default:
		return WithUser(ctx, authCtx.UserID)
	}
}

// WithUser sets the credential context for MCP tool calls.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

// WithRequestID sets the replay key for MCP tool calls.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
