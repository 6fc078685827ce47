// ABOUTME: Dispatch service resolving tool calls, attaching credentials, and running connectors
// ABOUTME: Every call ends in a CallResponse; panics and timeouts become soft failures

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
	"github.com/ndtriplebolt/coreassist-electron/internal/dedupe"
	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

// DefaultCallTimeout bounds a single connector execution.
const DefaultCallTimeout = 30 * time.Second

// FailureKind classifies an unsuccessful call.
type FailureKind string

const (
	KindToolNotFound    FailureKind = "tool_not_found"
	KindExecutionFailed FailureKind = "execution_failed"
	KindTimeout         FailureKind = "timeout"
	KindAuthRequired    FailureKind = "auth_required"
)

// outcomeSuccess labels successful calls in metrics and spans.
const outcomeSuccess = "success"

// unknownUnit labels calls that never reached a connector.
const unknownUnit = "unknown"

// CredentialGetter fetches stored credentials for a user and connector.
// store.ErrNotFound means nothing is stored.
type CredentialGetter interface {
	GetCredentials(ctx context.Context, userID, connector string) (map[string]any, error)
}

// CallRequest is one tool invocation.
type CallRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	// UserID selects stored credentials. Empty means no credentials.
	UserID string `json:"user_id,omitempty"`
	// RequestID, when set, makes retries of the same call return the first
	// successful response.
	RequestID string `json:"request_id,omitempty"`
}

// CallResponse is the result envelope returned for every call.
type CallResponse struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result"`
	Error   string         `json:"error,omitempty"`
	Kind    FailureKind    `json:"error_kind,omitempty"`
}

// CatalogResponse is the aggregated tool catalog.
type CatalogResponse struct {
	Tools                   []connector.ToolDescriptor `json:"tools"`
	Units                   []string                   `json:"units"`
	SupportsNamespacedCalls bool                       `json:"supports_namespaced_calls"`
}

// Health summarizes what is loaded.
type Health struct {
	UnitsLoaded int `json:"connectors_loaded"`
	TotalTools  int `json:"total_tools"`
}

// Option configures a Service.
type Option func(*Service)

// WithCredentials sets the credential store consulted for calls with a UserID.
func WithCredentials(creds CredentialGetter) Option {
	return func(s *Service) { s.creds = creds }
}

// WithCallTimeout overrides DefaultCallTimeout. Non-positive values are ignored.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithReplayCache enables RequestID replay protection.
func WithReplayCache(cache *dedupe.Cache[CallResponse]) Option {
	return func(s *Service) { s.replay = cache }
}

// WithMetrics records call metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracerProvider sets the provider used for call spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

const tracerName = "coreassist/dispatch"

// Service coordinates catalog reads and tool calls over a registry.
type Service struct {
	registry *connector.Registry
	creds    CredentialGetter
	timeout  time.Duration
	replay   *dedupe.Cache[CallResponse]
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a Service over registry.
func New(registry *connector.Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		timeout:  DefaultCallTimeout,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "dispatch")
	return s
}

// Catalog returns every tool in both namespaced and bare form.
func (s *Service) Catalog() CatalogResponse {
	tools := s.registry.GetAllTools()
	if tools == nil {
		tools = []connector.ToolDescriptor{}
	}
	return CatalogResponse{
		Tools:                   tools,
		Units:                   s.registry.Units(),
		SupportsNamespacedCalls: true,
	}
}

// Units lists loaded connectors with their tools.
func (s *Service) Units() []connector.UnitInfo {
	return s.registry.List()
}

// Reload reloads one connector from its manifest.
func (s *Service) Reload(ctx context.Context, name string) error {
	return s.registry.Reload(ctx, name)
}

// Health reports loaded connector and tool counts.
func (s *Service) Health() Health {
	return Health{
		UnitsLoaded: s.registry.Len(),
		TotalTools:  s.registry.ToolCount(),
	}
}

// Call runs one tool. It never returns an error; failures are described by
// the response.
func (s *Service) Call(ctx context.Context, req CallRequest) CallResponse {
	replayKey := ""
	if req.RequestID != "" && s.replay != nil {
		replayKey = replayKeyFor(req)
		if cached, ok := s.replay.Get(replayKey); ok {
			s.logger.Info("replaying cached tool call response",
				"tool_name", req.ToolName,
				"request_id", req.RequestID,
			)
			return cached
		}
	}

	ctx, span := s.tracer.Start(ctx, "dispatch.Call", trace.WithAttributes(
		attribute.String("tool.name", req.ToolName),
		attribute.Bool("tool.has_user", req.UserID != ""),
	))
	defer span.End()

	start := time.Now()
	unit, resp := s.call(ctx, req)
	elapsed := time.Since(start)

	outcome := outcomeSuccess
	if !resp.Success {
		outcome = string(resp.Kind)
		span.SetStatus(codes.Error, resp.Error)
	}
	span.SetAttributes(
		attribute.String("tool.unit", unit),
		attribute.String("tool.outcome", outcome),
	)
	s.metrics.observeCall(unit, outcome, elapsed)

	if resp.Success {
		s.logger.Debug("tool call succeeded", "tool_name", req.ToolName, "unit", unit, "duration", elapsed)
	} else {
		s.logger.Warn("tool call failed",
			"tool_name", req.ToolName,
			"unit", unit,
			"error_kind", resp.Kind,
			"error", resp.Error,
			"duration", elapsed,
		)
	}

	// Failures stay retryable under the same request ID.
	if replayKey != "" && resp.Success {
		s.replay.Put(replayKey, resp)
	}
	return resp
}

// replayKeyFor scopes a request ID to the caller and the tool it named.
func replayKeyFor(req CallRequest) string {
	return req.UserID + "\x00" + req.ToolName + "\x00" + req.RequestID
}

func (s *Service) call(ctx context.Context, req CallRequest) (string, CallResponse) {
	res, err := s.registry.Resolve(req.ToolName)
	if err != nil {
		return unknownUnit, failure(KindToolNotFound, "Tool not found: "+req.ToolName, nil)
	}

	auth := s.credentialsFor(ctx, req.UserID, res.Unit)

	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}

	result, err := s.execute(ctx, res, params, auth)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return res.Unit, failure(KindTimeout, fmt.Sprintf("Tool execution timed out after %s", s.timeout), nil)
	case err != nil:
		return res.Unit, failure(KindExecutionFailed, "Tool execution failed: "+err.Error(), nil)
	}

	if result == nil {
		result = map[string]any{}
	}
	if msg, ok := connector.SoftError(result); ok {
		kind := KindExecutionFailed
		if connector.IsAuthRequired(result) {
			kind = KindAuthRequired
		}
		return res.Unit, failure(kind, msg, result)
	}
	return res.Unit, CallResponse{Success: true, Result: result}
}

// credentialsFor returns nil when there is no user, no store, or nothing stored.
func (s *Service) credentialsFor(ctx context.Context, userID, unit string) connector.AuthData {
	if userID == "" || s.creds == nil {
		return nil
	}
	data, err := s.creds.GetCredentials(ctx, userID, unit)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to fetch credentials, calling without them",
				"user_id", userID,
				"unit", unit,
				"error", err,
			)
		}
		return nil
	}
	return connector.AuthData(data)
}

type execResult struct {
	result map[string]any
	err    error
}

// execute runs the connector in its own goroutine under the call timeout.
// A connector that ignores cancellation is abandoned when the deadline passes.
func (s *Service) execute(ctx context.Context, res connector.Resolution, params map[string]any, auth connector.AuthData) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("connector panicked", "unit", res.Unit, "tool_name", res.Tool, "panic", p)
				done <- execResult{err: fmt.Errorf("internal error: %v", p)}
			}
		}()
		result, err := res.Connector.Execute(callCtx, res.Tool, params, auth)
		done <- execResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() != nil && errors.Is(r.err, callCtx.Err()) {
			return nil, callCtx.Err()
		}
		return r.result, r.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

func failure(kind FailureKind, msg string, result map[string]any) CallResponse {
	if result == nil {
		result = map[string]any{}
	}
	return CallResponse{Success: false, Result: result, Error: msg, Kind: kind}
}
