// ABOUTME: HTTP API handlers for the tool catalog, tool calls, connectors, users and credentials
// ABOUTME: Errors are JSON bodies of the form {"error": "..."}

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ndtriplebolt/coreassist-electron/internal/auth"
	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
	"github.com/ndtriplebolt/coreassist-electron/internal/dispatch"
	"github.com/ndtriplebolt/coreassist-electron/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// RequestIDHeader lets callers supply the replay key for POST /tools/call.
const RequestIDHeader = "X-Request-ID"

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status           string      `json:"status"`
	ConnectorsLoaded int         `json:"connectors_loaded"`
	TotalTools       int         `json:"total_tools"`
	AuthStats        store.Stats `json:"auth_stats"`
}

// ConnectorsResponse is the JSON response for GET /connectors.
type ConnectorsResponse struct {
	Connectors      []connector.UnitInfo `json:"connectors"`
	TotalConnectors int                  `json:"total_connectors"`
}

// ReloadResponse is the JSON response for POST /connectors/{name}/reload.
type ReloadResponse struct {
	Status     string `json:"status"`
	Connector  string `json:"connector"`
	TotalTools int    `json:"total_tools"`
}

// CreateUserRequest is the JSON request body for POST /api/users.
type CreateUserRequest struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// TokenResponse is the JSON response for POST /api/users/{id}/tokens.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// ConnectionsResponse is the JSON response for GET /api/users/{id}/connections.
type ConnectionsResponse struct {
	UserID      string   `json:"user_id"`
	Connections []string `json:"connections"`
}

// handleHealth sweeps expired sessions and reports what is loaded.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := g.identities.CleanupExpiredSessions(ctx); err != nil {
		g.logger.Warn("session cleanup failed during health check", "error", err)
	}

	stats, err := store.CollectStats(ctx, g.identities, g.credentials)
	if err != nil {
		g.logger.Error("collecting store stats", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	h := g.dispatch.Health()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		ConnectorsLoaded: h.UnitsLoaded,
		TotalTools:       h.TotalTools,
		AuthStats:        stats,
	})
}

// handleManifest handles GET /tools/manifest.
func (g *Gateway) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.dispatch.Catalog())
}

// handleCall handles POST /tools/call. Tool failures still answer 200; the
// body's success flag carries the outcome.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	var req dispatch.CallRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	caller := auth.FromContext(r.Context())
	if !caller.IsService() {
		if req.UserID == "" {
			req.UserID = caller.UserID
		} else if !caller.CanActFor(req.UserID) {
			writeError(w, http.StatusForbidden, "cannot call tools as another user")
			return
		}
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(RequestIDHeader)
	}

	writeJSON(w, http.StatusOK, g.dispatch.Call(r.Context(), req))
}

// handleListConnectors handles GET /connectors.
func (g *Gateway) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	units := g.dispatch.Units()
	writeJSON(w, http.StatusOK, ConnectorsResponse{
		Connectors:      units,
		TotalConnectors: len(units),
	})
}

// handleReload handles POST /connectors/{name}/reload.
func (g *Gateway) handleReload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := connector.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.dispatch.Reload(r.Context(), name); err != nil {
		if connector.IsNotFound(err) || errors.Is(err, connector.ErrManifestMissing) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		g.logger.Error("connector reload failed", "connector", name, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReloadResponse{
		Status:     "reloaded",
		Connector:  name,
		TotalTools: g.dispatch.Health().TotalTools,
	})
}

// handleCreateUser handles POST /api/users.
func (g *Gateway) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user := &store.User{ID: req.ID, Email: req.Email, DisplayName: req.DisplayName}
	if err := g.identities.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		g.logger.Error("creating user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("user created", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// handleCreateSession handles POST /api/users/{id}/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	session, err := g.identities.CreateSession(r.Context(), userID, g.config.Credentials.SessionTTL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		g.logger.Error("creating session", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	deleted, err := g.identities.DeleteSession(r.Context(), sessionID)
	if err != nil {
		g.logger.Error("deleting session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleIssueToken handles POST /api/users/{id}/tokens.
func (g *Gateway) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if g.tokens == nil {
		writeError(w, http.StatusNotImplemented, "bearer tokens are not enabled")
		return
	}

	userID := chi.URLParam(r, "id")
	if !g.userExists(w, r, userID) {
		return
	}

	token, claims, err := g.tokens.Issue(userID, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("generating token", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.logger.Info("token issued", "user_id", userID, "token_id", claims.TokenID)
	writeJSON(w, http.StatusCreated, TokenResponse{
		Token:     token,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt.UTC(),
		UserID:    userID,
	})
}

// handleRevokeToken handles DELETE /api/users/{id}/tokens/{tokenID}. The
// revocation is kept for the longest lifetime a token can currently have.
func (g *Gateway) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if g.tokens == nil {
		writeError(w, http.StatusNotImplemented, "bearer tokens are not enabled")
		return
	}
	userID, ok := g.authorizeUser(w, r)
	if !ok {
		return
	}
	tokenID := chi.URLParam(r, "tokenID")

	expiresAt := time.Now().Add(g.config.Auth.TokenTTL)
	if err := g.identities.RevokeToken(r.Context(), userID, tokenID, expiresAt); err != nil {
		g.logger.Error("revoking token", "user_id", userID, "token_id", tokenID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.logger.Info("token revoked", "user_id", userID, "token_id", tokenID)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true, "user_id": userID, "token_id": tokenID})
}

// handleListConnections handles GET /api/users/{id}/connections.
func (g *Gateway) handleListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.authorizeUser(w, r)
	if !ok {
		return
	}

	connections, err := g.credentials.ListConnections(r.Context(), userID)
	if err != nil {
		g.logger.Error("listing connections", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if connections == nil {
		connections = []string{}
	}
	writeJSON(w, http.StatusOK, ConnectionsResponse{UserID: userID, Connections: connections})
}

// handlePutCredentials handles PUT /api/users/{id}/credentials/{connector}.
// The body is the opaque credential bundle handed to the connector.
func (g *Gateway) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.authorizeUser(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "connector")
	if err := connector.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var data map[string]any
	if err := decodeBody(w, r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "credentials must be a non-empty object")
		return
	}

	if !g.userExists(w, r, userID) {
		return
	}
	if err := g.credentials.PutCredentials(r.Context(), userID, name, data); err != nil {
		g.logger.Error("storing credentials", "user_id", userID, "connector", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("credentials stored", "user_id", userID, "connector", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "user_id": userID, "connector": name})
}

// handleDeleteCredentials handles DELETE /api/users/{id}/credentials/{connector}.
func (g *Gateway) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.authorizeUser(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "connector")

	deleted, err := g.credentials.DeleteCredentials(r.Context(), userID, name)
	if err != nil {
		g.logger.Error("deleting credentials", "user_id", userID, "connector", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "credentials not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleAuthStats handles GET /dev/auth/stats.
func (g *Gateway) handleAuthStats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.CollectStats(r.Context(), g.identities, g.credentials)
	if err != nil {
		g.logger.Error("collecting store stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// authorizeUser reads the {id} path parameter and checks the caller may act
// for that user. It writes the error response itself.
func (g *Gateway) authorizeUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "id")
	if !auth.FromContext(r.Context()).CanActFor(userID) {
		writeError(w, http.StatusForbidden, "cannot access another user's data")
		return "", false
	}
	return userID, true
}

func (g *Gateway) userExists(w http.ResponseWriter, r *http.Request, userID string) bool {
	_, err := g.identities.GetUser(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return false
	case err != nil:
		g.logger.Error("looking up user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	auth.WriteError(w, status, message)
}
