// ABOUTME: chi route table for the gateway HTTP surface
// ABOUTME: Applies request IDs, panic recovery, CORS, and per-route auth middleware

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the HTTP handler. Open routes are read-only; everything that
// runs a tool or touches user data sits behind auth.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", g.handleHealth)
	r.Get("/tools/manifest", g.handleManifest)
	r.Get("/connectors", g.handleListConnectors)

	r.Group(func(r chi.Router) {
		r.Use(g.authn.RequireAuth())
		r.Post("/tools/call", g.handleCall)
		r.Post("/connectors/{name}/reload", g.handleReload)

		r.Get("/api/users/{id}/connections", g.handleListConnections)
		r.Put("/api/users/{id}/credentials/{connector}", g.handlePutCredentials)
		r.Delete("/api/users/{id}/credentials/{connector}", g.handleDeleteCredentials)
		r.Delete("/api/users/{id}/tokens/{tokenID}", g.handleRevokeToken)

		if g.mcpServer != nil {
			r.Handle(g.config.MCP.Path, g.mcpServer.Handler())
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(g.authn.RequireService())
		r.Post("/api/users", g.handleCreateUser)
		r.Post("/api/users/{id}/sessions", g.handleCreateSession)
		r.Delete("/api/sessions/{id}", g.handleDeleteSession)
		r.Post("/api/users/{id}/tokens", g.handleIssueToken)
	})

	if g.config.DevEndpoints {
		r.Get("/dev/auth/stats", g.handleAuthStats)
		g.logger.Warn("development endpoints enabled")
	}

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.HandlerFor(g.metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth, X-User-ID, X-Request-ID, Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
