package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/breaker"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/engine"
	"github.com/ernie/warden/internal/fanout"
	"github.com/ernie/warden/internal/metrics"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/storage"
)

// Connections is the part of the connection manager the API drives
type Connections interface {
	Upsert(target domain.ServerTarget)
	Remove(serverID int64)
	States() []rcon.ConnState
	State(serverID int64) (rcon.ConnState, bool)
}

// LiveServers is the part of the log processor the API drives
type LiveServers interface {
	Watch(ctx context.Context, target domain.ServerTarget)
	Unwatch(serverID int64)
	Status(serverID int64) (domain.ServerStatus, bool)
}

// Deps are the services behind the HTTP API
type Deps struct {
	Store    *storage.Store
	Engine   *engine.Engine
	Breaker  *breaker.Breaker
	Conns    Connections
	Live     LiveServers
	Hub      *fanout.Hub
	Webhooks *fanout.Webhooks
	Auth     *auth.Service

	// RateLimit is requests per second per client IP; zero disables it
	RateLimit float64
	RateBurst int
}

// Router holds the HTTP routes and dependencies
type Router struct {
	Deps
	mux     *http.ServeMux
	handler http.Handler
	// ctx scopes the watches started when servers are added at runtime
	ctx context.Context
}

// NewRouter creates the HTTP router. ctx bounds background work started
// by requests, such as tailing a newly added server's log.
func NewRouter(ctx context.Context, deps Deps) *Router {
	r := &Router{
		Deps: deps,
		mux:  http.NewServeMux(),
		ctx:  ctx,
	}

	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.requireAuth(r.handleAuthCheck))

	// RCON
	r.mux.HandleFunc("POST /api/rcon/command", r.requireAuth(r.handleRconCommand))
	r.mux.HandleFunc("POST /api/rcon/kick", r.requireAuth(r.handleKick))
	r.mux.HandleFunc("POST /api/rcon/ban", r.requireAuth(r.handleBan))
	r.mux.HandleFunc("POST /api/rcon/say", r.requireAuth(r.handleSay))
	r.mux.HandleFunc("POST /api/rcon/tempban", r.requireAuth(r.handleTempBan))
	r.mux.HandleFunc("GET /api/tempbans", r.requirePermission(domain.PermStatusView, r.handleListTempBans))
	r.mux.HandleFunc("DELETE /api/tempbans/{id}", r.requirePermission(domain.PermRconBan, r.handleRevokeTempBan))
	r.mux.HandleFunc("GET /api/rcon/history", r.requirePermission(domain.PermRconCommand, r.handleHistory))
	r.mux.HandleFunc("GET /api/rcon/stats/{scope}", r.requirePermission(domain.PermStatusView, r.handleStats))
	r.mux.HandleFunc("GET /api/status", r.requirePermission(domain.PermStatusView, r.handleStatus))

	// Command definitions
	r.mux.HandleFunc("GET /api/commands", r.requirePermission(domain.PermStatusView, r.handleListCommands))
	r.mux.HandleFunc("GET /api/commands/{name}", r.requirePermission(domain.PermStatusView, r.handleGetCommand))
	r.mux.HandleFunc("POST /api/commands", r.requireAuth(r.handleCreateCommand))
	r.mux.HandleFunc("PUT /api/commands/{name}", r.requireAuth(r.handleUpdateCommand))
	r.mux.HandleFunc("DELETE /api/commands/{name}", r.requireAuth(r.handleDeleteCommand))

	r.mux.HandleFunc("GET /api/groups", r.requirePermission(domain.PermStatusView, r.handleListGroups))
	r.mux.HandleFunc("POST /api/groups", r.requirePermission(domain.PermGroupsManage, r.handleCreateGroup))

	// Servers
	r.mux.HandleFunc("GET /api/servers", r.requirePermission(domain.PermServersManage, r.handleListServers))
	r.mux.HandleFunc("GET /api/servers/{id}", r.requirePermission(domain.PermServersManage, r.handleGetServer))
	r.mux.HandleFunc("POST /api/servers", r.requirePermission(domain.PermServersManage, r.handleCreateServer))
	r.mux.HandleFunc("PUT /api/servers/{id}", r.requirePermission(domain.PermServersManage, r.handleUpdateServer))
	r.mux.HandleFunc("DELETE /api/servers/{id}", r.requirePermission(domain.PermServersManage, r.handleDeleteServer))

	// Emergency shutdowns
	r.mux.HandleFunc("GET /api/emergency/disabled", r.requirePermission(domain.PermStatusView, r.handleListDisabled))
	r.mux.HandleFunc("POST /api/emergency/disable/{command}", r.requirePermission(domain.PermEmergencyManage, r.handleDisable))
	r.mux.HandleFunc("POST /api/emergency/reenable/{command}", r.requirePermission(domain.PermEmergencyManage, r.handleReenable))

	// Webhooks
	r.mux.HandleFunc("GET /api/webhooks", r.requirePermission(domain.PermWebhooksManage, r.handleListWebhooks))
	r.mux.HandleFunc("GET /api/webhooks/{id}", r.requirePermission(domain.PermWebhooksManage, r.handleGetWebhook))
	r.mux.HandleFunc("POST /api/webhooks", r.requirePermission(domain.PermWebhooksManage, r.handleCreateWebhook))
	r.mux.HandleFunc("PUT /api/webhooks/{id}", r.requirePermission(domain.PermWebhooksManage, r.handleUpdateWebhook))
	r.mux.HandleFunc("DELETE /api/webhooks/{id}", r.requirePermission(domain.PermWebhooksManage, r.handleDeleteWebhook))
	r.mux.HandleFunc("POST /api/webhooks/{id}/test", r.requirePermission(domain.PermWebhooksManage, r.handleTestWebhook))
	r.mux.HandleFunc("GET /api/webhooks/{id}/deliveries", r.requirePermission(domain.PermWebhooksManage, r.handleListDeliveries))

	// Audit
	r.mux.HandleFunc("GET /api/audit/logs", r.requirePermission(domain.PermAuditView, r.handleAuditLogs))
	r.mux.HandleFunc("GET /api/audit/stream", r.handleAuditStream)

	// Metrics and health
	r.mux.Handle("GET /metrics", metrics.Handler())
	r.mux.HandleFunc("GET /api/metrics/json", r.requirePermission(domain.PermStatusView, r.handleMetricsJSON))
	r.mux.HandleFunc("GET /health", r.handleHealth)

	var h http.Handler = r.mux
	if deps.RateLimit > 0 {
		h = newIPLimiter(ctx, deps.RateLimit, deps.RateBurst).middleware(h)
	}
	r.handler = logRequests(h)
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	r.handler.ServeHTTP(w, req)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("ip", clientIP(req)).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := r.Store.Ping(req.Context()); err != nil {
		writeError(w, domain.Wrap(domain.CodeInternal, "database unavailable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
