package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/domain"
)

// clientIP extracts the real client IP, checking proxy headers first
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleAuditStream upgrades to a WebSocket that receives the recent event
// backlog followed by live events. Browsers cannot set headers on a
// WebSocket handshake, so the token may also come from ?token=.
func (r *Router) handleAuditStream(w http.ResponseWriter, req *http.Request) {
	token := bearerToken(req)
	if token == "" {
		token = req.URL.Query().Get("token")
	}
	actor, err := r.authenticate(req, token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authz.RequirePermission(actor, domain.PermAuditView); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("user", actor.Name).Str("ip", clientIP(req)).Msg("Audit stream client connected")
	r.Hub.ServeWS(w, req)
}

// handleAuditLogs returns filtered audit records with the total match count
func (r *Router) handleAuditLogs(w http.ResponseWriter, req *http.Request) {
	filter, err := parseAuditFilter(req)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, total, err := r.Store.ListExecutions(req.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}
