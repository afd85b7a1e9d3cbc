package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/engine"
	"github.com/ernie/warden/internal/metrics"
	"github.com/ernie/warden/internal/rcon"
)

// RconRequest is the request body for a raw RCON command
type RconRequest struct {
	ServerID int64  `json:"server_id"`
	Command  string `json:"command"`
}

// ModerationRequest is the request body for kick and ban
type ModerationRequest struct {
	ServerID int64  `json:"server_id"`
	Player   string `json:"player"`
	Reason   string `json:"reason"`
}

// SayRequest is the request body for say
type SayRequest struct {
	ServerID int64  `json:"server_id"`
	Message  string `json:"message"`
}

// handleRconCommand sends a raw command through the raw built-in, so it is
// audited and authorized like every other command
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	var body RconRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.Command) == "" {
		writeError(w, badRequest("command is required"))
		return
	}
	r.execute(w, req, body.ServerID, "raw", strings.Fields(body.Command))
}

func (r *Router) handleKick(w http.ResponseWriter, req *http.Request) {
	r.moderate(w, req, "kick")
}

func (r *Router) handleBan(w http.ResponseWriter, req *http.Request) {
	r.moderate(w, req, "ban")
}

func (r *Router) moderate(w http.ResponseWriter, req *http.Request, command string) {
	var body ModerationRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.Player) == "" {
		writeError(w, badRequest("player is required"))
		return
	}
	args := []string{body.Player}
	if reason := strings.TrimSpace(body.Reason); reason != "" {
		args = append(args, reason)
	}
	r.execute(w, req, body.ServerID, command, args)
}

func (r *Router) handleSay(w http.ResponseWriter, req *http.Request) {
	var body SayRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, badRequest("message is required"))
		return
	}
	r.execute(w, req, body.ServerID, "say", []string{body.Message})
}

func (r *Router) execute(w http.ResponseWriter, req *http.Request, serverID int64, command string, args []string) {
	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	out, err := r.Engine.Execute(req.Context(), engine.Request{
		RequestID: requestID,
		ServerID:  serverID,
		Actor:     actorFrom(req.Context()),
		Command:   command,
		Args:      args,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHistory returns recent executions for one server
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	serverID, err := parseServerParam(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if serverID, err = r.Engine.ResolveServer(req.Context(), serverID); err != nil {
		writeError(w, err)
		return
	}
	entries, total, err := r.Store.ListExecutions(req.Context(), domain.AuditFilter{
		ServerID: &serverID,
		Limit:    parseLimit(req, 50, 500),
		Offset:   parseOffset(req),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

// handleStats serves the server, system and players stat scopes
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	since := time.Now().Add(-24 * time.Hour)

	switch req.PathValue("scope") {
	case "server":
		serverID, err := parseServerParam(req)
		if err == nil {
			serverID, err = r.Engine.ResolveServer(ctx, serverID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		stats, err := r.Store.GetExecutionStats(ctx, &serverID, since)
		if err != nil {
			writeError(w, err)
			return
		}
		conn, _ := r.Conns.State(serverID)
		live, _ := r.Live.Status(serverID)
		writeJSON(w, http.StatusOK, map[string]any{
			"server_id":  serverID,
			"connection": conn,
			"live":       live,
			"commands":   stats,
		})

	case "system":
		stats, err := r.Store.GetExecutionStats(ctx, nil, since)
		if err != nil {
			writeError(w, err)
			return
		}
		online := 0
		for _, s := range r.Conns.States() {
			if s.State == domain.ConnStateOnline {
				online++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"servers_online":    online,
			"commands":          stats,
			"disabled_commands": r.Breaker.Disabled(),
			"stream":            r.Hub.Stats(),
			"webhooks":          r.Webhooks.Stats(),
		})

	case "players":
		stats, err := r.Store.GetPlayerStats(ctx, since)
		if err != nil {
			writeError(w, err)
			return
		}
		online := 0
		for _, s := range r.Conns.States() {
			if live, ok := r.Live.Status(s.ServerID); ok {
				online += live.PlayerCount
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"online":  online,
			"offline": stats,
		})

	default:
		writeError(w, domain.Errorf(domain.CodeNotFound, "unknown stats scope %q", req.PathValue("scope")))
	}
}

// ServerView combines a server's connection state with its live status
type ServerView struct {
	Connection rcon.ConnState       `json:"connection"`
	Live       *domain.ServerStatus `json:"live,omitempty"`
}

// handleStatus returns every managed server with its live state
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	states := r.Conns.States()
	views := make([]ServerView, 0, len(states))
	for _, s := range states {
		v := ServerView{Connection: s}
		if live, ok := r.Live.Status(s.ServerID); ok {
			live.State = s.State
			v.Live = &live
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleMetricsJSON returns a flattened metrics snapshot plus queue stats
func (r *Router) handleMetricsJSON(w http.ResponseWriter, req *http.Request) {
	snap, err := metrics.Snapshot()
	if err != nil {
		writeError(w, domain.Wrap(domain.CodeInternal, "gathering metrics", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":           snap,
		"stream":            r.Hub.Stats(),
		"webhooks":          r.Webhooks.Stats(),
		"disabled_commands": len(r.Breaker.Disabled()),
	})
}
