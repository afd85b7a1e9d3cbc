package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

// ServerRequest is the request body for creating or updating a server.
// An empty rcon_password on update keeps the stored one.
type ServerRequest struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	RconPort     int    `json:"rcon_port"`
	RconPassword string `json:"rcon_password"`
	GameLogPath  string `json:"game_log_path"`
	MaxPlayers   int    `json:"max_players"`
	IsActive     *bool  `json:"is_active"`
	IsDefault    bool   `json:"is_default"`
}

func (b ServerRequest) apply(srv *domain.ServerTarget) error {
	srv.Name = strings.TrimSpace(b.Name)
	srv.Host = strings.TrimSpace(b.Host)
	if srv.Name == "" || srv.Host == "" {
		return badRequest("name and host are required")
	}
	srv.RconPort = b.RconPort
	if srv.RconPort == 0 {
		srv.RconPort = 28960
	}
	if srv.RconPort < 1 || srv.RconPort > 65535 {
		return badRequest("rcon_port out of range")
	}
	if b.RconPassword != "" {
		srv.RconPassword = b.RconPassword
	}
	srv.GameLogPath = b.GameLogPath
	srv.MaxPlayers = b.MaxPlayers
	if srv.MaxPlayers == 0 {
		srv.MaxPlayers = 32
	}
	srv.IsActive = b.IsActive == nil || *b.IsActive
	srv.IsDefault = b.IsDefault
	return nil
}

func (r *Router) handleListServers(w http.ResponseWriter, req *http.Request) {
	servers, err := r.Store.ListServers(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	srv, err := r.Store.GetServer(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (r *Router) handleCreateServer(w http.ResponseWriter, req *http.Request) {
	var body ServerRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	var srv domain.ServerTarget
	if err := body.apply(&srv); err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.CreateServer(req.Context(), &srv); err != nil {
		writeError(w, err)
		return
	}
	r.activate(srv)
	log.Info().Int64("server_id", srv.ID).Str("server", srv.Name).Str("by", actorFrom(req.Context()).Name).Msg("Server added")
	writeJSON(w, http.StatusCreated, srv)
}

func (r *Router) handleUpdateServer(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body ServerRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	srv, err := r.Store.GetServer(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := body.apply(srv); err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.UpdateServer(req.Context(), srv); err != nil {
		writeError(w, err)
		return
	}
	r.activate(*srv)
	log.Info().Int64("server_id", srv.ID).Str("server", srv.Name).Str("by", actorFrom(req.Context()).Name).Msg("Server updated")
	writeJSON(w, http.StatusOK, srv)
}

func (r *Router) handleDeleteServer(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.DeleteServer(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	r.Live.Unwatch(id)
	r.Conns.Remove(id)
	log.Info().Int64("server_id", id).Str("by", actorFrom(req.Context()).Name).Msg("Server removed")
	writeJSON(w, http.StatusOK, map[string]string{"message": "server deleted"})
}

// activate hands a stored server to the connection manager and the log
// processor
func (r *Router) activate(srv domain.ServerTarget) {
	r.Conns.Upsert(srv)
	if srv.IsActive {
		r.Live.Watch(r.ctx, srv)
	} else {
		r.Live.Unwatch(srv.ID)
	}
}
