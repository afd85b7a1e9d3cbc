package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TempBanRequest is the request body for a timed ban. Duration uses the
// in-game form, such as 30m, 2h or 7d.
type TempBanRequest struct {
	ServerID int64  `json:"server_id"`
	Player   string `json:"player"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

func (r *Router) handleTempBan(w http.ResponseWriter, req *http.Request) {
	var body TempBanRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	player := strings.TrimSpace(body.Player)
	reason := strings.TrimSpace(body.Reason)
	if player == "" || reason == "" || body.Duration == "" {
		writeError(w, badRequest("player, duration and reason are required"))
		return
	}
	r.execute(w, req, body.ServerID, "tempban", []string{player, body.Duration, reason})
}

func (r *Router) handleListTempBans(w http.ResponseWriter, req *http.Request) {
	bans, err := r.Store.ListActiveTempBans(req.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bans)
}

func (r *Router) handleRevokeTempBan(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.RevokeTempBan(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Int64("id", id).Str("by", actorFrom(req.Context()).Name).Msg("Temp ban revoked")
	writeJSON(w, http.StatusOK, map[string]string{"message": "temp ban revoked"})
}
