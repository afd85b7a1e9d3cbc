package api

import (
	"net/http"
	"time"
)

// DisableRequest is the optional body of a manual shutdown. A zero
// duration keeps the command disabled until it is re-enabled by hand.
type DisableRequest struct {
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (r *Router) handleListDisabled(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.Breaker.Disabled())
}

func (r *Router) handleDisable(w http.ResponseWriter, req *http.Request) {
	var body DisableRequest
	if req.ContentLength != 0 {
		if err := decodeBody(req, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.DurationMinutes < 0 {
		writeError(w, badRequest("duration_minutes must not be negative"))
		return
	}
	command := req.PathValue("command")
	if _, err := r.Store.GetCommand(req.Context(), command); err != nil {
		writeError(w, err)
		return
	}
	shutdown, err := r.Breaker.Disable(req.Context(), actorFrom(req.Context()), command, body.Reason,
		time.Duration(body.DurationMinutes)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shutdown)
}

func (r *Router) handleReenable(w http.ResponseWriter, req *http.Request) {
	command := req.PathValue("command")
	if err := r.Breaker.Reenable(req.Context(), actorFrom(req.Context()), command); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"command": command, "status": "enabled"})
}
