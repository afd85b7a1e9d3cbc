package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

func (r *Router) handleListCommands(w http.ResponseWriter, req *http.Request) {
	cmds, err := r.Engine.Commands(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (r *Router) handleGetCommand(w http.ResponseWriter, req *http.Request) {
	cmd, err := r.Store.GetCommand(req.Context(), req.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (r *Router) handleCreateCommand(w http.ResponseWriter, req *http.Request) {
	var def domain.CustomCommand
	if err := decodeBody(req, &def); err != nil {
		writeError(w, err)
		return
	}
	created, err := r.Engine.CreateCommand(req.Context(), actorFrom(req.Context()), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleUpdateCommand(w http.ResponseWriter, req *http.Request) {
	var def domain.CustomCommand
	if err := decodeBody(req, &def); err != nil {
		writeError(w, err)
		return
	}
	name := req.PathValue("name")
	if def.Name != "" && !strings.EqualFold(def.Name, name) {
		writeError(w, badRequest("command name cannot be changed"))
		return
	}
	def.Name = name
	updated, err := r.Engine.UpdateCommand(req.Context(), actorFrom(req.Context()), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleDeleteCommand(w http.ResponseWriter, req *http.Request) {
	if err := r.Engine.DeleteCommand(req.Context(), actorFrom(req.Context()), req.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "command deleted"})
}

func (r *Router) handleListGroups(w http.ResponseWriter, req *http.Request) {
	groups, err := r.Store.ListGroups(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// GroupRequest is the request body for creating a group
type GroupRequest struct {
	Name        string   `json:"name"`
	Power       int      `json:"power"`
	Permissions []string `json:"permissions"`
}

func (r *Router) handleCreateGroup(w http.ResponseWriter, req *http.Request) {
	var body GroupRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	name := strings.ToLower(strings.TrimSpace(body.Name))
	if name == "" {
		writeError(w, badRequest("name is required"))
		return
	}
	g := &domain.Group{Name: name, Power: body.Power, Permissions: body.Permissions}
	if err := r.Store.CreateGroup(req.Context(), g); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("group", g.Name).Int("power", g.Power).Str("by", actorFrom(req.Context()).Name).Msg("Group created")
	writeJSON(w, http.StatusCreated, g)
}
