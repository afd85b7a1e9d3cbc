package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

// WebhookRequest is the request body for creating or updating an endpoint.
// An empty secret on update keeps the stored one.
type WebhookRequest struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Secret       string   `json:"secret"`
	Events       []string `json:"events"`
	Active       *bool    `json:"active"`
	MaxRetries   int      `json:"max_retries"`
	RetryDelayMS int64    `json:"retry_delay_ms"`
	TimeoutMS    int64    `json:"timeout_ms"`
}

func (b WebhookRequest) apply(ep *domain.WebhookEndpoint) error {
	ep.Name = strings.TrimSpace(b.Name)
	if ep.Name == "" {
		return badRequest("name is required")
	}
	if err := validateWebhookURL(b.URL); err != nil {
		return err
	}
	if err := validateEvents(b.Events); err != nil {
		return err
	}
	if b.MaxRetries < 0 || b.RetryDelayMS < 0 || b.TimeoutMS < 0 {
		return badRequest("max_retries, retry_delay_ms and timeout_ms must not be negative")
	}
	ep.URL = b.URL
	ep.Events = b.Events
	if b.Secret != "" {
		ep.Secret = b.Secret
	}
	ep.Active = b.Active == nil || *b.Active
	ep.MaxRetries = b.MaxRetries
	if ep.MaxRetries == 0 {
		ep.MaxRetries = 3
	}
	ep.RetryDelay = time.Duration(b.RetryDelayMS) * time.Millisecond
	if ep.RetryDelay == 0 {
		ep.RetryDelay = 30 * time.Second
	}
	ep.Timeout = time.Duration(b.TimeoutMS) * time.Millisecond
	if ep.Timeout == 0 {
		ep.Timeout = 10 * time.Second
	}
	return nil
}

func (r *Router) handleListWebhooks(w http.ResponseWriter, req *http.Request) {
	hooks, err := r.Store.ListWebhooks(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (r *Router) handleGetWebhook(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ep, err := r.Store.GetWebhook(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (r *Router) handleCreateWebhook(w http.ResponseWriter, req *http.Request) {
	var body WebhookRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	var ep domain.WebhookEndpoint
	if err := body.apply(&ep); err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.CreateWebhook(req.Context(), &ep); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Int64("webhook_id", ep.ID).Str("url", ep.URL).Str("by", actorFrom(req.Context()).Name).Msg("Webhook created")
	writeJSON(w, http.StatusCreated, ep)
}

func (r *Router) handleUpdateWebhook(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body WebhookRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}
	ep, err := r.Store.GetWebhook(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := body.apply(ep); err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.UpdateWebhook(req.Context(), ep); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (r *Router) handleDeleteWebhook(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.Store.DeleteWebhook(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "webhook deleted"})
}

// handleTestWebhook delivers a webhook.test event synchronously and
// returns the delivery, successful or not
func (r *Router) handleTestWebhook(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := r.Webhooks.Test(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (r *Router) handleListDeliveries(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := r.Store.GetWebhook(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	deliveries, err := r.Store.ListDeliveries(req.Context(), id, parseLimit(req, 50, 500))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}
