package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/warden/internal/domain"
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseOffset parses and validates an offset parameter
func parseOffset(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// parseServerParam reads the optional server_id query parameter. Zero
// means the default server.
func parseServerParam(r *http.Request) (int64, error) {
	s := r.URL.Query().Get("server_id")
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, badRequest("invalid server_id %q", s)
	}
	return id, nil
}

// parseAuditFilter builds an audit query from the request's parameters
func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	f := domain.AuditFilter{
		ActorID: q.Get("actor"),
		Command: strings.ToLower(q.Get("command")),
		Limit:   parseLimit(r, 50, 500),
		Offset:  parseOffset(r),
	}
	if s := q.Get("server_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return f, badRequest("invalid server_id %q", s)
		}
		f.ServerID = &id
	}
	if s := q.Get("success"); s != "" {
		ok, err := strconv.ParseBool(s)
		if err != nil {
			return f, badRequest("invalid success %q", s)
		}
		f.Success = &ok
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, badRequest("since must be RFC3339")
		}
		f.Since = &t
	}
	return f, nil
}

// validateWebhookURL accepts absolute http and https URLs
func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return badRequest("url must be an absolute http or https URL")
	}
	return nil
}

var webhookEvents = func() map[string]bool {
	m := map[string]bool{"*": true}
	for _, e := range domain.WebhookEventTypes {
		m[e] = true
	}
	return m
}()

// validateEvents checks subscriptions against the event catalogue
func validateEvents(events []string) error {
	if len(events) == 0 {
		return badRequest("at least one event is required")
	}
	for _, e := range events {
		if !webhookEvents[e] {
			return badRequest("unknown event %q", e)
		}
	}
	return nil
}
