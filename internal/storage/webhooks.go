package storage

import (
	"context"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const webhookColumns = `id, name, url, secret, events, active, max_retries, retry_delay_ms, timeout_ms, created_at`

const deliveryColumns = `id, webhook_id, event_type, payload, status, attempt_count, next_retry_at,
	last_error, response_code, created_at, delivered_at`

// ListWebhooks returns every endpoint
func (s *Store) ListWebhooks(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	return s.queryWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY id`)
}

// ListActiveWebhooks returns the endpoints that receive events
func (s *Store) ListActiveWebhooks(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	return s.queryWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE active = TRUE ORDER BY id`)
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...any) ([]domain.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// GetWebhook returns an endpoint by ID
func (s *Store) GetWebhook(ctx context.Context, id int64) (*domain.WebhookEndpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err != nil {
		return nil, notFound(err, "webhook %d not found", id)
	}
	return w, nil
}

// CreateWebhook inserts an endpoint
func (s *Store) CreateWebhook(ctx context.Context, w *domain.WebhookEndpoint) error {
	w.CreatedAt = s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (name, url, secret, events, active, max_retries, retry_delay_ms, timeout_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.Name, w.URL, w.Secret, encodeList(w.Events), w.Active, w.MaxRetries,
		w.RetryDelay.Milliseconds(), w.Timeout.Milliseconds(), formatTimestamp(w.CreatedAt))
	if err != nil {
		return err
	}
	w.ID, err = res.LastInsertId()
	return err
}

// UpdateWebhook replaces an endpoint's settings
func (s *Store) UpdateWebhook(ctx context.Context, w *domain.WebhookEndpoint) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events = ?, active = ?, max_retries = ?,
			retry_delay_ms = ?, timeout_ms = ?
		WHERE id = ?
	`, w.Name, w.URL, w.Secret, encodeList(w.Events), w.Active, w.MaxRetries,
		w.RetryDelay.Milliseconds(), w.Timeout.Milliseconds(), w.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "webhook %d not found", w.ID)
}

// DeleteWebhook removes an endpoint and its deliveries
func (s *Store) DeleteWebhook(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "webhook %d not found", id)
}

// CreateDelivery inserts a delivery row
func (s *Store) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status, attempt_count,
			next_retry_at, last_error, response_code, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.EndpointID, d.EventType, string(d.Payload), d.Status, d.AttemptCount,
		nullTimestamp(d.NextRetryAt), nullString(d.LastError), d.ResponseCode,
		formatTimestamp(d.CreatedAt), nullTimestamp(d.DeliveredAt))
	return err
}

// UpdateDelivery stores the outcome of an attempt
func (s *Store) UpdateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, attempt_count = ?, next_retry_at = ?, last_error = ?,
			response_code = ?, delivered_at = ?
		WHERE id = ?
	`, d.Status, d.AttemptCount, nullTimestamp(d.NextRetryAt), nullString(d.LastError),
		d.ResponseCode, nullTimestamp(d.DeliveredAt), d.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "delivery %s not found", d.ID)
}

// GetDelivery returns a delivery by ID
func (s *Store) GetDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, notFound(err, "delivery %s not found", id)
	}
	return d, nil
}

// ListDeliveries returns an endpoint's deliveries, newest first
func (s *Store) ListDeliveries(ctx context.Context, webhookID int64, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.queryDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE webhook_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, webhookID, limit)
}

// DueDeliveries returns pending deliveries whose retry time has passed
func (s *Store) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	return s.queryDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at LIMIT ?
	`, domain.DeliveryPending, formatTimestamp(now), limit)
}

func (s *Store) queryDeliveries(ctx context.Context, query string, args ...any) ([]domain.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
