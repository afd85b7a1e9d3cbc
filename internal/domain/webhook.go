package domain

import (
	"encoding/json"
	"time"
)

// Delivery statuses
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// WebhookEndpoint is a third-party receiver of domain events
type WebhookEndpoint struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Secret     string        `json:"-"`
	Events     []string      `json:"events"`
	Active     bool          `json:"active"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Timeout    time.Duration `json:"timeout"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Subscribes reports whether the endpoint wants events of the given type
func (e WebhookEndpoint) Subscribes(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType || ev == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery is one event queued for one endpoint
type WebhookDelivery struct {
	ID           string          `json:"id"`
	EndpointID   int64           `json:"endpoint_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	ResponseCode int             `json:"response_code,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
}
