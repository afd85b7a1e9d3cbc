package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

func TestWebhooks_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w := &domain.WebhookEndpoint{
		Name:       "discord-relay",
		URL:        "https://hooks.example.com/warden",
		Secret:     "s3cret",
		Events:     []string{domain.EventPlayerBanned, domain.EventSecurityAlert},
		Active:     true,
		MaxRetries: 5,
		RetryDelay: 30 * time.Second,
		Timeout:    2500 * time.Millisecond,
	}
	require.NoError(t, s.CreateWebhook(ctx, w))

	got, err := s.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Events, got.Events)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, 30*time.Second, got.RetryDelay)
	assert.Equal(t, 2500*time.Millisecond, got.Timeout)

	w.Active = false
	require.NoError(t, s.UpdateWebhook(ctx, w))
	active, err := s.ListActiveWebhooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListWebhooks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteWebhook(ctx, w.ID))
	_, err = s.GetWebhook(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeliveries_DueAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w := &domain.WebhookEndpoint{Name: "x", URL: "http://127.0.0.1:1", Events: []string{"*"}, Active: true, MaxRetries: 3}
	require.NoError(t, s.CreateWebhook(ctx, w))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(domain.NewEvent(domain.EventPlayerBanned, 1, nil))
	retry := now.Add(30 * time.Second)
	d := &domain.WebhookDelivery{
		ID: "d-1", EndpointID: w.ID, EventType: domain.EventPlayerBanned, Payload: payload,
		Status: domain.DeliveryPending, NextRetryAt: &retry, CreatedAt: now,
	}
	require.NoError(t, s.CreateDelivery(ctx, d))

	due, err := s.DueDeliveries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.DueDeliveries(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.JSONEq(t, string(payload), string(due[0].Payload))

	delivered := now.Add(31 * time.Second)
	d.Status = domain.DeliveryDelivered
	d.AttemptCount = 2
	d.NextRetryAt = nil
	d.ResponseCode = 200
	d.DeliveredAt = &delivered
	require.NoError(t, s.UpdateDelivery(ctx, d))

	got, err := s.GetDelivery(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Nil(t, got.NextRetryAt)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, delivered.Equal(*got.DeliveredAt))

	due, err = s.DueDeliveries(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	list, err := s.ListDeliveries(ctx, w.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Deliveries go with their endpoint
	require.NoError(t, s.DeleteWebhook(ctx, w.ID))
	_, err = s.GetDelivery(ctx, "d-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
