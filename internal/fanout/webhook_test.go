package fanout

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

type memWebhookStore struct {
	mu         sync.Mutex
	endpoints  map[int64]domain.WebhookEndpoint
	deliveries map[string]domain.WebhookDelivery
}

func newMemWebhookStore(eps ...domain.WebhookEndpoint) *memWebhookStore {
	s := &memWebhookStore{
		endpoints:  make(map[int64]domain.WebhookEndpoint),
		deliveries: make(map[string]domain.WebhookDelivery),
	}
	for _, ep := range eps {
		s.endpoints[ep.ID] = ep
	}
	return s
}

func (s *memWebhookStore) ListActiveWebhooks(context.Context) ([]domain.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WebhookEndpoint
	for _, ep := range s.endpoints {
		if ep.Active {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memWebhookStore) GetWebhook(_ context.Context, id int64) (*domain.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ep, nil
}

func (s *memWebhookStore) CreateDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = *d
	return nil
}

func (s *memWebhookStore) UpdateDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = *d
	return nil
}

func (s *memWebhookStore) DueDeliveries(_ context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status == domain.DeliveryPending && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			out = append(out, d)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memWebhookStore) get(id string) domain.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[id]
}

type capture struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  [][]byte
}

// scriptedServer answers with the given status codes in order, repeating the
// last one
func scriptedServer(t *testing.T, codes ...int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.headers = append(c.headers, r.Header.Clone())
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		i := int(n.Add(1)) - 1
		if i >= len(codes) {
			i = len(codes) - 1
		}
		w.WriteHeader(codes[i])
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func endpoint(url string, maxRetries int) domain.WebhookEndpoint {
	return domain.WebhookEndpoint{
		ID:         1,
		Name:       "discord-relay",
		URL:        url,
		Secret:     "s3cret",
		Events:     []string{domain.EventPlayerBanned, domain.EventSecurityAlert},
		Active:     true,
		MaxRetries: maxRetries,
		RetryDelay: 30 * time.Second,
		Timeout:    2 * time.Second,
	}
}

func newTestWebhooks(store WebhookStore) (*Webhooks, *clock) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w := NewWebhooks(store, WebhookOptions{Workers: 1, RetryInterval: time.Second})
	w.now = clk.Now
	return w, clk
}

// runQueued performs the first attempt for everything Enqueue scheduled
func runQueued(ctx context.Context, w *Webhooks) {
	for {
		select {
		case job := <-w.jobs:
			w.Deliver(ctx, job.endpoint, &job.delivery)
			w.release(job.delivery.ID)
		default:
			return
		}
	}
}

func bannedEvent() domain.Event {
	return domain.NewEvent(domain.EventPlayerBanned, 1, domain.ModerationEvent{
		Target: "Camper", Actor: "alice", Command: "ban",
	})
}

func TestWebhooks_RetryThenDelivered(t *testing.T) {
	ctx := context.Background()
	srv, got := scriptedServer(t, http.StatusInternalServerError, http.StatusOK)
	store := newMemWebhookStore(endpoint(srv.URL, 3))
	w, clk := newTestWebhooks(store)

	created, err := w.Enqueue(ctx, bannedEvent())
	require.NoError(t, err)
	require.Len(t, created, 1)
	id := created[0].ID

	runQueued(ctx, w)
	d := store.get(id)
	assert.Equal(t, domain.DeliveryPending, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	assert.Equal(t, http.StatusInternalServerError, d.ResponseCode)
	require.NotNil(t, d.NextRetryAt)
	assert.Equal(t, clk.Now().Add(30*time.Second), *d.NextRetryAt)

	// Not due yet
	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(30 * time.Second)
	n, err = w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d = store.get(id)
	assert.Equal(t, domain.DeliveryDelivered, d.Status)
	assert.Equal(t, 2, d.AttemptCount)
	assert.Nil(t, d.NextRetryAt)
	assert.NotNil(t, d.DeliveredAt)

	got.mu.Lock()
	defer got.mu.Unlock()
	require.Len(t, got.headers, 2)
	h := got.headers[1]
	assert.Equal(t, domain.EventPlayerBanned, h.Get("X-Webhook-Event"))
	assert.Equal(t, id, h.Get("X-Webhook-Delivery"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.NotEmpty(t, h.Get("X-Webhook-Timestamp"))
	assert.Equal(t, Sign(got.bodies[1], "s3cret"), h.Get("X-Webhook-Signature"))
}

func TestWebhooks_RetryExhaustion(t *testing.T) {
	ctx := context.Background()
	srv, _ := scriptedServer(t, http.StatusBadGateway)
	store := newMemWebhookStore(endpoint(srv.URL, 3))
	w, clk := newTestWebhooks(store)

	created, err := w.Enqueue(ctx, bannedEvent())
	require.NoError(t, err)
	id := created[0].ID
	runQueued(ctx, w)

	// Linear backoff: delay x attempt count
	clk.Advance(30 * time.Second)
	_, err = w.ProcessDue(ctx)
	require.NoError(t, err)
	d := store.get(id)
	assert.Equal(t, 2, d.AttemptCount)
	require.NotNil(t, d.NextRetryAt)
	assert.Equal(t, clk.Now().Add(60*time.Second), *d.NextRetryAt)

	clk.Advance(60 * time.Second)
	_, err = w.ProcessDue(ctx)
	require.NoError(t, err)

	d = store.get(id)
	assert.Equal(t, domain.DeliveryFailed, d.Status)
	assert.Equal(t, 3, d.AttemptCount)
	assert.Nil(t, d.NextRetryAt)
	assert.Contains(t, d.LastError, "HTTP 502")

	clk.Advance(time.Hour)
	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWebhooks_OnlySubscribedActiveEndpoints(t *testing.T) {
	ctx := context.Background()
	srv, _ := scriptedServer(t, http.StatusOK)
	inactive := endpoint(srv.URL, 3)
	inactive.ID = 2
	inactive.Active = false
	everything := endpoint(srv.URL, 3)
	everything.ID = 3
	everything.Events = []string{"*"}
	store := newMemWebhookStore(endpoint(srv.URL, 3), inactive, everything)
	w, _ := newTestWebhooks(store)

	created, err := w.Enqueue(ctx, domain.NewEvent(domain.EventMatchStarted, 1, nil))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(3), created[0].EndpointID)

	created, err = w.Enqueue(ctx, bannedEvent())
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestWebhooks_Test(t *testing.T) {
	ctx := context.Background()
	srv, got := scriptedServer(t, http.StatusNoContent)
	store := newMemWebhookStore(endpoint(srv.URL, 3))
	w, _ := newTestWebhooks(store)

	d, err := w.Test(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, d.Status)
	assert.Equal(t, domain.EventWebhookTest, d.EventType)
	assert.Equal(t, domain.DeliveryDelivered, store.get(d.ID).Status)

	got.mu.Lock()
	assert.Equal(t, domain.EventWebhookTest, got.headers[0].Get("X-Webhook-Event"))
	got.mu.Unlock()

	_, err = w.Test(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWebhooks_TestIsNotRetried(t *testing.T) {
	ctx := context.Background()
	srv, got := scriptedServer(t, http.StatusInternalServerError)
	store := newMemWebhookStore(endpoint(srv.URL, 5))
	w, clk := newTestWebhooks(store)

	d, err := w.Test(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	assert.Nil(t, d.NextRetryAt)
	assert.Equal(t, domain.DeliveryFailed, store.get(d.ID).Status)

	clk.Advance(time.Hour)
	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Len(t, got.headers, 1)
}

func TestWebhooks_InactiveEndpointNotRetried(t *testing.T) {
	ctx := context.Background()
	srv, got := scriptedServer(t, http.StatusBadGateway, http.StatusOK)
	store := newMemWebhookStore(endpoint(srv.URL, 3))
	w, clk := newTestWebhooks(store)

	created, err := w.Enqueue(ctx, bannedEvent())
	require.NoError(t, err)
	id := created[0].ID
	runQueued(ctx, w)
	require.Equal(t, domain.DeliveryPending, store.get(id).Status)

	store.mu.Lock()
	ep := store.endpoints[1]
	ep.Active = false
	store.endpoints[1] = ep
	store.mu.Unlock()

	clk.Advance(time.Minute)
	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	d := store.get(id)
	assert.Equal(t, domain.DeliveryFailed, d.Status)
	assert.Nil(t, d.NextRetryAt)
	assert.Equal(t, "webhook is inactive", d.LastError)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Len(t, got.headers, 1)
}

func TestWebhooks_StartDeliversPublished(t *testing.T) {
	srv, _ := scriptedServer(t, http.StatusOK)
	store := newMemWebhookStore(endpoint(srv.URL, 3))
	w := NewWebhooks(store, WebhookOptions{Workers: 2, RetryInterval: time.Hour})
	w.Start(context.Background())
	defer w.Stop()

	w.Publish(bannedEvent())

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, d := range store.deliveries {
			if d.Status == domain.DeliveryDelivered {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSign(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), "key")
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, sig, len("sha256=")+64)
	assert.Equal(t, sig, Sign([]byte(`{"a":1}`), "key"))
	assert.NotEqual(t, sig, Sign([]byte(`{"a":1}`), "other"))
	assert.NotEqual(t, sig, Sign([]byte(`{"a":2}`), "key"))
}
