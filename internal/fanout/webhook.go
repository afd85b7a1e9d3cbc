package fanout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

const (
	userAgent      = "warden-webhooks/1.0"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// WebhookStore persists endpoints and delivery rows
type WebhookStore interface {
	ListActiveWebhooks(ctx context.Context) ([]domain.WebhookEndpoint, error)
	GetWebhook(ctx context.Context, id int64) (*domain.WebhookEndpoint, error)
	CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
}

// WebhookOptions configure delivery workers
type WebhookOptions struct {
	Workers       int
	RetryInterval time.Duration
	QueueSize     int
	Client        *http.Client
}

// WebhookStats describes the delivery queue
type WebhookStats struct {
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
	Workers  int `json:"workers"`
}

type deliveryJob struct {
	endpoint domain.WebhookEndpoint
	delivery domain.WebhookDelivery
}

// Webhooks turns events into signed HTTP deliveries with linear retry
type Webhooks struct {
	store  WebhookStore
	client *http.Client
	opts   WebhookOptions
	now    func() time.Time

	events chan domain.Event
	jobs   chan deliveryJob

	mu       sync.Mutex
	inFlight map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhooks creates a dispatcher; Start launches its workers
func NewWebhooks(store WebhookStore, opts WebhookOptions) *Webhooks {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Webhooks{
		store:    store,
		client:   client,
		opts:     opts,
		now:      time.Now,
		events:   make(chan domain.Event, opts.QueueSize),
		jobs:     make(chan deliveryJob, opts.QueueSize),
		inFlight: make(map[string]bool),
	}
}

// Publish queues an event for delivery without blocking
func (w *Webhooks) Publish(event domain.Event) {
	select {
	case w.events <- event:
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		log.Warn().Str("event", event.Type).Msg("Webhook queue full, dropping event")
	}
}

// Start launches the enqueue loop, delivery workers and the retry worker
func (w *Webhooks) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-w.events:
				if _, err := w.Enqueue(ctx, event); err != nil {
					log.Error().Err(err).Str("event", event.Type).Msg("Error creating webhook deliveries")
				}
			}
		}
	}()

	for i := 0; i < w.opts.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.jobs:
					w.Deliver(ctx, job.endpoint, &job.delivery)
					w.release(job.delivery.ID)
				}
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.opts.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.scheduleDue(ctx)
			}
		}
	}()
}

// Stop cancels the workers and waits for them to exit
func (w *Webhooks) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Stats returns queue depth and in-flight deliveries
func (w *Webhooks) Stats() WebhookStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WebhookStats{
		Queued:   len(w.jobs) + len(w.events),
		InFlight: len(w.inFlight),
		Workers:  w.opts.Workers,
	}
}

// Enqueue creates a pending delivery for every active endpoint subscribed
// to the event and hands them to the workers
func (w *Webhooks) Enqueue(ctx context.Context, event domain.Event) ([]domain.WebhookDelivery, error) {
	endpoints, err := w.store.ListActiveWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}

	var created []domain.WebhookDelivery
	for _, ep := range endpoints {
		if !ep.Subscribes(event.Type) {
			continue
		}
		d, err := w.newDelivery(ctx, ep, event)
		if err != nil {
			log.Error().Err(err).Int64("webhook_id", ep.ID).Msg("Error creating webhook delivery")
			continue
		}
		created = append(created, *d)
		w.schedule(ep, *d)
	}
	return created, nil
}

// Test sends a webhook.test event to one endpoint and waits for the
// outcome. Test deliveries get a single attempt and are never retried.
func (w *Webhooks) Test(ctx context.Context, endpointID int64) (*domain.WebhookDelivery, error) {
	ep, err := w.store.GetWebhook(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	event := domain.NewEvent(domain.EventWebhookTest, 0, map[string]string{
		"message": "This is a test webhook delivery",
		"webhook": ep.Name,
	})
	once := *ep
	once.MaxRetries = 1
	d, err := w.newDelivery(ctx, once, event)
	if err != nil {
		return nil, err
	}
	w.Deliver(ctx, once, d)
	return d, nil
}

func (w *Webhooks) newDelivery(ctx context.Context, ep domain.WebhookEndpoint, event domain.Event) (*domain.WebhookDelivery, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	now := w.now().UTC()
	// Lease: a delivery lost before its first attempt is picked up by the
	// retry worker once this passes
	lease := now.Add(endpointTimeout(ep) + w.opts.RetryInterval)
	d := &domain.WebhookDelivery{
		ID:          uuid.NewString(),
		EndpointID:  ep.ID,
		EventType:   event.Type,
		Payload:     payload,
		Status:      domain.DeliveryPending,
		NextRetryAt: &lease,
		CreatedAt:   now,
	}
	if err := w.store.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("saving delivery: %w", err)
	}
	return d, nil
}

func (w *Webhooks) schedule(ep domain.WebhookEndpoint, d domain.WebhookDelivery) {
	if !w.claim(d.ID) {
		return
	}
	select {
	case w.jobs <- deliveryJob{endpoint: ep, delivery: d}:
	default:
		// Stays pending; the retry worker will find it after its lease
		w.release(d.ID)
		log.Warn().Str("delivery_id", d.ID).Msg("Webhook worker queue full")
	}
}

func (w *Webhooks) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[id] {
		return false
	}
	w.inFlight[id] = true
	return true
}

func (w *Webhooks) release(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}

func (w *Webhooks) scheduleDue(ctx context.Context) {
	due, err := w.dueJobs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Error loading due webhook deliveries")
		return
	}
	for _, job := range due {
		w.schedule(job.endpoint, job.delivery)
	}
}

// ProcessDue attempts every delivery whose retry time has passed,
// synchronously, and returns how many were attempted
func (w *Webhooks) ProcessDue(ctx context.Context) (int, error) {
	due, err := w.dueJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range due {
		if !w.claim(job.delivery.ID) {
			continue
		}
		w.Deliver(ctx, job.endpoint, &job.delivery)
		w.release(job.delivery.ID)
		n++
	}
	return n, nil
}

func (w *Webhooks) dueJobs(ctx context.Context) ([]deliveryJob, error) {
	deliveries, err := w.store.DueDeliveries(ctx, w.now().UTC(), 100)
	if err != nil {
		return nil, err
	}
	endpoints := make(map[int64]*domain.WebhookEndpoint)
	var jobs []deliveryJob
	for _, d := range deliveries {
		ep, ok := endpoints[d.EndpointID]
		if !ok {
			ep, err = w.store.GetWebhook(ctx, d.EndpointID)
			if err != nil {
				log.Warn().Err(err).Int64("webhook_id", d.EndpointID).Msg("Webhook for pending delivery is gone")
			}
			endpoints[d.EndpointID] = ep
		}
		if ep == nil {
			continue
		}
		if !ep.Active {
			w.abandon(ctx, d, "webhook is inactive")
			continue
		}
		jobs = append(jobs, deliveryJob{endpoint: *ep, delivery: d})
	}
	return jobs, nil
}

// abandon marks a pending delivery failed without attempting it
func (w *Webhooks) abandon(ctx context.Context, d domain.WebhookDelivery, reason string) {
	d.Status = domain.DeliveryFailed
	d.NextRetryAt = nil
	d.LastError = reason
	metrics.WebhookDeliveriesTotal.WithLabelValues("abandoned").Inc()
	if err := w.store.UpdateDelivery(context.WithoutCancel(ctx), &d); err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("Error updating webhook delivery")
	}
}

// Deliver makes one attempt and records its outcome on d
func (w *Webhooks) Deliver(ctx context.Context, ep domain.WebhookEndpoint, d *domain.WebhookDelivery) {
	code, err := w.post(ctx, ep, d)
	now := w.now().UTC()

	d.AttemptCount++
	d.ResponseCode = code
	if err == nil {
		d.Status = domain.DeliveryDelivered
		d.DeliveredAt = &now
		d.NextRetryAt = nil
		d.LastError = ""
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		log.Debug().Str("delivery_id", d.ID).Int64("webhook_id", ep.ID).Str("event", d.EventType).Msg("Webhook delivered")
	} else {
		d.LastError = err.Error()
		if d.AttemptCount >= maxRetries(ep) {
			d.Status = domain.DeliveryFailed
			d.NextRetryAt = nil
			metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("delivery_id", d.ID).Int64("webhook_id", ep.ID).Int("attempts", d.AttemptCount).Msg("Webhook delivery failed permanently")
		} else {
			next := now.Add(ep.RetryDelay * time.Duration(d.AttemptCount))
			d.Status = domain.DeliveryPending
			d.NextRetryAt = &next
			metrics.WebhookDeliveriesTotal.WithLabelValues("retry").Inc()
			log.Info().Err(err).Str("delivery_id", d.ID).Int64("webhook_id", ep.ID).Time("next_retry_at", next).Msg("Webhook delivery failed, will retry")
		}
	}

	if err := w.store.UpdateDelivery(context.WithoutCancel(ctx), d); err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("Error updating webhook delivery")
	}
}

func (w *Webhooks) post(ctx context.Context, ep domain.WebhookEndpoint, d *domain.WebhookDelivery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, endpointTimeout(ep))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, domain.Wrap(domain.CodeWebhookDeliveryFailed, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Delivery", d.ID)
	req.Header.Set("X-Webhook-Timestamp", w.now().UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(d.Payload, ep.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, domain.Wrap(domain.CodeWebhookDeliveryFailed, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, domain.Errorf(domain.CodeWebhookDeliveryFailed, "HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Sign returns the X-Webhook-Signature value for a payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func endpointTimeout(ep domain.WebhookEndpoint) time.Duration {
	if ep.Timeout <= 0 {
		return defaultTimeout
	}
	return ep.Timeout
}

func maxRetries(ep domain.WebhookEndpoint) int {
	if ep.MaxRetries <= 0 {
		return 1
	}
	return ep.MaxRetries
}
