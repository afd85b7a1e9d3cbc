package rcon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ernie/warden/internal/domain"
)

// fakeTransport answers commands through a handler with controllable latency
type fakeTransport struct {
	mu       sync.Mutex
	handler  func(ctx context.Context, command string) (string, error)
	loginErr error
	sent     []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	closed   atomic.Bool
}

func (f *fakeTransport) Login(ctx context.Context) error {
	return f.loginErr
}

func (f *fakeTransport) Exchange(ctx context.Context, command string) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, command)
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return "ok " + command, nil
	}
	return handler(ctx, command)
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeDialer hands out transports from a queue of dial outcomes
type fakeDialer struct {
	mu    sync.Mutex
	dials atomic.Int32
	next  func(n int) (Transport, error)
	gate  chan struct{} // when set, each dial waits for a token
}

func (d *fakeDialer) Dial(ctx context.Context, target domain.ServerTarget) (Transport, error) {
	n := int(d.dials.Add(1))
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	next := d.next
	d.mu.Unlock()
	return next(n)
}

// recordingSink collects published events
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// blockUntilDone simulates a dropped socket: no reply ever arrives
func blockUntilDone(ctx context.Context, command string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

var errRefused = errors.New("connection refused")

func testTarget(id int64) domain.ServerTarget {
	return domain.ServerTarget{
		ID:           id,
		Name:         "test",
		Host:         "127.0.0.1",
		RconPort:     28960,
		RconPassword: "secret",
		IsActive:     true,
	}
}

func fastOptions() Options {
	return Options{
		CommandTimeout: 100 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		BackoffBase:    5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		MaxAttempts:    3,
	}
}
