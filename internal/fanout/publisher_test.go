package fanout

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ernie/warden/internal/domain"
)

type sliceSink struct {
	mu     sync.Mutex
	events []string
}

func (s *sliceSink) Publish(e domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, e.Type)
	s.mu.Unlock()
}

func TestPublisher_FansOut(t *testing.T) {
	a, b := &sliceSink{}, &sliceSink{}
	p := NewPublisher(a)
	p.Attach(b)

	p.Publish(domain.NewEvent(domain.EventPlayerConnected, 1, nil))
	p.Publish(domain.NewEvent(domain.EventPlayerDisconnected, 1, nil))

	want := []string{domain.EventPlayerConnected, domain.EventPlayerDisconnected}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)
}

func TestPublisher_HubSink(t *testing.T) {
	h := NewHub(HubOptions{RingSize: 5})
	p := NewPublisher(h)
	p.Publish(domain.NewEvent(domain.EventSecurityAlert, 0, domain.SecurityAlertEvent{Command: "ban"}))
	assert.Equal(t, 1, h.Stats().Size)
}
