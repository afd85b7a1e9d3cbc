package fanout

import (
	"sync"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

// Sink receives published events. Implementations must not block.
type Sink interface {
	Publish(event domain.Event)
}

// Publisher fans each event out to every attached sink
type Publisher struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewPublisher creates a publisher over the given sinks
func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks}
}

// Attach adds a sink
func (p *Publisher) Attach(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// Publish sends the event to every sink
func (p *Publisher) Publish(event domain.Event) {
	metrics.EventsPublishedTotal.WithLabelValues(event.Type).Inc()
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sinks {
		s.Publish(event)
	}
}
