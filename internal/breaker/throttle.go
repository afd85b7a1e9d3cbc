package breaker

import (
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ernie/warden/internal/domain"
)

// Throttle limits how often one actor may repeat a command against the
// same target
type Throttle struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*throttleEntry
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows one command per cooldown per (actor, target, command)
func NewThrottle(cooldown time.Duration) *Throttle {
	return &Throttle{
		cooldown: cooldown,
		now:      time.Now,
		limiters: make(map[string]*throttleEntry),
	}
}

// Allow consumes a token or returns a Throttled error naming the wait
func (t *Throttle) Allow(actorID, target, command string) error {
	if t.cooldown <= 0 {
		return nil
	}
	key := actorID + "\x00" + strings.ToLower(target) + "\x00" + strings.ToLower(command)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(rate.Every(t.cooldown), 1)}
		t.limiters[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		secs := int(math.Ceil(delay.Seconds()))
		return domain.Errorf(domain.CodeThrottled, "%s on %s used too recently, wait %ds", command, target, secs)
	}
	return nil
}

// Prune forgets keys idle for longer than the cooldown
func (t *Throttle) Prune() {
	cutoff := t.now().Add(-t.cooldown)
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(t.limiters, k)
		}
	}
}
