// Package breaker disables commands that are being abused and re-enables
// them after a cooldown.
package breaker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

// DisabledBySystem marks shutdowns triggered by abuse detection
const DisabledBySystem = "system"

// Store persists emergency shutdowns across restarts
type Store interface {
	SaveShutdown(ctx context.Context, s domain.EmergencyShutdown) error
	// DeleteShutdown removes s only if it is still the stored record
	DeleteShutdown(ctx context.Context, s domain.EmergencyShutdown) error
	ListShutdowns(ctx context.Context) ([]domain.EmergencyShutdown, error)
}

// Publisher receives security events
type Publisher interface {
	Publish(event domain.Event)
}

// Config is the abuse detection policy
type Config struct {
	Window             time.Duration
	AggregateThreshold int
	ActorThreshold     int
	Cooldown           time.Duration
	SweepInterval      time.Duration
	Watched            []string
}

// Breaker owns the authoritative set of disabled commands. Writes come from
// abuse detection, the manual API and the sweeper; everything else reads.
type Breaker struct {
	cfg     Config
	store   Store
	pub     Publisher
	now     func() time.Time
	watched map[string]bool

	mu        sync.Mutex
	disabled  map[string]domain.EmergencyShutdown
	hits      map[string][]time.Time
	actorHits map[string][]time.Time
}

// New creates a breaker. store and pub may be nil.
func New(cfg Config, store Store, pub Publisher) *Breaker {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	b := &Breaker{
		cfg:       cfg,
		store:     store,
		pub:       pub,
		now:       time.Now,
		watched:   make(map[string]bool),
		disabled:  make(map[string]domain.EmergencyShutdown),
		hits:      make(map[string][]time.Time),
		actorHits: make(map[string][]time.Time),
	}
	for _, c := range cfg.Watched {
		b.watched[strings.ToLower(c)] = true
	}
	return b
}

// Load restores persisted shutdowns
func (b *Breaker) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	records, err := b.store.ListShutdowns(ctx)
	if err != nil {
		return fmt.Errorf("loading emergency shutdowns: %w", err)
	}
	b.mu.Lock()
	for _, r := range records {
		b.disabled[strings.ToLower(r.Command)] = r
	}
	metrics.DisabledCommands.Set(float64(len(b.disabled)))
	b.mu.Unlock()
	return nil
}

// Watches reports whether executions of command are counted
func (b *Breaker) Watches(command string) bool {
	return b.watched[strings.ToLower(command)]
}

// IsDisabled implements authz.DisabledSet
func (b *Breaker) IsDisabled(command string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.disabled[strings.ToLower(command)]
	return ok
}

// Disabled returns the current shutdowns sorted by command
func (b *Breaker) Disabled() []domain.EmergencyShutdown {
	b.mu.Lock()
	out := make([]domain.EmergencyShutdown, 0, len(b.disabled))
	for _, s := range b.disabled {
		out = append(out, s)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Observe counts one execution of command by actorID and trips the breaker
// when either threshold is exceeded inside the window. It returns the
// shutdown when this call tripped it.
func (b *Breaker) Observe(ctx context.Context, command, actorID string) (*domain.EmergencyShutdown, bool) {
	command = strings.ToLower(command)
	if !b.watched[command] {
		return nil, false
	}

	now := b.now()
	cutoff := now.Add(-b.cfg.Window)

	b.mu.Lock()
	if _, ok := b.disabled[command]; ok {
		b.mu.Unlock()
		return nil, false
	}

	b.hits[command] = append(prune(b.hits[command], cutoff), now)
	actorKey := command + "\x00" + actorID
	b.actorHits[actorKey] = append(prune(b.actorHits[actorKey], cutoff), now)

	var scope string
	var count int
	switch {
	case b.cfg.AggregateThreshold > 0 && len(b.hits[command]) > b.cfg.AggregateThreshold:
		scope, count = "aggregate", len(b.hits[command])
	case b.cfg.ActorThreshold > 0 && len(b.actorHits[actorKey]) > b.cfg.ActorThreshold:
		scope, count = "actor", len(b.actorHits[actorKey])
	default:
		b.mu.Unlock()
		return nil, false
	}

	reenable := now.Add(b.cfg.Cooldown)
	shutdown := domain.EmergencyShutdown{
		Command:      command,
		Reason:       fmt.Sprintf("%d executions within %s (%s threshold)", count, b.cfg.Window, scope),
		DisabledAt:   now,
		DisabledBy:   DisabledBySystem,
		ReenableAt:   &reenable,
		AutoReenable: true,
	}
	b.disabled[command] = shutdown
	delete(b.hits, command)
	for key := range b.actorHits {
		if strings.HasPrefix(key, command+"\x00") {
			delete(b.actorHits, key)
		}
	}
	metrics.DisabledCommands.Set(float64(len(b.disabled)))
	b.mu.Unlock()

	metrics.BreakerTripsTotal.WithLabelValues(command, scope).Inc()
	log.Warn().
		Str("command", command).
		Str("scope", scope).
		Str("actor", actorID).
		Int("count", count).
		Time("reenable_at", reenable).
		Msg("Emergency shutdown triggered")

	b.persist(ctx, shutdown)
	alert := domain.SecurityAlertEvent{
		Command:    command,
		Reason:     shutdown.Reason,
		Count:      count,
		ReenableAt: &reenable,
	}
	if scope == "actor" {
		alert.ActorID = actorID
	}
	b.publish(domain.NewEvent(domain.EventSecurityAlert, 0, alert))
	return &shutdown, true
}

// Disable shuts a command down by hand. A zero duration keeps it disabled
// until it is re-enabled manually.
func (b *Breaker) Disable(ctx context.Context, actor domain.Actor, command, reason string, duration time.Duration) (domain.EmergencyShutdown, error) {
	if err := authz.RequirePermission(actor, domain.PermEmergencyManage); err != nil {
		return domain.EmergencyShutdown{}, err
	}
	command = strings.ToLower(strings.TrimSpace(command))
	if command == "" {
		return domain.EmergencyShutdown{}, domain.Errorf(domain.CodeInvalidInput, "command is required")
	}
	if reason == "" {
		reason = "disabled manually"
	}

	now := b.now()
	shutdown := domain.EmergencyShutdown{
		Command:    command,
		Reason:     reason,
		DisabledAt: now,
		DisabledBy: actor.Name,
	}
	if duration > 0 {
		at := now.Add(duration)
		shutdown.ReenableAt = &at
		shutdown.AutoReenable = true
	}

	b.mu.Lock()
	b.disabled[command] = shutdown
	metrics.DisabledCommands.Set(float64(len(b.disabled)))
	b.mu.Unlock()

	log.Info().Str("command", command).Str("by", actor.Name).Str("reason", reason).Msg("Command disabled")
	b.persist(ctx, shutdown)
	b.publish(domain.NewEvent(domain.EventSecurityAlert, 0, domain.SecurityAlertEvent{
		Command:    command,
		Reason:     reason,
		ActorID:    actor.ID,
		ReenableAt: shutdown.ReenableAt,
	}))
	return shutdown, nil
}

// Reenable lifts a shutdown by hand
func (b *Breaker) Reenable(ctx context.Context, actor domain.Actor, command string) error {
	if err := authz.RequirePermission(actor, domain.PermEmergencyManage); err != nil {
		return err
	}
	if !b.lift(ctx, strings.ToLower(command), actor.Name, nil) {
		return domain.Errorf(domain.CodeNotFound, "%s is not disabled", command)
	}
	return nil
}

// Sweep re-enables every shutdown whose cooldown has elapsed
func (b *Breaker) Sweep(ctx context.Context) int {
	now := b.now()
	cutoff := now.Add(-b.cfg.Window)
	var due []domain.EmergencyShutdown
	b.mu.Lock()
	for _, s := range b.disabled {
		if s.Due(now) {
			due = append(due, s)
		}
	}
	for key, ts := range b.hits {
		if len(prune(ts, cutoff)) == 0 {
			delete(b.hits, key)
		}
	}
	for key, ts := range b.actorHits {
		if len(prune(ts, cutoff)) == 0 {
			delete(b.actorHits, key)
		}
	}
	b.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].Command < due[j].Command })

	n := 0
	for i := range due {
		if b.lift(ctx, due[i].Command, DisabledBySystem, &due[i]) {
			n++
		}
	}
	return n
}

// Run sweeps on an interval until ctx is cancelled
func (b *Breaker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep(ctx)
		}
	}
}

// lift removes a shutdown. With expected set, the command is only lifted
// while that same shutdown is still in place and due, so a shutdown made
// after the sweep looked is left alone.
func (b *Breaker) lift(ctx context.Context, command, by string, expected *domain.EmergencyShutdown) bool {
	b.mu.Lock()
	cur, ok := b.disabled[command]
	if ok && expected != nil && !(sameShutdown(cur, *expected) && cur.Due(b.now())) {
		ok = false
	}
	if ok {
		delete(b.disabled, command)
		metrics.DisabledCommands.Set(float64(len(b.disabled)))
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	log.Info().Str("command", command).Str("by", by).Msg("Command re-enabled")
	if b.store != nil {
		if err := b.store.DeleteShutdown(ctx, cur); err != nil {
			log.Error().Err(err).Str("command", command).Msg("Failed to delete emergency shutdown")
		}
	}
	b.publish(domain.NewEvent(domain.EventCommandReenabled, 0, map[string]string{
		"command":      command,
		"reenabled_by": by,
	}))
	return true
}

func sameShutdown(a, b domain.EmergencyShutdown) bool {
	return a.DisabledAt.Equal(b.DisabledAt) && a.DisabledBy == b.DisabledBy
}

func (b *Breaker) persist(ctx context.Context, s domain.EmergencyShutdown) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveShutdown(ctx, s); err != nil {
		log.Error().Err(err).Str("command", s.Command).Msg("Failed to save emergency shutdown")
	}
}

func (b *Breaker) publish(e domain.Event) {
	if b.pub != nil {
		b.pub.Publish(e)
	}
}

// prune drops timestamps before cutoff; ts is in ascending order
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
