package rcon

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

// Options tune session timeouts and the reconnect policy
type Options struct {
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
}

func (o *Options) setDefaults() {
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 3 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = time.Minute
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 8
	}
}

// Backoff returns base * 2^attempt capped at max
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Manager owns one resilient session per server target
type Manager struct {
	dialer Dialer
	opts   Options
	sink   EventSink

	mu    sync.RWMutex
	conns map[int64]*conn
	done  chan struct{}
	wg    sync.WaitGroup
}

// conn tracks the lifecycle of one target's session
type conn struct {
	mu       sync.Mutex
	target   domain.ServerTarget
	state    string
	session  *Session
	ready    chan struct{} // closed when a connect cycle finishes
	lastErr  error
	attempts int
	stop     chan struct{}
}

// ConnState is the externally visible connection state of one target
type ConnState struct {
	ServerID  int64        `json:"server_id"`
	Name      string       `json:"name"`
	Address   string       `json:"address"`
	State     string       `json:"state"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	Session   *SessionInfo `json:"session,omitempty"`
}

// NewManager creates a connection manager
func NewManager(dialer Dialer, opts Options, sink EventSink) *Manager {
	opts.setDefaults()
	return &Manager{
		dialer: dialer,
		opts:   opts,
		sink:   sink,
		conns:  make(map[int64]*conn),
		done:   make(chan struct{}),
	}
}

// Upsert registers or updates a target. Active targets begin connecting
// immediately; a changed address or password replaces the live session.
func (m *Manager) Upsert(target domain.ServerTarget) {
	m.mu.Lock()
	c, ok := m.conns[target.ID]
	if !ok {
		c = &conn{target: target, state: domain.ConnStateStopped, ready: closedChan()}
		m.conns[target.ID] = c
	}
	m.mu.Unlock()

	c.mu.Lock()
	changed := c.target.Address() != target.Address() || c.target.RconPassword != target.RconPassword
	c.target = target
	if !target.IsActive {
		m.teardownLocked(c)
		c.state = domain.ConnStateStopped
		c.mu.Unlock()
		return
	}
	if ok && !changed && c.state != domain.ConnStateStopped && c.state != domain.ConnStateAuthFailed {
		c.mu.Unlock()
		return
	}
	m.teardownLocked(c)
	m.startConnectLocked(c, true)
	c.mu.Unlock()
}

// Remove tears down and forgets a target
func (m *Manager) Remove(serverID int64) {
	m.mu.Lock()
	c, ok := m.conns[serverID]
	delete(m.conns, serverID)
	m.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	m.teardownLocked(c)
	c.state = domain.ConnStateStopped
	c.mu.Unlock()
}

// Acquire returns an authenticated session for the server. While a
// reconnect is in flight the caller blocks, bounded by the connect timeout.
func (m *Manager) Acquire(ctx context.Context, serverID int64) (*Session, error) {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.CodeNotFound, "server %d not found", serverID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	retried := false
	for {
		c.mu.Lock()
		if c.state == domain.ConnStateOnline && c.session.closed() {
			// The session died but its reconnect has not been scheduled yet
			m.reconnectLocked(c, c.session, errors.New("session closed"))
		}
		switch c.state {
		case domain.ConnStateOnline:
			s := c.session
			c.mu.Unlock()
			return s, nil
		case domain.ConnStateAuthFailed:
			err := c.lastErr
			c.mu.Unlock()
			return nil, domain.Wrap(domain.CodeAuthenticationFailed, "rcon authentication failed", err)
		case domain.ConnStateStopped:
			c.mu.Unlock()
			return nil, domain.Errorf(domain.CodeConnection, "server %d is not active", serverID)
		case domain.ConnStateUnreachable:
			if retried {
				err := c.lastErr
				c.mu.Unlock()
				return nil, domain.Wrap(domain.CodeConnection, "server unreachable", err)
			}
			// A caller arriving after the loop gave up starts one fresh cycle
			retried = true
			m.startConnectLocked(c, true)
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, domain.Wrap(domain.CodeConnection, "timed out waiting for connection", ctx.Err())
		case <-m.done:
			return nil, domain.Errorf(domain.CodeConnection, "connection manager stopped")
		}
	}
}

// States returns the connection state of every target ordered by id
func (m *Manager) States() []ConnState {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	states := make([]ConnState, 0, len(conns))
	for _, c := range conns {
		states = append(states, c.snapshot())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ServerID < states[j].ServerID
	})
	return states
}

// State returns the connection state of one target
func (m *Manager) State(serverID int64) (ConnState, bool) {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok {
		return ConnState{}, false
	}
	return c.snapshot(), true
}

// Stop tears down every session and waits for reconnect loops to exit
func (m *Manager) Stop() {
	log.Info().Msg("Connection manager: stopping...")
	close(m.done)

	m.mu.Lock()
	for _, c := range m.conns {
		c.mu.Lock()
		m.teardownLocked(c)
		c.state = domain.ConnStateStopped
		c.mu.Unlock()
	}
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("Connection manager: shutdown complete")
}

// startConnectLocked begins a connect cycle. c.mu must be held.
func (m *Manager) startConnectLocked(c *conn, initial bool) {
	if initial {
		c.state = domain.ConnStateConnecting
	} else {
		c.state = domain.ConnStateReconnecting
	}
	c.attempts = 0
	c.ready = make(chan struct{})
	c.stop = make(chan struct{})

	m.wg.Add(1)
	go m.connectLoop(c, c.target, c.ready, c.stop, initial)
}

// teardownLocked stops any running cycle and closes the session. c.mu must be held.
func (m *Manager) teardownLocked(c *conn) {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.session != nil {
		c.session.Close()
		c.session = nil
		metrics.RconSessionsOnline.Dec()
	}
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

// connectLoop dials with exponential backoff until a session is
// authenticated, credentials are rejected or attempts run out
func (m *Manager) connectLoop(c *conn, target domain.ServerTarget, ready, stop chan struct{}, initial bool) {
	defer m.wg.Done()
	server := strconv.FormatInt(target.ID, 10)

	var lastErr error
	for attempt := 0; attempt < m.opts.MaxAttempts; attempt++ {
		if attempt > 0 || !initial {
			delay := Backoff(m.opts.BackoffBase, m.opts.BackoffMax, attempt)
			select {
			case <-time.After(delay):
			case <-stop:
				return
			case <-m.done:
				return
			}
		}

		c.mu.Lock()
		if c.stop != stop {
			c.mu.Unlock()
			return
		}
		c.attempts = attempt + 1
		c.mu.Unlock()

		session, err := m.open(target)
		if err == nil {
			metrics.RconReconnectsTotal.WithLabelValues(server, "ok").Inc()
			if !m.finish(c, stop, ready, domain.ConnStateOnline, session, nil) {
				session.Close()
				return
			}
			log.Info().Str("server", target.Name).Str("address", target.Address()).Msg("RCON session online")
			m.emit(domain.EventServerOnline, target, domain.ConnStateOnline, attempt+1, nil)
			return
		}

		lastErr = err
		metrics.RconReconnectsTotal.WithLabelValues(server, "error").Inc()
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			log.Error().Err(err).Str("server", target.Name).Msg("RCON password rejected, not retrying")
			if m.finish(c, stop, ready, domain.ConnStateAuthFailed, nil, err) {
				m.emit(domain.EventServerOffline, target, domain.ConnStateAuthFailed, attempt+1, err)
			}
			return
		}
		log.Warn().Err(err).Str("server", target.Name).Int("attempt", attempt+1).Msg("RCON connect failed")
	}

	if m.finish(c, stop, ready, domain.ConnStateUnreachable, nil, lastErr) {
		log.Error().Err(lastErr).Str("server", target.Name).Int("attempts", m.opts.MaxAttempts).Msg("RCON server unreachable")
		m.emit(domain.EventServerOffline, target, domain.ConnStateUnreachable, m.opts.MaxAttempts, lastErr)
	}
}

// finish records the outcome of a cycle if it is still the current one
func (m *Manager) finish(c *conn, stop, ready chan struct{}, state string, session *Session, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != stop {
		return false
	}
	c.state = state
	c.session = session
	c.lastErr = err
	c.stop = nil
	if session != nil {
		metrics.RconSessionsOnline.Inc()
	}
	close(ready)
	return true
}

// open dials and authenticates a new transport
func (m *Manager) open(target domain.ServerTarget) (*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()

	t, err := m.dialer.Dial(ctx, target)
	if err != nil {
		return nil, domain.Wrap(domain.CodeConnection, "dial failed", err)
	}

	loginCtx, loginCancel := context.WithTimeout(ctx, m.opts.CommandTimeout)
	defer loginCancel()
	if err := t.Login(loginCtx); err != nil {
		t.Close()
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			return nil, err
		}
		return nil, domain.Wrap(domain.CodeConnection, "login check failed", err)
	}

	return newSession(target.ID, t, m.opts.CommandTimeout, m.handleBroken), nil
}

// handleBroken starts a reconnect after a session tore itself down
func (m *Manager) handleBroken(s *Session, cause error) {
	m.mu.RLock()
	c, ok := m.conns[s.ServerID()]
	m.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m.reconnectLocked(c, s, cause)
}

// reconnectLocked replaces a dead session with a reconnect cycle. It is a
// no-op if s is no longer the current session. c.mu must be held.
func (m *Manager) reconnectLocked(c *conn, s *Session, cause error) {
	if c.session != s || s == nil {
		return
	}
	select {
	case <-m.done:
		return
	default:
	}

	log.Warn().Err(cause).Str("server", c.target.Name).Msg("RCON session lost, reconnecting")
	c.session = nil
	metrics.RconSessionsOnline.Dec()
	m.startConnectLocked(c, false)
}

func (m *Manager) emit(eventType string, target domain.ServerTarget, state string, attempts int, err error) {
	if m.sink == nil {
		return
	}
	data := domain.ServerStateEvent{
		Name:     target.Name,
		Address:  target.Address(),
		State:    state,
		Attempts: attempts,
	}
	if err != nil {
		data.Error = err.Error()
	}
	m.sink.Publish(domain.NewEvent(eventType, target.ID, data))
}

func (c *conn) snapshot() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ConnState{
		ServerID: c.target.ID,
		Name:     c.target.Name,
		Address:  c.target.Address(),
		State:    c.state,
		Attempts: c.attempts,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.session != nil {
		info := c.session.Info()
		st.Session = &info
	}
	return st
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
