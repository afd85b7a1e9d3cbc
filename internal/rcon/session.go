package rcon

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

const queueSize = 64

// Session is an authenticated transport with a FIFO queue in front of it.
// A single worker goroutine owns the transport, so at most one request is
// ever in flight.
type Session struct {
	serverID  int64
	transport Transport
	timeout   time.Duration
	onBroken  func(*Session, error)

	queue     chan *request
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	lastActivity time.Time
	pending      string
	closeErr     error
}

type request struct {
	ctx     context.Context
	command string
	reply   chan result
}

type result struct {
	response string
	err      error
	// sent is false when the request expired before reaching the wire
	sent bool
}

// SessionInfo is a point-in-time view of a session
type SessionInfo struct {
	ServerID      int64     `json:"server_id"`
	Authenticated bool      `json:"authenticated"`
	LastActivity  time.Time `json:"last_activity"`
	Pending       string    `json:"pending,omitempty"`
	Queued        int       `json:"queued"`
}

func newSession(serverID int64, t Transport, timeout time.Duration, onBroken func(*Session, error)) *Session {
	s := &Session{
		serverID:     serverID,
		transport:    t,
		timeout:      timeout,
		onBroken:     onBroken,
		queue:        make(chan *request, queueSize),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}
	go s.run()
	return s
}

// ServerID returns the id of the server this session talks to
func (s *Session) ServerID() int64 {
	return s.serverID
}

// Execute queues a command and waits for its response. Requests are sent
// in the order Execute was called. A request that times out on the wire
// tears the session down; one that expires while still queued is skipped
// and the session carries on. Both return domain.ErrCommandTimeout.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	req := &request{ctx: ctx, command: command, reply: make(chan result, 1)}

	select {
	case s.queue <- req:
	case <-s.done:
		return "", s.closedError()
	case <-ctx.Done():
		return "", domain.Wrap(domain.CodeCommandTimeout, "command timed out waiting in queue", ctx.Err())
	}

	select {
	case res := <-req.reply:
		return res.response, res.err
	case <-s.done:
		// The worker replies before closing, prefer its answer
		select {
		case res := <-req.reply:
			return res.response, res.err
		default:
			return "", s.closedError()
		}
	case <-ctx.Done():
		return "", domain.Wrap(domain.CodeCommandTimeout, "command timed out", ctx.Err())
	}
}

// Done is closed when the session is torn down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Info returns the session's current state
func (s *Session) Info() SessionInfo {
	closed := s.closed()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ServerID:      s.serverID,
		Authenticated: !closed,
		LastActivity:  s.lastActivity,
		Pending:       s.pending,
		Queued:        len(s.queue),
	}
}

// Close tears the session down without triggering a reconnect
func (s *Session) Close() {
	s.shutdown(errors.New("session closed"), false)
}

// run is the single owner of the transport
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			s.drain()
			return
		case req := <-s.queue:
			res := s.roundTrip(req)
			req.reply <- res
			if res.sent && res.err != nil && isDesync(res.err) {
				s.shutdown(res.err, true)
				s.drain()
				return
			}
		}
	}
}

func (s *Session) roundTrip(req *request) result {
	if err := req.ctx.Err(); err != nil {
		return result{err: domain.Wrap(domain.CodeCommandTimeout, "command timed out waiting in queue", err)}
	}

	ctx, cancel := context.WithTimeout(req.ctx, s.timeout)
	defer cancel()

	s.mu.Lock()
	s.pending = req.command
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.transport.Exchange(ctx, req.command)
	server := strconv.FormatInt(s.serverID, 10)
	metrics.RconCommandDuration.WithLabelValues(server).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.pending = ""
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err != nil {
		if isTimeout(err) {
			metrics.RconCommandsTotal.WithLabelValues(server, "timeout").Inc()
			return result{err: domain.Wrap(domain.CodeCommandTimeout, "command timed out", err), sent: true}
		}
		metrics.RconCommandsTotal.WithLabelValues(server, "error").Inc()
		return result{err: domain.Wrap(domain.CodeConnection, "server connection lost", err), sent: true}
	}
	metrics.RconCommandsTotal.WithLabelValues(server, "ok").Inc()
	return result{response: resp, sent: true}
}

// drain fails every queued request after the session has closed
func (s *Session) drain() {
	for {
		select {
		case req := <-s.queue:
			req.reply <- result{err: s.closedError()}
		default:
			return
		}
	}
}

func (s *Session) shutdown(cause error, broken bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = cause
		s.mu.Unlock()
		close(s.done)
		if err := s.transport.Close(); err != nil {
			log.Debug().Err(err).Int64("server_id", s.serverID).Msg("Closing rcon transport")
		}
		if broken && s.onBroken != nil {
			go s.onBroken(s, cause)
		}
	})
}

func (s *Session) closedError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Wrap(domain.CodeConnection, "server connection unavailable", s.closeErr)
}

// isDesync reports whether err leaves the request/response stream in an
// unknown state
func isDesync(err error) bool {
	return errors.Is(err, domain.ErrCommandTimeout) || errors.Is(err, domain.ErrConnection)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
