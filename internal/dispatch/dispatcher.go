package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

// Executor sends one wire command over an authenticated session
type Executor interface {
	ServerID() int64
	Execute(ctx context.Context, command string) (string, error)
}

// AcquireFunc returns a session for a server
type AcquireFunc func(ctx context.Context, serverID int64) (Executor, error)

// AuditSink persists execution records
type AuditSink interface {
	RecordExecution(ctx context.Context, exec *domain.CommandExecution) error
}

// LogicalCommand is a command invocation before resolution
type LogicalCommand struct {
	RequestID string
	// Name is what the caller typed; Command is nil when it named nothing
	Name      string
	Command   Command
	Actor     domain.Actor
	Args      []string
	Players   []domain.Player
	Available []string
}

// Result is the outcome of one dispatch
type Result struct {
	Resolution
	Response  string
	Execution domain.CommandExecution
}

// Dispatcher resolves commands and sends them to the game server. Each
// call produces exactly one execution record.
type Dispatcher struct {
	acquire AcquireFunc
	matcher PlayerMatcher
	audit   AuditSink
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. audit may be nil.
func NewDispatcher(acquire AcquireFunc, matcher PlayerMatcher, audit AuditSink) *Dispatcher {
	return &Dispatcher{
		acquire: acquire,
		matcher: matcher,
		audit:   audit,
		now:     time.Now,
	}
}

// Matcher returns the configured player matcher
func (d *Dispatcher) Matcher() PlayerMatcher {
	return d.matcher
}

// Resolve renders a command without sending it
func (d *Dispatcher) Resolve(lc LogicalCommand) (Resolution, error) {
	return lc.Command.Resolve(&ResolveContext{
		Actor:     lc.Actor,
		Args:      lc.Args,
		Players:   lc.Players,
		Matcher:   d.matcher,
		Available: lc.Available,
	})
}

// Execute resolves lc and, unless it is answered locally, sends it to
// serverID. The returned error is classified with a domain code.
func (d *Dispatcher) Execute(ctx context.Context, serverID int64, lc LogicalCommand) (Result, error) {
	res, err := d.Resolve(lc)
	if err != nil {
		return Result{Execution: d.Record(ctx, serverID, lc, "", "", err)}, err
	}
	return d.Send(ctx, serverID, lc, res)
}

// Send delivers an already resolved command and records the attempt
func (d *Dispatcher) Send(ctx context.Context, serverID int64, lc LogicalCommand, res Resolution) (Result, error) {
	if res.Wire == "" {
		exec := d.Record(ctx, serverID, lc, "", res.Reply, nil)
		return Result{Resolution: res, Response: res.Reply, Execution: exec}, nil
	}

	session, err := d.acquire(ctx, serverID)
	if err != nil {
		return Result{Resolution: res, Execution: d.Record(ctx, serverID, lc, res.Wire, "", err)}, err
	}

	resp, err := session.Execute(ctx, res.Wire)
	exec := d.Record(ctx, serverID, lc, res.Wire, resp, err)
	if err != nil {
		return Result{Resolution: res, Execution: exec}, err
	}
	log.Info().
		Int64("server_id", serverID).
		Str("actor", lc.Actor.Name).
		Str("source", lc.Actor.Source).
		Str("rcon", res.Wire).
		Msg("Command dispatched")
	return Result{Resolution: res, Response: resp, Execution: exec}, nil
}

// Record writes the execution record for an attempt. Audit writes are best
// effort; a failed write is logged and counted.
func (d *Dispatcher) Record(ctx context.Context, serverID int64, lc LogicalCommand, wire, response string, err error) domain.CommandExecution {
	if lc.RequestID == "" {
		lc.RequestID = uuid.NewString()
	}
	exec := domain.CommandExecution{
		RequestID:    lc.RequestID,
		ServerID:     serverID,
		ActorID:      lc.Actor.ID,
		ActorName:    lc.Actor.Name,
		Source:       lc.Actor.Source,
		Command:      commandText(lc),
		ResolvedRcon: wire,
		Response:     response,
		Success:      err == nil,
		Timestamp:    d.now(),
	}
	outcome := "success"
	if err != nil {
		exec.ErrorCode = string(domain.CodeOf(err))
		exec.Error = err.Error()
		outcome = string(domain.CodeOf(err))
	}
	metrics.CommandsExecutedTotal.WithLabelValues(commandName(lc), lc.Actor.Source, outcome).Inc()

	if d.audit == nil {
		return exec
	}
	if werr := d.audit.RecordExecution(context.WithoutCancel(ctx), &exec); werr != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		log.Error().Err(werr).Str("request_id", exec.RequestID).Msg("Failed to write audit record")
	}
	return exec
}

func commandName(lc LogicalCommand) string {
	if lc.Command == nil {
		return "unknown"
	}
	return lc.Command.Definition().Name
}

func commandText(lc LogicalCommand) string {
	text := lc.Name
	if lc.Command != nil {
		text = lc.Command.Definition().Name
	}
	for _, a := range lc.Args {
		text += " " + a
	}
	return text
}
