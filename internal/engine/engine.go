// Package engine runs admin commands from the web API and in-game chat
// through one pipeline: lookup, argument count, authorization, throttle,
// dispatch, abuse detection and event publication.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/breaker"
	"github.com/ernie/warden/internal/collector"
	"github.com/ernie/warden/internal/dispatch"
	"github.com/ernie/warden/internal/domain"
)

// Store is the persistence the engine needs
type Store interface {
	GetUserByGUID(ctx context.Context, guid string) (*domain.User, error)
	UserGroups(ctx context.Context, userID int64) ([]domain.Group, error)
	GetDefaultServer(ctx context.Context) (*domain.ServerTarget, error)

	ListCommands(ctx context.Context) ([]domain.CustomCommand, error)
	GetCommand(ctx context.Context, name string) (*domain.CustomCommand, error)
	CreateCommand(ctx context.Context, c *domain.CustomCommand) error
	UpdateCommand(ctx context.Context, c *domain.CustomCommand) error
	DeleteCommand(ctx context.Context, name string) error

	CreateTempBan(ctx context.Context, b *domain.TempBan) error
}

// LiveState provides the current player table of a server
type LiveState interface {
	Players(serverID int64) []domain.Player
}

// Publisher receives command events
type Publisher interface {
	Publish(event domain.Event)
}

// Request is one command invocation
type Request struct {
	RequestID string
	ServerID  int64
	Actor     domain.Actor
	Command   string
	Args      []string
}

// Outcome describes a completed command
type Outcome struct {
	Command   string                    `json:"command"`
	Rcon      string                    `json:"rcon,omitempty"`
	Response  string                    `json:"response"`
	Execution domain.CommandExecution   `json:"execution"`
	Tripped   *domain.EmergencyShutdown `json:"tripped,omitempty"`
}

// Engine is the command pipeline
type Engine struct {
	registry   *dispatch.Registry
	authz      *authz.Engine
	breaker    *breaker.Breaker
	throttle   *breaker.Throttle
	dispatcher *dispatch.Dispatcher
	store      Store
	live       LiveState
	pub        Publisher
}

// New wires an engine. live and pub may be nil.
func New(registry *dispatch.Registry, az *authz.Engine, br *breaker.Breaker, throttle *breaker.Throttle,
	dispatcher *dispatch.Dispatcher, store Store, live LiveState, pub Publisher) *Engine {
	return &Engine{
		registry:   registry,
		authz:      az,
		breaker:    br,
		throttle:   throttle,
		dispatcher: dispatcher,
		store:      store,
		live:       live,
		pub:        pub,
	}
}

// Load installs the stored command definitions into the registry
func (e *Engine) Load(ctx context.Context) error {
	defs, err := e.store.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("loading commands: %w", err)
	}
	if err := e.registry.Load(defs); err != nil {
		// Bad rows are skipped, the rest still load
		log.Warn().Err(err).Msg("Some commands could not be loaded")
	}
	return nil
}

// Start runs the breaker sweeper and throttle pruning until ctx is done
func (e *Engine) Start(ctx context.Context) {
	go e.breaker.Run(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.throttle.Prune()
			}
		}
	}()
}

// ResolveServer returns serverID, or the default server when it is zero
func (e *Engine) ResolveServer(ctx context.Context, serverID int64) (int64, error) {
	if serverID != 0 {
		return serverID, nil
	}
	srv, err := e.store.GetDefaultServer(ctx)
	if err != nil {
		return 0, err
	}
	return srv.ID, nil
}

// Execute runs one command through the full pipeline. Every call produces
// exactly one audit record.
func (e *Engine) Execute(ctx context.Context, req Request) (*Outcome, error) {
	serverID, err := e.ResolveServer(ctx, req.ServerID)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(req.Command))
	lc := dispatch.LogicalCommand{
		RequestID: req.RequestID,
		Name:      name,
		Actor:     req.Actor,
		Args:      req.Args,
	}

	cmd, err := e.registry.Get(name)
	if err != nil {
		return e.reject(ctx, serverID, lc, err)
	}
	lc.Command = cmd
	def := cmd.Definition()

	if err := e.authz.Check(req.Actor, def, len(req.Args)); err != nil {
		return e.reject(ctx, serverID, lc, err)
	}
	if e.live != nil {
		lc.Players = e.live.Players(serverID)
	}
	lc.Available = e.available(req.Actor)

	resolved, err := e.dispatcher.Resolve(lc)
	if err != nil {
		exec := e.dispatcher.Record(ctx, serverID, lc, "", "", err)
		e.publish(domain.NewEvent(domain.EventCommandExecuted, serverID, exec))
		return &Outcome{Command: def.Name, Execution: exec}, err
	}
	// A name that matched nobody must not hold the throttle for its target
	if e.breaker.Watches(def.Name) && len(req.Args) > 0 {
		if err := e.throttle.Allow(req.Actor.ID, req.Args[0], def.Name); err != nil {
			return e.reject(ctx, serverID, lc, err)
		}
	}

	res, err := e.dispatcher.Send(ctx, serverID, lc, resolved)
	out := &Outcome{
		Command:   def.Name,
		Rcon:      res.Wire,
		Response:  res.Response,
		Execution: res.Execution,
	}
	e.publish(domain.NewEvent(domain.EventCommandExecuted, serverID, res.Execution))
	if err != nil {
		return out, err
	}

	if res.Ban != nil {
		e.recordBan(ctx, serverID, req.Actor, *res.Ban)
	}
	if shutdown, tripped := e.breaker.Observe(ctx, def.Name, req.Actor.ID); tripped {
		out.Tripped = shutdown
	}
	e.publishModeration(serverID, def.Name, lc)
	return out, nil
}

// recordBan stores a timed ban so the player is removed again on rejoin
func (e *Engine) recordBan(ctx context.Context, serverID int64, actor domain.Actor, req dispatch.BanRequest) {
	if req.Player.GUID == "" {
		log.Warn().Int("slot", req.Player.Slot).Msg("Banned player has no guid, rejoin will not be blocked")
		return
	}
	now := time.Now()
	ban := &domain.TempBan{
		ServerID:  serverID,
		GUID:      req.Player.GUID,
		Name:      req.Player.StrippedName,
		Reason:    req.Reason,
		BannedBy:  actor.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(req.Duration),
	}
	if err := e.store.CreateTempBan(context.WithoutCancel(ctx), ban); err != nil {
		log.Error().Err(err).Str("guid", ban.GUID).Msg("Failed to record temp ban")
		return
	}
	log.Info().
		Int64("server_id", serverID).
		Str("guid", ban.GUID).
		Str("by", ban.BannedBy).
		Time("expires_at", ban.ExpiresAt).
		Msg("Temp ban recorded")
}

func (e *Engine) reject(ctx context.Context, serverID int64, lc dispatch.LogicalCommand, err error) (*Outcome, error) {
	exec := e.dispatcher.Record(ctx, serverID, lc, "", "", err)
	return &Outcome{Command: lc.Name, Execution: exec}, err
}

func (e *Engine) available(actor domain.Actor) []string {
	cmds := e.registry.List()
	defs := make([]domain.CustomCommand, 0, len(cmds))
	for _, c := range cmds {
		defs = append(defs, c.Definition())
	}
	return e.authz.Available(actor, defs)
}

// Available returns the commands actor may run right now
func (e *Engine) Available(actor domain.Actor) []string {
	return e.available(actor)
}

func (e *Engine) publishModeration(serverID int64, command string, lc dispatch.LogicalCommand) {
	var eventType string
	switch command {
	case "kick":
		eventType = domain.EventPlayerKicked
	case "ban", "tempban":
		eventType = domain.EventPlayerBanned
	case "unban":
		eventType = domain.EventPlayerUnbanned
	default:
		return
	}
	if len(lc.Args) == 0 {
		return
	}

	target := lc.Args[0]
	if eventType != domain.EventPlayerUnbanned {
		if p, err := e.dispatcher.Matcher().Match(lc.Players, target); err == nil {
			target = p.StrippedName
		}
	}
	e.publish(domain.NewEvent(eventType, serverID, domain.ModerationEvent{
		Target:  target,
		Actor:   lc.Actor.Name,
		Command: command,
		Args:    lc.Args[1:],
	}))
}

func (e *Engine) publish(ev domain.Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}

// GameActor maps an in-game player to an actor through their linked
// account. Unlinked players get power 0 and no permissions.
func (e *Engine) GameActor(ctx context.Context, cc collector.ChatCommand) domain.Actor {
	var groups []domain.Group
	id := "guid:" + cc.GUID
	var userID *int64

	if cc.GUID != "" {
		user, err := e.store.GetUserByGUID(ctx, cc.GUID)
		switch {
		case err == nil:
			id = "user:" + strconv.FormatInt(user.ID, 10)
			userID = &user.ID
			if groups, err = e.store.UserGroups(ctx, user.ID); err != nil {
				log.Error().Err(err).Int64("user_id", user.ID).Msg("Error loading user groups")
				groups = nil
			}
		case !errors.Is(err, domain.ErrNotFound):
			log.Error().Err(err).Str("guid", cc.GUID).Msg("Error looking up player account")
		}
	}

	actor := domain.NewActor(id, cc.Name, domain.SourceGame, groups)
	actor.UserID = userID
	actor.GUID = cc.GUID
	actor.Slot = cc.Slot
	return actor
}

// HandleChat runs a prefixed chat command and returns the reply for the
// player
func (e *Engine) HandleChat(ctx context.Context, cc collector.ChatCommand) string {
	actor := e.GameActor(ctx, cc)
	out, err := e.Execute(ctx, Request{
		ServerID: cc.ServerID,
		Actor:    actor,
		Command:  cc.Command,
		Args:     cc.Args,
	})
	if err != nil {
		log.Info().Str("player", cc.Name).Str("command", cc.Command).Str("code", string(domain.CodeOf(err))).Msg("Chat command refused")
		return domain.Message(err)
	}
	if out.Tripped != nil {
		return fmt.Sprintf("%s done, now disabled: %s", out.Command, out.Tripped.Reason)
	}
	return chatReply(out)
}

func chatReply(out *Outcome) string {
	resp := strings.TrimSpace(out.Response)
	if out.Rcon == "" {
		return resp
	}
	if line, _, _ := strings.Cut(resp, "\n"); line != "" {
		return domain.StripColors(line)
	}
	return out.Command + " done"
}
