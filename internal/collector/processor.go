package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
	"github.com/ernie/warden/internal/rcon"
)

// Console is the RCON access the processor needs
type Console interface {
	Exec(ctx context.Context, serverID int64, command string) (string, error)
	Status(ctx context.Context, serverID int64) (*rcon.StatusReport, error)
}

// ChatCommand is a prefixed chat line turned into a command invocation
type ChatCommand struct {
	ServerID int64
	Slot     int
	GUID     string
	Name     string
	Command  string
	Args     []string
}

// ChatHandler runs chat commands and returns the text to tell the player
type ChatHandler interface {
	HandleChat(ctx context.Context, cmd ChatCommand) string
}

// PlayerStore records players that have been seen and looks up their bans
type PlayerStore interface {
	TouchPlayer(ctx context.Context, p domain.OfflinePlayer) error
	ActiveTempBan(ctx context.Context, guid string, now time.Time) (*domain.TempBan, error)
}

// Publisher receives state change events
type Publisher interface {
	Publish(event domain.Event)
}

// Options tune the processor
type Options struct {
	ChatPrefix   string
	ChatMaxLen   int
	PollInterval time.Duration
	TailInterval time.Duration
	// TaskQueue bounds the chat commands and ban checks waiting per server
	TaskQueue int
}

const defaultTaskQueue = 64

// Processor consumes game logs and status polls. It is the only writer of
// the per-server player table and match summary; readers get copies.
type Processor struct {
	console Console
	store   PlayerStore
	pub     Publisher
	opts    Options

	mu      sync.RWMutex
	chat    ChatHandler
	servers map[int64]*serverState
	wg      sync.WaitGroup
}

// serverState tracks the live view of one watched server
type serverState struct {
	target  domain.ServerTarget
	players map[int]domain.Player
	match   domain.MatchSummary
	updated time.Time
	cancel  context.CancelFunc
	// tasks run in order on the server's worker, off the log reader
	tasks chan func(context.Context)
}

// NewProcessor creates a processor. store and pub may be nil.
func NewProcessor(console Console, store PlayerStore, pub Publisher, opts Options) *Processor {
	if opts.ChatPrefix == "" {
		opts.ChatPrefix = "!"
	}
	if opts.ChatMaxLen == 0 {
		opts.ChatMaxLen = 150
	}
	if opts.TaskQueue <= 0 {
		opts.TaskQueue = defaultTaskQueue
	}
	return &Processor{
		console: console,
		store:   store,
		pub:     pub,
		opts:    opts,
		servers: make(map[int64]*serverState),
	}
}

// SetChatHandler installs the handler for prefixed chat lines
func (p *Processor) SetChatHandler(h ChatHandler) {
	p.mu.Lock()
	p.chat = h
	p.mu.Unlock()
}

// Watch starts tailing and polling a server, replacing any previous watch
func (p *Processor) Watch(ctx context.Context, target domain.ServerTarget) {
	p.Unwatch(target.ID)

	ctx, cancel := context.WithCancel(ctx)
	tasks := make(chan func(context.Context), p.opts.TaskQueue)
	p.mu.Lock()
	p.servers[target.ID] = &serverState{
		target:  target,
		players: make(map[int]domain.Player),
		cancel:  cancel,
		tasks:   tasks,
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runTasks(ctx, tasks)

	if target.GameLogPath != "" {
		tailer := NewLogTailer(target.GameLogPath, target.Name, p.opts.TailInterval)
		if err := tailer.Open(false); err != nil {
			log.Warn().Err(err).Str("server", target.Name).Msg("Log file not available yet, will retry")
		}
		p.wg.Add(2)
		go func() {
			defer p.wg.Done()
			tailer.Run(ctx)
		}()
		go p.processLines(ctx, target.ID, tailer)
	}

	if p.opts.PollInterval > 0 && p.console != nil {
		p.wg.Add(1)
		go p.pollLoop(ctx, target.ID)
	}
	log.Info().Int64("server_id", target.ID).Str("server", target.Name).Msg("Watching server")
}

// Unwatch stops the goroutines for a server and forgets its state
func (p *Processor) Unwatch(serverID int64) {
	p.mu.Lock()
	state, ok := p.servers[serverID]
	delete(p.servers, serverID)
	p.mu.Unlock()
	if ok && state.cancel != nil {
		state.cancel()
		metrics.PlayersOnline.DeleteLabelValues(strconv.FormatInt(serverID, 10))
	}
}

// Stop stops every watch and waits for the goroutines to exit
func (p *Processor) Stop() {
	p.mu.Lock()
	for _, state := range p.servers {
		if state.cancel != nil {
			state.cancel()
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Players returns a snapshot of the online players ordered by slot
func (p *Processor) Players(serverID int64) []domain.Player {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.servers[serverID]
	if !ok {
		return nil
	}
	return sortedPlayers(state.players)
}

// Match returns the current match summary
func (p *Processor) Match(serverID int64) domain.MatchSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if state, ok := p.servers[serverID]; ok {
		return state.match
	}
	return domain.MatchSummary{}
}

// Status returns the live view of a server
func (p *Processor) Status(serverID int64) (domain.ServerStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.servers[serverID]
	if !ok {
		return domain.ServerStatus{}, false
	}
	players := sortedPlayers(state.players)
	return domain.ServerStatus{
		ServerID:    serverID,
		Name:        state.target.Name,
		Address:     state.target.Address(),
		Match:       state.match,
		Players:     players,
		PlayerCount: len(players),
		MaxPlayers:  state.target.MaxPlayers,
		LastUpdated: state.updated,
	}, true
}

func (p *Processor) processLines(ctx context.Context, serverID int64, tailer *LogTailer) {
	defer p.wg.Done()
	for line := range tailer.Lines {
		p.HandleLine(ctx, serverID, line)
	}
}

// HandleLine applies one raw log line
func (p *Processor) HandleLine(ctx context.Context, serverID int64, line string) {
	label := strconv.FormatInt(serverID, 10)
	event, err := ParseLine(line)
	if err != nil {
		metrics.LogLinesTotal.WithLabelValues(label, "unknown").Inc()
		return
	}
	metrics.LogLinesTotal.WithLabelValues(label, event.Type).Inc()
	p.HandleEvent(ctx, serverID, *event)
}

// HandleEvent applies a parsed log event to the server state and
// publishes the resulting events. Chat commands and ban checks are queued
// for the server's worker so a slow command never holds up the log.
func (p *Processor) HandleEvent(ctx context.Context, serverID int64, event LogEvent) {
	p.mu.Lock()
	state, ok := p.servers[serverID]
	if !ok {
		p.mu.Unlock()
		return
	}
	out, seen := p.applyLocked(state, event)
	count := len(state.players)
	chat := p.chat
	tasks := state.tasks
	p.mu.Unlock()

	metrics.PlayersOnline.WithLabelValues(strconv.FormatInt(serverID, 10)).Set(float64(count))
	for _, e := range out {
		p.publish(e)
	}
	if seen != nil {
		p.touch(ctx, *seen)
		if join, ok := event.Data.(JoinData); ok {
			p.checkBan(tasks, serverID, join.Slot, join.GUID)
		}
	}

	if event.Type != EventTypeSay && event.Type != EventTypeSayTeam {
		return
	}
	say := event.Data.(SayData)
	cmd, ok := p.parseChatCommand(serverID, say)
	if !ok || chat == nil {
		return
	}
	log.Debug().
		Int64("server_id", serverID).
		Int("slot", say.Slot).
		Str("command", cmd.Command).
		Strs("args", cmd.Args).
		Msg("Chat command")
	p.enqueue(tasks, serverID, func(ctx context.Context) {
		if reply := chat.HandleChat(ctx, cmd); reply != "" {
			p.Tell(ctx, serverID, say.Slot, reply)
		}
	})
}

// enqueue hands a task to a server's worker. A full queue drops the task
// rather than block the caller.
func (p *Processor) enqueue(tasks chan func(context.Context), serverID int64, task func(context.Context)) {
	select {
	case tasks <- task:
	default:
		metrics.ServerTasksDroppedTotal.WithLabelValues(strconv.FormatInt(serverID, 10)).Inc()
		log.Warn().Int64("server_id", serverID).Msg("Server task queue full, dropping task")
	}
}

func (p *Processor) runTasks(ctx context.Context, tasks chan func(context.Context)) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-tasks:
			task(ctx)
		}
	}
}

// checkBan queues a temp ban lookup for a player who just joined
func (p *Processor) checkBan(tasks chan func(context.Context), serverID int64, slot int, guid string) {
	if p.store == nil || p.console == nil || guid == "" {
		return
	}
	p.enqueue(tasks, serverID, func(ctx context.Context) {
		p.EnforceBan(ctx, serverID, slot, guid)
	})
}

// EnforceBan kicks the player in slot if their GUID has a temp ban in force.
// It reports whether a kick was sent.
func (p *Processor) EnforceBan(ctx context.Context, serverID int64, slot int, guid string) bool {
	now := time.Now()
	ban, err := p.store.ActiveTempBan(ctx, guid, now)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("guid", guid).Msg("Failed to look up temp ban")
		}
		return false
	}

	cmd := fmt.Sprintf("clientkick %d %s", slot, consoleSafe(ban.KickMessage(now)))
	if _, err := p.console.Exec(ctx, serverID, cmd); err != nil {
		log.Warn().Err(err).Int64("server_id", serverID).Int("slot", slot).Msg("Error kicking temp-banned player")
		return false
	}
	metrics.TempBanKicksTotal.WithLabelValues(strconv.FormatInt(serverID, 10)).Inc()
	log.Info().
		Int64("server_id", serverID).
		Int("slot", slot).
		Str("guid", guid).
		Time("expires_at", ban.ExpiresAt).
		Msg("Removed temp-banned player")
	p.publish(domain.NewEvent(domain.EventPlayerKicked, serverID, domain.ModerationEvent{
		Target:  ban.Name,
		Actor:   ban.BannedBy,
		Command: "tempban",
		Args:    []string{ban.Reason},
	}))
	return true
}

// consoleSafe keeps text on one console command
var consoleSafe = strings.NewReplacer(";", ",", `"`, "'", "\n", " ", "\r", " ", "\x00", "").Replace

// applyLocked mutates state for event and returns the events to publish
// and, for joins, the player identity to persist
func (p *Processor) applyLocked(state *serverState, event LogEvent) ([]domain.Event, *domain.OfflinePlayer) {
	id := state.target.ID
	now := time.Now()
	state.updated = now

	switch data := event.Data.(type) {
	case JoinData:
		player := state.players[data.Slot]
		fresh := player.GUID != data.GUID || player.Name == ""
		player.Slot = data.Slot
		player.GUID = data.GUID
		player.Name = data.Name
		player.StrippedName = domain.StripColors(data.Name)
		if fresh {
			player.JoinedAt = now
			player.Kills, player.Deaths, player.Score = 0, 0, 0
		}
		state.players[data.Slot] = player
		if !fresh {
			return nil, nil
		}
		connected := domain.NewEvent(domain.EventPlayerConnected, id, domain.PlayerEvent{
			Slot: data.Slot, GUID: data.GUID, Name: player.StrippedName,
		})
		return []domain.Event{connected}, &domain.OfflinePlayer{GUID: data.GUID, LastName: player.StrippedName, LastSeen: now}

	case QuitData:
		if _, ok := state.players[data.Slot]; !ok {
			return nil, nil
		}
		delete(state.players, data.Slot)
		return []domain.Event{domain.NewEvent(domain.EventPlayerDisconnected, id, domain.PlayerEvent{
			Slot: data.Slot, GUID: data.GUID, Name: domain.StripColors(data.Name),
		})}, nil

	case SayData:
		return []domain.Event{domain.NewEvent(domain.EventChat, id, domain.ChatEvent{
			Slot:    data.Slot,
			Name:    domain.StripColors(data.Name),
			Message: data.Message,
			Team:    event.Type == EventTypeSayTeam,
		})}, nil

	case KillData:
		if victim, ok := state.players[data.VictimSlot]; ok {
			victim.Deaths++
			if data.VictimTeam != "" {
				victim.Team = data.VictimTeam
			}
			state.players[data.VictimSlot] = victim
		}
		if data.AttackerSlot >= 0 && data.AttackerSlot != data.VictimSlot {
			if attacker, ok := state.players[data.AttackerSlot]; ok {
				attacker.Kills++
				attacker.Score++
				if data.AttackerTeam != "" {
					attacker.Team = data.AttackerTeam
				}
				state.players[data.AttackerSlot] = attacker
			}
		}
		return []domain.Event{domain.NewEvent(domain.EventKill, id, domain.KillEvent{
			Killer: domain.StripColors(data.AttackerName),
			Victim: domain.StripColors(data.VictimName),
			Weapon: data.Weapon,
		})}, nil

	case InitGameData:
		state.match = domain.MatchSummary{
			Map:       data.MapName,
			GameType:  data.GameType,
			Hostname:  domain.StripColors(data.Hostname),
			StartedAt: now,
		}
		for slot, player := range state.players {
			player.Kills, player.Deaths, player.Score = 0, 0, 0
			state.players[slot] = player
		}
		return []domain.Event{domain.NewEvent(domain.EventMatchStarted, id, state.match)}, nil

	case ExitLevelData:
		state.match.Ended = true
		return []domain.Event{domain.NewEvent(domain.EventMatchEnded, id, state.match)}, nil
	}

	if event.Type == EventTypeShutdown && !state.match.Ended && state.match.Map != "" {
		state.match.Ended = true
		return []domain.Event{domain.NewEvent(domain.EventMatchEnded, id, state.match)}, nil
	}
	return nil, nil
}

func (p *Processor) parseChatCommand(serverID int64, say SayData) (ChatCommand, bool) {
	msg := strings.TrimSpace(say.Message)
	if !strings.HasPrefix(msg, p.opts.ChatPrefix) {
		return ChatCommand{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(msg, p.opts.ChatPrefix))
	if len(fields) == 0 {
		return ChatCommand{}, false
	}
	return ChatCommand{
		ServerID: serverID,
		Slot:     say.Slot,
		GUID:     say.GUID,
		Name:     domain.StripColors(say.Name),
		Command:  strings.ToLower(fields[0]),
		Args:     fields[1:],
	}, true
}

// Tell sends a private message to a player, truncated to the chat limit
func (p *Processor) Tell(ctx context.Context, serverID int64, slot int, message string) {
	if p.console == nil {
		return
	}
	msg := strings.ReplaceAll(TruncateChat(message, p.opts.ChatMaxLen), `"`, "'")
	cmd := fmt.Sprintf(`tell %d "%s"`, slot, msg)

	if _, err := p.console.Exec(ctx, serverID, cmd); err != nil {
		log.Warn().Err(err).Int64("server_id", serverID).Int("slot", slot).Msg("Error sending tell")
	}
}

// TruncateChat shortens msg to max runes, marking the cut with "..."
func TruncateChat(msg string, max int) string {
	runes := []rune(msg)
	if max <= 0 || len(runes) <= max {
		return msg
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func (p *Processor) pollLoop(ctx context.Context, serverID int64) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := p.console.Status(ctx, serverID)
			if err != nil {
				log.Debug().Err(err).Int64("server_id", serverID).Msg("Status poll failed")
				continue
			}
			p.Reconcile(ctx, serverID, report)
		}
	}
}

// Reconcile merges a status poll into the player table. Slots whose guid
// changed are treated as a leave followed by a join.
func (p *Processor) Reconcile(ctx context.Context, serverID int64, report *rcon.StatusReport) {
	now := time.Now()
	var out []domain.Event
	var seen []domain.OfflinePlayer
	var joined []domain.Player

	p.mu.Lock()
	state, ok := p.servers[serverID]
	if !ok {
		p.mu.Unlock()
		return
	}

	next := make(map[int]domain.Player, len(report.Players))
	for _, polled := range report.Players {
		if prev, ok := state.players[polled.Slot]; ok && (prev.GUID == "" || prev.GUID == polled.GUID) {
			polled.JoinedAt = prev.JoinedAt
			polled.Kills = prev.Kills
			polled.Deaths = prev.Deaths
			polled.Team = prev.Team
		} else {
			polled.JoinedAt = now
			out = append(out, domain.NewEvent(domain.EventPlayerConnected, serverID, domain.PlayerEvent{
				Slot: polled.Slot, GUID: polled.GUID, Name: polled.StrippedName,
			}))
			seen = append(seen, domain.OfflinePlayer{
				GUID: polled.GUID, SteamID: polled.SteamID, LastName: polled.StrippedName,
				IP: hostOnly(polled.Address), LastSeen: now,
			})
			joined = append(joined, polled)
		}
		next[polled.Slot] = polled
	}
	for slot, prev := range state.players {
		if cur, ok := next[slot]; !ok || (prev.GUID != "" && cur.GUID != prev.GUID) {
			out = append([]domain.Event{domain.NewEvent(domain.EventPlayerDisconnected, serverID, domain.PlayerEvent{
				Slot: slot, GUID: prev.GUID, Name: prev.StrippedName,
			})}, out...)
		}
	}
	state.players = next
	if report.Map != "" {
		state.match.Map = report.Map
	}
	if report.Hostname != "" {
		state.match.Hostname = domain.StripColors(report.Hostname)
	}
	state.updated = now
	count := len(next)
	tasks := state.tasks
	p.mu.Unlock()

	metrics.PlayersOnline.WithLabelValues(strconv.FormatInt(serverID, 10)).Set(float64(count))
	for _, e := range out {
		p.publish(e)
	}
	for _, s := range seen {
		p.touch(ctx, s)
	}
	for _, pl := range joined {
		p.checkBan(tasks, serverID, pl.Slot, pl.GUID)
	}
}

func (p *Processor) publish(e domain.Event) {
	if p.pub != nil {
		p.pub.Publish(e)
	}
}

func (p *Processor) touch(ctx context.Context, player domain.OfflinePlayer) {
	if p.store == nil || player.GUID == "" {
		return
	}
	if err := p.store.TouchPlayer(ctx, player); err != nil {
		log.Warn().Err(err).Str("guid", player.GUID).Msg("Failed to record player")
	}
}

func sortedPlayers(players map[int]domain.Player) []domain.Player {
	out := make([]domain.Player, 0, len(players))
	for _, pl := range players {
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func hostOnly(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return addr[:i]
	}
	return addr
}
