package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ernie/warden/internal/domain"
)

// ResolveContext is everything a command needs to build its wire command
type ResolveContext struct {
	Actor   domain.Actor
	Args    []string
	Players []domain.Player
	Matcher PlayerMatcher
	// Available lists the commands the actor may run, for help output
	Available []string
}

// Resolution is the outcome of resolving a command. Wire is sent to the
// server; a command answered locally leaves it empty and sets Reply.
type Resolution struct {
	Wire  string
	Reply string
	// Ban is set by commands that keep a player out after the wire command
	// succeeds
	Ban *BanRequest
}

// BanRequest describes a timed ban to record once the server accepts it
type BanRequest struct {
	Player   domain.Player
	Duration time.Duration
	Reason   string
}

// Command is one admin command. Template and callback commands resolve
// through the same contract, so dispatch never branches on where a
// command came from.
type Command interface {
	Definition() domain.CustomCommand
	Resolve(rc *ResolveContext) (Resolution, error)
}

// TemplateCommand renders a parsed RCON template
type TemplateCommand struct {
	def      domain.CustomCommand
	template *Template
}

// NewTemplateCommand parses def's template
func NewTemplateCommand(def domain.CustomCommand) (*TemplateCommand, error) {
	if strings.TrimSpace(def.RconTemplate) == "" {
		return nil, domain.Errorf(domain.CodeInvalidTemplate, "command %q has an empty template", def.Name)
	}
	tmpl, err := ParseTemplate(def.RconTemplate)
	if err != nil {
		return nil, err
	}
	return &TemplateCommand{def: def, template: tmpl}, nil
}

func (c *TemplateCommand) Definition() domain.CustomCommand {
	return c.def
}

func (c *TemplateCommand) Resolve(rc *ResolveContext) (Resolution, error) {
	wire, err := c.template.Resolve(rc)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Wire: wire}, nil
}

// CallbackFunc implements a native command
type CallbackFunc func(rc *ResolveContext) (Resolution, error)

// BuiltInCallback is a command implemented in Go rather than a template
type BuiltInCallback struct {
	def domain.CustomCommand
	fn  CallbackFunc
}

func (c *BuiltInCallback) Definition() domain.CustomCommand {
	return c.def
}

func (c *BuiltInCallback) Resolve(rc *ResolveContext) (Resolution, error) {
	return c.fn(rc)
}

// ValidateDefinition checks a command definition before it is stored
func ValidateDefinition(def domain.CustomCommand) error {
	if def.Name == "" || strings.ContainsAny(def.Name, " \t\n") {
		return domain.Errorf(domain.CodeInvalidInput, "command name must be a single word")
	}
	if !def.RequirementType.Valid() {
		return domain.Errorf(domain.CodeInvalidInput, "unknown requirement type %q", def.RequirementType)
	}
	if def.MinArgs < 0 {
		return domain.Errorf(domain.CodeInvalidInput, "min_args must not be negative")
	}
	if def.MaxArgs != domain.UnboundedArgs && def.MaxArgs < def.MinArgs {
		return domain.Errorf(domain.CodeInvalidInput, "max_args must be -1 or >= min_args")
	}
	if def.MinPower < 0 || def.MinPower > 100 {
		return domain.Errorf(domain.CodeInvalidInput, "min_power must be between 0 and 100")
	}
	if strings.TrimSpace(def.RconTemplate) == "" {
		return domain.Errorf(domain.CodeInvalidTemplate, "rcon_template is required")
	}
	if _, err := ParseTemplate(def.RconTemplate); err != nil {
		return err
	}
	return nil
}

// Registry holds the loaded command set keyed by lowercase name
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackFunc
}

// NewRegistry returns a registry that knows the native callbacks
func NewRegistry() *Registry {
	r := &Registry{
		commands:  make(map[string]Command),
		callbacks: make(map[string]CallbackFunc),
	}
	r.callbacks["status"] = statusCallback
	r.callbacks["raw"] = rawCallback
	r.callbacks["help"] = helpCallback
	r.callbacks["mygroup"] = mygroupCallback
	r.callbacks["tempban"] = tempbanCallback
	return r
}

// Load replaces the command set. Definitions that fail to parse are
// skipped and reported together.
func (r *Registry) Load(defs []domain.CustomCommand) error {
	commands := make(map[string]Command, len(defs))
	var bad []string
	for _, def := range defs {
		cmd, err := r.build(def)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", def.Name, err))
			continue
		}
		commands[strings.ToLower(def.Name)] = cmd
	}

	r.mu.Lock()
	r.commands = commands
	r.mu.Unlock()

	if len(bad) > 0 {
		return domain.Errorf(domain.CodeInvalidTemplate, "skipped commands: %s", strings.Join(bad, "; "))
	}
	return nil
}

// Put adds or replaces one command
func (r *Registry) Put(def domain.CustomCommand) error {
	cmd, err := r.build(def)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.commands[strings.ToLower(def.Name)] = cmd
	r.mu.Unlock()
	return nil
}

// Delete removes a command by name
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	delete(r.commands, strings.ToLower(name))
	r.mu.Unlock()
}

func (r *Registry) build(def domain.CustomCommand) (Command, error) {
	if fn, ok := r.callbacks[strings.ToLower(def.Name)]; ok && def.IsBuiltIn && def.RconTemplate == "" {
		return &BuiltInCallback{def: def, fn: fn}, nil
	}
	return NewTemplateCommand(def)
}

// Get looks a command up. Disabled definitions are reported as unknown.
func (r *Registry) Get(name string) (Command, error) {
	r.mu.RLock()
	cmd, ok := r.commands[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok || !cmd.Definition().Enabled {
		return nil, domain.Errorf(domain.CodeUnknownCommand, "unknown command %q", name)
	}
	return cmd, nil
}

// List returns all enabled commands sorted by name
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		if cmd.Definition().Enabled {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition().Name < out[j].Definition().Name
	})
	return out
}

func statusCallback(*ResolveContext) (Resolution, error) {
	return Resolution{Wire: "status"}, nil
}

func rawCallback(rc *ResolveContext) (Resolution, error) {
	wire := strings.TrimSpace(strings.Join(rc.Args, " "))
	if wire == "" {
		return Resolution{}, domain.Errorf(domain.CodeUnresolvedPlaceholder, "empty rcon command")
	}
	if strings.ContainsAny(wire, "\n\r\x00") {
		return Resolution{}, domain.Errorf(domain.CodeInvalidInput, "raw command must be a single line")
	}
	return Resolution{Wire: wire}, nil
}

func helpCallback(rc *ResolveContext) (Resolution, error) {
	if len(rc.Available) == 0 {
		return Resolution{Reply: "No commands available"}, nil
	}
	return Resolution{Reply: "Commands: " + strings.Join(rc.Available, ", ")}, nil
}

func mygroupCallback(rc *ResolveContext) (Resolution, error) {
	perms := rc.Actor.PermissionList()
	if len(perms) == 0 {
		return Resolution{Reply: fmt.Sprintf("Power %d, no permissions", rc.Actor.Power)}, nil
	}
	return Resolution{Reply: fmt.Sprintf("Power %d: %s", rc.Actor.Power, strings.Join(perms, ", "))}, nil
}

// tempbanCallback resolves "<player> <duration> <reason...>"
func tempbanCallback(rc *ResolveContext) (Resolution, error) {
	if len(rc.Args) < 3 {
		return Resolution{}, domain.Errorf(domain.CodeArgumentCount, "usage: tempban <player> <duration> <reason>")
	}
	d, err := ParseBanDuration(rc.Args[1])
	if err != nil {
		return Resolution{}, err
	}
	player, err := rc.Matcher.Match(rc.Players, rc.Args[0])
	if err != nil {
		return Resolution{}, err
	}
	reason, err := argsFrom(2).resolve(rc)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Wire: fmt.Sprintf("tempban %d %dm %s", player.Slot, int(d/time.Minute), reason),
		Ban:  &BanRequest{Player: player, Duration: d, Reason: reason},
	}, nil
}

// ParseBanDuration parses {number}{m|h|d|M|y}
func ParseBanDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, domain.Errorf(domain.CodeUnresolvedPlaceholder, "invalid duration %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, domain.Errorf(domain.CodeUnresolvedPlaceholder, "invalid duration %q", s)
	}
	unit := map[byte]time.Duration{
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'M': 30 * 24 * time.Hour,
		'y': 365 * 24 * time.Hour,
	}[s[len(s)-1]]
	if unit == 0 {
		return 0, domain.Errorf(domain.CodeUnresolvedPlaceholder, "invalid duration unit in %q (use m, h, d, M or y)", s)
	}
	return time.Duration(n) * unit, nil
}

// DefaultCommands is the built-in catalogue seeded on first start
func DefaultCommands() []domain.CustomCommand {
	defs := []domain.CustomCommand{
		{Name: "kick", Usage: "!kick <player> [reason]", RconTemplate: "clientkick {playerId:arg0} {argsFrom:1}",
			MinArgs: 1, MaxArgs: domain.UnboundedArgs, MinPower: 50, Permissions: []string{domain.PermRconKick},
			RequirementType: domain.RequireBoth},
		{Name: "ban", Usage: "!ban <player> [reason]", RconTemplate: "banclient {playerId:arg0} {argsFrom:1}",
			MinArgs: 1, MaxArgs: domain.UnboundedArgs, MinPower: 80, Permissions: []string{domain.PermRconBan},
			RequirementType: domain.RequireBoth},
		{Name: "tempban", Usage: "!tempban <player> <duration> <reason>",
			MinArgs: 3, MaxArgs: domain.UnboundedArgs, MinPower: 80, Permissions: []string{domain.PermRconBan},
			RequirementType: domain.RequireBoth},
		{Name: "unban", Usage: "!unban <name>", RconTemplate: "unbanUser {argsFrom:0}",
			MinArgs: 1, MaxArgs: domain.UnboundedArgs, MinPower: 80, Permissions: []string{domain.PermRconBan},
			RequirementType: domain.RequireBoth},
		{Name: "say", Usage: "!say <message>", RconTemplate: "say ^3[Admin] ^7{argsFrom:0}",
			MinArgs: 1, MaxArgs: domain.UnboundedArgs, MinPower: 50, Permissions: []string{domain.PermRconSay},
			RequirementType: domain.RequirePermission},
		{Name: "map", Usage: "!map <mapname>", RconTemplate: "map {arg0}",
			MinArgs: 1, MaxArgs: 1, MinPower: 80, Permissions: []string{domain.PermRconMap},
			RequirementType: domain.RequireBoth},
		{Name: "status", Usage: "!status",
			MinArgs: 0, MaxArgs: 0, Permissions: []string{domain.PermStatusView},
			RequirementType: domain.RequirePermission},
		{Name: "help", Usage: "!help",
			MinArgs: 0, MaxArgs: 1, RequirementType: domain.RequirePower},
		{Name: "mygroup", Usage: "!mygroup",
			MinArgs: 0, MaxArgs: 0, RequirementType: domain.RequirePower},
		{Name: "raw", Usage: "raw <rcon command>",
			MinArgs: 1, MaxArgs: domain.UnboundedArgs, Permissions: []string{domain.PermRconCommand},
			RequirementType: domain.RequirePermission},
	}
	for i := range defs {
		defs[i].Enabled = true
		defs[i].IsBuiltIn = true
	}
	return defs
}

