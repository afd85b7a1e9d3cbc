// Package authz decides whether an actor may run a command.
package authz

import (
	"sort"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

// DisabledSet reports commands currently shut down by the circuit breaker
type DisabledSet interface {
	IsDisabled(command string) bool
}

// Engine evaluates argument counts, the emergency set and
// permission/power requirements
type Engine struct {
	disabled DisabledSet
}

// New creates an engine reading the given disabled set
func New(disabled DisabledSet) *Engine {
	return &Engine{disabled: disabled}
}

// CheckArgs validates argc against the command's bounds
func CheckArgs(def domain.CustomCommand, argc int) error {
	if argc < def.MinArgs {
		return domain.Errorf(domain.CodeArgumentCount, "%s needs at least %d argument(s), usage: %s", def.Name, def.MinArgs, def.Usage)
	}
	if def.MaxArgs != domain.UnboundedArgs && argc > def.MaxArgs {
		return domain.Errorf(domain.CodeArgumentCount, "%s takes at most %d argument(s), usage: %s", def.Name, def.MaxArgs, def.Usage)
	}
	return nil
}

// Authorize checks the emergency set first, then the command's
// requirement type. It never looks at arguments.
func (e *Engine) Authorize(actor domain.Actor, def domain.CustomCommand) error {
	if e.disabled != nil && e.disabled.IsDisabled(def.Name) {
		return deny(domain.Errorf(domain.CodeCommandDisabled, "%s is temporarily disabled", def.Name))
	}

	switch def.RequirementType {
	case domain.RequirePower:
		return checkPower(actor, def)
	case domain.RequireBoth:
		if err := checkPermissions(actor, def); err != nil {
			return err
		}
		return checkPower(actor, def)
	default:
		return checkPermissions(actor, def)
	}
}

// Check runs the argument count check followed by Authorize
func (e *Engine) Check(actor domain.Actor, def domain.CustomCommand, argc int) error {
	if err := CheckArgs(def, argc); err != nil {
		metrics.AuthzDenialsTotal.WithLabelValues(string(domain.CodeArgumentCount)).Inc()
		return err
	}
	return e.Authorize(actor, def)
}

// Available returns the sorted names of the commands actor may run now
func (e *Engine) Available(actor domain.Actor, defs []domain.CustomCommand) []string {
	var names []string
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		if e.allowed(actor, def) {
			names = append(names, def.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (e *Engine) allowed(actor domain.Actor, def domain.CustomCommand) bool {
	if e.disabled != nil && e.disabled.IsDisabled(def.Name) {
		return false
	}
	powerOK := actor.Power >= def.MinPower
	permsOK := true
	for _, p := range def.Permissions {
		if !actor.HasPermission(p) {
			permsOK = false
			break
		}
	}
	switch def.RequirementType {
	case domain.RequirePower:
		return powerOK
	case domain.RequireBoth:
		return powerOK && permsOK
	default:
		return permsOK
	}
}

// RequirePermission gates management operations that are independent of
// any command definition
func RequirePermission(actor domain.Actor, perm string) error {
	if actor.HasPermission(perm) {
		return nil
	}
	return deny(domain.Errorf(domain.CodeInsufficientPermission, "missing permission %s", perm))
}

func checkPermissions(actor domain.Actor, def domain.CustomCommand) error {
	for _, p := range def.Permissions {
		if !actor.HasPermission(p) {
			return deny(domain.Errorf(domain.CodeInsufficientPermission, "%s requires permission %s", def.Name, p))
		}
	}
	return nil
}

func checkPower(actor domain.Actor, def domain.CustomCommand) error {
	if actor.Power < def.MinPower {
		return deny(domain.Errorf(domain.CodeInsufficientPower, "%s requires power %d, you have %d", def.Name, def.MinPower, actor.Power))
	}
	return nil
}

func deny(err *domain.Error) error {
	metrics.AuthzDenialsTotal.WithLabelValues(string(err.Code)).Inc()
	return err
}
