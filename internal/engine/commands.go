package engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/authz"
	"github.com/ernie/warden/internal/dispatch"
	"github.com/ernie/warden/internal/domain"
)

// Commands returns every stored definition, including disabled ones
func (e *Engine) Commands(ctx context.Context) ([]domain.CustomCommand, error) {
	return e.store.ListCommands(ctx)
}

// CreateCommand validates, stores and registers a custom command
func (e *Engine) CreateCommand(ctx context.Context, actor domain.Actor, def domain.CustomCommand) (*domain.CustomCommand, error) {
	if err := authz.RequirePermission(actor, domain.PermCommandsManage); err != nil {
		return nil, err
	}
	def.Name = strings.ToLower(strings.TrimSpace(def.Name))
	if err := dispatch.ValidateDefinition(def); err != nil {
		return nil, err
	}
	if err := e.store.CreateCommand(ctx, &def); err != nil {
		return nil, err
	}
	if err := e.registry.Put(def); err != nil {
		return nil, err
	}
	log.Info().Str("command", def.Name).Str("by", actor.Name).Msg("Command created")
	return &def, nil
}

// UpdateCommand replaces a custom command. Built-ins cannot be changed.
func (e *Engine) UpdateCommand(ctx context.Context, actor domain.Actor, def domain.CustomCommand) (*domain.CustomCommand, error) {
	if err := authz.RequirePermission(actor, domain.PermCommandsManage); err != nil {
		return nil, err
	}
	def.Name = strings.ToLower(strings.TrimSpace(def.Name))
	if err := dispatch.ValidateDefinition(def); err != nil {
		return nil, err
	}
	if err := e.store.UpdateCommand(ctx, &def); err != nil {
		return nil, err
	}
	stored, err := e.store.GetCommand(ctx, def.Name)
	if err != nil {
		return nil, err
	}
	if err := e.registry.Put(*stored); err != nil {
		return nil, err
	}
	log.Info().Str("command", def.Name).Str("by", actor.Name).Msg("Command updated")
	return stored, nil
}

// DeleteCommand removes a custom command. Built-ins cannot be removed.
func (e *Engine) DeleteCommand(ctx context.Context, actor domain.Actor, name string) error {
	if err := authz.RequirePermission(actor, domain.PermCommandsManage); err != nil {
		return err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if err := e.store.DeleteCommand(ctx, name); err != nil {
		return err
	}
	e.registry.Delete(name)
	log.Info().Str("command", name).Str("by", actor.Name).Msg("Command deleted")
	return nil
}
