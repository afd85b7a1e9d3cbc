package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

// DefaultGroups are created on first start
func DefaultGroups() []domain.Group {
	return []domain.Group{
		{Name: "guest", Power: 0, Permissions: []string{}},
		{Name: "moderator", Power: 50, Permissions: []string{
			domain.PermRconKick, domain.PermRconSay, domain.PermStatusView,
		}},
		{Name: "admin", Power: 80, Permissions: []string{
			domain.PermRconKick, domain.PermRconBan, domain.PermRconSay, domain.PermRconMap,
			domain.PermStatusView, domain.PermAuditView,
		}},
		{Name: "owner", Power: 100, Permissions: []string{domain.PermAll}},
	}
}

// Seed creates the default groups and installs the built-in commands.
// Groups that already exist are left alone.
func (s *Store) Seed(ctx context.Context, commands []domain.CustomCommand) error {
	for _, g := range DefaultGroups() {
		_, err := s.GetGroup(ctx, g.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := s.CreateGroup(ctx, &g); err != nil {
			return fmt.Errorf("seeding group %s: %w", g.Name, err)
		}
		log.Info().Str("group", g.Name).Int("power", g.Power).Msg("Created default group")
	}

	if err := s.SeedCommands(ctx, commands); err != nil {
		return fmt.Errorf("seeding commands: %w", err)
	}
	return nil
}

// SeedServers creates the configured servers that do not exist yet
func (s *Store) SeedServers(ctx context.Context, servers []domain.ServerTarget) error {
	for i := range servers {
		created, err := s.EnsureServer(ctx, &servers[i])
		if err != nil {
			return fmt.Errorf("seeding server %s: %w", servers[i].Name, err)
		}
		if created {
			log.Info().Str("server", servers[i].Name).Str("address", servers[i].Address()).Msg("Added server")
		}
	}
	return nil
}
