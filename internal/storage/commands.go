package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const commandColumns = `id, name, usage, rcon_template, min_args, max_args, min_power, permissions,
	requirement_type, enabled, is_built_in, created_at, updated_at`

// ListCommands returns every command definition, enabled or not
func (s *Store) ListCommands(ctx context.Context) ([]domain.CustomCommand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commandColumns+` FROM commands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []domain.CustomCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, *c)
	}
	return cmds, rows.Err()
}

// GetCommand returns a command by name
func (s *Store) GetCommand(ctx context.Context, name string) (*domain.CustomCommand, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE name = ?`,
		strings.ToLower(name))
	c, err := scanCommand(row)
	if err != nil {
		return nil, notFound(err, "command %q not found", name)
	}
	return c, nil
}

// CreateCommand inserts a custom command. Built-ins only come from seeding.
func (s *Store) CreateCommand(ctx context.Context, c *domain.CustomCommand) error {
	c.Name = strings.ToLower(c.Name)
	c.IsBuiltIn = false
	now := s.now().UTC().Truncate(time.Second)
	c.CreatedAt, c.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (name, usage, rcon_template, min_args, max_args, min_power, permissions,
			requirement_type, enabled, is_built_in, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)
	`, c.Name, c.Usage, c.RconTemplate, c.MinArgs, c.MaxArgs, c.MinPower, encodeList(c.Permissions),
		string(c.RequirementType), c.Enabled, formatTimestamp(now), formatTimestamp(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.Errorf(domain.CodeInvalidInput, "command %q already exists", c.Name)
		}
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateCommand replaces a custom command's definition
func (s *Store) UpdateCommand(ctx context.Context, c *domain.CustomCommand) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkMutable(ctx, tx, c.Name); err != nil {
			return err
		}
		c.UpdatedAt = s.now().UTC().Truncate(time.Second)
		_, err := tx.ExecContext(ctx, `
			UPDATE commands SET usage = ?, rcon_template = ?, min_args = ?, max_args = ?, min_power = ?,
				permissions = ?, requirement_type = ?, enabled = ?, updated_at = ?
			WHERE name = ?
		`, c.Usage, c.RconTemplate, c.MinArgs, c.MaxArgs, c.MinPower, encodeList(c.Permissions),
			string(c.RequirementType), c.Enabled, formatTimestamp(c.UpdatedAt), strings.ToLower(c.Name))
		return err
	})
}

// DeleteCommand removes a custom command
func (s *Store) DeleteCommand(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkMutable(ctx, tx, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE name = ?`, strings.ToLower(name))
		return err
	})
}

func checkMutable(ctx context.Context, tx *sql.Tx, name string) error {
	var builtIn bool
	err := tx.QueryRowContext(ctx, `SELECT is_built_in FROM commands WHERE name = ?`,
		strings.ToLower(name)).Scan(&builtIn)
	if err != nil {
		return notFound(err, "command %q not found", name)
	}
	if builtIn {
		return domain.Errorf(domain.CodeBuiltInImmutable, "%s is a built-in command and cannot be modified", name)
	}
	return nil
}

// SeedCommands installs the built-in definitions. Existing built-in rows are
// refreshed; custom commands are never touched.
func (s *Store) SeedCommands(ctx context.Context, defs []domain.CustomCommand) error {
	now := formatTimestamp(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range defs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO commands (name, usage, rcon_template, min_args, max_args, min_power, permissions,
					requirement_type, enabled, is_built_in, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE, TRUE, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					usage = excluded.usage,
					rcon_template = excluded.rcon_template,
					min_args = excluded.min_args,
					max_args = excluded.max_args,
					min_power = excluded.min_power,
					permissions = excluded.permissions,
					requirement_type = excluded.requirement_type,
					updated_at = excluded.updated_at
				WHERE commands.is_built_in = TRUE
			`, strings.ToLower(c.Name), c.Usage, c.RconTemplate, c.MinArgs, c.MaxArgs, c.MinPower,
				encodeList(c.Permissions), string(c.RequirementType), now, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
