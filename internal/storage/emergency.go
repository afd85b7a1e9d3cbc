package storage

import (
	"context"

	"github.com/ernie/warden/internal/domain"
)

// SaveShutdown records a disabled command, replacing any earlier record
func (s *Store) SaveShutdown(ctx context.Context, e domain.EmergencyShutdown) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emergency_shutdowns (command, reason, disabled_at, disabled_by, reenable_at, auto_reenable)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(command) DO UPDATE SET
			reason = excluded.reason,
			disabled_at = excluded.disabled_at,
			disabled_by = excluded.disabled_by,
			reenable_at = excluded.reenable_at,
			auto_reenable = excluded.auto_reenable
	`, e.Command, e.Reason, formatTimestamp(e.DisabledAt), e.DisabledBy, nullTimestamp(e.ReenableAt), e.AutoReenable)
	return err
}

// DeleteShutdown removes a command's record if it is still the one given.
// A missing or newer record is not an error.
func (s *Store) DeleteShutdown(ctx context.Context, e domain.EmergencyShutdown) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM emergency_shutdowns WHERE command = ? AND disabled_at = ? AND disabled_by = ?
	`, e.Command, formatTimestamp(e.DisabledAt), e.DisabledBy)
	return err
}

// ListShutdowns returns every disabled command
func (s *Store) ListShutdowns(ctx context.Context) ([]domain.EmergencyShutdown, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command, reason, disabled_at, disabled_by, reenable_at, auto_reenable
		FROM emergency_shutdowns ORDER BY disabled_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EmergencyShutdown
	for rows.Next() {
		e, err := scanShutdown(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
