package storage

import (
	"context"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const tempBanColumns = `id, server_id, guid, name, reason, banned_by, active, created_at, expires_at`

// CreateTempBan inserts an active ban
func (s *Store) CreateTempBan(ctx context.Context, b *domain.TempBan) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	b.CreatedAt = b.CreatedAt.UTC().Truncate(time.Second)
	b.ExpiresAt = b.ExpiresAt.UTC().Truncate(time.Second)
	b.Active = true
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO temp_bans (server_id, guid, name, reason, banned_by, active, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, TRUE, ?, ?)
	`, b.ServerID, b.GUID, b.Name, b.Reason, b.BannedBy, formatTimestamp(b.CreatedAt), formatTimestamp(b.ExpiresAt))
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

// ActiveTempBan returns the longest-running ban in force for a GUID at now
func (s *Store) ActiveTempBan(ctx context.Context, guid string, now time.Time) (*domain.TempBan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tempBanColumns+` FROM temp_bans
		WHERE guid = ? AND active = TRUE AND expires_at > ?
		ORDER BY expires_at DESC LIMIT 1
	`, guid, formatTimestamp(now))
	b, err := scanTempBan(row)
	if err != nil {
		return nil, notFound(err, "no active ban for %s", guid)
	}
	return b, nil
}

// ListActiveTempBans returns the bans in force at now, soonest expiry first
func (s *Store) ListActiveTempBans(ctx context.Context, now time.Time) ([]domain.TempBan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tempBanColumns+` FROM temp_bans
		WHERE active = TRUE AND expires_at > ?
		ORDER BY expires_at
	`, formatTimestamp(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := []domain.TempBan{}
	for rows.Next() {
		b, err := scanTempBan(rows)
		if err != nil {
			return nil, err
		}
		bans = append(bans, *b)
	}
	return bans, rows.Err()
}

// RevokeTempBan lifts a ban before it expires
func (s *Store) RevokeTempBan(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE temp_bans SET active = FALSE WHERE id = ? AND active = TRUE`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "temp ban %d not found", id)
}

// ExpireTempBans deactivates bans whose time has run out and reports how many
func (s *Store) ExpireTempBans(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE temp_bans SET active = FALSE WHERE active = TRUE AND expires_at <= ?
	`, formatTimestamp(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
