package storage

import (
	"context"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const offlinePlayerColumns = `id, guid, steam_id, last_name, ip, first_seen, last_seen`

// TouchPlayer records that a player was seen, creating the row on first
// sight. Empty steam id or ip keep the stored value.
func (s *Store) TouchPlayer(ctx context.Context, p domain.OfflinePlayer) error {
	seen := p.LastSeen
	if seen.IsZero() {
		seen = s.now()
	}
	ts := formatTimestamp(seen)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_players (guid, steam_id, last_name, ip, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			steam_id = COALESCE(excluded.steam_id, offline_players.steam_id),
			last_name = excluded.last_name,
			ip = COALESCE(excluded.ip, offline_players.ip),
			last_seen = excluded.last_seen
	`, p.GUID, nullString(p.SteamID), p.LastName, nullString(p.IP), ts, ts)
	return err
}

// GetOfflinePlayer returns a known player by GUID
func (s *Store) GetOfflinePlayer(ctx context.Context, guid string) (*domain.OfflinePlayer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+offlinePlayerColumns+` FROM offline_players WHERE guid = ?`, guid)
	p, err := scanOfflinePlayer(row)
	if err != nil {
		return nil, notFound(err, "player %s not found", guid)
	}
	return p, nil
}

// SearchOfflinePlayers finds known players by name fragment or exact GUID,
// most recently seen first
func (s *Store) SearchOfflinePlayers(ctx context.Context, query string, limit int) ([]domain.OfflinePlayer, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offlinePlayerColumns+` FROM offline_players
		WHERE last_name LIKE ? OR guid = ?
		ORDER BY last_seen DESC LIMIT ?
	`, "%"+query+"%", query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []domain.OfflinePlayer{}
	for rows.Next() {
		p, err := scanOfflinePlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// PlayerStats counts known players
type PlayerStats struct {
	Known      int                    `json:"known"`
	SeenSince  int                    `json:"seen_since"`
	RecentlyOn []domain.OfflinePlayer `json:"recent"`
}

// GetPlayerStats counts known players and those seen since a point in time
func (s *Store) GetPlayerStats(ctx context.Context, since time.Time) (*PlayerStats, error) {
	stats := &PlayerStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN last_seen >= ? THEN 1 ELSE 0 END), 0) FROM offline_players
	`, formatTimestamp(since)).Scan(&stats.Known, &stats.SeenSince)
	if err != nil {
		return nil, err
	}
	if stats.RecentlyOn, err = s.SearchOfflinePlayers(ctx, "", 10); err != nil {
		return nil, err
	}
	return stats, nil
}
