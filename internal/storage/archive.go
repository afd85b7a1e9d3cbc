package storage

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

// ArchiveAudit writes audit rows older than before to a gzipped JSON lines
// file in dir and deletes them. It returns the file written and the number
// of rows moved; no file is written when nothing is due.
func (s *Store) ArchiveAudit(ctx context.Context, before time.Time, dir string) (string, int, error) {
	cutoff := formatTimestamp(before)

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE created_at < ?`, cutoff).Scan(&n); err != nil {
		return "", 0, err
	}
	if n == 0 {
		return "", 0, nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", 0, fmt.Errorf("creating archive dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("audit-%s.jsonl.gz", before.UTC().Format("20060102T150405Z")))

	written := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		lastID, err := writeArchive(ctx, tx, cutoff, path)
		if err != nil {
			return err
		}
		written = true
		_, err = tx.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ? AND id <= ?`, cutoff, lastID)
		return err
	})
	if err != nil {
		if written {
			os.Remove(path)
		}
		return "", 0, err
	}
	return path, n, nil
}

func writeArchive(ctx context.Context, tx *sql.Tx, cutoff, path string) (lastID int64, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(path)
		}
	}()

	gz := gzip.NewWriter(f)
	buf := bufio.NewWriter(gz)
	enc := json.NewEncoder(buf)

	rows, err := tx.QueryContext(ctx, `SELECT `+executionColumns+` FROM audit_log WHERE created_at < ? ORDER BY id`, cutoff)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return 0, err
		}
		if err := enc.Encode(e); err != nil {
			return 0, fmt.Errorf("writing archive: %w", err)
		}
		lastID = e.ID
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if err := buf.Flush(); err != nil {
		return 0, fmt.Errorf("writing archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("writing archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing archive: %w", err)
	}
	return lastID, nil
}

// ReadArchive decodes an archive written by ArchiveAudit
func ReadArchive(path string) ([]domain.CommandExecution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer gz.Close()

	var out []domain.CommandExecution
	dec := json.NewDecoder(gz)
	for dec.More() {
		var e domain.CommandExecution
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding archive: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// RunArchiver expires temp bans and, when dir is set, moves audit rows older
// than retention into dir once per interval until ctx is cancelled
func (s *Store) RunArchiver(ctx context.Context, retention time.Duration, dir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := s.ExpireTempBans(ctx, s.now()); err != nil {
			log.Error().Err(err).Msg("Error expiring temp bans")
		} else if n > 0 {
			log.Info().Int64("bans", n).Msg("Expired temp bans")
		}

		if dir != "" {
			path, n, err := s.ArchiveAudit(ctx, s.now().Add(-retention), dir)
			if err != nil {
				log.Error().Err(err).Msg("Error archiving audit log")
			} else if n > 0 {
				log.Info().Str("path", path).Int("rows", n).Msg("Archived audit log")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
