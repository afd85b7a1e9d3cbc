package storage

import (
	"context"
	"strings"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const executionColumns = `id, request_id, server_id, actor_id, actor_name, source, command,
	resolved_rcon, response, success, error_code, error, created_at`

// RecordExecution appends an audit row
func (s *Store) RecordExecution(ctx context.Context, e *domain.CommandExecution) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (request_id, server_id, actor_id, actor_name, source, command,
			resolved_rcon, response, success, error_code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RequestID, e.ServerID, e.ActorID, e.ActorName, e.Source, e.Command,
		nullString(e.ResolvedRcon), nullString(e.Response), e.Success, nullString(e.ErrorCode),
		nullString(e.Error), formatTimestamp(e.Timestamp))
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func auditWhere(f domain.AuditFilter) (string, []any) {
	var conds []string
	var args []any
	if f.ServerID != nil {
		conds = append(conds, "server_id = ?")
		args = append(args, *f.ServerID)
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Command != "" {
		conds = append(conds, "(command = ? OR command LIKE ?)")
		args = append(args, f.Command, f.Command+" %")
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTimestamp(*f.Since))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListExecutions returns audit rows newest first, plus the total matching
// the filter
func (s *Store) ListExecutions(ctx context.Context, f domain.AuditFilter) ([]domain.CommandExecution, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM audit_log`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	execs := []domain.CommandExecution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		execs = append(execs, *e)
	}
	return execs, total, rows.Err()
}

// NameCount is one row of a ranking
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ExecutionStats summarizes the audit log
type ExecutionStats struct {
	Total       int         `json:"total"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	TopCommands []NameCount `json:"top_commands"`
	TopActors   []NameCount `json:"top_actors"`
	FailureCode []NameCount `json:"failure_codes"`
}

// GetExecutionStats summarizes executions since a point in time, optionally
// for one server
func (s *Store) GetExecutionStats(ctx context.Context, serverID *int64, since time.Time) (*ExecutionStats, error) {
	where, args := auditWhere(domain.AuditFilter{ServerID: serverID, Since: &since})

	stats := &ExecutionStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0)
		FROM audit_log`+where, args...).Scan(&stats.Total, &stats.Succeeded)
	if err != nil {
		return nil, err
	}
	stats.Failed = stats.Total - stats.Succeeded

	// The first word of the command text is the command name
	if stats.TopCommands, err = s.ranking(ctx, `
		SELECT CASE WHEN instr(command, ' ') > 0 THEN substr(command, 1, instr(command, ' ') - 1) ELSE command END AS name,
			COUNT(*) AS n
		FROM audit_log`+where+` GROUP BY name ORDER BY n DESC, name LIMIT 10`, args...); err != nil {
		return nil, err
	}
	if stats.TopActors, err = s.ranking(ctx, `
		SELECT actor_name, COUNT(*) AS n FROM audit_log`+where+`
		GROUP BY actor_name ORDER BY n DESC, actor_name LIMIT 10`, args...); err != nil {
		return nil, err
	}
	failWhere := " WHERE success = FALSE"
	if where != "" {
		failWhere = where + " AND success = FALSE"
	}
	if stats.FailureCode, err = s.ranking(ctx, `
		SELECT COALESCE(error_code, ''), COUNT(*) AS n FROM audit_log`+failWhere+`
		GROUP BY error_code ORDER BY n DESC LIMIT 10`, args...); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) ranking(ctx context.Context, query string, args ...any) ([]NameCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []NameCount{}
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}
