package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ernie/warden/internal/domain"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func nullTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Errorf(domain.CodeNotFound, format, args...)
	}
	return err
}

func requireAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Errorf(domain.CodeNotFound, format, args...)
	}
	return nil
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func decodeList(raw string) []string {
	list := []string{}
	if raw == "" {
		return list
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return []string{}
	}
	return list
}

// --- Server methods ---

const serverColumns = `id, name, host, rcon_port, rcon_password, game_log_path, max_players, is_active, is_default, created_at`

// ListServers returns all servers
func (s *Store) ListServers(ctx context.Context) ([]domain.ServerTarget, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
}

// ListActiveServers returns the servers that should hold a session
func (s *Store) ListActiveServers(ctx context.Context) ([]domain.ServerTarget, error) {
	return s.queryServers(ctx, `SELECT `+serverColumns+` FROM servers WHERE is_active = TRUE ORDER BY id`)
}

func (s *Store) queryServers(ctx context.Context, query string, args ...any) ([]domain.ServerTarget, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.ServerTarget
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// GetServer returns a server by ID
func (s *Store) GetServer(ctx context.Context, id int64) (*domain.ServerTarget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if err != nil {
		return nil, notFound(err, "server %d not found", id)
	}
	return srv, nil
}

// GetDefaultServer returns the default server, falling back to the oldest
// active server when none is marked
func (s *Store) GetDefaultServer(ctx context.Context) (*domain.ServerTarget, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+` FROM servers
		WHERE is_active = TRUE
		ORDER BY is_default DESC, id
		LIMIT 1
	`)
	srv, err := scanServer(row)
	if err != nil {
		return nil, notFound(err, "no active server configured")
	}
	return srv, nil
}

// CreateServer inserts a server. Marking it default clears every other
// default in the same transaction.
func (s *Store) CreateServer(ctx context.Context, srv *domain.ServerTarget) error {
	srv.CreatedAt = s.now().UTC().Truncate(time.Second)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if srv.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE servers SET is_default = FALSE`); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO servers (name, host, rcon_port, rcon_password, game_log_path, max_players, is_active, is_default, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, srv.Name, srv.Host, srv.RconPort, srv.RconPassword, nullString(srv.GameLogPath),
			srv.MaxPlayers, srv.IsActive, srv.IsDefault, formatTimestamp(srv.CreatedAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return domain.Errorf(domain.CodeInvalidInput, "server %q already exists", srv.Name)
			}
			return err
		}
		srv.ID, err = res.LastInsertId()
		return err
	})
}

// UpdateServer replaces a server's settings
func (s *Store) UpdateServer(ctx context.Context, srv *domain.ServerTarget) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if srv.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE servers SET is_default = FALSE WHERE id != ?`, srv.ID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE servers SET name = ?, host = ?, rcon_port = ?, rcon_password = ?, game_log_path = ?,
				max_players = ?, is_active = ?, is_default = ?
			WHERE id = ?
		`, srv.Name, srv.Host, srv.RconPort, srv.RconPassword, nullString(srv.GameLogPath),
			srv.MaxPlayers, srv.IsActive, srv.IsDefault, srv.ID)
		if err != nil {
			return err
		}
		return requireAffected(res, "server %d not found", srv.ID)
	})
}

// DeleteServer removes a server
func (s *Store) DeleteServer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "server %d not found", id)
}

// EnsureServer creates the server unless one with the same name exists.
// It reports whether a row was inserted.
func (s *Store) EnsureServer(ctx context.Context, srv *domain.ServerTarget) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM servers WHERE name = ?`, srv.Name).Scan(&id)
	if err == nil {
		srv.ID = id
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	return true, s.CreateServer(ctx, srv)
}

// --- Group methods ---

// ListGroups returns all groups ordered by power
func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return s.queryGroups(ctx, `SELECT id, name, power, permissions, created_at FROM groups ORDER BY power, name`)
}

// GetGroup returns a group by name
func (s *Store) GetGroup(ctx context.Context, name string) (*domain.Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, power, permissions, created_at FROM groups WHERE name = ?`, name)
	g, err := scanGroup(row)
	if err != nil {
		return nil, notFound(err, "group %q not found", name)
	}
	return g, nil
}

// UserGroups returns the groups a user belongs to
func (s *Store) UserGroups(ctx context.Context, userID int64) ([]domain.Group, error) {
	return s.queryGroups(ctx, `
		SELECT g.id, g.name, g.power, g.permissions, g.created_at
		FROM groups g JOIN user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = ?
		ORDER BY g.power, g.name
	`, userID)
}

func (s *Store) queryGroups(ctx context.Context, query string, args ...any) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// CreateGroup inserts a group
func (s *Store) CreateGroup(ctx context.Context, g *domain.Group) error {
	if g.Power < 0 || g.Power > 100 {
		return domain.Errorf(domain.CodeInvalidInput, "power must be between 0 and 100")
	}
	g.CreatedAt = s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (name, power, permissions, created_at) VALUES (?, ?, ?, ?)
	`, g.Name, g.Power, encodeList(g.Permissions), formatTimestamp(g.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.Errorf(domain.CodeInvalidInput, "group %q already exists", g.Name)
		}
		return err
	}
	g.ID, err = res.LastInsertId()
	return err
}

// UpdateGroup changes a group's power and permissions
func (s *Store) UpdateGroup(ctx context.Context, g *domain.Group) error {
	if g.Power < 0 || g.Power > 100 {
		return domain.Errorf(domain.CodeInvalidInput, "power must be between 0 and 100")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET power = ?, permissions = ? WHERE name = ?
	`, g.Power, encodeList(g.Permissions), g.Name)
	if err != nil {
		return err
	}
	return requireAffected(res, "group %q not found", g.Name)
}

// DeleteGroup removes a group and its memberships
func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireAffected(res, "group %q not found", name)
}

// --- User methods ---

const userColumns = `id, username, password_hash, guid, created_at, last_login`

// CreateUser creates a user account with the given group memberships
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, guid *string, groups []string) (*domain.User, error) {
	user := &domain.User{
		Username:     username,
		PasswordHash: passwordHash,
		GUID:         guid,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, guid, created_at) VALUES (?, ?, ?, ?)
		`, username, passwordHash, guid, formatTimestamp(user.CreatedAt))
		if err != nil {
			return err
		}
		if user.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return setUserGroups(ctx, tx, user.ID, groups)
	})
	if err != nil {
		return nil, err
	}
	user.Groups = normalizeGroups(groups)
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return s.loadUser(ctx, row, "user %q not found", username)
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return s.loadUser(ctx, row, "user %d not found", id)
}

// GetUserByGUID retrieves the user linked to an in-game GUID
func (s *Store) GetUserByGUID(ctx context.Context, guid string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE guid = ?`, guid)
	return s.loadUser(ctx, row, "no user linked to guid %s", guid)
}

func (s *Store) loadUser(ctx context.Context, row scanner, format string, args ...any) (*domain.User, error) {
	user, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, format, args...)
	}
	if user.Groups, err = s.userGroupNames(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) userGroupNames(ctx context.Context, userID int64) ([]string, error) {
	groups, err := s.UserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names, nil
}

// ListUsers returns all users with their groups
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, *user)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range users {
		if users[i].Groups, err = s.userGroupNames(ctx, users[i].ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// DeleteUser removes a user by username
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	return requireAffected(res, "user %q not found", username)
}

// SetUserGroups replaces a user's group memberships
func (s *Store) SetUserGroups(ctx context.Context, userID int64, groups []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = ?`, userID); err != nil {
			return err
		}
		return setUserGroups(ctx, tx, userID, groups)
	})
}

func setUserGroups(ctx context.Context, tx *sql.Tx, userID int64, groups []string) error {
	for _, name := range normalizeGroups(groups) {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_groups (user_id, group_id)
			SELECT ?, id FROM groups WHERE name = ?
		`, userID, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE name = ?`, name).Scan(&exists); err != nil {
				return notFound(err, "group %q not found", name)
			}
		}
	}
	return nil
}

func normalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	seen := make(map[string]bool)
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

// UpdateUserLastLogin updates the last login timestamp
func (s *Store) UpdateUserLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`,
		formatTimestamp(s.now()), userID)
	return err
}

// UpdateUserPassword replaces a user's password hash
func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, "user %d not found", userID)
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
