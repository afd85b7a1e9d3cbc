package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/warden/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullString(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanServer(s scanner) (*domain.ServerTarget, error) {
	var srv domain.ServerTarget
	var logPath sql.NullString
	err := s.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.RconPort, &srv.RconPassword, &logPath,
		&srv.MaxPlayers, &srv.IsActive, &srv.IsDefault, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}
	srv.GameLogPath = scanNullStringValue(logPath)
	return &srv, nil
}

func scanGroup(s scanner) (*domain.Group, error) {
	var g domain.Group
	var perms string
	if err := s.Scan(&g.ID, &g.Name, &g.Power, &perms, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Permissions = decodeList(perms)
	return &g, nil
}

// scanUser scans a user row; groups are loaded separately
func scanUser(s scanner) (*domain.User, error) {
	var user domain.User
	var guid sql.NullString
	var lastLogin sql.NullTime
	err := s.Scan(&user.ID, &user.Username, &user.PasswordHash, &guid, &user.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.GUID = scanNullString(guid)
	user.LastLogin = scanNullTime(lastLogin)
	user.Groups = []string{}
	return &user, nil
}

func scanCommand(s scanner) (*domain.CustomCommand, error) {
	var c domain.CustomCommand
	var perms, reqType string
	err := s.Scan(&c.ID, &c.Name, &c.Usage, &c.RconTemplate, &c.MinArgs, &c.MaxArgs, &c.MinPower,
		&perms, &reqType, &c.Enabled, &c.IsBuiltIn, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Permissions = decodeList(perms)
	c.RequirementType = domain.RequirementType(reqType)
	return &c, nil
}

func scanExecution(s scanner) (*domain.CommandExecution, error) {
	var e domain.CommandExecution
	var resolved, response, code, msg sql.NullString
	err := s.Scan(&e.ID, &e.RequestID, &e.ServerID, &e.ActorID, &e.ActorName, &e.Source, &e.Command,
		&resolved, &response, &e.Success, &code, &msg, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	e.ResolvedRcon = scanNullStringValue(resolved)
	e.Response = scanNullStringValue(response)
	e.ErrorCode = scanNullStringValue(code)
	e.Error = scanNullStringValue(msg)
	return &e, nil
}

func scanOfflinePlayer(s scanner) (*domain.OfflinePlayer, error) {
	var p domain.OfflinePlayer
	var steamID, ip sql.NullString
	err := s.Scan(&p.ID, &p.GUID, &steamID, &p.LastName, &ip, &p.FirstSeen, &p.LastSeen)
	if err != nil {
		return nil, err
	}
	p.SteamID = scanNullStringValue(steamID)
	p.IP = scanNullStringValue(ip)
	return &p, nil
}

func scanWebhook(s scanner) (*domain.WebhookEndpoint, error) {
	var w domain.WebhookEndpoint
	var events string
	var retryMS, timeoutMS int64
	err := s.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &events, &w.Active, &w.MaxRetries,
		&retryMS, &timeoutMS, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Events = decodeList(events)
	w.RetryDelay = time.Duration(retryMS) * time.Millisecond
	w.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &w, nil
}

func scanDelivery(s scanner) (*domain.WebhookDelivery, error) {
	var d domain.WebhookDelivery
	var payload string
	var lastError sql.NullString
	var code sql.NullInt64
	var nextRetry, deliveredAt sql.NullTime
	err := s.Scan(&d.ID, &d.EndpointID, &d.EventType, &payload, &d.Status, &d.AttemptCount,
		&nextRetry, &lastError, &code, &d.CreatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	d.Payload = []byte(payload)
	d.NextRetryAt = scanNullTime(nextRetry)
	d.LastError = scanNullStringValue(lastError)
	d.ResponseCode = int(code.Int64)
	d.DeliveredAt = scanNullTime(deliveredAt)
	return &d, nil
}

func scanShutdown(s scanner) (*domain.EmergencyShutdown, error) {
	var e domain.EmergencyShutdown
	var reenableAt sql.NullTime
	err := s.Scan(&e.Command, &e.Reason, &e.DisabledAt, &e.DisabledBy, &reenableAt, &e.AutoReenable)
	if err != nil {
		return nil, err
	}
	e.ReenableAt = scanNullTime(reenableAt)
	return &e, nil
}

func scanTempBan(s scanner) (*domain.TempBan, error) {
	var b domain.TempBan
	err := s.Scan(&b.ID, &b.ServerID, &b.GUID, &b.Name, &b.Reason, &b.BannedBy, &b.Active, &b.CreatedAt, &b.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
