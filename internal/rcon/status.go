package rcon

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ernie/warden/internal/domain"
)

// StatusReport is the parsed output of the status command
type StatusReport struct {
	Hostname string          `json:"hostname,omitempty"`
	Map      string          `json:"map"`
	Players  []domain.Player `json:"players"`
}

// Exec acquires the server's session and runs one command on it
func (m *Manager) Exec(ctx context.Context, serverID int64, command string) (string, error) {
	s, err := m.Acquire(ctx, serverID)
	if err != nil {
		return "", err
	}
	return s.Execute(ctx, command)
}

// Status runs the status command on a server and parses the player table
func (m *Manager) Status(ctx context.Context, serverID int64) (*StatusReport, error) {
	resp, err := m.Exec(ctx, serverID, "status")
	if err != nil {
		return nil, err
	}
	return ParseStatus(resp)
}

// ParseStatus parses a status response.
// Format:
//
//	map: mp_crash
//	num score ping guid                             steamid name            lastmsg address               qport rate
//	--- ----- ---- -------------------------------- ------- --------------- ------- --------------------- ----- -----
//	  0     5   48 0123456789abcdef0123456789abcdef 0       ^1Some Name^7         0 203.0.113.9:28960     1234 25000
func ParseStatus(resp string) (*StatusReport, error) {
	report := &StatusReport{Players: []domain.Player{}}
	inTable := false
	sawHeader := false

	for _, raw := range strings.Split(resp, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "map:"):
			report.Map = strings.TrimSpace(strings.TrimPrefix(line, "map:"))
			continue
		case strings.HasPrefix(line, "hostname:"):
			report.Hostname = strings.TrimSpace(strings.TrimPrefix(line, "hostname:"))
			continue
		case strings.HasPrefix(line, "num score ping"):
			inTable = true
			sawHeader = true
			continue
		case strings.HasPrefix(line, "---"):
			continue
		}

		if inTable {
			if player, ok := parseStatusLine(line); ok {
				report.Players = append(report.Players, player)
			}
		}
	}

	if !sawHeader && report.Map == "" {
		return nil, fmt.Errorf("unrecognized status response: %q", firstLine(resp))
	}
	return report, nil
}

// parseStatusLine parses one player row. The name may contain spaces, so
// the address column is located by shape and the name is everything
// between steamid and lastmsg.
func parseStatusLine(line string) (domain.Player, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return domain.Player{}, false
	}

	var p domain.Player
	var err error
	if p.Slot, err = strconv.Atoi(fields[0]); err != nil {
		return domain.Player{}, false
	}
	p.Score, _ = strconv.Atoi(fields[1])
	p.Ping, _ = strconv.Atoi(fields[2])
	p.GUID = fields[3]
	p.SteamID = fields[4]

	addressIndex := -1
	for i := len(fields) - 1; i > 5; i-- {
		if strings.Contains(fields[i], ":") && strings.Contains(fields[i], ".") {
			addressIndex = i
			break
		}
		if fields[i] == "loopback" || fields[i] == "bot" {
			addressIndex = i
			break
		}
	}
	if addressIndex < 7 {
		return domain.Player{}, false
	}

	p.Name = strings.Join(fields[5:addressIndex-1], " ")
	p.StrippedName = domain.StripColors(p.Name)
	p.Address = fields[addressIndex]
	if i := strings.LastIndex(p.Address, ":"); i != -1 {
		p.Address = p.Address[:i]
	}
	if addressIndex+2 < len(fields) {
		p.Rate, _ = strconv.Atoi(fields[addressIndex+2])
	}
	return p, true
}
