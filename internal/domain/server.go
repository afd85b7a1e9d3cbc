package domain

import (
	"net"
	"strconv"
	"time"
)

// ServerTarget is a game server reachable over RCON
type ServerTarget struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Host         string    `json:"host"`
	RconPort     int       `json:"rcon_port"`
	RconPassword string    `json:"-"`
	GameLogPath  string    `json:"game_log_path,omitempty"`
	MaxPlayers   int       `json:"max_players"`
	IsActive     bool      `json:"is_active"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

// Address returns host:port for the RCON socket
func (s ServerTarget) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.RconPort))
}

// Connection states reported by the connection manager
const (
	ConnStateConnecting   = "connecting"
	ConnStateOnline       = "online"
	ConnStateReconnecting = "reconnecting"
	ConnStateUnreachable  = "unreachable"
	ConnStateAuthFailed   = "auth_failed"
	ConnStateStopped      = "stopped"
)

// ServerStatus is the live view of one server for the dashboard
type ServerStatus struct {
	ServerID    int64        `json:"server_id"`
	Name        string       `json:"name"`
	Address     string       `json:"address"`
	State       string       `json:"state"`
	Match       MatchSummary `json:"match"`
	Players     []Player     `json:"players"`
	PlayerCount int          `json:"player_count"`
	MaxPlayers  int          `json:"max_players"`
	LastUpdated time.Time    `json:"last_updated"`
}
