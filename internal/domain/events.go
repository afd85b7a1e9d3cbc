package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to WebSocket viewers, webhooks and the bus
const (
	EventPlayerConnected    = "player.connected"
	EventPlayerDisconnected = "player.disconnected"
	EventPlayerKicked       = "player.kicked"
	EventPlayerBanned       = "player.banned"
	EventPlayerUnbanned     = "player.unbanned"
	EventChat               = "player.chat"
	EventKill               = "player.kill"
	EventMatchStarted       = "match.started"
	EventMatchEnded         = "match.ended"
	EventCommandExecuted    = "command.executed"
	EventServerOnline       = "server.online"
	EventServerOffline      = "server.offline"
	EventSecurityAlert      = "security.alert"
	EventCommandReenabled   = "command.reenabled"
	EventWebhookTest        = "webhook.test"
)

// WebhookEventTypes lists the events endpoints may subscribe to
var WebhookEventTypes = []string{
	EventPlayerConnected,
	EventPlayerDisconnected,
	EventPlayerKicked,
	EventPlayerBanned,
	EventPlayerUnbanned,
	EventMatchStarted,
	EventCommandExecuted,
	EventServerOnline,
	EventServerOffline,
	EventSecurityAlert,
	EventCommandReenabled,
	EventWebhookTest,
}

// Event is a real-time notification fanned out to every sink
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"event"`
	ServerID  int64       `json:"server_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with an id and the current time
func NewEvent(eventType string, serverID int64, data interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ServerID:  serverID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// PlayerEvent is sent when a player joins or leaves
type PlayerEvent struct {
	Slot int    `json:"slot"`
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// ChatEvent is sent for every chat line
type ChatEvent struct {
	Slot    int    `json:"slot"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Team    bool   `json:"team"`
}

// KillEvent is sent when a kill line updates scores
type KillEvent struct {
	Killer string `json:"killer"`
	Victim string `json:"victim"`
	Weapon string `json:"weapon"`
}

// ServerStateEvent is sent on connection state transitions
type ServerStateEvent struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	State    string `json:"state"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SecurityAlertEvent is sent when the breaker trips
type SecurityAlertEvent struct {
	Command    string     `json:"command"`
	Reason     string     `json:"reason"`
	ActorID    string     `json:"actor_id,omitempty"`
	Count      int        `json:"count"`
	ReenableAt *time.Time `json:"reenable_at,omitempty"`
}

// ModerationEvent is sent after a successful kick, ban or unban
type ModerationEvent struct {
	Target  string   `json:"target"`
	Actor   string   `json:"actor"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}
