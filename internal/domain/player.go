package domain

import (
	"regexp"
	"strings"
	"time"
)

// Player is an occupied in-game slot
type Player struct {
	Slot         int       `json:"slot"`
	GUID         string    `json:"guid"`
	SteamID      string    `json:"steam_id,omitempty"`
	Name         string    `json:"name"`
	StrippedName string    `json:"stripped_name"`
	Score        int       `json:"score"`
	Ping         int       `json:"ping"`
	Address      string    `json:"address,omitempty"`
	Rate         int       `json:"rate,omitempty"`
	Team         string    `json:"team,omitempty"`
	Kills        int       `json:"kills"`
	Deaths       int       `json:"deaths"`
	JoinedAt     time.Time `json:"joined_at"`
}

// OfflinePlayer is the persisted identity of a player who has been seen before
type OfflinePlayer struct {
	ID        int64     `json:"id"`
	GUID      string    `json:"guid"`
	SteamID   string    `json:"steam_id,omitempty"`
	LastName  string    `json:"last_name"`
	IP        string    `json:"ip,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// colorCodeRegex matches color codes like ^1, ^7
var colorCodeRegex = regexp.MustCompile(`\^[0-9]`)

// StripColors removes color codes from a player name
func StripColors(name string) string {
	return strings.TrimSpace(colorCodeRegex.ReplaceAllString(name, ""))
}
