package domain

import "time"

// MatchSummary describes the map currently being played
type MatchSummary struct {
	Map       string    `json:"map"`
	GameType  string    `json:"game_type"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Ended     bool      `json:"ended"`
}

// GameTypeName converts a g_gametype value to a display name
func GameTypeName(gt string) string {
	switch gt {
	case "dm":
		return "Free for All"
	case "war":
		return "Team Deathmatch"
	case "sd":
		return "Search and Destroy"
	case "dom":
		return "Domination"
	case "koth":
		return "Headquarters"
	case "sab":
		return "Sabotage"
	default:
		return gt
	}
}
