package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LogEvent is one parsed games_mp log line
type LogEvent struct {
	// GameTime is the m:ss offset printed at the start of the line
	GameTime time.Duration
	Type     string
	Data     interface{}
}

// Event types
const (
	EventTypeJoin      = "join"
	EventTypeQuit      = "quit"
	EventTypeSay       = "say"
	EventTypeSayTeam   = "say_team"
	EventTypeKill      = "kill"
	EventTypeInitGame  = "init_game"
	EventTypeExitLevel = "exit_level"
	EventTypeShutdown  = "shutdown"
)

type JoinData struct {
	GUID string
	Slot int
	Name string
}

type QuitData struct {
	GUID string
	Slot int
	Name string
}

type SayData struct {
	GUID    string
	Slot    int
	Name    string
	Message string
}

type KillData struct {
	VictimGUID   string
	VictimSlot   int
	VictimTeam   string
	VictimName   string
	AttackerGUID string
	AttackerSlot int // -1 for world kills
	AttackerTeam string
	AttackerName string
	Weapon       string
	Damage       int
	MeansOfDeath string
	HitLocation  string
}

type InitGameData struct {
	MapName  string
	GameType string
	Hostname string
	Settings map[string]string
}

type ExitLevelData struct {
	Reason string
}

var (
	// Matches the game clock at the start of a line: "  1:23 " or "123:45 "
	gameTimeRegex = regexp.MustCompile(`^\s*(\d+):(\d{2})\s+`)

	joinRegex      = regexp.MustCompile(`^J;([^;]*);(\d+);(.*)$`)
	quitRegex      = regexp.MustCompile(`^Q;([^;]*);(\d+);(.*)$`)
	sayRegex       = regexp.MustCompile(`^(say|sayteam);([^;]*);(\d+);([^;]*);(.*)$`)
	initGameRegex  = regexp.MustCompile(`^InitGame: (.*)$`)
	exitLevelRegex = regexp.MustCompile(`^ExitLevel: ?(.*)$`)
	shutdownRegex  = regexp.MustCompile(`^ShutdownGame:`)
)

// ParseLine parses a single log line into an event
func ParseLine(line string) (*LogEvent, error) {
	event := &LogEvent{}
	content := strings.TrimRight(line, "\r\n")

	if match := gameTimeRegex.FindStringSubmatch(content); match != nil {
		mins, _ := strconv.Atoi(match[1])
		secs, _ := strconv.Atoi(match[2])
		event.GameTime = time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second
		content = content[len(match[0]):]
	}

	if match := joinRegex.FindStringSubmatch(content); match != nil {
		slot, _ := strconv.Atoi(match[2])
		event.Type = EventTypeJoin
		event.Data = JoinData{GUID: match[1], Slot: slot, Name: match[3]}
		return event, nil
	}

	if match := quitRegex.FindStringSubmatch(content); match != nil {
		slot, _ := strconv.Atoi(match[2])
		event.Type = EventTypeQuit
		event.Data = QuitData{GUID: match[1], Slot: slot, Name: match[3]}
		return event, nil
	}

	if match := sayRegex.FindStringSubmatch(content); match != nil {
		slot, _ := strconv.Atoi(match[3])
		event.Type = EventTypeSay
		if match[1] == "sayteam" {
			event.Type = EventTypeSayTeam
		}
		// CoD4 prefixes chat text with a NAK control byte
		msg := strings.TrimLeft(match[5], "\x15")
		event.Data = SayData{GUID: match[2], Slot: slot, Name: match[4], Message: msg}
		return event, nil
	}

	if strings.HasPrefix(content, "K;") {
		data, err := parseKill(content)
		if err != nil {
			return nil, err
		}
		event.Type = EventTypeKill
		event.Data = data
		return event, nil
	}

	if match := initGameRegex.FindStringSubmatch(content); match != nil {
		settings := parseUserinfo(match[1])
		event.Type = EventTypeInitGame
		event.Data = InitGameData{
			MapName:  settings["mapname"],
			GameType: settings["g_gametype"],
			Hostname: settings["sv_hostname"],
			Settings: settings,
		}
		return event, nil
	}

	if match := exitLevelRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeExitLevel
		event.Data = ExitLevelData{Reason: strings.TrimSpace(match[1])}
		return event, nil
	}

	if shutdownRegex.MatchString(content) {
		event.Type = EventTypeShutdown
		return event, nil
	}

	return nil, fmt.Errorf("unknown event: %s", content)
}

// parseKill parses
// K;victimGUID;victimSlot;victimTeam;victimName;attackerGUID;attackerSlot;attackerTeam;attackerName;weapon;damage;mod;hitloc
func parseKill(content string) (KillData, error) {
	parts := strings.Split(content, ";")
	if len(parts) < 10 {
		return KillData{}, fmt.Errorf("short kill line: %s", content)
	}
	victimSlot, err := strconv.Atoi(parts[2])
	if err != nil {
		return KillData{}, fmt.Errorf("kill victim slot: %w", err)
	}
	attackerSlot, err := strconv.Atoi(parts[6])
	if err != nil {
		return KillData{}, fmt.Errorf("kill attacker slot: %w", err)
	}
	data := KillData{
		VictimGUID:   parts[1],
		VictimSlot:   victimSlot,
		VictimTeam:   parts[3],
		VictimName:   parts[4],
		AttackerGUID: parts[5],
		AttackerSlot: attackerSlot,
		AttackerTeam: parts[7],
		AttackerName: parts[8],
		Weapon:       parts[9],
	}
	if len(parts) > 10 {
		data.Damage, _ = strconv.Atoi(parts[10])
	}
	if len(parts) > 11 {
		data.MeansOfDeath = parts[11]
	}
	if len(parts) > 12 {
		data.HitLocation = parts[12]
	}
	return data, nil
}

// parseUserinfo parses backslash-separated userinfo string
// Format is \key\value\key\value (starts with backslash)
func parseUserinfo(info string) map[string]string {
	result := make(map[string]string)
	parts := strings.Split(info, "\\")

	start := 0
	if len(parts) > 0 && parts[0] == "" {
		start = 1
	}

	for i := start; i+1 < len(parts); i += 2 {
		result[parts[i]] = parts[i+1]
	}

	return result
}
