package domain

import "time"

// EmergencyShutdown marks a command as disabled server-wide
type EmergencyShutdown struct {
	Command      string     `json:"command"`
	Reason       string     `json:"reason"`
	DisabledAt   time.Time  `json:"disabled_at"`
	DisabledBy   string     `json:"disabled_by"`
	ReenableAt   *time.Time `json:"reenable_at,omitempty"`
	AutoReenable bool       `json:"auto_reenable"`
}

// Due reports whether the sweeper should re-enable the command at now
func (e EmergencyShutdown) Due(now time.Time) bool {
	return e.AutoReenable && e.ReenableAt != nil && !now.Before(*e.ReenableAt)
}
