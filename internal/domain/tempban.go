package domain

import (
	"fmt"
	"time"
)

// TempBan keeps a player off every managed server until it expires or is revoked
type TempBan struct {
	ID        int64     `json:"id"`
	ServerID  int64     `json:"server_id"`
	GUID      string    `json:"guid"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	BannedBy  string    `json:"banned_by"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InForce reports whether the ban still applies at now
func (b TempBan) InForce(now time.Time) bool {
	return b.Active && now.Before(b.ExpiresAt)
}

// KickMessage is what a banned player sees when removed on join
func (b TempBan) KickMessage(now time.Time) string {
	left := b.ExpiresAt.Sub(now)
	if left < 0 {
		left = 0
	}
	h := int(left / time.Hour)
	m := int(left % time.Hour / time.Minute)
	return fmt.Sprintf("You are temporarily banned. %dh %dm remaining. Reason: %s", h, m, b.Reason)
}
