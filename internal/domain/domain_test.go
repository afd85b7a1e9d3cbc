package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("executing: %w", Errorf(CodeThrottled, "kick on %s used too recently", "camper"))

	assert.True(t, errors.Is(err, ErrThrottled))
	assert.False(t, errors.Is(err, ErrCommandDisabled))
	assert.Equal(t, CodeThrottled, CodeOf(err))
	assert.Equal(t, "kick on camper used too recently", Message(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeConnection, "server unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, "server unreachable: connection refused", err.Error())
}

func TestUnclassifiedErrors(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "internal error", Message(err))
}

func TestNewActor(t *testing.T) {
	actor := NewActor("user:7", "alice", SourceWeb, []Group{
		{Name: "moderator", Power: 50, Permissions: []string{PermRconKick, PermStatusView}},
		{Name: "admin", Power: 80, Permissions: []string{PermRconBan, PermRconKick}},
	})

	assert.Equal(t, 80, actor.Power)
	assert.Equal(t, -1, actor.Slot)
	assert.Equal(t, []string{PermRconBan, PermRconKick, PermStatusView}, actor.PermissionList())
	assert.True(t, actor.HasPermission(PermRconBan))
	assert.False(t, actor.HasPermission(PermAuditView))

	guest := NewActor("guid:ABC", "stranger", SourceGame, nil)
	assert.Zero(t, guest.Power)
	assert.Empty(t, guest.PermissionList())

	owner := NewActor("user:1", "root", SourceWeb, []Group{{Name: "owner", Power: 100, Permissions: []string{PermAll}}})
	assert.True(t, owner.HasPermission(PermWebhooksManage))
}

func TestShutdownDue(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(10 * time.Minute)

	timed := EmergencyShutdown{Command: "ban", AutoReenable: true, ReenableAt: &at}
	assert.False(t, timed.Due(now))
	assert.True(t, timed.Due(at))
	assert.True(t, timed.Due(at.Add(time.Second)))

	manual := EmergencyShutdown{Command: "ban"}
	assert.False(t, manual.Due(at.Add(time.Hour)))
}

func TestWebhookSubscribes(t *testing.T) {
	ep := WebhookEndpoint{Events: []string{EventPlayerBanned, EventSecurityAlert}}
	assert.True(t, ep.Subscribes(EventPlayerBanned))
	assert.False(t, ep.Subscribes(EventPlayerKicked))

	all := WebhookEndpoint{Events: []string{"*"}}
	assert.True(t, all.Subscribes(EventCommandReenabled))
}

func TestStripColors(t *testing.T) {
	assert.Equal(t, "Camper", StripColors("^1Cam^7per "))
	assert.Equal(t, "plain", StripColors("plain"))
}

func TestTempBanInForce(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	ban := TempBan{GUID: "ABC", Reason: "spawn camping", Active: true, ExpiresAt: now.Add(2*time.Hour + 30*time.Minute)}

	assert.True(t, ban.InForce(now))
	assert.False(t, ban.InForce(ban.ExpiresAt))
	assert.Equal(t, "You are temporarily banned. 2h 30m remaining. Reason: spawn camping", ban.KickMessage(now))

	ban.Active = false
	assert.False(t, ban.InForce(now))
}
