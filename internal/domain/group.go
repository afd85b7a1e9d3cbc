package domain

import (
	"sort"
	"time"
)

// Well-known permission names
const (
	PermAll             = "all"
	PermRconCommand     = "rcon.command"
	PermRconKick        = "rcon.kick"
	PermRconBan         = "rcon.ban"
	PermRconSay         = "rcon.say"
	PermRconMap         = "rcon.map"
	PermStatusView      = "status.view"
	PermCommandsManage  = "commands.manage"
	PermGroupsManage    = "groups.manage"
	PermServersManage   = "servers.manage"
	PermWebhooksManage  = "webhooks.manage"
	PermEmergencyManage = "emergency.manage"
	PermAuditView       = "audit.view"
)

// Group grants a power level and a set of permissions
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Power       int       `json:"power"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is a dashboard account, optionally mapped to an in-game guid
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	GUID         *string    `json:"guid,omitempty"`
	Groups       []string   `json:"groups"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Actor sources
const (
	SourceWeb    = "web"
	SourceGame   = "game"
	SourceSystem = "system"
)

// Actor is the caller a command is evaluated and executed for
type Actor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Source      string          `json:"source"`
	UserID      *int64          `json:"user_id,omitempty"`
	GUID        string          `json:"guid,omitempty"`
	Slot        int             `json:"slot"`
	Power       int             `json:"power"`
	Permissions map[string]bool `json:"-"`
}

// NewActor builds an actor whose power is the max and permissions the union of groups
func NewActor(id, name, source string, groups []Group) Actor {
	a := Actor{
		ID:          id,
		Name:        name,
		Source:      source,
		Slot:        -1,
		Permissions: make(map[string]bool),
	}
	for _, g := range groups {
		if g.Power > a.Power {
			a.Power = g.Power
		}
		for _, p := range g.Permissions {
			a.Permissions[p] = true
		}
	}
	return a
}

// HasPermission reports whether the actor holds perm or the wildcard
func (a Actor) HasPermission(perm string) bool {
	return a.Permissions[PermAll] || a.Permissions[perm]
}

// PermissionList returns the actor's permissions sorted
func (a Actor) PermissionList() []string {
	perms := make([]string, 0, len(a.Permissions))
	for p := range a.Permissions {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}
