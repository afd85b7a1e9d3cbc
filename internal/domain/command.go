package domain

import "time"

// RequirementType selects which checks gate a command
type RequirementType string

const (
	RequirePermission RequirementType = "permission"
	RequirePower      RequirementType = "power"
	RequireBoth       RequirementType = "both"
)

// Valid reports whether r is one of the known requirement types
func (r RequirementType) Valid() bool {
	switch r {
	case RequirePermission, RequirePower, RequireBoth:
		return true
	}
	return false
}

// UnboundedArgs as MaxArgs accepts any number of trailing arguments
const UnboundedArgs = -1

// CustomCommand is an admin command definition, built-in or user defined
type CustomCommand struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Usage           string          `json:"usage"`
	RconTemplate    string          `json:"rcon_template"`
	MinArgs         int             `json:"min_args"`
	MaxArgs         int             `json:"max_args"`
	MinPower        int             `json:"min_power"`
	Permissions     []string        `json:"permissions"`
	RequirementType RequirementType `json:"requirement_type"`
	Enabled         bool            `json:"enabled"`
	IsBuiltIn       bool            `json:"is_built_in"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CommandExecution is one audit record per dispatch attempt
type CommandExecution struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	ServerID     int64     `json:"server_id"`
	ActorID      string    `json:"actor_id"`
	ActorName    string    `json:"actor_name"`
	Source       string    `json:"source"`
	Command      string    `json:"command"`
	ResolvedRcon string    `json:"resolved_rcon,omitempty"`
	Response     string    `json:"response,omitempty"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuditFilter narrows audit queries
type AuditFilter struct {
	ServerID *int64
	ActorID  string
	Command  string
	Success  *bool
	Since    *time.Time
	Limit    int
	Offset   int
}
