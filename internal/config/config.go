package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Rcon     RconConfig     `yaml:"rcon"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	NATS     NATSConfig     `yaml:"nats"`
	Servers  []GameServer   `yaml:"servers"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	ListenAddr string  `yaml:"listen_addr"`
	Port       int     `yaml:"port"`
	RateLimit  float64 `yaml:"rate_limit"` // requests per second per client IP, 0 disables
	RateBurst  int     `yaml:"rate_burst"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path           string        `yaml:"path"`
	AuditRetention time.Duration `yaml:"audit_retention"`
	ArchiveDir     string        `yaml:"archive_dir"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RconConfig controls sessions and reconnects
type RconConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	MaxAttempts    int           `yaml:"max_attempts"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// BreakerConfig holds the abuse detection policy
type BreakerConfig struct {
	Window             time.Duration `yaml:"window"`
	AggregateThreshold int           `yaml:"aggregate_threshold"`
	ActorThreshold     int           `yaml:"actor_threshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	WatchedCommands    []string      `yaml:"watched_commands"`
	ThrottleCooldown   time.Duration `yaml:"throttle_cooldown"`
}

// DispatchConfig holds template and chat command settings
type DispatchConfig struct {
	MatchStrategy string `yaml:"match_strategy"`
	ChatPrefix    string `yaml:"chat_prefix"`
	ChatMaxLen    int    `yaml:"chat_max_len"`
}

// FanoutConfig holds WebSocket and webhook delivery settings
type FanoutConfig struct {
	RingSize       int           `yaml:"ring_size"`
	ClientBuffer   int           `yaml:"client_buffer"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
	WebhookWorkers int           `yaml:"webhook_workers"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// NATSConfig controls the optional event bus sink
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// GameServer seeds a server target on first start
type GameServer struct {
	Name         string `yaml:"name"`
	Host         string `yaml:"host"`
	RconPort     int    `yaml:"rcon_port"`
	RconPassword string `yaml:"rcon_password"`
	LogPath      string `yaml:"log_path"`
	MaxPlayers   int    `yaml:"max_players"`
	Default      bool   `yaml:"default"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RateBurst == 0 {
		c.HTTP.RateBurst = 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/warden/warden.db"
	}
	if c.Database.AuditRetention == 0 {
		c.Database.AuditRetention = 90 * 24 * time.Hour
	}
	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}

	// RCON defaults
	if c.Rcon.CommandTimeout == 0 {
		c.Rcon.CommandTimeout = 3 * time.Second
	}
	if c.Rcon.ConnectTimeout == 0 {
		c.Rcon.ConnectTimeout = 10 * time.Second
	}
	if c.Rcon.BackoffBase == 0 {
		c.Rcon.BackoffBase = time.Second
	}
	if c.Rcon.BackoffMax == 0 {
		c.Rcon.BackoffMax = time.Minute
	}
	if c.Rcon.MaxAttempts == 0 {
		c.Rcon.MaxAttempts = 8
	}
	if c.Rcon.PollInterval == 0 {
		c.Rcon.PollInterval = 15 * time.Second
	}

	// Breaker defaults
	if c.Breaker.Window == 0 {
		c.Breaker.Window = time.Minute
	}
	if c.Breaker.AggregateThreshold == 0 {
		c.Breaker.AggregateThreshold = 5
	}
	if c.Breaker.ActorThreshold == 0 {
		c.Breaker.ActorThreshold = 3
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = 10 * time.Minute
	}
	if c.Breaker.SweepInterval == 0 {
		c.Breaker.SweepInterval = 30 * time.Second
	}
	if len(c.Breaker.WatchedCommands) == 0 {
		c.Breaker.WatchedCommands = []string{"ban", "tempban", "kick"}
	}
	if c.Breaker.ThrottleCooldown == 0 {
		c.Breaker.ThrottleCooldown = 2 * time.Second
	}

	if c.Dispatch.MatchStrategy == "" {
		c.Dispatch.MatchStrategy = "exact-then-unique"
	}
	if c.Dispatch.ChatPrefix == "" {
		c.Dispatch.ChatPrefix = "!"
	}
	if c.Dispatch.ChatMaxLen == 0 {
		c.Dispatch.ChatMaxLen = 150
	}

	if c.Fanout.RingSize == 0 {
		c.Fanout.RingSize = 500
	}
	if c.Fanout.ClientBuffer == 0 {
		c.Fanout.ClientBuffer = 256
	}
	if c.Fanout.PingInterval == 0 {
		c.Fanout.PingInterval = 30 * time.Second
	}
	if c.Fanout.MaxMissedPongs == 0 {
		c.Fanout.MaxMissedPongs = 2
	}
	if c.Fanout.WebhookWorkers == 0 {
		c.Fanout.WebhookWorkers = 4
	}
	if c.Fanout.RetryInterval == 0 {
		c.Fanout.RetryInterval = 10 * time.Second
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "warden"
	}
	if c.NATS.Embedded && c.NATS.EmbeddedPort == 0 {
		c.NATS.EmbeddedPort = 4222
	}

	for i := range c.Servers {
		if c.Servers[i].RconPort == 0 {
			c.Servers[i].RconPort = 28960
		}
		if c.Servers[i].MaxPlayers == 0 {
			c.Servers[i].MaxPlayers = 32
		}
	}
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	var errs []error
	switch c.Dispatch.MatchStrategy {
	case "exact-then-unique", "exact-only":
	default:
		errs = append(errs, fmt.Errorf("dispatch.match_strategy: unknown strategy %q", c.Dispatch.MatchStrategy))
	}
	if c.Breaker.ActorThreshold < 0 || c.Breaker.AggregateThreshold < 0 {
		errs = append(errs, errors.New("breaker thresholds must not be negative"))
	}
	if c.Rcon.BackoffMax < c.Rcon.BackoffBase {
		errs = append(errs, errors.New("rcon.backoff_max must be >= rcon.backoff_base"))
	}
	defaults := 0
	for i, srv := range c.Servers {
		if srv.Name == "" || srv.Host == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: name and host are required", i))
		}
		if srv.Default {
			defaults++
		}
	}
	if defaults > 1 {
		errs = append(errs, errors.New("at most one server may be marked default"))
	}
	return errors.Join(errs...)
}
