// Package config provides YAML-based configuration loading for Junction.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Assignment policies.
const (
	PolicyRoundRobin = "round_robin"
	PolicyLeastBusy  = "least_busy"
)

// MaxDatabaseTimeout bounds every persistence call.
const MaxDatabaseTimeout = 5 * time.Second

// Config is the top-level Junction configuration, loaded from junction.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Presence   PresenceConfig   `yaml:"presence"`
	Assignment AssignmentConfig `yaml:"assignment"`
	Profiles   ProfilesConfig   `yaml:"profiles"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// DatabaseConfig holds connection settings for the relational store.
type DatabaseConfig struct {
	Driver   string        `yaml:"driver"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Name     string        `yaml:"name"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Path     string        `yaml:"path"` // sqlite only
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig controls the HTTP and realtime listener.
type ServerConfig struct {
	Port          int `yaml:"port"`
	SessionBuffer int `yaml:"session_buffer"`
	Shards        int `yaml:"shards"`
}

// PresenceConfig holds the inactivity thresholds and housekeeping schedules.
type PresenceConfig struct {
	AwayAfter        time.Duration `yaml:"away_after"`
	OfflineAfter     time.Duration `yaml:"offline_after"`
	SweepSchedule    string        `yaml:"sweep_schedule"`
	SnapshotSchedule string        `yaml:"snapshot_schedule"`
}

// AssignmentConfig selects the agent load-balancing policy.
type AssignmentConfig struct {
	Policy        string `yaml:"policy"`
	DrainSchedule string `yaml:"drain_schedule"`
}

// ProfilesConfig points at the external profile directory.
type ProfilesConfig struct {
	DirectoryURL string        `yaml:"directory_url"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	RedisURL     string        `yaml:"redis_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NotifyConfig configures support-channel notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// LoadEnv loads variables from a dotenv file into the process environment.
// A missing file is not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file from path, expands ${VAR} references from
// the environment and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	d := &c.Database
	if d.Driver == "" {
		d.Driver = DriverMySQL
	}
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if d.Port == 0 {
		switch d.Driver {
		case DriverPostgres:
			d.Port = 5432
		default:
			d.Port = 3306
		}
	}
	if d.Name == "" {
		d.Name = "junction"
	}
	if d.User == "" {
		d.User = "root"
	}
	if d.Path == "" && d.Driver == DriverSQLite {
		d.Path = "junction.db"
	}
	if d.Timeout == 0 {
		d.Timeout = 3 * time.Second
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.SessionBuffer == 0 {
		c.Server.SessionBuffer = 64
	}
	if c.Server.Shards == 0 {
		c.Server.Shards = 32
	}

	p := &c.Presence
	if p.AwayAfter == 0 {
		p.AwayAfter = 5 * time.Minute
	}
	if p.OfflineAfter == 0 {
		p.OfflineAfter = 10 * time.Minute
	}
	if p.SweepSchedule == "" {
		p.SweepSchedule = "@every 30s"
	}
	if p.SnapshotSchedule == "" {
		p.SnapshotSchedule = "@every 1m"
	}

	if c.Assignment.Policy == "" {
		c.Assignment.Policy = PolicyRoundRobin
	}
	if c.Assignment.DrainSchedule == "" {
		c.Assignment.DrainSchedule = "@every 15s"
	}

	if c.Profiles.CacheTTL == 0 {
		c.Profiles.CacheTTL = 5 * time.Minute
	}
	if c.Profiles.Timeout == 0 {
		c.Profiles.Timeout = 2 * time.Second
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}
	if c.Database.Timeout < 0 || c.Database.Timeout >= MaxDatabaseTimeout {
		errs = append(errs, fmt.Sprintf("database.timeout must be positive and below %s", MaxDatabaseTimeout))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.SessionBuffer < 0 {
		errs = append(errs, "server.session_buffer must be positive")
	}
	if c.Server.Shards < 0 {
		errs = append(errs, "server.shards must be positive")
	}
	if c.Presence.AwayAfter < 0 || c.Presence.OfflineAfter < 0 {
		errs = append(errs, "presence thresholds must be positive")
	} else if c.Presence.AwayAfter >= c.Presence.OfflineAfter {
		errs = append(errs, "presence.away_after must be shorter than presence.offline_after")
	}
	switch c.Assignment.Policy {
	case PolicyRoundRobin, PolicyLeastBusy:
	default:
		errs = append(errs, fmt.Sprintf("assignment.policy %q is not one of round_robin, least_busy", c.Assignment.Policy))
	}
	schedules := []struct{ name, expr string }{
		{"presence.sweep_schedule", c.Presence.SweepSchedule},
		{"presence.snapshot_schedule", c.Presence.SnapshotSchedule},
		{"assignment.drain_schedule", c.Assignment.DrainSchedule},
	}
	for _, s := range schedules {
		if _, err := cron.ParseStandard(s.expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.name, err))
		}
	}
	if (c.Notify.Slack.BotToken == "") != (c.Notify.Slack.ChannelID == "") {
		errs = append(errs, "notify.slack requires both bot_token and channel_id")
	}
	if (c.Notify.Discord.BotToken == "") != (c.Notify.Discord.ChannelID == "") {
		errs = append(errs, "notify.discord requires both bot_token and channel_id")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
