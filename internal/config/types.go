package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that travels through JSON as a string
// ("500ms", "30s", "2m"), parsed with time.ParseDuration.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// RedisConfig selects the Redis backend for the bus and the state layer.
// With Enabled false everything runs in-process.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// SchedulerConfig tunes the matching loop and the liveness monitor.
type SchedulerConfig struct {
	MatchInterval     Duration `json:"match_interval"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
	ReclaimOrphans    bool     `json:"reclaim_orphans"`
	Strategy          string   `json:"strategy"` // "first_fit" or "least_loaded"
}

// LevelerConfig tunes the planner's resource leveling.
type LevelerConfig struct {
	Capacities  map[string]float64 `json:"capacities,omitempty"` // resource type -> capacity
	MaxAdvances int                `json:"max_advances"`
}

// GrantConfig is one standing security context opened at startup.
type GrantConfig struct {
	Agent       string   `json:"agent"`
	Permissions []string `json:"permissions,omitempty"`
	Level       string   `json:"level"` // "none", "basic", "elevated", "admin"
}

// AuthConfig names the privileged capability tags and the static grants.
type AuthConfig struct {
	PrivilegedCapabilities []string      `json:"privileged_capabilities,omitempty"`
	Grants                 []GrantConfig `json:"grants,omitempty"`
}

// StoreConfig selects the SQLite write-through store. Memory true keeps
// the database in-process; Path is ignored then.
type StoreConfig struct {
	Path   string `json:"path"`
	Memory bool   `json:"memory"`
}

// OpsConfig is the metrics and health listener.
type OpsConfig struct {
	Addr string `json:"addr"`
}

// DashboardConfig toggles the terminal dashboard.
type DashboardConfig struct {
	Enabled bool `json:"enabled"`
}

// Config is the top-level configuration.
type Config struct {
	Redis     RedisConfig     `json:"redis"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Leveler   LevelerConfig   `json:"leveler"`
	Auth      AuthConfig      `json:"auth"`
	Store     StoreConfig     `json:"store"`
	Ops       OpsConfig       `json:"ops"`
	Dashboard DashboardConfig `json:"dashboard"`
}

// validLevels are the auth level names a grant may use.
var validLevels = map[string]bool{
	"none":     true,
	"basic":    true,
	"elevated": true,
	"admin":    true,
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.MatchInterval <= 0 {
		return fmt.Errorf("scheduler.match_interval must be positive, got %s", time.Duration(c.Scheduler.MatchInterval))
	}
	if c.Scheduler.HeartbeatInterval <= 0 {
		return fmt.Errorf("scheduler.heartbeat_interval must be positive, got %s", time.Duration(c.Scheduler.HeartbeatInterval))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if !c.Store.Memory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when store.memory is false")
	}
	for i, g := range c.Auth.Grants {
		if g.Agent == "" {
			return fmt.Errorf("auth.grants[%d]: agent is required", i)
		}
		if !validLevels[g.Level] {
			return fmt.Errorf("auth.grants[%d]: unknown level %q", i, g.Level)
		}
	}
	return nil
}
