package config

import "time"

// Default returns the configuration the service runs with when no file
// says otherwise: everything in-process, matching every second, a local
// SQLite file, ops on :9090.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Scheduler: SchedulerConfig{
			MatchInterval:     Duration(time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
			Strategy:          "first_fit",
		},
		Leveler: LevelerConfig{
			MaxAdvances: 1000,
		},
		Store: StoreConfig{
			Path: "steve.db",
		},
		Ops: OpsConfig{
			Addr: ":9090",
		},
	}
}
