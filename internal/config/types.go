package config

import (
	"bytes"
	"encoding/json"
)

// Config is the on-disk configuration. JSON and YAML are both accepted;
// unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Store     StoreConfig     `json:"store"`

	// Calculations overrides the built-in calculation catalog, keyed by
	// calculation name (e.g. "league-table").
	Calculations map[string]CalculationConfig `json:"calculations,omitempty"`

	Batch     BatchConfig      `json:"batch"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`

	Pprof PprofConfig `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QueueConfig controls the job queue.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 3
//   - max_queue_size: 100
//   - default_timeout: "30s"
//   - max_retries: 3
//   - retry_base_delay: "1s"
//   - cleanup_interval: "5m"
//   - max_job_age: "1h"
//   - stop_timeout: "30s"
type QueueConfig struct {
	Workers         int    `json:"workers,omitempty"`
	MaxQueueSize    int    `json:"max_queue_size,omitempty"`
	DefaultTimeout  string `json:"default_timeout,omitempty"`
	MaxRetries      int    `json:"max_retries,omitempty"`
	RetryBaseDelay  string `json:"retry_base_delay,omitempty"`
	CleanupInterval string `json:"cleanup_interval,omitempty"`
	MaxJobAge       string `json:"max_job_age,omitempty"`
	StopTimeout     string `json:"stop_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone used for cron schedules, e.g. "Europe/Berlin". Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// StoreConfig selects the content store.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./data/content.db", "seed": "./seed.json" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Seed is an optional JSON file loaded into the store at startup.
	Seed string `json:"seed,omitempty"`
}

// CalculationConfig overrides one catalog entry. Omitted fields keep the
// built-in value.
type CalculationConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Priority      string `json:"priority,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	RetryAttempts *int   `json:"retry_attempts,omitempty"`
}

// BatchConfig controls table batch updates.
type BatchConfig struct {
	// SuccessThreshold is the failure share a batch must stay below to count
	// as successful. 0 means 0.5.
	SuccessThreshold float64 `json:"success_threshold,omitempty"`
	Size             int     `json:"size,omitempty"`
	// Pace is the pause between sub-batches. "0s" disables pacing.
	Pace string `json:"pace,omitempty"`
}

// ScheduleConfig registers a cron or interval trigger for one calculation.
//
// Schedule accepts cron expressions ("0 3 * * *", "@every 10m"), plain
// durations ("55m") and "daily:03:15".
type ScheduleConfig struct {
	Name        string  `json:"name"`
	Schedule    string  `json:"schedule"`
	Calculation string  `json:"calculation"`
	SeasonID    int64   `json:"season_id,omitempty"`
	SeasonIDs   []int64 `json:"season_ids,omitempty"`
	TeamID      int64   `json:"team_id,omitempty"`
	OpponentID  int64   `json:"opponent_id,omitempty"`
	LeagueID    int64   `json:"league_id,omitempty"`
	LeagueIDs   []int64 `json:"league_ids,omitempty"`
}

// UnmarshalJSON disallows unknown fields inside a schedule entry so typos in
// id keys are not silently ignored.
func (s *ScheduleConfig) UnmarshalJSON(b []byte) error {
	type plain ScheduleConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*s = ScheduleConfig(p)
	return nil
}

// PprofConfig controls the optional diagnostics server (pprof + /healthz).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile (30s+) works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
