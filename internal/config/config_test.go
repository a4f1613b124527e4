package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clubqueue/internal/calc"
	logx "clubqueue/pkg/logx"
)

const yamlConfig = `
logging:
  level: debug
  console: true
queue:
  workers: 4
  max_queue_size: 50
  default_timeout: 45s
  retry_base_delay: 2s
store:
  driver: sqlite
  path: ./data/content.db
  busy_timeout: 3s
calculations:
  league-table:
    priority: low
    timeout: 2m
    retry_attempts: 0
  team-head-to-head:
    enabled: false
batch:
  success_threshold: 0.25
  size: 10
  pace: 0s
schedules:
  - name: nightly-tables
    schedule: "daily:03:15"
    calculation: table-batch-update
    season_id: 1
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(writeFile(t, "config.yaml", yamlConfig)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	q, err := cfg.QueueConfig()
	if err != nil {
		t.Fatalf("QueueConfig: %v", err)
	}
	if q.Workers != 4 || q.MaxQueueSize != 50 || q.DefaultTimeout != 45*time.Second || q.RetryBaseDelay != 2*time.Second {
		t.Fatalf("queue = %+v", q)
	}
	if q.CleanupInterval != 0 {
		t.Fatalf("omitted cleanup_interval should stay zero, got %v", q.CleanupInterval)
	}

	sc, err := cfg.StoreConfig()
	if err != nil {
		t.Fatalf("StoreConfig: %v", err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("store = %+v", sc)
	}

	bp, err := cfg.BatchPolicy()
	if err != nil {
		t.Fatalf("BatchPolicy: %v", err)
	}
	if bp.SuccessThreshold != 0.25 || bp.Size != 10 || bp.Pace != 0 {
		t.Fatalf("batch = %+v", bp)
	}

	ov, err := cfg.Overrides()
	if err != nil {
		t.Fatalf("Overrides: %v", err)
	}
	lt := ov["league-table"]
	if lt.Priority != "low" || lt.Timeout != 2*time.Minute || lt.RetryAttempts == nil || *lt.RetryAttempts != 0 {
		t.Fatalf("league-table override = %+v", lt)
	}
	if h2h := ov["team-head-to-head"]; h2h.Enabled == nil || *h2h.Enabled {
		t.Fatalf("head-to-head override = %+v", h2h)
	}

	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Target().SeasonID != 1 {
		t.Fatalf("schedules = %+v", cfg.Schedules)
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"top level", `{"queue": {}, "plugins": {}}`},
		{"nested", `{"queue": {"worker": 2}}`},
		{"schedule entry", `{"schedules": [{"name": "x", "schedule": "1h", "calculation": "league-table", "liga": 1}]}`},
		{"trailing data", `{"queue": {}} {"queue": {}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewConfigManager(writeFile(t, "config.json", tt.body)).Parse(); err == nil {
				t.Fatalf("Parse(%s) should fail", tt.body)
			}
		})
	}
}

func TestBatchPolicyDefaults(t *testing.T) {
	t.Parallel()
	bp, err := (&Config{}).BatchPolicy()
	if err != nil {
		t.Fatalf("BatchPolicy: %v", err)
	}
	if bp.SuccessThreshold != calc.DefaultSuccessThreshold || bp.Size != calc.DefaultBatchSize || bp.Pace != calc.DefaultBatchPace {
		t.Fatalf("defaults = %+v", bp)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg := -1
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad duration", Config{Queue: QueueConfig{DefaultTimeout: "soon"}}, "queue.default_timeout"},
		{"negative duration", Config{Queue: QueueConfig{MaxJobAge: "-1m"}}, "queue.max_job_age"},
		{"negative workers", Config{Queue: QueueConfig{Workers: -1}}, "queue.workers"},
		{"timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, "scheduler.timezone"},
		{"threshold", Config{Batch: BatchConfig{SuccessThreshold: 1.5}}, "batch.success_threshold"},
		{"priority", Config{Calculations: map[string]CalculationConfig{"league-table": {Priority: "urgent"}}}, "priority"},
		{"retries", Config{Calculations: map[string]CalculationConfig{"league-table": {RetryAttempts: &neg}}}, "retry_attempts"},
		{"pprof exposure", Config{Pprof: PprofConfig{Enabled: true, Addr: "0.0.0.0:6060"}}, "not loopback"},
		{"pprof addr", Config{Pprof: PprofConfig{Addr: "6060"}}, "pprof.addr"},
		{"schedule name", Config{Schedules: []ScheduleConfig{{Schedule: "1h", Calculation: "x"}}}, "name required"},
		{"schedule spec", Config{Schedules: []ScheduleConfig{{Name: "a", Schedule: "whenever", Calculation: "x"}}}, "invalid schedule"},
		{"duplicate", Config{Schedules: []ScheduleConfig{
			{Name: "a", Schedule: "1h", Calculation: "x"},
			{Name: "a", Schedule: "2h", Calculation: "x"},
		}}, "duplicate"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	old := &Config{
		Logging:   LoggingConfig{Level: "info"},
		Batch:     BatchConfig{Size: 5},
		Schedules: []ScheduleConfig{{Name: "a", Schedule: "1h"}, {Name: "b", Schedule: "2h"}},
	}
	next := &Config{
		Logging:      LoggingConfig{Level: "debug"},
		Batch:        BatchConfig{Size: 5},
		Calculations: map[string]CalculationConfig{"league-table": {Priority: "low"}},
		Schedules:    []ScheduleConfig{{Name: "a", Schedule: "1h"}, {Name: "b", Schedule: "3h"}, {Name: "c", Schedule: "1h"}},
	}
	change := Diff(old, next)
	if got := strings.Join(change.Sections, ","); got != "calculations,logging,schedules" {
		t.Fatalf("sections = %s", got)
	}
	if len(change.Attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := strings.Join(change.Schedules, ","); got != "b,c" {
		t.Fatalf("schedules = %s", got)
	}
	if !change.Has("logging") || change.Has("batch") || len(change.RestartRequired()) != 0 {
		t.Fatalf("change = %+v", change)
	}

	restart := *next
	restart.Queue.Workers = 8
	restart.Store.Driver = "sqlite"
	if got := strings.Join(Diff(next, &restart).RestartRequired(), ","); got != "queue,store" {
		t.Fatalf("restart required = %s", got)
	}
	if change := Diff(next, next); len(change.Sections) != 0 {
		t.Fatalf("identical configs changed %v", change.Sections)
	}
}

func TestDecodeAppliesDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"empty yaml", "c.yaml", ""},
		{"empty json", "c.json", "  \n"},
		{"partial logging", "c.yml", "logging:\n  level: warn\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tt.file, []byte(tt.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !cfg.Logging.Console || cfg.Store.Driver != "memory" {
				t.Fatalf("defaults lost: %+v", cfg)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{"duplicate yaml key", "c.yaml", "queue:\n  workers: 2\n  workers: 3\n", "line 3: duplicate key \"workers\""},
		{"duplicate section", "c.yaml", "batch: {}\nbatch: {}\n", "duplicate key \"batch\""},
		{"bad yaml", "c.yaml", "queue: [\n", "yaml"},
		{"log level", "c.json", `{"logging": {"level": "loud"}}`, "logging.level"},
		{"validation", "c.yaml", "queue:\n  workers: -2\n", "queue.workers"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestDecodeYAMLKeepsTimeStrings(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte("schedules:\n  - name: early\n    schedule: 03:15\n    calculation: league-table\n    league_id: 4\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := cfg.Schedules[0]; got.Schedule != "03:15" || got.LeagueID != 4 {
		t.Fatalf("schedule = %+v", got)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"1.5d", 0, true},
		{"-1s", 0, true},
		{"-2d", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		got, err := parseDuration("f", tt.raw)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) = %v, %v", tt.raw, got, err)
		}
	}
}

func TestReloadCommitsOnlyAcceptedChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"queue": {"workers": 2}}`)
	var logs bytes.Buffer
	m := NewConfigManager(path)
	m.SetLogger(logx.NewWriter(&logs, "debug"))
	first, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	ctx := context.Background()
	rewrite := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		m.reload(ctx)
	}

	// Same content, different formatting.
	rewrite(`{ "queue": { "workers": 2 } }`)
	// Invalid value.
	rewrite(`{"queue": {"workers": -1}}`)
	// Rejected by the validator hook.
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if len(cfg.Schedules) > 0 {
			return errors.New("no schedules allowed")
		}
		return nil
	})
	rewrite(`{"queue": {"workers": 2}, "schedules": [{"name": "a", "schedule": "1h", "calculation": "x"}]}`)
	if m.Get() != first || len(ch) != 0 {
		t.Fatalf("rejected reloads must not commit: get=%p first=%p published=%d", m.Get(), first, len(ch))
	}

	rewrite(`{"queue": {"workers": 4}}`)
	select {
	case cfg := <-ch:
		if cfg.Queue.Workers != 4 || m.Get() != cfg {
			t.Fatalf("published %+v", cfg.Queue)
		}
	default:
		t.Fatalf("accepted reload not published")
	}
	out := logs.String()
	for _, want := range []string{"config unchanged", "config rejected", "no schedules allowed", "apply on restart only", `"sections":"queue"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", `{"logging": {"level": "warn"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Logging.Level != "warn" {
		t.Fatalf("Get() = %+v", m.Get())
	}

	ch := m.Subscribe(1)
	next := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(next)
	m.publish(next)
	select {
	case got := <-ch:
		if got != next {
			t.Fatalf("published %+v", got)
		}
	default:
		t.Fatalf("subscriber received nothing")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {"level": "info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.debounce = 20 * time.Millisecond
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and the change lands.
		if err := os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level %q", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-deadline:
			t.Fatalf("no config published")
		case <-tick.C:
		}
	}
}
