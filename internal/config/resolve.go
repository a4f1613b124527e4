package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/observability/pprof"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	"clubqueue/internal/task/scheduler"
	logx "clubqueue/pkg/logx"
)

// Defaults returns a config usable without a file: console logging and an
// in-memory store.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Store:   StoreConfig{Driver: "memory"},
	}
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// QueueConfig resolves the queue section. Zero values are left for the queue
// to default.
func (c *Config) QueueConfig() (queue.Config, error) {
	q := c.Queue
	if q.Workers < 0 {
		return queue.Config{}, fmt.Errorf("queue.workers must be >= 0")
	}
	if q.MaxQueueSize < 0 {
		return queue.Config{}, fmt.Errorf("queue.max_queue_size must be >= 0")
	}
	if q.MaxRetries < 0 {
		return queue.Config{}, fmt.Errorf("queue.max_retries must be >= 0")
	}
	out := queue.Config{
		Workers:           q.Workers,
		MaxQueueSize:      q.MaxQueueSize,
		DefaultMaxRetries: q.MaxRetries,
	}
	var err error
	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"queue.default_timeout", q.DefaultTimeout, &out.DefaultTimeout},
		{"queue.retry_base_delay", q.RetryBaseDelay, &out.RetryBaseDelay},
		{"queue.cleanup_interval", q.CleanupInterval, &out.CleanupInterval},
		{"queue.max_job_age", q.MaxJobAge, &out.MaxJobAge},
		{"queue.stop_timeout", q.StopTimeout, &out.StopTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.path, d.raw); err != nil {
			return queue.Config{}, err
		}
	}
	return out, nil
}

func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return scheduler.Config{Timezone: tz}, nil
}

func (c *Config) StoreConfig() (store.Config, error) {
	bt, err := parseDuration("store.busy_timeout", c.Store.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      c.Store.Driver,
		Path:        strings.TrimSpace(c.Store.Path),
		BusyTimeout: bt,
	}, nil
}

// BatchPolicy resolves the batch section. An omitted pace uses
// calc.DefaultBatchPace; an explicit "0s" disables pacing.
func (c *Config) BatchPolicy() (calc.BatchPolicy, error) {
	b := c.Batch
	if b.SuccessThreshold < 0 || b.SuccessThreshold > 1 {
		return calc.BatchPolicy{}, fmt.Errorf("batch.success_threshold must be within [0, 1]")
	}
	if b.Size < 0 {
		return calc.BatchPolicy{}, fmt.Errorf("batch.size must be >= 0")
	}
	pace := calc.DefaultBatchPace
	if strings.TrimSpace(b.Pace) != "" {
		var err error
		if pace, err = parseDuration("batch.pace", b.Pace); err != nil {
			return calc.BatchPolicy{}, err
		}
	}
	return calc.BatchPolicy{SuccessThreshold: b.SuccessThreshold, Size: b.Size, Pace: pace}.WithDefaults(), nil
}

// Overrides resolves the calculations section into catalog overrides.
func (c *Config) Overrides() (map[string]calc.Override, error) {
	if len(c.Calculations) == 0 {
		return nil, nil
	}
	out := make(map[string]calc.Override, len(c.Calculations))
	for name, cc := range c.Calculations {
		path := "calculations." + name
		switch queue.Priority(strings.ToLower(strings.TrimSpace(cc.Priority))) {
		case "", queue.PriorityHigh, queue.PriorityMedium, queue.PriorityLow:
		default:
			return nil, fmt.Errorf("%s.priority: unknown priority %q", path, cc.Priority)
		}
		if cc.RetryAttempts != nil && *cc.RetryAttempts < 0 {
			return nil, fmt.Errorf("%s.retry_attempts must be >= 0", path)
		}
		timeout, err := parseDuration(path+".timeout", cc.Timeout)
		if err != nil {
			return nil, err
		}
		out[name] = calc.Override{
			Enabled:       cc.Enabled,
			Priority:      cc.Priority,
			Timeout:       timeout,
			RetryAttempts: cc.RetryAttempts,
		}
	}
	return out, nil
}

// PprofConfig resolves the pprof section. A non-loopback addr without a
// token is rejected unless allow_insecure is set.
func (c *Config) PprofConfig() (pprof.Config, error) {
	p := c.Pprof
	out := pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 strings.TrimSpace(p.Addr),
		Prefix:               strings.TrimSpace(p.Prefix),
		Token:                strings.TrimSpace(p.Token),
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}
	if out.MutexProfileFraction < 0 || out.BlockProfileRate < 0 || out.MemProfileRate < 0 {
		return pprof.Config{}, fmt.Errorf("pprof profile rates must be >= 0")
	}
	if out.Addr != "" {
		host, _, err := net.SplitHostPort(out.Addr)
		if err != nil {
			return pprof.Config{}, fmt.Errorf("pprof.addr: %w", err)
		}
		loopback := strings.EqualFold(host, "localhost")
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			loopback = true
		}
		if p.Enabled && !loopback && out.Token == "" && !p.AllowInsecure {
			return pprof.Config{}, fmt.Errorf("pprof.addr %s is not loopback: set pprof.token or pprof.allow_insecure", out.Addr)
		}
	}
	var err error
	if out.ReadTimeout, err = parseDuration("pprof.read_timeout", p.ReadTimeout); err != nil {
		return pprof.Config{}, err
	}
	if out.WriteTimeout, err = parseDuration("pprof.write_timeout", p.WriteTimeout); err != nil {
		return pprof.Config{}, err
	}
	if out.IdleTimeout, err = parseDuration("pprof.idle_timeout", p.IdleTimeout); err != nil {
		return pprof.Config{}, err
	}
	return out, nil
}

// Target returns the entity ids a schedule entry points at.
func (s ScheduleConfig) Target() calc.Target {
	return calc.Target{
		SeasonID:   s.SeasonID,
		SeasonIDs:  append([]int64(nil), s.SeasonIDs...),
		TeamID:     s.TeamID,
		OpponentID: s.OpponentID,
		LeagueID:   s.LeagueID,
		LeagueIDs:  append([]int64(nil), s.LeagueIDs...),
	}
}

// Validate checks every section without touching any service. Decode runs
// it on every parsed file.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := c.QueueConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SchedulerConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StoreConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BatchPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Overrides(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PprofConfig(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]struct{}, len(c.Schedules))
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("schedules[%d]: name required", i))
		case strings.TrimSpace(s.Calculation) == "":
			errs = append(errs, fmt.Errorf("schedules[%d] %s: calculation required", i, name))
		}
		if _, dup := seen[name]; dup && name != "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
		if _, err := scheduler.ParseSchedule(s.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d] %s: %w", i, name, err))
		}
	}
	return errors.Join(errs...)
}
