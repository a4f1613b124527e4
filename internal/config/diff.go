package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "clubqueue/pkg/logx"
)

// Sections that only take effect when the process restarts.
var restartSections = []string{"queue", "store"}

// Change describes how a reloaded config differs from the previous one.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs summarizes the new values for logging. Secrets and paths are
	// reported as set/unset only.
	Attrs []logx.Field
	// Schedules names the schedule entries added, removed or changed.
	Schedules []string
}

// Has reports whether section changed.
func (c Change) Has(section string) bool { return slices.Contains(c.Sections, section) }

// RestartRequired returns the changed sections that are not applied live.
func (c Change) RestartRequired() []string {
	var out []string
	for _, s := range restartSections {
		if c.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// Diff compares two configs; nil counts as the zero config.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Queue (applies on restart only)
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.workers", newCfg.Queue.Workers),
			logx.Int("queue.max_queue_size", newCfg.Queue.MaxQueueSize),
			logx.String("queue.default_timeout", strings.TrimSpace(newCfg.Queue.DefaultTimeout)),
			logx.Int("queue.max_retries", newCfg.Queue.MaxRetries),
		)
	}

	// Scheduler
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	// Store (applies on restart only)
	o, n := oldCfg.Store, newCfg.Store
	if strings.TrimSpace(o.Driver) != strings.TrimSpace(n.Driver) ||
		strings.TrimSpace(o.Path) != strings.TrimSpace(n.Path) ||
		strings.TrimSpace(o.BusyTimeout) != strings.TrimSpace(n.BusyTimeout) ||
		strings.TrimSpace(o.Seed) != strings.TrimSpace(n.Seed) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(n.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(n.Path) != ""),
			logx.Bool("store.seed_set", strings.TrimSpace(n.Seed) != ""),
		)
	}

	// Calculations
	if calcs := diffCalculations(oldCfg.Calculations, newCfg.Calculations); len(calcs) > 0 {
		changed = append(changed, "calculations")
		attrs = append(attrs,
			logx.Int("calculations.changed_count", len(calcs)),
			logx.String("calculations.changed", strings.Join(calcs, ",")),
		)
	}

	// Batch
	if oldCfg.Batch != newCfg.Batch {
		changed = append(changed, "batch")
		attrs = append(attrs,
			logx.Float64("batch.success_threshold", newCfg.Batch.SuccessThreshold),
			logx.Int("batch.size", newCfg.Batch.Size),
			logx.String("batch.pace", strings.TrimSpace(newCfg.Batch.Pace)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	// Schedules (summarize only; details at debug)
	schedChanged := diffSchedules(oldCfg.Schedules, newCfg.Schedules)
	if len(schedChanged) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Int("schedules.changed_count", len(schedChanged)),
			logx.Int("schedules.count", len(newCfg.Schedules)),
		)
	}

	sort.Strings(changed)
	return Change{Sections: changed, Attrs: attrs, Schedules: schedChanged}
}

func diffCalculations(oldM, newM map[string]CalculationConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, okOld := oldM[name]
		n, okNew := newM[name]
		if okOld != okNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func diffSchedules(oldS, newS []ScheduleConfig) []string {
	index := func(list []ScheduleConfig) map[string]ScheduleConfig {
		m := make(map[string]ScheduleConfig, len(list))
		for _, s := range list {
			m[strings.TrimSpace(s.Name)] = s
		}
		return m
	}
	oldM, newM := index(oldS), index(newS)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okOld := oldM[name]
		n, okNew := newM[name]
		if okOld != okNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
