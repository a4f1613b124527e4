package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"clubqueue/internal/calc"
	"clubqueue/internal/config"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

const scheduleKeyPrefix = "config:"

// applyCatalogs resets every adapter catalog to its built-in definitions and
// applies the config overrides on top. Names no adapter knows are logged.
func (a *App) applyCatalogs(cfg *config.Config) error {
	overrides, err := cfg.Overrides()
	if err != nil {
		return err
	}
	unknown := map[string]int{}
	for i, ad := range a.adapters {
		cat := ad.Catalog()
		cat.Reset(a.baseline[i])
		for _, name := range cat.Apply(overrides) {
			unknown[name]++
		}
	}
	var names []string
	for name, n := range unknown {
		if n == len(a.adapters) {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		a.log.Warn("unknown calculations in config ignored", logx.String("names", strings.Join(names, ",")))
	}
	return nil
}

// applySchedules replaces all config-driven schedules with cfg.Schedules.
// Entries for disabled calculations are skipped with a log line; entries
// that cannot be built are returned as errors.
func (a *App) applySchedules(cfg *config.Config) error {
	a.schedMu.Lock()
	defer a.schedMu.Unlock()

	for key := range a.schedKeys {
		a.sched.Cancel(key)
	}
	a.schedKeys = map[string]struct{}{}

	var errs []error
	for _, sc := range cfg.Schedules {
		name := strings.TrimSpace(sc.Name)
		spec, err := calc.BuildFor(a.adapters, sc.Calculation, sc.Target(), queue.JobContext{
			Operation:   "schedule",
			OperationID: name,
		})
		if errors.Is(err, calc.ErrDisabled) {
			a.log.Info("schedule skipped (calculation disabled)",
				logx.String("schedule", name),
				logx.String("calculation", sc.Calculation),
			)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", name, err))
			continue
		}
		key := scheduleKeyPrefix + name
		if err := a.sched.AddSchedule(key, sc.Schedule, spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", name, err))
			continue
		}
		a.schedKeys[key] = struct{}{}
		a.log.Debug("schedule registered",
			logx.String("schedule", name),
			logx.String("spec", sc.Schedule),
			logx.String("calculation", sc.Calculation),
		)
	}
	return errors.Join(errs...)
}

// checkConfig rejects reloads whose schedules name a calculation no adapter
// defines. Disabled calculations pass; applySchedules skips them.
func (a *App) checkConfig(_ context.Context, cfg *config.Config) error {
	var errs []error
	for _, sc := range cfg.Schedules {
		known := false
		for _, ad := range a.adapters {
			if _, ok := ad.Catalog().Get(sc.Calculation); ok {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("schedule %s: %w: %s", sc.Name, calc.ErrUnknownCalculation, sc.Calculation))
		}
	}
	return errors.Join(errs...)
}

// ScheduleKeys returns the scheduler keys of the config-driven schedules.
func (a *App) ScheduleKeys() []string {
	a.schedMu.Lock()
	defer a.schedMu.Unlock()
	out := make([]string, 0, len(a.schedKeys))
	for k := range a.schedKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
