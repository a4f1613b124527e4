package app

import (
	"context"
	"strings"

	"clubqueue/internal/config"
	logx "clubqueue/pkg/logx"
)

// reloadLoop applies published configs. Queue and store sections need a
// restart (the config manager warns about those); everything else changes
// live.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.Config()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	change := config.Diff(oldCfg, newCfg)
	if len(change.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Attrs...)
	changed := change.Has

	if changed("logging") {
		if err := a.logs.Apply(newCfg.LogConfig()); err != nil {
			a.log.Warn("logging config partially applied", logx.Err(err))
		}
	}
	if changed("scheduler") {
		if sc, err := newCfg.SchedulerConfig(); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
		}
	}
	if changed("pprof") {
		if pc, err := newCfg.PprofConfig(); err != nil {
			a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
		} else {
			a.pprof.Reconfigure(ctx, pc)
		}
	}
	if changed("batch") {
		if p, err := newCfg.BatchPolicy(); err != nil {
			a.log.Warn("invalid batch config; keeping previous", logx.Err(err))
		} else {
			a.tables.SetBatchPolicy(p)
		}
	}
	if changed("calculations") {
		if err := a.applyCatalogs(newCfg); err != nil {
			a.log.Warn("invalid calculations config; keeping previous", logx.Err(err))
		}
	}
	// Specs carry catalog settings, so catalog changes rebuild schedules too.
	if changed("calculations") || changed("schedules") {
		if len(change.Schedules) > 0 {
			a.log.Debug("schedule changes detected", logx.Any("schedules", change.Schedules))
		}
		if err := a.applySchedules(newCfg); err != nil {
			a.log.Warn("some schedules could not be registered", logx.Err(err))
		}
	}

	a.cfgMu.Lock()
	a.cfg = newCfg
	a.cfgMu.Unlock()
	a.log.Info("config reloaded", fields...)
}
