package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"clubqueue/internal/calc"
	"clubqueue/internal/calc/season"
	"clubqueue/internal/calc/table"
	"clubqueue/internal/calc/team"
	"clubqueue/internal/config"
	"clubqueue/internal/eventbus"
	"clubqueue/internal/observability/pprof"
	"clubqueue/internal/runtime/supervisor"
	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	"clubqueue/internal/task/scheduler"
	logx "clubqueue/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm  *config.ConfigManager
	cfgMu sync.RWMutex
	cfg   *config.Config
	sup   *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store store.ContentStore

	queue *queue.Queue
	sched *scheduler.Service
	pprof *pprof.Service

	seasons *season.Adapter
	teams   *team.Adapter
	tables  *table.Adapter

	adapters []calc.Adapter
	// baseline holds each adapter's built-in catalog so overrides can be
	// re-applied from scratch on reload.
	baseline [][]calc.Definition

	schedMu   sync.Mutex
	schedKeys map[string]struct{}
}

// New loads the config at cfgPath and wires every component. An empty path
// runs with config.Defaults and no hot reload.
func New(cfgPath string) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  *config.Config
		err  error
	)
	if strings.TrimSpace(cfgPath) == "" {
		cfg = config.Defaults()
	} else {
		cfgm = config.NewConfigManager(cfgPath)
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	logSvc, log := logx.New(cfg.LogConfig())
	a, err := build(cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

func build(cfg *config.Config, logSvc *logx.Service, root logx.Logger) (*App, error) {
	log := root.With(logx.String("comp", "app"))

	stCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	qCfg, err := cfg.QueueConfig()
	if err != nil {
		return nil, err
	}
	schCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.BatchPolicy()
	if err != nil {
		return nil, err
	}
	ppCfg, err := cfg.PprofConfig()
	if err != nil {
		return nil, err
	}

	cs, err := store.Open(stCfg, root.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	if seed := strings.TrimSpace(cfg.Store.Seed); seed != "" {
		n, err := seedFile(cs, seed)
		if err != nil {
			_ = cs.Close()
			return nil, err
		}
		log.Info("store seeded", logx.String("file", seed), logx.Int("entities", n))
	}

	bus := eventbus.New()
	q := queue.New(qCfg, root.With(logx.String("comp", "queue")), bus)
	sched := scheduler.New(schCfg, q, root.With(logx.String("comp", "scheduler")))
	q.SetDeferrer(sched)

	deps := calc.Deps{Store: cs, Scheduler: sched, Log: root}
	a := &App{
		cfg:       cfg,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     cs,
		queue:     q,
		sched:     sched,
		seasons:   season.New(deps),
		teams:     team.New(deps),
		tables:    table.New(deps, policy),
		schedKeys: map[string]struct{}{},
	}
	a.pprof = pprof.New(ppCfg, root.With(logx.String("comp", "pprof")), a.health)
	a.adapters = []calc.Adapter{a.seasons, a.teams, a.tables}
	for _, ad := range a.adapters {
		a.baseline = append(a.baseline, ad.Catalog().List())
	}

	if err := a.applyCatalogs(cfg); err != nil {
		_ = cs.Close()
		return nil, err
	}
	if err := a.applySchedules(cfg); err != nil {
		_ = cs.Close()
		return nil, err
	}
	log.Info("app configured",
		logx.String("store", stCfg.Driver),
		logx.Int("workers", q.Config().Workers),
		logx.Int("schedules", len(cfg.Schedules)),
	)
	return a, nil
}

func seedFile(cs store.ContentStore, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("store.seed: %w", err)
	}
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := store.Seed(ctx, cs, f)
	if err != nil {
		return 0, fmt.Errorf("store.seed %s: %w", path, err)
	}
	return n, nil
}

func (a *App) Queue() *queue.Queue           { return a.queue }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Store() store.ContentStore     { return a.store }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Seasons() *season.Adapter      { return a.seasons }
func (a *App) Teams() *team.Adapter          { return a.teams }
func (a *App) Tables() *table.Adapter        { return a.tables }
func (a *App) Logger() logx.Logger           { return a.log }

func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Config returns the last applied config.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.queue.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	if ppCfg, err := a.Config().PprofConfig(); err == nil {
		a.pprof.Reconfigure(a.sup.Context(), ppCfg)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(a.checkConfig)
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

// health backs /healthz: queue stats, unhealthy once the queue stops.
func (a *App) health() (any, error) {
	st := a.queue.Stats()
	state := map[string]any{
		"pending":        st.Pending,
		"running":        st.Running,
		"failed":         st.Failed,
		"active_workers": st.ActiveWorkers,
		"workers":        st.Workers,
		"schedules":      len(a.ScheduleKeys()),
	}
	if !a.queue.Snapshot().Running {
		return state, fmt.Errorf("queue not running")
	}
	return state, nil
}

// logEvent keeps job events at debug; the queue already logs outcomes.
func (a *App) logEvent(e eventbus.Event) {
	if !a.log.Enabled(logx.LevelDebug) {
		return
	}
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	if info, ok := e.Data.(queue.JobInfo); ok {
		fields = append(fields,
			logx.String("job", info.Name),
			logx.String("id", info.ID),
			logx.String("status", string(info.Status)),
		)
	}
	a.log.Debug("event", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Bound each step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Scheduler first so nothing new is enqueued while the queue drains.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("queue", a.queue.Config().StopTimeout+time.Second, func(c context.Context) error { a.queue.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("store", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
