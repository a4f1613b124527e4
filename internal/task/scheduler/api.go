package scheduler

import (
	"fmt"
	"strings"
	"time"

	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"

	"github.com/robfig/cron/v3"
)

// ScheduleOnce enqueues spec at the given time and returns the id the job
// will carry. Scheduling under an existing key replaces that entry.
func (s *Service) ScheduleOnce(key string, at time.Time, spec queue.Spec) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNameRequired
	}
	if at.IsZero() {
		return "", ErrInvalidTime
	}
	if err := validateSpec(spec); err != nil {
		return "", err
	}
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = queue.NewJobID(spec.Name, spec.Context.OperationID, time.Now())
	}

	s.mu.Lock()
	s.removeScheduleLocked(key)
	s.mu.Unlock()

	s.armOnce(&onceDef{key: key, kind: KindOnce, at: at, job: spec})
	s.log.Debug("schedule registered", logx.String("key", key), logx.String("kind", string(KindOnce)), logx.Time("at", at), logx.String("job_id", spec.ID))
	return spec.ID, nil
}

// ScheduleRecurring enqueues a fresh job at first and then every interval.
// With maxRuns > 0 the entry removes itself after that many runs. It returns
// the id of the first job; later runs get new ids.
func (s *Service) ScheduleRecurring(key string, first time.Time, every time.Duration, spec queue.Spec, maxRuns int) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNameRequired
	}
	if every <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}
	if err := validateSpec(spec); err != nil {
		return "", err
	}
	now := time.Now()
	if first.IsZero() {
		first = now
	}
	if maxRuns < 0 {
		maxRuns = 0
	}
	spec.ID = ""
	d := &scheduleDef{
		key:          key,
		kind:         KindRecurring,
		spec:         fmt.Sprintf("@every %s", every),
		first:        first,
		every:        every,
		maxRuns:      maxRuns,
		pendingFirst: true,
		firstID:      queue.NewJobID(spec.Name, spec.Context.OperationID, now),
		job:          spec,
	}
	return d.firstID, s.register(d)
}

// AddSchedule parses schedule and registers a cron or interval entry.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "0 3 * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Interval entries start after one interval plus a random startup spread.
func (s *Service) AddSchedule(key, schedule string, spec queue.Spec) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNameRequired
	}
	if err := validateSpec(spec); err != nil {
		return err
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec.ID = ""
	switch ps.Kind {
	case SpecCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", key, err)
		}
		return s.register(&scheduleDef{key: key, kind: KindCron, spec: ps.Cron, job: spec})
	case SpecInterval:
		first, _ := spreadFirstRun(ps.Every, time.Now(), key)
		return s.register(&scheduleDef{
			key:   key,
			kind:  KindRecurring,
			spec:  fmt.Sprintf("@every %s", ps.Every),
			first: first,
			every: ps.Every,
			job:   spec,
		})
	default:
		return fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) register(d *scheduleDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by key to prevent duplicates across hot-reloads.
	s.removeScheduleLocked(d.key)
	s.gen++
	d.gen = s.gen
	s.defs[d.key] = d
	if s.c == nil {
		// Not started yet: registered with cron when Start runs.
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		delete(s.defs, d.key)
		s.log.Error("schedule register failed", logx.String("key", d.key), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	args := []logx.Field{logx.String("key", d.key), logx.String("kind", string(d.kind)), logx.String("spec", d.spec)}
	if next := s.previewNextRunsLocked(d, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Cancel removes the entry registered under key. It returns false for an
// unknown key, including a once entry that already fired.
func (s *Service) Cancel(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(key)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("key", key))
	}
	return removed
}

// Has reports whether an entry is registered under key.
func (s *Service) Has(key string) bool {
	s.mu.Lock()
	_, ok := s.defs[key]
	s.mu.Unlock()
	if ok {
		return true
	}
	s.tmu.Lock()
	_, ok = s.once[key]
	s.tmu.Unlock()
	return ok
}

// Defer runs fn at the given time. It implements queue.Deferrer so that
// retry backoffs are visible in the scheduler snapshot.
func (s *Service) Defer(key string, at time.Time, fn func()) {
	if fn == nil {
		return
	}
	s.armOnce(&onceDef{key: key, kind: KindRetry, at: at, fn: fn})
}

func (s *Service) CancelDeferred(key string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.removeOnceLocked(key)
}

// removeScheduleLocked removes any entry registered under key. Call with s.mu held.
func (s *Service) removeScheduleLocked(key string) bool {
	removed := false
	if d, ok := s.defs[key]; ok {
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		delete(s.defs, key)
		removed = true
	}
	s.tmu.Lock()
	if s.removeOnceLocked(key) {
		removed = true
	}
	s.tmu.Unlock()
	return removed
}

// Call with s.tmu held.
func (s *Service) removeOnceLocked(key string) bool {
	d, ok := s.once[key]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, key)
	return true
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	key, gen := d.key, d.gen
	job := cron.FuncJob(func() { s.fireRecurring(key, gen) })

	if d.kind == KindRecurring {
		d.entryID = s.c.Schedule(&intervalSchedule{first: d.first, every: d.every}, job)
		if d.pendingFirst && !d.first.After(time.Now()) {
			go s.fireRecurring(key, gen)
		}
		return nil
	}
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) fireRecurring(key string, gen uint64) {
	s.mu.Lock()
	d, ok := s.defs[key]
	if !ok || d.gen != gen || (d.maxRuns > 0 && d.runs >= d.maxRuns) {
		s.mu.Unlock()
		return
	}
	d.runs++
	spec := d.job
	if d.pendingFirst {
		d.pendingFirst = false
		spec.ID = d.firstID
	}
	run := d.runs
	exhausted := d.maxRuns > 0 && d.runs >= d.maxRuns
	if exhausted {
		s.removeScheduleLocked(key)
	}
	s.mu.Unlock()

	id, err := s.enqueue(key, spec)
	if err == nil {
		s.log.Debug("schedule fired", logx.String("key", key), logx.Int("run", run), logx.String("job_id", id))
	}
	if exhausted {
		s.log.Debug("schedule exhausted", logx.String("key", key), logx.Int("runs", run))
	}
}

// armOnce stores d, replacing any entry with the same key. The timer only
// starts while the service is running; Start arms stored entries.
func (s *Service) armOnce(d *onceDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.removeOnceLocked(d.key)
	s.onceSeq++
	d.ver = s.onceSeq
	s.once[d.key] = d
	if s.c != nil {
		s.startTimerLocked(d)
	}
}

// Call with s.tmu held.
func (s *Service) startTimerLocked(d *onceDef) {
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	key, ver := d.key, d.ver
	d.timer = time.AfterFunc(delay, func() { s.fireOnce(key, ver) })
}

func (s *Service) rearmOnceTimers() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
		}
		s.startTimerLocked(d)
	}
}

func (s *Service) fireOnce(key string, ver uint64) {
	s.tmu.Lock()
	d, ok := s.once[key]
	// Removed or replaced since this timer was armed.
	if !ok || d.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.once, key)
	s.tmu.Unlock()

	if d.fn != nil {
		d.fn()
		return
	}
	if id, err := s.enqueue(key, d.job); err == nil {
		s.log.Debug("schedule fired", logx.String("key", key), logx.String("job_id", id))
	}
}

func (s *Service) enqueue(key string, spec queue.Spec) (string, error) {
	if s.q == nil {
		return "", fmt.Errorf("no queue")
	}
	id, err := s.q.Enqueue(spec)
	if err != nil {
		s.reportEnqueueError(key, err)
	}
	return id, err
}

func validateSpec(spec queue.Spec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: name is required", queue.ErrInvalidSpec)
	}
	if spec.Calculator == nil {
		return fmt.Errorf("%w: calculator is required", queue.ErrInvalidSpec)
	}
	return nil
}

// previewNextRunsLocked returns upcoming run times for debug logging. Call with s.mu held.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	var sched cron.Schedule
	if d.kind == KindRecurring {
		sched = &intervalSchedule{first: d.first, every: d.every}
	} else {
		var err error
		if sched, err = s.parser.Parse(d.spec); err != nil {
			return ""
		}
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		if d.maxRuns > 0 && i >= d.maxRuns {
			break
		}
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05.000"))
	}
	return b.String()
}
