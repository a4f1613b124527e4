package calc

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"clubqueue/internal/store"
	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

// Scheduler is the part of the scheduler service the adapters use.
type Scheduler interface {
	ScheduleOnce(key string, at time.Time, spec queue.Spec) (string, error)
	ScheduleRecurring(key string, first time.Time, every time.Duration, spec queue.Spec, maxRuns int) (string, error)
	Cancel(key string) bool
}

// Target names the entities a calculation runs for. Config-driven
// schedules use it to address any adapter.
type Target struct {
	SeasonID   int64
	SeasonIDs  []int64
	TeamID     int64
	OpponentID int64
	LeagueID   int64
	LeagueIDs  []int64
}

// Adapter is implemented by the season, team and table adapters.
type Adapter interface {
	Catalog() *Catalog
	Build(name string, t Target, jc queue.JobContext) (queue.Spec, error)
}

// Deps are shared by all adapters.
type Deps struct {
	Store     store.ContentStore
	Scheduler Scheduler
	Log       logx.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Base implements spec building and convenience scheduling on top of a
// Catalog. Adapters embed it.
type Base struct {
	Deps
	catalog *Catalog
}

func NewBase(d Deps, c *Catalog) Base {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return Base{Deps: d, catalog: c}
}

func (b *Base) Catalog() *Catalog { return b.catalog }

// Spec builds a queue spec for the named calculation.
func (b *Base) Spec(name string, p queue.Payload, jc queue.JobContext, fn queue.Calculator) (queue.Spec, error) {
	d, err := b.catalog.Lookup(name)
	if err != nil {
		return queue.Spec{}, err
	}
	if jc.Operation == "" {
		jc.Operation = name
	}
	if jc.Timestamp.IsZero() {
		jc.Timestamp = b.Now()
	}
	retries := d.RetryAttempts
	if retries == 0 {
		retries = -1
	}
	return queue.Spec{
		Name:       name,
		Type:       queue.TypeCalculation,
		Priority:   d.Priority,
		Payload:    p,
		Context:    jc,
		Calculator: fn,
		Timeout:    d.Timeout,
		MaxRetries: retries,
	}, nil
}

// ScheduleIn arms a one-shot job under key after delay and returns the id
// the job will carry. A pending schedule with the same key is replaced.
func (b *Base) ScheduleIn(key string, delay time.Duration, spec queue.Spec) (string, error) {
	if b.Scheduler == nil {
		return "", errors.New("calc: scheduler not configured")
	}
	if delay < 0 {
		delay = 0
	}
	id, err := b.Scheduler.ScheduleOnce(key, b.Now().Add(delay), spec)
	if err != nil {
		return "", err
	}
	b.Log.Debug("calculation scheduled",
		logx.String("key", key),
		logx.String("job", id),
		logx.Duration("delay", delay),
	)
	return id, nil
}

// ScheduleEvery arms a recurring job under key. maxRuns <= 0 runs until
// cancelled. It returns the id of the first run.
func (b *Base) ScheduleEvery(key string, first time.Time, every time.Duration, spec queue.Spec, maxRuns int) (string, error) {
	if b.Scheduler == nil {
		return "", errors.New("calc: scheduler not configured")
	}
	if first.IsZero() {
		first = b.Now()
	}
	id, err := b.Scheduler.ScheduleRecurring(key, first, every, spec, maxRuns)
	if err != nil {
		return "", err
	}
	b.Log.Debug("recurring calculation scheduled",
		logx.String("key", key),
		logx.String("job", id),
		logx.Duration("every", every),
		logx.Int("max_runs", maxRuns),
	)
	return id, nil
}

// Cancel removes a pending schedule created by this adapter.
func (b *Base) Cancel(key string) bool {
	if b.Scheduler == nil {
		return false
	}
	return b.Scheduler.Cancel(key)
}

// Key builds a schedule key from a calculation name and ids.
func Key(name string, ids ...int64) string {
	k := name
	for _, id := range ids {
		k += ":" + strconv.FormatInt(id, 10)
	}
	return k
}

// OperationID formats an entity id for JobContext.OperationID.
func OperationID(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// RequireID is the common precondition check for payload ids.
func RequireID(what string, id int64) error {
	if id <= 0 {
		return Invalid("%s id required (got %d)", what, id)
	}
	return nil
}

// BuildFor finds the adapter whose catalog defines name and builds the spec.
func BuildFor(adapters []Adapter, name string, t Target, jc queue.JobContext) (queue.Spec, error) {
	for _, a := range adapters {
		if a != nil && a.Catalog().Has(name) {
			return a.Build(name, t, jc)
		}
	}
	return queue.Spec{}, fmt.Errorf("%w: %s", ErrUnknownCalculation, name)
}
