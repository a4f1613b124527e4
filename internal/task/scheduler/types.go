package scheduler

import (
	"errors"
	"sync"
	"time"

	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"

	"github.com/robfig/cron/v3"
)

var (
	ErrNameRequired = errors.New("schedule key required")
	ErrInvalidTime  = errors.New("schedule time required")
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ used for cron expressions, e.g. "Europe/Berlin"
}

// Enqueuer is the queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(spec queue.Spec) (string, error)
}

type Kind string

const (
	KindOnce      Kind = "once"
	KindRecurring Kind = "recurring"
	KindCron      Kind = "cron"
	KindRetry     Kind = "retry"
)

// scheduleDef is a cron-driven entry (recurring or cron).
type scheduleDef struct {
	key   string
	kind  Kind
	spec  string // cron expression, or "@every <d>" for display
	gen   uint64
	first time.Time
	every time.Duration

	maxRuns      int // 0 = unlimited
	runs         int
	pendingFirst bool
	firstID      string

	job     queue.Spec
	entryID cron.EntryID
}

// onceDef is a timer-driven entry (once or retry).
type onceDef struct {
	key   string
	kind  Kind
	at    time.Time
	ver   uint64
	job   queue.Spec
	fn    func()
	timer *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	q   Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef
	gen    uint64

	// Enqueue error throttling: key is schedule key.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// Timers are runtime state; once holds the definitions so they survive Stop/Start.
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64
}

type EntryInfo struct {
	Key      string        `json:"key"`
	Kind     Kind          `json:"kind"`
	Spec     string        `json:"spec,omitempty"`
	Every    time.Duration `json:"every,omitempty"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev,omitempty"`
	Runs     int           `json:"runs,omitempty"`
	RunsLeft int           `json:"runs_left,omitempty"` // 0 when unlimited
	JobID    string        `json:"job_id,omitempty"`
}

type Snapshot struct {
	Running        bool
	Timezone       string
	Entries        []EntryInfo
	PendingRetries int
}
