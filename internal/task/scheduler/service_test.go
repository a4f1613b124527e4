package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clubqueue/internal/task/queue"
	logx "clubqueue/pkg/logx"
)

type recordingQueue struct {
	mu    sync.Mutex
	specs []queue.Spec
	err   error
}

func (r *recordingQueue) Enqueue(spec queue.Spec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if spec.ID == "" {
		spec.ID = queue.NewJobID(spec.Name, "", time.Now())
	}
	r.specs = append(r.specs, spec)
	return spec.ID, nil
}

func (r *recordingQueue) enqueued() []queue.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Spec(nil), r.specs...)
}

func newTestService(t *testing.T) (*Service, *recordingQueue) {
	t.Helper()
	rq := &recordingQueue{}
	s := New(Config{Timezone: "UTC"}, rq, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, rq
}

func testSpec(name string) queue.Spec {
	return queue.Spec{
		Name:       name,
		Calculator: func(ctx context.Context, _ queue.Payload, _ queue.JobContext) (any, error) { return nil, nil },
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduleOnceFiresWithAssignedID(t *testing.T) {
	s, rq := newTestService(t)

	id, err := s.ScheduleOnce("season-1", time.Now().Add(10*time.Millisecond), testSpec("season-statistics"))
	if err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	if id == "" {
		t.Fatal("ScheduleOnce returned empty id")
	}
	if !s.Has("season-1") {
		t.Fatal("entry missing before firing")
	}
	waitFor(t, time.Second, "once entry to fire", func() bool { return len(rq.enqueued()) == 1 })

	if got := rq.enqueued()[0].ID; got != id {
		t.Fatalf("enqueued id = %q, want %q", got, id)
	}
	if s.Has("season-1") {
		t.Fatal("once entry still present after firing")
	}
	if s.Cancel("season-1") {
		t.Fatal("Cancel of fired once entry returned true")
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(rq.enqueued()); n != 1 {
		t.Fatalf("enqueued %d jobs, want 1", n)
	}
}

func TestScheduleOnceCancel(t *testing.T) {
	s, rq := newTestService(t)

	if _, err := s.ScheduleOnce("later", time.Now().Add(30*time.Millisecond), testSpec("x")); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	if !s.Cancel("later") {
		t.Fatal("Cancel returned false")
	}
	if s.Cancel("later") || s.Cancel("unknown") {
		t.Fatal("Cancel of unknown key returned true")
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(rq.enqueued()); n != 0 {
		t.Fatalf("enqueued %d jobs after cancel", n)
	}
}

func TestScheduleOnceReplacesSameKey(t *testing.T) {
	s, rq := newTestService(t)

	first, _ := s.ScheduleOnce("k", time.Now().Add(10*time.Millisecond), testSpec("a"))
	second, _ := s.ScheduleOnce("k", time.Now().Add(20*time.Millisecond), testSpec("b"))
	if first == second {
		t.Fatal("replacement reused the job id")
	}
	waitFor(t, time.Second, "replacement to fire", func() bool { return len(rq.enqueued()) == 1 })
	time.Sleep(30 * time.Millisecond)
	got := rq.enqueued()
	if len(got) != 1 || got[0].Name != "b" {
		t.Fatalf("enqueued = %+v, want only b", got)
	}
}

func TestScheduleRecurringMaxRuns(t *testing.T) {
	s, rq := newTestService(t)

	firstID, err := s.ScheduleRecurring("table-refresh", time.Now().Add(10*time.Millisecond), 20*time.Millisecond, testSpec("league-table"), 2)
	if err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}
	waitFor(t, time.Second, "two runs", func() bool { return len(rq.enqueued()) == 2 })
	waitFor(t, time.Second, "entry removal", func() bool { return !s.Has("table-refresh") })

	time.Sleep(80 * time.Millisecond)
	got := rq.enqueued()
	if len(got) != 2 {
		t.Fatalf("enqueued %d jobs, want 2", len(got))
	}
	if got[0].ID != firstID {
		t.Fatalf("first run id = %q, want %q", got[0].ID, firstID)
	}
	if got[1].ID == firstID {
		t.Fatal("second run reused the first job id")
	}
	if s.Cancel("table-refresh") {
		t.Fatal("Cancel of exhausted entry returned true")
	}
}

func TestScheduleRecurringCancel(t *testing.T) {
	s, rq := newTestService(t)

	if _, err := s.ScheduleRecurring("ticker", time.Now(), 15*time.Millisecond, testSpec("tick"), 0); err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}
	waitFor(t, time.Second, "a few runs", func() bool { return len(rq.enqueued()) >= 2 })
	if !s.Cancel("ticker") {
		t.Fatal("Cancel returned false")
	}
	n := len(rq.enqueued())
	time.Sleep(60 * time.Millisecond)
	if got := len(rq.enqueued()); got > n+1 {
		t.Fatalf("runs continued after cancel: %d -> %d", n, got)
	}
}

func TestScheduleValidation(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.ScheduleOnce("", time.Now(), testSpec("x")); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
	if _, err := s.ScheduleOnce("k", time.Time{}, testSpec("x")); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("err = %v, want ErrInvalidTime", err)
	}
	if _, err := s.ScheduleOnce("k", time.Now(), queue.Spec{Name: "x"}); !errors.Is(err, queue.ErrInvalidSpec) {
		t.Fatalf("err = %v, want ErrInvalidSpec", err)
	}
	if _, err := s.ScheduleRecurring("k", time.Now(), 0, testSpec("x"), 1); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if err := s.AddSchedule("k", "61 * * * *", testSpec("x")); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestAddScheduleRegistersCron(t *testing.T) {
	s, _ := newTestService(t)
	if err := s.AddSchedule("nightly", "0 3 * * *", testSpec("season-statistics")); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("hourly", "1h", testSpec("league-table")); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Entries) != 2 {
		t.Fatalf("entries = %+v", snap.Entries)
	}
	for _, e := range snap.Entries {
		if e.Next.IsZero() {
			t.Fatalf("entry %s has no next run", e.Key)
		}
	}
	if snap.Entries[0].Key != "hourly" || snap.Entries[0].Kind != KindRecurring {
		t.Fatalf("entries[0] = %+v", snap.Entries[0])
	}
	if snap.Entries[1].Kind != KindCron || snap.Entries[1].Next.Hour() != 3 {
		t.Fatalf("entries[1] = %+v", snap.Entries[1])
	}
}

func TestDeferRunsAndCancels(t *testing.T) {
	s, _ := newTestService(t)

	fired := make(chan struct{}, 1)
	s.Defer("retry:a", time.Now().Add(5*time.Millisecond), func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deferred func did not run")
	}

	s.Defer("retry:b", time.Now().Add(time.Hour), func() { t.Error("cancelled func ran") })
	if got := s.Snapshot().PendingRetries; got != 1 {
		t.Fatalf("PendingRetries = %d, want 1", got)
	}
	if !s.CancelDeferred("retry:b") || s.CancelDeferred("retry:b") {
		t.Fatal("CancelDeferred should succeed once")
	}
}

func TestStoppedServiceHoldsOnceEntries(t *testing.T) {
	rq := &recordingQueue{}
	s := New(Config{Timezone: "UTC"}, rq, logx.Nop())
	s.Start(context.Background())
	s.Stop(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	fired := make(chan struct{}, 1)
	if _, err := s.ScheduleOnce("held", time.Now(), testSpec("x")); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	s.Defer("retry:held", time.Now(), func() { fired <- struct{}{} })

	time.Sleep(30 * time.Millisecond)
	if n := len(rq.enqueued()); n != 0 {
		t.Fatalf("stopped service enqueued %d jobs", n)
	}
	select {
	case <-fired:
		t.Fatal("deferred func ran while stopped")
	default:
	}
	if !s.Has("held") || !s.Has("retry:held") {
		t.Fatal("entries dropped while stopped")
	}

	s.Start(context.Background())
	waitFor(t, time.Second, "held entry to fire", func() bool { return len(rq.enqueued()) == 1 })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deferred func did not run after Start")
	}
}

func TestQueueRetriesThroughScheduler(t *testing.T) {
	q := queue.New(queue.Config{RetryBaseDelay: 5 * time.Millisecond}, logx.Nop(), nil)
	s := New(Config{}, q, logx.Nop())
	q.SetDeferrer(s)
	s.Start(context.Background())
	q.Start(context.Background())
	defer func() {
		q.Stop(context.Background())
		s.Stop(context.Background())
	}()

	var (
		mu    sync.Mutex
		calls int
	)
	id, err := q.Enqueue(queue.Spec{
		Name: "flaky",
		Calculator: func(ctx context.Context, _ queue.Payload, _ queue.JobContext) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, queue.Transient(errors.New("connection reset by peer"))
			}
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, "retry to complete", func() bool {
		info, _ := q.Get(id)
		return info.Status == queue.StatusCompleted
	})
	info, _ := q.Get(id)
	if info.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", info.RetryCount)
	}
}
