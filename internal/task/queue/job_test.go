package queue

import (
	"strings"
	"testing"
	"time"
)

func TestJobTransitions(t *testing.T) {
	t.Parallel()
	j := &job{status: StatusPending, maxRetries: 1}
	if j.setStatus(StatusCompleted) {
		t.Fatal("pending -> completed allowed")
	}
	if !j.setStatus(StatusRunning) || !j.setStatus(StatusFailed) {
		t.Fatal("pending -> running -> failed refused")
	}
	if !j.recycle() || j.status != StatusPending || j.retryCount != 1 {
		t.Fatalf("recycle: status=%s retry=%d", j.status, j.retryCount)
	}
	j.setStatus(StatusRunning)
	j.setStatus(StatusTimeout)
	if j.recycle() {
		t.Fatal("recycle beyond maxRetries")
	}
	if j.setStatus(StatusRunning) {
		t.Fatal("timeout -> running allowed")
	}
}

func TestNewJobID(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := NewJobID("Season Statistics", "op 7", now)
	if !strings.HasPrefix(id, "season-statistics_op-7_1700000000000_") {
		t.Fatalf("id = %q", id)
	}
	if len(id) != len("season-statistics_op-7_1700000000000_")+8 {
		t.Fatalf("id suffix length: %q", id)
	}
	if NewJobID("x", "", now) == NewJobID("x", "", now) {
		t.Fatal("ids collide")
	}
}
