package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "descriptor", raw: "@every 1h", kind: SpecCron, source: "cron", cron: "@every 1h"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every hhmm", raw: "every:00:50", kind: SpecInterval, source: "hhmm", duration: 50 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "daily", raw: "daily:03:15", kind: SpecCron, source: "daily", cron: "15 3 * * *"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "-5m", "00:00", "01:75", "daily:25:00", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

func TestIntervalScheduleNext(t *testing.T) {
	t.Parallel()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &intervalSchedule{first: first, every: 20 * time.Millisecond}

	if got := s.Next(first.Add(-time.Hour)); !got.Equal(first) {
		t.Fatalf("Next(before first) = %v, want %v", got, first)
	}
	if got := s.Next(first); !got.Equal(first.Add(20 * time.Millisecond)) {
		t.Fatalf("Next(first) = %v", got)
	}
	if got := s.Next(first.Add(45 * time.Millisecond)); !got.Equal(first.Add(60 * time.Millisecond)) {
		t.Fatalf("Next(first+45ms) = %v", got)
	}
}

func TestSpreadFirstRunBounds(t *testing.T) {
	t.Parallel()
	now := time.Now()
	for _, every := range []time.Duration{time.Second, time.Hour} {
		first, jitter := spreadFirstRun(every, now, "tag")
		max := every
		if max > maxStartupSpread {
			max = maxStartupSpread
		}
		if jitter < 0 || jitter >= max {
			t.Fatalf("jitter %v out of [0,%v)", jitter, max)
		}
		if !first.Equal(now.Add(every + jitter)) {
			t.Fatalf("first = %v, want now+%v", first, every+jitter)
		}
	}
}
