package trigger

import (
	"testing"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(domain.Trigger{Kind: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}

func TestCronTrigger_Next(t *testing.T) {
	tr, err := New(domain.Trigger{Kind: domain.TriggerCron, Crontab: "0 * * * *"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	after := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	next, ok := tr.Next(after)
	if !ok {
		t.Fatal("expected ok")
	}
	want := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestCronTrigger_MutuallyExclusive(t *testing.T) {
	_, err := New(domain.Trigger{Kind: domain.TriggerCron, Crontab: "* * * * *", Minute: "5"})
	if err == nil {
		t.Fatal("expected error when crontab and fields both set")
	}
}

func TestCronTrigger_RespectsEnd(t *testing.T) {
	end := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	tr, err := New(domain.Trigger{Kind: domain.TriggerCron, Crontab: "0 * * * *", CronEnd: &end})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := tr.Next(time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)); ok {
		t.Error("expected no more fire times past CronEnd")
	}
}

func TestIntervalTrigger_Next(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := New(domain.Trigger{Kind: domain.TriggerInterval, Minutes: 30, IntervalStart: &anchor})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next, ok := tr.Next(anchor.Add(10 * time.Minute))
	if !ok {
		t.Fatal("expected ok")
	}
	want := anchor.Add(30 * time.Minute)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestIntervalTrigger_RequiresPositivePeriod(t *testing.T) {
	if _, err := New(domain.Trigger{Kind: domain.TriggerInterval}); err == nil {
		t.Fatal("expected error for zero period")
	}
}

func TestCalendarIntervalTrigger_ClampsEndOfMonth(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	tr, err := New(domain.Trigger{Kind: domain.TriggerCalendarInterval, Months: 1, CalStartDate: &start})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next, ok := tr.Next(start)
	if !ok {
		t.Fatal("expected ok")
	}
	if next.Month() != time.February || next.Day() != 28 {
		t.Errorf("Next = %v, want Feb 28 2026 (clamped)", next)
	}
}

func TestDateTrigger_FiresOnce(t *testing.T) {
	runAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tr, err := New(domain.Trigger{Kind: domain.TriggerDate, RunAt: runAt})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next, ok := tr.Next(runAt.Add(-time.Minute))
	if !ok || !next.Equal(runAt) {
		t.Errorf("Next before run_at = %v, %v, want %v, true", next, ok, runAt)
	}
	if _, ok := tr.Next(runAt); ok {
		t.Error("expected no more fire times after run_at already passed")
	}
}

func TestDateTrigger_RequiresRunAt(t *testing.T) {
	if _, err := New(domain.Trigger{Kind: domain.TriggerDate}); err == nil {
		t.Fatal("expected error for zero RunAt")
	}
}
