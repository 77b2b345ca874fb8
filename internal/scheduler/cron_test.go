package scheduler_test

import (
	"testing"
	"time"

	"github.com/stufio-com/eventsched/internal/scheduler"
)

func TestNextFireAfter_DailyUTC(t *testing.T) {
	after := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	next, err := scheduler.NextFireAfter("0 2 * * *", "UTC", after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 7, 30, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextFireAfter_NoCatchUp(t *testing.T) {
	// A fire time that already passed yields the *next* occurrence, never
	// the missed one — "no catch-up", see the cron catch-up decision in
	// DESIGN.md.
	after := time.Date(2026, 7, 29, 3, 0, 0, 0, time.UTC)
	next, err := scheduler.NextFireAfter("0 2 * * *", "UTC", after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.After(after) {
		t.Fatalf("next fire %v must be after %v", next, after)
	}
	if next.Day() != after.Day()+1 {
		t.Fatalf("expected next fire tomorrow, got %v", next)
	}
}

func TestNextFireAfter_Timezone(t *testing.T) {
	after := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	next, err := scheduler.NextFireAfter("0 9 * * *", "America/New_York", after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 9am New York in July (EDT, UTC-4) is 13:00 UTC.
	if next.Hour() != 13 {
		t.Fatalf("expected 13:00 UTC, got %v", next)
	}
}

func TestNextFireAfter_BadExpr(t *testing.T) {
	if _, err := scheduler.NextFireAfter("not a cron", "UTC", time.Now()); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestNextFireAfter_BadTimezone(t *testing.T) {
	if _, err := scheduler.NextFireAfter("0 2 * * *", "Not/AZone", time.Now()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestValidateCron(t *testing.T) {
	if err := scheduler.ValidateCron("*/5 * * * *", "UTC"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := scheduler.ValidateCron("garbage", "UTC"); err == nil {
		t.Fatal("expected error for malformed expression")
	}
	if err := scheduler.ValidateCron("*/5 * * * *", "Nowhere/Real"); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
