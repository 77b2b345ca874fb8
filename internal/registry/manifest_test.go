package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSync_CreatesNewEntry(t *testing.T) {
	d := newFakeD()
	s := registry.NewSyncer(d, discardLogger())

	result := s.Sync(context.Background(), &registry.Manifest{
		Definitions: []registry.Entry{
			{Name: "nightly-report", EventType: "reports.generate", Action: "run", Cron: "0 2 * * *", Timezone: "UTC"},
		},
	})

	if result.Created != 1 {
		t.Fatalf("expected 1 created entry, got %d (skipped: %+v)", result.Created, result.Skipped)
	}
	def, err := d.Find(context.Background(), "nightly-report")
	if err != nil {
		t.Fatalf("find created definition: %v", err)
	}
	if def.NextFire.IsZero() {
		t.Fatal("expected a computed next fire time")
	}
}

func TestSync_SkipsInvalidCronExpr(t *testing.T) {
	d := newFakeD()
	s := registry.NewSyncer(d, discardLogger())

	result := s.Sync(context.Background(), &registry.Manifest{
		Definitions: []registry.Entry{
			{Name: "broken", EventType: "x", Action: "y", Cron: "not a cron", Timezone: "UTC"},
		},
	})

	if result.Created != 0 || result.Updated != 0 {
		t.Fatalf("expected nothing created or updated, got %+v", result)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Name != "broken" {
		t.Fatalf("expected the broken entry recorded as skipped, got %+v", result.Skipped)
	}
	if _, err := d.Find(context.Background(), "broken"); err == nil {
		t.Fatal("expected no definition created for a skipped entry")
	}
}

func TestSync_UpdatesUnoverriddenFields(t *testing.T) {
	d := newFakeD()
	s := registry.NewSyncer(d, discardLogger())

	created, err := d.Create(context.Background(), &domain.CronDefinition{
		Name: "nightly-report", EventType: "old.type", Action: "old-action",
		CronExpr: "0 3 * * *", Timezone: "UTC", Status: domain.CronActive,
		ManualOverride: map[string]bool{},
	})
	if err != nil {
		t.Fatalf("seed existing definition: %v", err)
	}

	result := s.Sync(context.Background(), &registry.Manifest{
		Definitions: []registry.Entry{
			{Name: "nightly-report", EventType: "new.type", Action: "new-action", Cron: "0 2 * * *", Timezone: "UTC"},
		},
	})

	if result.Updated != 1 {
		t.Fatalf("expected 1 updated entry, got %d (skipped: %+v)", result.Updated, result.Skipped)
	}
	updated, err := d.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find updated definition: %v", err)
	}
	if updated.EventType != "new.type" || updated.Action != "new-action" {
		t.Fatalf("expected manifest-owned fields refreshed, got %+v", updated)
	}
	if updated.CronExpr != "0 2 * * *" {
		t.Fatalf("expected cron expr refreshed, got %q", updated.CronExpr)
	}
}

func TestSync_PreservesManuallyOverriddenCron(t *testing.T) {
	d := newFakeD()
	s := registry.NewSyncer(d, discardLogger())

	created, err := d.Create(context.Background(), &domain.CronDefinition{
		Name: "nightly-report", EventType: "reports.generate", Action: "run",
		CronExpr: "0 5 * * *", Timezone: "America/New_York", Status: domain.CronActive,
		ManualOverride: map[string]bool{"cron_expr": true, "timezone": true},
	})
	if err != nil {
		t.Fatalf("seed existing definition: %v", err)
	}

	result := s.Sync(context.Background(), &registry.Manifest{
		Definitions: []registry.Entry{
			{Name: "nightly-report", EventType: "reports.generate", Action: "run", Cron: "0 2 * * *", Timezone: "UTC"},
		},
	})

	if result.Updated != 1 {
		t.Fatalf("expected 1 updated entry, got %d (skipped: %+v)", result.Updated, result.Skipped)
	}
	updated, err := d.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find updated definition: %v", err)
	}
	if updated.CronExpr != "0 5 * * *" || updated.Timezone != "America/New_York" {
		t.Fatalf("expected manually overridden cron/timezone left untouched, got %+v", updated)
	}
}
