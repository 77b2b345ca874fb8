// Package registry implements the data-driven event-definition registry
// (§9's redesign note, SPEC_FULL.md §8): a static YAML manifest of cron
// schedule definitions synced into D-tier on startup, never clobbering
// attributes an admin has since overridden by hand.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/scheduler"
	"github.com/stufio-com/eventsched/internal/tier"
)

// Entry is one manifest row (SPEC_FULL.md §8).
type Entry struct {
	Name       string            `yaml:"name"`
	EventType  string            `yaml:"event_type"`
	Action     string            `yaml:"action"`
	Cron       string            `yaml:"cron"`
	Timezone   string            `yaml:"timezone"`
	Payload    string            `yaml:"payload"`
	ActorID    string            `yaml:"actor_id"`
	Headers    map[string]string `yaml:"headers"`
	RetryPolicy struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"retry_policy"`
}

// Manifest is the root document: a flat list of Entry.
type Manifest struct {
	Definitions []Entry `yaml:"definitions"`
}

// Load reads and parses a manifest file. It does not touch D-tier.
func Load(path string) (*Manifest, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Syncer upserts a loaded Manifest into D-tier.
type Syncer struct {
	d      tier.DStore
	logger *slog.Logger
}

func NewSyncer(d tier.DStore, logger *slog.Logger) *Syncer {
	return &Syncer{d: d, logger: logger.With("component", "registry")}
}

// SyncResult summarizes one Sync call, per SPEC_FULL.md §8's "skipped and
// logged, never silently dropped" requirement.
type SyncResult struct {
	Created int
	Updated int
	Skipped []SkippedEntry
}

type SkippedEntry struct {
	Name   string
	Reason string
}

// Sync upserts every entry in m into D-tier (SPEC_FULL.md §8): cron/timezone
// validity is checked first so a bad entry never reaches the store; an
// entry that already exists has every attribute the admin has NOT
// overridden (per CronDefinition.ManualOverride) refreshed from the
// manifest, and overridden attributes left untouched.
func (s *Syncer) Sync(ctx context.Context, m *Manifest) SyncResult {
	var result SyncResult

	for _, entry := range m.Definitions {
		if err := scheduler.ValidateCron(entry.Cron, entry.Timezone); err != nil {
			s.logger.Warn("registry entry skipped: invalid cron/timezone", "name", entry.Name, "error", err)
			result.Skipped = append(result.Skipped, SkippedEntry{Name: entry.Name, Reason: err.Error()})
			continue
		}

		existing, err := s.d.Find(ctx, entry.Name)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("registry entry skipped: lookup failed", "name", entry.Name, "error", err)
			result.Skipped = append(result.Skipped, SkippedEntry{Name: entry.Name, Reason: err.Error()})
			continue
		}

		if existing == nil {
			if err := s.create(ctx, entry); err != nil {
				s.logger.Error("registry entry skipped: create failed", "name", entry.Name, "error", err)
				result.Skipped = append(result.Skipped, SkippedEntry{Name: entry.Name, Reason: err.Error()})
				continue
			}
			result.Created++
			continue
		}

		if err := s.update(ctx, existing, entry); err != nil {
			s.logger.Error("registry entry skipped: update failed", "name", entry.Name, "error", err)
			result.Skipped = append(result.Skipped, SkippedEntry{Name: entry.Name, Reason: err.Error()})
			continue
		}
		result.Updated++
	}

	return result
}

func (s *Syncer) create(ctx context.Context, entry Entry) error {
	def := &domain.CronDefinition{
		Name:           entry.Name,
		EventType:      entry.EventType,
		Action:         entry.Action,
		DefaultPayload: entry.Payload,
		Headers:        entry.Headers,
		ActorID:        entry.ActorID,
		CronExpr:       entry.Cron,
		Timezone:       entry.Timezone,
		Retry:          domain.RetryPolicy{MaxRetries: entry.RetryPolicy.MaxRetries},
		Status:         domain.CronActive,
		ManualOverride: map[string]bool{},
	}

	next, err := scheduler.NextFireAfter(entry.Cron, entry.Timezone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("compute next fire: %w", err)
	}
	def.NextFire = next

	_, err = s.d.Create(ctx, def)
	return err
}

// update refreshes only attributes the admin has not overridden, per
// def.ManualOverride — an empty/nil override map means every attribute is
// still manifest-owned.
func (s *Syncer) update(ctx context.Context, existing *domain.CronDefinition, entry Entry) error {
	patch := map[string]any{}

	setUnlessOverridden := func(field string, value any) {
		if existing.ManualOverride[field] {
			return
		}
		patch[field] = value
	}

	setUnlessOverridden("event_type", entry.EventType)
	setUnlessOverridden("action", entry.Action)
	setUnlessOverridden("default_payload", entry.Payload)
	setUnlessOverridden("headers", entry.Headers)
	setUnlessOverridden("actor_id", entry.ActorID)
	setUnlessOverridden("max_retries", entry.RetryPolicy.MaxRetries)

	cronChanged := !existing.ManualOverride["cron_expr"] && entry.Cron != existing.CronExpr
	tzChanged := !existing.ManualOverride["timezone"] && entry.Timezone != existing.Timezone
	if cronChanged {
		patch["cron_expr"] = entry.Cron
	}
	if tzChanged {
		patch["timezone"] = entry.Timezone
	}
	if cronChanged || tzChanged {
		cronExpr, tz := existing.CronExpr, existing.Timezone
		if cronChanged {
			cronExpr = entry.Cron
		}
		if tzChanged {
			tz = entry.Timezone
		}
		next, err := scheduler.NextFireAfter(cronExpr, tz, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("recompute next fire: %w", err)
		}
		patch["next_fire"] = next
	}

	if len(patch) == 0 {
		return nil
	}
	return s.d.UpdateByID(ctx, existing.ID, patch)
}
