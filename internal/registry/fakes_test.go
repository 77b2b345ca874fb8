package registry_test

import (
	"context"
	"sync"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
)

// fakeD is an in-memory tier.DStore covering only the methods
// registry.Syncer exercises (Find, Create, UpdateByID).
type fakeD struct {
	mu   sync.Mutex
	defs map[string]*domain.CronDefinition
	seq  int
}

func newFakeD() *fakeD { return &fakeD{defs: map[string]*domain.CronDefinition{}} }

func (f *fakeD) Find(ctx context.Context, name string) (*domain.CronDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.defs {
		if d.Name == name {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeD) FindByID(ctx context.Context, id string) (*domain.CronDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.defs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeD) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.CronDefinition, error) {
	return nil, nil
}

func (f *fakeD) Create(ctx context.Context, def *domain.CronDefinition) (*domain.CronDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *def
	cp.ID = itoa(f.seq)
	f.defs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeD) UpdateByID(ctx context.Context, id string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.defs[id]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range patch {
		switch k {
		case "event_type":
			d.EventType = v.(string)
		case "action":
			d.Action = v.(string)
		case "default_payload":
			d.DefaultPayload = v.(string)
		case "headers":
			d.Headers = v.(map[string]string)
		case "actor_id":
			d.ActorID = v.(string)
		case "max_retries":
			d.Retry.MaxRetries = v.(int)
		case "cron_expr":
			d.CronExpr = v.(string)
		case "timezone":
			d.Timezone = v.(string)
		case "next_fire":
			d.NextFire = v.(time.Time)
		}
	}
	return nil
}

func (f *fakeD) AppendExecution(ctx context.Context, row *domain.ExecutionRecord) error { return nil }

func (f *fakeD) ListExecutions(ctx context.Context, definitionID string, limit int) ([]*domain.ExecutionRecord, error) {
	return nil, nil
}

func (f *fakeD) CountActive(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeD) DeleteByID(ctx context.Context, id string) error { return nil }

func (f *fakeD) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeD) Ping(ctx context.Context) error { return nil }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
