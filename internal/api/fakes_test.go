package api_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/tier"
)

// fakeD is an in-memory tier.DStore, mirroring internal/scheduler's test
// fake for the same interface.
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

// fakeC is an in-memory tier.CStore.
type fakeC struct {
	mu   sync.Mutex
	rows map[string]*domain.DelayedEvent
	seq  int
}

func newFakeC() *fakeC { return &fakeC{rows: map[string]*domain.DelayedEvent{}} }

func (f *fakeC) Insert(ctx context.Context, row *domain.DelayedEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *row
	cp.ID = itoa(f.seq)
	f.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeC) Get(ctx context.Context, id string) (*domain.DelayedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeC) RangeScan(ctx context.Context, status domain.EventStatus, scheduledAtUpper time.Time, limit int, order tier.RangeOrder) ([]*domain.DelayedEvent, error) {
	return nil, nil
}

func (f *fakeC) Mutate(ctx context.Context, id string, fromStatus domain.EventStatus, patch map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if r.Status != fromStatus {
		return false, nil
	}
	for k, v := range patch {
		switch k {
		case "status":
			r.Status = v.(domain.EventStatus)
		}
	}
	return true, nil
}

func (f *fakeC) CountByStatus(ctx context.Context) (map[domain.EventStatus]int64, error) {
	return nil, nil
}

func (f *fakeC) DeleteBefore(ctx context.Context, status domain.EventStatus, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeC) GetStuck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DelayedEvent, error) {
	return nil, nil
}

func (f *fakeC) Ping(ctx context.Context) error { return nil }

// fakeK is an in-memory tier.KStore.
type fakeK struct {
	mu     sync.Mutex
	values map[string][]byte
	index  map[string]float64
}

func newFakeK() *fakeK {
	return &fakeK{values: map[string][]byte{}, index: map[string]float64{}}
}

func (f *fakeK) SetValue(ctx context.Context, id string, blob []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[id] = blob
	return nil
}

func (f *fakeK) GetValue(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeK) DeleteValue(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, id)
	return nil
}

func (f *fakeK) CASValueStatus(ctx context.Context, id string, from, to domain.EventStatus, patch func(*domain.HotEvent)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.values[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	var ev domain.HotEvent
	if err := json.Unmarshal(blob, &ev); err != nil {
		return false, err
	}
	if ev.Status != from {
		return false, nil
	}
	ev.Status = to
	patch(&ev)
	nb, err := json.Marshal(&ev)
	if err != nil {
		return false, err
	}
	f.values[id] = nb
	return true, nil
}

func (f *fakeK) IndexAdd(ctx context.Context, id string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index[id] = score
	return nil
}

func (f *fakeK) IndexRemove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.index, id)
	return nil
}

func (f *fakeK) IndexRangeByScore(ctx context.Context, min, max float64, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeK) IndexCount(ctx context.Context, min, max float64) (int64, error) { return 0, nil }

func (f *fakeK) TryLock(ctx context.Context, id string, ttl time.Duration) (tier.LockToken, bool, error) {
	return "", false, nil
}

func (f *fakeK) Unlock(ctx context.Context, id string, token tier.LockToken) error { return nil }

func (f *fakeK) Ping(ctx context.Context) error { return nil }

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
