package scheduler_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/tier"
)

func unmarshalHot(blob []byte) (*domain.HotEvent, error) {
	var ev domain.HotEvent
	if err := json.Unmarshal(blob, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func marshalHot(ev *domain.HotEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// fakeD is an in-memory tier.DStore.
type fakeD struct {
	mu   sync.Mutex
	defs map[string]*domain.CronDefinition
	execs []*domain.ExecutionRecord
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.CronDefinition
	for _, d := range f.defs {
		if d.Status == domain.CronActive && !d.NextFire.After(now) {
			cp := *d
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
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
		case "exec_count":
			d.ExecCount = v.(int64)
		case "last_fire":
			t := v.(time.Time)
			d.LastFire = &t
		case "next_fire":
			d.NextFire = v.(time.Time)
		case "status":
			d.Status = v.(domain.CronStatus)
		case "error_count":
			d.ErrorCount = v.(int64)
		case "last_error":
			d.LastError = v.(string)
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
		}
	}
	return nil
}

func (f *fakeD) AppendExecution(ctx context.Context, row *domain.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, row)
	return nil
}

func (f *fakeD) ListExecutions(ctx context.Context, definitionID string, limit int) ([]*domain.ExecutionRecord, error) {
	return nil, nil
}

func (f *fakeD) CountActive(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeD) DeleteByID(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.defs, id)
	return nil
}

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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.DelayedEvent
	for _, r := range f.rows {
		if r.Status == status && !r.ScheduledAt.After(scheduledAtUpper) {
			cp := *r
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
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
		case "promoted_at":
			t := v.(time.Time)
			r.PromotedAt = &t
		case "promoted_key":
			r.PromotedKey = v.(string)
		}
	}
	return true, nil
}

func (f *fakeC) CountByStatus(ctx context.Context) (map[domain.EventStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[domain.EventStatus]int64{}
	for _, r := range f.rows {
		out[r.Status]++
	}
	return out, nil
}

func (f *fakeC) DeleteBefore(ctx context.Context, status domain.EventStatus, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeC) GetStuck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DelayedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.DelayedEvent
	for _, r := range f.rows {
		if r.Status == domain.EventPromoted && r.PromotedAt != nil && r.PromotedAt.Before(olderThan) {
			cp := *r
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeC) Ping(ctx context.Context) error { return nil }

// fakeK is an in-memory tier.KStore.
type fakeK struct {
	mu     sync.Mutex
	values map[string][]byte
	index  map[string]float64
	locks  map[string]tier.LockToken
	lockSeq int
}

func newFakeK() *fakeK {
	return &fakeK{values: map[string][]byte{}, index: map[string]float64{}, locks: map[string]tier.LockToken{}}
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
	ev, err := unmarshalHot(blob)
	if err != nil {
		return false, err
	}
	if ev.Status != from {
		return false, nil
	}
	ev.Status = to
	patch(ev)
	nb, err := marshalHot(ev)
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, score := range f.index {
		if score >= min && score <= max {
			out = append(out, id)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeK) IndexCount(ctx context.Context, min, max float64) (int64, error) {
	ids, err := f.IndexRangeByScore(ctx, min, max, 1<<30)
	return int64(len(ids)), err
}

func (f *fakeK) TryLock(ctx context.Context, id string, ttl time.Duration) (tier.LockToken, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[id]; held {
		return "", false, nil
	}
	f.lockSeq++
	tok := tier.LockToken(itoa(f.lockSeq))
	f.locks[id] = tok
	return tok, true, nil
}

func (f *fakeK) Unlock(ctx context.Context, id string, token tier.LockToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[id] == token {
		delete(f.locks, id)
	}
	return nil
}

func (f *fakeK) Ping(ctx context.Context) error { return nil }

// fakeBus is an in-memory tier.Bus.
type fakeBus struct {
	mu        sync.Mutex
	published []publishedMsg
	publish   func(ctx context.Context, topic string, value []byte, headers map[string]string) (tier.PublishResult, error)
}

type publishedMsg struct {
	topic   string
	value   []byte
	headers map[string]string
}

func (b *fakeBus) Publish(ctx context.Context, topic string, value []byte, headers map[string]string) (tier.PublishResult, error) {
	if b.publish != nil {
		return b.publish(ctx, topic, value, headers)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{topic: topic, value: value, headers: headers})
	return tier.PublishResult{Partition: 0, Offset: int64(len(b.published))}, nil
}

func (b *fakeBus) Ping(ctx context.Context) error { return nil }

// fakeSink is an in-memory scheduler.AnalyticsSink.
type fakeSink struct {
	mu   sync.Mutex
	rows []*domain.AnalyticsRow
}

func (s *fakeSink) Append(ctx context.Context, row *domain.AnalyticsRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// DeleteBefore satisfies scheduler.AnalyticsRetention so fakeSink can stand
// in for both roles in tests.
func (s *fakeSink) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

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
