package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/tier"
)

// ColumnarRepository is the C-tier adapter: the durable, long-horizon
// delayed-event queue. Append-heavy, range-scanned by scheduled_at — a
// relational table with the right indexes stands in for an actual
// column-store, the same substitution the D-tier makes for a document store.
type ColumnarRepository struct {
	pool *pgxpool.Pool
}

func NewColumnarRepository(pool *pgxpool.Pool) *ColumnarRepository {
	return &ColumnarRepository{pool: pool}
}

func (r *ColumnarRepository) Insert(ctx context.Context, row *domain.DelayedEvent) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO delayed_events (
			topic, entity_type, action, entity_id, actor, payload, headers,
			scheduled_at, priority, max_delay_seconds, status, source, source_id,
			correlation_id, retry_count, max_retries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		row.Topic, row.EntityType, row.Action, row.EntityID, row.Actor, row.Payload, row.Headers,
		row.ScheduledAt, row.Priority, row.MaxDelaySecs, row.Status, row.Source, row.SourceID,
		row.CorrelationID, row.RetryCount, row.MaxRetries,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert delayed event: %w", err)
	}
	return id, nil
}

func (r *ColumnarRepository) Get(ctx context.Context, id string) (*domain.DelayedEvent, error) {
	row := r.pool.QueryRow(ctx, columnarSelect+` WHERE id = $1`, id)
	return scanDelayedEvent(row)
}

func (r *ColumnarRepository) RangeScan(ctx context.Context, status domain.EventStatus, scheduledAtUpper time.Time, limit int, order tier.RangeOrder) ([]*domain.DelayedEvent, error) {
	orderBy := "scheduled_at ASC, priority DESC"
	if order != tier.OrderScheduledAtAscPriorityDesc && order != "" {
		return nil, fmt.Errorf("unsupported range order: %s", order)
	}

	query := columnarSelect + fmt.Sprintf(`
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY %s
		LIMIT $3`, orderBy)

	rows, err := r.pool.Query(ctx, query, status, scheduledAtUpper, limit)
	if err != nil {
		return nil, fmt.Errorf("range scan delayed events: %w", err)
	}
	defer rows.Close()

	var out []*domain.DelayedEvent
	for rows.Next() {
		e, err := scanDelayedEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Mutate is the C-tier CAS primitive (§4.3/§4.6): it only applies patch when
// the row's current status still equals fromStatus, so a Promoter and a
// Janitor racing the same stuck row can never both win.
func (r *ColumnarRepository) Mutate(ctx context.Context, id string, fromStatus domain.EventStatus, patch map[string]any) (bool, error) {
	if len(patch) == 0 {
		return true, nil
	}
	set := "updated_at = NOW()"
	args := []any{id, fromStatus}
	for col, val := range patch {
		args = append(args, val)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	query := fmt.Sprintf(`UPDATE delayed_events SET %s WHERE id = $1 AND status = $2`, set)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mutate delayed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ColumnarRepository) CountByStatus(ctx context.Context) (map[domain.EventStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM delayed_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EventStatus]int64)
	for rows.Next() {
		var status domain.EventStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *ColumnarRepository) DeleteBefore(ctx context.Context, status domain.EventStatus, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM delayed_events WHERE status = $1 AND updated_at < $2`, status, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetStuck returns rows left in a non-terminal, non-pending status (promoted
// or processing) past olderThan — candidates for the Janitor's promotion
// integrity sweep (§4.6).
func (r *ColumnarRepository) GetStuck(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DelayedEvent, error) {
	query := columnarSelect + `
		WHERE status IN ('promoted', 'processing') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("get stuck delayed events: %w", err)
	}
	defer rows.Close()

	var out []*domain.DelayedEvent
	for rows.Next() {
		e, err := scanDelayedEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ColumnarRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const columnarSelect = `
	SELECT id, topic, entity_type, action, entity_id, actor, payload, headers,
	       scheduled_at, priority, max_delay_seconds, status, source, source_id,
	       correlation_id, retry_count, max_retries, node_id, lock_until,
	       promoted_at, promoted_key, created_at, updated_at
	FROM delayed_events`

func scanDelayedEvent(row rowScanner) (*domain.DelayedEvent, error) {
	var e domain.DelayedEvent
	err := row.Scan(
		&e.ID, &e.Topic, &e.EntityType, &e.Action, &e.EntityID, &e.Actor, &e.Payload, &e.Headers,
		&e.ScheduledAt, &e.Priority, &e.MaxDelaySecs, &e.Status, &e.Source, &e.SourceID,
		&e.CorrelationID, &e.RetryCount, &e.MaxRetries, &e.NodeID, &e.LockUntil,
		&e.PromotedAt, &e.PromotedKey, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan delayed event: %w", err)
	}
	return &e, nil
}
