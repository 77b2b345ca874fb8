package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stufio-com/eventsched/internal/domain"
)

// DocumentRepository is the D-tier adapter: cron-recurring schedule
// definitions plus their append-only execution history.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) Find(ctx context.Context, name string) (*domain.CronDefinition, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, event_type, action, default_payload, headers, actor_id,
		       cron_expr, timezone, max_retries, status, manual_override,
		       last_fire, next_fire, exec_count, error_count, last_error,
		       created_at, updated_at
		FROM cron_definitions
		WHERE name = $1`, name)
	return scanCronDefinition(row)
}

func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*domain.CronDefinition, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, event_type, action, default_payload, headers, actor_id,
		       cron_expr, timezone, max_retries, status, manual_override,
		       last_fire, next_fire, exec_count, error_count, last_error,
		       created_at, updated_at
		FROM cron_definitions
		WHERE id = $1`, id)
	return scanCronDefinition(row)
}

// FindDue returns active definitions whose next_fire has passed, locking
// each row so two CronGenerator replicas never fire the same tick twice.
func (r *DocumentRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.CronDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, event_type, action, default_payload, headers, actor_id,
		       cron_expr, timezone, max_retries, status, manual_override,
		       last_fire, next_fire, exec_count, error_count, last_error,
		       created_at, updated_at
		FROM cron_definitions
		WHERE status = 'active' AND next_fire <= $1
		ORDER BY next_fire ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.CronDefinition
	for rows.Next() {
		d, err := scanCronDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (r *DocumentRepository) Create(ctx context.Context, def *domain.CronDefinition) (*domain.CronDefinition, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO cron_definitions (
			name, event_type, action, default_payload, headers, actor_id,
			cron_expr, timezone, max_retries, status, manual_override, next_fire
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, name, event_type, action, default_payload, headers, actor_id,
		          cron_expr, timezone, max_retries, status, manual_override,
		          last_fire, next_fire, exec_count, error_count, last_error,
		          created_at, updated_at`,
		def.Name, def.EventType, def.Action, def.DefaultPayload, def.Headers, def.ActorID,
		def.CronExpr, def.Timezone, def.Retry.MaxRetries, def.Status, def.ManualOverride, def.NextFire,
	)

	created, err := scanCronDefinition(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicate
		}
		return nil, err
	}
	return created, nil
}

// UpdateByID applies a sparse column patch. Keys are expected to be valid
// column names — callers are internal (CronGenerator bookkeeping), never
// user input.
func (r *DocumentRepository) UpdateByID(ctx context.Context, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	set := "updated_at = NOW()"
	args := []any{id}
	for col, val := range patch {
		args = append(args, val)
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}
	query := fmt.Sprintf(`UPDATE cron_definitions SET %s WHERE id = $1`, set)
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *DocumentRepository) AppendExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cron_executions (
			definition_id, fire_time, outcome, generated_id, duration_ms, error
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.DefinitionID, rec.FireTime, rec.Outcome, rec.GeneratedID, rec.Duration.Milliseconds(), rec.Error)
	return err
}

func (r *DocumentRepository) ListExecutions(ctx context.Context, definitionID string, limit int) ([]*domain.ExecutionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, definition_id, fire_time, outcome, generated_id, duration_ms, error, created_at
		FROM cron_executions
		WHERE definition_id = $1
		ORDER BY fire_time DESC
		LIMIT $2`, definitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var recs []*domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.DefinitionID, &rec.FireTime, &rec.Outcome,
			&rec.GeneratedID, &durationMS, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (r *DocumentRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM cron_definitions WHERE status = 'active'`).Scan(&n)
	return n, err
}

func (r *DocumentRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cron_definitions WHERE id = $1`, id)
	return err
}

func (r *DocumentRepository) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cron_executions WHERE fire_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *DocumentRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanCronDefinition(row rowScanner) (*domain.CronDefinition, error) {
	var d domain.CronDefinition
	err := row.Scan(
		&d.ID, &d.Name, &d.EventType, &d.Action, &d.DefaultPayload, &d.Headers, &d.ActorID,
		&d.CronExpr, &d.Timezone, &d.Retry.MaxRetries, &d.Status, &d.ManualOverride,
		&d.LastFire, &d.NextFire, &d.ExecCount, &d.ErrorCount, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan cron definition: %w", err)
	}
	return &d, nil
}
