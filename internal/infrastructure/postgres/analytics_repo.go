package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stufio-com/eventsched/internal/domain"
)

// AnalyticsRepository is the append-only sink for AnalyticsRow (§3, §4.7).
// Every tier writes through it on a state transition; nothing ever updates
// or deletes a row except the retention sweep.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

func (r *AnalyticsRepository) Append(ctx context.Context, row *domain.AnalyticsRow) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO analytics_rows (
			origin_tier, schedule_id, event_id, correlation_id, topic, action,
			scheduled_at, started_processing_at, completed_at, result, retry_count,
			time_in_c_queue_ms, time_in_k_queue_ms, total_ms,
			bus_topic, bus_partition, bus_offset, processing_node, error, level
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		row.OriginTier, row.ScheduleID, row.EventID, row.CorrelationID, row.Topic, row.Action,
		row.ScheduledAt, row.StartedProcessingAt, row.CompletedAt, row.Result, row.RetryCount,
		row.TimeInCQueueMS, row.TimeInKQueueMS, row.TotalMS,
		row.BusTopic, row.BusPartition, row.BusOffset, row.ProcessingNode, row.Error, row.Level,
	)
	if err != nil {
		return fmt.Errorf("append analytics row: %w", err)
	}
	return nil
}

func (r *AnalyticsRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM analytics_rows WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Summary is the aggregate view backing the /stats operational surface
// (§4.7, SPEC_FULL.md §7): per-result counts and average queue durations
// over a trailing window.
type Summary struct {
	ResultCounts   map[domain.ExecutionResult]int64
	AvgCQueueMS    float64
	AvgKQueueMS    float64
	AvgTotalMS     float64
}

func (r *AnalyticsRepository) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	sum := &Summary{ResultCounts: make(map[domain.ExecutionResult]int64)}

	rows, err := r.pool.Query(ctx, `
		SELECT result, count(*)
		FROM analytics_rows
		WHERE created_at >= $1
		GROUP BY result`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize result counts: %w", err)
	}
	for rows.Next() {
		var result domain.ExecutionResult
		var n int64
		if err := rows.Scan(&result, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan result count: %w", err)
		}
		sum.ResultCounts[result] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT coalesce(avg(time_in_c_queue_ms), 0),
		       coalesce(avg(time_in_k_queue_ms), 0),
		       coalesce(avg(total_ms), 0)
		FROM analytics_rows
		WHERE created_at >= $1`, since).Scan(&sum.AvgCQueueMS, &sum.AvgKQueueMS, &sum.AvgTotalMS)
	if err != nil {
		return nil, fmt.Errorf("summarize queue durations: %w", err)
	}

	return sum, nil
}
