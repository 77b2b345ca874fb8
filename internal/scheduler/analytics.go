package scheduler

import (
	"context"

	"github.com/stufio-com/eventsched/internal/domain"
)

// AnalyticsSink is the narrow interface every worker writes through (§4.7).
// Satisfied by *postgres.AnalyticsRepository; kept separate from tier.* since
// analytics is append-only and never read back by the engine itself.
type AnalyticsSink interface {
	Append(ctx context.Context, row *domain.AnalyticsRow) error
}
