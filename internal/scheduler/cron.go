package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextFireAfter resolves a cron expression plus an IANA timezone into the
// next fire time strictly after `after`, per SPEC_FULL.md §5: the expression
// is parsed with cron.ParseStandard (portable, no `CRON_TZ=` prefix
// embedded), and the timezone is applied by evaluating Next against `after`
// converted into that location, then converting the result back to UTC for
// storage.
func NextFireAfter(cronExpr, timezone string, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	localAfter := after.In(loc)
	next := sched.Next(localAfter)
	return next.UTC(), nil
}

// ValidateCron checks that a cron expression and timezone are both
// resolvable, without computing a next-fire time — used by
// ScheduleCronDefinition (§4.1) and the registry loader (§9) to fail fast.
func ValidateCron(cronExpr, timezone string) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return nil
}
