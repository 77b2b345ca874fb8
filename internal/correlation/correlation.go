// Package correlation carries the schedule/event correlation id through
// context, so every tier's log line and the published bus message can be
// traced back to one firing.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a fresh correlation id for an event that doesn't carry one in yet.
func New() string {
	return uuid.NewString()
}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the correlation id from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
