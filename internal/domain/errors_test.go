package domain_test

import (
	"errors"
	"testing"

	"github.com/stufio-com/eventsched/internal/domain"
)

func TestClassificationOf_ClassifiedError(t *testing.T) {
	err := domain.Classify(domain.ClassTimeout, errors.New("deadline exceeded"))
	if got := domain.ClassificationOf(err); got != domain.ClassTimeout {
		t.Fatalf("expected %s, got %s", domain.ClassTimeout, got)
	}
}

func TestClassificationOf_WrappedClassifiedError(t *testing.T) {
	inner := domain.Classify(domain.ClassTransientTransport, errors.New("broker down"))
	wrapped := errors.Join(errors.New("publish failed"), inner)
	if got := domain.ClassificationOf(wrapped); got != domain.ClassTransientTransport {
		t.Fatalf("expected classification to survive wrapping, got %s", got)
	}
}

func TestClassificationOf_UnclassifiedDefaultsToFatal(t *testing.T) {
	if got := domain.ClassificationOf(errors.New("some plain error")); got != domain.ClassFatal {
		t.Fatalf("expected unclassified error to default to fatal, got %s", got)
	}
}

func TestClassifiedError_ErrorString(t *testing.T) {
	err := domain.Classify(domain.ClassValidation, errors.New("bad input"))
	if err.Error() != "validation: bad input" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}

	bare := domain.Classify(domain.ClassFatal, nil)
	if bare.Error() != "fatal" {
		t.Fatalf("unexpected bare error string: %q", bare.Error())
	}
}

func TestClampNonNegative(t *testing.T) {
	if got := domain.ClampNonNegative(-500); got != 0 {
		t.Fatalf("expected negative value clamped to 0, got %d", got)
	}
	if got := domain.ClampNonNegative(500); got != 500 {
		t.Fatalf("expected positive value unchanged, got %d", got)
	}
	if got := domain.ClampNonNegative(0); got != 0 {
		t.Fatalf("expected zero to stay zero, got %d", got)
	}
}
