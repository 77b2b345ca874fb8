package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stufio-com/eventsched/internal/correlation"
	ctxlog "github.com/stufio-com/eventsched/internal/log"
)

func TestContextHandler_InjectsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ctxlog.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := correlation.With(context.Background(), "corr-42")
	logger.InfoContext(ctx, "event dispatched")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["correlation_id"] != "corr-42" {
		t.Fatalf("expected correlation_id=corr-42, got %v", record["correlation_id"])
	}
}

func TestContextHandler_OmitsCorrelationIDWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ctxlog.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "startup")

	if strings.Contains(buf.String(), "correlation_id") {
		t.Fatalf("expected no correlation_id field, got %s", buf.String())
	}
}

func TestContextHandler_WithAttrsPreservesWrapping(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ctxlog.NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("component", "dispatcher")

	ctx := correlation.With(context.Background(), "corr-99")
	logger.InfoContext(ctx, "claimed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["component"] != "dispatcher" {
		t.Fatalf("expected component=dispatcher, got %v", record["component"])
	}
	if record["correlation_id"] != "corr-99" {
		t.Fatalf("expected correlation_id=corr-99, got %v", record["correlation_id"])
	}
}
