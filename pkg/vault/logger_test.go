package vault

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// captureHandler is a slog.Handler that captures log records for test assertions
type captureHandler struct {
	records []slog.Record
	mu      sync.Mutex
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{records: make([]slog.Record, 0)}
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *captureHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *captureHandler) getRecords() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]slog.Record, len(h.records))
	copy(result, h.records)
	return result
}

// TestWithLogger_NilSafe verifies operations run without a logger set
func TestWithLogger_NilSafe(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	query, _, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT 1;", "")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}
	if _, err := v.CreateVersion(ctx, query.ID, "SELECT 2;", ""); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if err := v.SoftDeleteQuery(ctx, query.ID); err != nil {
		t.Fatalf("SoftDeleteQuery failed: %v", err)
	}
	// Reaching here without panic is the assertion.
}

// TestWithLogger_Injection verifies WithLogger returns same instance (fluent pattern)
func TestWithLogger_Injection(t *testing.T) {
	v, _ := newTestVault(t)

	logger := slog.New(newCaptureHandler())
	if returned := v.WithLogger(logger); returned != v {
		t.Error("WithLogger() should return same instance for method chaining")
	}
}

// TestWithLogger_NoContentInLogs verifies logs carry ids, never SQL or notes
func TestWithLogger_NoContentInLogs(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	handler := newCaptureHandler()
	v.WithLogger(slog.New(handler))

	query, _, err := v.CreateQueryWithVersion(ctx, "orders", "SELECT password FROM users;", "private note")
	if err != nil {
		t.Fatalf("CreateQueryWithVersion failed: %v", err)
	}
	if _, err := v.CreateVersion(ctx, query.ID, "SELECT password FROM users;", ""); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}

	records := handler.getRecords()
	if len(records) == 0 {
		t.Fatal("Expected log records from create operations")
	}

	sawVersionLog := false
	for _, rec := range records {
		if strings.Contains(rec.Message, "version created") {
			sawVersionLog = true
		}
		rec.Attrs(func(attr slog.Attr) bool {
			val := attr.Value.String()
			if strings.Contains(val, "SELECT") || strings.Contains(val, "private note") {
				t.Errorf("Log attribute %s leaks content: %s", attr.Key, val)
			}
			return true
		})
	}
	if !sawVersionLog {
		t.Error("Expected a 'version created' log record")
	}
}
