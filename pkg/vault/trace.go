package vault

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/sqlvault/pkg/trace"
)

// opRecorder accumulates per-stage spans for one operation and flushes
// them to the metrics collector and trace exporter when the operation
// finishes.
type opRecorder struct {
	v     *Vault
	op    string
	start time.Time
	spans []trace.SpanRecord
	ids   map[string]interface{}
}

// startOp begins recording a named operation
func (v *Vault) startOp(op string) *opRecorder {
	return &opRecorder{
		v:     v,
		op:    op,
		start: time.Now(),
	}
}

// setID attaches an identifier to the trace (ids only, never content)
func (r *opRecorder) setID(key string, value interface{}) {
	if r.ids == nil {
		r.ids = make(map[string]interface{})
	}
	r.ids[key] = value
}

// finish records the operation outcome and exports the trace.
func (r *opRecorder) finish(ctx context.Context, err error) {
	durationMs := time.Since(r.start).Milliseconds()

	status := "success"
	errType := ""
	if err != nil {
		status = "error"
		errType = ClassifyError(err)
		r.v.metrics.RecordError(ctx, r.op, errType)
	}
	r.v.metrics.RecordOperation(ctx, r.op, status, durationMs)

	if r.v.tracer == nil {
		return
	}
	record := &trace.TraceRecord{
		Timestamp:   r.start,
		OperationID: uuid.New().String(),
		Operation:   r.op,
		DurationMs:  durationMs,
		Status:      status,
		Spans:       r.spans,
		ErrorType:   errType,
		IDs:         r.ids,
	}
	if exportErr := r.v.tracer.Export(ctx, record); exportErr != nil && r.v.logger != nil {
		r.v.logger.WarnContext(ctx, "trace export failed", "error", exportErr)
	}
}

// stageTimer measures a single stage within an operation
type stageTimer struct {
	rec   *opRecorder
	name  string
	start time.Time
}

// stage begins timing a named stage
func (r *opRecorder) stage(name string) *stageTimer {
	return &stageTimer{
		rec:   r,
		name:  name,
		start: time.Now(),
	}
}

// done completes the stage and records its span
func (st *stageTimer) done(ctx context.Context, err error, counters map[string]int64) {
	durationMs := time.Since(st.start).Milliseconds()

	span := trace.SpanRecord{
		Name:       st.name,
		DurationMs: durationMs,
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.ErrorType = ClassifyError(err)
	}
	st.rec.spans = append(st.rec.spans, span)
	st.rec.v.metrics.RecordStage(ctx, st.rec.op, st.name, durationMs)
}
