package metrics

import "context"

// Collector is the interface for metrics collection.
// Implementations include the Prometheus-backed collector and a
// no-op collector for callers that opt out.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	RecordDedup(ctx context.Context, outcome string)
	SetStorageCount(ctx context.Context, storageType string, count int64)
}

// Dedup outcomes recorded by the versioning write path.
const (
	DedupHit  = "hit"  // content digest already stored, blob write skipped
	DedupMiss = "miss" // first time this digest was seen
)
