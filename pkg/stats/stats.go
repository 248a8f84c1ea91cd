package stats

import (
	"time"

	"go.ytsaurus.tech/library/go/core/metrics"
)

// PipelineStats counts event flow through one run of the orchestration loop.
type PipelineStats struct {
	registry metrics.Registry

	Extracted  metrics.Counter
	Sinked     metrics.Counter
	Finished   metrics.Counter
	Flushes    metrics.Counter
	BufferLen  metrics.Gauge
	RoundBatch metrics.Timer
}

func NewPipelineStats(r metrics.Registry) *PipelineStats {
	rWT := r.WithTags(map[string]string{"component": "pipeline"})
	return &PipelineStats{
		registry: rWT,

		Extracted:  rWT.Counter("pipeline.events.extracted"),
		Sinked:     rWT.Counter("pipeline.events.sinked"),
		Finished:   rWT.Counter("pipeline.entities.finished"),
		Flushes:    rWT.Counter("pipeline.checkpoint.flushes"),
		BufferLen:  rWT.Gauge("pipeline.buffer.len"),
		RoundBatch: rWT.DurationHistogram("pipeline.round.elapsed", MillisecondDurationBuckets()),
	}
}

// SinkerStats counts batches applied by parallel workers; one instance is
// shared by all workers of a run, counters are concurrency-safe.
type SinkerStats struct {
	registry metrics.Registry

	Batches metrics.Counter
	Rows    metrics.Counter
	Retries metrics.Counter
	Errors  metrics.Counter
	Elapsed metrics.Timer
}

func NewSinkerStats(r metrics.Registry) *SinkerStats {
	rWT := r.WithTags(map[string]string{"component": "sinker"})
	return &SinkerStats{
		registry: rWT,

		Batches: rWT.Counter("sinker.batches"),
		Rows:    rWT.Counter("sinker.rows"),
		Retries: rWT.Counter("sinker.retries"),
		Errors:  rWT.Counter("sinker.errors"),
		Elapsed: rWT.DurationHistogram("sinker.batch.elapsed", MillisecondDurationBuckets()),
	}
}

// CheckStats counts consistency findings across check, review and revise
// passes.
type CheckStats struct {
	registry metrics.Registry

	Compared      metrics.Counter
	Diff          metrics.Counter
	Miss          metrics.Counter
	Resolved      metrics.Counter
	Confirmed     metrics.Counter
	SourceMissing metrics.Counter
	Errors        metrics.Counter
	Revised       metrics.Counter
}

func NewCheckStats(r metrics.Registry) *CheckStats {
	rWT := r.WithTags(map[string]string{"component": "checker"})
	return &CheckStats{
		registry: rWT,

		Compared:      rWT.Counter("checker.rows.compared"),
		Diff:          rWT.Counter("checker.rows.diff"),
		Miss:          rWT.Counter("checker.rows.miss"),
		Resolved:      rWT.Counter("checker.rows.resolved"),
		Confirmed:     rWT.Counter("checker.rows.confirmed"),
		SourceMissing: rWT.Counter("checker.rows.source_missing"),
		Errors:        rWT.Counter("checker.rows.errors"),
		Revised:       rWT.Counter("checker.rows.revised"),
	}
}

// MillisecondDurationBuckets returns buckets adapted for durations between 1 millisecond and 1 second.
func MillisecondDurationBuckets() metrics.DurationBuckets {
	return metrics.NewDurationBuckets(
		500*time.Microsecond,
		1*time.Millisecond,
		5*time.Millisecond,
		10*time.Millisecond,
		50*time.Millisecond,
		100*time.Millisecond,
		200*time.Millisecond,
		400*time.Millisecond,
		800*time.Millisecond,
		1*time.Second,
	)
}
