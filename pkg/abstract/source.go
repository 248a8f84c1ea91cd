package abstract

import "context"

// PushFunc hands one event to the pipeline buffer. It blocks while the buffer
// is full, which is how backpressure reaches extractors, and fails only when
// the run is shutting down.
type PushFunc func(ctx context.Context, event ChangeEvent) error

// ResumeValue is the exclusive lower bound for a resumed entity scan: rows
// with OrderCol <= Value were applied by a previous run.
type ResumeValue struct {
	OrderCol string
	Value    string
}

// SnapshotSource reads full entity contents in order-column order.
//
// Implementations retry transient read errors internally with backoff and
// return only after retries are exhausted; a returned error fails the run.
type SnapshotSource interface {
	// Entities lists everything the source can snapshot, before filtering.
	Entities(ctx context.Context) ([]Entity, error)

	// OrderColumn reports the single-column primary or unique key usable for
	// ordered keyset scans. ok is false for entities without one; such
	// entities can only be copied whole and never produce position records.
	OrderColumn(ctx context.Context, entity Entity) (col string, ok bool, err error)

	// Scan streams the entity as insert events in order-column order,
	// starting strictly after resume.Value when resume is non-nil, reading
	// batchSize rows per round trip, and pushes a terminal entity-done event.
	Scan(ctx context.Context, entity Entity, resume *ResumeValue, batchSize int, push PushFunc) error

	Close()
}

// RowCounter is an optional SnapshotSource capability used to log scan
// volume estimates before a snapshot starts.
type RowCounter interface {
	EstimateRows(ctx context.Context, entity Entity) (uint64, error)
}

// ChangeSource streams live changes. Stream blocks until ctx is canceled or
// the stream breaks, emitting commit events with CdcPositions on transaction
// boundaries so the pipeline can checkpoint.
type ChangeSource interface {
	Stream(ctx context.Context, from *CdcPosition, push PushFunc) error
	Close()
}
