package abstract

import "context"

// Sinker applies row events to a target. Each worker of a parallel sink owns
// its Sinker instance exclusively, so implementations need no internal
// locking across batches.
//
// Sink must be idempotent: after a crash the pipeline replays every event
// past the last checkpoint, so inserts are applied as upserts and deletes of
// absent rows succeed. Returned errors are retried a bounded number of times
// by the caller; persistent failure is fatal for the run.
type Sinker interface {
	Sink(ctx context.Context, batch []ChangeEvent) error
	Close() error
}

// RowStore is a point-lookup capability of a store, used by consistency
// checking to fetch the current image of single rows on either side.
type RowStore interface {
	// Get fetches the live row matching the key columns. found is false when
	// the row does not exist; err is reserved for lookup failures.
	Get(ctx context.Context, entity Entity, key map[string]any) (row map[string]any, found bool, err error)
	Close() error
}
