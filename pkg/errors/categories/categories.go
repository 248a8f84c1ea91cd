package categories

// Category buckets errors by the recovery policy applied to them. The rule of
// thumb is that config and journal errors stop the process, everything else
// degrades.
type Category string

const (
	// Config errors are fatal before any work starts.
	Config Category = "config"
	// Parse covers single malformed journal or resume-config lines; the line
	// is skipped with a warning.
	Parse Category = "parse"
	// Extract and Sink cover per-batch source/target failures, retried with
	// bounded backoff before becoming fatal.
	Extract Category = "extract"
	Sink    Category = "sink"
	// Lookup covers per-entry point-read failures during review; the entry is
	// reported as errored, the pass continues.
	Lookup Category = "lookup"
	// Journal covers checkpoint flush failures, always fatal: a lost flush
	// risks silent re-processing on the next resume.
	Journal Category = "journal"
)
