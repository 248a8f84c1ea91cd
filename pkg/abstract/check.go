package abstract

import (
	"encoding/json"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

// CheckRecordType tags one consistency finding. Check passes emit Diff and
// Miss; review passes consume them and emit the four classifications.
type CheckRecordType string

const (
	// CheckDiff: the row exists on both sides with different values.
	CheckDiff CheckRecordType = "Diff"
	// CheckMiss: the row exists at the source but not at the target.
	CheckMiss CheckRecordType = "Miss"

	// CheckResolved: both sides match now, the finding aged out.
	CheckResolved CheckRecordType = "Resolved"
	// CheckConfirmed: still mismatched, candidate for a revise pass.
	CheckConfirmed CheckRecordType = "Confirmed"
	// CheckSourceMissing: the source row vanished since the check.
	CheckSourceMissing CheckRecordType = "SourceMissing"
	// CheckError: a live lookup failed, reported rather than dropped.
	CheckError CheckRecordType = "Error"
)

var knownCheckRecordTypes = map[CheckRecordType]bool{
	CheckDiff:          true,
	CheckMiss:          true,
	CheckResolved:      true,
	CheckConfirmed:     true,
	CheckSourceMissing: true,
	CheckError:         true,
}

// CheckRecord is one line of a check log: a finding about a single row,
// keyed by entity plus key column values. Review output reuses the same
// shape, so a review artifact feeds straight into a revise pass.
type CheckRecord struct {
	Type   CheckRecordType `json:"type"`
	DBType DBType          `json:"db_type"`
	Schema string          `json:"schema"`
	Table  string          `json:"tb"`
	Key    map[string]any  `json:"key"`
	Source map[string]any  `json:"src,omitempty"`
	Target map[string]any  `json:"dst,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (r CheckRecord) Entity() Entity {
	return Entity{DBType: r.DBType, Schema: r.Schema, Table: r.Table}
}

func (r CheckRecord) KeyCols() []string {
	cols := make([]string, 0, len(r.Key))
	for col := range r.Key {
		cols = append(cols, col)
	}
	return cols
}

func (r CheckRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseCheckRecord decodes one check-log line. Unknown type tags are a parse
// error, not a silent skip: a new record type must never be dropped by an old
// reader without a trace.
func ParseCheckRecord(raw []byte) (CheckRecord, error) {
	var record CheckRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return CheckRecord{}, xerrors.Errorf("unable to parse check record: %w", err)
	}
	if !knownCheckRecordTypes[record.Type] {
		return CheckRecord{}, xerrors.Errorf("unknown check record type: %q", record.Type)
	}
	return record, nil
}

// CheckRecordEvent wraps one replayed check-log record for the pipeline.
func CheckRecordEvent(record CheckRecord) ChangeEvent {
	return ChangeEvent{
		Kind:    CheckRecordKind,
		Entity:  record.Entity(),
		KeyCols: record.KeyCols(),
		Check:   &record,
	}
}
