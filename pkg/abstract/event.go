package abstract

import "fmt"

// Kind classifies what a ChangeEvent carries.
type Kind string

const (
	// InsertKind, UpdateKind and DeleteKind are row events applied to sinks.
	InsertKind Kind = "insert"
	UpdateKind Kind = "update"
	DeleteKind Kind = "delete"

	// CommitKind is a change-stream barrier carrying a CdcPosition. It is
	// never dispatched to sinks; the pipeline turns it into a checkpoint.
	CommitKind Kind = "commit"

	// EntityDoneKind terminates an entity snapshot scan and carries a
	// FinishedPosition.
	EntityDoneKind Kind = "entity_done"

	// CheckRecordKind replays one check-log record through review or revise.
	CheckRecordKind Kind = "check_record"
)

// ChangeEvent is the unit flowing from extractors through the buffer to
// sinks. Events of one entity must stay in extraction order end to end.
type ChangeEvent struct {
	Kind   Kind
	Entity Entity

	// Before holds the pre-image on update and delete, at minimum the key
	// columns. After holds the row values on insert and update.
	Before map[string]any
	After  map[string]any

	// KeyCols names the identity columns inside Before/After. Row events of
	// entities without a usable key leave it empty.
	KeyCols []string

	// Position is the source progress once this event is acknowledged.
	Position Position

	// Check carries the replayed record on CheckRecordKind events.
	Check *CheckRecord
}

// IsRowEvent reports whether the event mutates target data.
func (e ChangeEvent) IsRowEvent() bool {
	switch e.Kind {
	case InsertKind, UpdateKind, DeleteKind:
		return true
	default:
		return false
	}
}

// KeyValues extracts the identity column values, preferring the pre-image so
// that updates route by the row they replace.
func (e ChangeEvent) KeyValues() map[string]any {
	if len(e.KeyCols) == 0 {
		return nil
	}
	src := e.Before
	if len(src) == 0 {
		src = e.After
	}
	key := make(map[string]any, len(e.KeyCols))
	for _, col := range e.KeyCols {
		key[col] = src[col]
	}
	return key
}

// KeyID is the stable routing identity of the row within its entity. It is
// hashed by key-level parallel routing and never persisted.
func (e ChangeEvent) KeyID() string {
	key := e.KeyValues()
	if key == nil {
		return ""
	}
	id := e.Entity.ID()
	for _, col := range e.KeyCols {
		id += "\x00" + col + "=" + fmt.Sprint(key[col])
	}
	return id
}

func InsertEvent(entity Entity, after map[string]any, keyCols []string, pos Position) ChangeEvent {
	return ChangeEvent{Kind: InsertKind, Entity: entity, After: after, KeyCols: keyCols, Position: pos}
}

func UpdateEvent(entity Entity, before, after map[string]any, keyCols []string, pos Position) ChangeEvent {
	return ChangeEvent{Kind: UpdateKind, Entity: entity, Before: before, After: after, KeyCols: keyCols, Position: pos}
}

func DeleteEvent(entity Entity, before map[string]any, keyCols []string, pos Position) ChangeEvent {
	return ChangeEvent{Kind: DeleteKind, Entity: entity, Before: before, KeyCols: keyCols, Position: pos}
}

func CommitEvent(pos CdcPosition) ChangeEvent {
	return ChangeEvent{Kind: CommitKind, Position: pos}
}

func EntityDoneEvent(entity Entity) ChangeEvent {
	return ChangeEvent{
		Kind:     EntityDoneKind,
		Entity:   entity,
		Position: FinishedPosition{DBType: entity.DBType, Schema: entity.Schema, Table: entity.Table},
	}
}
