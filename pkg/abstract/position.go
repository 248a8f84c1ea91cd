package abstract

import (
	"encoding/json"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

// PositionType is the tag discriminating position variants in their JSON
// form. Tags are part of the journal format shared with resume-config files.
type PositionType string

const (
	PositionTypeNone             PositionType = "None"
	PositionTypeSnapshot         PositionType = "RdbSnapshot"
	PositionTypeSnapshotFinished PositionType = "RdbSnapshotFinished"
	PositionTypeCdc              PositionType = "Cdc"
)

// Position describes how far processing of a source has progressed. A value
// is only meaningful once every event at or before it has been acknowledged
// by the target. Variants serialize as tagged JSON objects: {"type": ...}.
type Position interface {
	Type() PositionType
	isPosition()
}

// NonePosition marks events that carry no resumable progress, e.g. rows of an
// entity without an order column. It is never written to the journal.
type NonePosition struct{}

func (NonePosition) Type() PositionType { return PositionTypeNone }
func (NonePosition) isPosition()        {}

// SnapshotPosition is a watermark inside an ordered entity scan: every row
// with order_col <= value has been applied to the target.
type SnapshotPosition struct {
	DBType   DBType `json:"db_type"`
	Schema   string `json:"schema"`
	Table    string `json:"tb"`
	OrderCol string `json:"order_col"`
	Value    string `json:"value"`
}

func (SnapshotPosition) Type() PositionType { return PositionTypeSnapshot }
func (SnapshotPosition) isPosition()        {}

func (p SnapshotPosition) Entity() Entity {
	return Entity{DBType: p.DBType, Schema: p.Schema, Table: p.Table}
}

// FinishedPosition marks an entity whose snapshot completed entirely. Once
// journaled it is permanent: later runs skip the entity outright.
type FinishedPosition struct {
	DBType DBType `json:"db_type"`
	Schema string `json:"schema"`
	Table  string `json:"tb"`
}

func (FinishedPosition) Type() PositionType { return PositionTypeSnapshotFinished }
func (FinishedPosition) isPosition()        {}

func (p FinishedPosition) Entity() Entity {
	return Entity{DBType: p.DBType, Schema: p.Schema, Table: p.Table}
}

// CdcPosition is a coarse checkpoint coordinate of a change stream, recorded
// on commit boundaries. Replays from it are expected and must be tolerated by
// idempotent sinks.
type CdcPosition struct {
	DBType     DBType `json:"db_type"`
	Coordinate string `json:"coordinate"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

func (CdcPosition) Type() PositionType { return PositionTypeCdc }
func (CdcPosition) isPosition()        {}

type taggedSnapshotPosition struct {
	Type PositionType `json:"type"`
	SnapshotPosition
}

type taggedFinishedPosition struct {
	Type PositionType `json:"type"`
	FinishedPosition
}

type taggedCdcPosition struct {
	Type PositionType `json:"type"`
	CdcPosition
}

// MarshalPosition renders a position as its tagged JSON object.
func MarshalPosition(pos Position) ([]byte, error) {
	switch p := pos.(type) {
	case SnapshotPosition:
		return json.Marshal(taggedSnapshotPosition{Type: p.Type(), SnapshotPosition: p})
	case FinishedPosition:
		return json.Marshal(taggedFinishedPosition{Type: p.Type(), FinishedPosition: p})
	case CdcPosition:
		return json.Marshal(taggedCdcPosition{Type: p.Type(), CdcPosition: p})
	case NonePosition:
		return json.Marshal(map[string]PositionType{"type": PositionTypeNone})
	case nil:
		return nil, xerrors.New("cannot marshal nil position")
	default:
		return nil, xerrors.Errorf("cannot marshal position of type %T", pos)
	}
}

// UnmarshalPosition parses a tagged JSON object back into its variant. An
// unknown tag is a parse-level error: callers reading logs skip the record
// with a warning instead of failing the run.
func UnmarshalPosition(raw []byte) (Position, error) {
	var envelope struct {
		Type PositionType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, xerrors.Errorf("unable to parse position envelope: %w", err)
	}
	switch envelope.Type {
	case PositionTypeSnapshot:
		var p SnapshotPosition
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, xerrors.Errorf("unable to parse %s position: %w", envelope.Type, err)
		}
		return p, nil
	case PositionTypeSnapshotFinished:
		var p FinishedPosition
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, xerrors.Errorf("unable to parse %s position: %w", envelope.Type, err)
		}
		return p, nil
	case PositionTypeCdc:
		var p CdcPosition
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, xerrors.Errorf("unable to parse %s position: %w", envelope.Type, err)
		}
		return p, nil
	case PositionTypeNone:
		return NonePosition{}, nil
	default:
		return nil, xerrors.Errorf("unknown position type: %q", envelope.Type)
	}
}
