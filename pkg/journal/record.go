package journal

import (
	"strings"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// Tag marks what a position.log line carries. finished.log lines have no tag,
// the record shape alone identifies them.
type Tag string

const (
	TagCurrentPosition    Tag = "current_position"
	TagCheckpointPosition Tag = "checkpoint_position"
	TagFinished           Tag = ""
)

const (
	PositionLogName = "position.log"
	FinishedLogName = "finished.log"

	// lineTimeLayout renders the informational timestamp prefix. It is never
	// parsed back: append order is the authority, not wall time.
	lineTimeLayout = "2006-01-02 15:04:05.000000"
)

// FormatLine renders one journal line: `<ts> | <tag> | <json>` for tagged
// position records, `<ts> | <json>` for finished records.
func FormatLine(now time.Time, tag Tag, pos abstract.Position) (string, error) {
	raw, err := abstract.MarshalPosition(pos)
	if err != nil {
		return "", xerrors.Errorf("unable to marshal %s record: %w", pos.Type(), err)
	}
	ts := now.Format(lineTimeLayout)
	if tag == TagFinished {
		return ts + " | " + string(raw) + "\n", nil
	}
	return ts + " | " + string(tag) + " | " + string(raw) + "\n", nil
}

// ParseLine decodes one line of a journal or resume-config file. All three
// shapes are accepted: `<ts> | <tag> | <json>`, `<ts> | <json>`, and the
// resume-config forms `| <tag> | <json>` and bare `<json>` without timestamp.
func ParseLine(line string) (Tag, abstract.Position, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return TagFinished, nil, xerrors.New("empty line")
	}
	jsonStart := strings.IndexByte(trimmed, '{')
	if jsonStart < 0 {
		return TagFinished, nil, xerrors.Errorf("no json payload in line: %q", trimmed)
	}
	tag := TagFinished
	head := trimmed[:jsonStart]
	switch {
	case strings.Contains(head, string(TagCurrentPosition)):
		tag = TagCurrentPosition
	case strings.Contains(head, string(TagCheckpointPosition)):
		tag = TagCheckpointPosition
	}
	pos, err := abstract.UnmarshalPosition([]byte(trimmed[jsonStart:]))
	if err != nil {
		return tag, nil, xerrors.Errorf("unable to parse record: %w", err)
	}
	return tag, pos, nil
}
