package journal

import (
	"bufio"
	"os"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/util"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// Snapshot of everything a journal or resume-config file says about progress.
// Positions hold the last line per entity (append order wins), Finished is the
// set of completed entities, Checkpoint the last coarse stream coordinate.
type Contents struct {
	Positions  map[abstract.Entity]abstract.SnapshotPosition
	Finished   *util.Set[abstract.Entity]
	Checkpoint *abstract.CdcPosition
}

func NewContents() *Contents {
	return &Contents{
		Positions:  map[abstract.Entity]abstract.SnapshotPosition{},
		Finished:   util.NewSet[abstract.Entity](),
		Checkpoint: nil,
	}
}

// ReadFile folds one file into Contents. A missing file is an empty file.
// Malformed lines are warned about and skipped: a torn tail after a crash must
// not block the next run.
func ReadFile(lgr log.Logger, path string) (*Contents, error) {
	contents := NewContents()
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return contents, nil
		}
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		_, pos, err := ParseLine(line)
		if err != nil {
			lgr.Warn("skipping malformed journal line",
				log.String("file", path), log.Int("line", lineNo), log.Error(err))
			continue
		}
		contents.apply(pos)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("unable to read %s: %w", path, err)
	}
	return contents, nil
}

func (c *Contents) apply(pos abstract.Position) {
	switch p := pos.(type) {
	case abstract.SnapshotPosition:
		c.Positions[p.Entity()] = p
	case abstract.FinishedPosition:
		c.Finished.Add(p.Entity())
	case abstract.CdcPosition:
		c.Checkpoint = &p
	}
}

// Merge lays other over c: other's positions win per entity, finished sets
// union, other's checkpoint wins when present.
func (c *Contents) Merge(other *Contents) {
	for entity, pos := range other.Positions {
		c.Positions[entity] = pos
	}
	c.Finished.Add(other.Finished.Slice()...)
	if other.Checkpoint != nil {
		c.Checkpoint = other.Checkpoint
	}
}
