package journal

import (
	"os"
	"path/filepath"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// Writer owns position.log and finished.log for one run. All appends go
// through a single goroutine fed by a channel, so concurrent Record calls from
// pipeline workers can never interleave bytes within a line.
//
// Current and checkpoint positions are coalesced in memory and appended on the
// flush interval, not per event: after a crash at most one interval worth of
// acknowledged progress is replayed. Finished marks are appended and synced
// before RecordFinished returns, they gate skip decisions of future runs and
// must not sit in a buffer.
//
// Any write or sync failure is terminal: the stored error is returned from
// every subsequent call and the owning run must stop, since progress past a
// failed flush would be silently lost on resume.
type Writer struct {
	lgr      log.Logger
	interval time.Duration

	msgCh  chan writerMsg
	doneCh chan struct{}

	positionFile *os.File
	finishedFile *os.File

	currents   map[abstract.Entity]abstract.SnapshotPosition
	dirty      map[abstract.Entity]bool
	checkpoint *abstract.CdcPosition
	cpDirty    bool

	failure error
}

type writerMsg struct {
	position   *abstract.SnapshotPosition
	checkpoint *abstract.CdcPosition
	finished   *abstract.FinishedPosition
	flush      bool
	close      bool

	replyCh chan error
}

func NewWriter(lgr log.Logger, dir string, interval time.Duration) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Journal, "unable to create journal dir %s: %w", dir, err)
	}
	positionFile, err := os.OpenFile(filepath.Join(dir, PositionLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Journal, "unable to open %s: %w", PositionLogName, err)
	}
	finishedFile, err := os.OpenFile(filepath.Join(dir, FinishedLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = positionFile.Close()
		return nil, ferrors.CategorizedErrorf(categories.Journal, "unable to open %s: %w", FinishedLogName, err)
	}
	writer := &Writer{
		lgr:      lgr,
		interval: interval,

		msgCh:  make(chan writerMsg),
		doneCh: make(chan struct{}),

		positionFile: positionFile,
		finishedFile: finishedFile,

		currents:   map[abstract.Entity]abstract.SnapshotPosition{},
		dirty:      map[abstract.Entity]bool{},
		checkpoint: nil,
		cpDirty:    false,

		failure: nil,
	}
	go writer.loop()
	return writer, nil
}

// RecordCurrentPosition stores the latest acknowledged watermark of one
// entity. Durability follows on the next interval flush.
func (w *Writer) RecordCurrentPosition(pos abstract.SnapshotPosition) error {
	return w.send(writerMsg{position: &pos})
}

// RecordCheckpointPosition stores the coarse change-stream watermark, flushed
// on the same interval as current positions.
func (w *Writer) RecordCheckpointPosition(pos abstract.CdcPosition) error {
	return w.send(writerMsg{checkpoint: &pos})
}

// RecordFinished appends the finished mark and returns only once it is synced
// to disk.
func (w *Writer) RecordFinished(pos abstract.FinishedPosition) error {
	return w.send(writerMsg{finished: &pos})
}

// Flush forces an out-of-interval flush of all pending position state. The
// pipeline calls it when draining, so a graceful stop never loses progress.
func (w *Writer) Flush() error {
	return w.send(writerMsg{flush: true})
}

// Close flushes pending state and releases the files. The Writer is unusable
// afterwards.
func (w *Writer) Close() error {
	err := w.send(writerMsg{close: true})
	<-w.doneCh
	return err
}

func (w *Writer) send(msg writerMsg) error {
	msg.replyCh = make(chan error, 1)
	select {
	case w.msgCh <- msg:
		return <-msg.replyCh
	case <-w.doneCh:
		return ferrors.CategorizedErrorf(categories.Journal, "journal writer is closed")
	}
}

func (w *Writer) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.flushLocked(); err != nil {
				w.fail(err)
			}
		case msg := <-w.msgCh:
			msg.replyCh <- w.handle(msg)
			if msg.close {
				return
			}
		}
	}
}

func (w *Writer) handle(msg writerMsg) error {
	if w.failure != nil {
		return w.failure
	}
	switch {
	case msg.position != nil:
		w.currents[msg.position.Entity()] = *msg.position
		w.dirty[msg.position.Entity()] = true
		return nil
	case msg.checkpoint != nil:
		w.checkpoint = msg.checkpoint
		w.cpDirty = true
		return nil
	case msg.finished != nil:
		if err := w.appendFinished(*msg.finished); err != nil {
			w.fail(err)
			return w.failure
		}
		return nil
	case msg.flush:
		if err := w.flushLocked(); err != nil {
			w.fail(err)
			return w.failure
		}
		return nil
	case msg.close:
		flushErr := w.flushLocked()
		if err := w.positionFile.Close(); flushErr == nil && err != nil {
			flushErr = xerrors.Errorf("unable to close %s: %w", PositionLogName, err)
		}
		if err := w.finishedFile.Close(); flushErr == nil && err != nil {
			flushErr = xerrors.Errorf("unable to close %s: %w", FinishedLogName, err)
		}
		if flushErr != nil {
			w.fail(flushErr)
			return w.failure
		}
		return nil
	default:
		return nil
	}
}

func (w *Writer) fail(err error) {
	if w.failure == nil {
		w.failure = abstract.NewFatalError(ferrors.CategorizedErrorf(categories.Journal, "journal write failed: %w", err))
		w.lgr.Error("journal writer entered failed state", log.Error(err))
	}
}

// flushLocked re-appends the latest record of every entity touched since the
// previous flush. Re-appending the same entity across flushes is intentional,
// readers fold the file and keep the last line per entity.
func (w *Writer) flushLocked() error {
	now := time.Now()
	for entity := range w.dirty {
		line, err := FormatLine(now, TagCurrentPosition, w.currents[entity])
		if err != nil {
			return err
		}
		if _, err := w.positionFile.WriteString(line); err != nil {
			return xerrors.Errorf("unable to append to %s: %w", PositionLogName, err)
		}
	}
	if w.cpDirty && w.checkpoint != nil {
		line, err := FormatLine(now, TagCheckpointPosition, *w.checkpoint)
		if err != nil {
			return err
		}
		if _, err := w.positionFile.WriteString(line); err != nil {
			return xerrors.Errorf("unable to append to %s: %w", PositionLogName, err)
		}
	}
	if len(w.dirty) == 0 && !w.cpDirty {
		return nil
	}
	if err := w.positionFile.Sync(); err != nil {
		return xerrors.Errorf("unable to sync %s: %w", PositionLogName, err)
	}
	w.dirty = map[abstract.Entity]bool{}
	w.cpDirty = false
	return nil
}

func (w *Writer) appendFinished(pos abstract.FinishedPosition) error {
	line, err := FormatLine(time.Now(), TagFinished, pos)
	if err != nil {
		return err
	}
	if _, err := w.finishedFile.WriteString(line); err != nil {
		return xerrors.Errorf("unable to append to %s: %w", FinishedLogName, err)
	}
	if err := w.finishedFile.Sync(); err != nil {
		return xerrors.Errorf("unable to sync %s: %w", FinishedLogName, err)
	}
	return nil
}
