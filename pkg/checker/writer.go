package checker

import (
	"os"
	"path/filepath"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// LogWriter appends check records into one directory, a file per record type
// (diff.log, miss.log, confirmed.log, ...). Like the position journal, all
// appends funnel through one goroutine: check sinkers run on every parallel
// worker and must not interleave bytes within a record.
type LogWriter struct {
	lgr log.Logger
	dir string

	msgCh  chan logWriterMsg
	doneCh chan struct{}

	files   map[abstract.CheckRecordType]*os.File
	failure error
}

type logWriterMsg struct {
	record  *abstract.CheckRecord
	close   bool
	replyCh chan error
}

func NewLogWriter(lgr log.Logger, dir string) (*LogWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Sink, "unable to create check log dir %s: %w", dir, err)
	}
	writer := &LogWriter{
		lgr: lgr,
		dir: dir,

		msgCh:  make(chan logWriterMsg),
		doneCh: make(chan struct{}),

		files:   map[abstract.CheckRecordType]*os.File{},
		failure: nil,
	}
	go writer.loop()
	return writer, nil
}

func (w *LogWriter) Dir() string {
	return w.dir
}

// Append durably writes one record. Safe for concurrent use.
func (w *LogWriter) Append(record abstract.CheckRecord) error {
	return w.send(logWriterMsg{record: &record})
}

func (w *LogWriter) Close() error {
	err := w.send(logWriterMsg{close: true})
	<-w.doneCh
	return err
}

func (w *LogWriter) send(msg logWriterMsg) error {
	msg.replyCh = make(chan error, 1)
	select {
	case w.msgCh <- msg:
		return <-msg.replyCh
	case <-w.doneCh:
		return ferrors.CategorizedErrorf(categories.Sink, "check log writer is closed")
	}
}

func (w *LogWriter) loop() {
	defer close(w.doneCh)
	for msg := range w.msgCh {
		if msg.close {
			msg.replyCh <- w.closeFiles()
			return
		}
		msg.replyCh <- w.append(*msg.record)
	}
}

func (w *LogWriter) append(record abstract.CheckRecord) error {
	if w.failure != nil {
		return w.failure
	}
	file, err := w.fileFor(record.Type)
	if err != nil {
		w.failure = err
		return err
	}
	raw, err := record.Marshal()
	if err != nil {
		return xerrors.Errorf("unable to marshal check record: %w", err)
	}
	if _, err := file.Write(append(raw, '\n')); err != nil {
		w.failure = ferrors.CategorizedErrorf(categories.Sink, "unable to append check record: %w", err)
		return w.failure
	}
	return nil
}

func (w *LogWriter) fileFor(recordType abstract.CheckRecordType) (*os.File, error) {
	if file, ok := w.files[recordType]; ok {
		return file, nil
	}
	name := FileNameFor(recordType)
	file, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Sink, "unable to open %s: %w", name, err)
	}
	w.files[recordType] = file
	return file, nil
}

func (w *LogWriter) closeFiles() error {
	var firstErr error
	for recordType, file := range w.files {
		if err := file.Sync(); err != nil && firstErr == nil {
			firstErr = xerrors.Errorf("unable to sync %s: %w", FileNameFor(recordType), err)
		}
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = xerrors.Errorf("unable to close %s: %w", FileNameFor(recordType), err)
		}
	}
	if w.failure != nil {
		return w.failure
	}
	return firstErr
}

// FileNameFor maps a record type to its file inside a check-log directory,
// e.g. SourceMissing -> source_missing.log.
func FileNameFor(recordType abstract.CheckRecordType) string {
	name := make([]byte, 0, len(recordType)+8)
	for i, r := range string(recordType) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				name = append(name, '_')
			}
			name = append(name, byte(r-'A'+'a'))
			continue
		}
		name = append(name, byte(r))
	}
	return string(name) + ".log"
}
