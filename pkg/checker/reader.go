package checker

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/pipeline"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// NewLogProducer replays check-log records from dir as pipeline events. Only
// records whose type is in accept are replayed; review accepts the findings of
// a check pass, revise accepts the still-broken part of a review artifact.
//
// Malformed lines are warned about and skipped, one bad record must not sink
// a whole review pass.
func NewLogProducer(lgr log.Logger, dir string, accept ...abstract.CheckRecordType) pipeline.Producer {
	accepted := map[abstract.CheckRecordType]bool{}
	for _, recordType := range accept {
		accepted[recordType] = true
	}
	return func(ctx context.Context, push abstract.PushFunc) error {
		files, err := listLogFiles(dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			if err := replayFile(ctx, lgr, path, accepted, push); err != nil {
				return err
			}
		}
		return nil
	}
}

func listLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("unable to read check log dir %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func replayFile(ctx context.Context, lgr log.Logger, path string, accepted map[abstract.CheckRecordType]bool, push abstract.PushFunc) error {
	file, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		record, err := abstract.ParseCheckRecord([]byte(line))
		if err != nil {
			lgr.Warn("skipping malformed check record",
				log.String("file", path), log.Int("line", lineNo), log.Error(err))
			continue
		}
		if !accepted[record.Type] {
			continue
		}
		if err := push(ctx, abstract.CheckRecordEvent(record)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Errorf("unable to read %s: %w", path, err)
	}
	return nil
}
