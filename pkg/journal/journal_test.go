package journal

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/stretchr/testify/require"
)

func snapshotPos(table, value string) abstract.SnapshotPosition {
	return abstract.SnapshotPosition{
		DBType:   abstract.DBTypeSample,
		Schema:   "test_db",
		Table:    table,
		OrderCol: "id",
		Value:    value,
	}
}

func TestFormatParseRoundtrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)

	line, err := FormatLine(now, TagCurrentPosition, snapshotPos("t1", "42"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "2024-05-01 12:00:00.123456 | current_position | "))

	tag, pos, err := ParseLine(line)
	require.NoError(t, err)
	require.Equal(t, TagCurrentPosition, tag)
	require.Equal(t, snapshotPos("t1", "42"), pos)
}

func TestParseLineResumeConfigShapes(t *testing.T) {
	// resume-config files may omit the timestamp, or the tag, or both
	for _, line := range []string{
		`| current_position | {"type":"RdbSnapshot","db_type":"sample","schema":"test_db","tb":"t1","order_col":"id","value":"7"}`,
		`{"type":"RdbSnapshot","db_type":"sample","schema":"test_db","tb":"t1","order_col":"id","value":"7"}`,
	} {
		_, pos, err := ParseLine(line)
		require.NoError(t, err, line)
		require.Equal(t, snapshotPos("t1", "7"), pos)
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	_, _, err := ParseLine("not a journal line")
	require.Error(t, err)
	_, _, err = ParseLine(`2024-05-01 12:00:00.000000 | {"type":"WhoKnows"}`)
	require.Error(t, err)
}

func TestReadFileLastLineWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PositionLogName)
	lines := []string{}
	for _, value := range []string{"1", "2", "3"} {
		line, err := FormatLine(time.Now(), TagCurrentPosition, snapshotPos("t1", value))
		require.NoError(t, err)
		lines = append(lines, line)
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644))

	contents, err := ReadFile(logger.Log, path)
	require.NoError(t, err)
	require.Equal(t, "3", contents.Positions[snapshotPos("t1", "3").Entity()].Value)
}

func TestReadFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PositionLogName)
	good, err := FormatLine(time.Now(), TagCurrentPosition, snapshotPos("t1", "5"))
	require.NoError(t, err)
	raw := good + "2024-05-01 torn line without payload\n" + `garbage {"type":"Nope"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	contents, err := ReadFile(logger.Log, path)
	require.NoError(t, err)
	require.Len(t, contents.Positions, 1)
}

func TestReadFileMissingIsEmpty(t *testing.T) {
	contents, err := ReadFile(logger.Log, filepath.Join(t.TempDir(), "nope.log"))
	require.NoError(t, err)
	require.Empty(t, contents.Positions)
	require.Equal(t, 0, contents.Finished.Len())
	require.Nil(t, contents.Checkpoint)
}

func TestWriterFinishedIsImmediate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logger.Log, dir, time.Hour)
	require.NoError(t, err)

	require.NoError(t, w.RecordFinished(abstract.FinishedPosition{
		DBType: abstract.DBTypeSample, Schema: "test_db", Table: "t1",
	}))

	// visible before any flush or close
	contents, err := ReadFile(logger.Log, filepath.Join(dir, FinishedLogName))
	require.NoError(t, err)
	require.True(t, contents.Finished.Contains(abstract.NewEntity(abstract.DBTypeSample, "test_db", "t1")))
	require.NoError(t, w.Close())
}

func TestWriterCoalescesPositions(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logger.Log, dir, time.Hour)
	require.NoError(t, err)

	for _, value := range []string{"1", "2", "3"} {
		require.NoError(t, w.RecordCurrentPosition(snapshotPos("t1", value)))
	}

	// nothing flushed yet, the interval has not fired
	contents, err := ReadFile(logger.Log, filepath.Join(dir, PositionLogName))
	require.NoError(t, err)
	require.Empty(t, contents.Positions)

	require.NoError(t, w.Flush())
	raw, err := os.ReadFile(filepath.Join(dir, PositionLogName))
	require.NoError(t, err)
	// three records coalesced into one appended line
	require.Equal(t, 1, strings.Count(string(raw), "\n"))

	contents, err = ReadFile(logger.Log, filepath.Join(dir, PositionLogName))
	require.NoError(t, err)
	require.Equal(t, "3", contents.Positions[snapshotPos("t1", "3").Entity()].Value)
	require.NoError(t, w.Close())
}

func TestWriterCheckpointPosition(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logger.Log, dir, time.Hour)
	require.NoError(t, err)

	cp := abstract.CdcPosition{DBType: abstract.DBTypeSample, Coordinate: "tx:99"}
	require.NoError(t, w.RecordCheckpointPosition(cp))
	require.NoError(t, w.Close())

	contents, err := ReadFile(logger.Log, filepath.Join(dir, PositionLogName))
	require.NoError(t, err)
	require.NotNil(t, contents.Checkpoint)
	require.Equal(t, "tx:99", contents.Checkpoint.Coordinate)
}

func TestWriterConcurrentAppendsDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(logger.Log, dir, time.Millisecond)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			table := "t" + string(rune('0'+g))
			for i := 0; i < 50; i++ {
				require.NoError(t, w.RecordCurrentPosition(snapshotPos(table, "1")))
				require.NoError(t, w.RecordFinished(abstract.FinishedPosition{
					DBType: abstract.DBTypeSample, Schema: "test_db", Table: table,
				}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	// every line of both files must parse, torn lines would fail here
	for _, name := range []string{PositionLogName, FinishedLogName} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
			if line == "" {
				continue
			}
			_, _, err := ParseLine(line)
			require.NoError(t, err, line)
		}
	}
}

func TestWriterRejectsUseAfterClose(t *testing.T) {
	w, err := NewWriter(logger.Log, t.TempDir(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Error(t, w.Flush())
	require.Error(t, w.RecordCurrentPosition(snapshotPos("t1", "1")))
}
