package resumer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/journal"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func positionLine(t *testing.T, table, orderCol, value string) string {
	t.Helper()
	line, err := journal.FormatLine(time.Now(), journal.TagCurrentPosition, abstract.SnapshotPosition{
		DBType:   abstract.DBTypeSample,
		Schema:   "test_db_1",
		Table:    table,
		OrderCol: orderCol,
		Value:    value,
	})
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func finishedLine(t *testing.T, table string) string {
	t.Helper()
	line, err := journal.FormatLine(time.Now(), journal.TagFinished, abstract.FinishedPosition{
		DBType: abstract.DBTypeSample,
		Schema: "test_db_1",
		Table:  table,
	})
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func entity(table string) abstract.Entity {
	return abstract.NewEntity(abstract.DBTypeSample, "test_db_1", table)
}

func TestPositionLogOverridesResumeConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "resume.cfg")

	// resume-config says f_0=5, position.log says f_0=7
	writeLines(t, configFile,
		`| current_position | {"type":"RdbSnapshot","db_type":"sample","schema":"test_db_1","tb":"one_pk_no_uk","order_col":"f_0","value":"5"}`)
	writeLines(t, filepath.Join(dir, journal.PositionLogName),
		positionLine(t, "one_pk_no_uk", "f_0", "7"))

	decisions, err := New(logger.Log, true, dir, configFile).Build([]abstract.Entity{entity("one_pk_no_uk")})
	require.NoError(t, err)
	require.Equal(t, Decision{Kind: ResumeFrom, OrderCol: "f_0", Value: "7"}, decisions.For(entity("one_pk_no_uk")))
}

func TestResumeConfigAloneApplies(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "resume.cfg")
	writeLines(t, configFile,
		`{"type":"RdbSnapshot","db_type":"sample","schema":"test_db_1","tb":"one_pk_no_uk","order_col":"f_0","value":"5"}`)

	decisions, err := New(logger.Log, true, dir, configFile).Build([]abstract.Entity{entity("one_pk_no_uk")})
	require.NoError(t, err)
	require.Equal(t, Decision{Kind: ResumeFrom, OrderCol: "f_0", Value: "5"}, decisions.For(entity("one_pk_no_uk")))
}

func TestLastLineWinsWithinOneFile(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, journal.PositionLogName),
		positionLine(t, "in_position_log_table", "p.k", "0"),
		positionLine(t, "in_position_log_table", "p.k", "1"))

	decisions, err := New(logger.Log, true, dir, "").Build([]abstract.Entity{entity("in_position_log_table")})
	require.NoError(t, err)
	require.Equal(t, Decision{Kind: ResumeFrom, OrderCol: "p.k", Value: "1"}, decisions.For(entity("in_position_log_table")))
}

func TestFinishedWinsOverPositions(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, journal.PositionLogName),
		positionLine(t, "done_table", "id", "100"))
	writeLines(t, filepath.Join(dir, journal.FinishedLogName),
		finishedLine(t, "done_table"))

	decisions, err := New(logger.Log, true, dir, "").Build([]abstract.Entity{entity("done_table")})
	require.NoError(t, err)
	require.Equal(t, Skip, decisions.For(entity("done_table")).Kind)
	require.Nil(t, decisions.For(entity("done_table")).ResumeValue())
}

func TestFinishedUnionAcrossSources(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "resume.cfg")
	writeLines(t, configFile,
		`{"type":"RdbSnapshotFinished","db_type":"sample","schema":"test_db_1","tb":"from_config"}`)
	writeLines(t, filepath.Join(dir, journal.FinishedLogName),
		finishedLine(t, "from_log"))

	decisions, err := New(logger.Log, true, dir, configFile).Build([]abstract.Entity{
		entity("from_config"), entity("from_log"), entity("untouched"),
	})
	require.NoError(t, err)
	require.Equal(t, Skip, decisions.For(entity("from_config")).Kind)
	require.Equal(t, Skip, decisions.For(entity("from_log")).Kind)
	require.Equal(t, Fresh, decisions.For(entity("untouched")).Kind)
}

func TestMissingJournalIsFreshRun(t *testing.T) {
	decisions, err := New(logger.Log, true, t.TempDir(), "").Build([]abstract.Entity{entity("t1")})
	require.NoError(t, err)
	require.Equal(t, Fresh, decisions.For(entity("t1")).Kind)
}

func TestRequiredResumeConfigMissingIsFatal(t *testing.T) {
	_, err := New(logger.Log, false, t.TempDir(), "/nonexistent/resume.cfg").Build([]abstract.Entity{entity("t1")})
	require.Error(t, err)
	require.True(t, abstract.IsFatal(err))
	require.True(t, CodeConfigUnreadable.Contains(err))
}

func TestCheckpointSurfacesFromPositionLog(t *testing.T) {
	dir := t.TempDir()
	line, err := journal.FormatLine(time.Now(), journal.TagCheckpointPosition, abstract.CdcPosition{
		DBType:     abstract.DBTypeSample,
		Coordinate: "tx:42",
	})
	require.NoError(t, err)
	writeLines(t, filepath.Join(dir, journal.PositionLogName), strings.TrimSuffix(line, "\n"))

	decisions, err := New(logger.Log, true, dir, "").Build(nil)
	require.NoError(t, err)
	require.NotNil(t, decisions.Checkpoint())
	require.Equal(t, "tx:42", decisions.Checkpoint().Coordinate)
}

func TestResumeFromLogDisabledIgnoresJournal(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, journal.PositionLogName),
		positionLine(t, "t1", "id", "9"))

	decisions, err := New(logger.Log, false, dir, "").Build([]abstract.Entity{entity("t1")})
	require.NoError(t, err)
	require.Equal(t, Fresh, decisions.For(entity("t1")).Kind)
}
