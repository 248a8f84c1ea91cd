package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUsers(t *testing.T, db *sql.DB, count int) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score INTEGER)`)
	require.NoError(t, err)
	for i := 1; i <= count; i++ {
		_, err := db.Exec(`INSERT INTO users (id, name, score) VALUES (?, ?, ?)`, i, "user", i*10)
		require.NoError(t, err)
	}
}

func collectScan(t *testing.T, storage abstract.SnapshotSource, entity abstract.Entity, resume *abstract.ResumeValue, batchSize int) ([]abstract.ChangeEvent, int) {
	t.Helper()
	var rows []abstract.ChangeEvent
	done := 0
	err := storage.Scan(context.Background(), entity, resume, batchSize, func(ctx context.Context, event abstract.ChangeEvent) error {
		if event.Kind == abstract.EntityDoneKind {
			done++
			return nil
		}
		rows = append(rows, event)
		return nil
	})
	require.NoError(t, err)
	return rows, done
}

func TestEntitiesAndOrderColumn(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 1)
	_, err := db.Exec(`CREATE TABLE pairs (a INTEGER, b INTEGER, PRIMARY KEY (a, b))`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE tagged (tag TEXT, CONSTRAINT uniq_tag UNIQUE (tag))`)
	require.NoError(t, err)

	provider := NewProviderWithDB(logger.Log, db, "test_db")
	storage, err := provider.Storage()
	require.NoError(t, err)

	entities, err := storage.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 3)

	col, ok, err := storage.OrderColumn(context.Background(), abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "users"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "id", col)

	// composite primary key cannot drive a keyset scan
	_, ok, err = storage.OrderColumn(context.Background(), abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "pairs"))
	require.NoError(t, err)
	require.False(t, ok)

	// single-column unique index is an acceptable fallback
	col, ok, err = storage.OrderColumn(context.Background(), abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "tagged"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tag", col)
}

func TestScanPagesInOrderAndResumesStrictlyAfter(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 25)
	provider := NewProviderWithDB(logger.Log, db, "test_db")
	storage, err := provider.Storage()
	require.NoError(t, err)
	entity := abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "users")

	rows, done := collectScan(t, storage, entity, nil, 10)
	require.Equal(t, 1, done)
	require.Len(t, rows, 25)
	for i, event := range rows {
		require.EqualValues(t, i+1, event.After["id"])
		pos, ok := event.Position.(abstract.SnapshotPosition)
		require.True(t, ok)
		require.Equal(t, "id", pos.OrderCol)
	}

	// resume at 20: rows 21..25 only, 20 itself excluded
	rows, done = collectScan(t, storage, entity, &abstract.ResumeValue{OrderCol: "id", Value: "20"}, 10)
	require.Equal(t, 1, done)
	require.Len(t, rows, 5)
	require.EqualValues(t, 21, rows[0].After["id"])
}

func TestScanRejectsForeignResumeColumn(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 5)
	provider := NewProviderWithDB(logger.Log, db, "test_db")
	storage, err := provider.Storage()
	require.NoError(t, err)
	entity := abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "users")

	// a watermark journaled under a column that is no longer the order column
	// must fail the scan instead of binding the value to the wrong predicate
	err = storage.Scan(context.Background(), entity, &abstract.ResumeValue{OrderCol: "score", Value: "20"}, 10,
		func(ctx context.Context, event abstract.ChangeEvent) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "order column")
}

func TestScanKeylessTableEmitsNoPositions(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE plain (a INTEGER, b TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO plain VALUES (1, 'x'), (2, 'y')`)
	require.NoError(t, err)

	provider := NewProviderWithDB(logger.Log, db, "test_db")
	storage, err := provider.Storage()
	require.NoError(t, err)
	entity := abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "plain")

	rows, done := collectScan(t, storage, entity, nil, 10)
	require.Equal(t, 1, done)
	require.Len(t, rows, 2)
	for _, event := range rows {
		require.IsType(t, abstract.NonePosition{}, event.Position)
		require.Empty(t, event.KeyCols)
	}
}

func TestSinkUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 0)
	provider := NewProviderWithDB(logger.Log, db, "test_db")
	sink, err := provider.Sink()
	require.NoError(t, err)
	entity := abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "users")

	batch := []abstract.ChangeEvent{
		abstract.InsertEvent(entity, map[string]any{"id": 1, "name": "a", "score": 10}, []string{"id"}, abstract.NonePosition{}),
	}
	// replaying the same batch, as a checkpoint replay would, must converge
	require.NoError(t, sink.Sink(context.Background(), batch))
	require.NoError(t, sink.Sink(context.Background(), batch))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	require.Equal(t, 1, count)

	update := []abstract.ChangeEvent{
		abstract.UpdateEvent(entity, map[string]any{"id": 1}, map[string]any{"id": 1, "name": "b", "score": 20}, []string{"id"}, abstract.NonePosition{}),
	}
	require.NoError(t, sink.Sink(context.Background(), update))
	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM users WHERE id = 1`).Scan(&name))
	require.Equal(t, "b", name)

	del := []abstract.ChangeEvent{
		abstract.DeleteEvent(entity, map[string]any{"id": 1}, []string{"id"}, abstract.NonePosition{}),
	}
	require.NoError(t, sink.Sink(context.Background(), del))
	require.NoError(t, sink.Sink(context.Background(), del))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestRowStoreGet(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 3)
	provider := NewProviderWithDB(logger.Log, db, "test_db")
	rows, err := provider.Rows()
	require.NoError(t, err)
	entity := abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "users")

	row, found, err := rows.Get(context.Background(), entity, map[string]any{"id": 2})
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 20, row["score"])

	_, found, err = rows.Get(context.Background(), entity, map[string]any{"id": 99})
	require.NoError(t, err)
	require.False(t, found)
}

func TestEstimateRows(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 7)
	provider := NewProviderWithDB(logger.Log, db, "test_db")
	storage, err := provider.Storage()
	require.NoError(t, err)

	counter, ok := storage.(abstract.RowCounter)
	require.True(t, ok)
	count, err := counter.EstimateRows(context.Background(), abstract.NewEntity(abstract.DBTypeSQLite, "test_db", "users"))
	require.NoError(t, err)
	require.EqualValues(t, 7, count)
}
