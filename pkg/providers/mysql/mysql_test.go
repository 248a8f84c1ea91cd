package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/stretchr/testify/require"
)

func newMockProvider(t *testing.T) (*Provider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewProviderWithDB(logger.Log, db, "test_db"), mock
}

func TestEntitiesFromInformationSchema(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectQuery("SELECT TABLE_NAME FROM information_schema.TABLES").
		WithArgs("test_db").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("orders").AddRow("users"))

	storage, err := provider.Storage()
	require.NoError(t, err)
	entities, err := storage.Entities(context.Background())
	require.NoError(t, err)
	require.Equal(t, []abstract.Entity{
		abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "orders"),
		abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "users"),
	}, entities)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderColumnPrefersPrimaryKey(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("test_db", "users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).
			AddRow("PRIMARY", "id").
			AddRow("uniq_email", "email"))

	storage, err := provider.Storage()
	require.NoError(t, err)
	col, ok, err := storage.OrderColumn(context.Background(), abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "users"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "id", col)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderColumnFallsBackToSingleUniqueIndex(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("test_db", "pairs").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).
			AddRow("PRIMARY", "a").
			AddRow("PRIMARY", "b").
			AddRow("uniq_code", "code"))

	storage, err := provider.Storage()
	require.NoError(t, err)
	col, ok, err := storage.OrderColumn(context.Background(), abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "pairs"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "code", col)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderColumnAbsentForCompositeKeysOnly(t *testing.T) {
	provider, mock := newMockProvider(t)
	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("test_db", "pairs").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).
			AddRow("PRIMARY", "a").
			AddRow("PRIMARY", "b"))

	storage, err := provider.Storage()
	require.NoError(t, err)
	_, ok, err := storage.OrderColumn(context.Background(), abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "pairs"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkUpsertUsesOnDuplicateKey(t *testing.T) {
	provider, mock := newMockProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "users")

	mock.ExpectExec("INSERT INTO `test_db`.`users` \\(`id`, `name`\\) VALUES \\(\\?, \\?\\) ON DUPLICATE KEY UPDATE").
		WithArgs(1, "a").
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink, err := provider.Sink()
	require.NoError(t, err)
	batch := []abstract.ChangeEvent{
		abstract.InsertEvent(entity, map[string]any{"id": 1, "name": "a"}, []string{"id"}, abstract.NonePosition{}),
	}
	require.NoError(t, sink.Sink(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkDeleteByKey(t *testing.T) {
	provider, mock := newMockProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "users")

	mock.ExpectExec("DELETE FROM `test_db`.`users` WHERE `id` = \\?").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink, err := provider.Sink()
	require.NoError(t, err)
	batch := []abstract.ChangeEvent{
		abstract.DeleteEvent(entity, map[string]any{"id": 7}, []string{"id"}, abstract.NonePosition{}),
	}
	require.NoError(t, sink.Sink(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRejectsForeignResumeColumn(t *testing.T) {
	provider, mock := newMockProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "users")

	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("test_db", "users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).AddRow("PRIMARY", "id"))

	storage, err := provider.Storage()
	require.NoError(t, err)
	err = storage.Scan(context.Background(), entity, &abstract.ResumeValue{OrderCol: "email", Value: "x"}, 10,
		func(ctx context.Context, event abstract.ChangeEvent) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "order column")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanResumePredicateIsStrictlyGreater(t *testing.T) {
	provider, mock := newMockProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeMySQL, "test_db", "users")

	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("test_db", "users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"}).AddRow("PRIMARY", "id"))
	mock.ExpectQuery("SELECT \\* FROM `test_db`.`users` WHERE `id` > \\? ORDER BY `id` LIMIT \\?").
		WithArgs("5", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(6, "f").AddRow(7, "g"))

	storage, err := provider.Storage()
	require.NoError(t, err)
	var rows []abstract.ChangeEvent
	err = storage.Scan(context.Background(), entity, &abstract.ResumeValue{OrderCol: "id", Value: "5"}, 10,
		func(ctx context.Context, event abstract.ChangeEvent) error {
			if event.Kind == abstract.InsertKind {
				rows = append(rows, event)
			}
			return nil
		})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	pos, ok := rows[1].Position.(abstract.SnapshotPosition)
	require.True(t, ok)
	require.Equal(t, "7", pos.Value)
	require.NoError(t, mock.ExpectationsWereMet())
}
