package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/core/storage"
)

func TestAdapter_Get(t *testing.T) {
	tests := []struct {
		name       string
		mockResult func(mock sqlmock.Sqlmock)
		assertions func(t *testing.T, body []byte, err error)
	}{
		{
			name: "found",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryGetObject)).
					WithArgs("b/k.json").
					WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow([]byte(`{"x":1}`)))
			},
			assertions: func(t *testing.T, body []byte, err error) {
				require.NoError(t, err)
				require.Equal(t, `{"x":1}`, string(body))
			},
		},
		{
			name: "missing maps to ErrNotFound",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryGetObject)).
					WithArgs("b/k.json").
					WillReturnRows(sqlmock.NewRows([]string{"body"}))
			},
			assertions: func(t *testing.T, body []byte, err error) {
				require.ErrorIs(t, err, storage.ErrNotFound)
				require.Nil(t, body)
			},
		},
		{
			name: "driver error is wrapped",
			mockResult: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(queryGetObject)).
					WithArgs("b/k.json").
					WillReturnError(errors.New("connection reset"))
			},
			assertions: func(t *testing.T, body []byte, err error) {
				require.ErrorContains(t, err, "connection reset")
				require.NotErrorIs(t, err, storage.ErrNotFound)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			tc.mockResult(mock)
			body, err := adapter.Get(context.Background(), "b/k.json")
			tc.assertions(t, body, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAdapter_Put(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	now := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	adapter.nowFn = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta(queryPutObject)).
		WithArgs("b/k.json", []byte("body"), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.Put(context.Background(), "b/k.json", []byte("body")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ListEscapesWildcards(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryListObjects)).
		WithArgs(`vd\_speed/host=a/%`).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).
			AddRow("vd_speed/host=a/1.json").
			AddRow("vd_speed/host=a/2.json")).
		RowsWillBeClosed()

	paths, err := adapter.List(context.Background(), "vd_speed/host=a/")
	require.NoError(t, err)
	require.Equal(t, []string{"vd_speed/host=a/1.json", "vd_speed/host=a/2.json"}, paths)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAdapter_ValidatesSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryObjectsTableExists)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = newAdapter(db)
	require.ErrorContains(t, err, "objects table does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAdapter_PreparesStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryObjectsTableExists)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectPrepare(regexp.QuoteMeta(queryGetObject))
	mock.ExpectPrepare(regexp.QuoteMeta(queryPutObject))
	mock.ExpectPrepare(regexp.QuoteMeta(queryListObjects))

	adapter, err := newAdapter(db)
	require.NoError(t, err)
	require.NotNil(t, adapter.stmtList)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:       db,
		stmtGet:  mustPrepareStmt(t, db, mock, queryGetObject),
		stmtPut:  mustPrepareStmt(t, db, mock, queryPutObject),
		stmtList: mustPrepareStmt(t, db, mock, queryListObjects),
		nowFn:    time.Now,
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}
