package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_kv").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(db, "", 0)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("nil db", func(t *testing.T) {
		_, err := NewPostgresStore(nil, "audit_kv", 0)
		assert.Error(t, err)
	})

	t.Run("invalid table name", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewPostgresStore(db, "audit; DROP TABLE users", 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})

	t.Run("table creation fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS custom_kv").
			WillReturnError(errors.New("permission denied"))

		_, err = NewPostgresStore(db, "custom_kv", 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "custom_kv")
	})
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := setupPostgresMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM audit_kv WHERE key = $1")).
		WithArgs("audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`[{"id":"a"}]`))

	value, ok, err := store.Get(ctx, "audit_logs")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"a"}]`, value)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM audit_kv WHERE key = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Set(t *testing.T) {
	store, mock := setupPostgresMock(t)

	mock.ExpectExec("INSERT INTO audit_kv").
		WithArgs("audit_logs", "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "audit_logs", "[]"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetDiskFull(t *testing.T) {
	store, mock := setupPostgresMock(t)

	mock.ExpectExec("INSERT INTO audit_kv").
		WithArgs("audit_logs", "[]").
		WillReturnError(&pq.Error{Code: "53100", Message: "could not extend file"})

	err := store.Set(context.Background(), "audit_logs", "[]")
	require.Error(t, err)
	assert.True(t, IsCapacity(err))

	var pqErr *pq.Error
	require.True(t, errors.As(err, &pqErr))
	assert.Equal(t, pq.ErrorCode("53100"), pqErr.Code)
}

func TestPostgresStore_SetOtherError(t *testing.T) {
	store, mock := setupPostgresMock(t)

	mock.ExpectExec("INSERT INTO audit_kv").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Set(context.Background(), "audit_logs", "[]")
	require.Error(t, err)
	assert.False(t, IsCapacity(err))
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := setupPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_kv WHERE key = $1")).
		WithArgs("audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "audit_logs"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CloseKeepsBorrowedDB(t *testing.T) {
	store, _ := setupPostgresMock(t)

	require.NoError(t, store.Close())
	assert.NoError(t, store.db.PingContext(context.Background()))
}
