package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Compute([]byte("abc")))
	assert.Equal(t, Compute([]byte("same")), Compute([]byte("same")))
	assert.NotEqual(t, Compute([]byte("a")), Compute([]byte("b")))
	assert.Len(t, Compute(nil), 64)
}

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLedger(db), mock
}

func TestLedgerHasPropagatesIOError(t *testing.T) {
	l, mock := newMockLedger(t)
	diskErr := errors.New("disk I/O error")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM checksums WHERE checksum = ?")).
		WithArgs("fp").
		WillReturnError(diskErr)

	has, err := l.Has(context.Background(), "fp")
	assert.False(t, has)
	assert.ErrorIs(t, err, diskErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerAddUsesInsertOrIgnore(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT OR IGNORE INTO checksums")).
		WithArgs("fp").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, l.Add(context.Background(), "fp"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerAddPropagatesIOError(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT OR IGNORE INTO checksums")).
		WithArgs("fp").
		WillReturnError(errors.New("database is locked"))

	err := l.Add(context.Background(), "fp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adding checksum")
}

func TestLedgerDeleteReportsPresence(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checksums WHERE checksum = ?")).
		WithArgs("present").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checksums WHERE checksum = ?")).
		WithArgs("absent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.Delete(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Delete(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerList(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT checksum, inserted_at FROM checksums")).
		WillReturnRows(sqlmock.NewRows([]string{"checksum", "inserted_at"}).
			AddRow("a", int64(100)).
			AddRow("b", int64(101)))

	list, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ChecksumRecord{{"a", 100}, {"b", 101}}, list)
}
