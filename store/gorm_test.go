package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(gdb), mock
}

func TestGormAddBalanceInsufficientFunds(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "accounts" SET "balance"=balance \+ \$1 WHERE .*user_id = \$2 AND balance \+ \$3 >= 0`).
		WithArgs(int64(-500), "alice", int64(-500)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "accounts" WHERE .*user_id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := st.AddBalance(context.Background(), "alice", -500)
	assert.ErrorIs(t, err, ErrConditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormAddBalanceUnknownAccount(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "accounts"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "accounts"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := st.AddBalance(context.Background(), "ghost", -1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormAddXPReturnsNewTotal(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "accounts" SET "xp_total"=xp_total \+ \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "?xp_total"? FROM "accounts"`).
		WillReturnRows(sqlmock.NewRows([]string{"xp_total"}).AddRow(1250))

	total, err := st.AddXP(context.Background(), "alice", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormWithTxRollsBack(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "accounts"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx Store) error {
		_, err := tx.AddBalance(context.Background(), "alice", -10)
		return err
	})
	assert.ErrorIs(t, err, ErrConditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormListContributionsOrdersBySequence(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "contributions" WHERE group_gift_id = \$1 ORDER BY seq`).
		WithArgs("gg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "group_gift_id", "contributor_id", "amount"}).
			AddRow("c-1", 1, "gg-1", "alice", 100).
			AddRow("c-2", 2, "gg-1", "bob", 80))

	rows, err := st.ListContributions(context.Background(), "gg-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[1].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormClaimOutboxLeasesRows(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "outbox_events" WHERE .*claimed_until IS NULL OR claimed_until <= .*FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow("ev-1", "alice", "pending"))
	mock.ExpectExec(`UPDATE "outbox_events" SET "claimed_until"=\$1 WHERE id IN \(\$2\)`).
		WithArgs(until, "ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	events, err := st.ClaimOutbox(context.Background(), 10, now, until)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ClaimedUntil)
	assert.Equal(t, until, *events[0].ClaimedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}
