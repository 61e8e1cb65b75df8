package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("commits and exposes the transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO records").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = Run(context.Background(), db, func(ctx context.Context) error {
			_, inTx := From(ctx)
			assert.True(t, inTx)
			if _, err := For(ctx, db).ExecContext(ctx, "INSERT INTO records VALUES (1)"); err != nil {
				return err
			}
			_, err := For(ctx, db).ExecContext(ctx, "INSERT INTO outbox VALUES (1)")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the audit write fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO records").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		auditErr := errors.New("outbox unavailable")
		err = Run(context.Background(), db, func(ctx context.Context) error {
			if _, err := For(ctx, db).ExecContext(ctx, "INSERT INTO records VALUES (1)"); err != nil {
				return err
			}
			return auditErr
		})
		assert.ErrorIs(t, err, auditErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a failed commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err = Run(context.Background(), db, func(context.Context) error { return nil })
		assert.ErrorContains(t, err, "commit transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joins an existing transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		outer, err := db.Begin()
		require.NoError(t, err)
		ctx := WithTx(context.Background(), outer)

		require.NoError(t, Run(ctx, db, func(inner context.Context) error {
			got, _ := From(inner)
			assert.Same(t, outer, got)
			return nil
		}))
		assert.NoError(t, mock.ExpectationsWereMet(), "no second begin or commit")
	})
}

func TestFor_FallsBackToDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Same(t, db, For(context.Background(), db))
	assert.Equal(t, context.Background(), WithTx(context.Background(), nil))
}
