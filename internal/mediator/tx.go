package mediator

import (
	"context"
	"database/sql"
	"time"

	dErrors "keeper/pkg/domain-errors"
	txcontext "keeper/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// NoTx runs fn directly. It backs the in-memory store, where a write cannot
// be rolled back once applied.
type NoTx struct{}

func (NoTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// PostgresTx shares one SQL transaction between the record store and the
// outbox-backed audit sink.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db, timeout: defaultTxTimeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	return txcontext.Run(ctx, t.db, fn)
}
