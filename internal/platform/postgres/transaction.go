package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// RunInTx executes fn inside a transaction. Repositories called with the derived context
// join it through DB.Conn. Nested calls reuse the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	if db == nil || db.pool == nil {
		return errors.New("postgres: not initialised")
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WrapError("begin", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return WrapError("commit", fmt.Errorf("postgres: commit: %w", err))
	}
	return nil
}
