package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// InTx runs fn inside a transaction carried by the returned context.
// Repositories that resolve their handle through Queryer(ctx) join it
// automatically. Nested calls reuse the outer transaction.
//
// Usage:
//
//	err := db.InTx(ctx, func(ctx context.Context) error {
//	    if err := movements.Insert(ctx, m); err != nil {
//	        return err
//	    }
//	    return lots.Apply(ctx, deltas)
//	})
func (db *DB) InTx(ctx context.Context, fn func(context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Queryer returns the transaction stored in ctx, or the pool when there is none.
func (db *DB) Queryer(ctx context.Context) Querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db.DB
}

func txFrom(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
