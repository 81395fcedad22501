package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the backend-specific transaction handle (pgx.Tx for Postgres, *sql.Tx for
// SQLite, a memory handle in tests). Repositories accept nil for the
// non-transactional path and lock rows they read when given a handle.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
//
//	err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		o, err := orders.FindByMerchantOrderNo(ctx, tx, no) // row locked until commit
//		...
//	})
//
// Non-Postgres backends ignore txOpt.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
