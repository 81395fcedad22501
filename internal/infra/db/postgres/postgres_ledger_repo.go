package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.CreditTransactionRepository = (*creditTransactionRepo)(nil)

type creditTransactionRepo struct{ pool *pgxpool.Pool }

func NewLedgerRepo(pool *pgxpool.Pool) *creditTransactionRepo {
	return &creditTransactionRepo{pool: pool}
}

func (r *creditTransactionRepo) Append(ctx context.Context, tx repository.Tx, e *model.CreditTransaction) error {
	const q = `
INSERT INTO credit_transactions (user_id, amount, balance_after, source, source_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, e.UserID, e.Amount, e.BalanceAfter, e.Source, e.SourceID, e.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&e.ID); err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "uq_credit_transactions_recharge" {
			return domain.ErrAlreadyApplied
		}
		return mapErr(err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]*model.CreditTransaction, error) {
	defer rows.Close()
	var out []*model.CreditTransaction
	for rows.Next() {
		e := &model.CreditTransaction{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Source, &e.SourceID, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (r *creditTransactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, offset, limit int) ([]*model.CreditTransaction, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM credit_transactions WHERE user_id=$1;`, userID)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return nil, 0, domain.ErrReadDatabaseRow
	}

	const q = `SELECT id, user_id, amount, balance_after, source, source_id, created_at
  FROM credit_transactions WHERE user_id=$1 ORDER BY id DESC OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, offset, limit)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	out, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *creditTransactionRepo) FindBySource(ctx context.Context, tx repository.Tx, source string, sourceID int64) ([]*model.CreditTransaction, error) {
	const q = `SELECT id, user_id, amount, balance_after, source, source_id, created_at
  FROM credit_transactions WHERE source=$1 AND source_id=$2 ORDER BY id;`
	rows, err := queryRows(ctx, r.pool, tx, q, source, sourceID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanEntries(rows)
}

func (r *creditTransactionRepo) Totals(ctx context.Context, tx repository.Tx, userID int64) (int64, int64, int64, error) {
	const q = `
SELECT COALESCE(SUM(amount), 0)::BIGINT,
       COUNT(*),
       COALESCE((SELECT balance_after FROM credit_transactions WHERE user_id=$1 ORDER BY id DESC LIMIT 1), 0)
  FROM credit_transactions WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, 0, 0, err
	}
	var sum, count, last int64
	if err := row.Scan(&sum, &count, &last); err != nil {
		return 0, 0, 0, domain.ErrReadDatabaseRow
	}
	return sum, count, last, nil
}
