package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var (
	_ repository.CreditTransactionRepository = (*ledgerRepo)(nil)
	_ repository.AuditLogRepository          = (*auditRepo)(nil)
)

type ledgerRepo struct{ d *DB }

func NewLedgerRepo(d *DB) *ledgerRepo { return &ledgerRepo{d: d} }

func (r *ledgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.CreditTransaction) error {
	ex, err := r.d.exec(tx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
INSERT INTO credit_transactions (user_id, amount, balance_after, source, source_id, created_at)
VALUES (?,?,?,?,?,?);`, e.UserID, e.Amount, e.BalanceAfter, e.Source, e.SourceID, micros(e.CreatedAt))
	if err != nil {
		if cols, ok := uniqueViolation(err); ok && strings.Contains(cols, "credit_transactions.source") {
			return domain.ErrAlreadyApplied
		}
		return mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapErr(err)
	}
	e.ID = id
	return nil
}

const entryColumns = `id, user_id, amount, balance_after, source, source_id, created_at`

func scanEntries(rows *sql.Rows) ([]*model.CreditTransaction, error) {
	defer rows.Close()
	var out []*model.CreditTransaction
	for rows.Next() {
		e := &model.CreditTransaction{}
		var sourceID sql.NullInt64
		var created int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Source, &sourceID, &created); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if sourceID.Valid {
			id := sourceID.Int64
			e.SourceID = &id
		}
		e.CreatedAt = fromMicros(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (r *ledgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, offset, limit int) ([]*model.CreditTransaction, int64, error) {
	ex, err := r.d.exec(tx)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_transactions WHERE user_id=?`, userID).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}
	rows, err := ex.QueryContext(ctx, `SELECT `+entryColumns+` FROM credit_transactions WHERE user_id=? ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	out, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *ledgerRepo) FindBySource(ctx context.Context, tx repository.Tx, source string, sourceID int64) ([]*model.CreditTransaction, error) {
	ex, err := r.d.exec(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT `+entryColumns+` FROM credit_transactions WHERE source=? AND source_id=? ORDER BY id`,
		source, sourceID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanEntries(rows)
}

func (r *ledgerRepo) Totals(ctx context.Context, tx repository.Tx, userID int64) (int64, int64, int64, error) {
	ex, err := r.d.exec(tx)
	if err != nil {
		return 0, 0, 0, err
	}
	var sum, count, last int64
	err = ex.QueryRowContext(ctx, `
SELECT COALESCE(SUM(amount), 0),
       COUNT(*),
       COALESCE((SELECT balance_after FROM credit_transactions WHERE user_id=? ORDER BY id DESC LIMIT 1), 0)
  FROM credit_transactions WHERE user_id=?`, userID, userID).Scan(&sum, &count, &last)
	if err != nil {
		return 0, 0, 0, mapErr(err)
	}
	return sum, count, last, nil
}

type auditRepo struct{ d *DB }

func NewAuditRepo(d *DB) *auditRepo { return &auditRepo{d: d} }

func (r *auditRepo) Save(ctx context.Context, tx repository.Tx, l *model.AuditLog) error {
	ex, err := r.d.exec(tx)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
INSERT INTO admin_operation_logs
  (admin_id, target_user_id, operation_type, operation_detail, before_data, after_data, ip_address, user_agent, created_at)
VALUES (?,?,?,?,?,?,?,?,?);`, l.AdminID, l.TargetUserID, l.OperationType, l.OperationDetail,
		l.BeforeData, l.AfterData, l.IPAddress, l.UserAgent, micros(l.CreatedAt))
	if err != nil {
		return mapErr(err)
	}
	l.ID, err = res.LastInsertId()
	return mapErr(err)
}
