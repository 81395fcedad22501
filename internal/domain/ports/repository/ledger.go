package repository

import (
	"context"

	"credit-settlement/internal/domain/model"
)

// CreditTransactionRepository is append-only.
type CreditTransactionRepository interface {
	// Append stores the entry and sets its ID. A second recharge for the same
	// source id fails with domain.ErrAlreadyApplied.
	Append(ctx context.Context, tx Tx, e *model.CreditTransaction) error
	ListByUser(ctx context.Context, tx Tx, userID int64, offset, limit int) ([]*model.CreditTransaction, int64, error)
	FindBySource(ctx context.Context, tx Tx, source string, sourceID int64) ([]*model.CreditTransaction, error)
	// Totals returns the amount sum, entry count and the latest balance_after.
	Totals(ctx context.Context, tx Tx, userID int64) (sum, count, lastBalance int64, err error)
}

type AuditLogRepository interface {
	Save(ctx context.Context, tx Tx, l *model.AuditLog) error
}
