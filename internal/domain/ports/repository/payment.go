package repository

import (
	"context"
	"time"

	"credit-settlement/internal/domain/model"
)

// -----------------------------
// Payment orders
// -----------------------------

// PaymentOrderRepository persists orders. Lookups taken inside a transaction lock the row.
type PaymentOrderRepository interface {
	// Create inserts a pending order and sets its ID. A second pending order for the
	// same user fails with *domain.PendingOrderError.
	Create(ctx context.Context, tx Tx, o *model.PaymentOrder) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.PaymentOrder, error)
	FindByMerchantOrderNo(ctx context.Context, tx Tx, merchantOrderNo string) (*model.PaymentOrder, error)
	// FindPendingByUser returns the user's open order or domain.ErrNotFound.
	FindPendingByUser(ctx context.Context, tx Tx, userID int64) (*model.PaymentOrder, error)
	// Update writes status, pending flag and provider fields.
	Update(ctx context.Context, tx Tx, o *model.PaymentOrder) error
	ListByUser(ctx context.Context, tx Tx, userID int64, offset, limit int) ([]*model.PaymentOrder, int64, error)
	// CloseStalePending closes orders still pending and created before olderThan.
	CloseStalePending(ctx context.Context, tx Tx, olderThan, now time.Time) (int64, error)
	Stats(ctx context.Context, tx Tx) (*model.OrderStats, error)
}
