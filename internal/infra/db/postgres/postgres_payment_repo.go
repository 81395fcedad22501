package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.PaymentOrderRepository = (*paymentOrderRepo)(nil)

type paymentOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepo(pool *pgxpool.Pool) *paymentOrderRepo {
	return &paymentOrderRepo{pool: pool}
}

const orderColumns = `id, user_id, out_trade_no, pid, type, notify_url, name, money, clientip, param, sign, sign_type,
  trade_no, trade_status, status, unique_pending_flag, created_at, updated_at, endtime`

func scanOrder(row pgx.Row) (*model.PaymentOrder, error) {
	o := &model.PaymentOrder{}
	var channel string
	var status int16
	if err := row.Scan(&o.ID, &o.UserID, &o.MerchantOrderNo, &o.MerchantID, &channel, &o.NotifyURL, &o.Name, &o.Amount,
		&o.ClientIP, &o.Param, &o.Sign, &o.SignType, &o.TradeNo, &o.TradeStatus, &status, &o.PendingFlag,
		&o.CreatedAt, &o.UpdatedAt, &o.CompletedAt); err != nil {
		return nil, err
	}
	o.Channel = model.PaymentChannel(channel)
	o.Status = model.OrderStatus(status)
	return o, nil
}

func (r *paymentOrderRepo) Create(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	const q = `
INSERT INTO payment_orders (
  user_id, out_trade_no, pid, type, notify_url, name, money, clientip, param, sign, sign_type,
  trade_no, trade_status, status, unique_pending_flag, created_at, updated_at, endtime
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING id;`

	row, err := pickRow(ctx, r.pool, tx, q, o.UserID, o.MerchantOrderNo, o.MerchantID, string(o.Channel), o.NotifyURL,
		o.Name, o.Amount, o.ClientIP, o.Param, o.Sign, o.SignType, o.TradeNo, o.TradeStatus, int16(o.Status),
		o.PendingFlag, o.CreatedAt, o.UpdatedAt, o.CompletedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&o.ID); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "uq_payment_orders_user_pending" {
				return &domain.PendingOrderError{}
			}
			return fmt.Errorf("%w: merchant order number %s exists", domain.ErrConflict, o.MerchantOrderNo)
		}
		return mapErr(err)
	}
	return nil
}

func (r *paymentOrderRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.PaymentOrder, error) {
	q := lockIfTx(`SELECT `+orderColumns+` FROM payment_orders WHERE `+where, tx)
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (r *paymentOrderRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentOrder, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}

func (r *paymentOrderRepo) FindByMerchantOrderNo(ctx context.Context, tx repository.Tx, no string) (*model.PaymentOrder, error) {
	return r.findOne(ctx, tx, "out_trade_no=$1", no)
}

func (r *paymentOrderRepo) FindPendingByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.PaymentOrder, error) {
	return r.findOne(ctx, tx, "user_id=$1 AND unique_pending_flag=0", userID)
}

func (r *paymentOrderRepo) Update(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	const q = `
UPDATE payment_orders
   SET status=$2, unique_pending_flag=$3, trade_no=$4, trade_status=$5, endtime=$6, updated_at=$7
 WHERE id=$1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, o.ID, int16(o.Status), o.PendingFlag, o.TradeNo, o.TradeStatus, o.CompletedAt, o.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return &domain.PendingOrderError{}
		}
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentOrderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, offset, limit int) ([]*model.PaymentOrder, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM payment_orders WHERE user_id=$1;`, userID)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return nil, 0, domain.ErrReadDatabaseRow
	}

	q := `SELECT ` + orderColumns + ` FROM payment_orders WHERE user_id=$1 ORDER BY id DESC OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, offset, limit)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, domain.ErrReadDatabaseRow
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err)
	}
	return out, total, nil
}

// CloseStalePending re-checks status in the UPDATE itself, so it waits on and
// then skips rows a concurrent settlement has locked and moved to Success.
func (r *paymentOrderRepo) CloseStalePending(ctx context.Context, tx repository.Tx, olderThan, now time.Time) (int64, error) {
	const q = `
UPDATE payment_orders
   SET status=2, unique_pending_flag=id, updated_at=$2
 WHERE status=0 AND created_at < $1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, olderThan, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}

func (r *paymentOrderRepo) Stats(ctx context.Context, tx repository.Tx) (*model.OrderStats, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status=0),
       COUNT(*) FILTER (WHERE status=1),
       COUNT(*) FILTER (WHERE status=2),
       COALESCE(SUM(money) FILTER (WHERE status=1), 0)
  FROM payment_orders;`

	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	st := &model.OrderStats{}
	var total decimal.Decimal
	if err := row.Scan(&st.Total, &st.Pending, &st.Success, &st.Closed, &total); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	st.TotalAmount = total
	return st, nil
}
