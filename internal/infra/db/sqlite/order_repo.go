package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.PaymentOrderRepository = (*orderRepo)(nil)

type orderRepo struct{ d *DB }

func NewOrderRepo(d *DB) *orderRepo { return &orderRepo{d: d} }

const orderColumns = `id, user_id, out_trade_no, pid, type, notify_url, name, money, clientip, param, sign, sign_type,
  trade_no, trade_status, status, unique_pending_flag, created_at, updated_at, endtime`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.PaymentOrder, error) {
	o := &model.PaymentOrder{}
	var (
		channel, money       string
		tradeNo, tradeStatus sql.NullString
		status               int
		created, updated     int64
		completed            sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.MerchantOrderNo, &o.MerchantID, &channel, &o.NotifyURL, &o.Name, &money,
		&o.ClientIP, &o.Param, &o.Sign, &o.SignType, &tradeNo, &tradeStatus, &status, &o.PendingFlag,
		&created, &updated, &completed); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(money)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	o.Amount = amount
	o.Channel = model.PaymentChannel(channel)
	o.Status = model.OrderStatus(status)
	if tradeNo.Valid {
		o.TradeNo = &tradeNo.String
	}
	if tradeStatus.Valid {
		o.TradeStatus = &tradeStatus.String
	}
	o.CreatedAt = fromMicros(created)
	o.UpdatedAt = fromMicros(updated)
	o.CompletedAt = timePtr(completed)
	return o, nil
}

func (r *orderRepo) Create(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	ex, err := r.d.exec(tx)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO payment_orders (
  user_id, out_trade_no, pid, type, notify_url, name, money, clientip, param, sign, sign_type,
  trade_no, trade_status, status, unique_pending_flag, created_at, updated_at, endtime
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`
	res, err := ex.ExecContext(ctx, q, o.UserID, o.MerchantOrderNo, o.MerchantID, string(o.Channel), o.NotifyURL, o.Name,
		o.Amount.StringFixed(2), o.ClientIP, o.Param, o.Sign, o.SignType, o.TradeNo, o.TradeStatus, int(o.Status),
		o.PendingFlag, micros(o.CreatedAt), micros(o.UpdatedAt), nullMicros(o.CompletedAt))
	if err != nil {
		if cols, ok := uniqueViolation(err); ok {
			if strings.Contains(cols, "unique_pending_flag") {
				return &domain.PendingOrderError{}
			}
			return fmt.Errorf("%w: merchant order number %s exists", domain.ErrConflict, o.MerchantOrderNo)
		}
		return mapErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapErr(err)
	}
	o.ID = id
	return nil
}

func (r *orderRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.PaymentOrder, error) {
	ex, err := r.d.exec(tx)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(ex.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE `+where, arg))
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentOrder, error) {
	return r.findOne(ctx, tx, "id=?", id)
}

func (r *orderRepo) FindByMerchantOrderNo(ctx context.Context, tx repository.Tx, no string) (*model.PaymentOrder, error) {
	return r.findOne(ctx, tx, "out_trade_no=?", no)
}

func (r *orderRepo) FindPendingByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.PaymentOrder, error) {
	return r.findOne(ctx, tx, "user_id=? AND unique_pending_flag=0", userID)
}

func (r *orderRepo) Update(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	ex, err := r.d.exec(tx)
	if err != nil {
		return err
	}
	const q = `
UPDATE payment_orders
   SET status=?, unique_pending_flag=?, trade_no=?, trade_status=?, endtime=?, updated_at=?
 WHERE id=?;`
	res, err := ex.ExecContext(ctx, q, int(o.Status), o.PendingFlag, o.TradeNo, o.TradeStatus,
		nullMicros(o.CompletedAt), micros(o.UpdatedAt), o.ID)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return &domain.PendingOrderError{}
		}
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *orderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, offset, limit int) ([]*model.PaymentOrder, int64, error) {
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
	if err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_orders WHERE user_id=?`, userID).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}
	rows, err := ex.QueryContext(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE user_id=? ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
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

func (r *orderRepo) CloseStalePending(ctx context.Context, tx repository.Tx, olderThan, now time.Time) (int64, error) {
	ex, err := r.d.exec(tx)
	if err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, `
UPDATE payment_orders
   SET status=2, unique_pending_flag=id, updated_at=?
 WHERE status=0 AND created_at < ?;`, micros(now), micros(olderThan))
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

// Stats sums amounts in Go; SQLite would add the TEXT column as floats.
func (r *orderRepo) Stats(ctx context.Context, tx repository.Tx) (*model.OrderStats, error) {
	ex, err := r.d.exec(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT status, money FROM payment_orders`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	st := &model.OrderStats{TotalAmount: decimal.Zero}
	for rows.Next() {
		var status int
		var money string
		if err := rows.Scan(&status, &money); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		st.Total++
		switch model.OrderStatus(status) {
		case model.OrderStatusPending:
			st.Pending++
		case model.OrderStatusSuccess:
			st.Success++
			if amt, err := decimal.NewFromString(money); err == nil {
				st.TotalAmount = st.TotalAmount.Add(amt)
			}
		case model.OrderStatusClosed:
			st.Closed++
		}
	}
	return st, mapErr(rows.Err())
}
