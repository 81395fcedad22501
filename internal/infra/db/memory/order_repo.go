package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.PaymentOrderRepository = (*orderRepo)(nil)

type orderRepo struct{ s *Store }

func NewOrderRepo(s *Store) *orderRepo { return &orderRepo{s: s} }

func (r *orderRepo) Create(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	done, err := r.s.enter(tx)
	if err != nil {
		return err
	}
	defer done()

	for _, ex := range r.s.orders {
		if ex.MerchantOrderNo == o.MerchantOrderNo {
			return fmt.Errorf("%w: merchant order number %s exists", domain.ErrConflict, o.MerchantOrderNo)
		}
		if ex.UserID == o.UserID && ex.PendingFlag == 0 && o.PendingFlag == 0 {
			return &domain.PendingOrderError{}
		}
	}
	r.s.nextOrderID++
	o.ID = r.s.nextOrderID
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentOrder, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, err
	}
	defer done()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *orderRepo) FindByMerchantOrderNo(ctx context.Context, tx repository.Tx, no string) (*model.PaymentOrder, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, err
	}
	defer done()

	for _, o := range r.s.orders {
		if o.MerchantOrderNo == no {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *orderRepo) FindPendingByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.PaymentOrder, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, err
	}
	defer done()

	for _, o := range r.s.orders {
		if o.UserID == userID && o.PendingFlag == 0 {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *orderRepo) Update(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	done, err := r.s.enter(tx)
	if err != nil {
		return err
	}
	defer done()

	if _, ok := r.s.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *orderRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, offset, limit int) ([]*model.PaymentOrder, int64, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, 0, err
	}
	defer done()

	var all []*model.PaymentOrder
	for _, o := range r.s.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	from, to := page(len(all), offset, limit)
	out := make([]*model.PaymentOrder, 0, to-from)
	for _, o := range all[from:to] {
		out = append(out, cloneOrder(o))
	}
	return out, int64(len(all)), nil
}

func (r *orderRepo) CloseStalePending(ctx context.Context, tx repository.Tx, olderThan, now time.Time) (int64, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return 0, err
	}
	defer done()

	var n int64
	for _, o := range r.s.orders {
		if o.Status == model.OrderStatusPending && o.CreatedAt.Before(olderThan) {
			o.Status = model.OrderStatusClosed
			o.PendingFlag = o.ID
			o.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *orderRepo) Stats(ctx context.Context, tx repository.Tx) (*model.OrderStats, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, err
	}
	defer done()

	st := &model.OrderStats{TotalAmount: decimal.Zero}
	for _, o := range r.s.orders {
		st.Total++
		switch o.Status {
		case model.OrderStatusPending:
			st.Pending++
		case model.OrderStatusSuccess:
			st.Success++
			st.TotalAmount = st.TotalAmount.Add(o.Amount)
		case model.OrderStatusClosed:
			st.Closed++
		}
	}
	return st, nil
}
