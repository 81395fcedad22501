// Package memory is an in-process store used by tests and the demo mode.
// Transactions are serialised on one lock and rolled back by snapshot restore,
// which is stricter than the row locks of the SQL backends.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*Store)(nil)

type Store struct {
	mu sync.Mutex // held for a whole transaction or a single non-transactional call

	orders   map[int64]*model.PaymentOrder
	profiles map[int64]*model.UserProfile
	ledger   []*model.CreditTransaction
	audit    []*model.AuditLog

	nextOrderID int64
	nextEntryID int64
	nextAuditID int64
}

// memTx marks calls made inside WithTx; the store lock is already held.
type memTx struct{ s *Store }

func NewStore() *Store {
	return &Store{
		orders:   make(map[int64]*model.PaymentOrder),
		profiles: make(map[int64]*model.UserProfile),
	}
}

type snapshot struct {
	orders   map[int64]*model.PaymentOrder
	profiles map[int64]*model.UserProfile
	ledger   []*model.CreditTransaction
	audit    []*model.AuditLog
	ids      [3]int64
}

func (s *Store) snapshot() snapshot {
	sn := snapshot{
		orders:   make(map[int64]*model.PaymentOrder, len(s.orders)),
		profiles: make(map[int64]*model.UserProfile, len(s.profiles)),
		ledger:   append([]*model.CreditTransaction(nil), s.ledger...),
		audit:    append([]*model.AuditLog(nil), s.audit...),
		ids:      [3]int64{s.nextOrderID, s.nextEntryID, s.nextAuditID},
	}
	for k, v := range s.orders {
		sn.orders[k] = cloneOrder(v)
	}
	for k, v := range s.profiles {
		sn.profiles[k] = cloneProfile(v)
	}
	return sn
}

func (s *Store) restore(sn snapshot) {
	s.orders = sn.orders
	s.profiles = sn.profiles
	s.ledger = sn.ledger
	s.audit = sn.audit
	s.nextOrderID, s.nextEntryID, s.nextAuditID = sn.ids[0], sn.ids[1], sn.ids[2]
}

// WithTx runs fn with exclusive access and restores the previous state when fn fails.
func (s *Store) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(sn)
		return err
	}
	return nil
}

// enter locks the store for a non-transactional call and returns the unlock func.
func (s *Store) enter(tx repository.Tx) (func(), error) {
	switch v := tx.(type) {
	case nil:
		s.mu.Lock()
		return s.mu.Unlock, nil
	case *memTx:
		if v.s != s {
			return nil, domain.ErrInvalidExecContext
		}
		return func() {}, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

func cloneOrder(o *model.PaymentOrder) *model.PaymentOrder {
	cp := *o
	if o.TradeNo != nil {
		v := *o.TradeNo
		cp.TradeNo = &v
	}
	if o.TradeStatus != nil {
		v := *o.TradeStatus
		cp.TradeStatus = &v
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

func cloneProfile(p *model.UserProfile) *model.UserProfile {
	cp := *p
	if p.MembershipExpiresAt != nil {
		v := *p.MembershipExpiresAt
		cp.MembershipExpiresAt = &v
	}
	return &cp
}

func cloneEntry(e *model.CreditTransaction) *model.CreditTransaction {
	cp := *e
	if e.SourceID != nil {
		v := *e.SourceID
		cp.SourceID = &v
	}
	return &cp
}

func page(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}
