package memory

import (
	"context"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
)

var (
	_ repository.CreditTransactionRepository = (*ledgerRepo)(nil)
	_ repository.AuditLogRepository          = (*auditRepo)(nil)
)

type ledgerRepo struct{ s *Store }

func NewLedgerRepo(s *Store) *ledgerRepo { return &ledgerRepo{s: s} }

func (r *ledgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.CreditTransaction) error {
	done, err := r.s.enter(tx)
	if err != nil {
		return err
	}
	defer done()

	if e.Source == model.SourceRecharge && e.SourceID != nil {
		for _, ex := range r.s.ledger {
			if ex.Source == model.SourceRecharge && ex.SourceID != nil && *ex.SourceID == *e.SourceID {
				return domain.ErrAlreadyApplied
			}
		}
	}
	r.s.nextEntryID++
	e.ID = r.s.nextEntryID
	r.s.ledger = append(r.s.ledger, cloneEntry(e))
	return nil
}

func (r *ledgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, offset, limit int) ([]*model.CreditTransaction, int64, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, 0, err
	}
	defer done()

	var all []*model.CreditTransaction
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		if r.s.ledger[i].UserID == userID {
			all = append(all, r.s.ledger[i])
		}
	}
	from, to := page(len(all), offset, limit)
	out := make([]*model.CreditTransaction, 0, to-from)
	for _, e := range all[from:to] {
		out = append(out, cloneEntry(e))
	}
	return out, int64(len(all)), nil
}

func (r *ledgerRepo) FindBySource(ctx context.Context, tx repository.Tx, source string, sourceID int64) ([]*model.CreditTransaction, error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return nil, err
	}
	defer done()

	var out []*model.CreditTransaction
	for _, e := range r.s.ledger {
		if e.Source == source && e.SourceID != nil && *e.SourceID == sourceID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (r *ledgerRepo) Totals(ctx context.Context, tx repository.Tx, userID int64) (sum, count, last int64, err error) {
	done, err := r.s.enter(tx)
	if err != nil {
		return 0, 0, 0, err
	}
	defer done()

	for _, e := range r.s.ledger {
		if e.UserID == userID {
			sum += e.Amount
			count++
			last = e.BalanceAfter
		}
	}
	return sum, count, last, nil
}

type auditRepo struct{ s *Store }

func NewAuditRepo(s *Store) *auditRepo { return &auditRepo{s: s} }

func (r *auditRepo) Save(ctx context.Context, tx repository.Tx, l *model.AuditLog) error {
	done, err := r.s.enter(tx)
	if err != nil {
		return err
	}
	defer done()

	r.s.nextAuditID++
	l.ID = r.s.nextAuditID
	cp := *l
	r.s.audit = append(r.s.audit, &cp)
	return nil
}

// AuditLogs returns a copy of the stored audit entries.
func (r *auditRepo) AuditLogs() []model.AuditLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.AuditLog, 0, len(r.s.audit))
	for _, l := range r.s.audit {
		out = append(out, *l)
	}
	return out
}
