package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
	"credit-settlement/internal/infra/logging"
	"credit-settlement/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase owns user balances. Every balance change appends exactly one
// ledger entry in the same transaction as the profile update.
type LedgerUseCase interface {
	Credit(ctx context.Context, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error)
	Debit(ctx context.Context, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error)
	// CreditTx and DebitTx join the caller's transaction.
	CreditTx(ctx context.Context, tx repository.Tx, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error)
	DebitTx(ctx context.Context, tx repository.Tx, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error)

	Balance(ctx context.Context, userID int64) (int64, error)
	Profile(ctx context.Context, userID int64) (*model.UserProfile, error)
	History(ctx context.Context, userID int64, offset, limit int) (*model.LedgerPage, error)
	// ConsumeFreeUsage decrements free usage counter 1 or 2 and returns what is left.
	ConsumeFreeUsage(ctx context.Context, userID int64, counter int) (int, error)
	AdminAdjust(ctx context.Context, u model.AssetUpdate) (*model.UserProfile, error)
	Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error)
}

type ledgerUC struct {
	profiles repository.UserProfileRepository
	entries  repository.CreditTransactionRepository
	audit    repository.AuditLogRepository
	tm       repository.TransactionManager
	defaults model.ProfileDefaults
	log      *zerolog.Logger
	now      func() time.Time
}

func NewLedgerUseCase(
	profiles repository.UserProfileRepository,
	entries repository.CreditTransactionRepository,
	audit repository.AuditLogRepository,
	tm repository.TransactionManager,
	defaults model.ProfileDefaults,
	logger *zerolog.Logger,
) *ledgerUC {
	return &ledgerUC{
		profiles: profiles,
		entries:  entries,
		audit:    audit,
		tm:       tm,
		defaults: defaults,
		log:      logger,
		now:      time.Now,
	}
}

// loadProfile materialises the profile; any storage failure other than a
// validation error surfaces as ErrProfileUnavailable.
func (u *ledgerUC) loadProfile(ctx context.Context, tx repository.Tx, userID int64) (*model.UserProfile, error) {
	p, err := u.profiles.GetOrCreate(ctx, tx, userID, u.defaults)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: user %d: %v", domain.ErrProfileUnavailable, userID, err)
	}
	return p, nil
}

func (u *ledgerUC) apply(ctx context.Context, tx repository.Tx, userID, delta int64, source string, sourceID *int64) (*model.CreditTransaction, error) {
	if source == "" {
		return nil, domain.Validationf("ledger source is required")
	}
	p, err := u.loadProfile(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if p.Credits+delta < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d", domain.ErrInsufficientCredits, p.Credits, -delta)
	}

	now := u.now()
	p.Credits += delta
	p.UpdatedAt = now
	if err := u.profiles.Save(ctx, tx, p); err != nil {
		return nil, err
	}
	e := &model.CreditTransaction{
		UserID:       userID,
		Amount:       delta,
		BalanceAfter: p.Credits,
		Source:       source,
		SourceID:     sourceID,
		CreatedAt:    now,
	}
	if err := u.entries.Append(ctx, tx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (u *ledgerUC) CreditTx(ctx context.Context, tx repository.Tx, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, domain.Validationf("credit amount must be positive, got %d", amount)
	}
	return u.apply(ctx, tx, userID, amount, source, sourceID)
}

func (u *ledgerUC) DebitTx(ctx context.Context, tx repository.Tx, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, domain.Validationf("debit amount must be positive, got %d", amount)
	}
	return u.apply(ctx, tx, userID, -amount, source, sourceID)
}

func (u *ledgerUC) Credit(ctx context.Context, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Credit")()

	var e *model.CreditTransaction
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		e, err = u.CreditTx(ctx, tx, userID, amount, source, sourceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.IncLedgerEntry(source, amount)
	return e, nil
}

func (u *ledgerUC) Debit(ctx context.Context, userID, amount int64, source string, sourceID *int64) (*model.CreditTransaction, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Debit")()

	var e *model.CreditTransaction
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		e, err = u.DebitTx(ctx, tx, userID, amount, source, sourceID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			logging.With(ctx, u.log).Info().Int64("user_id", userID).Int64("amount", amount).Msg("debit refused: insufficient credits")
		}
		return nil, err
	}
	metrics.IncLedgerEntry(source, -amount)
	return e, nil
}

func (u *ledgerUC) Balance(ctx context.Context, userID int64) (int64, error) {
	p, err := u.Profile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}

func (u *ledgerUC) Profile(ctx context.Context, userID int64) (*model.UserProfile, error) {
	return u.loadProfile(ctx, repository.NoTX, userID)
}

func (u *ledgerUC) History(ctx context.Context, userID int64, offset, limit int) (*model.LedgerPage, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	items, total, err := u.entries.ListByUser(ctx, repository.NoTX, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	return &model.LedgerPage{Items: items, Total: total}, nil
}

func (u *ledgerUC) ConsumeFreeUsage(ctx context.Context, userID int64, counter int) (int, error) {
	if counter != 1 && counter != 2 {
		return 0, domain.Validationf("unknown free usage counter %d", counter)
	}
	var left int
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.loadProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		slot := &p.FreeModel1Usages
		if counter == 2 {
			slot = &p.FreeModel2Usages
		}
		if *slot <= 0 {
			return domain.ErrNoFreeUsage
		}
		*slot--
		left = *slot
		p.UpdatedAt = u.now()
		return u.profiles.Save(ctx, tx, p)
	})
	return left, err
}

// AdminAdjust applies an asset update with its audit record in one transaction.
// A credits change is booked as an admin_adjustment entry for the delta.
func (u *ledgerUC) AdminAdjust(ctx context.Context, upd model.AssetUpdate) (*model.UserProfile, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.AdminAdjust")()
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	var out *model.UserProfile
	var delta int64
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.loadProfile(ctx, tx, upd.UserID)
		if err != nil {
			return err
		}
		before, err := json.Marshal(p.Assets())
		if err != nil {
			return err
		}

		now := u.now()
		if upd.Credits != nil {
			delta = *upd.Credits - p.Credits
		}
		if upd.MembershipTier != nil {
			p.MembershipTier = *upd.MembershipTier
		}
		if upd.MembershipExpiresAt != nil {
			exp := *upd.MembershipExpiresAt
			p.MembershipExpiresAt = &exp
		}
		if upd.FreeModel1Usages != nil {
			p.FreeModel1Usages = *upd.FreeModel1Usages
		}
		if upd.FreeModel2Usages != nil {
			p.FreeModel2Usages = *upd.FreeModel2Usages
		}
		if delta != 0 {
			p.Credits += delta
		}
		p.UpdatedAt = now
		if err := u.profiles.Save(ctx, tx, p); err != nil {
			return err
		}
		if delta != 0 {
			if err := u.entries.Append(ctx, tx, &model.CreditTransaction{
				UserID:       p.UserID,
				Amount:       delta,
				BalanceAfter: p.Credits,
				Source:       model.SourceAdminAdjustment,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		after, err := json.Marshal(p.Assets())
		if err != nil {
			return err
		}
		if err := u.audit.Save(ctx, tx, &model.AuditLog{
			AdminID:         upd.AdminID,
			TargetUserID:    upd.UserID,
			OperationType:   model.AuditOpAssetUpdate,
			OperationDetail: fmt.Sprintf("asset update by admin %d", upd.AdminID),
			BeforeData:      string(before),
			AfterData:       string(after),
			IPAddress:       upd.IPAddress,
			UserAgent:       upd.UserAgent,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if delta != 0 {
		metrics.IncLedgerEntry(model.SourceAdminAdjustment, delta)
	}
	logging.With(ctx, u.log).Info().
		Int64("admin_id", upd.AdminID).Int64("user_id", upd.UserID).Int64("credits_delta", delta).
		Msg("assets updated")
	return out, nil
}

// Reconcile reads balance and ledger totals inside one transaction so the
// profile row lock keeps writers out while they are compared.
func (u *ledgerUC) Reconcile(ctx context.Context, userID int64) (*model.Reconciliation, error) {
	var r *model.Reconciliation
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.loadProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, count, last, err := u.entries.Totals(ctx, tx, userID)
		if err != nil {
			return err
		}
		r = &model.Reconciliation{
			UserID:          userID,
			ProfileBalance:  p.Credits,
			LedgerSum:       sum,
			LastBalance:     last,
			Entries:         count,
			BalanceMatches:  p.Credits == sum,
			SnapshotMatches: p.Credits == last,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !r.OK() {
		logging.With(ctx, u.log).Warn().
			Int64("user_id", userID).Int64("balance", r.ProfileBalance).
			Int64("ledger_sum", r.LedgerSum).Int64("last_balance", r.LastBalance).
			Msg("ledger out of balance")
	}
	return r, nil
}
