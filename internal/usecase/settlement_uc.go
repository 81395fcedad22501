package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	"credit-settlement/internal/domain/ports/repository"
	"credit-settlement/internal/infra/logging"
	"credit-settlement/internal/infra/metrics"
)

// Compile-time check
var _ SettlementUseCase = (*settlementUC)(nil)

// Outcome is the terminal state of one callback.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeAlreadyApplied
	// OutcomeIgnored is a valid callback with a non-success trade status:
	// acknowledged so the provider stops retrying, nothing applied.
	OutcomeIgnored
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "rejected"
	}
}

// Ack is the literal response body the provider expects.
func (o Outcome) Ack() string {
	if o == OutcomeRejected {
		return "fail"
	}
	return "success"
}

// Rejection and outcome reasons, used in logs and metrics.
const (
	ReasonApplied         = "applied"
	ReasonMissingField    = "missing_field"
	ReasonBadSignature    = "bad_signature"
	ReasonOrderNotFound   = "order_not_found"
	ReasonAlreadyApplied  = "already_applied"
	ReasonBadAmount       = "bad_amount"
	ReasonAmountMismatch  = "amount_mismatch"
	ReasonTradeStatus     = "trade_status"
	ReasonOrderClosed     = "order_closed"
	ReasonUnknownProduct  = "unknown_product"
	ReasonStorageError    = "storage_error"
	ReasonReplayCacheHit  = "replay_cache"
	ReasonGrantValidation = "grant_invalid"
)

// callbackFields must all be present on a provider callback.
var callbackFields = []string{"pid", "trade_no", "out_trade_no", "type", "name", "money", "trade_status", "sign", "sign_type"}

type SettlementResult struct {
	Outcome         Outcome
	Reason          string
	MerchantOrderNo string
	OrderID         int64
	UserID          int64
	CreditsAdded    int64
	Product         string
}

type SettlementUseCase interface {
	// HandleCallback settles one provider notification. The result is always
	// non-nil; the error carries diagnostics for storage failures only.
	HandleCallback(ctx context.Context, params map[string]string) (*SettlementResult, error)
}

type SettlementOptions struct {
	SuccessStatus   string
	LegacyNameMatch bool
	ReplayTTL       time.Duration
}

type settlementUC struct {
	orders     repository.PaymentOrderRepository
	tm         repository.TransactionManager
	gateway    adapter.PaymentGateway
	catalog    adapter.ProductCatalog
	ledger     LedgerUseCase
	membership MembershipUseCase
	cache      adapter.SettlementCache // optional
	opts       SettlementOptions
	log        *zerolog.Logger
	now        func() time.Time
}

func NewSettlementUseCase(
	orders repository.PaymentOrderRepository,
	tm repository.TransactionManager,
	gateway adapter.PaymentGateway,
	catalog adapter.ProductCatalog,
	ledger LedgerUseCase,
	membership MembershipUseCase,
	cache adapter.SettlementCache,
	opts SettlementOptions,
	logger *zerolog.Logger,
) *settlementUC {
	if opts.SuccessStatus == "" {
		opts.SuccessStatus = "TRADE_SUCCESS"
	}
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = 24 * time.Hour
	}
	return &settlementUC{
		orders:     orders,
		tm:         tm,
		gateway:    gateway,
		catalog:    catalog,
		ledger:     ledger,
		membership: membership,
		cache:      cache,
		opts:       opts,
		log:        logger,
		now:        time.Now,
	}
}

var (
	errUnknownProduct = errors.New("unknown product")
	errOrderTerminal  = errors.New("order already closed")
)

func (u *settlementUC) HandleCallback(ctx context.Context, params map[string]string) (*SettlementResult, error) {
	defer logging.TraceDuration(u.log, "SettlementUC.HandleCallback")()
	start := time.Now()

	no := params["out_trade_no"]
	ctx = logging.WithOrderNo(ctx, no)
	log := logging.With(ctx, u.log)

	res, err := u.handle(ctx, params)
	res.MerchantOrderNo = no
	metrics.ObserveSettlement(res.Outcome.String(), res.Reason, time.Since(start))

	lvl := zerolog.InfoLevel
	switch {
	case err != nil || res.Reason == ReasonOrderClosed:
		lvl = zerolog.ErrorLevel
	case res.Outcome == OutcomeRejected || res.Outcome == OutcomeIgnored:
		lvl = zerolog.WarnLevel
	}
	log.WithLevel(lvl).Err(err).
		Str("outcome", res.Outcome.String()).Str("reason", res.Reason).
		Int64("order_id", res.OrderID).Int64("credits", res.CreditsAdded).
		Msg("payment callback handled")
	return res, err
}

func (u *settlementUC) handle(ctx context.Context, params map[string]string) (*SettlementResult, error) {
	reject := func(reason string) *SettlementResult {
		return &SettlementResult{Outcome: OutcomeRejected, Reason: reason}
	}

	// 1. shape
	for _, k := range callbackFields {
		if _, ok := params[k]; !ok {
			return reject(ReasonMissingField), nil
		}
	}
	// 2. signature over everything the provider sent
	if !u.gateway.Verify(params) {
		return reject(ReasonBadSignature), nil
	}
	no := params["out_trade_no"]

	if u.cache != nil {
		if hit, err := u.cache.IsSettled(ctx, no); err == nil && hit {
			return &SettlementResult{Outcome: OutcomeAlreadyApplied, Reason: ReasonReplayCacheHit}, nil
		}
	}

	// 3. order
	o, err := u.orders.FindByMerchantOrderNo(ctx, repository.NoTX, no)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return reject(ReasonOrderNotFound), nil
		}
		return reject(ReasonStorageError), err
	}
	base := SettlementResult{OrderID: o.ID, UserID: o.UserID}

	// 4. idempotency
	if o.Status == model.OrderStatusSuccess {
		u.markSettled(ctx, no)
		base.Outcome, base.Reason = OutcomeAlreadyApplied, ReasonAlreadyApplied
		return &base, nil
	}

	// 5. amount
	money, err := decimal.NewFromString(params["money"])
	if err != nil {
		base.Outcome, base.Reason = OutcomeRejected, ReasonBadAmount
		return &base, nil
	}
	if !model.SameAmount(money, o.Amount) {
		base.Outcome, base.Reason = OutcomeRejected, ReasonAmountMismatch
		return &base, nil
	}

	// 6. non-success statuses are acknowledged without effect
	if params["trade_status"] != u.opts.SuccessStatus {
		base.Outcome, base.Reason = OutcomeIgnored, ReasonTradeStatus
		return &base, nil
	}

	// 7. one unit of work
	var (
		already bool
		product *model.Product
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.orders.FindByMerchantOrderNo(ctx, tx, no)
		if err != nil {
			return err
		}
		if cur.Status == model.OrderStatusSuccess {
			already = true
			return nil
		}
		fields := model.ProviderFields{TradeNo: params["trade_no"], TradeStatus: params["trade_status"]}
		if err := cur.Transition(model.OrderStatusSuccess, fields, u.now()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return errOrderTerminal
			}
			return err
		}
		if err := u.orders.Update(ctx, tx, cur); err != nil {
			return err
		}

		product, err = u.resolveProduct(cur)
		if err != nil {
			return err
		}
		if product.Credits > 0 {
			orderID := cur.ID
			if _, err := u.ledger.CreditTx(ctx, tx, cur.UserID, product.Credits, model.SourceRecharge, &orderID); err != nil {
				return err
			}
		}
		if product.GrantsMembership() {
			if _, err := u.membership.GrantTx(ctx, tx, cur.UserID, product.Membership.Tier, product.Membership.Days); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil && already:
		u.markSettled(ctx, no)
		base.Outcome, base.Reason = OutcomeAlreadyApplied, ReasonAlreadyApplied
		return &base, nil
	case err == nil:
		u.markSettled(ctx, no)
		base.Outcome, base.Reason = OutcomeApplied, ReasonApplied
		base.Product = product.ID
		base.CreditsAdded = product.Credits
		metrics.IncLedgerEntry(model.SourceRecharge, product.Credits)
		metrics.AddRevenue(string(o.Channel), o.Amount.InexactFloat64())
		metrics.IncOrder("settled")
		return &base, nil
	case errors.Is(err, domain.ErrAlreadyApplied):
		base.Outcome, base.Reason = OutcomeAlreadyApplied, ReasonAlreadyApplied
		return &base, nil
	case errors.Is(err, errOrderTerminal):
		base.Outcome, base.Reason = OutcomeRejected, ReasonOrderClosed
		return &base, fmt.Errorf("paid callback for closed order %s", no)
	case errors.Is(err, errUnknownProduct):
		base.Outcome, base.Reason = OutcomeRejected, ReasonUnknownProduct
		return &base, err
	case errors.Is(err, domain.ErrValidation):
		base.Outcome, base.Reason = OutcomeRejected, ReasonGrantValidation
		return &base, err
	default:
		base.Outcome, base.Reason = OutcomeRejected, ReasonStorageError
		return &base, err
	}
}

// resolveProduct prefers the product id recorded on the order; the display
// name lookup is only consulted when legacy matching is enabled.
func (u *settlementUC) resolveProduct(o *model.PaymentOrder) (*model.Product, error) {
	if id := o.ProductID(); id != "" {
		p, err := u.catalog.Get(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errUnknownProduct, id)
		}
		return p, nil
	}
	if u.opts.LegacyNameMatch {
		if p, err := u.catalog.FindByName(o.Name); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: order %s has no product reference", errUnknownProduct, o.MerchantOrderNo)
}

func (u *settlementUC) markSettled(ctx context.Context, no string) {
	if u.cache == nil {
		return
	}
	if err := u.cache.MarkSettled(ctx, no, u.opts.ReplayTTL); err != nil {
		u.log.Warn().Err(err).Str("out_trade_no", no).Msg("replay cache write failed")
	}
}
