package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
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
var _ OrderUseCase = (*orderUC)(nil)

// CheckoutResult is what the client needs to send the user to the provider.
type CheckoutResult struct {
	Order  *model.PaymentOrder
	Intent *adapter.PaymentIntent
}

type OrderUseCase interface {
	// CreatePending opens a signed order. A user holds at most one Pending order;
	// one younger than the pending window yields *domain.PendingOrderError.
	CreatePending(ctx context.Context, userID int64, name string, amount decimal.Decimal, channel model.PaymentChannel, clientIP, param string) (*model.PaymentOrder, error)
	// Checkout creates the order for a catalog product and registers it with the provider.
	Checkout(ctx context.Context, userID int64, productID string, channel model.PaymentChannel, clientIP string) (*CheckoutResult, error)
	Cancel(ctx context.Context, userID, orderID int64) (*model.PaymentOrder, error)
	// Get is scoped to the owner; other users' orders are not found.
	Get(ctx context.Context, userID, orderID int64) (*model.PaymentOrder, error)
	FindByID(ctx context.Context, id int64) (*model.PaymentOrder, error)
	FindByMerchantOrderNo(ctx context.Context, no string) (*model.PaymentOrder, error)
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*model.PaymentOrder, int64, error)
	Stats(ctx context.Context) (*model.OrderStats, error)
	// SweepExpiredPending closes Pending orders created before olderThan.
	SweepExpiredPending(ctx context.Context, olderThan time.Time) (int64, error)
}

// OrderOptions tunes order creation.
type OrderOptions struct {
	PendingWindow    time.Duration
	CreateRateLimit  int
	CreateRateWindow time.Duration
}

type orderUC struct {
	orders  repository.PaymentOrderRepository
	tm      repository.TransactionManager
	gateway adapter.PaymentGateway
	catalog adapter.ProductCatalog
	limiter adapter.RateLimiter // optional
	opts    OrderOptions
	log     *zerolog.Logger
	now     func() time.Time
}

func NewOrderUseCase(
	orders repository.PaymentOrderRepository,
	tm repository.TransactionManager,
	gateway adapter.PaymentGateway,
	catalog adapter.ProductCatalog,
	limiter adapter.RateLimiter,
	opts OrderOptions,
	logger *zerolog.Logger,
) *orderUC {
	if opts.PendingWindow <= 0 {
		opts.PendingWindow = 5 * time.Minute
	}
	return &orderUC{
		orders:  orders,
		tm:      tm,
		gateway: gateway,
		catalog: catalog,
		limiter: limiter,
		opts:    opts,
		log:     logger,
		now:     time.Now,
	}
}

func orderCreateKey(userID int64) string {
	return fmt.Sprintf("rate_limit:%d:order_create", userID)
}

// newMerchantOrderNo renders ORD + local timestamp + the 16 random characters of a ULID.
func newMerchantOrderNo(now time.Time) string {
	id := ulid.Make().String()
	return "ORD" + now.Format("20060102150405") + id[10:]
}

func (u *orderUC) CreatePending(ctx context.Context, userID int64, name string, amount decimal.Decimal, channel model.PaymentChannel, clientIP, param string) (*model.PaymentOrder, error) {
	defer logging.TraceDuration(u.log, "OrderUC.CreatePending")()

	switch {
	case userID <= 0:
		return nil, domain.ErrInvalidArgument
	case !amount.IsPositive():
		return nil, domain.Validationf("amount must be positive")
	case !channel.Valid():
		return nil, domain.Validationf("unsupported payment channel %q", channel)
	case name == "":
		return nil, domain.Validationf("order name is required")
	}

	var created *model.PaymentOrder
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := u.now()
		existing, err := u.orders.FindPendingByUser(ctx, tx, userID)
		switch {
		case err == nil:
			if now.Sub(existing.CreatedAt) < u.opts.PendingWindow {
				return &domain.PendingOrderError{MerchantOrderNo: existing.MerchantOrderNo}
			}
			if err := existing.Transition(model.OrderStatusClosed, model.ProviderFields{}, now); err != nil {
				return err
			}
			if err := u.orders.Update(ctx, tx, existing); err != nil {
				return err
			}
			metrics.IncOrder("closed_stale")
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		o := &model.PaymentOrder{
			UserID:          userID,
			MerchantOrderNo: newMerchantOrderNo(now),
			MerchantID:      u.gateway.MerchantID(),
			Channel:         channel,
			NotifyURL:       u.gateway.NotifyURL(),
			Name:            name,
			Amount:          amount.Round(2),
			ClientIP:        clientIP,
			Param:           param,
			SignType:        model.SignTypeMD5,
			Status:          model.OrderStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		o.Sign = u.gateway.Sign(o.ProviderParams())
		if err := u.orders.Create(ctx, tx, o); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		var pe *domain.PendingOrderError
		if errors.As(err, &pe) && pe.MerchantOrderNo == "" {
			// lost the race on the unique index; report the winner
			if winner, ferr := u.orders.FindPendingByUser(ctx, repository.NoTX, userID); ferr == nil {
				pe.MerchantOrderNo = winner.MerchantOrderNo
			}
		}
		return nil, err
	}

	metrics.IncOrder("created")
	logging.With(logging.WithOrderNo(ctx, created.MerchantOrderNo), u.log).Info().
		Int64("user_id", userID).Str("amount", created.AmountString()).Str("channel", string(channel)).
		Msg("pending order created")
	return created, nil
}

func (u *orderUC) Checkout(ctx context.Context, userID int64, productID string, channel model.PaymentChannel, clientIP string) (*CheckoutResult, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Checkout")()

	product, err := u.catalog.Get(productID)
	if err != nil {
		return nil, domain.Validationf("invalid product id %q", productID)
	}

	if u.limiter != nil && u.opts.CreateRateLimit > 0 {
		ok, err := u.limiter.Allow(ctx, orderCreateKey(userID), u.opts.CreateRateLimit, u.opts.CreateRateWindow)
		if err != nil {
			// limiter outage must not block payments
			u.log.Warn().Err(err).Int64("user_id", userID).Msg("order rate limiter unavailable")
		} else if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	o, err := u.CreatePending(ctx, userID, product.Name, product.Price, channel, clientIP, model.ProductParam(product.ID))
	if err != nil {
		return nil, err
	}

	intent, err := u.gateway.RequestPayment(ctx, o)
	if err != nil {
		metrics.IncProviderRequest(u.gateway.Name(), "error")
		logging.With(logging.WithOrderNo(ctx, o.MerchantOrderNo), u.log).Error().Err(err).Msg("provider create call failed, closing order")
		// the request context may already be done; closing must still happen
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, cerr := u.close(closeCtx, o.ID, 0); cerr != nil {
			u.log.Error().Err(cerr).Int64("order_id", o.ID).Msg("failed to close order after provider error")
		}
		if !errors.Is(err, domain.ErrExternalService) {
			err = fmt.Errorf("%w: %v", domain.ErrExternalService, err)
		}
		return nil, err
	}
	metrics.IncProviderRequest(u.gateway.Name(), "ok")

	if intent.TradeNo != "" {
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := u.orders.FindByID(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			if cur.Status != model.OrderStatusPending || cur.TradeNo != nil {
				return nil
			}
			tn := intent.TradeNo
			cur.TradeNo = &tn
			cur.UpdatedAt = u.now()
			if err := u.orders.Update(ctx, tx, cur); err != nil {
				return err
			}
			o = cur
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return &CheckoutResult{Order: o, Intent: intent}, nil
}

// close moves a Pending order to Closed. ownerID 0 skips the ownership check.
func (u *orderUC) close(ctx context.Context, orderID, ownerID int64) (*model.PaymentOrder, error) {
	var out *model.PaymentOrder
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		o, err := u.orders.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if ownerID != 0 && o.UserID != ownerID {
			return domain.ErrNotFound
		}
		if err := o.Transition(model.OrderStatusClosed, model.ProviderFields{}, u.now()); err != nil {
			return err
		}
		if err := u.orders.Update(ctx, tx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncOrder("closed")
	return out, nil
}

func (u *orderUC) Cancel(ctx context.Context, userID, orderID int64) (*model.PaymentOrder, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Cancel")()
	if userID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	o, err := u.close(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	logging.With(logging.WithOrderNo(ctx, o.MerchantOrderNo), u.log).Info().Int64("user_id", userID).Msg("order cancelled")
	return o, nil
}

func (u *orderUC) Get(ctx context.Context, userID, orderID int64) (*model.PaymentOrder, error) {
	o, err := u.orders.FindByID(ctx, repository.NoTX, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (u *orderUC) FindByID(ctx context.Context, id int64) (*model.PaymentOrder, error) {
	return u.orders.FindByID(ctx, repository.NoTX, id)
}

func (u *orderUC) FindByMerchantOrderNo(ctx context.Context, no string) (*model.PaymentOrder, error) {
	return u.orders.FindByMerchantOrderNo(ctx, repository.NoTX, no)
}

func (u *orderUC) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*model.PaymentOrder, int64, error) {
	if userID <= 0 {
		return nil, 0, domain.ErrInvalidArgument
	}
	return u.orders.ListByUser(ctx, repository.NoTX, userID, offset, limit)
}

func (u *orderUC) Stats(ctx context.Context) (*model.OrderStats, error) {
	return u.orders.Stats(ctx, repository.NoTX)
}

func (u *orderUC) SweepExpiredPending(ctx context.Context, olderThan time.Time) (int64, error) {
	defer logging.TraceDuration(u.log, "OrderUC.SweepExpiredPending")()

	n, err := u.orders.CloseStalePending(ctx, repository.NoTX, olderThan, u.now())
	if err != nil {
		return 0, err
	}
	metrics.AddSwept(n)
	if n > 0 {
		u.log.Info().Int64("closed", n).Time("older_than", olderThan).Msg("stale pending orders closed")
	}
	return n, nil
}
