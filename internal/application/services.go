package application

import (
	"fmt"

	"github.com/rs/zerolog"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	payAdapters "credit-settlement/internal/infra/adapters/payment"
	"credit-settlement/internal/infra/catalog"
	red "credit-settlement/internal/infra/redis"
	"credit-settlement/internal/usecase"
)

// Services composes the use cases over one backend.
type Services struct {
	Catalog    *catalog.StaticCatalog
	Gateway    adapter.PaymentGateway
	Ledger     usecase.LedgerUseCase
	Membership usecase.MembershipUseCase
	Orders     usecase.OrderUseCase
	Settlement usecase.SettlementUseCase
}

// NewGateway picks the payment provider adapter.
func NewGateway(cfg config.PaymentConfig) (adapter.PaymentGateway, error) {
	switch cfg.Provider {
	case "zpay":
		gw, err := payAdapters.NewZPayGateway(cfg.ZPay)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case "noop":
		return payAdapters.NewNoopPaymentGateway(cfg.ZPay.MerchantID, cfg.ZPay.MerchantKey, cfg.ZPay.NotifyURL), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Provider)
	}
}

// NewServices wires the use cases. redisClient may be nil; the rate limiter and
// replay cache are then disabled.
func NewServices(cfg *config.Config, b *Backend, redisClient red.RedisClient, logger *zerolog.Logger) (*Services, error) {
	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	gw, err := NewGateway(cfg.Payment)
	if err != nil {
		return nil, err
	}

	var (
		limiter adapter.RateLimiter
		cache   adapter.SettlementCache
	)
	if redisClient != nil {
		limiter = red.NewRateLimiter(redisClient)
		cache = red.NewSettlementCache(redisClient)
	}

	defaults := model.ProfileDefaults{
		FreeModel1Usages: cfg.Profile.FreeModel1Usages,
		FreeModel2Usages: cfg.Profile.FreeModel2Usages,
	}
	ledger := usecase.NewLedgerUseCase(b.Profiles, b.Ledger, b.Audit, b.Tx, defaults, logger)
	membership := usecase.NewMembershipUseCase(b.Profiles, b.Tx, defaults, logger)
	orders := usecase.NewOrderUseCase(b.Orders, b.Tx, gw, cat, limiter, usecase.OrderOptions{
		PendingWindow:    cfg.Orders.PendingWindow,
		CreateRateLimit:  cfg.Orders.CreateRateLimit,
		CreateRateWindow: cfg.Orders.CreateRateWindow,
	}, logger)
	settlement := usecase.NewSettlementUseCase(b.Orders, b.Tx, gw, cat, ledger, membership, cache, usecase.SettlementOptions{
		SuccessStatus:   cfg.Settlement.SuccessStatus,
		LegacyNameMatch: cfg.Settlement.LegacyNameMatch,
		ReplayTTL:       cfg.Settlement.ReplayTTL,
	}, logger)

	return &Services{
		Catalog:    cat,
		Gateway:    gw,
		Ledger:     ledger,
		Membership: membership,
		Orders:     orders,
		Settlement: settlement,
	}, nil
}
