//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	paymentadapter "credit-settlement/internal/infra/adapters/payment"
	"credit-settlement/internal/infra/catalog"
	"credit-settlement/internal/infra/db/memory"
	"credit-settlement/internal/usecase"
)

const testMerchantKey = "test-merchant-key"

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// --- Mocks ---

type MockPaymentGateway struct {
	*paymentadapter.NoopPaymentGateway
	RequestPaymentFunc func(ctx context.Context, o *model.PaymentOrder) (*adapter.PaymentIntent, error)
}

func (m *MockPaymentGateway) RequestPayment(ctx context.Context, o *model.PaymentOrder) (*adapter.PaymentIntent, error) {
	if m.RequestPaymentFunc != nil {
		return m.RequestPaymentFunc(ctx, o)
	}
	return m.NoopPaymentGateway.RequestPayment(ctx, o)
}

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

type MockSettlementCache struct {
	mu      sync.Mutex
	settled map[string]bool
}

func (m *MockSettlementCache) MarkSettled(_ context.Context, no string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled == nil {
		m.settled = make(map[string]bool)
	}
	m.settled[no] = true
	return nil
}

func (m *MockSettlementCache) IsSettled(_ context.Context, no string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled[no], nil
}

// --- Fixture ---

// fixture wires every use case over one memory store.
type fixture struct {
	store      *memory.Store
	gateway    *MockPaymentGateway
	catalog    *catalog.StaticCatalog
	ledger     usecase.LedgerUseCase
	membership usecase.MembershipUseCase
	orderUC    usecase.OrderUseCase
	settle     usecase.SettlementUseCase
	audit      interface{ AuditLogs() []model.AuditLog }
}

type fixtureOpts struct {
	limiter     adapter.RateLimiter
	cache       adapter.SettlementCache
	legacyNames bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	store := memory.NewStore()
	orders := memory.NewOrderRepo(store)
	profiles := memory.NewProfileRepo(store)
	entries := memory.NewLedgerRepo(store)
	audit := memory.NewAuditRepo(store)

	cat, err := catalog.New(config.CatalogConfig{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	gw := &MockPaymentGateway{
		NoopPaymentGateway: paymentadapter.NewNoopPaymentGateway("1001", testMerchantKey, "https://shop.test/api/v1/payment/notify"),
	}
	logger := newTestLogger()

	ledger := usecase.NewLedgerUseCase(profiles, entries, audit, store, model.DefaultProfileDefaults, logger)
	membership := usecase.NewMembershipUseCase(profiles, store, model.DefaultProfileDefaults, logger)
	orderUC := usecase.NewOrderUseCase(orders, store, gw, cat, opts.limiter, usecase.OrderOptions{
		PendingWindow:    5 * time.Minute,
		CreateRateLimit:  5,
		CreateRateWindow: time.Minute,
	}, logger)
	settle := usecase.NewSettlementUseCase(orders, store, gw, cat, ledger, membership, opts.cache, usecase.SettlementOptions{
		SuccessStatus:   "TRADE_SUCCESS",
		LegacyNameMatch: opts.legacyNames,
	}, logger)

	return &fixture{
		store:      store,
		gateway:    gw,
		catalog:    cat,
		ledger:     ledger,
		membership: membership,
		orderUC:    orderUC,
		settle:     settle,
		audit:      audit,
	}
}

// callback builds a signed provider notification for o.
func (f *fixture) callback(o *model.PaymentOrder, money, status string) map[string]string {
	p := map[string]string{
		"pid":          o.MerchantID,
		"trade_no":     "2024050112000001",
		"out_trade_no": o.MerchantOrderNo,
		"type":         string(o.Channel),
		"name":         o.Name,
		"money":        money,
		"trade_status": status,
		"param":        o.Param,
		"sign_type":    model.SignTypeMD5,
	}
	p["sign"] = f.gateway.Sign(p)
	return p
}

func (f *fixture) checkout(t *testing.T, userID int64, productID string) *model.PaymentOrder {
	t.Helper()
	res, err := f.orderUC.Checkout(context.Background(), userID, productID, model.ChannelAlipay, "127.0.0.1")
	if err != nil {
		t.Fatalf("checkout %s for user %d: %v", productID, userID, err)
	}
	return res.Order
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
