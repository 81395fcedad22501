//go:build !integration

package application

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/usecase"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "ledger.db")},
		Payment: config.PaymentConfig{
			Provider: "noop",
			ZPay:     config.ZPayConfig{MerchantID: "1001", MerchantKey: "k", NotifyURL: "https://shop.test/api/v1/payment/notify"},
		},
		Orders:     config.OrdersConfig{PendingWindow: 5 * time.Minute},
		Settlement: config.SettlementConfig{SuccessStatus: "TRADE_SUCCESS"},
		Profile:    config.ProfileConfig{FreeModel1Usages: 5, FreeModel2Usages: 3},
	}
}

func TestSQLiteBackend_EndToEnd(t *testing.T) {
	// Arrange
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	cfg := testConfig(t)

	b, err := OpenBackend(ctx, cfg.Database, &logger)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer b.Close()
	if err := b.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	svc, err := NewServices(cfg, b, nil, &logger)
	if err != nil {
		t.Fatalf("services: %v", err)
	}

	// Act
	res, err := svc.Orders.Checkout(ctx, 500, "credits_5000", model.ChannelWxpay, "127.0.0.1")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	o := res.Order
	params := map[string]string{
		"pid": o.MerchantID, "trade_no": "T1", "out_trade_no": o.MerchantOrderNo, "type": string(o.Channel),
		"name": o.Name, "money": "68.00", "trade_status": "TRADE_SUCCESS", "param": o.Param, "sign_type": "MD5",
	}
	params["sign"] = svc.Gateway.Sign(params)
	first, err := svc.Settlement.HandleCallback(ctx, params)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	second, _ := svc.Settlement.HandleCallback(ctx, params)

	// Assert
	if first.Outcome != usecase.OutcomeApplied || second.Outcome != usecase.OutcomeAlreadyApplied {
		t.Fatalf("expected applied then already applied, got %s then %s", first.Outcome, second.Outcome)
	}
	p, err := svc.Ledger.Profile(ctx, 500)
	if err != nil {
		t.Fatal(err)
	}
	if p.Credits != 5000 || p.MembershipTier != model.TierProfessional {
		t.Errorf("unexpected profile: %+v", p)
	}
	r, err := svc.Ledger.Reconcile(ctx, 500)
	if err != nil || !r.OK() {
		t.Errorf("ledger out of balance: %+v, %v", r, err)
	}
	st, _ := svc.Orders.Stats(ctx)
	if st.Success != 1 || st.TotalAmount.StringFixed(2) != "68.00" {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestOpenBackend_UnknownDriver(t *testing.T) {
	logger := zerolog.Nop()
	if _, err := OpenBackend(context.Background(), config.DatabaseConfig{Driver: "mysql"}, &logger); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

func TestNewGateway(t *testing.T) {
	if _, err := NewGateway(config.PaymentConfig{Provider: "paypal"}); err == nil {
		t.Error("expected an error for an unknown provider")
	}
	gw, err := NewGateway(config.PaymentConfig{Provider: "noop"})
	if err != nil || gw.Name() != "noop" {
		t.Errorf("expected noop gateway, got %v, %v", gw, err)
	}
}
