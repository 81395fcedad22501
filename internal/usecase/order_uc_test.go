//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	"credit-settlement/internal/domain/ports/repository"
	"credit-settlement/internal/infra/db/memory"
)

// seedOrder stores a pending order created at createdAt, bypassing the use case.
func seedOrder(t *testing.T, f *fixture, userID int64, no string, createdAt time.Time) *model.PaymentOrder {
	t.Helper()
	o := &model.PaymentOrder{
		UserID:          userID,
		MerchantOrderNo: no,
		MerchantID:      "1001",
		Channel:         model.ChannelAlipay,
		Name:            "创作入门包",
		Amount:          dec("18.90"),
		Param:           model.ProductParam("credits_1200"),
		SignType:        model.SignTypeMD5,
		Status:          model.OrderStatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	if err := memory.NewOrderRepo(f.store).Create(context.Background(), repository.NoTX, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func TestOrderUseCase_CreatePending(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a signed pending order", func(t *testing.T) {
		// Arrange
		f := newFixture(t, fixtureOpts{})

		// Act
		o, err := f.orderUC.CreatePending(ctx, 1, "创作入门包", dec("18.9"), model.ChannelWxpay, "1.2.3.4", model.ProductParam("credits_1200"))

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if o.Status != model.OrderStatusPending || o.ID == 0 {
			t.Errorf("unexpected order: %+v", o)
		}
		if !strings.HasPrefix(o.MerchantOrderNo, "ORD") || len(o.MerchantOrderNo) != 3+14+16 {
			t.Errorf("unexpected merchant order number %q", o.MerchantOrderNo)
		}
		if o.AmountString() != "18.90" || o.MerchantID != "1001" || o.NotifyURL == "" {
			t.Errorf("unexpected provider fields: %+v", o)
		}
		if o.Sign != f.gateway.Sign(o.ProviderParams()) {
			t.Error("order signature does not match its provider params")
		}
	})

	t.Run("should reject invalid input", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		cases := []struct {
			name    string
			amount  string
			channel model.PaymentChannel
			title   string
		}{
			{"zero amount", "0", model.ChannelAlipay, "x"},
			{"negative amount", "-1.00", model.ChannelAlipay, "x"},
			{"unknown channel", "1.00", model.PaymentChannel("paypal"), "x"},
			{"empty name", "1.00", model.ChannelAlipay, ""},
		}
		for _, c := range cases {
			if _, err := f.orderUC.CreatePending(ctx, 2, c.title, dec(c.amount), c.channel, "", ""); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("%s: expected validation error, got %v", c.name, err)
			}
		}
	})

	t.Run("should refuse a second order inside the pending window", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		first, err := f.orderUC.CreatePending(ctx, 3, "a", dec("1.00"), model.ChannelAlipay, "", "")
		if err != nil {
			t.Fatal(err)
		}

		_, err = f.orderUC.CreatePending(ctx, 3, "b", dec("2.00"), model.ChannelAlipay, "", "")

		var pe *domain.PendingOrderError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PendingOrderError, got %v", err)
		}
		if pe.MerchantOrderNo != first.MerchantOrderNo {
			t.Errorf("expected the existing order number %s, got %s", first.MerchantOrderNo, pe.MerchantOrderNo)
		}
		if !errors.Is(err, domain.ErrDuplicatePendingOrder) {
			t.Error("PendingOrderError must unwrap to ErrDuplicatePendingOrder")
		}
	})

	t.Run("should close a stale pending order and open a new one", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		stale := seedOrder(t, f, 4, "ORDSTALE", time.Now().Add(-10*time.Minute))

		o, err := f.orderUC.CreatePending(ctx, 4, "b", dec("2.00"), model.ChannelAlipay, "", "")

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		old, _ := f.orderUC.FindByID(ctx, stale.ID)
		if old.Status != model.OrderStatusClosed {
			t.Errorf("expected stale order closed, got %s", old.Status)
		}
		if o.ID == stale.ID {
			t.Error("expected a new order")
		}
	})

	t.Run("should let exactly one of many parallel creators win", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		const workers = 10

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []*model.PaymentOrder
			losers  []*domain.PendingOrderError
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o, err := f.orderUC.CreatePending(ctx, 5, "p", dec("1.00"), model.ChannelAlipay, "", "")
				mu.Lock()
				defer mu.Unlock()
				var pe *domain.PendingOrderError
				switch {
				case err == nil:
					winners = append(winners, o)
				case errors.As(err, &pe):
					losers = append(losers, pe)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if len(winners) != 1 || len(losers) != workers-1 {
			t.Fatalf("expected 1 winner and %d losers, got %d and %d", workers-1, len(winners), len(losers))
		}
		for _, pe := range losers {
			if pe.MerchantOrderNo != winners[0].MerchantOrderNo {
				t.Errorf("loser reported %q, want %q", pe.MerchantOrderNo, winners[0].MerchantOrderNo)
			}
		}
	})
}

func TestOrderUseCase_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("should create the order from the catalog and store the trade number", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})

		res, err := f.orderUC.Checkout(ctx, 1, "credits_1200", model.ChannelAlipay, "127.0.0.1")

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		o := res.Order
		if o.AmountString() != "18.90" || o.Name != "创作入门包" || o.ProductID() != "credits_1200" {
			t.Errorf("unexpected order: %+v", o)
		}
		if o.TradeNo == nil || *o.TradeNo != res.Intent.TradeNo || o.Status != model.OrderStatusPending {
			t.Errorf("expected pending order with trade no %s, got %+v", res.Intent.TradeNo, o)
		}
		if money, ok := f.gateway.Requested(o.MerchantOrderNo); !ok || money != "18.90" {
			t.Errorf("provider saw %q, want 18.90", money)
		}
	})

	t.Run("should reject an unknown product", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		if _, err := f.orderUC.Checkout(ctx, 1, "credits_1", model.ChannelAlipay, ""); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("should close the order when the provider call fails", func(t *testing.T) {
		// Arrange
		f := newFixture(t, fixtureOpts{})
		var submitted *model.PaymentOrder
		f.gateway.RequestPaymentFunc = func(_ context.Context, o *model.PaymentOrder) (*adapter.PaymentIntent, error) {
			submitted = o
			return nil, errors.New("connection reset")
		}

		// Act
		_, err := f.orderUC.Checkout(ctx, 2, "credits_150", model.ChannelAlipay, "")

		// Assert
		if !errors.Is(err, domain.ErrExternalService) {
			t.Fatalf("expected ErrExternalService, got %v", err)
		}
		o, _ := f.orderUC.FindByID(ctx, submitted.ID)
		if o.Status != model.OrderStatusClosed {
			t.Errorf("expected order closed, got %s", o.Status)
		}

		f.gateway.RequestPaymentFunc = nil
		if _, err := f.orderUC.Checkout(ctx, 2, "credits_150", model.ChannelAlipay, ""); err != nil {
			t.Errorf("user must be able to retry at once, got %v", err)
		}
	})

	t.Run("should refuse when the rate limit is exhausted", func(t *testing.T) {
		var gotKey string
		limiter := &MockRateLimiter{AllowFunc: func(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
			gotKey = key
			return false, nil
		}}
		f := newFixture(t, fixtureOpts{limiter: limiter})

		_, err := f.orderUC.Checkout(ctx, 7, "credits_150", model.ChannelAlipay, "")

		if !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if gotKey != "rate_limit:7:order_create" {
			t.Errorf("unexpected limiter key %q", gotKey)
		}
		if _, total, _ := f.orderUC.ListByUser(ctx, 7, 0, 10); total != 0 {
			t.Errorf("no order expected, got %d", total)
		}
	})

	t.Run("should proceed when the limiter is unavailable", func(t *testing.T) {
		limiter := &MockRateLimiter{AllowFunc: func(context.Context, string, int, time.Duration) (bool, error) {
			return false, errors.New("redis down")
		}}
		f := newFixture(t, fixtureOpts{limiter: limiter})

		if _, err := f.orderUC.Checkout(ctx, 8, "credits_150", model.ChannelAlipay, ""); err != nil {
			t.Errorf("expected checkout to fail open, got %v", err)
		}
	})
}

func TestOrderUseCase_CancelAndGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	o := f.checkout(t, 1, "credits_150")

	if _, err := f.orderUC.Get(ctx, 2, o.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other user's order must be not found, got %v", err)
	}
	if _, err := f.orderUC.Cancel(ctx, 2, o.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("other user must not cancel, got %v", err)
	}

	got, err := f.orderUC.Cancel(ctx, 1, o.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != model.OrderStatusClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
	if _, err := f.orderUC.Cancel(ctx, 1, o.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second cancel must be an invalid transition, got %v", err)
	}

	mine, err := f.orderUC.Get(ctx, 1, o.ID)
	if err != nil || mine.MerchantOrderNo != o.MerchantOrderNo {
		t.Errorf("owner lookup failed: %v", err)
	}
	byNo, err := f.orderUC.FindByMerchantOrderNo(ctx, o.MerchantOrderNo)
	if err != nil || byNo.ID != o.ID {
		t.Errorf("lookup by merchant number failed: %v", err)
	}
}

func TestOrderUseCase_SweepAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	seedOrder(t, f, 1, "ORDOLD1", time.Now().Add(-7*time.Hour))
	seedOrder(t, f, 2, "ORDOLD2", time.Now().Add(-8*time.Hour))
	fresh := f.checkout(t, 3, "credits_150")

	n, err := f.orderUC.SweepExpiredPending(ctx, time.Now().Add(-6*time.Hour))

	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 orders closed, got %d", n)
	}
	if o, _ := f.orderUC.FindByID(ctx, fresh.ID); o.Status != model.OrderStatusPending {
		t.Errorf("fresh order must stay pending, got %s", o.Status)
	}

	st, err := f.orderUC.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.Pending != 1 || st.Closed != 2 || st.Success != 0 || !st.TotalAmount.IsZero() {
		t.Errorf("unexpected stats: %+v", st)
	}
}
