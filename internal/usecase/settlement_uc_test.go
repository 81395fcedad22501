//go:build !integration

package usecase_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/repository"
	"credit-settlement/internal/infra/db/memory"
	"credit-settlement/internal/usecase"
)

func TestSettlementUseCase_HandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("should settle a paid order exactly once", func(t *testing.T) {
		// Arrange
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 100, "credits_1200")
		params := f.callback(o, "18.90", "TRADE_SUCCESS")

		// Act
		res, err := f.settle.HandleCallback(ctx, params)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Outcome != usecase.OutcomeApplied || res.Outcome.Ack() != "success" {
			t.Fatalf("expected applied, got %+v", res)
		}
		if res.CreditsAdded != 1200 || res.Product != "credits_1200" || res.UserID != 100 {
			t.Errorf("unexpected result: %+v", res)
		}

		got, _ := f.orderUC.FindByID(ctx, o.ID)
		if got.Status != model.OrderStatusSuccess || got.CompletedAt == nil {
			t.Errorf("expected order settled, got %+v", got)
		}
		if got.TradeStatus == nil || *got.TradeStatus != "TRADE_SUCCESS" {
			t.Errorf("expected trade status recorded, got %v", got.TradeStatus)
		}
		if bal, _ := f.ledger.Balance(ctx, 100); bal != 1200 {
			t.Errorf("expected balance 1200, got %d", bal)
		}
		st, _ := f.membership.Status(ctx, 100)
		if !st.Active || st.Tier != model.TierAdvanced {
			t.Errorf("expected advanced membership, got %+v", st)
		}
		page, _ := f.ledger.History(ctx, 100, 0, 10)
		if page.Total != 1 || page.Items[0].Source != model.SourceRecharge || page.Items[0].SourceID == nil || *page.Items[0].SourceID != o.ID {
			t.Errorf("expected one recharge entry pointing at the order, got %+v", page.Items)
		}
	})

	t.Run("should acknowledge replays without applying again", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 101, "credits_1200")
		params := f.callback(o, "18.90", "TRADE_SUCCESS")
		if res, _ := f.settle.HandleCallback(ctx, params); res.Outcome != usecase.OutcomeApplied {
			t.Fatalf("first delivery must apply, got %+v", res)
		}
		firstExp := *mustProfile(t, f, 101).MembershipExpiresAt

		for i := 0; i < 5; i++ {
			res, err := f.settle.HandleCallback(ctx, params)
			if err != nil || res.Outcome != usecase.OutcomeAlreadyApplied || res.Outcome.Ack() != "success" {
				t.Fatalf("replay %d: got %+v, %v", i, res, err)
			}
		}

		p := mustProfile(t, f, 101)
		if p.Credits != 1200 {
			t.Errorf("expected balance 1200 after replays, got %d", p.Credits)
		}
		if !p.MembershipExpiresAt.Equal(firstExp) {
			t.Error("replays must not extend the membership")
		}
	})

	t.Run("should apply once under concurrent duplicate deliveries", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 102, "credits_500")
		params := f.callback(o, "0.99", "TRADE_SUCCESS")
		const deliveries = 12

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := 0; i < deliveries; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.settle.HandleCallback(ctx, params)
				if err != nil || res.Outcome.Ack() != "success" {
					t.Errorf("delivery failed: %+v, %v", res, err)
					return
				}
				if res.Outcome == usecase.OutcomeApplied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if applied != 1 {
			t.Errorf("expected exactly one applied delivery, got %d", applied)
		}
		if bal, _ := f.ledger.Balance(ctx, 102); bal != 500 {
			t.Errorf("expected balance 500, got %d", bal)
		}
	})

	t.Run("should reject an amount mismatch", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 103, "credits_1200")

		res, _ := f.settle.HandleCallback(ctx, f.callback(o, "18.00", "TRADE_SUCCESS"))

		if res.Outcome != usecase.OutcomeRejected || res.Reason != usecase.ReasonAmountMismatch || res.Outcome.Ack() != "fail" {
			t.Fatalf("expected amount mismatch rejection, got %+v", res)
		}
		assertUntouched(t, f, o, 103)
	})

	t.Run("should accept an amount that differs only in formatting", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 104, "credits_1200")

		res, _ := f.settle.HandleCallback(ctx, f.callback(o, "18.9", "TRADE_SUCCESS"))

		if res.Outcome != usecase.OutcomeApplied {
			t.Errorf("expected applied, got %+v", res)
		}
	})

	t.Run("should acknowledge a non-success status without effect", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 105, "credits_1200")

		res, err := f.settle.HandleCallback(ctx, f.callback(o, "18.90", "WAIT_BUYER_PAY"))

		if err != nil || res.Outcome != usecase.OutcomeIgnored || res.Outcome.Ack() != "success" {
			t.Fatalf("expected ignored with success ack, got %+v, %v", res, err)
		}
		assertUntouched(t, f, o, 105)
	})

	t.Run("should reject missing fields and bad signatures", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 106, "credits_1200")

		missing := f.callback(o, "18.90", "TRADE_SUCCESS")
		delete(missing, "trade_no")
		if res, _ := f.settle.HandleCallback(ctx, missing); res.Reason != usecase.ReasonMissingField {
			t.Errorf("expected missing field rejection, got %+v", res)
		}

		forged := f.callback(o, "18.90", "TRADE_SUCCESS")
		forged["money"] = "0.01"
		if res, _ := f.settle.HandleCallback(ctx, forged); res.Reason != usecase.ReasonBadSignature || res.Outcome.Ack() != "fail" {
			t.Errorf("expected bad signature rejection, got %+v", res)
		}

		upper := f.callback(o, "18.90", "WAIT_BUYER_PAY")
		upper["sign"] = strings.ToUpper(upper["sign"])
		if res, _ := f.settle.HandleCallback(ctx, upper); res.Outcome != usecase.OutcomeIgnored {
			t.Errorf("signature comparison must ignore case, got %+v", res)
		}

		zeroed := f.callback(o, "18.90", "TRADE_SUCCESS")
		zeroed["sign"] = strings.Repeat("0", 32)
		if res, _ := f.settle.HandleCallback(ctx, zeroed); res.Reason != usecase.ReasonBadSignature {
			t.Errorf("expected tampered signature rejection, got %+v", res)
		}
		assertUntouched(t, f, o, 106)
	})

	t.Run("should reject an unknown order", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := &model.PaymentOrder{MerchantID: "1001", MerchantOrderNo: "ORDNOPE", Channel: model.ChannelAlipay, Name: "x"}

		res, err := f.settle.HandleCallback(ctx, f.callback(o, "1.00", "TRADE_SUCCESS"))

		if err != nil || res.Reason != usecase.ReasonOrderNotFound || res.Outcome.Ack() != "fail" {
			t.Errorf("expected order not found, got %+v, %v", res, err)
		}
	})

	t.Run("should roll everything back for an unknown product", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o, err := f.orderUC.CreatePending(ctx, 107, "gone", dec("5.00"), model.ChannelAlipay, "", model.ProductParam("credits_retired"))
		if err != nil {
			t.Fatal(err)
		}

		res, err := f.settle.HandleCallback(ctx, f.callback(o, "5.00", "TRADE_SUCCESS"))

		if err == nil || res.Reason != usecase.ReasonUnknownProduct || res.Outcome.Ack() != "fail" {
			t.Fatalf("expected unknown product rejection, got %+v, %v", res, err)
		}
		assertUntouched(t, f, o, 107)
	})

	t.Run("should resolve by display name only when legacy matching is enabled", func(t *testing.T) {
		strict := newFixture(t, fixtureOpts{})
		o, _ := strict.orderUC.CreatePending(ctx, 108, "新手体验包", dec("2.90"), model.ChannelAlipay, "", "")
		if res, _ := strict.settle.HandleCallback(ctx, strict.callback(o, "2.90", "TRADE_SUCCESS")); res.Reason != usecase.ReasonUnknownProduct {
			t.Errorf("expected unknown product without legacy matching, got %+v", res)
		}

		legacy := newFixture(t, fixtureOpts{legacyNames: true})
		o, _ = legacy.orderUC.CreatePending(ctx, 108, "新手体验包", dec("2.90"), model.ChannelAlipay, "", "")
		res, _ := legacy.settle.HandleCallback(ctx, legacy.callback(o, "2.90", "TRADE_SUCCESS"))
		if res.Outcome != usecase.OutcomeApplied || res.CreditsAdded != 150 {
			t.Errorf("expected legacy name match to apply 150 credits, got %+v", res)
		}
	})

	t.Run("should reject a paid callback for a closed order", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{})
		o := f.checkout(t, 109, "credits_150")
		if _, err := f.orderUC.Cancel(ctx, 109, o.ID); err != nil {
			t.Fatal(err)
		}

		res, err := f.settle.HandleCallback(ctx, f.callback(o, "2.90", "TRADE_SUCCESS"))

		if err == nil || res.Reason != usecase.ReasonOrderClosed || res.Outcome.Ack() != "fail" {
			t.Fatalf("expected closed order rejection, got %+v, %v", res, err)
		}
		if bal, _ := f.ledger.Balance(ctx, 109); bal != 0 {
			t.Errorf("expected no credits, got %d", bal)
		}
	})

	t.Run("should short-circuit on a replay cache hit", func(t *testing.T) {
		cache := &MockSettlementCache{}
		f := newFixture(t, fixtureOpts{cache: cache})
		o := f.checkout(t, 110, "credits_150")
		params := f.callback(o, "2.90", "TRADE_SUCCESS")

		if res, _ := f.settle.HandleCallback(ctx, params); res.Outcome != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %+v", res)
		}
		if hit, _ := cache.IsSettled(ctx, o.MerchantOrderNo); !hit {
			t.Fatal("expected the order to be marked settled after commit")
		}

		res, _ := f.settle.HandleCallback(ctx, params)
		if res.Outcome != usecase.OutcomeAlreadyApplied || res.Reason != usecase.ReasonReplayCacheHit {
			t.Errorf("expected replay cache hit, got %+v", res)
		}
	})

	t.Run("should not let a cached order number bypass the signature check", func(t *testing.T) {
		cache := &MockSettlementCache{}
		f := newFixture(t, fixtureOpts{cache: cache})
		_ = cache.MarkSettled(ctx, "ORDX", 0)
		params := map[string]string{
			"pid": "1001", "trade_no": "1", "out_trade_no": "ORDX", "type": "alipay", "name": "x",
			"money": "1.00", "trade_status": "TRADE_SUCCESS", "sign": "deadbeef", "sign_type": "MD5",
		}

		res, _ := f.settle.HandleCallback(ctx, params)

		if res.Reason != usecase.ReasonBadSignature {
			t.Errorf("expected bad signature, got %+v", res)
		}
	})
}

func mustProfile(t *testing.T, f *fixture, userID int64) *model.UserProfile {
	t.Helper()
	p, err := f.ledger.Profile(context.Background(), userID)
	if err != nil {
		t.Fatalf("profile %d: %v", userID, err)
	}
	return p
}

// assertUntouched checks that the order is still pending and the user received nothing.
func assertUntouched(t *testing.T, f *fixture, o *model.PaymentOrder, userID int64) {
	t.Helper()
	ctx := context.Background()
	got, err := memory.NewOrderRepo(f.store).FindByID(ctx, repository.NoTX, o.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if got.Status != model.OrderStatusPending || got.CompletedAt != nil {
		t.Errorf("expected order still pending, got %s", got.Status)
	}
	p := mustProfile(t, f, userID)
	if p.Credits != 0 || p.MembershipExpiresAt != nil {
		t.Errorf("expected no credits or membership, got %+v", p)
	}
	if page, _ := f.ledger.History(ctx, userID, 0, 10); page.Total != 0 {
		t.Errorf("expected empty ledger, got %d entries", page.Total)
	}
}
