package payment

import (
	"context"
	"fmt"
	"sync"

	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	"credit-settlement/internal/infra/payment"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway accepts every create call; used by local runs and tests.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	seq       int64
	key       string
	merchant  string
	notifyURL string
	requested map[string]string // out_trade_no -> money
}

func NewNoopPaymentGateway(merchantID, key, notifyURL string) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		key:       key,
		merchant:  merchantID,
		notifyURL: notifyURL,
		requested: make(map[string]string),
	}
}

func (g *NoopPaymentGateway) Name() string       { return "noop" }
func (g *NoopPaymentGateway) MerchantID() string { return g.merchant }
func (g *NoopPaymentGateway) NotifyURL() string  { return g.notifyURL }

func (g *NoopPaymentGateway) Sign(params map[string]string) string {
	return payment.Sign(params, g.key)
}

func (g *NoopPaymentGateway) Verify(params map[string]string) bool {
	return payment.Verify(params, params["sign"], g.key)
}

func (g *NoopPaymentGateway) RequestPayment(ctx context.Context, o *model.PaymentOrder) (*adapter.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	tradeNo := fmt.Sprintf("noop-%d", g.seq)
	g.requested[o.MerchantOrderNo] = o.AmountString()
	return &adapter.PaymentIntent{
		TradeNo: tradeNo,
		PayURL:  "https://example.test/pay/" + tradeNo,
	}, nil
}

// Requested reports the amount submitted for an order number.
func (g *NoopPaymentGateway) Requested(no string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.requested[no]
	return v, ok
}
