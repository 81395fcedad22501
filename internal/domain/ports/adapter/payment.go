package adapter

import (
	"context"
	"time"

	"credit-settlement/internal/domain/model"
)

// PaymentIntent is the provider's answer to a create call.
type PaymentIntent struct {
	TradeNo   string
	PayURL    string
	QRCodeURL string
	QRCodeImg string
}

// PaymentGateway is the hex port for the payment provider.
type PaymentGateway interface {
	Name() string
	MerchantID() string
	NotifyURL() string

	// Sign and Verify use the merchant secret over a provider parameter set.
	Sign(params map[string]string) string
	Verify(params map[string]string) bool

	// RequestPayment submits a signed pending order. Transport failures, timeouts and
	// provider rejections wrap domain.ErrExternalService.
	RequestPayment(ctx context.Context, o *model.PaymentOrder) (*PaymentIntent, error)
}

// ProductCatalog resolves purchasable products.
type ProductCatalog interface {
	Get(id string) (*model.Product, error)
	// FindByName is the legacy lookup by display name.
	FindByName(name string) (*model.Product, error)
	List() []*model.Product
}

// RateLimiter counts hits per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SettlementCache remembers merchant order numbers that were settled and committed.
type SettlementCache interface {
	MarkSettled(ctx context.Context, merchantOrderNo string, ttl time.Duration) error
	IsSettled(ctx context.Context, merchantOrderNo string) (bool, error)
}
