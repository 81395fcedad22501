package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"credit-settlement/internal/domain"
)

type OrderStatus int

const (
	OrderStatusPending OrderStatus = 0 // created; awaiting provider callback
	OrderStatusSuccess OrderStatus = 1 // settled; terminal
	OrderStatusClosed  OrderStatus = 2 // cancelled, swept or provider create failed; terminal
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusSuccess:
		return "success"
	case OrderStatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s OrderStatus) Terminal() bool { return s == OrderStatusSuccess || s == OrderStatusClosed }

type PaymentChannel string

const (
	ChannelAlipay PaymentChannel = "alipay"
	ChannelWxpay  PaymentChannel = "wxpay"
)

func (c PaymentChannel) Valid() bool { return c == ChannelAlipay || c == ChannelWxpay }

const SignTypeMD5 = "MD5"

// PaymentOrder is one purchase attempt against the payment provider.
type PaymentOrder struct {
	ID              int64
	UserID          int64
	MerchantOrderNo string // out_trade_no, generated by us
	MerchantID      string // pid
	Channel         PaymentChannel
	NotifyURL       string
	Name            string
	Amount          decimal.Decimal // two decimals
	ClientIP        string
	Param           string // business JSON, e.g. {"product_id":"credits_1200"}
	Sign            string
	SignType        string
	TradeNo         *string // provider trade number
	TradeStatus     *string // provider trade status from the callback
	Status          OrderStatus
	PendingFlag     int64 // 0 while pending, otherwise the order id
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// ProviderFields are the provider-reported values recorded on a transition.
type ProviderFields struct {
	TradeNo     string
	TradeStatus string
}

// Transition moves the order out of Pending. Terminal states never change.
func (o *PaymentOrder) Transition(to OrderStatus, f ProviderFields, now time.Time) error {
	if o.Status != OrderStatusPending || to == OrderStatusPending {
		return domain.ErrInvalidTransition
	}
	switch to {
	case OrderStatusSuccess:
		t := now
		o.CompletedAt = &t
	case OrderStatusClosed:
	default:
		return domain.ErrInvalidTransition
	}
	if f.TradeNo != "" {
		tn := f.TradeNo
		o.TradeNo = &tn
	}
	if f.TradeStatus != "" {
		ts := f.TradeStatus
		o.TradeStatus = &ts
	}
	o.Status = to
	o.PendingFlag = o.ID
	o.UpdatedAt = now
	return nil
}

// ProductID extracts the product id from the business param, if any.
func (o *PaymentOrder) ProductID() string {
	if strings.TrimSpace(o.Param) == "" {
		return ""
	}
	var p struct {
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal([]byte(o.Param), &p); err != nil {
		return ""
	}
	return p.ProductID
}

// ProductParam renders the business param for a product id.
func ProductParam(productID string) string {
	b, _ := json.Marshal(map[string]string{"product_id": productID})
	return string(b)
}

// ProviderParams are the fields submitted to the provider and covered by Sign.
func (o *PaymentOrder) ProviderParams() map[string]string {
	return map[string]string{
		"pid":          o.MerchantID,
		"type":         string(o.Channel),
		"out_trade_no": o.MerchantOrderNo,
		"notify_url":   o.NotifyURL,
		"name":         o.Name,
		"money":        o.AmountString(),
		"clientip":     o.ClientIP,
	}
}

// AmountString is the wire form of the amount ("18.90").
func (o *PaymentOrder) AmountString() string { return o.Amount.StringFixed(2) }

// SameAmount compares two amounts rounded to cents.
func SameAmount(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

// OrderStats summarises the order table.
type OrderStats struct {
	Total       int64
	Pending     int64
	Success     int64
	Closed      int64
	TotalAmount decimal.Decimal // sum over Success orders
}
