//go:build !integration

package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	signer "credit-settlement/internal/infra/payment"
)

func testOrder() *model.PaymentOrder {
	return &model.PaymentOrder{
		MerchantOrderNo: "ORD20240501120000ABC",
		MerchantID:      "1001",
		Channel:         model.ChannelAlipay,
		NotifyURL:       "https://shop.test/notify",
		Name:            "创作入门包",
		Amount:          decimal.RequireFromString("18.9"),
		ClientIP:        "203.0.113.7",
	}
}

func newGateway(t *testing.T, h http.HandlerFunc) *ZPayGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewZPayGateway(config.ZPayConfig{
		APIURL: srv.URL, MerchantID: "1001", MerchantKey: "secret", NotifyURL: "https://shop.test/notify", Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

func TestZPayGateway_RequestPayment(t *testing.T) {
	t.Run("should post a signed form and parse a string code", func(t *testing.T) {
		var got url.Values
		g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			got, _ = url.ParseQuery(string(b))
			_, _ = io.WriteString(w, `{"code":"1","msg":"ok","trade_no":"T100","payurl":"https://pay.test/x","qrcode":"https://qr.test/x","img":"data:x"}`)
		})

		intent, err := g.RequestPayment(context.Background(), testOrder())

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if intent.TradeNo != "T100" || intent.PayURL != "https://pay.test/x" || intent.QRCodeURL != "https://qr.test/x" || intent.QRCodeImg != "data:x" {
			t.Errorf("unexpected intent %+v", intent)
		}
		if got.Get("money") != "18.90" || got.Get("sign_type") != "MD5" {
			t.Errorf("unexpected form %v", got)
		}
		params := map[string]string{}
		for k := range got {
			params[k] = got.Get(k)
		}
		if !signer.Verify(params, got.Get("sign"), "secret") {
			t.Error("expected the submitted form to carry a valid signature")
		}
	})

	t.Run("should accept a numeric code and fall back to O_id", func(t *testing.T) {
		g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"code":1,"O_id":"Z9","payurl":"u","extra":{"nested":[1,2]}}`)
		})
		intent, err := g.RequestPayment(context.Background(), testOrder())
		if err != nil || intent.TradeNo != "Z9" {
			t.Fatalf("expected Z9, got %+v (%v)", intent, err)
		}
	})

	cases := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"provider rejection", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"code":-1,"msg":"签名错误"}`)
		}},
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(1500 * time.Millisecond)
		}},
	}
	for _, c := range cases {
		t.Run("should wrap "+c.name+" as external service error", func(t *testing.T) {
			g := newGateway(t, c.h)
			_, err := g.RequestPayment(context.Background(), testOrder())
			if !errors.Is(err, domain.ErrExternalService) {
				t.Errorf("expected ErrExternalService, got %v", err)
			}
		})
	}
}

func TestNewZPayGateway_Validation(t *testing.T) {
	if _, err := NewZPayGateway(config.ZPayConfig{APIURL: "https://zpayz.cn/mapi.php"}); err == nil {
		t.Error("expected missing credentials to fail")
	}
	if _, err := NewZPayGateway(config.ZPayConfig{APIURL: "::", MerchantID: "1", MerchantKey: "k"}); err == nil {
		t.Error("expected invalid url to fail")
	}
}

func TestZPayGateway_Verify(t *testing.T) {
	g, _ := NewZPayGateway(config.ZPayConfig{APIURL: "https://zpayz.cn/mapi.php", MerchantID: "1001", MerchantKey: "secret"})
	params := map[string]string{"out_trade_no": "ORD1", "money": "1.00", "trade_status": "TRADE_SUCCESS"}
	params["sign"] = g.Sign(params)
	params["sign_type"] = "MD5"
	if !g.Verify(params) {
		t.Error("expected own signature to verify")
	}
	params["money"] = "100.00"
	if g.Verify(params) {
		t.Error("expected tampered params to fail")
	}
}
