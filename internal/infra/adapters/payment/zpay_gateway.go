package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	"credit-settlement/internal/infra/payment"
)

var _ adapter.PaymentGateway = (*ZPayGateway)(nil)

// ZPayGateway talks to an epay-compatible provider (mapi.php) with MD5 signed forms.
type ZPayGateway struct {
	apiURL      string
	merchantID  string
	merchantKey string
	notifyURL   string
	client      *http.Client
}

func NewZPayGateway(cfg config.ZPayConfig) (*ZPayGateway, error) {
	if cfg.MerchantID == "" || cfg.MerchantKey == "" {
		return nil, errors.New("zpay merchant id and key are required")
	}
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid zpay api url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ZPayGateway{
		apiURL:      cfg.APIURL,
		merchantID:  cfg.MerchantID,
		merchantKey: cfg.MerchantKey,
		notifyURL:   cfg.NotifyURL,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (z *ZPayGateway) Name() string       { return "zpay" }
func (z *ZPayGateway) MerchantID() string { return z.merchantID }
func (z *ZPayGateway) NotifyURL() string  { return z.notifyURL }

func (z *ZPayGateway) Sign(params map[string]string) string {
	return payment.Sign(params, z.merchantKey)
}

func (z *ZPayGateway) Verify(params map[string]string) bool {
	return payment.Verify(params, params["sign"], z.merchantKey)
}

// createResponse tolerates code as number or string; unknown fields are ignored.
type createResponse struct {
	Code    json.RawMessage `json:"code"`
	Msg     string          `json:"msg"`
	TradeNo string          `json:"trade_no"`
	OID     string          `json:"O_id"`
	PayURL  string          `json:"payurl"`
	QRCode  string          `json:"qrcode"`
	Img     string          `json:"img"`
}

func (r createResponse) code() (int, bool) {
	raw := strings.Trim(strings.TrimSpace(string(r.Code)), `"`)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RequestPayment posts the signed order as a form and reads the provider answer.
// Only code 1 is success; everything else wraps domain.ErrExternalService.
func (z *ZPayGateway) RequestPayment(ctx context.Context, o *model.PaymentOrder) (*adapter.PaymentIntent, error) {
	params := o.ProviderParams()
	params["sign"] = z.Sign(params)
	params["sign_type"] = model.SignTypeMD5

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: zpay request: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read zpay response: %v", domain.ErrExternalService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: zpay http %d", domain.ErrExternalService, resp.StatusCode)
	}

	var out createResponse
	decodeErr := json.Unmarshal(body, &out)
	code, ok := out.code()
	if !ok {
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: decode zpay response: %v", domain.ErrExternalService, decodeErr)
		}
		return nil, fmt.Errorf("%w: zpay response without code", domain.ErrExternalService)
	}
	if code != 1 {
		msg := out.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: zpay code %d: %s", domain.ErrExternalService, code, msg)
	}

	tradeNo := out.TradeNo
	if tradeNo == "" {
		tradeNo = out.OID
	}
	return &adapter.PaymentIntent{
		TradeNo:   tradeNo,
		PayURL:    out.PayURL,
		QRCodeURL: out.QRCode,
		QRCodeImg: out.Img,
	}, nil
}
