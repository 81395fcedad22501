// Package apiv1 serves the /api/v1 routes: the provider callback, checkout and
// the caller's own orders and balance.
package apiv1

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
	"credit-settlement/internal/infra/logging"
	"credit-settlement/internal/usecase"
)

// NotifyPath is the provider callback route; payment.zpay.notify_url must point here.
const NotifyPath = "/api/v1/payment/notify"

type Server struct {
	orders     usecase.OrderUseCase
	settle     usecase.SettlementUseCase
	ledger     usecase.LedgerUseCase
	membership usecase.MembershipUseCase
	catalog    adapter.ProductCatalog
	log        *zerolog.Logger
}

func NewServer(
	orders usecase.OrderUseCase,
	settle usecase.SettlementUseCase,
	ledger usecase.LedgerUseCase,
	membership usecase.MembershipUseCase,
	catalog adapter.ProductCatalog,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		orders:     orders,
		settle:     settle,
		ledger:     ledger,
		membership: membership,
		catalog:    catalog,
		log:        logger,
	}
}

// RegisterAPIV1 mounts the routes on r. auth guards everything except the
// callback and the product list.
func RegisterAPIV1(r chi.Router, s *Server, auth func(http.Handler) http.Handler) {
	r.Get(NotifyPath, s.notify)
	r.Post(NotifyPath, s.notify)
	r.Get("/api/v1/products", s.listProducts)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/api/v1/payment/create", s.createOrder)
		r.Get("/api/v1/payment/orders/{id}", s.getOrder)
		r.Post("/api/v1/payment/orders/{id}/cancel", s.cancelOrder)
		r.Get("/api/v1/user/credits", s.getCredits)
	})
}

// ===== DTOs =====

type createOrderRequest struct {
	ProductID   string `json:"product_id"`
	PaymentType string `json:"payment_type"` // alipay|wxpay
}

type createOrderResponse struct {
	ID         int64  `json:"id"`
	OutTradeNo string `json:"out_trade_no"`
	TradeNo    string `json:"trade_no,omitempty"`
	Name       string `json:"name"`
	Amount     string `json:"amount"`
	PayURL     string `json:"pay_url,omitempty"`
	QRCodeURL  string `json:"qrcode_url,omitempty"`
	QRCodeImg  string `json:"qrcode_img,omitempty"`
}

type orderView struct {
	ID          int64      `json:"id"`
	OutTradeNo  string     `json:"out_trade_no"`
	TradeNo     *string    `json:"trade_no,omitempty"`
	Name        string     `json:"name"`
	Amount      string     `json:"amount"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toOrderView(o *model.PaymentOrder) orderView {
	return orderView{
		ID:          o.ID,
		OutTradeNo:  o.MerchantOrderNo,
		TradeNo:     o.TradeNo,
		Name:        o.Name,
		Amount:      o.AmountString(),
		Type:        string(o.Channel),
		Status:      o.Status.String(),
		CreatedAt:   o.CreatedAt,
		CompletedAt: o.CompletedAt,
	}
}

type productView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          string `json:"price"`
	Credits        int64  `json:"credits"`
	MembershipType string `json:"membership_type,omitempty"`
	MembershipDays int    `json:"membership_days,omitempty"`
}

type creditsView struct {
	UserID              int64      `json:"user_id"`
	Credits             int64      `json:"credits"`
	MembershipType      string     `json:"membership_type"`
	MembershipExpiresAt *time.Time `json:"membership_expires_at,omitempty"`
	MembershipActive    bool       `json:"membership_active"`
	FreeModel1Usages    int        `json:"free_model1_usages"`
	FreeModel2Usages    int        `json:"free_model2_usages"`
}

// ===== handlers =====

// notify answers the provider with the bare ack string; it always returns 200
// so the provider reads the body.
func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	ack := "fail"
	if err := r.ParseForm(); err == nil {
		params := make(map[string]string, len(r.Form))
		for k, v := range r.Form {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		res, _ := s.settle.HandleCallback(r.Context(), params)
		ack = res.Outcome.Ack()
	} else {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("unreadable payment callback")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

func (s *Server) listProducts(w http.ResponseWriter, _ *http.Request) {
	items := make([]productView, 0)
	for _, p := range s.catalog.List() {
		v := productView{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price.StringFixed(2),
			Credits:     p.Credits,
		}
		if p.GrantsMembership() {
			v.MembershipType = p.Membership.Tier.String()
			v.MembershipDays = p.Membership.Days
		}
		items = append(items, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserIDFrom(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	channel := model.PaymentChannel(strings.ToLower(strings.TrimSpace(req.PaymentType)))
	if channel == "" {
		channel = model.ChannelAlipay
	}

	res, err := s.orders.Checkout(r.Context(), userID, req.ProductID, channel, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := createOrderResponse{
		ID:         res.Order.ID,
		OutTradeNo: res.Order.MerchantOrderNo,
		Name:       res.Order.Name,
		Amount:     res.Order.AmountString(),
	}
	if res.Intent != nil {
		out.TradeNo = res.Intent.TradeNo
		out.PayURL = res.Intent.PayURL
		out.QRCodeURL = res.Intent.QRCodeURL
		out.QRCodeImg = res.Intent.QRCodeImg
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserIDFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := s.orders.Get(r.Context(), userID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserIDFrom(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := s.orders.Cancel(r.Context(), userID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	userID, _ := logging.UserIDFrom(r.Context())
	p, err := s.ledger.Profile(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.membership.Status(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creditsView{
		UserID:              userID,
		Credits:             p.Credits,
		MembershipType:      st.Tier.String(),
		MembershipExpiresAt: st.ExpiresAt,
		MembershipActive:    st.Active,
		FreeModel1Usages:    p.FreeModel1Usages,
		FreeModel2Usages:    p.FreeModel2Usages,
	})
}

// ===== helpers =====

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var pending *domain.PendingOrderError
	switch {
	case errors.As(err, &pending):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":        "a pending order already exists",
			"out_trade_no": pending.MerchantOrderNo,
		})
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientResource):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrExternalService):
		logging.With(r.Context(), s.log).Error().Err(err).Msg("payment provider failure")
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
