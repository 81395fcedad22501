//go:build !integration

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain/model"
	paymentadapter "credit-settlement/internal/infra/adapters/payment"
	"credit-settlement/internal/infra/api/apiv1"
	"credit-settlement/internal/infra/catalog"
	"credit-settlement/internal/infra/db/memory"
	"credit-settlement/internal/infra/logging"
	"credit-settlement/internal/usecase"
)

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func TestAuthenticator_Require(t *testing.T) {
	auth := NewAuthenticator("s3cret", nopLogger())
	var seen int64
	h := auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.UserIDFrom(r.Context())
	}))

	call := func(hdr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("valid token passes the user id", func(t *testing.T) {
		tok, err := auth.Mint(77, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if code := call("Bearer " + tok); code != http.StatusOK {
			t.Fatalf("want 200, got %d", code)
		}
		if seen != 77 {
			t.Errorf("want user 77, got %d", seen)
		}
	})

	t.Run("missing, malformed and foreign tokens are rejected", func(t *testing.T) {
		other, _ := NewAuthenticator("other", nopLogger()).Mint(77, time.Minute)
		expired, _ := auth.Mint(77, -time.Minute)
		for name, hdr := range map[string]string{
			"missing": "",
			"scheme":  "Basic abc",
			"garbage": "Bearer not-a-jwt",
			"foreign": "Bearer " + other,
			"expired": "Bearer " + expired,
		} {
			if code := call(hdr); code != http.StatusUnauthorized {
				t.Errorf("%s: want 401, got %d", name, code)
			}
		}
	})

	t.Run("non-numeric subject is rejected", func(t *testing.T) {
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("s3cret"))
		if code := call("Bearer " + tok); code != http.StatusUnauthorized {
			t.Errorf("want 401, got %d", code)
		}
	})

	t.Run("unconfigured secret forbids everything", func(t *testing.T) {
		h := NewAuthenticator("", nopLogger()).Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusForbidden {
			t.Errorf("want 403, got %d", rec.Code)
		}
	})
}

func TestTraceIDAndRecover(t *testing.T) {
	var tid string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid = logging.TraceIDFrom(r.Context())
		panic("boom")
	}), TraceID(nopLogger()), Recover(nopLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("want 500 after panic, got %d", rec.Code)
	}
	if tid == "" || rec.Header().Get("X-Request-ID") != tid {
		t.Errorf("trace id not propagated: ctx=%q header=%q", tid, rec.Header().Get("X-Request-ID"))
	}
}

func TestNewRouter(t *testing.T) {
	store := memory.NewStore()
	orders := memory.NewOrderRepo(store)
	profiles := memory.NewProfileRepo(store)
	cat, _ := catalog.New(config.CatalogConfig{})
	gw := paymentadapter.NewNoopPaymentGateway("1001", "k", "")
	logger := nopLogger()
	ledger := usecase.NewLedgerUseCase(profiles, memory.NewLedgerRepo(store), memory.NewAuditRepo(store), store, model.DefaultProfileDefaults, logger)
	membership := usecase.NewMembershipUseCase(profiles, store, model.DefaultProfileDefaults, logger)
	orderUC := usecase.NewOrderUseCase(orders, store, gw, cat, nil, usecase.OrderOptions{}, logger)
	settle := usecase.NewSettlementUseCase(orders, store, gw, cat, ledger, membership, nil, usecase.SettlementOptions{}, logger)
	v1 := apiv1.NewServer(orderUC, settle, ledger, membership, cat, logger)
	auth := NewAuthenticator("s3cret", logger)

	healthErr := error(nil)
	router := NewRouter(v1, auth, func(context.Context) error { return healthErr }, time.Second, logger)

	get := func(path, hdr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := get("/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health: want 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
	healthErr = errors.New("db down")
	if rec := get("/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health: want 503, got %d", rec.Code)
	}
	if rec := get("/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics: want 200, got %d", rec.Code)
	}
	if rec := get("/api/v1/user/credits", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("credits without token: want 401, got %d", rec.Code)
	}
	tok, _ := auth.Mint(5, time.Minute)
	if rec := get("/api/v1/user/credits", "Bearer "+tok); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"user_id":5`) {
		t.Errorf("credits with token: want 200 for user 5, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(apiv1.NotifyPath, ""); rec.Body.String() != "fail" {
		t.Errorf("notify must be reachable without a token, got %q", rec.Body.String())
	}
}
