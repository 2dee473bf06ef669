package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/services"
)

const testStripeSecret = "whsec_test_secret"

func stripeSignature(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(eventType, intentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2024-04-10","type":%q,"data":{"object":{"id":%q,"object":"payment_intent","status":"succeeded"}}}`, eventType, intentID))
}

func newWebhookRouter(h *WebhookHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", h.Routes)
	return router
}

func TestWebhookHandlersStripeSettles(t *testing.T) {
	var gotMethod services.PaymentMethod
	var gotRef string
	router := newWebhookRouter(NewWebhookHandlers(&stubCheckoutService{
		byRefFunc: func(_ context.Context, method services.PaymentMethod, ref string) (services.CheckoutResult, error) {
			gotMethod, gotRef = method, ref
			return services.CheckoutResult{Order: domain.Order{ID: "ord_s"}}, nil
		},
	}, WithStripeWebhookSecret(testStripeSecret)))

	payload := stripeEventPayload("payment_intent.succeeded", "pi_42")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(t, payload, testStripeSecret, time.Now()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotMethod != domain.PaymentMethodStripe || gotRef != "pi_42" {
		t.Fatalf("unexpected confirmation %s %s", gotMethod, gotRef)
	}
	if body := decodeBody(t, rr); body["order_id"] != "ord_s" {
		t.Fatalf("unexpected ack %#v", body)
	}
}

func TestWebhookHandlersStripeRejectsBadSignature(t *testing.T) {
	called := false
	router := newWebhookRouter(NewWebhookHandlers(&stubCheckoutService{
		byRefFunc: func(context.Context, services.PaymentMethod, string) (services.CheckoutResult, error) {
			called = true
			return services.CheckoutResult{}, nil
		},
	}, WithStripeWebhookSecret(testStripeSecret)))

	payload := stripeEventPayload("payment_intent.succeeded", "pi_42")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(t, payload, "whsec_other", time.Now()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assertErrorCode(t, rr, http.StatusUnauthorized, "signature_invalid")
	if called {
		t.Fatalf("checkout must not be called for unsigned events")
	}
}

func TestWebhookHandlersStripeIgnoresOtherEvents(t *testing.T) {
	router := newWebhookRouter(NewWebhookHandlers(&stubCheckoutService{
		byRefFunc: func(context.Context, services.PaymentMethod, string) (services.CheckoutResult, error) {
			t.Fatalf("unexpected confirmation")
			return services.CheckoutResult{}, nil
		},
	}, WithStripeWebhookSecret(testStripeSecret)))

	payload := stripeEventPayload("charge.refunded", "pi_42")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(t, payload, testStripeSecret, time.Now()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["ignored"] != true {
		t.Fatalf("expected ignored ack, got %#v", body)
	}
}

func TestWebhookHandlersStripeWithoutSecret(t *testing.T) {
	router := newWebhookRouter(NewWebhookHandlers(&stubCheckoutService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`)))
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "verification_unavailable")
}

func TestWebhookHandlersNETS(t *testing.T) {
	secret := "nets-secret"
	now := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	validator := auth.NewHMACValidator(map[string]string{"nets": secret}, auth.WithHMACClock(func() time.Time { return now }))

	var gotRef string
	router := newWebhookRouter(NewWebhookHandlers(&stubCheckoutService{
		byRefFunc: func(_ context.Context, method services.PaymentMethod, ref string) (services.CheckoutResult, error) {
			if method != domain.PaymentMethodNETS {
				t.Fatalf("unexpected method %s", method)
			}
			gotRef = ref
			if ref == "unknown" {
				return services.CheckoutResult{}, fmt.Errorf("%w: unknown nets reference", services.ErrCheckoutNoPendingOrder)
			}
			return services.CheckoutResult{Order: domain.Order{ID: "ord_n"}, AlreadySettled: true}, nil
		},
	}, WithNETSWebhookGuard(validator.RequireHMAC("nets"))))

	send := func(body string, sign bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/nets", bytes.NewBufferString(body))
		if sign {
			ts := now.Format(time.RFC3339)
			sig := auth.SignRequest([]byte(secret), http.MethodPost, "/webhooks/nets", ts, []byte(body))
			req.Header.Set("X-Signature", hex.EncodeToString(sig))
			req.Header.Set("X-Signature-Timestamp", ts)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := send(`{"txn_retrieval_ref":"txn-1","status":"success","extra":1}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotRef != "txn-1" {
		t.Fatalf("unexpected ref %q", gotRef)
	}

	rr = send(`{"txn_retrieval_ref":"unknown"}`, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected unknown refs acknowledged, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["ignored"] != true {
		t.Fatalf("expected ignored ack, got %#v", body)
	}

	rr = send(`{"status":"success"}`, true)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = send(`{"txn_retrieval_ref":"txn-1"}`, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned notification rejected, got %d", rr.Code)
	}
}

func TestWebhookHandlersSettleErrors(t *testing.T) {
	router := newWebhookRouter(NewWebhookHandlers(&stubCheckoutService{
		byRefFunc: func(context.Context, services.PaymentMethod, string) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrCheckoutUnavailable
		},
	}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/nets", bytes.NewBufferString(`{"txn_retrieval_ref":"txn-1"}`)))
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "service_unavailable")
}
