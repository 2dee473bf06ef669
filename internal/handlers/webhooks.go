package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/requestctx"
	"github.com/homebitez/api/internal/services"
)

const (
	stripeSignatureHeader        = "Stripe-Signature"
	stripePaymentIntentSucceeded = "payment_intent.succeeded"
	maxWebhookBodySize           = 64 * 1024
)

// WebhookHandlers accepts provider callbacks that settle pending orders out of band.
type WebhookHandlers struct {
	checkout     services.CheckoutService
	stripeSecret string
	netsGuard    func(http.Handler) http.Handler
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithStripeWebhookSecret sets the endpoint secret used to verify Stripe-Signature.
func WithStripeWebhookSecret(secret string) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripeSecret = strings.TrimSpace(secret)
	}
}

// WithNETSWebhookGuard installs the signature middleware for NETS notifications.
func WithNETSWebhookGuard(guard func(http.Handler) http.Handler) WebhookOption {
	return func(h *WebhookHandlers) {
		h.netsGuard = guard
	}
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(checkout services.CheckoutService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeEvent)
	if h.netsGuard != nil {
		r.With(h.netsGuard).Post("/nets", h.netsNotification)
	} else {
		r.Post("/nets", h.netsNotification)
	}
}

type netsNotification struct {
	TxnRetrievalRef string `json:"txn_retrieval_ref"`
	Status          string `json:"status"`
}

type webhookAck struct {
	Received bool   `json:"received"`
	OrderID  string `json:"order_id,omitempty"`
	Ignored  bool   `json:"ignored,omitempty"`
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.stripeSecret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "stripe webhook secret not configured", http.StatusServiceUnavailable))
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get(stripeSignatureHeader), h.stripeSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "stripe signature verification failed", http.StatusUnauthorized))
		return
	}

	logger := requestctx.Logger(ctx).With(zap.String("stripeEventID", event.ID), zap.String("stripeEventType", string(event.Type)))
	if string(event.Type) != stripePaymentIntentSucceeded {
		logger.Debug("stripe event ignored")
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
		return
	}
	var intent stripe.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &intent) != nil || intent.ID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", "payment intent payload missing", http.StatusBadRequest))
		return
	}
	h.settle(w, r, logger, domain.PaymentMethodStripe, intent.ID)
}

func (h *WebhookHandlers) netsNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
		return
	}
	var note netsNotification
	if err := json.Unmarshal(body, &note); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "notification body must be JSON", http.StatusBadRequest))
		return
	}
	ref := strings.TrimSpace(note.TxnRetrievalRef)
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "txn_retrieval_ref is required", http.StatusBadRequest))
		return
	}
	logger := requestctx.Logger(ctx).With(zap.String("netsTxnRef", ref))
	h.settle(w, r, logger, domain.PaymentMethodNETS, ref)
}

// settle confirms the order behind reference. Unknown references and declined payments are
// acknowledged so the provider stops retrying.
func (h *WebhookHandlers) settle(w http.ResponseWriter, r *http.Request, logger *zap.Logger, method domain.PaymentMethod, reference string) {
	ctx := r.Context()
	result, err := h.checkout.ConfirmByReference(ctx, method, reference)
	switch {
	case err == nil:
		logger.Info("webhook settled order",
			zap.String("orderID", result.Order.ID),
			zap.Bool("alreadySettled", result.AlreadySettled))
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, OrderID: result.Order.ID})
	case errors.Is(err, services.ErrCheckoutNoPendingOrder), errors.Is(err, services.ErrCheckoutPaymentFailed):
		logger.Warn("webhook ignored", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
	default:
		writeServiceError(ctx, w, err)
	}
}
