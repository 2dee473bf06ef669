package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/requestctx"
	"github.com/homebitez/api/internal/services"
)

const (
	defaultNETSStreamTimeout = 50 * time.Second
	idempotencyKeyHeader     = "Idempotency-Key"
)

// CheckoutHandlers drives payment initiation, confirmation and the receipt view.
type CheckoutHandlers struct {
	authn         *auth.Authenticator
	checkout      services.CheckoutService
	session       func(http.Handler) http.Handler
	streamTimeout time.Duration
	enabled       func(method string) bool
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithNETSStreamTimeout bounds how long the NETS status stream stays open.
func WithNETSStreamTimeout(d time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if d > 0 {
			h.streamTimeout = d
		}
	}
}

// WithEnabledMethods restricts which payment methods may be started.
func WithEnabledMethods(enabled func(method string) bool) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if enabled != nil {
			h.enabled = enabled
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers. Guests may pay with PayPal, Stripe or NETS;
// wallet and PayLater require a signed-in customer.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:         authn,
		checkout:      checkout,
		session:       SessionMiddleware(nil),
		streamTimeout: defaultNETSStreamTimeout,
		enabled:       func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Use(h.session)

	r.Post("/wallet", h.payWithWallet)
	r.Post("/paylater", h.selectPaylater)
	r.Get("/nets/stream", h.streamNETS)
	r.Get("/receipt", h.receipt)
	r.Post("/{method}", h.start)
	r.Post("/{method}/confirm", h.confirm)
}

type checkoutStartResponse struct {
	OrderID      string         `json:"order_id"`
	Method       string         `json:"method"`
	Reference    string         `json:"reference"`
	ClientSecret string         `json:"client_secret,omitempty"`
	ApproveURL   string         `json:"approve_url,omitempty"`
	QRCode       string         `json:"qr_code,omitempty"`
	Pricing      pricingPayload `json:"pricing"`
}

type checkoutConfirmRequest struct {
	Reference string `json:"reference"`
}

type paylaterRequest struct {
	Months int `json:"months"`
}

type checkoutResultResponse struct {
	Order          orderPayload `json:"order"`
	AlreadySettled bool         `json:"already_settled"`
	PointsEarned   int          `json:"points_earned"`
	PointsRedeemed int          `json:"points_redeemed"`
}

func buildCheckoutResult(result services.CheckoutResult) checkoutResultResponse {
	return checkoutResultResponse{
		Order:          buildOrderPayload(result.Order),
		AlreadySettled: result.AlreadySettled,
		PointsEarned:   result.PointsEarned,
		PointsRedeemed: result.PointsRedeemed,
	}
}

func (h *CheckoutHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.checkout == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CheckoutHandlers) providerMethod(w http.ResponseWriter, r *http.Request) (domain.PaymentMethod, bool) {
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "method"))))
	switch method {
	case domain.PaymentMethodPayPal, domain.PaymentMethodStripe, domain.PaymentMethodNETS:
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("unsupported_method", "payment method must be paypal, stripe or nets", http.StatusNotFound))
		return "", false
	}
	if !h.enabled(string(method)) {
		httpx.WriteError(r.Context(), w, httpx.NewError("payment_method_unavailable", "payment method is not enabled", http.StatusServiceUnavailable))
		return "", false
	}
	return method, true
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	method, ok := h.providerMethod(w, r)
	if !ok {
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	started, err := h.checkout.Start(ctx, services.StartCheckoutCommand{
		SessionKey:     key,
		UserID:         identityUID(identity),
		Email:          identityEmail(identity),
		Method:         method,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, checkoutStartResponse{
		OrderID:      started.OrderID,
		Method:       string(started.Method),
		Reference:    started.Reference,
		ClientSecret: started.ClientSecret,
		ApproveURL:   started.ApproveURL,
		QRCode:       started.QRCode,
		Pricing:      buildPricingPayload(started.Pricing),
	})
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	method, ok := h.providerMethod(w, r)
	if !ok {
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	var req checkoutConfirmRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	result, err := h.checkout.Confirm(ctx, services.ConfirmCheckoutCommand{
		SessionKey: key,
		UserID:     identityUID(identity),
		Method:     method,
		Reference:  req.Reference,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResult(result))
}

func (h *CheckoutHandlers) payWithWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	if !h.enabled(string(domain.PaymentMethodWallet)) {
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_unavailable", "payment method is not enabled", http.StatusServiceUnavailable))
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	result, err := h.checkout.PayWithWallet(ctx, services.WalletCheckoutCommand{
		SessionKey: key,
		UserID:     identityUID(identity),
		Email:      identityEmail(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResult(result))
}

func (h *CheckoutHandlers) selectPaylater(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	if !h.enabled(string(domain.PaymentMethodPaylater)) {
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_unavailable", "payment method is not enabled", http.StatusServiceUnavailable))
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	var req paylaterRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	result, err := h.checkout.SelectPaylater(ctx, services.PaylaterCheckoutCommand{
		SessionKey: key,
		UserID:     identityUID(identity),
		Email:      identityEmail(identity),
		Months:     req.Months,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutResult(result))
}

func (h *CheckoutHandlers) receipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, _, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	order, err := h.checkout.Receipt(ctx, key)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

// streamNETS pushes NETS QR status over server-sent events until the payment settles,
// fails, the stream times out, or the client disconnects. Nothing is written after the
// client has gone away.
func (h *CheckoutHandlers) streamNETS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	key, identity, ok := sessionCaller(ctx, w)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := requestctx.Logger(ctx)
	send := func(event string, data any) {
		if r.Context().Err() != nil {
			return
		}
		if err := sse.Encode(w, sse.Event{Event: event, Data: data}); err != nil {
			logger.Debug("nets stream write failed", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	streamCtx, cancel := context.WithTimeout(ctx, h.streamTimeout)
	defer cancel()

	result, err := h.checkout.AwaitNETS(streamCtx, services.AwaitNETSCommand{
		SessionKey: key,
		UserID:     identityUID(identity),
		OnPending: func(status payments.Status) {
			send("status", map[string]any{"status": string(status)})
		},
	})
	switch {
	case err == nil:
		send("settled", buildCheckoutResult(result))
	case r.Context().Err() != nil:
		logger.Debug("nets stream closed by client")
	case errors.Is(err, context.DeadlineExceeded):
		send("timeout", map[string]any{"status": string(payments.StatusPending)})
	default:
		send("error", streamError(err))
	}
}

func streamError(err error) map[string]any {
	payload := map[string]any{"message": "payment could not be confirmed"}
	switch {
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		payload["error"] = "payment_declined"
	case errors.Is(err, services.ErrCheckoutNoPendingOrder):
		payload["error"] = "no_pending_order"
		payload["message"] = "no NETS payment is pending for this session"
	case payments.IsProviderError(err):
		payload["error"] = "payment_failed"
	default:
		payload["error"] = "internal_error"
	}
	return payload
}
