package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/services"
)

const (
	refundRequestLimit  = 5
	refundRequestWindow = time.Hour
)

// MeServices bundles the services behind the signed-in customer's endpoints.
type MeServices struct {
	Orders   services.OrderService
	Wallet   services.WalletService
	Loyalty  services.LoyaltyService
	Paylater services.PaylaterService
	Refunds  services.RefundService
}

// MeHandlers exposes the signed-in customer's orders, balances and requests.
type MeHandlers struct {
	authn         *auth.Authenticator
	svc           MeServices
	refundLimiter rateLimiter
}

// NewMeHandlers constructs handlers for /me endpoints.
func NewMeHandlers(authn *auth.Authenticator, svc MeServices) *MeHandlers {
	return &MeHandlers{
		authn:         authn,
		svc:           svc,
		refundLimiter: newSimpleRateLimiter(refundRequestLimit, refundRequestWindow, time.Now),
	}
}

// Routes wires the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/wallet", h.wallet)
	r.Get("/points", h.points)
	r.Get("/paylater", h.paylaterPlans)
	r.Post("/paylater/payments", h.payPaylater)
	r.Get("/refunds", h.listRefunds)
	r.Post("/refunds", h.requestRefund)
}

type paylaterPaymentRequest struct {
	Amount any `json:"amount"`
}

type refundCreateRequest struct {
	OrderID string `json:"order_id"`
	Amount  any    `json:"amount"`
	Reason  string `json:"reason"`
	Method  string `json:"method"`
	Details string `json:"details"`
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, name string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func (h *MeHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	params, ok := listParams(w, r, nil)
	if !ok {
		return
	}
	orders, err := h.svc.Orders.ListForUser(ctx, identity.UID, params.PageSize)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": buildOrderList(orders)})
}

func (h *MeHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.svc.Orders.Get(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *MeHandlers) wallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Wallet == nil {
		serviceUnavailable(w, r, "wallet")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	params, ok := listParams(w, r, nil)
	if !ok {
		return
	}
	summary, err := h.svc.Wallet.Summary(ctx, identity.UID, params.PageSize)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"balance": money.Format(summary.Balance),
		"history": buildWalletHistory(summary.History),
	})
}

func (h *MeHandlers) points(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Loyalty == nil {
		serviceUnavailable(w, r, "loyalty")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	params, ok := listParams(w, r, nil)
	if !ok {
		return
	}
	summary, err := h.svc.Loyalty.Summary(ctx, identity.UID, params.PageSize)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"balance": summary.Balance,
		"history": buildLoyaltyHistory(summary.History),
	})
}

func (h *MeHandlers) paylaterPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Paylater == nil {
		serviceUnavailable(w, r, "paylater")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	plans, err := h.svc.Paylater.Plans(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"plans": buildPaylaterPlans(plans)})
}

func (h *MeHandlers) payPaylater(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Paylater == nil {
		serviceUnavailable(w, r, "paylater")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req paylaterPaymentRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	amount, err := money.Normalize(req.Amount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	result, err := h.svc.Paylater.Pay(ctx, services.PaylaterPaymentCommand{
		UserID: identity.UID,
		Amount: amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"applied":        money.Format(result.Applied),
		"wallet_balance": money.Format(result.WalletBalance),
		"plans":          buildPaylaterPlans(result.Plans),
	})
}

func (h *MeHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Refunds == nil {
		serviceUnavailable(w, r, "refund")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	params, ok := listParams(w, r, nil)
	if !ok {
		return
	}
	refunds, err := h.svc.Refunds.List(ctx, services.RefundFilter{UserID: identity.UID, Limit: params.PageSize})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"refunds": buildRefundList(refunds)})
}

func (h *MeHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Refunds == nil {
		serviceUnavailable(w, r, "refund")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.refundLimiter != nil {
		if allowed, retryAfter := h.refundLimiter.Allow(identity.UID); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "too many refund requests; try again later", http.StatusTooManyRequests))
			return
		}
	}
	var req refundCreateRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	amount, err := money.Normalize(req.Amount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	refund, err := h.svc.Refunds.Request(ctx, services.RequestRefundCommand{
		UserID:  identity.UID,
		OrderID: req.OrderID,
		Amount:  amount,
		Reason:  req.Reason,
		Method:  domain.RefundMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Details: req.Details,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"refund": buildRefundPayload(refund)})
}

func buildRefundList(refunds []domain.RefundRequest) []refundPayload {
	out := make([]refundPayload, 0, len(refunds))
	for _, refund := range refunds {
		out = append(out, buildRefundPayload(refund))
	}
	return out
}
