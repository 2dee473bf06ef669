package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/platform/pagination"
	"github.com/homebitez/api/internal/services"
)

// OwnerServices bundles the services behind the shop owner's console.
type OwnerServices struct {
	Orders    services.OrderService
	Refunds   services.RefundService
	Inventory services.InventoryService
}

// OwnerHandlers serves order fulfilment, refund decisions and stock management.
type OwnerHandlers struct {
	authn *auth.Authenticator
	svc   OwnerServices
}

// NewOwnerHandlers constructs handlers restricted to owner and admin roles.
func NewOwnerHandlers(authn *auth.Authenticator, svc OwnerServices) *OwnerHandlers {
	return &OwnerHandlers{authn: authn, svc: svc}
}

var refundListFilters = map[string][]pagination.Operator{
	"status": nil,
}

// Routes wires the /owner endpoints.
func (h *OwnerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleOwner, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/complete", h.completeOrder)
	r.Get("/refunds", h.listRefunds)
	r.Post("/refunds/{refundID}/approve", h.approveRefund)
	r.Post("/refunds/{refundID}/reject", h.rejectRefund)
	r.Get("/products", h.listProducts)
	r.Put("/products/{productID}/stock", h.setStock)
}

type stockRequest struct {
	Stock any `json:"stock"`
}

type refundApprovalResponse struct {
	Refund          refundPayload `json:"refund"`
	Amount          string        `json:"amount"`
	AlreadyApproved bool          `json:"already_approved"`
	ProviderRefund  string        `json:"provider_refund,omitempty"`
	WalletBalance   *string       `json:"wallet_balance,omitempty"`
}

func (h *OwnerHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	params, ok := listParams(w, r, nil)
	if !ok {
		return
	}
	orders, err := h.svc.Orders.ListAll(ctx, params.PageSize)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": buildOrderList(orders)})
}

func (h *OwnerHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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
		OrderID:      chi.URLParam(r, "orderID"),
		UserID:       identity.UID,
		AllowAnyUser: true,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OwnerHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.svc.Orders.MarkCompleted(ctx, chi.URLParam(r, "orderID"), identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OwnerHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Refunds == nil {
		serviceUnavailable(w, r, "refund")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	params, ok := listParams(w, r, refundListFilters)
	if !ok {
		return
	}
	status := domain.RefundStatus(strings.ToLower(params.Value("status")))
	switch status {
	case "", domain.RefundStatusPending, domain.RefundStatusApproved, domain.RefundStatusRejected:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", "status must be pending, approved or rejected", http.StatusBadRequest))
		return
	}
	refunds, err := h.svc.Refunds.List(ctx, services.RefundFilter{Status: status, Limit: params.PageSize})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"refunds": buildRefundList(refunds)})
}

func (h *OwnerHandlers) approveRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Refunds == nil {
		serviceUnavailable(w, r, "refund")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	approval, err := h.svc.Refunds.Approve(ctx, services.DecideRefundCommand{
		RefundID: chi.URLParam(r, "refundID"),
		ActorID:  identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := refundApprovalResponse{
		Refund:          buildRefundPayload(approval.Refund),
		Amount:          money.Format(approval.Amount),
		AlreadyApproved: approval.AlreadyApproved,
		ProviderRefund:  approval.ProviderRefund,
	}
	if approval.WalletBalance != nil {
		balance := money.Format(*approval.WalletBalance)
		resp.WalletBalance = &balance
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OwnerHandlers) rejectRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Refunds == nil {
		serviceUnavailable(w, r, "refund")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	refund, err := h.svc.Refunds.Reject(ctx, services.DecideRefundCommand{
		RefundID: chi.URLParam(r, "refundID"),
		ActorID:  identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"refund": buildRefundPayload(refund)})
}

func (h *OwnerHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Inventory == nil {
		serviceUnavailable(w, r, "inventory")
		return
	}
	products, err := h.svc.Inventory.ListProducts(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]productPayload, 0, len(products))
	for _, product := range products {
		out = append(out, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"products": out})
}

func (h *OwnerHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Inventory == nil {
		serviceUnavailable(w, r, "inventory")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req stockRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if req.Stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "stock is required", http.StatusBadRequest))
		return
	}
	stock, err := money.ParseQuantity(req.Stock)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	product, err := h.svc.Inventory.SetStock(ctx, services.SetStockCommand{
		ProductID: chi.URLParam(r, "productID"),
		Stock:     stock,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}
