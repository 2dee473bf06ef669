package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/repositories"
	"github.com/homebitez/api/internal/services"
)

type errorMapping struct {
	target  error
	code    string
	status  int
	message string
}

// serviceErrorMappings is evaluated in order; the first match wins.
var serviceErrorMappings = []errorMapping{
	{target: services.ErrCheckoutAuthRequired, code: "unauthenticated", status: http.StatusUnauthorized, message: "sign in to use this payment option"},
	{target: payments.ErrInsufficientFunds, code: "insufficient_funds", status: http.StatusPaymentRequired},
	{target: services.ErrCartInsufficientPoints, code: "insufficient_points", status: http.StatusBadRequest},
	{target: services.ErrCheckoutCartEmpty, code: "empty_selection", status: http.StatusBadRequest},

	{target: services.ErrCartInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrCheckoutInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrOrderInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrLoyaltyInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrWalletInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrRefundInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrRefundInvalidAmount, code: "invalid_amount", status: http.StatusBadRequest},
	{target: services.ErrPaylaterInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrInventoryInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: services.ErrPricingInvalidInput, code: "invalid_request", status: http.StatusBadRequest},
	{target: money.ErrNotANumber, code: "invalid_amount", status: http.StatusBadRequest},
	{target: money.ErrInvalidQuantity, code: "invalid_quantity", status: http.StatusBadRequest},

	{target: services.ErrCartItemNotFound, code: "cart_item_not_found", status: http.StatusNotFound},
	{target: services.ErrCartProductNotFound, code: "product_not_found", status: http.StatusNotFound},
	{target: services.ErrInventoryNotFound, code: "product_not_found", status: http.StatusNotFound},
	{target: services.ErrOrderNotFound, code: "order_not_found", status: http.StatusNotFound, message: "order not found"},
	{target: services.ErrRefundNotFound, code: "refund_not_found", status: http.StatusNotFound, message: "refund request not found"},
	{target: services.ErrCheckoutNoConfirmedOrder, code: "no_confirmed_order", status: http.StatusNotFound, message: "no confirmed order for this session"},

	{target: services.ErrCheckoutNoPendingOrder, code: "no_pending_order", status: http.StatusConflict},
	{target: services.ErrCheckoutPaymentPending, code: "payment_pending", status: http.StatusConflict, message: "payment has not completed yet"},
	{target: services.ErrOrderInvalidTransition, code: "invalid_transition", status: http.StatusConflict},
	{target: services.ErrRefundAlreadyApproved, code: "refund_already_approved", status: http.StatusConflict},
	{target: services.ErrRefundAlreadyRejected, code: "refund_already_rejected", status: http.StatusConflict},
	{target: services.ErrRefundOrderNotEligible, code: "order_not_refundable", status: http.StatusConflict},
	{target: services.ErrRefundNoPaymentReference, code: "no_payment_reference", status: http.StatusConflict},
	{target: services.ErrRefundPendingExists, code: "refund_pending", status: http.StatusConflict, message: "a refund request for this order is already pending"},
	{target: services.ErrRefundExceedsOrder, code: "refund_exceeds_order", status: http.StatusConflict},
	{target: services.ErrPaylaterNothingOutstanding, code: "nothing_outstanding", status: http.StatusConflict},

	{target: services.ErrCheckoutPaymentFailed, code: "payment_declined", status: http.StatusPaymentRequired, message: "payment was declined"},
	{target: payments.ErrUnsupportedProvider, code: "payment_method_unavailable", status: http.StatusServiceUnavailable, message: "payment method is not available"},

	{target: services.ErrCartUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "cart is temporarily unavailable"},
	{target: services.ErrCheckoutUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "checkout is temporarily unavailable"},
	{target: services.ErrOrderUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "orders are temporarily unavailable"},
	{target: services.ErrLoyaltyUnavailable, code: "service_unavailable", status: http.StatusServiceUnavailable, message: "points are temporarily unavailable"},
}

// writeServiceError maps service, payment and repository errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range serviceErrorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = err.Error()
			}
			httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
			return
		}
	}

	var providerErr *payments.ProviderError
	if errors.As(err, &providerErr) {
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the request", http.StatusBadGateway).WithDetails(map[string]any{
			"method": string(providerErr.Method),
		}))
		return
	}
	var configErr *payments.ConfigurationError
	if errors.As(err, &configErr) {
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_unavailable", "payment method is not configured", http.StatusServiceUnavailable))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict))
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage is temporarily unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected storage error", http.StatusInternalServerError))
		}
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
}
