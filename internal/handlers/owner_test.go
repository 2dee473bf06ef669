package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/services"
)

func newOwnerRouter(svc OwnerServices) chi.Router {
	router := chi.NewRouter()
	router.Route("/owner", NewOwnerHandlers(nil, svc).Routes)
	return router
}

func TestOwnerHandlersOrders(t *testing.T) {
	completedAt := time.Date(2025, 4, 3, 18, 0, 0, 0, time.UTC)
	var completeArgs [2]string
	var getCmd services.GetOrderCommand
	router := newOwnerRouter(OwnerServices{
		Orders: &stubOrderService{
			listAllFunc: func(_ context.Context, limit int) ([]services.Order, error) {
				if limit != maxListPageSize {
					t.Fatalf("expected limit %d, got %d", maxListPageSize, limit)
				}
				return []services.Order{settledOrder("ord_1", domain.PaymentMethodPayPal), settledOrder("ord_2", domain.PaymentMethodNETS)}, nil
			},
			getFunc: func(_ context.Context, cmd services.GetOrderCommand) (services.Order, error) {
				getCmd = cmd
				return settledOrder(cmd.OrderID, domain.PaymentMethodStripe), nil
			},
			completeFunc: func(_ context.Context, orderID, actorID string) (services.Order, error) {
				completeArgs = [2]string{orderID, actorID}
				if orderID == "ord_pending" {
					return services.Order{}, services.ErrOrderInvalidTransition
				}
				order := settledOrder(orderID, domain.PaymentMethodPayPal)
				order.Status = domain.OrderStatusCompleted
				order.CompletedAt = &completedAt
				return order, nil
			},
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/owner/orders?pageSize=100", nil), "owner-1", auth.RoleOwner))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders := decodeBody(t, rr)["orders"].([]any); len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/owner/orders/ord_x", nil), "owner-1", auth.RoleOwner))
	if rr.Code != http.StatusOK || !getCmd.AllowAnyUser || getCmd.OrderID != "ord_x" {
		t.Fatalf("unexpected get result %d %#v", rr.Code, getCmd)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/orders/ord_1/complete", nil), "owner-1", auth.RoleOwner))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if completeArgs != [2]string{"ord_1", "owner-1"} {
		t.Fatalf("unexpected complete args %#v", completeArgs)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["status"] != "completed" || order["completed_at"] != "2025-04-03T18:00:00Z" {
		t.Fatalf("unexpected completed order %#v", order)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/orders/ord_pending/complete", nil), "owner-1", auth.RoleOwner))
	assertErrorCode(t, rr, http.StatusConflict, "invalid_transition")
}

func TestOwnerHandlersListRefundsFilter(t *testing.T) {
	var filter services.RefundFilter
	router := newOwnerRouter(OwnerServices{
		Refunds: &stubRefundService{
			listFunc: func(_ context.Context, f services.RefundFilter) ([]services.RefundRequest, error) {
				filter = f
				return nil, nil
			},
		},
	})

	query := url.Values{}
	query.Set("filter", "status==Pending")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/owner/refunds?"+query.Encode(), nil), "owner-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if filter.Status != domain.RefundStatusPending || filter.UserID != "" {
		t.Fatalf("unexpected filter %#v", filter)
	}
	if refunds := decodeBody(t, rr)["refunds"].([]any); len(refunds) != 0 {
		t.Fatalf("expected empty list, got %#v", refunds)
	}

	query.Set("filter", "status==refunded")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/owner/refunds?"+query.Encode(), nil), "owner-1"))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_filter")

	query.Set("filter", "amount>=5")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/owner/refunds?"+query.Encode(), nil), "owner-1"))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestOwnerHandlersApproveRefund(t *testing.T) {
	balance := decimal.RequireFromString("20")
	router := newOwnerRouter(OwnerServices{
		Refunds: &stubRefundService{
			approveFunc: func(_ context.Context, cmd services.DecideRefundCommand) (services.RefundApproval, error) {
				switch cmd.RefundID {
				case "rfd_wallet":
					return services.RefundApproval{
						Refund:        services.RefundRequest{ID: cmd.RefundID, Method: domain.RefundMethodWallet, Status: domain.RefundStatusApproved, Amount: decimal.RequireFromString("5")},
						Amount:        decimal.RequireFromString("5"),
						WalletBalance: &balance,
					}, nil
				case "rfd_card":
					return services.RefundApproval{
						Refund:         services.RefundRequest{ID: cmd.RefundID, Method: domain.RefundMethodOriginal, Status: domain.RefundStatusApproved},
						Amount:         decimal.RequireFromString("9.5"),
						ProviderRefund: "re_123",
					}, nil
				case "rfd_rejected":
					return services.RefundApproval{}, services.ErrRefundAlreadyRejected
				case "rfd_over":
					return services.RefundApproval{}, fmt.Errorf("%w: 0.00 remaining", services.ErrRefundExceedsOrder)
				default:
					return services.RefundApproval{}, services.ErrRefundNotFound
				}
			},
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/refunds/rfd_wallet/approve", nil), "owner-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["wallet_balance"] != "20.00" || body["amount"] != "5.00" {
		t.Fatalf("unexpected wallet approval %#v", body)
	}
	if _, ok := body["provider_refund"]; ok {
		t.Fatalf("wallet approval should not carry a provider refund id")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/refunds/rfd_card/approve", nil), "owner-1"))
	body = decodeBody(t, rr)
	if body["provider_refund"] != "re_123" {
		t.Fatalf("unexpected card approval %#v", body)
	}
	if _, ok := body["wallet_balance"]; ok {
		t.Fatalf("card approval should not carry a wallet balance")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/refunds/rfd_rejected/approve", nil), "owner-1"))
	assertErrorCode(t, rr, http.StatusConflict, "refund_already_rejected")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/refunds/rfd_over/approve", nil), "owner-1"))
	assertErrorCode(t, rr, http.StatusConflict, "refund_exceeds_order")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/refunds/rfd_missing/approve", nil), "owner-1"))
	assertErrorCode(t, rr, http.StatusNotFound, "refund_not_found")
}

func TestOwnerHandlersRejectRefund(t *testing.T) {
	var captured services.DecideRefundCommand
	router := newOwnerRouter(OwnerServices{
		Refunds: &stubRefundService{
			rejectFunc: func(_ context.Context, cmd services.DecideRefundCommand) (services.RefundRequest, error) {
				captured = cmd
				return services.RefundRequest{ID: cmd.RefundID, Status: domain.RefundStatusRejected}, nil
			},
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/owner/refunds/rfd_1/reject", nil), "admin-1", auth.RoleAdmin))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.RefundID != "rfd_1" || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestOwnerHandlersInventory(t *testing.T) {
	var captured services.SetStockCommand
	router := newOwnerRouter(OwnerServices{
		Inventory: &stubInventoryService{
			listFunc: func(context.Context) ([]services.Product, error) {
				return []services.Product{{ID: "p1", Name: "Brownie", Price: decimal.RequireFromString("4"), Stock: 12}}, nil
			},
			stockFunc: func(_ context.Context, cmd services.SetStockCommand) (services.Product, error) {
				captured = cmd
				if cmd.ProductID == "missing" {
					return services.Product{}, services.ErrInventoryNotFound
				}
				return services.Product{ID: cmd.ProductID, Name: "Brownie", Price: decimal.RequireFromString("4"), Stock: cmd.Stock}, nil
			},
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/owner/products", nil), "owner-1"))
	products := decodeBody(t, rr)["products"].([]any)
	if len(products) != 1 || products[0].(map[string]any)["price"] != "4.00" {
		t.Fatalf("unexpected products %#v", products)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPut, "/owner/products/p1/stock", bytes.NewBufferString(`{"stock":"30"}`)), "owner-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Stock != 30 || captured.ActorID != "owner-1" {
		t.Fatalf("unexpected command %#v", captured)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPut, "/owner/products/p1/stock", bytes.NewBufferString(`{"stock":-2}`)), "owner-1"))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_quantity")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPut, "/owner/products/p1/stock", bytes.NewBufferString(`{}`)), "owner-1"))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPut, "/owner/products/missing/stock", bytes.NewBufferString(`{"stock":1}`)), "owner-1"))
	assertErrorCode(t, rr, http.StatusNotFound, "product_not_found")
}
