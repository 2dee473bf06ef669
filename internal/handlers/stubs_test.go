package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/services"
)

type stubCartService struct {
	getFunc       func(ctx context.Context, key string) (services.CartView, error)
	addFunc       func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error)
	updateFunc    func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error)
	removeFunc    func(ctx context.Context, key, name string) (services.CartView, error)
	selectionFunc func(ctx context.Context, key string, names []string) (services.CartView, error)
	prefsFunc     func(ctx context.Context, key string, prefs services.FulfillmentPreferences) (services.CartView, error)
	redeemFunc    func(ctx context.Context, cmd services.SetRedemptionCommand) (services.CartView, error)
	clearFunc     func(ctx context.Context, key string) (services.CartView, error)
	quoteFunc     func(ctx context.Context, key string) (services.CartView, error)
}

func (s *stubCartService) Get(ctx context.Context, key string) (services.CartView, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, key)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, key, name string) (services.CartView, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, key, name)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) SetSelection(ctx context.Context, key string, names []string) (services.CartView, error) {
	if s.selectionFunc != nil {
		return s.selectionFunc(ctx, key, names)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) SetPreferences(ctx context.Context, key string, prefs services.FulfillmentPreferences) (services.CartView, error) {
	if s.prefsFunc != nil {
		return s.prefsFunc(ctx, key, prefs)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) SetRedemption(ctx context.Context, cmd services.SetRedemptionCommand) (services.CartView, error) {
	if s.redeemFunc != nil {
		return s.redeemFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) ClearRedemption(ctx context.Context, key string) (services.CartView, error) {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, key)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) Quote(ctx context.Context, key string) (services.CartView, error) {
	if s.quoteFunc != nil {
		return s.quoteFunc(ctx, key)
	}
	return services.CartView{}, nil
}

type stubCheckoutService struct {
	startFunc    func(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutStart, error)
	confirmFunc  func(ctx context.Context, cmd services.ConfirmCheckoutCommand) (services.CheckoutResult, error)
	awaitFunc    func(ctx context.Context, cmd services.AwaitNETSCommand) (services.CheckoutResult, error)
	walletFunc   func(ctx context.Context, cmd services.WalletCheckoutCommand) (services.CheckoutResult, error)
	paylaterFunc func(ctx context.Context, cmd services.PaylaterCheckoutCommand) (services.CheckoutResult, error)
	receiptFunc  func(ctx context.Context, key string) (services.Order, error)
	byRefFunc    func(ctx context.Context, method services.PaymentMethod, ref string) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Start(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutStart, error) {
	if s.startFunc != nil {
		return s.startFunc(ctx, cmd)
	}
	return services.CheckoutStart{}, nil
}

func (s *stubCheckoutService) Confirm(ctx context.Context, cmd services.ConfirmCheckoutCommand) (services.CheckoutResult, error) {
	if s.confirmFunc != nil {
		return s.confirmFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) AwaitNETS(ctx context.Context, cmd services.AwaitNETSCommand) (services.CheckoutResult, error) {
	if s.awaitFunc != nil {
		return s.awaitFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) PayWithWallet(ctx context.Context, cmd services.WalletCheckoutCommand) (services.CheckoutResult, error) {
	if s.walletFunc != nil {
		return s.walletFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) SelectPaylater(ctx context.Context, cmd services.PaylaterCheckoutCommand) (services.CheckoutResult, error) {
	if s.paylaterFunc != nil {
		return s.paylaterFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

func (s *stubCheckoutService) Receipt(ctx context.Context, key string) (services.Order, error) {
	if s.receiptFunc != nil {
		return s.receiptFunc(ctx, key)
	}
	return services.Order{}, nil
}

func (s *stubCheckoutService) ConfirmByReference(ctx context.Context, method services.PaymentMethod, ref string) (services.CheckoutResult, error) {
	if s.byRefFunc != nil {
		return s.byRefFunc(ctx, method, ref)
	}
	return services.CheckoutResult{}, nil
}

type stubOrderService struct {
	getFunc      func(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error)
	listUserFunc func(ctx context.Context, userID string, limit int) ([]services.Order, error)
	listAllFunc  func(ctx context.Context, limit int) ([]services.Order, error)
	completeFunc func(ctx context.Context, orderID, actorID string) (services.Order, error)
}

func (s *stubOrderService) Get(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ListForUser(ctx context.Context, userID string, limit int) ([]services.Order, error) {
	if s.listUserFunc != nil {
		return s.listUserFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (s *stubOrderService) ListAll(ctx context.Context, limit int) ([]services.Order, error) {
	if s.listAllFunc != nil {
		return s.listAllFunc(ctx, limit)
	}
	return nil, nil
}

func (s *stubOrderService) MarkCompleted(ctx context.Context, orderID, actorID string) (services.Order, error) {
	if s.completeFunc != nil {
		return s.completeFunc(ctx, orderID, actorID)
	}
	return services.Order{}, nil
}

type stubWalletService struct {
	summaryFunc func(ctx context.Context, userID string, limit int) (services.WalletSummary, error)
}

func (s *stubWalletService) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s *stubWalletService) Debit(context.Context, string, decimal.Decimal, string, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (s *stubWalletService) Credit(context.Context, services.WalletCreditCommand) (services.WalletMovement, error) {
	return services.WalletMovement{}, nil
}

func (s *stubWalletService) Summary(ctx context.Context, userID string, limit int) (services.WalletSummary, error) {
	if s.summaryFunc != nil {
		return s.summaryFunc(ctx, userID, limit)
	}
	return services.WalletSummary{}, nil
}

type stubLoyaltyService struct {
	summaryFunc func(ctx context.Context, userID string, limit int) (services.LoyaltySummary, error)
}

func (s *stubLoyaltyService) AddPoints(context.Context, services.AddPointsCommand) (services.LoyaltyResult, error) {
	return services.LoyaltyResult{}, nil
}

func (s *stubLoyaltyService) Summary(ctx context.Context, userID string, limit int) (services.LoyaltySummary, error) {
	if s.summaryFunc != nil {
		return s.summaryFunc(ctx, userID, limit)
	}
	return services.LoyaltySummary{}, nil
}

type stubRefundService struct {
	requestFunc func(ctx context.Context, cmd services.RequestRefundCommand) (services.RefundRequest, error)
	listFunc    func(ctx context.Context, filter services.RefundFilter) ([]services.RefundRequest, error)
	approveFunc func(ctx context.Context, cmd services.DecideRefundCommand) (services.RefundApproval, error)
	rejectFunc  func(ctx context.Context, cmd services.DecideRefundCommand) (services.RefundRequest, error)
}

func (s *stubRefundService) Request(ctx context.Context, cmd services.RequestRefundCommand) (services.RefundRequest, error) {
	if s.requestFunc != nil {
		return s.requestFunc(ctx, cmd)
	}
	return services.RefundRequest{}, nil
}

func (s *stubRefundService) List(ctx context.Context, filter services.RefundFilter) ([]services.RefundRequest, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return nil, nil
}

func (s *stubRefundService) Approve(ctx context.Context, cmd services.DecideRefundCommand) (services.RefundApproval, error) {
	if s.approveFunc != nil {
		return s.approveFunc(ctx, cmd)
	}
	return services.RefundApproval{}, nil
}

func (s *stubRefundService) Reject(ctx context.Context, cmd services.DecideRefundCommand) (services.RefundRequest, error) {
	if s.rejectFunc != nil {
		return s.rejectFunc(ctx, cmd)
	}
	return services.RefundRequest{}, nil
}

type stubPaylaterService struct {
	payFunc       func(ctx context.Context, cmd services.PaylaterPaymentCommand) (services.PaylaterPaymentResult, error)
	plansFunc     func(ctx context.Context, userID string) ([]services.PaylaterPlanView, error)
	remindersFunc func(ctx context.Context, cmd services.PaylaterReminderCommand) (services.PaylaterReminderResult, error)
}

func (s *stubPaylaterService) Pay(ctx context.Context, cmd services.PaylaterPaymentCommand) (services.PaylaterPaymentResult, error) {
	if s.payFunc != nil {
		return s.payFunc(ctx, cmd)
	}
	return services.PaylaterPaymentResult{}, nil
}

func (s *stubPaylaterService) Plans(ctx context.Context, userID string) ([]services.PaylaterPlanView, error) {
	if s.plansFunc != nil {
		return s.plansFunc(ctx, userID)
	}
	return nil, nil
}

func (s *stubPaylaterService) SendReminders(ctx context.Context, cmd services.PaylaterReminderCommand) (services.PaylaterReminderResult, error) {
	if s.remindersFunc != nil {
		return s.remindersFunc(ctx, cmd)
	}
	return services.PaylaterReminderResult{}, nil
}

type stubInventoryService struct {
	listFunc  func(ctx context.Context) ([]services.Product, error)
	stockFunc func(ctx context.Context, cmd services.SetStockCommand) (services.Product, error)
}

func (s *stubInventoryService) ListProducts(ctx context.Context) ([]services.Product, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx)
	}
	return nil, nil
}

func (s *stubInventoryService) SetStock(ctx context.Context, cmd services.SetStockCommand) (services.Product, error) {
	if s.stockFunc != nil {
		return s.stockFunc(ctx, cmd)
	}
	return services.Product{}, nil
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func withUser(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: roles}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body["error"])
	}
}
