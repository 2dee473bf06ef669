package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
)

type checkoutFixture struct {
	svc      CheckoutService
	sessions *memorySessionRepo
	orders   *memoryOrderRepo
	loyalty  *memoryLoyaltyRepo
	payments *stubPayments
	events   *recordingPublisher
	metrics  *recordingMetrics
	products *memoryProductRepo
	carts    *memoryCartRepo
}

func newCheckoutFixture(t *testing.T, session CheckoutSession) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		sessions: newMemorySessionRepo(session),
		orders:   newMemoryOrderRepo(),
		loyalty:  newMemoryLoyaltyRepo(),
		payments: &stubPayments{},
		events:   &recordingPublisher{},
		metrics:  &recordingMetrics{},
		products: newMemoryProductRepo(
			domain.Product{ID: "p1", Name: "Kaya Toast", Price: dec("5.00"), Stock: 10},
			domain.Product{ID: "p2", Name: "Teh Tarik", Price: dec("3.50"), Stock: 4},
		),
		carts: newMemoryCartRepo(),
	}
	loyalty, err := NewLoyaltyService(LoyaltyServiceDeps{Loyalty: f.loyalty})
	if err != nil {
		t.Fatalf("NewLoyaltyService error: %v", err)
	}
	finalizer, err := NewSettlementFinalizer(SettlementFinalizerDeps{
		Products: f.products,
		Sessions: f.sessions,
		Carts:    f.carts,
		Events:   f.events,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewSettlementFinalizer error: %v", err)
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Sessions:    f.sessions,
		Carts:       f.carts,
		Orders:      f.orders,
		Payments:    f.payments,
		Loyalty:     loyalty,
		Finalizer:   finalizer,
		Pricing:     NewCheckoutPricingEngine(),
		Poller:      payments.StatusPoller{Interval: time.Millisecond},
		Events:      f.events,
		Metrics:     f.metrics,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs("01", "02", "03"),
	})
	if err != nil {
		t.Fatalf("NewCheckoutService error: %v", err)
	}
	f.svc = svc
	return f
}

func userSession(items ...CartItem) CheckoutSession {
	return CheckoutSession{Key: UserSessionKey("u1"), UserID: "u1", Items: items}
}

func defaultItems() []CartItem {
	return []CartItem{
		{Name: "Kaya Toast", UnitPrice: dec("5.00"), Quantity: 2},
		{Name: "Teh Tarik", UnitPrice: dec("3.50"), Quantity: 1},
	}
}

func TestCheckoutService_StartAndConfirmPayPal(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: "PayPal"})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if started.OrderID != "ord_01" || started.Reference != "REF-ord_01" {
		t.Fatalf("unexpected start result %+v", started)
	}
	if !started.Pricing.Total.Equal(dec("13.50")) {
		t.Fatalf("expected total 13.50, got %s", started.Pricing.Total)
	}
	if got := f.payments.creates[0]; got.IdempotencyKey != "order:ord_01" || !got.Amount.Equal(dec("13.50")) || got.Currency != payments.DefaultCurrency {
		t.Fatalf("unexpected create request %+v", got)
	}
	pending := f.sessions.get(UserSessionKey("u1"))
	if pending.PendingOrderID != "ord_01" || pending.PendingMethod != domain.PaymentMethodPayPal {
		t.Fatalf("expected pending markers, got %+v", pending)
	}
	if order := f.orders.get("ord_01"); order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}

	result, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodPayPal})
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if result.AlreadySettled {
		t.Fatalf("expected first confirmation to settle")
	}
	if result.PointsEarned != 13 {
		t.Fatalf("expected 13 points, got %d", result.PointsEarned)
	}
	stored := f.orders.get("ord_01")
	if stored.Status != domain.OrderStatusPaid || stored.PayPalCaptureID != "CAP-ord_01" || stored.SettlementKey != "paypal:CAP-ord_01" {
		t.Fatalf("unexpected settled order %+v", stored)
	}
	if balance := f.loyalty.balances["u1"]; balance != 13 {
		t.Fatalf("expected loyalty balance 13, got %d", balance)
	}
	if !slices.Contains(f.events.types(), "order.paid") {
		t.Fatalf("expected order.paid event, got %v", f.events.types())
	}
	confirmed := f.sessions.get(UserSessionKey("u1"))
	if confirmed.ConfirmedOrderID != "ord_01" || confirmed.PendingOrderID != "" {
		t.Fatalf("expected confirmed marker, got %+v", confirmed)
	}
	if !slices.Contains(f.metrics.settlements, "paypal:succeeded") {
		t.Fatalf("expected settlement metric, got %v", f.metrics.settlements)
	}
}

func TestCheckoutService_DuplicateConfirmationHasNoSideEffects(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodStripe})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1")}); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	again, err := f.svc.ConfirmByReference(ctx, domain.PaymentMethodStripe, started.Reference)
	if err != nil {
		t.Fatalf("ConfirmByReference error: %v", err)
	}
	if !again.AlreadySettled || again.PointsEarned != 0 {
		t.Fatalf("expected already settled result, got %+v", again)
	}
	if len(f.loyalty.entries) != 1 {
		t.Fatalf("expected a single loyalty entry, got %d", len(f.loyalty.entries))
	}
	if f.payments.confirmCount() != 1 {
		t.Fatalf("expected provider confirm once, got %d", f.payments.confirmCount())
	}
}

func TestCheckoutService_SettlementKeyConflictIsAlreadySettled(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	f.orders.settleErr = ppostgres.Conflict("orders.record_settlement", nil)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodPayPal}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	result, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1")})
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if !result.AlreadySettled {
		t.Fatalf("expected conflict to report already settled")
	}
	if len(f.loyalty.entries) != 0 || len(f.events.events) != 0 {
		t.Fatalf("expected no side effects, got %d loyalty entries and events %v", len(f.loyalty.entries), f.events.types())
	}
}

func TestCheckoutService_RedemptionDeductsPointsAndEarnsOnTotal(t *testing.T) {
	session := userSession(defaultItems()...)
	session.Redemption = RedemptionState{Points: 20}
	f := newCheckoutFixture(t, session)
	f.loyalty.balances["u1"] = 50
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodNETS})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !started.Pricing.Redeem.Equal(dec("2.00")) || !started.Pricing.Total.Equal(dec("11.50")) {
		t.Fatalf("unexpected pricing %+v", started.Pricing)
	}
	result, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodNETS})
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if result.PointsRedeemed != 20 || result.PointsEarned != 11 {
		t.Fatalf("unexpected points %+v", result)
	}
	if balance := f.loyalty.balances["u1"]; balance != 41 {
		t.Fatalf("expected balance 41, got %d", balance)
	}
}

func TestCheckoutService_GuestCannotRedeemOrUseWallet(t *testing.T) {
	guest := CheckoutSession{Key: GuestSessionKey("abc"), Items: defaultItems(), Redemption: RedemptionState{Points: 30}}
	f := newCheckoutFixture(t, guest)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: guest.Key, Method: domain.PaymentMethodWallet}); !errors.Is(err, ErrCheckoutAuthRequired) {
		t.Fatalf("expected ErrCheckoutAuthRequired, got %v", err)
	}
	started, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: guest.Key, Method: domain.PaymentMethodPayPal})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !started.Pricing.Redeem.IsZero() || !started.Pricing.Total.Equal(dec("13.50")) {
		t.Fatalf("expected guest pricing without redemption, got %+v", started.Pricing)
	}
}

func TestCheckoutService_StartValidation(t *testing.T) {
	f := newCheckoutFixture(t, userSession())
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: "cash"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodPayPal}); !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1")}); !errors.Is(err, ErrCheckoutNoPendingOrder) {
		t.Fatalf("expected ErrCheckoutNoPendingOrder, got %v", err)
	}
}

func TestCheckoutService_ProviderCreateFailure(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	providerErr := &payments.ProviderError{Method: domain.PaymentMethodPayPal, Op: "create", Err: errBoom}
	f.payments.createFn = func(context.Context, domain.PaymentMethod, payments.CreateRequest) (payments.CreateResult, error) {
		return payments.CreateResult{}, providerErr
	}

	_, err := f.svc.Start(context.Background(), StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodPayPal})
	var target *payments.ProviderError
	if !errors.As(err, &target) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if session := f.sessions.get(UserSessionKey("u1")); session.PendingOrderID != "" {
		t.Fatalf("expected no pending marker after failure, got %+v", session)
	}
}

func TestCheckoutService_ConfirmPendingAndFailed(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodStripe}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	status := payments.StatusPending
	f.payments.confirmFn = func(_ context.Context, method domain.PaymentMethod, req payments.ConfirmRequest) (payments.Confirmation, error) {
		return payments.Confirmation{Method: method, Status: status, ProviderReference: req.Reference}, nil
	}
	if _, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1")}); !errors.Is(err, ErrCheckoutPaymentPending) {
		t.Fatalf("expected ErrCheckoutPaymentPending, got %v", err)
	}
	status = payments.StatusFailed
	if _, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1")}); !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
	if order := f.orders.get("ord_01"); order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order to stay pending, got %s", order.Status)
	}
	if len(f.loyalty.entries) != 0 {
		t.Fatalf("expected no loyalty entries")
	}
}

func TestCheckoutService_AwaitNETSPollsUntilSettled(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodNETS}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	checks := 0
	f.payments.confirmFn = func(_ context.Context, method domain.PaymentMethod, req payments.ConfirmRequest) (payments.Confirmation, error) {
		checks++
		status := payments.StatusPending
		if checks == 3 {
			status = payments.StatusSucceeded
		}
		return payments.Confirmation{Method: method, Status: status, ProviderReference: req.Reference, SettledAmount: req.Amount}, nil
	}
	var observed []payments.Status
	result, err := f.svc.AwaitNETS(ctx, AwaitNETSCommand{
		SessionKey: UserSessionKey("u1"),
		OnPending:  func(s payments.Status) { observed = append(observed, s) },
	})
	if err != nil {
		t.Fatalf("AwaitNETS error: %v", err)
	}
	if checks != 3 || len(observed) != 2 {
		t.Fatalf("expected 3 checks and 2 pending notifications, got %d and %d", checks, len(observed))
	}
	if result.Order.Status != domain.OrderStatusPaid || result.Order.NETSTxnRef != "REF-ord_01" {
		t.Fatalf("unexpected order %+v", result.Order)
	}
}

func TestCheckoutService_AwaitNETSStopsOnCancel(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))
	if _, err := f.svc.Start(context.Background(), StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodNETS}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	f.payments.confirmFn = func(_ context.Context, method domain.PaymentMethod, _ payments.ConfirmRequest) (payments.Confirmation, error) {
		return payments.Confirmation{Method: method, Status: payments.StatusPending}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.AwaitNETS(ctx, AwaitNETSCommand{SessionKey: UserSessionKey("u1")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if session := f.sessions.get(UserSessionKey("u1")); session.PendingOrderID != "ord_01" {
		t.Fatalf("expected session to keep pending order, got %+v", session)
	}
}

func TestCheckoutService_PayWithWallet(t *testing.T) {
	f := newCheckoutFixture(t, userSession(defaultItems()...))

	result, err := f.svc.PayWithWallet(context.Background(), WalletCheckoutCommand{SessionKey: UserSessionKey("u1")})
	if err != nil {
		t.Fatalf("PayWithWallet error: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPaid || result.Order.PaymentMethod != domain.PaymentMethodWallet {
		t.Fatalf("unexpected order %+v", result.Order)
	}
	if len(f.orders.refs) != 0 {
		t.Fatalf("wallet payments should not attach a provider reference")
	}
}

func TestCheckoutService_SelectPaylater(t *testing.T) {
	items := []CartItem{{Name: "Catering Tray", UnitPrice: dec("45.00"), Quantity: 2}}
	f := newCheckoutFixture(t, userSession(items...))
	ctx := context.Background()

	if _, err := f.svc.SelectPaylater(ctx, PaylaterCheckoutCommand{SessionKey: UserSessionKey("u1"), Months: 4}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	result, err := f.svc.SelectPaylater(ctx, PaylaterCheckoutCommand{SessionKey: UserSessionKey("u1"), Months: 3})
	if err != nil {
		t.Fatalf("SelectPaylater error: %v", err)
	}
	order := f.orders.get(result.Order.ID)
	if order.Status != domain.OrderStatusPaylater || order.Paylater == nil {
		t.Fatalf("expected paylater order, got %+v", order)
	}
	if !order.Paylater.Monthly.Equal(dec("30.00")) || !order.Paylater.Remaining.Equal(dec("90.00")) {
		t.Fatalf("unexpected plan %+v", order.Paylater)
	}
	if result.PointsEarned != 0 || len(f.loyalty.entries) != 0 {
		t.Fatalf("paylater should not earn points")
	}
	if len(f.payments.creates) != 0 {
		t.Fatalf("paylater should not open a provider payment")
	}
	if session := f.sessions.get(UserSessionKey("u1")); session.ConfirmedOrderID != order.ID {
		t.Fatalf("expected confirmed marker, got %+v", session)
	}
}

func TestCheckoutService_ReceiptFinalizesOnce(t *testing.T) {
	session := userSession(append(defaultItems(), CartItem{Name: "Kopi", UnitPrice: dec("2.00"), Quantity: 1})...)
	session.Selection = []string{"Kaya Toast", "Teh Tarik"}
	f := newCheckoutFixture(t, session)
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, StartCheckoutCommand{SessionKey: UserSessionKey("u1"), Method: domain.PaymentMethodPayPal}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, ConfirmCheckoutCommand{SessionKey: UserSessionKey("u1")}); err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	order, err := f.svc.Receipt(ctx, UserSessionKey("u1"))
	if err != nil {
		t.Fatalf("Receipt error: %v", err)
	}
	if order.ID != "ord_01" {
		t.Fatalf("unexpected receipt order %s", order.ID)
	}
	session = f.sessions.get(UserSessionKey("u1"))
	if len(session.Items) != 1 || session.Items[0].Name != "Kopi" {
		t.Fatalf("expected only unpurchased lines to remain, got %+v", session.Items)
	}
	if session.LastReceiptID != "ord_01" || session.ConfirmedOrderID != "" {
		t.Fatalf("unexpected markers %+v", session)
	}
	if stock := f.products.products["p1"].Stock; stock != 8 {
		t.Fatalf("expected stock 8, got %d", stock)
	}

	again, err := f.svc.Receipt(ctx, UserSessionKey("u1"))
	if err != nil {
		t.Fatalf("second Receipt error: %v", err)
	}
	if again.ID != "ord_01" {
		t.Fatalf("unexpected second receipt %s", again.ID)
	}
	if stock := f.products.products["p1"].Stock; stock != 8 {
		t.Fatalf("expected stock unchanged on re-render, got %d", stock)
	}
}
