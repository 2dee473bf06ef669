package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartEmpty indicates nothing is selected for checkout.
	ErrCheckoutCartEmpty = errors.New("checkout: nothing selected")
	// ErrCheckoutNoPendingOrder indicates the session has no payment awaiting confirmation.
	ErrCheckoutNoPendingOrder = errors.New("checkout: no pending order")
	// ErrCheckoutNoConfirmedOrder indicates the session has no confirmed order to render.
	ErrCheckoutNoConfirmedOrder = errors.New("checkout: no confirmed order")
	// ErrCheckoutPaymentPending indicates the provider has not completed the payment yet.
	ErrCheckoutPaymentPending = errors.New("checkout: payment pending")
	// ErrCheckoutPaymentFailed indicates the provider reported a failed payment.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutAuthRequired indicates the payment method needs a signed-in customer.
	ErrCheckoutAuthRequired = errors.New("checkout: sign-in required")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// checkoutPayments abstracts payments.Manager for easier testing.
type checkoutPayments interface {
	Create(ctx context.Context, method domain.PaymentMethod, req payments.CreateRequest) (payments.CreateResult, error)
	Confirm(ctx context.Context, method domain.PaymentMethod, req payments.ConfirmRequest) (payments.Confirmation, error)
}

// checkoutFinalizer abstracts SettlementFinalizer for easier testing.
type checkoutFinalizer interface {
	Finalize(ctx context.Context, session CheckoutSession, order Order) FinalizeResult
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Sessions    repositories.SessionRepository
	Carts       repositories.CartRepository
	Orders      repositories.OrderRepository
	Users       repositories.UserRepository
	Payments    checkoutPayments
	Loyalty     LoyaltyService
	Finalizer   checkoutFinalizer
	Pricing     CheckoutPricingEngine
	Poller      payments.StatusPoller
	Events      EventPublisher
	Metrics     CheckoutMetrics
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	sessions  repositories.SessionRepository
	carts     repositories.CartRepository
	orders    repositories.OrderRepository
	users     repositories.UserRepository
	payments  checkoutPayments
	loyalty   LoyaltyService
	finalizer checkoutFinalizer
	pricing   CheckoutPricingEngine
	poller    payments.StatusPoller
	events    EventPublisher
	metrics   CheckoutMetrics
	currency  string
	now       func() time.Time
	newID     func() string
	logger    eventLogger
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: session repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	if deps.Finalizer == nil {
		return nil, errors.New("checkout service: settlement finalizer is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = payments.DefaultCurrency
	}
	return &checkoutService{
		sessions:  deps.Sessions,
		carts:     deps.Carts,
		orders:    deps.Orders,
		users:     deps.Users,
		payments:  deps.Payments,
		loyalty:   deps.Loyalty,
		finalizer: deps.Finalizer,
		pricing:   deps.Pricing,
		poller:    deps.Poller,
		events:    deps.Events,
		metrics:   deps.Metrics,
		currency:  currency,
		now:       utcClock(deps.Clock),
		newID:     idGen,
		logger:    logger,
	}, nil
}

// Start prices the selection, records a pending order and opens the provider payment.
func (s *checkoutService) Start(ctx context.Context, cmd StartCheckoutCommand) (CheckoutStart, error) {
	method := normaliseMethod(cmd.Method)
	switch method {
	case domain.PaymentMethodPayPal, domain.PaymentMethodStripe, domain.PaymentMethodNETS, domain.PaymentMethodWallet:
	default:
		return CheckoutStart{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.Method)
	}
	userID := s.resolveUser(cmd.SessionKey, cmd.UserID)
	if method == domain.PaymentMethodWallet && userID == "" {
		return CheckoutStart{}, ErrCheckoutAuthRequired
	}

	session, order, err := s.prepareOrder(ctx, cmd.SessionKey, userID, cmd.Email, method)
	if err != nil {
		return CheckoutStart{}, err
	}
	order.Status = domain.OrderStatusPending
	if _, err := s.orders.Create(ctx, order); err != nil {
		return CheckoutStart{}, s.mapPersistError(err)
	}

	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = "order:" + order.ID
	}
	created, err := s.payments.Create(ctx, method, payments.CreateRequest{
		Amount:         order.Total,
		Currency:       s.currency,
		OrderID:        order.ID,
		UserID:         userID,
		ShippingName:   order.ShippingName,
		IdempotencyKey: idempotencyKey,
		Metadata:       map[string]string{"session": session.Key},
	})
	if err != nil {
		s.recordSettlement(ctx, method, "create_failed")
		s.logger(ctx, "checkout.create.failed", map[string]any{
			"orderId": order.ID,
			"method":  string(method),
			"error":   err.Error(),
		})
		return CheckoutStart{}, err
	}
	if method != domain.PaymentMethodWallet {
		if _, err := s.orders.AttachPaymentReference(ctx, order.ID, method, created.Reference); err != nil {
			s.logger(ctx, "checkout.reference.attach_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}

	session.PendingOrderID = order.ID
	session.PendingMethod = method
	session.PendingReference = created.Reference
	session.ConfirmedOrderID = ""
	if _, err := s.sessions.Save(ctx, session); err != nil {
		return CheckoutStart{}, s.mapPersistError(err)
	}

	s.logger(ctx, "checkout.created", map[string]any{
		"orderId":   order.ID,
		"method":    string(method),
		"reference": created.Reference,
		"total":     money.Format(order.Total),
	})
	return CheckoutStart{
		OrderID:      order.ID,
		Method:       method,
		Reference:    created.Reference,
		ClientSecret: created.ClientSecret,
		ApproveURL:   created.ApproveURL,
		QRCode:       created.QRCode,
		Pricing: PricingResult{
			Subtotal:     order.Subtotal,
			DeliveryFee:  order.DeliveryFee,
			Redeem:       order.RedeemAmount,
			RedeemPoints: order.RedeemPoints,
			Total:        order.Total,
		},
	}, nil
}

// Confirm captures or checks the pending payment and settles the order.
func (s *checkoutService) Confirm(ctx context.Context, cmd ConfirmCheckoutCommand) (CheckoutResult, error) {
	session, order, err := s.pendingOrder(ctx, cmd.SessionKey, normaliseMethod(cmd.Method))
	if err != nil {
		return CheckoutResult{}, err
	}
	reference := session.PendingReference
	if supplied := strings.TrimSpace(cmd.Reference); supplied != "" {
		if reference != "" && supplied != reference {
			return CheckoutResult{}, fmt.Errorf("%w: reference does not match pending payment", ErrCheckoutInvalidInput)
		}
		reference = supplied
	}
	if order.Status != domain.OrderStatusPending {
		return s.markConfirmed(ctx, session, CheckoutResult{Order: order, AlreadySettled: true})
	}

	confirmation, err := s.payments.Confirm(ctx, session.PendingMethod, payments.ConfirmRequest{
		Reference:      reference,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.Total,
		IdempotencyKey: "confirm:" + order.ID,
	})
	if err != nil {
		s.recordSettlement(ctx, session.PendingMethod, "confirm_failed")
		return CheckoutResult{}, err
	}
	result, err := s.settle(ctx, order, confirmation)
	if err != nil {
		return CheckoutResult{}, err
	}
	return s.markConfirmed(ctx, session, result)
}

// AwaitNETS polls the pending NETS QR payment until it settles, fails, or ctx ends.
func (s *checkoutService) AwaitNETS(ctx context.Context, cmd AwaitNETSCommand) (CheckoutResult, error) {
	session, order, err := s.pendingOrder(ctx, cmd.SessionKey, domain.PaymentMethodNETS)
	if err != nil {
		return CheckoutResult{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return s.markConfirmed(ctx, session, CheckoutResult{Order: order, AlreadySettled: true})
	}

	poller := s.poller
	poller.OnCheck = nil
	if cmd.OnPending != nil {
		poller.OnCheck = func(c payments.Confirmation) { cmd.OnPending(c.Status) }
	}
	confirmation, err := poller.Await(ctx, func(pollCtx context.Context) (payments.Confirmation, error) {
		return s.payments.Confirm(pollCtx, domain.PaymentMethodNETS, payments.ConfirmRequest{
			Reference: session.PendingReference,
			OrderID:   order.ID,
			UserID:    order.UserID,
			Amount:    order.Total,
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger(ctx, "checkout.nets.await_stopped", map[string]any{"orderId": order.ID, "reason": err.Error()})
		}
		return CheckoutResult{}, err
	}
	result, err := s.settle(ctx, order, confirmation)
	if err != nil {
		return CheckoutResult{}, err
	}
	return s.markConfirmed(ctx, session, result)
}

// PayWithWallet opens and confirms a wallet payment in one step.
func (s *checkoutService) PayWithWallet(ctx context.Context, cmd WalletCheckoutCommand) (CheckoutResult, error) {
	started, err := s.Start(ctx, StartCheckoutCommand{
		SessionKey: cmd.SessionKey,
		UserID:     cmd.UserID,
		Email:      cmd.Email,
		Method:     domain.PaymentMethodWallet,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	return s.Confirm(ctx, ConfirmCheckoutCommand{
		SessionKey: cmd.SessionKey,
		UserID:     cmd.UserID,
		Method:     domain.PaymentMethodWallet,
		Reference:  started.Reference,
	})
}

// SelectPaylater records the order as an installment plan. No money moves and no
// points are earned; redeemed points are still deducted.
func (s *checkoutService) SelectPaylater(ctx context.Context, cmd PaylaterCheckoutCommand) (CheckoutResult, error) {
	if cmd.Months != 3 && cmd.Months != 6 {
		return CheckoutResult{}, fmt.Errorf("%w: paylater months must be 3 or 6", ErrCheckoutInvalidInput)
	}
	userID := s.resolveUser(cmd.SessionKey, cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, ErrCheckoutAuthRequired
	}
	session, order, err := s.prepareOrder(ctx, cmd.SessionKey, userID, cmd.Email, domain.PaymentMethodPaylater)
	if err != nil {
		return CheckoutResult{}, err
	}
	order.Status = domain.OrderStatusPaylater
	order.Paylater = &domain.PaylaterPlan{
		Months:    cmd.Months,
		Monthly:   money.Round2(order.Total.Div(decimal.NewFromInt(int64(cmd.Months)))),
		Paid:      decimal.Zero,
		Remaining: order.Total,
	}
	if _, err := s.orders.Create(ctx, order); err != nil {
		return CheckoutResult{}, s.mapPersistError(err)
	}

	result := CheckoutResult{Order: order}
	result.PointsRedeemed = s.redeemPoints(ctx, order)
	s.recordSettlement(ctx, domain.PaymentMethodPaylater, "paylater")
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "order.paylater_created",
		AggregateID:    order.ID,
		UserID:         order.UserID,
		IdempotencyKey: "order:" + order.ID + ":paylater",
		OccurredAt:     s.now(),
		Payload: map[string]any{
			"total":   money.Format(order.Total),
			"months":  cmd.Months,
			"monthly": money.Format(order.Paylater.Monthly),
		},
	})
	return s.markConfirmed(ctx, session, result)
}

// Receipt returns the confirmed order and runs the finalizer. Rendering the receipt
// again after finalization returns the order without repeating side effects.
func (s *checkoutService) Receipt(ctx context.Context, sessionKey string) (Order, error) {
	session, err := loadSession(ctx, s.sessions, s.carts, s.logger, sessionKey)
	if err != nil {
		return Order{}, err
	}
	orderID := session.ConfirmedOrderID
	finalize := orderID != ""
	if !finalize {
		orderID = session.LastReceiptID
	}
	if orderID == "" {
		return Order{}, ErrCheckoutNoConfirmedOrder
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrCheckoutNoConfirmedOrder
		}
		return Order{}, s.mapPersistError(err)
	}
	if finalize {
		s.finalizer.Finalize(ctx, session, order)
	}
	return order, nil
}

// ConfirmByReference settles an order from a provider notification rather than a
// customer request. The session, if any, is left for the receipt view to finalize.
func (s *checkoutService) ConfirmByReference(ctx context.Context, method PaymentMethod, reference string) (CheckoutResult, error) {
	method = normaliseMethod(method)
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	order, err := s.orders.FindByPaymentReference(ctx, method, reference)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutResult{}, fmt.Errorf("%w: unknown %s reference", ErrCheckoutNoPendingOrder, method)
		}
		return CheckoutResult{}, s.mapPersistError(err)
	}
	if order.Status != domain.OrderStatusPending {
		return CheckoutResult{Order: order, AlreadySettled: true}, nil
	}
	confirmation, err := s.payments.Confirm(ctx, method, payments.ConfirmRequest{
		Reference:      reference,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.Total,
		IdempotencyKey: "confirm:" + order.ID,
	})
	if err != nil {
		s.recordSettlement(ctx, method, "confirm_failed")
		return CheckoutResult{}, err
	}
	return s.settle(ctx, order, confirmation)
}

// settle records a successful confirmation on the order and applies the loyalty side
// effects. An order that is no longer pending is reported as already settled and
// nothing else happens.
func (s *checkoutService) settle(ctx context.Context, order Order, confirmation payments.Confirmation) (CheckoutResult, error) {
	method := confirmation.Method
	if method == "" {
		method = order.PaymentMethod
	}
	switch confirmation.Status {
	case payments.StatusSucceeded:
	case payments.StatusPending:
		s.recordSettlement(ctx, method, "pending")
		return CheckoutResult{}, ErrCheckoutPaymentPending
	default:
		s.recordSettlement(ctx, method, "failed")
		return CheckoutResult{}, ErrCheckoutPaymentFailed
	}
	if confirmation.SettledAmount.IsPositive() && !confirmation.SettledAmount.Equal(order.Total) {
		s.logger(ctx, "checkout.amount_mismatch.error", map[string]any{
			"orderId": order.ID,
			"total":   money.Format(order.Total),
			"settled": money.Format(confirmation.SettledAmount),
		})
	}

	settlement := domain.OrderSettlement{
		Method:        method,
		PayerEmail:    confirmation.PayerEmail,
		SettlementKey: confirmation.SettlementKey(),
	}
	switch method {
	case domain.PaymentMethodPayPal:
		settlement.PayPalOrderID = confirmation.ProviderReference
		settlement.PayPalCaptureID = confirmation.TransactionID
	case domain.PaymentMethodStripe:
		settlement.StripePaymentIntent = confirmation.ProviderReference
	case domain.PaymentMethodNETS:
		settlement.NETSTxnRef = confirmation.ProviderReference
	}

	updated, err := s.orders.RecordSettlement(ctx, order.ID, settlement)
	if err != nil && !isRepoConflict(err) {
		return CheckoutResult{}, s.mapPersistError(err)
	}
	if err != nil || !updated {
		current, findErr := s.orders.FindByID(ctx, order.ID)
		if findErr != nil {
			return CheckoutResult{}, s.mapPersistError(findErr)
		}
		s.logger(ctx, "checkout.settle.duplicate", map[string]any{
			"orderId":       order.ID,
			"settlementKey": settlement.SettlementKey,
			"status":        string(current.Status),
		})
		return CheckoutResult{Order: current, AlreadySettled: true}, nil
	}

	order.Status = domain.OrderStatusPaid
	order.PaymentMethod = method
	order.SettlementKey = settlement.SettlementKey
	if settlement.PayerEmail != "" {
		order.PayerEmail = settlement.PayerEmail
	}
	if settlement.PayPalOrderID != "" {
		order.PayPalOrderID = settlement.PayPalOrderID
	}
	if settlement.PayPalCaptureID != "" {
		order.PayPalCaptureID = settlement.PayPalCaptureID
	}
	if settlement.StripePaymentIntent != "" {
		order.StripePaymentIntent = settlement.StripePaymentIntent
	}
	if settlement.NETSTxnRef != "" {
		order.NETSTxnRef = settlement.NETSTxnRef
	}

	result := CheckoutResult{Order: order}
	result.PointsRedeemed = s.redeemPoints(ctx, order)
	result.PointsEarned = s.earnPoints(ctx, order)

	s.recordSettlement(ctx, method, "succeeded")
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "order.paid",
		AggregateID:    order.ID,
		UserID:         order.UserID,
		IdempotencyKey: settlement.SettlementKey,
		OccurredAt:     s.now(),
		Payload:        orderEventPayload(order),
	})
	s.logger(ctx, "checkout.settled", map[string]any{
		"orderId":       order.ID,
		"method":        string(method),
		"settlementKey": settlement.SettlementKey,
		"total":         money.Format(order.Total),
	})
	return result, nil
}

func (s *checkoutService) redeemPoints(ctx context.Context, order Order) int {
	if s.loyalty == nil || order.UserID == "" || order.RedeemPoints <= 0 {
		return 0
	}
	res, err := s.loyalty.AddPoints(ctx, AddPointsCommand{
		UserID:      order.UserID,
		Delta:       -order.RedeemPoints,
		Description: "Redeemed on order " + order.ID,
		Reference:   "order:" + order.ID + ":redeem",
	})
	if err != nil {
		s.logger(ctx, "checkout.loyalty.redeem.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return 0
	}
	if !res.Applied {
		return 0
	}
	return order.RedeemPoints
}

// earnPoints awards one point per whole currency unit paid.
func (s *checkoutService) earnPoints(ctx context.Context, order Order) int {
	points := int(order.Total.Floor().IntPart())
	if s.loyalty == nil || order.UserID == "" || points <= 0 {
		return 0
	}
	res, err := s.loyalty.AddPoints(ctx, AddPointsCommand{
		UserID:      order.UserID,
		Delta:       points,
		Description: "Earned on order " + order.ID,
		Reference:   "order:" + order.ID + ":earn",
	})
	if err != nil {
		s.logger(ctx, "checkout.loyalty.earn.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return 0
	}
	if !res.Applied {
		return 0
	}
	return points
}

// prepareOrder loads the session and builds an unsaved order snapshot of its selection.
func (s *checkoutService) prepareOrder(ctx context.Context, sessionKey, userID, email string, method domain.PaymentMethod) (CheckoutSession, Order, error) {
	session, err := loadSession(ctx, s.sessions, s.carts, s.logger, sessionKey)
	if err != nil {
		return CheckoutSession{}, Order{}, err
	}
	selected := SelectItems(session.Items, session.Selection)
	if len(selected) == 0 {
		return CheckoutSession{}, Order{}, ErrCheckoutCartEmpty
	}
	redemption := session.Redemption
	if userID == "" {
		redemption = RedemptionState{}
	}
	pricing, err := s.pricing.Price(selected, session.Preferences, redemption)
	if err != nil {
		return CheckoutSession{}, Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if !pricing.Total.IsPositive() {
		return CheckoutSession{}, Order{}, fmt.Errorf("%w: total must be positive", ErrCheckoutInvalidInput)
	}
	if s.users != nil && userID != "" {
		if err := s.users.Ensure(ctx, userID, strings.TrimSpace(email)); err != nil {
			s.logger(ctx, "checkout.user.ensure_failed", map[string]any{"userId": userID, "error": err.Error()})
		}
	}

	items := make([]OrderItem, 0, len(selected))
	for _, item := range selected {
		items = append(items, OrderItem{Name: item.Name, UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	prefs := session.Preferences
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		PaymentMethod:   method,
		PayerEmail:      strings.TrimSpace(email),
		ShippingName:    prefs.Name,
		Address:         prefs.Address,
		Contact:         prefs.Contact,
		FulfillmentMode: prefs.Mode,
		DeliveryUrgency: prefs.Urgency,
		Notes:           prefs.Notes,
		Items:           items,
		Subtotal:        pricing.Subtotal,
		DeliveryFee:     pricing.DeliveryFee,
		RedeemAmount:    pricing.Redeem,
		RedeemPoints:    pricing.RedeemPoints,
		Total:           pricing.Total,
		CreatedAt:       s.now(),
	}
	if order.FulfillmentMode != domain.FulfillmentDelivery {
		order.DeliveryUrgency = ""
	}
	if session.UserID == "" && userID != "" {
		session.UserID = userID
	}
	return session, order, nil
}

func (s *checkoutService) pendingOrder(ctx context.Context, sessionKey string, method domain.PaymentMethod) (CheckoutSession, Order, error) {
	session, err := loadSession(ctx, s.sessions, s.carts, s.logger, sessionKey)
	if err != nil {
		return CheckoutSession{}, Order{}, err
	}
	if session.PendingOrderID == "" {
		return CheckoutSession{}, Order{}, ErrCheckoutNoPendingOrder
	}
	if method != "" && session.PendingMethod != method {
		return CheckoutSession{}, Order{}, fmt.Errorf("%w: pending payment uses %s", ErrCheckoutInvalidInput, session.PendingMethod)
	}
	order, err := s.orders.FindByID(ctx, session.PendingOrderID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutSession{}, Order{}, ErrCheckoutNoPendingOrder
		}
		return CheckoutSession{}, Order{}, s.mapPersistError(err)
	}
	return session, order, nil
}

func (s *checkoutService) markConfirmed(ctx context.Context, session CheckoutSession, result CheckoutResult) (CheckoutResult, error) {
	session.PendingOrderID = ""
	session.PendingMethod = ""
	session.PendingReference = ""
	session.ConfirmedOrderID = result.Order.ID
	if _, err := s.sessions.Save(ctx, session); err != nil {
		s.logger(ctx, "checkout.session.save_failed", map[string]any{
			"session": session.Key,
			"orderId": result.Order.ID,
			"error":   err.Error(),
		})
	}
	return result, nil
}

func (s *checkoutService) resolveUser(sessionKey, userID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return userID
	}
	return SessionUserID(sessionKey)
}

func (s *checkoutService) recordSettlement(ctx context.Context, method domain.PaymentMethod, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSettlement(ctx, string(method), outcome)
	}
}

func (s *checkoutService) mapPersistError(err error) error {
	if isRepoUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return err
}

func normaliseMethod(method domain.PaymentMethod) domain.PaymentMethod {
	return domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
}
