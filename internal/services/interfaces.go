package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartItem               = domain.CartItem
	CheckoutSession        = domain.CheckoutSession
	FulfillmentPreferences = domain.FulfillmentPreferences
	RedemptionState        = domain.RedemptionState
	PricingResult          = domain.PricingResult
	Order                  = domain.Order
	OrderItem              = domain.OrderItem
	OrderStatus            = domain.OrderStatus
	PaymentMethod          = domain.PaymentMethod
	RefundRequest          = domain.RefundRequest
	WalletTransaction      = domain.WalletTransaction
	LoyaltyEntry           = domain.LoyaltyEntry
	Product                = domain.Product
	PaylaterInstallment    = domain.PaylaterInstallment
	SystemHealthReport     = domain.SystemHealthReport
)

// DomainEvent is the envelope published for downstream consumers (notifications, analytics).
type DomainEvent struct {
	Type           string         `json:"type"`
	AggregateID    string         `json:"aggregateId"`
	UserID         string         `json:"userId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// EventPublisher delivers domain events. Publishing is best effort for callers.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// CartService manages the session cart and the checkout inputs captured alongside it.
type CartService interface {
	Get(ctx context.Context, sessionKey string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, sessionKey string, name string) (CartView, error)
	SetSelection(ctx context.Context, sessionKey string, names []string) (CartView, error)
	SetPreferences(ctx context.Context, sessionKey string, prefs FulfillmentPreferences) (CartView, error)
	SetRedemption(ctx context.Context, cmd SetRedemptionCommand) (CartView, error)
	ClearRedemption(ctx context.Context, sessionKey string) (CartView, error)
	Quote(ctx context.Context, sessionKey string) (CartView, error)
}

// CheckoutService drives a session from payment initiation to a finalized receipt.
type CheckoutService interface {
	Start(ctx context.Context, cmd StartCheckoutCommand) (CheckoutStart, error)
	Confirm(ctx context.Context, cmd ConfirmCheckoutCommand) (CheckoutResult, error)
	AwaitNETS(ctx context.Context, cmd AwaitNETSCommand) (CheckoutResult, error)
	PayWithWallet(ctx context.Context, cmd WalletCheckoutCommand) (CheckoutResult, error)
	SelectPaylater(ctx context.Context, cmd PaylaterCheckoutCommand) (CheckoutResult, error)
	Receipt(ctx context.Context, sessionKey string) (Order, error)
	ConfirmByReference(ctx context.Context, method PaymentMethod, reference string) (CheckoutResult, error)
}

// OrderService exposes order reads and owner transitions.
type OrderService interface {
	Get(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Order, error)
	ListAll(ctx context.Context, limit int) ([]Order, error)
	MarkCompleted(ctx context.Context, orderID string, actorID string) (Order, error)
}

// LoyaltyService awards and redeems points.
type LoyaltyService interface {
	AddPoints(ctx context.Context, cmd AddPointsCommand) (LoyaltyResult, error)
	Summary(ctx context.Context, userID string, limit int) (LoyaltySummary, error)
}

// WalletService moves stored value. It also satisfies payments.WalletLedger.
type WalletService interface {
	payments.WalletLedger
	Credit(ctx context.Context, cmd WalletCreditCommand) (WalletMovement, error)
	Summary(ctx context.Context, userID string, limit int) (WalletSummary, error)
}

// RefundService handles the refund request lifecycle.
type RefundService interface {
	Request(ctx context.Context, cmd RequestRefundCommand) (RefundRequest, error)
	List(ctx context.Context, filter RefundFilter) ([]RefundRequest, error)
	Approve(ctx context.Context, cmd DecideRefundCommand) (RefundApproval, error)
	Reject(ctx context.Context, cmd DecideRefundCommand) (RefundRequest, error)
}

// PaylaterService applies installment payments and reports plans.
type PaylaterService interface {
	Pay(ctx context.Context, cmd PaylaterPaymentCommand) (PaylaterPaymentResult, error)
	Plans(ctx context.Context, userID string) ([]PaylaterPlanView, error)
	SendReminders(ctx context.Context, cmd PaylaterReminderCommand) (PaylaterReminderResult, error)
}

// InventoryService exposes owner stock operations.
type InventoryService interface {
	ListProducts(ctx context.Context) ([]Product, error)
	SetStock(ctx context.Context, cmd SetStockCommand) (Product, error)
}

// SystemService reports dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CartView is the session cart plus the pricing of the current selection.
type CartView struct {
	Session  CheckoutSession
	Selected []CartItem
	Pricing  PricingResult
}

type AddCartItemCommand struct {
	SessionKey string
	UserID     string
	Name       string
	Quantity   int
}

type UpdateCartItemCommand struct {
	SessionKey string
	UserID     string
	Name       string
	Quantity   int
}

type SetRedemptionCommand struct {
	SessionKey string
	UserID     string
	Points     int
}

type StartCheckoutCommand struct {
	SessionKey     string
	UserID         string
	Email          string
	Method         PaymentMethod
	IdempotencyKey string
}

// CheckoutStart carries what the client needs to complete payment with the provider.
type CheckoutStart struct {
	OrderID      string
	Method       PaymentMethod
	Reference    string
	ClientSecret string
	ApproveURL   string
	QRCode       string
	Pricing      PricingResult
}

type ConfirmCheckoutCommand struct {
	SessionKey string
	UserID     string
	Method     PaymentMethod
	Reference  string
}

type AwaitNETSCommand struct {
	SessionKey string
	UserID     string
	// OnPending observes intermediate pending checks; it is never called after AwaitNETS returns.
	OnPending func(status payments.Status)
}

type WalletCheckoutCommand struct {
	SessionKey string
	UserID     string
	Email      string
}

type PaylaterCheckoutCommand struct {
	SessionKey string
	UserID     string
	Email      string
	Months     int
}

// CheckoutResult reports a settled (or installment) order.
type CheckoutResult struct {
	Order Order
	// AlreadySettled is true when the order had been settled by an earlier confirmation.
	AlreadySettled bool
	PointsEarned   int
	PointsRedeemed int
}

type GetOrderCommand struct {
	OrderID string
	UserID  string
	// AllowAnyUser lets owners read any order.
	AllowAnyUser bool
}

type AddPointsCommand struct {
	UserID      string
	Delta       int
	Description string
	Reference   string
}

// LoyaltyResult is the outcome of a points adjustment.
type LoyaltyResult struct {
	Balance int
	Entry   LoyaltyEntry
	Applied bool
}

type LoyaltySummary struct {
	Balance int
	History []LoyaltyEntry
}

type WalletCreditCommand struct {
	UserID    string
	Amount    decimal.Decimal
	Method    string
	Reference string
}

// WalletMovement is the outcome of a wallet credit or debit.
type WalletMovement struct {
	Balance     decimal.Decimal
	Transaction WalletTransaction
	Applied     bool
}

type WalletSummary struct {
	Balance decimal.Decimal
	History []WalletTransaction
}

type RequestRefundCommand struct {
	UserID  string
	OrderID string
	Amount  decimal.Decimal
	Reason  string
	Method  domain.RefundMethod
	Details string
}

type RefundFilter struct {
	UserID string
	Status domain.RefundStatus
	Limit  int
}

type DecideRefundCommand struct {
	RefundID string
	ActorID  string
}

// RefundApproval is the outcome of approving a refund request.
type RefundApproval struct {
	Refund          RefundRequest
	Amount          decimal.Decimal
	AlreadyApproved bool
	ProviderRefund  string
	WalletBalance   *decimal.Decimal
}

type PaylaterPaymentCommand struct {
	UserID string
	Amount decimal.Decimal
}

type PaylaterPaymentResult struct {
	Applied       decimal.Decimal
	WalletBalance decimal.Decimal
	Plans         []PaylaterPlanView
}

// PaylaterPlanView is a PayLater order with its display-only schedule.
type PaylaterPlanView struct {
	Order    Order
	Schedule []PaylaterInstallment
	NextDue  *PaylaterInstallment
}

type PaylaterReminderCommand struct {
	Now    time.Time
	Within time.Duration
	Limit  int
}

type PaylaterReminderResult struct {
	Scanned   int
	Published int
}

type SetStockCommand struct {
	ProductID string
	Stock     int
	ActorID   string
}
