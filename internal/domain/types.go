package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how an order was (or will be) settled.
type PaymentMethod string

const (
	PaymentMethodPayPal   PaymentMethod = "paypal"
	PaymentMethodNETS     PaymentMethod = "nets"
	PaymentMethodStripe   PaymentMethod = "stripe"
	PaymentMethodWallet   PaymentMethod = "wallet"
	PaymentMethodPaylater PaymentMethod = "paylater"
)

// FulfillmentMode selects between collecting the order and having it delivered.
type FulfillmentMode string

const (
	FulfillmentPickup   FulfillmentMode = "pickup"
	FulfillmentDelivery FulfillmentMode = "delivery"
)

// DeliveryUrgency selects the delivery fee schedule.
type DeliveryUrgency string

const (
	DeliveryNormal DeliveryUrgency = "normal"
	DeliveryUrgent DeliveryUrgency = "urgent"
)

// CartItem is a single line in a session cart. Name is the identity key within a cart.
type CartItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// FulfillmentPreferences holds the pickup/delivery choices captured during checkout.
type FulfillmentPreferences struct {
	Mode       FulfillmentMode
	Urgency    DeliveryUrgency
	Name       string
	Address    string
	Contact    string
	Notes      string
	Cutlery    bool
	PickupDate string
	PickupTime string
}

// RedemptionState records the loyalty points a customer asked to redeem for this checkout.
type RedemptionState struct {
	Points int
	Amount decimal.Decimal
}

// IsZero reports whether no redemption was requested.
func (r RedemptionState) IsZero() bool {
	return r.Points <= 0 && !r.Amount.IsPositive()
}

// CheckoutSession is the session-scoped state a customer builds up before paying.
type CheckoutSession struct {
	Key              string
	UserID           string
	Items            []CartItem
	Selection        []string
	Preferences      FulfillmentPreferences
	Redemption       RedemptionState
	PendingOrderID   string
	PendingMethod    PaymentMethod
	PendingReference string
	ConfirmedOrderID string
	LastReceiptID    string
	UpdatedAt        time.Time
	CreatedAt        time.Time
}

// PricingResult is the monetary breakdown of a checkout.
type PricingResult struct {
	Subtotal     decimal.Decimal
	DeliveryFee  decimal.Decimal
	Redeem       decimal.Decimal
	RedeemPoints int
	Total        decimal.Decimal
}

// OrderStatus enumerates the lifecycle of an order record.
type OrderStatus string

const (
	// OrderStatusPending marks an order created at payment initiation, awaiting confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid marks an order whose payment has been confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPaylater marks an order being paid in monthly installments.
	OrderStatusPaylater OrderStatus = "paylater"
	// OrderStatusCompleted marks an order the business owner has fulfilled.
	OrderStatusCompleted OrderStatus = "completed"
)

// OrderItem is the immutable snapshot of a purchased cart line.
type OrderItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"qty"`
}

// PaylaterPlan carries the installment bookkeeping of a PayLater order.
type PaylaterPlan struct {
	Months    int
	Monthly   decimal.Decimal
	Paid      decimal.Decimal
	Remaining decimal.Decimal
}

// Order is the durable settlement record.
type Order struct {
	ID                  string
	UserID              string
	PaymentMethod       PaymentMethod
	PayPalOrderID       string
	PayPalCaptureID     string
	StripePaymentIntent string
	NETSTxnRef          string
	SettlementKey       string
	PayerEmail          string
	ShippingName        string
	Address             string
	Contact             string
	FulfillmentMode     FulfillmentMode
	DeliveryUrgency     DeliveryUrgency
	Notes               string
	Items               []OrderItem
	Subtotal            decimal.Decimal
	DeliveryFee         decimal.Decimal
	RedeemAmount        decimal.Decimal
	RedeemPoints        int
	Total               decimal.Decimal
	Paylater            *PaylaterPlan
	Status              OrderStatus
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// OrderSettlement captures the provider references stamped on an order once payment succeeds.
type OrderSettlement struct {
	Method              PaymentMethod
	PayPalOrderID       string
	PayPalCaptureID     string
	StripePaymentIntent string
	NETSTxnRef          string
	PayerEmail          string
	SettlementKey       string
}

// RefundMethod selects where an approved refund is sent.
type RefundMethod string

const (
	RefundMethodOriginal RefundMethod = "original"
	RefundMethodWallet   RefundMethod = "wallet"
)

// RefundStatus enumerates refund request states; approved and rejected are terminal.
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusApproved RefundStatus = "approved"
	RefundStatusRejected RefundStatus = "rejected"
)

// RefundRequest is a customer's request to reverse (part of) an order payment.
type RefundRequest struct {
	ID        string
	UserID    string
	OrderID   string
	Amount    decimal.Decimal
	Reason    string
	Method    RefundMethod
	Details   string
	Status    RefundStatus
	CreatedAt time.Time
	DecidedAt *time.Time
}

// WalletTransactionType enumerates wallet history entry kinds.
type WalletTransactionType string

const (
	WalletTxnTopup   WalletTransactionType = "topup"
	WalletTxnPayment WalletTransactionType = "payment"
)

// WalletTransaction is an append-only wallet history entry.
type WalletTransaction struct {
	ID           int64
	UserID       string
	Type         WalletTransactionType
	Method       string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	CreatedAt    time.Time
}

// LoyaltyEntry is an append-only record of a points change.
type LoyaltyEntry struct {
	ID          int64
	UserID      string
	PointsDelta int
	Description string
	Reference   string
	CreatedAt   time.Time
}

// Product is a sellable menu item with tracked stock.
type Product struct {
	ID        string
	Name      string
	NameKey   string
	Price     decimal.Decimal
	Stock     int
	UpdatedAt time.Time
}
