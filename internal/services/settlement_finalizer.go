package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/platform/textutil"
	"github.com/homebitez/api/internal/repositories"
)

// ReceiptArchive stores an immutable copy of a finalized receipt.
type ReceiptArchive interface {
	PutReceipt(ctx context.Context, orderID string, createdAt time.Time, payload []byte) (string, error)
}

// SettlementFinalizerDeps wires the post-payment side effects.
type SettlementFinalizerDeps struct {
	Products repositories.ProductRepository
	Sessions repositories.SessionRepository
	Carts    repositories.CartRepository
	Receipts ReceiptArchive
	Events   EventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// SettlementFinalizer runs the steps that follow a confirmed payment. There is no
// spanning transaction: each step is attempted and failures are logged and skipped.
type SettlementFinalizer struct {
	products repositories.ProductRepository
	sessions repositories.SessionRepository
	carts    repositories.CartRepository
	receipts ReceiptArchive
	events   EventPublisher
	now      func() time.Time
	logger   eventLogger
}

// FinalizeResult reports what the finalizer managed to do.
type FinalizeResult struct {
	Session       CheckoutSession
	StockAdjusted int
	ReceiptURI    string
	Failures      []string
}

// NewSettlementFinalizer constructs the finalizer.
func NewSettlementFinalizer(deps SettlementFinalizerDeps) (*SettlementFinalizer, error) {
	if deps.Products == nil {
		return nil, errors.New("settlement finalizer: product repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("settlement finalizer: session repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &SettlementFinalizer{
		products: deps.Products,
		sessions: deps.Sessions,
		carts:    deps.Carts,
		receipts: deps.Receipts,
		events:   deps.Events,
		now:      utcClock(deps.Clock),
		logger:   logger,
	}, nil
}

// Finalize decrements stock, removes the purchased lines from the session and
// persistent carts, and clears the checkout markers on the session.
func (f *SettlementFinalizer) Finalize(ctx context.Context, session CheckoutSession, order Order) FinalizeResult {
	result := FinalizeResult{}
	fail := func(step string, err error, fields map[string]any) {
		result.Failures = append(result.Failures, step)
		if fields == nil {
			fields = map[string]any{}
		}
		fields["orderId"] = order.ID
		fields["step"] = step
		fields["error"] = err.Error()
		f.logger(ctx, "checkout.finalize.step.failed", fields)
	}

	for _, item := range order.Items {
		key := textutil.NormalizeName(item.Name)
		if key == "" || item.Quantity <= 0 {
			continue
		}
		changed, err := f.products.DecrementStockByName(ctx, key, item.Quantity)
		if err != nil {
			fail("stock", err, map[string]any{"item": item.Name})
			continue
		}
		if changed {
			result.StockAdjusted++
		}
	}

	purchased := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		purchased = append(purchased, item.Name)
	}
	session.Items = removeCartLines(session.Items, purchased)
	if f.carts != nil && strings.TrimSpace(session.UserID) != "" {
		if err := f.carts.RemoveItems(ctx, session.UserID, purchased); err != nil {
			fail("persistent_cart", err, map[string]any{"userId": session.UserID})
		}
	}

	session.Selection = nil
	session.Redemption = RedemptionState{}
	session.PendingOrderID = ""
	session.PendingMethod = ""
	session.PendingReference = ""
	session.ConfirmedOrderID = ""
	session.LastReceiptID = order.ID
	saved, err := f.sessions.Save(ctx, session)
	if err != nil {
		fail("session", err, map[string]any{"session": session.Key})
		saved = session
	}
	result.Session = saved

	if f.receipts != nil {
		payload, err := json.Marshal(newReceiptDocument(order, f.now()))
		if err == nil {
			result.ReceiptURI, err = f.receipts.PutReceipt(ctx, order.ID, order.CreatedAt, payload)
		}
		if err != nil {
			fail("receipt_archive", err, nil)
		}
	}

	publishEvent(ctx, f.events, f.logger, DomainEvent{
		Type:           "order.finalized",
		AggregateID:    order.ID,
		UserID:         order.UserID,
		IdempotencyKey: "order:" + order.ID + ":finalized",
		OccurredAt:     f.now(),
		Payload:        orderEventPayload(order),
	})
	f.logger(ctx, "checkout.finalized", map[string]any{
		"orderId":       order.ID,
		"stockAdjusted": result.StockAdjusted,
		"failures":      len(result.Failures),
	})
	return result
}

// removeCartLines drops every line whose name matches one of names.
func removeCartLines(items []CartItem, names []string) []CartItem {
	if len(items) == 0 || len(names) == 0 {
		return items
	}
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[strings.TrimSpace(name)] = struct{}{}
	}
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		if _, ok := drop[strings.TrimSpace(item.Name)]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}

type receiptLine struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"qty"`
}

type receiptDocument struct {
	OrderID      string        `json:"orderId"`
	UserID       string        `json:"userId,omitempty"`
	Method       string        `json:"paymentMethod"`
	Status       string        `json:"status"`
	Fulfillment  string        `json:"fulfillment,omitempty"`
	ShippingName string        `json:"shippingName,omitempty"`
	Items        []receiptLine `json:"items"`
	Subtotal     string        `json:"subtotal"`
	DeliveryFee  string        `json:"deliveryFee"`
	Redeem       string        `json:"redeem"`
	Total        string        `json:"total"`
	CreatedAt    time.Time     `json:"createdAt"`
	ArchivedAt   time.Time     `json:"archivedAt"`
}

func newReceiptDocument(order Order, now time.Time) receiptDocument {
	lines := make([]receiptLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, receiptLine{Name: item.Name, Price: money.Format(item.UnitPrice), Quantity: item.Quantity})
	}
	return receiptDocument{
		OrderID:      order.ID,
		UserID:       order.UserID,
		Method:       string(order.PaymentMethod),
		Status:       string(order.Status),
		Fulfillment:  string(order.FulfillmentMode),
		ShippingName: order.ShippingName,
		Items:        lines,
		Subtotal:     money.Format(order.Subtotal),
		DeliveryFee:  money.Format(order.DeliveryFee),
		Redeem:       money.Format(order.RedeemAmount),
		Total:        money.Format(order.Total),
		CreatedAt:    order.CreatedAt,
		ArchivedAt:   now,
	}
}
