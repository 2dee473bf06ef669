package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/repositories"
)

const (
	orderIDPrefix    = "ord_"
	defaultListLimit = 50
)

var (
	// ErrOrderInvalidInput indicates a missing identifier.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderUnavailable indicates the ledger could not apply the change.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:  {domain.OrderStatusPaid, domain.OrderStatusPaylater},
	domain.OrderStatusPaylater: {domain.OrderStatusPaid, domain.OrderStatusCompleted},
	domain.OrderStatusPaid:     {domain.OrderStatusCompleted},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Events EventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	events EventPublisher
	now    func() time.Time
	logger eventLogger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		orders: deps.Orders,
		events: deps.Events,
		now:    utcClock(deps.Clock),
		logger: logger,
	}, nil
}

// Get loads an order. Customers only see their own orders; others read as not found.
func (s *orderService) Get(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderError(err)
	}
	if !cmd.AllowAnyUser && order.UserID != strings.TrimSpace(cmd.UserID) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrOrderInvalidInput
	}
	orders, err := s.orders.ListByUser(ctx, userID, normaliseLimit(limit))
	if err != nil {
		return nil, mapOrderError(err)
	}
	return orders, nil
}

func (s *orderService) ListAll(ctx context.Context, limit int) ([]Order, error) {
	orders, err := s.orders.List(ctx, normaliseLimit(limit))
	if err != nil {
		return nil, mapOrderError(err)
	}
	return orders, nil
}

// MarkCompleted records that the owner fulfilled a paid or installment order.
func (s *orderService) MarkCompleted(ctx context.Context, orderID string, actorID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderError(err)
	}
	if order.Status == domain.OrderStatusCompleted {
		return order, nil
	}
	if !canTransition(order.Status, domain.OrderStatusCompleted) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCompleted)
	}
	updated, err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCompleted)
	if err != nil {
		return Order{}, mapOrderError(err)
	}
	if !updated {
		return Order{}, fmt.Errorf("%w: status column not available", ErrOrderUnavailable)
	}

	previous := order.Status
	now := s.now()
	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &now
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:           "order.completed",
		AggregateID:    order.ID,
		UserID:         order.UserID,
		IdempotencyKey: "order:" + order.ID + ":completed",
		OccurredAt:     now,
		Payload: map[string]any{
			"previousStatus": string(previous),
			"actorId":        actorID,
		},
	})
	return order, nil
}

func canTransition(current, target domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

func mapOrderError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return err
}

func normaliseLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}

func orderEventPayload(order Order) map[string]any {
	return map[string]any{
		"method":   string(order.PaymentMethod),
		"status":   string(order.Status),
		"subtotal": money.Format(order.Subtotal),
		"fee":      money.Format(order.DeliveryFee),
		"redeem":   money.Format(order.RedeemAmount),
		"total":    money.Format(order.Total),
		"items":    len(order.Items),
	}
}

// publishEvent delivers an event and logs, rather than returns, any failure.
func publishEvent(ctx context.Context, events EventPublisher, logger eventLogger, event DomainEvent) {
	if events == nil {
		return
	}
	if event.Payload != nil {
		event.Payload = maps.Clone(event.Payload)
	}
	if err := events.Publish(ctx, event); err != nil {
		logger(ctx, "event.publish.failed", map[string]any{
			"type":      event.Type,
			"aggregate": event.AggregateID,
			"error":     err.Error(),
		})
	}
}
