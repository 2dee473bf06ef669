package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/homebitez/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates a missing product or negative stock.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the product does not exist.
	ErrInventoryNotFound = errors.New("inventory: product not found")
)

// InventoryServiceDeps wires owner stock management.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Events   EventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	events   EventPublisher
	now      func() time.Time
	logger   eventLogger
}

// NewInventoryService constructs the owner stock service.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &inventoryService{
		products: deps.Products,
		events:   deps.Events,
		now:      utcClock(deps.Clock),
		logger:   logger,
	}, nil
}

func (s *inventoryService) ListProducts(ctx context.Context) ([]Product, error) {
	return s.products.List(ctx)
}

// SetStock overwrites a product's stock level.
func (s *inventoryService) SetStock(ctx context.Context, cmd SetStockCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" || cmd.Stock < 0 {
		return Product{}, ErrInventoryInvalidInput
	}
	product, err := s.products.SetStock(ctx, productID, cmd.Stock)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrInventoryNotFound, productID)
		}
		return Product{}, err
	}
	s.logger(ctx, "inventory.stock.set", map[string]any{
		"productId": productID,
		"stock":     cmd.Stock,
		"actorId":   cmd.ActorID,
	})
	publishEvent(ctx, s.events, s.logger, DomainEvent{
		Type:        "inventory.stock_set",
		AggregateID: productID,
		OccurredAt:  s.now(),
		Payload:     map[string]any{"stock": cmd.Stock, "actorId": cmd.ActorID},
	})
	return product, nil
}
