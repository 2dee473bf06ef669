package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/config"
	"github.com/homebitez/api/internal/platform/observability"
	"github.com/homebitez/api/internal/repositories"
	"github.com/homebitez/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart      services.CartService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Loyalty   services.LoyaltyService
	Wallet    services.WalletService
	Refunds   services.RefundService
	Paylater  services.PaylaterService
	Inventory services.InventoryService
	System    services.SystemService
}

// Infrastructure carries the adapters that sit outside the repositories: card and QR
// providers, the event bus, the receipt archive and metrics. Nil members are skipped.
type Infrastructure struct {
	// Providers are the external payment providers. The wallet provider is added by the container.
	Providers []payments.Provider
	Events    services.EventPublisher
	Receipts  services.ReceiptArchive
	Metrics   services.CheckoutMetrics
	Build     services.BuildInfo
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories, services, and payment routing for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     *payments.Manager
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, manager, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Payments:     manager,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, *payments.Manager, error) {
	var svc Services
	clock := infra.Clock
	events := infra.Events
	eventLogger := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(infra.Logger.Named(name))
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, nil, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	walletSvc, err := services.NewWalletService(services.WalletServiceDeps{
		Wallets:    reg.Wallets(),
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     eventLogger("wallet"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build wallet service: %w", err)
	}
	svc.Wallet = walletSvc

	walletProvider, err := payments.NewWalletProvider(walletSvc, payments.Logger(eventLogger("payments")))
	if err != nil {
		return Services{}, nil, fmt.Errorf("build wallet provider: %w", err)
	}
	providers := make([]payments.Provider, 0, len(infra.Providers)+1)
	for _, provider := range infra.Providers {
		if provider == nil || !cfg.Checkout.MethodEnabled(string(provider.Method())) {
			continue
		}
		providers = append(providers, provider)
	}
	providers = append(providers, walletProvider)
	manager, err := payments.NewManager(providers...)
	if err != nil {
		return Services{}, nil, fmt.Errorf("build payment manager: %w", err)
	}

	loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Loyalty: reg.Loyalty(),
		Logger:  eventLogger("loyalty"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build loyalty service: %w", err)
	}
	svc.Loyalty = loyaltySvc

	pricing := services.NewCheckoutPricingEngine()
	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Sessions: reg.Sessions(),
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Loyalty:  reg.Loyalty(),
		Pricing:  pricing,
		Clock:    clock,
		Logger:   eventLogger("cart"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	finalizer, err := services.NewSettlementFinalizer(services.SettlementFinalizerDeps{
		Products: reg.Products(),
		Sessions: reg.Sessions(),
		Carts:    reg.Carts(),
		Receipts: infra.Receipts,
		Events:   events,
		Clock:    clock,
		Logger:   eventLogger("finalizer"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build settlement finalizer: %w", err)
	}

	pollInterval := cfg.PSP.NETS.PollInterval
	if pollInterval <= 0 {
		pollInterval = payments.DefaultPollInterval
	}
	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions:  reg.Sessions(),
		Carts:     reg.Carts(),
		Orders:    reg.Orders(),
		Users:     reg.Users(),
		Payments:  manager,
		Loyalty:   loyaltySvc,
		Finalizer: finalizer,
		Pricing:   pricing,
		Poller:    payments.StatusPoller{Interval: pollInterval},
		Events:    events,
		Metrics:   infra.Metrics,
		Currency:  cfg.Checkout.Currency,
		Clock:     clock,
		Logger:    eventLogger("checkout"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
		Events: events,
		Clock:  clock,
		Logger: eventLogger("orders"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Refunds:    reg.Refunds(),
		Orders:     reg.Orders(),
		Wallet:     walletSvc,
		Payments:   manager,
		Events:     events,
		Metrics:    infra.Metrics,
		UnitOfWork: reg,
		Currency:   cfg.Checkout.Currency,
		Clock:      clock,
		Logger:     eventLogger("refunds"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	paylaterSvc, err := services.NewPaylaterService(services.PaylaterServiceDeps{
		Orders:     reg.Orders(),
		Wallet:     walletSvc,
		UnitOfWork: reg,
		Events:     events,
		Clock:      clock,
		Logger:     eventLogger("paylater"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build paylater service: %w", err)
	}
	svc.Paylater = paylaterSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Events:   events,
		Clock:    clock,
		Logger:   eventLogger("inventory"),
	})
	if err != nil {
		return Services{}, nil, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	return svc, manager, nil
}
