package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/homebitez/api/internal/platform/firestore"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/repositories"
	firestoreRepo "github.com/homebitez/api/internal/repositories/firestore"
	postgresRepo "github.com/homebitez/api/internal/repositories/postgres"
)

// StoreDeps are the clients backing the production registry.
type StoreDeps struct {
	DB        *ppostgres.DB
	Firestore *pfirestore.Provider
	Health    repositories.HealthRepository
	// OrderTable defaults to postgres.DefaultOrderTable.
	OrderTable string
	Clock      func() time.Time
}

// StoreRegistry keeps the order ledger and balances in Postgres and checkout sessions in Firestore.
type StoreRegistry struct {
	db        *ppostgres.DB
	firestore *pfirestore.Provider

	orders   *postgresRepo.OrderRepository
	loyalty  *postgresRepo.LoyaltyRepository
	wallets  *postgresRepo.WalletRepository
	users    *postgresRepo.UserRepository
	refunds  *postgresRepo.RefundRepository
	products *postgresRepo.ProductRepository
	sessions *firestoreRepo.SessionRepository
	carts    *firestoreRepo.CartRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*StoreRegistry)(nil)

// NewStoreRegistry inspects the order table layout and builds every repository.
func NewStoreRegistry(ctx context.Context, deps StoreDeps) (*StoreRegistry, error) {
	if deps.DB == nil {
		return nil, errors.New("registry: postgres database is required")
	}
	if deps.Firestore == nil {
		return nil, errors.New("registry: firestore provider is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	schema, err := postgresRepo.LoadOrderSchema(ctx, deps.DB.Conn(ctx), deps.OrderTable)
	if err != nil {
		return nil, fmt.Errorf("registry: load order schema: %w", err)
	}

	reg := &StoreRegistry{db: deps.DB, firestore: deps.Firestore, health: deps.Health}
	if reg.orders, err = postgresRepo.NewOrderRepository(deps.DB, schema, clock); err != nil {
		return nil, fmt.Errorf("registry: orders: %w", err)
	}
	if reg.loyalty, err = postgresRepo.NewLoyaltyRepository(deps.DB, clock); err != nil {
		return nil, fmt.Errorf("registry: loyalty: %w", err)
	}
	if reg.wallets, err = postgresRepo.NewWalletRepository(deps.DB, clock); err != nil {
		return nil, fmt.Errorf("registry: wallets: %w", err)
	}
	if reg.users, err = postgresRepo.NewUserRepository(deps.DB); err != nil {
		return nil, fmt.Errorf("registry: users: %w", err)
	}
	if reg.refunds, err = postgresRepo.NewRefundRepository(deps.DB); err != nil {
		return nil, fmt.Errorf("registry: refunds: %w", err)
	}
	if reg.products, err = postgresRepo.NewProductRepository(deps.DB, clock); err != nil {
		return nil, fmt.Errorf("registry: products: %w", err)
	}
	if reg.sessions, err = firestoreRepo.NewSessionRepository(deps.Firestore, clock); err != nil {
		return nil, fmt.Errorf("registry: sessions: %w", err)
	}
	if reg.carts, err = firestoreRepo.NewCartRepository(deps.Firestore, clock); err != nil {
		return nil, fmt.Errorf("registry: carts: %w", err)
	}
	return reg, nil
}

// Close releases the Firestore client and the Postgres pool.
func (r *StoreRegistry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var err error
	if r.firestore != nil {
		err = r.firestore.Close(ctx)
	}
	r.db.Close()
	return err
}

// RunInTx scopes fn to a Postgres transaction. Firestore writes are not part of it.
func (r *StoreRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

func (r *StoreRegistry) Orders() repositories.OrderRepository { return r.orders }
func (r *StoreRegistry) Loyalty() repositories.LoyaltyRepository { return r.loyalty }
func (r *StoreRegistry) Wallets() repositories.WalletRepository { return r.wallets }
func (r *StoreRegistry) Users() repositories.UserRepository { return r.users }
func (r *StoreRegistry) Refunds() repositories.RefundRepository { return r.refunds }
func (r *StoreRegistry) Products() repositories.ProductRepository { return r.products }
func (r *StoreRegistry) Sessions() repositories.SessionRepository { return r.sessions }
func (r *StoreRegistry) Carts() repositories.CartRepository { return r.carts }
func (r *StoreRegistry) Health() repositories.HealthRepository { return r.health }
