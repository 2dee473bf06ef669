package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Loyalty() LoyaltyRepository
	Wallets() WalletRepository
	Users() UserRepository
	Refunds() RefundRepository
	Products() ProductRepository
	Sessions() SessionRepository
	Carts() CartRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the durable order ledger. Implementations tolerate
// optional columns being absent from the physical schema.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) (string, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, limit int) ([]domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	// UpdateStatus returns false without error when the schema cannot express the update.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (bool, error)
	// ApplyPaylaterPayment allocates amount oldest-first and returns the amount actually applied.
	ApplyPaylaterPayment(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	// RecordSettlement moves a pending order to paid. It returns false when the order
	// was no longer pending, which callers treat as an already-settled order.
	RecordSettlement(ctx context.Context, orderID string, settlement domain.OrderSettlement) (bool, error)
	// AttachPaymentReference stores the provider reference on an unsettled order.
	AttachPaymentReference(ctx context.Context, orderID string, method domain.PaymentMethod, reference string) (bool, error)
	FindByPaymentReference(ctx context.Context, method domain.PaymentMethod, reference string) (domain.Order, error)
	ListPaylater(ctx context.Context, userID string) ([]domain.Order, error)
	ListOutstandingPaylater(ctx context.Context, limit int) ([]domain.Order, error)
}

// LoyaltyResult is the outcome of a points adjustment.
type LoyaltyResult struct {
	Balance int
	Entry   domain.LoyaltyEntry
	// Applied is false when an entry with the same reference already existed.
	Applied bool
}

// LoyaltyRepository mirrors the points balance on the user row and appends history entries.
type LoyaltyRepository interface {
	AddPoints(ctx context.Context, entry domain.LoyaltyEntry) (LoyaltyResult, error)
	Balance(ctx context.Context, userID string) (int, error)
	History(ctx context.Context, userID string, limit int) ([]domain.LoyaltyEntry, error)
}

// WalletRepository owns the wallet balance column and its append-only history.
type WalletRepository interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	// Debit fails with a LedgerErrorInsufficientFunds LedgerError when the balance is too low.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	RecordTxn(ctx context.Context, txn domain.WalletTransaction) (domain.WalletTransaction, error)
	FindTxnByReference(ctx context.Context, reference string) (domain.WalletTransaction, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	History(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error)
}

// UserRepository maintains the user rows that carry points and wallet balances.
type UserRepository interface {
	Ensure(ctx context.Context, userID string, email string) error
}

// RefundListFilter narrows refund listings.
type RefundListFilter struct {
	UserID string
	Status domain.RefundStatus
	Limit  int
}

// RefundTotals summarises the refund requests filed against one order.
type RefundTotals struct {
	Approved decimal.Decimal
	Pending  int
}

// RefundRepository persists refund requests and guarded status transitions.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.RefundRequest) error
	FindByID(ctx context.Context, refundID string) (domain.RefundRequest, error)
	List(ctx context.Context, filter RefundListFilter) ([]domain.RefundRequest, error)
	// UpdateStatus applies the transition only while the stored status equals from.
	UpdateStatus(ctx context.Context, refundID string, from, to domain.RefundStatus, amount decimal.Decimal, decidedAt time.Time) (bool, error)
	TotalsByOrder(ctx context.Context, orderID string) (RefundTotals, error)
	// LockOrder serialises refund writes for orderID until the surrounding transaction ends.
	LockOrder(ctx context.Context, orderID string) error
}

// ProductRepository manages menu items and their stock.
type ProductRepository interface {
	List(ctx context.Context) ([]domain.Product, error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByNameKey(ctx context.Context, nameKey string) (domain.Product, error)
	SetStock(ctx context.Context, productID string, stock int) (domain.Product, error)
	// DecrementStockByName lowers stock for the product matching nameKey, never below zero.
	DecrementStockByName(ctx context.Context, nameKey string, quantity int) (bool, error)
}

// SessionRepository stores checkout sessions keyed by session key.
type SessionRepository interface {
	Get(ctx context.Context, key string) (domain.CheckoutSession, error)
	Save(ctx context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error)
	Delete(ctx context.Context, key string) error
}

// CartRepository stores the persistent per-user cart that survives sessions.
type CartRepository interface {
	Get(ctx context.Context, userID string) ([]domain.CartItem, error)
	Replace(ctx context.Context, userID string, items []domain.CartItem) error
	// RemoveItems drops every line whose name matches one of names.
	RemoveItems(ctx context.Context, userID string, names []string) error
}

// HealthRepository exposes system dependency checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
