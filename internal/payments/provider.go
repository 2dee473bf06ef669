package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// DefaultCurrency is used when a request does not name one.
const DefaultCurrency = "SGD"

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CreateRequest asks a provider to open a payment for a single amount.
type CreateRequest struct {
	Amount         decimal.Decimal
	Currency       string
	OrderID        string
	UserID         string
	ShippingName   string
	IdempotencyKey string
	Metadata       map[string]string
}

// CreateResult is what the client needs to complete payment with the provider.
type CreateResult struct {
	Method       domain.PaymentMethod
	Reference    string
	ClientSecret string
	ApproveURL   string
	QRCode       string
	Status       Status
}

// ConfirmRequest identifies a provider-side payment to capture or look up.
type ConfirmRequest struct {
	Reference      string
	OrderID        string
	UserID         string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Confirmation is the normalised outcome of a capture or status check.
type Confirmation struct {
	Method            domain.PaymentMethod
	Status            Status
	ProviderReference string
	TransactionID     string
	SettledAmount     decimal.Decimal
	PayerEmail        string
	OrderID           string
}

// SettlementKey is the idempotency key stored on the order for this confirmation.
func (c Confirmation) SettlementKey() string {
	txn := strings.TrimSpace(c.TransactionID)
	if txn == "" {
		txn = strings.TrimSpace(c.ProviderReference)
	}
	if txn == "" {
		return ""
	}
	return string(c.Method) + ":" + txn
}

// RefundRequest reverses (part of) a settled payment.
type RefundRequest struct {
	Method         domain.PaymentMethod
	Reference      string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult is the provider's acknowledgement of a refund.
type RefundResult struct {
	Method   domain.PaymentMethod
	RefundID string
	Status   Status
	Amount   decimal.Decimal
}

// Provider is the uniform create/confirm capability every payment method exposes.
type Provider interface {
	Method() domain.PaymentMethod
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error)
}

// Refunder is implemented by providers that can reverse a settled payment.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Manager routes requests to the provider registered for a payment method.
type Manager struct {
	providers map[domain.PaymentMethod]Provider
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers ...Provider) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[domain.PaymentMethod]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(p.Method()))))
		if method == "" {
			return nil, errors.New("payments: provider reports empty method")
		}
		if _, exists := registry[method]; exists {
			return nil, fmt.Errorf("payments: duplicate provider for method %q", method)
		}
		registry[method] = p
	}
	return &Manager{providers: registry}, nil
}

// Supports reports whether a provider is registered for the method.
func (m *Manager) Supports(method domain.PaymentMethod) bool {
	_, err := m.resolve(method)
	return err == nil
}

// Provider returns the provider registered for the method.
func (m *Manager) Provider(method domain.PaymentMethod) (Provider, error) {
	return m.resolve(method)
}

// Create delegates to the provider registered for method.
func (m *Manager) Create(ctx context.Context, method domain.PaymentMethod, req CreateRequest) (CreateResult, error) {
	provider, err := m.resolve(method)
	if err != nil {
		return CreateResult{}, err
	}
	if !req.Amount.IsPositive() {
		return CreateResult{}, &ProviderError{Method: provider.Method(), Op: "create", Err: ErrInvalidAmount}
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = DefaultCurrency
	}
	result, err := provider.Create(ctx, req)
	if err != nil {
		return CreateResult{}, err
	}
	result.Method = provider.Method()
	return result, nil
}

// Confirm delegates to the provider registered for method.
func (m *Manager) Confirm(ctx context.Context, method domain.PaymentMethod, req ConfirmRequest) (Confirmation, error) {
	provider, err := m.resolve(method)
	if err != nil {
		return Confirmation{}, err
	}
	if strings.TrimSpace(req.Reference) == "" {
		return Confirmation{}, &ProviderError{Method: provider.Method(), Op: "confirm", Err: ErrMissingReference}
	}
	confirmation, err := provider.Confirm(ctx, req)
	if err != nil {
		return Confirmation{}, err
	}
	confirmation.Method = provider.Method()
	return confirmation, nil
}

// Refund delegates to the provider registered for method when it supports refunds.
func (m *Manager) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	provider, err := m.resolve(req.Method)
	if err != nil {
		return RefundResult{}, err
	}
	refunder, ok := provider.(Refunder)
	if !ok {
		return RefundResult{}, fmt.Errorf("%w: %s does not support refunds", ErrUnsupportedProvider, req.Method)
	}
	if !req.Amount.IsPositive() {
		return RefundResult{}, &ProviderError{Method: req.Method, Op: "refund", Err: ErrInvalidAmount}
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = DefaultCurrency
	}
	result, err := refunder.Refund(ctx, req)
	if err != nil {
		return RefundResult{}, err
	}
	result.Method = req.Method
	return result, nil
}

func (m *Manager) resolve(method domain.PaymentMethod) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	key := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
	provider, ok := m.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, method)
	}
	return provider, nil
}
