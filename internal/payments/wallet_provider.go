package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
)

// WalletLedger is the stored-value balance the wallet provider settles against.
type WalletLedger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Debit removes amount from the balance and records a payment entry under reference.
	// applied is false when an entry with the same reference already exists.
	Debit(ctx context.Context, userID string, amount decimal.Decimal, method, reference string) (balance decimal.Decimal, applied bool, err error)
}

// WalletProvider settles an order from the customer's in-app wallet.
type WalletProvider struct {
	ledger WalletLedger
	logger Logger
}

// NewWalletProvider constructs the wallet adapter.
func NewWalletProvider(ledger WalletLedger, logger Logger) (*WalletProvider, error) {
	if ledger == nil {
		return nil, errors.New("wallet: ledger is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WalletProvider{ledger: ledger, logger: logger}, nil
}

// Method implements Provider.
func (p *WalletProvider) Method() domain.PaymentMethod { return domain.PaymentMethodWallet }

// WalletReference is the history reference of a wallet debit for an order.
func WalletReference(orderID string) string {
	return "order:" + strings.TrimSpace(orderID)
}

// Create checks that the balance covers the amount. Nothing is debited yet.
func (p *WalletProvider) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodWallet, Op: "create", Err: errors.New("wallet payments require a signed-in user")}
	}
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodWallet, Op: "create", Err: ErrInvalidAmount}
	}
	balance, err := p.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return CreateResult{}, err
	}
	if balance.LessThan(amount) {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodWallet, Op: "create", Err: ErrInsufficientFunds}
	}
	return CreateResult{
		Method:    domain.PaymentMethodWallet,
		Reference: WalletReference(req.OrderID),
		Status:    StatusPending,
	}, nil
}

// Confirm debits the wallet. A repeated confirm for the same reference does not debit twice.
func (p *WalletProvider) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return Confirmation{}, &ProviderError{Method: domain.PaymentMethodWallet, Op: "confirm", Err: ErrInvalidAmount}
	}
	ref := strings.TrimSpace(req.Reference)
	balance, applied, err := p.ledger.Debit(ctx, req.UserID, amount, string(domain.PaymentMethodWallet), ref)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return Confirmation{}, &ProviderError{Method: domain.PaymentMethodWallet, Op: "confirm", Err: err}
		}
		return Confirmation{}, err
	}
	p.logger(ctx, "payments.wallet.debited", map[string]any{
		"userId":    req.UserID,
		"reference": ref,
		"amount":    money.Format(amount),
		"balance":   money.Format(balance),
		"applied":   applied,
	})
	return Confirmation{
		Method:            domain.PaymentMethodWallet,
		Status:            StatusSucceeded,
		ProviderReference: ref,
		TransactionID:     ref,
		SettledAmount:     amount,
		OrderID:           req.OrderID,
	}, nil
}
