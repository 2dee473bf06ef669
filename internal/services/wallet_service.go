package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/money"
	"github.com/homebitez/api/internal/repositories"
)

var (
	// ErrWalletInvalidInput indicates a missing user or a non-positive amount.
	ErrWalletInvalidInput = errors.New("wallet: invalid input")
	// ErrWalletInsufficientFunds indicates the balance cannot cover a debit.
	ErrWalletInsufficientFunds = fmt.Errorf("wallet: %w", payments.ErrInsufficientFunds)
)

// WalletServiceDeps wires the wallet ledger.
type WalletServiceDeps struct {
	Wallets    repositories.WalletRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type walletService struct {
	wallets    repositories.WalletRepository
	unitOfWork repositories.UnitOfWork
	now        func() time.Time
	logger     eventLogger
}

var _ payments.WalletLedger = (*walletService)(nil)

// NewWalletService constructs the wallet service.
func NewWalletService(deps WalletServiceDeps) (WalletService, error) {
	if deps.Wallets == nil {
		return nil, errors.New("wallet service: wallet repository is required")
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &walletService{
		wallets:    deps.Wallets,
		unitOfWork: uow,
		now:        utcClock(deps.Clock),
		logger:     logger,
	}, nil
}

// Credit tops up the balance and records the history entry in the same transaction.
func (s *walletService) Credit(ctx context.Context, cmd WalletCreditCommand) (WalletMovement, error) {
	userID := strings.TrimSpace(cmd.UserID)
	amount := money.Round2(cmd.Amount)
	if userID == "" || !amount.IsPositive() {
		return WalletMovement{}, ErrWalletInvalidInput
	}
	method := strings.TrimSpace(cmd.Method)
	if method == "" {
		method = "topup"
	}
	movement, err := s.move(ctx, domain.WalletTransaction{
		UserID:    userID,
		Type:      domain.WalletTxnTopup,
		Method:    method,
		Amount:    amount,
		Reference: strings.TrimSpace(cmd.Reference),
	})
	if err != nil {
		return WalletMovement{}, err
	}
	s.logger(ctx, "wallet.credited", map[string]any{
		"userId":    userID,
		"amount":    money.Format(amount),
		"balance":   money.Format(movement.Balance),
		"reference": cmd.Reference,
		"applied":   movement.Applied,
	})
	return movement, nil
}

// Debit implements payments.WalletLedger.
func (s *walletService) Debit(ctx context.Context, userID string, amount decimal.Decimal, method, reference string) (decimal.Decimal, bool, error) {
	userID = strings.TrimSpace(userID)
	amount = money.Round2(amount)
	if userID == "" || !amount.IsPositive() {
		return decimal.Zero, false, ErrWalletInvalidInput
	}
	movement, err := s.move(ctx, domain.WalletTransaction{
		UserID:    userID,
		Type:      domain.WalletTxnPayment,
		Method:    strings.TrimSpace(method),
		Amount:    amount,
		Reference: strings.TrimSpace(reference),
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	s.logger(ctx, "wallet.debited", map[string]any{
		"userId":    userID,
		"amount":    money.Format(amount),
		"balance":   money.Format(movement.Balance),
		"reference": reference,
		"applied":   movement.Applied,
	})
	return movement.Balance, movement.Applied, nil
}

// Balance implements payments.WalletLedger.
func (s *walletService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return decimal.Zero, ErrWalletInvalidInput
	}
	return s.wallets.Balance(ctx, userID)
}

func (s *walletService) Summary(ctx context.Context, userID string, limit int) (WalletSummary, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := s.wallets.History(ctx, strings.TrimSpace(userID), limit)
	if err != nil {
		return WalletSummary{}, err
	}
	return WalletSummary{Balance: balance, History: history}, nil
}

// move applies the balance change and appends history atomically. A reference that was
// already recorded short-circuits to the stored entry with Applied=false.
func (s *walletService) move(ctx context.Context, txn domain.WalletTransaction) (WalletMovement, error) {
	if txn.Reference != "" {
		if existing, ok, err := s.findByReference(ctx, txn.Reference); err != nil {
			return WalletMovement{}, err
		} else if ok {
			return s.replay(ctx, txn.UserID, existing)
		}
	}

	txn.CreatedAt = s.now()
	var movement WalletMovement
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var (
			balance decimal.Decimal
			err     error
		)
		if txn.Type == domain.WalletTxnPayment {
			balance, err = s.wallets.Debit(txCtx, txn.UserID, txn.Amount)
		} else {
			balance, err = s.wallets.Credit(txCtx, txn.UserID, txn.Amount)
		}
		if err != nil {
			return err
		}
		txn.BalanceAfter = balance
		recorded, err := s.wallets.RecordTxn(txCtx, txn)
		if err != nil {
			return err
		}
		movement = WalletMovement{Balance: balance, Transaction: recorded, Applied: true}
		return nil
	})
	switch {
	case err == nil:
		return movement, nil
	case repositories.IsLedgerError(err, repositories.LedgerErrorInsufficientFunds):
		return WalletMovement{}, ErrWalletInsufficientFunds
	case repositories.IsLedgerError(err, repositories.LedgerErrorDuplicateReference):
		existing, ok, findErr := s.findByReference(ctx, txn.Reference)
		if findErr != nil {
			return WalletMovement{}, findErr
		}
		if !ok {
			return WalletMovement{}, err
		}
		return s.replay(ctx, txn.UserID, existing)
	default:
		return WalletMovement{}, err
	}
}

func (s *walletService) replay(ctx context.Context, userID string, existing domain.WalletTransaction) (WalletMovement, error) {
	balance, err := s.wallets.Balance(ctx, userID)
	if err != nil {
		return WalletMovement{}, err
	}
	return WalletMovement{Balance: balance, Transaction: existing}, nil
}

func (s *walletService) findByReference(ctx context.Context, reference string) (domain.WalletTransaction, bool, error) {
	txn, err := s.wallets.FindTxnByReference(ctx, reference)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.WalletTransaction{}, false, nil
		}
		return domain.WalletTransaction{}, false, err
	}
	return txn, true, nil
}
