package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/repositories"
)

// WalletRepository stores balances in users.wallet_balance and history in wallet_transactions.
// Callers combine balance changes and history appends through the shared UnitOfWork.
type WalletRepository struct {
	db    *ppostgres.DB
	clock func() time.Time
}

var _ repositories.WalletRepository = (*WalletRepository)(nil)

// NewWalletRepository constructs a Postgres-backed wallet ledger.
func NewWalletRepository(db *ppostgres.DB, clock func() time.Time) (*WalletRepository, error) {
	if db == nil {
		return nil, errors.New("wallet repository requires postgres db")
	}
	if clock == nil {
		clock = time.Now
	}
	return &WalletRepository{db: db, clock: func() time.Time { return clock().UTC() }}, nil
}

// Credit adds amount to the balance and returns the new balance.
func (r *WalletRepository) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(userID) == "" {
		return decimal.Zero, errors.New("wallet repository: user id is required")
	}
	conn := r.db.Conn(ctx)
	if err := ensureUserRow(ctx, conn, userID); err != nil {
		return decimal.Zero, ppostgres.WrapError("wallet.ensure_user", err)
	}
	var balance string
	err := conn.QueryRow(ctx,
		`UPDATE users SET wallet_balance = wallet_balance + $2::numeric WHERE id = $1 RETURNING wallet_balance::text`,
		userID, money.Format(amount)).Scan(&balance)
	if err != nil {
		return decimal.Zero, ppostgres.WrapError("wallet.credit", err)
	}
	return money.NormalizeOrZero(balance), nil
}

// Debit subtracts amount when the balance covers it.
func (r *WalletRepository) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := r.db.Conn(ctx).QueryRow(ctx, `
		UPDATE users SET wallet_balance = wallet_balance - $2::numeric
		WHERE id = $1 AND wallet_balance >= $2::numeric
		RETURNING wallet_balance::text`,
		userID, money.Format(amount)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, repositories.NewLedgerError("wallet.debit", repositories.LedgerErrorInsufficientFunds, nil)
	}
	if err != nil {
		return decimal.Zero, ppostgres.WrapError("wallet.debit", err)
	}
	return money.NormalizeOrZero(balance), nil
}

// RecordTxn appends a history entry. A duplicate reference yields a LedgerErrorDuplicateReference.
func (r *WalletRepository) RecordTxn(ctx context.Context, txn domain.WalletTransaction) (domain.WalletTransaction, error) {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = r.clock()
	}
	txn.Reference = strings.TrimSpace(txn.Reference)
	err := r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO wallet_transactions (user_id, type, method, amount, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)
		RETURNING id`,
		txn.UserID, string(txn.Type), txn.Method, money.Format(txn.Amount), money.Format(txn.BalanceAfter),
		nullableText(txn.Reference), txn.CreatedAt,
	).Scan(&txn.ID)
	if err != nil {
		if ppostgres.IsUniqueViolation(err) {
			return domain.WalletTransaction{}, repositories.NewLedgerError("wallet.record_txn", repositories.LedgerErrorDuplicateReference, err)
		}
		return domain.WalletTransaction{}, ppostgres.WrapError("wallet.record_txn", err)
	}
	return txn, nil
}

// FindTxnByReference returns the history entry carrying reference.
func (r *WalletRepository) FindTxnByReference(ctx context.Context, reference string) (domain.WalletTransaction, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, type, method, amount::text, balance_after::text, reference, created_at
		FROM wallet_transactions WHERE reference = $1`, strings.TrimSpace(reference))
	txn, err := scanWalletTxn(row)
	if err != nil {
		return domain.WalletTransaction{}, ppostgres.WrapError("wallet.find_reference", err)
	}
	return txn, nil
}

// Balance returns the wallet balance; unknown users hold zero.
func (r *WalletRepository) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT wallet_balance::text FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, ppostgres.WrapError("wallet.balance", err)
	}
	return money.NormalizeOrZero(balance), nil
}

// History lists the newest wallet transactions first.
func (r *WalletRepository) History(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT id, user_id, type, method, amount::text, balance_after::text, reference, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, ppostgres.WrapError("wallet.history", err)
	}
	defer rows.Close()

	txns := make([]domain.WalletTransaction, 0)
	for rows.Next() {
		txn, err := scanWalletTxn(rows)
		if err != nil {
			return nil, ppostgres.WrapError("wallet.history", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("wallet.history", err)
	}
	return txns, nil
}

func scanWalletTxn(row pgx.Row) (domain.WalletTransaction, error) {
	var (
		txn             domain.WalletTransaction
		txnType         string
		amount, balance string
		reference       pgtype.Text
	)
	if err := row.Scan(&txn.ID, &txn.UserID, &txnType, &txn.Method, &amount, &balance, &reference, &txn.CreatedAt); err != nil {
		return domain.WalletTransaction{}, err
	}
	txn.Type = domain.WalletTransactionType(txnType)
	txn.Amount = money.NormalizeOrZero(amount)
	txn.BalanceAfter = money.NormalizeOrZero(balance)
	txn.Reference = reference.String
	txn.CreatedAt = txn.CreatedAt.UTC()
	return txn, nil
}
