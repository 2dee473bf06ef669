package postgres

import (
	"context"
	"errors"
	"fmt"
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

const refundColumns = `id, user_id, order_id, amount::text, reason, method, details, status, created_at, decided_at`

// RefundRepository persists refund requests.
type RefundRepository struct {
	db *ppostgres.DB
}

var _ repositories.RefundRepository = (*RefundRepository)(nil)

// NewRefundRepository constructs a Postgres-backed refund repository.
func NewRefundRepository(db *ppostgres.DB) (*RefundRepository, error) {
	if db == nil {
		return nil, errors.New("refund repository requires postgres db")
	}
	return &RefundRepository{db: db}, nil
}

// Insert stores a new refund request.
func (r *RefundRepository) Insert(ctx context.Context, refund domain.RefundRequest) error {
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund repository: refund id is required")
	}
	status := refund.Status
	if status == "" {
		status = domain.RefundStatusPending
	}
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO refund_requests (id, user_id, order_id, amount, reason, method, details, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		refund.ID, refund.UserID, refund.OrderID, money.Format(refund.Amount), refund.Reason,
		string(refund.Method), refund.Details, string(status), refund.CreatedAt.UTC())
	return ppostgres.WrapError("refunds.insert", err)
}

// FindByID loads a refund request.
func (r *RefundRepository) FindByID(ctx context.Context, refundID string) (domain.RefundRequest, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, refundID)
	refund, err := scanRefund(row)
	if err != nil {
		return domain.RefundRequest{}, ppostgres.WrapError("refunds.find", err)
	}
	return refund, nil
}

// List returns refund requests matching filter, newest first.
func (r *RefundRepository) List(ctx context.Context, filter repositories.RefundListFilter) ([]domain.RefundRequest, error) {
	var (
		conds []string
		args  []any
	)
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		args = append(args, userID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > maxOrderListLimit {
		limit = defaultOrderListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + refundColumns + ` FROM refund_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, ppostgres.WrapError("refunds.list", err)
	}
	defer rows.Close()
	refunds := make([]domain.RefundRequest, 0)
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, ppostgres.WrapError("refunds.list", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("refunds.list", err)
	}
	return refunds, nil
}

// UpdateStatus transitions from -> to. It returns false when the stored status differs from from.
func (r *RefundRepository) UpdateStatus(ctx context.Context, refundID string, from, to domain.RefundStatus, amount decimal.Decimal, decidedAt time.Time) (bool, error) {
	tag, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE refund_requests
		SET status = $3, amount = $4::numeric, decided_at = $5
		WHERE id = $1 AND status = $2`,
		refundID, string(from), string(to), money.Format(amount), decidedAt.UTC())
	if err != nil {
		return false, ppostgres.WrapError("refunds.update_status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TotalsByOrder sums approved amounts and counts pending requests for orderID.
func (r *RefundRepository) TotalsByOrder(ctx context.Context, orderID string) (repositories.RefundTotals, error) {
	var (
		approved string
		pending  int
	)
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE status = 'approved'), 0)::text,
		       COUNT(*) FILTER (WHERE status = 'pending')
		FROM refund_requests
		WHERE order_id = $1`, orderID).Scan(&approved, &pending)
	if err != nil {
		return repositories.RefundTotals{}, ppostgres.WrapError("refunds.totals", err)
	}
	return repositories.RefundTotals{Approved: money.NormalizeOrZero(approved), Pending: pending}, nil
}

// LockOrder takes a transaction-scoped advisory lock keyed on the order id. Outside a
// transaction the lock is released as soon as the statement finishes.
func (r *RefundRepository) LockOrder(ctx context.Context, orderID string) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('refund:' || $1))`, orderID)
	return ppostgres.WrapError("refunds.lock_order", err)
}

func scanRefund(row pgx.Row) (domain.RefundRequest, error) {
	var (
		refund         domain.RefundRequest
		amount         string
		method, status string
		decidedAt      pgtype.Timestamptz
	)
	if err := row.Scan(&refund.ID, &refund.UserID, &refund.OrderID, &amount, &refund.Reason, &method,
		&refund.Details, &status, &refund.CreatedAt, &decidedAt); err != nil {
		return domain.RefundRequest{}, err
	}
	refund.Amount = money.NormalizeOrZero(amount)
	refund.Method = domain.RefundMethod(method)
	refund.Status = domain.RefundStatus(status)
	refund.CreatedAt = refund.CreatedAt.UTC()
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		refund.DecidedAt = &t
	}
	return refund, nil
}
