package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	domain "github.com/homebitez/api/internal/domain"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/repositories"
)

const defaultHistoryLimit = 50

// LoyaltyRepository mirrors the points balance on users.points and appends loyalty_history rows.
type LoyaltyRepository struct {
	db    *ppostgres.DB
	clock func() time.Time
}

var _ repositories.LoyaltyRepository = (*LoyaltyRepository)(nil)

// NewLoyaltyRepository constructs a Postgres-backed loyalty ledger.
func NewLoyaltyRepository(db *ppostgres.DB, clock func() time.Time) (*LoyaltyRepository, error) {
	if db == nil {
		return nil, errors.New("loyalty repository requires postgres db")
	}
	if clock == nil {
		clock = time.Now
	}
	return &LoyaltyRepository{db: db, clock: func() time.Time { return clock().UTC() }}, nil
}

// AddPoints adjusts the balance and appends the history entry in one transaction.
// An entry whose reference already exists is reported with Applied=false.
func (r *LoyaltyRepository) AddPoints(ctx context.Context, entry domain.LoyaltyEntry) (repositories.LoyaltyResult, error) {
	entry.UserID = strings.TrimSpace(entry.UserID)
	entry.Reference = strings.TrimSpace(entry.Reference)
	if entry.UserID == "" {
		return repositories.LoyaltyResult{}, errors.New("loyalty repository: user id is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock()
	}

	var result repositories.LoyaltyResult
	err := r.db.RunInTx(ctx, func(txCtx context.Context) error {
		conn := r.db.Conn(txCtx)
		if entry.Reference != "" {
			existing, err := r.findByReference(txCtx, entry.Reference)
			switch {
			case err == nil:
				balance, err := r.Balance(txCtx, entry.UserID)
				if err != nil {
					return err
				}
				result = repositories.LoyaltyResult{Balance: balance, Entry: existing}
				return nil
			case !errors.Is(err, pgx.ErrNoRows):
				return ppostgres.WrapError("loyalty.find_reference", err)
			}
		}

		if err := ensureUserRow(txCtx, conn, entry.UserID); err != nil {
			return ppostgres.WrapError("loyalty.ensure_user", err)
		}
		var balance int
		if err := conn.QueryRow(txCtx,
			`UPDATE users SET points = points + $2 WHERE id = $1 RETURNING points`,
			entry.UserID, entry.PointsDelta).Scan(&balance); err != nil {
			return ppostgres.WrapError("loyalty.update_balance", err)
		}
		if err := conn.QueryRow(txCtx, `
			INSERT INTO loyalty_history (user_id, points_delta, description, reference, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			entry.UserID, entry.PointsDelta, entry.Description, nullableText(entry.Reference), entry.CreatedAt,
		).Scan(&entry.ID); err != nil {
			return err
		}
		result = repositories.LoyaltyResult{Balance: balance, Entry: entry, Applied: true}
		return nil
	})
	if err != nil {
		if ppostgres.IsUniqueViolation(err) && entry.Reference != "" {
			// lost a race against a concurrent writer of the same reference
			existing, findErr := r.findByReference(ctx, entry.Reference)
			if findErr != nil {
				return repositories.LoyaltyResult{}, ppostgres.WrapError("loyalty.find_reference", findErr)
			}
			balance, balErr := r.Balance(ctx, entry.UserID)
			if balErr != nil {
				return repositories.LoyaltyResult{}, balErr
			}
			return repositories.LoyaltyResult{Balance: balance, Entry: existing}, nil
		}
		return repositories.LoyaltyResult{}, ppostgres.WrapError("loyalty.add_points", err)
	}
	return result, nil
}

// Balance returns the current points balance; unknown users have zero points.
func (r *LoyaltyRepository) Balance(ctx context.Context, userID string) (int, error) {
	var points int
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT points FROM users WHERE id = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ppostgres.WrapError("loyalty.balance", err)
	}
	return points, nil
}

// History lists the newest entries first.
func (r *LoyaltyRepository) History(ctx context.Context, userID string, limit int) ([]domain.LoyaltyEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT id, user_id, points_delta, description, reference, created_at
		FROM loyalty_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, ppostgres.WrapError("loyalty.history", err)
	}
	defer rows.Close()

	entries := make([]domain.LoyaltyEntry, 0)
	for rows.Next() {
		entry, err := scanLoyaltyEntry(rows)
		if err != nil {
			return nil, ppostgres.WrapError("loyalty.history", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("loyalty.history", err)
	}
	return entries, nil
}

func (r *LoyaltyRepository) findByReference(ctx context.Context, reference string) (domain.LoyaltyEntry, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, points_delta, description, reference, created_at
		FROM loyalty_history WHERE reference = $1`, reference)
	return scanLoyaltyEntry(row)
}

func scanLoyaltyEntry(row pgx.Row) (domain.LoyaltyEntry, error) {
	var (
		entry     domain.LoyaltyEntry
		reference pgtype.Text
	)
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.PointsDelta, &entry.Description, &reference, &entry.CreatedAt); err != nil {
		return domain.LoyaltyEntry{}, err
	}
	entry.Reference = reference.String
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}
