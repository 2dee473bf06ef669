package postgres

import (
	"context"
	"errors"
	"strings"

	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/repositories"
)

// UserRepository keeps the user rows carrying points and wallet balances.
type UserRepository struct {
	db *ppostgres.DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Postgres-backed user repository.
func NewUserRepository(db *ppostgres.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errors.New("user repository requires postgres db")
	}
	return &UserRepository{db: db}, nil
}

// Ensure creates the user row when missing and records the latest known email.
func (r *UserRepository) Ensure(ctx context.Context, userID string, email string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO users (id, email) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO UPDATE SET email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)`,
		userID, strings.TrimSpace(email))
	return ppostgres.WrapError("users.ensure", err)
}

func ensureUserRow(ctx context.Context, q ppostgres.Querier, userID string) error {
	_, err := q.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	return err
}
