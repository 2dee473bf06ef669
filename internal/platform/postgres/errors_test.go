package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapErrorClassifiesPgErrors(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "serialization", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"}), conflict: true},
		{name: "connection", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "other", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := WrapError("orders.insert", tc.err)
			var repoErr *Error
			if !assert.ErrorAs(t, err, &repoErr) {
				return
			}
			assert.Equal(t, tc.notFound, repoErr.IsNotFound())
			assert.Equal(t, tc.conflict, repoErr.IsConflict())
			assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
			assert.Contains(t, err.Error(), "orders.insert")
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	assert.Same(t, context.Canceled, WrapError("op", context.Canceled))
	assert.Nil(t, WrapError("op", nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("x: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsUndefinedColumn(&pgconn.PgError{Code: "42703"}))
}
