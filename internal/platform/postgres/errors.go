package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation   = "23505"
	codeSerialization     = "40001"
	codeDeadlock          = "40P01"
	codeCheckViolation    = "23514"
	codeUndefinedTable    = "42P01"
	codeUndefinedColumn   = "42703"
	classConnectionFailed = "08"
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether no row matched.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports a uniqueness, check or serialization failure.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports a connection-level failure.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// NotFound builds a not-found error for op.
func NotFound(op string, err error) error {
	if err == nil {
		err = pgx.ErrNoRows
	}
	return &Error{op: op, err: err, notFound: true}
}

// Conflict builds a conflict error for op.
func Conflict(op string, err error) error {
	return &Error{op: op, err: err, conflict: true}
}

// WrapError annotates pgx errors with repository semantics. Context cancellations pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}

	e := &Error{op: op, err: err}
	if errors.Is(err, pgx.ErrNoRows) {
		e.notFound = true
		return e
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation, pgErr.Code == codeSerialization, pgErr.Code == codeDeadlock, pgErr.Code == codeCheckViolation:
			e.conflict = true
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == classConnectionFailed:
			e.unavailable = true
		}
		return e
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		e.unavailable = true
	}
	return e
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsUndefinedColumn reports whether err is caused by a missing column or table.
func IsUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == codeUndefinedColumn || pgErr.Code == codeUndefinedTable)
}
