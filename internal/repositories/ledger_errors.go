package repositories

import (
	"errors"
	"fmt"
)

// LedgerErrorCode enumerates repository error causes for wallet and loyalty ledgers.
type LedgerErrorCode string

const (
	// LedgerErrorInsufficientFunds indicates a debit would take the balance below zero.
	LedgerErrorInsufficientFunds LedgerErrorCode = "ledger_insufficient_funds"
	// LedgerErrorDuplicateReference indicates an entry with the same reference already exists.
	LedgerErrorDuplicateReference LedgerErrorCode = "ledger_duplicate_reference"
	// LedgerErrorUserNotFound indicates the balance row for the user does not exist.
	LedgerErrorUserNotFound LedgerErrorCode = "ledger_user_not_found"
)

// LedgerError wraps ledger-specific failures with machine readable codes.
type LedgerError struct {
	Op      string
	Code    LedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(op string, code LedgerErrorCode, err error) *LedgerError {
	return &LedgerError{Op: op, Code: code, Message: string(code), Err: err}
}

// IsLedgerError reports whether err carries the given ledger code.
func IsLedgerError(err error, code LedgerErrorCode) bool {
	var lerr *LedgerError
	return errors.As(err, &lerr) && lerr.Code == code
}
