package payments

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	domain "github.com/homebitez/api/internal/domain"
)

var (
	// ErrInvalidAmount is wrapped in a ProviderError when the amount is not a positive finite value.
	ErrInvalidAmount = errors.New("payments: amount must be positive")
	// ErrMissingReference is wrapped in a ProviderError when no provider reference was supplied.
	ErrMissingReference = errors.New("payments: provider reference is required")
	// ErrNotCompleted is wrapped in a ProviderError when a capture returns anything but COMPLETED.
	ErrNotCompleted = errors.New("payments: payment not completed")
	// ErrInsufficientFunds is returned by the wallet provider when the balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("payments: insufficient wallet balance")
)

// ProviderError reports that a payment provider rejected or failed a request.
// It is never retried automatically; the customer has to start over.
type ProviderError struct {
	Method     domain.PaymentMethod
	Op         string
	StatusCode int
	Code       string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("payments: ")
	b.WriteString(string(e.Method))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigurationError reports missing credentials or endpoints for a provider.
// Adapters return it from their constructors so the process fails fast at startup.
type ConfigurationError struct {
	Method  domain.PaymentMethod
	Missing []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payments: %s is not configured (missing %s)", e.Method, strings.Join(e.Missing, ", "))
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr)
}

func requireConfig(method domain.PaymentMethod, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return &ConfigurationError{Method: method, Missing: missing}
}
