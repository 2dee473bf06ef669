package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/homebitez/api"

// CheckoutMetrics records settlement outcomes. The zero value is a no-op.
type CheckoutMetrics struct {
	settlements metric.Int64Counter
	refunds     metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout counters on the global meter provider.
func NewCheckoutMetrics() (*CheckoutMetrics, error) {
	meter := otel.Meter(meterName)
	settlements, err := meter.Int64Counter("homebitez.checkout.settlements",
		metric.WithDescription("Payment settlements by method and outcome"))
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("homebitez.refunds.decisions",
		metric.WithDescription("Refund decisions by method and outcome"))
	if err != nil {
		return nil, err
	}
	return &CheckoutMetrics{settlements: settlements, refunds: refunds}, nil
}

// RecordSettlement counts one settlement attempt.
func (m *CheckoutMetrics) RecordSettlement(ctx context.Context, method, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// RecordRefund counts one refund decision.
func (m *CheckoutMetrics) RecordRefund(ctx context.Context, method, outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}
