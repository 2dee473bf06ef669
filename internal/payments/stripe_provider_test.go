package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

type fakeRefunds struct {
	params *stripe.RefundParams
	refund *stripe.Refund
	err    error
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return f.refund, f.err
}

func newTestStripe(t *testing.T, intents *fakeIntents, refunds *fakeRefunds) *StripeProvider {
	t.Helper()
	p, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeClients{intents: intents, refunds: refunds}})
	require.NoError(t, err)
	return p
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(StripeProviderConfig{})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Missing, "API_STRIPE_SECRET_KEY")
}

func TestStripeCreateSendsCentsAndMetadata(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}}
	p := newTestStripe(t, intents, &fakeRefunds{})

	result, err := p.Create(context.Background(), CreateRequest{
		Amount:         decimal.RequireFromString("27.35"),
		Currency:       "SGD",
		OrderID:        "ord_1",
		IdempotencyKey: "ord_1:create",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", result.Reference)
	assert.Equal(t, "pi_123_secret", result.ClientSecret)
	assert.Equal(t, StatusPending, result.Status)

	require.NotNil(t, intents.created)
	assert.Equal(t, int64(2735), *intents.created.Amount)
	assert.Equal(t, "sgd", *intents.created.Currency)
	assert.Equal(t, "ord_1", intents.created.Metadata["order_id"])
	assert.True(t, *intents.created.AutomaticPaymentMethods.Enabled)
}

func TestStripeConfirmMapsStatus(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]Status{
		stripe.PaymentIntentStatusSucceeded:             StatusSucceeded,
		stripe.PaymentIntentStatusProcessing:            StatusPending,
		stripe.PaymentIntentStatusRequiresPaymentMethod: StatusPending,
		stripe.PaymentIntentStatusCanceled:              StatusFailed,
	}
	for intentStatus, want := range cases {
		intents := &fakeIntents{intent: &stripe.PaymentIntent{
			ID:             "pi_1",
			Status:         intentStatus,
			AmountReceived: 1050,
			Metadata:       map[string]string{"order_id": "ord_9"},
			LatestCharge:   &stripe.Charge{ID: "ch_1", BillingDetails: &stripe.ChargeBillingDetails{Email: "a@example.com"}},
		}}
		p := newTestStripe(t, intents, &fakeRefunds{})

		got, err := p.Confirm(context.Background(), ConfirmRequest{Reference: "pi_1"})
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "intent status %s", intentStatus)
		assert.Equal(t, "ch_1", got.TransactionID)
		assert.Equal(t, "ord_9", got.OrderID)
		assert.Equal(t, "a@example.com", got.PayerEmail)
		assert.True(t, got.SettledAmount.Equal(decimal.RequireFromString("10.50")))
	}
}

func TestStripeErrorsBecomeProviderErrors(t *testing.T) {
	intents := &fakeIntents{err: &stripe.Error{HTTPStatusCode: 402, Code: stripe.ErrorCodeCardDeclined, Msg: "declined"}}
	p := newTestStripe(t, intents, &fakeRefunds{})

	_, err := p.Create(context.Background(), CreateRequest{Amount: decimal.NewFromInt(5)})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 402, perr.StatusCode)
	assert.Equal(t, string(stripe.ErrorCodeCardDeclined), perr.Code)
}

func TestStripeRefundUsesIdempotencyKey(t *testing.T) {
	refunds := &fakeRefunds{refund: &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded, Amount: 500}}
	p := newTestStripe(t, &fakeIntents{}, refunds)

	result, err := p.Refund(context.Background(), RefundRequest{
		Reference:      "pi_1",
		Amount:         decimal.NewFromInt(5),
		Reason:         "cold food",
		IdempotencyKey: "refund:rfd_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", result.RefundID)
	assert.Equal(t, StatusSucceeded, result.Status)
	require.NotNil(t, refunds.params)
	assert.Equal(t, "pi_1", *refunds.params.PaymentIntent)
	assert.Equal(t, int64(500), *refunds.params.Amount)
	assert.Equal(t, "refund:rfd_1", *refunds.params.IdempotencyKey)
	assert.Equal(t, string(stripe.RefundReasonRequestedByCustomer), *refunds.params.Reason)
}
