package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
)

// Logger is the logging hook shared by provider adapters.
type Logger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider settles card payments through Stripe PaymentIntents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  Logger
}

var _ Refunder = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, &ConfigurationError{Method: domain.PaymentMethodStripe, Missing: []string{"API_STRIPE_SECRET_KEY"}}
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Method implements Provider.
func (p *StripeProvider) Method() domain.PaymentMethod { return domain.PaymentMethodStripe }

// Create opens a PaymentIntent with automatic payment methods for the amount in cents.
func (p *StripeProvider) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if p == nil {
		return CreateResult{}, errors.New("stripe: provider is nil")
	}
	cents := money.Cents(req.Amount)
	if cents <= 0 {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodStripe, Op: "create", Err: ErrInvalidAmount}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(strings.ToLower(defaultString(req.Currency, DefaultCurrency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["order_id"] = req.OrderID
	}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return CreateResult{}, stripeProviderError("create", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amountCents":   cents,
	})

	return CreateResult{
		Method:       domain.PaymentMethodStripe,
		Reference:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       stripeStatus(intent.Status),
	}, nil
}

// Confirm retrieves the PaymentIntent; the client completes card confirmation itself.
func (p *StripeProvider) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	if p == nil {
		return Confirmation{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(strings.TrimSpace(req.Reference), params)
	if err != nil {
		return Confirmation{}, stripeProviderError("confirm", err)
	}

	status := stripeStatus(intent.Status)
	confirmation := Confirmation{
		Method:            domain.PaymentMethodStripe,
		Status:            status,
		ProviderReference: intent.ID,
		TransactionID:     intent.ID,
		SettledAmount:     money.FromCents(intent.AmountReceived),
		OrderID:           intent.Metadata["order_id"],
	}
	if intent.LatestCharge != nil {
		if intent.LatestCharge.BillingDetails != nil {
			confirmation.PayerEmail = intent.LatestCharge.BillingDetails.Email
		}
		if intent.LatestCharge.ID != "" {
			confirmation.TransactionID = intent.LatestCharge.ID
		}
	}
	if confirmation.PayerEmail == "" {
		confirmation.PayerEmail = intent.ReceiptEmail
	}

	p.logger(ctx, "payments.stripe.intent.checked", map[string]any{
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
	})
	return confirmation, nil
}

// Refund creates a refund against the PaymentIntent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	cents := money.Cents(req.Amount)
	if cents <= 0 {
		return RefundResult{}, &ProviderError{Method: domain.PaymentMethodStripe, Op: "refund", Err: ErrInvalidAmount}
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(strings.TrimSpace(req.Reference)),
		Amount:        stripe.Int64(cents),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, stripeProviderError("refund", err)
	}

	status := StatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = StatusFailed
	}
	if status == StatusFailed {
		return RefundResult{}, &ProviderError{Method: domain.PaymentMethodStripe, Op: "refund", Code: string(refund.Status), Err: errors.New("refund was not accepted")}
	}

	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.Reference,
		"refundId":      refund.ID,
		"status":        string(refund.Status),
	})
	return RefundResult{
		Method:   domain.PaymentMethodStripe,
		RefundID: refund.ID,
		Status:   status,
		Amount:   money.FromCents(refund.Amount),
	}, nil
}

func stripeStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func stripeProviderError(op string, err error) error {
	perr := &ProviderError{Method: domain.PaymentMethodStripe, Op: op, Err: err}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		perr.StatusCode = serr.HTTPStatusCode
		perr.Code = string(serr.Code)
	}
	return perr
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case "":
		return ""
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
