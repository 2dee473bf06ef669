package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/plutov/paypal/v4"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
)

// PayPalSandboxURL is the default REST endpoint used when none is configured.
const PayPalSandboxURL = paypal.APIBaseSandBox

// PayPalProviderConfig configures the PayPal Orders v2 adapter.
type PayPalProviderConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Logger       Logger
}

// PayPalProvider settles payments through PayPal Orders v2 with a capture step.
type PayPalProvider struct {
	client *paypal.Client
	logger Logger

	mu         sync.Mutex
	authorized bool
}

var _ Refunder = (*PayPalProvider)(nil)

// NewPayPalProvider validates credentials and returns a PayPal adapter.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	if err := requireConfig(domain.PaymentMethodPayPal, map[string]string{
		"API_PAYPAL_CLIENT_ID":     cfg.ClientID,
		"API_PAYPAL_CLIENT_SECRET": cfg.ClientSecret,
	}); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(defaultString(cfg.BaseURL, PayPalSandboxURL), "/")
	client, err := paypal.NewClient(strings.TrimSpace(cfg.ClientID), strings.TrimSpace(cfg.ClientSecret), baseURL)
	if err != nil {
		return nil, fmt.Errorf("paypal: new client: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	client.SetHTTPClient(httpClient)
	// captures must echo payer and capture details back
	client.SetReturnRepresentation()

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PayPalProvider{client: client, logger: logger}, nil
}

// Method implements Provider.
func (p *PayPalProvider) Method() domain.PaymentMethod { return domain.PaymentMethodPayPal }

// Create opens a PayPal order with intent CAPTURE. The idempotency key is sent as PayPal-Request-Id.
func (p *PayPalProvider) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodPayPal, Op: "create", Err: ErrInvalidAmount}
	}
	if err := p.authorize(ctx); err != nil {
		return CreateResult{}, err
	}

	unit := paypal.PurchaseUnitRequest{
		ReferenceID: req.OrderID,
		CustomID:    req.OrderID,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: strings.ToUpper(defaultString(req.Currency, DefaultCurrency)),
			Value:    money.Format(amount),
		},
	}
	if name := strings.TrimSpace(req.ShippingName); name != "" {
		unit.Shipping = &paypal.ShippingDetail{Name: &paypal.Name{FullName: name}}
	}

	httpReq, err := p.client.NewRequest(ctx, http.MethodPost, p.client.APIBase+"/v2/checkout/orders", paypal.CreateOrderRequest{
		Intent:        paypal.OrderIntentCapture,
		PurchaseUnits: []paypal.PurchaseUnitRequest{unit},
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("paypal: build create request: %w", err)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("PayPal-Request-Id", key)
	}
	order := &paypal.Order{}
	if err := p.client.SendWithAuth(httpReq, order); err != nil {
		return CreateResult{}, paypalError("create", err)
	}
	if order.ID == "" {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodPayPal, Op: "create", Err: errors.New("response missing order id")}
	}

	approve := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approve = link.Href
			break
		}
	}
	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"paypalOrderId": order.ID,
		"orderId":       req.OrderID,
	})
	return CreateResult{
		Method:     domain.PaymentMethodPayPal,
		Reference:  order.ID,
		ApproveURL: approve,
		Status:     StatusPending,
	}, nil
}

// Confirm captures an approved PayPal order. Only a COMPLETED capture is a success.
func (p *PayPalProvider) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	if err := p.authorize(ctx); err != nil {
		return Confirmation{}, err
	}
	ref := strings.TrimSpace(req.Reference)
	resp, err := p.client.CaptureOrderWithPaypalRequestId(ctx, ref, paypal.CaptureOrderRequest{}, strings.TrimSpace(req.IdempotencyKey))
	if err != nil {
		return Confirmation{}, paypalError("confirm", err)
	}
	if !strings.EqualFold(resp.Status, "COMPLETED") {
		return Confirmation{}, &ProviderError{Method: domain.PaymentMethodPayPal, Op: "confirm", Code: resp.Status, Err: ErrNotCompleted}
	}

	confirmation := Confirmation{
		Method:            domain.PaymentMethodPayPal,
		Status:            StatusSucceeded,
		ProviderReference: defaultString(resp.ID, ref),
	}
	if resp.Payer != nil {
		confirmation.PayerEmail = resp.Payer.EmailAddress
	}
	for _, unit := range resp.PurchaseUnits {
		if confirmation.OrderID == "" {
			confirmation.OrderID = unit.ReferenceID
		}
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if confirmation.TransactionID == "" {
				confirmation.TransactionID = capture.ID
			}
			if confirmation.OrderID == "" {
				confirmation.OrderID = capture.CustomID
			}
			if capture.Amount == nil {
				continue
			}
			if value, err := money.Normalize(capture.Amount.Value); err == nil {
				confirmation.SettledAmount = confirmation.SettledAmount.Add(value)
			}
		}
	}

	p.logger(ctx, "payments.paypal.order.captured", map[string]any{
		"paypalOrderId": confirmation.ProviderReference,
		"captureId":     confirmation.TransactionID,
		"amount":        money.Format(confirmation.SettledAmount),
	})
	return confirmation, nil
}

// Refund refunds a capture. The idempotency key is sent as PayPal-Request-Id.
func (p *PayPalProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return RefundResult{}, &ProviderError{Method: domain.PaymentMethodPayPal, Op: "refund", Err: ErrInvalidAmount}
	}
	if err := p.authorize(ctx); err != nil {
		return RefundResult{}, err
	}
	resp, err := p.client.RefundCaptureWithPaypalRequestId(ctx, strings.TrimSpace(req.Reference), paypal.RefundCaptureRequest{
		Amount: &paypal.Money{
			Currency: strings.ToUpper(defaultString(req.Currency, DefaultCurrency)),
			Value:    money.Format(amount),
		},
		NoteToPayer: truncate(req.Reason, 255),
	}, strings.TrimSpace(req.IdempotencyKey))
	if err != nil {
		return RefundResult{}, paypalError("refund", err)
	}
	status := StatusPending
	switch strings.ToUpper(resp.Status) {
	case "COMPLETED":
		status = StatusSucceeded
	case "FAILED", "CANCELLED":
		return RefundResult{}, &ProviderError{Method: domain.PaymentMethodPayPal, Op: "refund", Code: resp.Status, Err: errors.New("refund was not accepted")}
	}
	p.logger(ctx, "payments.paypal.refund.created", map[string]any{
		"captureId": req.Reference,
		"refundId":  resp.ID,
		"status":    resp.Status,
	})
	return RefundResult{Method: domain.PaymentMethodPayPal, RefundID: resp.ID, Status: status, Amount: amount}, nil
}

// authorize fetches the first access token; the client refreshes it before expiry afterwards.
func (p *PayPalProvider) authorize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.authorized {
		return nil
	}
	if _, err := p.client.GetAccessToken(ctx); err != nil {
		return paypalError("token", err)
	}
	p.authorized = true
	return nil
}

func paypalError(op string, err error) error {
	perr := &ProviderError{Method: domain.PaymentMethodPayPal, Op: op, Err: err}
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) {
		perr.Code = apiErr.Name
		if apiErr.Response != nil {
			perr.StatusCode = apiErr.Response.StatusCode
		}
		if msg := strings.TrimSpace(apiErr.Message); msg != "" {
			perr.Err = errors.New(truncate(msg, 512))
		}
	}
	return perr
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
