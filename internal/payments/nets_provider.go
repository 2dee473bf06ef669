package payments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/homebitez/api/internal/domain"
	"github.com/homebitez/api/internal/platform/money"
)

const (
	// NETSSandboxURL is the default NETS QR endpoint used when none is configured.
	NETSSandboxURL = "https://sandbox.nets.openapipaas.com"

	netsRequestPath = "/api/v1/common/payments/nets-qr/request"
	netsQueryPath   = "/api/v1/common/payments/nets-qr/query"
	netsMaxBody     = 1 << 20

	netsResponseOK   = "00"
	netsTxnSucceeded = 1
	netsTxnFailed    = 2
)

// NETSProviderConfig configures the NETS QR adapter.
type NETSProviderConfig struct {
	BaseURL    string
	APIKey     string
	ProjectID  string
	SecretKey  string
	HTTPClient *http.Client
	Logger     Logger
	NewTxnID   func() string
}

// NETSProvider requests dynamic NETS QR codes and checks their status.
// The customer pays in a banking app, so confirmation is by polling.
type NETSProvider struct {
	baseURL    string
	apiKey     string
	projectID  string
	secretKey  string
	httpClient *http.Client
	logger     Logger
	newTxnID   func() string
}

// NewNETSProvider validates credentials and returns a NETS adapter.
func NewNETSProvider(cfg NETSProviderConfig) (*NETSProvider, error) {
	if err := requireConfig(domain.PaymentMethodNETS, map[string]string{
		"API_NETS_API_KEY":    cfg.APIKey,
		"API_NETS_PROJECT_ID": cfg.ProjectID,
	}); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newTxnID := cfg.NewTxnID
	if newTxnID == nil {
		newTxnID = func() string { return uuid.NewString() }
	}
	return &NETSProvider{
		baseURL:    strings.TrimRight(defaultString(cfg.BaseURL, NETSSandboxURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		projectID:  strings.TrimSpace(cfg.ProjectID),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		httpClient: httpClient,
		logger:     logger,
		newTxnID:   newTxnID,
	}, nil
}

// Method implements Provider.
func (p *NETSProvider) Method() domain.PaymentMethod { return domain.PaymentMethodNETS }

type netsQRRequest struct {
	TxnID        string `json:"txn_id"`
	AmtInDollars string `json:"amt_in_dollars"`
	NotifyMobile int    `json:"notify_mobile"`
}

type netsQueryRequest struct {
	TxnRetrievalRef       string `json:"txn_retrieval_ref"`
	FrontendTimeoutStatus int    `json:"frontend_timeout_status"`
}

type netsEnvelope struct {
	Result struct {
		Data netsData `json:"data"`
	} `json:"result"`
}

type netsData struct {
	ResponseCode    string `json:"response_code"`
	TxnStatus       int    `json:"txn_status"`
	QRCode          string `json:"qr_code"`
	TxnRetrievalRef string `json:"txn_retrieval_ref"`
	TxnIdentifier   string `json:"txn_identifier"`
	Amount          string `json:"amount"`
}

// Create requests a QR code for the amount in dollars. The QR is returned base64 encoded.
func (p *NETSProvider) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return CreateResult{}, &ProviderError{Method: domain.PaymentMethodNETS, Op: "create", Err: ErrInvalidAmount}
	}
	txnID := p.newTxnID()
	var resp netsEnvelope
	if err := p.post(ctx, "create", netsRequestPath, netsQRRequest{
		TxnID:        txnID,
		AmtInDollars: money.Format(amount),
	}, &resp); err != nil {
		return CreateResult{}, err
	}
	data := resp.Result.Data
	if data.ResponseCode != netsResponseOK || data.TxnStatus != netsTxnSucceeded || data.QRCode == "" {
		return CreateResult{}, &ProviderError{
			Method: domain.PaymentMethodNETS,
			Op:     "create",
			Code:   data.ResponseCode,
			Err:    fmt.Errorf("qr request rejected (txn_status %d)", data.TxnStatus),
		}
	}
	p.logger(ctx, "payments.nets.qr.created", map[string]any{
		"txnId":           txnID,
		"txnRetrievalRef": data.TxnRetrievalRef,
		"orderId":         req.OrderID,
	})
	return CreateResult{
		Method:    domain.PaymentMethodNETS,
		Reference: data.TxnRetrievalRef,
		QRCode:    data.QRCode,
		Status:    StatusPending,
	}, nil
}

// Confirm checks the status of a QR transaction. A pending result is not an error.
func (p *NETSProvider) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	ref := strings.TrimSpace(req.Reference)
	var resp netsEnvelope
	if err := p.post(ctx, "confirm", netsQueryPath, netsQueryRequest{TxnRetrievalRef: ref}, &resp); err != nil {
		return Confirmation{}, err
	}
	data := resp.Result.Data
	confirmation := Confirmation{
		Method:            domain.PaymentMethodNETS,
		Status:            netsStatus(data),
		ProviderReference: ref,
		TransactionID:     ref,
	}
	if confirmation.Status == StatusSucceeded {
		if value, err := money.Normalize(data.Amount); err == nil {
			confirmation.SettledAmount = value
		} else {
			confirmation.SettledAmount = money.Round2(req.Amount)
		}
	}
	return confirmation, nil
}

// netsStatus maps SUCCESS, FAIL and PENDING outcomes of a status query.
func netsStatus(data netsData) Status {
	switch {
	case data.ResponseCode == netsResponseOK && data.TxnStatus == netsTxnSucceeded:
		return StatusSucceeded
	case data.TxnStatus == netsTxnFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Sign returns the hex SHA-256 digest of payload followed by secret.
func Sign(payload []byte, secret string) string {
	sum := sha256.Sum256(append(append([]byte{}, payload...), secret...))
	return hex.EncodeToString(sum[:])
}

func (p *NETSProvider) post(ctx context.Context, op, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("nets: marshal %s request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("nets: build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)
	httpReq.Header.Set("project-id", p.projectID)
	if p.secretKey != "" {
		httpReq.Header.Set("Sign", Sign(payload, p.secretKey))
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return &ProviderError{Method: domain.PaymentMethodNETS, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, netsMaxBody))
	if err != nil {
		return &ProviderError{Method: domain.PaymentMethodNETS, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{
			Method:     domain.PaymentMethodNETS,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(string(raw), 512)),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Method: domain.PaymentMethodNETS, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
