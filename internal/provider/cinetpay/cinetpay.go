package cinetpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/provider"
	"wallet-service/internal/xerrors"

	"github.com/shopspring/decimal"
)

const ProviderName = "CINETPAY"

type Config struct {
	BaseURL   string
	APIKey    string
	SiteID    string
	SecretKey string
}

type CinetPayProvider struct {
	config     Config
	httpClient *http.Client
}

func New(cfg Config) *CinetPayProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-checkout.cinetpay.com"
	}
	return &CinetPayProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *CinetPayProvider) Name() string { return ProviderName }

type initPaymentRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	NotifyURL     string `json:"notify_url"`
	ReturnURL     string `json:"return_url"`
	Channels      string `json:"channels"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone_number,omitempty"`
}

type initPaymentResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		PaymentURL   string `json:"payment_url"`
		PaymentToken string `json:"payment_token"`
	} `json:"data"`
}

// Open creates a checkout session. CinetPay echoes back the transaction_id
// we send here in the webhook's cpm_trans_id, so it doubles as the gateway
// correlation id.
func (c *CinetPayProvider) Open(ctx context.Context, req *provider.OpenRequest) (*provider.OpenResponse, error) {
	channels := req.PaymentMethod
	if channels == "" {
		channels = "ALL"
	}
	body := initPaymentRequest{
		APIKey:        c.config.APIKey,
		SiteID:        c.config.SiteID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount.String(),
		Currency:      req.Currency,
		Description:   req.Description,
		NotifyURL:     req.NotifyURL,
		ReturnURL:     req.ReturnURL,
		Channels:      channels,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	}

	var resp initPaymentResponse
	raw, err := c.post(ctx, "/v2/payment", body, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Code != "201" {
		return nil, fmt.Errorf("%w: code=%s message=%s", xerrors.ErrGatewayRejected, resp.Code, resp.Message)
	}
	return &provider.OpenResponse{
		GatewayTransactionID: req.TransactionID,
		PaymentURL:           resp.Data.PaymentURL,
		RawResponse:          raw,
	}, nil
}

type checkStatusResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status   string `json:"status"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// CheckStatus polls the aggregator. Code 00 means paid, 01 means refused;
// anything else is still in flight.
func (c *CinetPayProvider) CheckStatus(ctx context.Context, gatewayTransactionID string) (*domain.SettlementOutcome, error) {
	body := map[string]string{
		"apikey":         c.config.APIKey,
		"site_id":        c.config.SiteID,
		"transaction_id": gatewayTransactionID,
	}
	var resp checkStatusResponse
	raw, err := c.post(ctx, "/v2/payment/check", body, &resp)
	if err != nil {
		return nil, err
	}

	outcome := &domain.SettlementOutcome{
		GatewayTransactionID: gatewayTransactionID,
		Status:               domain.PaymentStatusPending,
		Currency:             resp.Data.Currency,
		Reason:               resp.Message,
		Raw:                  raw,
	}
	if amount, err := decimal.NewFromString(resp.Data.Amount); err == nil {
		outcome.Amount = amount
	}
	switch resp.Code {
	case "00":
		outcome.Status = domain.PaymentStatusCompleted
	case "01":
		outcome.Status = domain.PaymentStatusFailed
	}
	return outcome, nil
}

// VerifyWebhook checks the x-token HMAC-SHA256 signature over the raw body.
func (c *CinetPayProvider) VerifyWebhook(payload []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", xerrors.ErrInvalidWebhook)
	}
	mac := hmac.New(sha256.New, []byte(c.config.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: signature mismatch", xerrors.ErrInvalidWebhook)
	}
	return nil
}

type webhookPayload struct {
	TransactionID string `json:"cpm_trans_id"`
	SiteID        string `json:"cpm_site_id"`
	Amount        string `json:"cpm_amount"`
	Currency      string `json:"cpm_currency"`
	Status        string `json:"cpm_trans_status"`
	ErrorMessage  string `json:"cpm_error_message"`
}

// ParseWebhook maps a verified callback onto a settlement outcome.
// ACCEPTED settles the payment; REFUSED and CANCELLED fail it.
func (c *CinetPayProvider) ParseWebhook(payload []byte) (*domain.SettlementOutcome, error) {
	var hook webhookPayload
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidWebhook, err)
	}
	if hook.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing cpm_trans_id", xerrors.ErrInvalidWebhook)
	}

	var raw map[string]any
	_ = json.Unmarshal(payload, &raw)

	outcome := &domain.SettlementOutcome{
		GatewayTransactionID: hook.TransactionID,
		Currency:             hook.Currency,
		Reason:               hook.ErrorMessage,
		Raw:                  raw,
	}
	if amount, err := decimal.NewFromString(hook.Amount); err == nil {
		outcome.Amount = amount
	}
	switch hook.Status {
	case "ACCEPTED":
		outcome.Status = domain.PaymentStatusCompleted
	case "REFUSED":
		outcome.Status = domain.PaymentStatusFailed
	case "CANCELLED":
		outcome.Status = domain.PaymentStatusCancelled
	default:
		return nil, fmt.Errorf("%w: unknown status %q", xerrors.ErrInvalidWebhook, hook.Status)
	}
	return outcome, nil
}

func (c *CinetPayProvider) post(ctx context.Context, path string, body any, out any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrGatewayUnreachable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to parse gateway response: %w", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	return raw, nil
}
