// Package gateway talks to the UddoktaPay checkout API and turns its
// responses and webhook notifications into a closed set of outcomes.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// APIKeyHeader carries the merchant API key on requests and webhooks.
const APIKeyHeader = "RT-UDDOKTAPAY-API-KEY"

const defaultTimeout = 30 * time.Second

// Config holds the UddoktaPay endpoints and credentials.
type Config struct {
	APIURL    string
	VerifyURL string
	APIKey    string
	Timeout   time.Duration
}

// VerifyEndpoint returns VerifyURL, or derives it from a checkout-v2 APIURL so
// sandbox and live environments cannot be mixed.
func (c Config) VerifyEndpoint() string {
	if strings.Contains(c.APIURL, "checkout-v2") {
		return strings.Replace(c.APIURL, "checkout-v2", "verify-payment", 1)
	}
	return c.VerifyURL
}

// Metadata is echoed back by the gateway on verify and webhook calls.
type Metadata struct {
	UserID         string `json:"user_id"`
	EventID        string `json:"event_id"`
	RegistrationID string `json:"registration_id,omitempty"`
	TransactionID  string `json:"transaction_id"`
}

// ChargeRequest describes a checkout to open.
type ChargeRequest struct {
	FullName    string
	Email       string
	Amount      decimal.Decimal
	Metadata    Metadata
	RedirectURL string
	CancelURL   string
	WebhookURL  string
}

// Charge is an opened checkout.
type Charge struct {
	PaymentURL string
	InvoiceID  string
}

// Error is a rejection reported by the gateway itself. Message is safe to show to users.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("uddoktapay: %s (status %d)", e.Message, e.StatusCode)
}

// Client calls the UddoktaPay API.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a gateway client. A nil httpClient uses one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: httpClient, logger: logger}
}

type chargeBody struct {
	FullName    string   `json:"full_name"`
	Email       string   `json:"email"`
	Amount      string   `json:"amount"`
	Metadata    Metadata `json:"metadata"`
	RedirectURL string   `json:"redirect_url"`
	ReturnType  string   `json:"return_type"`
	CancelURL   string   `json:"cancel_url"`
	WebhookURL  string   `json:"webhook_url"`
}

type chargeResponse struct {
	Status     bool   `json:"status"`
	Message    string `json:"message"`
	PaymentURL string `json:"payment_url"`
}

// CreateCharge opens a checkout and returns its payment URL and invoice id.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body := chargeBody{
		FullName:    req.FullName,
		Email:       req.Email,
		Amount:      req.Amount.StringFixed(2),
		Metadata:    req.Metadata,
		RedirectURL: req.RedirectURL,
		ReturnType:  "GET",
		CancelURL:   req.CancelURL,
		WebhookURL:  req.WebhookURL,
	}
	status, respBody, err := c.post(ctx, c.cfg.APIURL, body)
	if err != nil {
		return nil, err
	}

	var resp chargeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	if status != http.StatusOK || !resp.Status || resp.PaymentURL == "" {
		msg := resp.Message
		if msg == "" {
			msg = "Payment URL not received"
		}
		return nil, &Error{StatusCode: status, Message: msg}
	}
	c.logger.Info("Gateway charge created", zap.String("transaction_id", req.Metadata.TransactionID))
	return &Charge{PaymentURL: resp.PaymentURL, InvoiceID: InvoiceFromURL(resp.PaymentURL)}, nil
}

// Verify asks the gateway for the authoritative state of an invoice.
func (c *Client) Verify(ctx context.Context, invoiceID string) (*Outcome, error) {
	status, respBody, err := c.post(ctx, c.cfg.VerifyEndpoint(), map[string]string{"invoice_id": invoiceID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &e)
		return nil, &Error{StatusCode: status, Message: e.Message}
	}
	out, err := decode(respBody)
	if err != nil {
		return nil, err
	}
	if out.InvoiceID == "" {
		out.InvoiceID = invoiceID
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(APIKeyHeader, c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read gateway response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// InvoiceFromURL extracts the invoice id, the last path segment of a checkout URL.
func InvoiceFromURL(paymentURL string) string {
	u, err := url.Parse(paymentURL)
	if err != nil || u.Path == "" {
		return ""
	}
	last := path.Base(strings.TrimRight(u.Path, "/"))
	if last == "." || last == "/" {
		return ""
	}
	return last
}

// ErrMalformed is returned for gateway payloads that match no known shape.
var ErrMalformed = errors.New("malformed gateway payload")
