package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Status is the closed set of payment states the gateway can report.
type Status int

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Outcome is a parsed verify response or webhook notification. Amount,
// PaymentMethod, SenderNumber and GatewayTransactionID are only guaranteed
// when Status is StatusCompleted.
type Outcome struct {
	Status               Status
	InvoiceID            string
	Amount               decimal.Decimal
	Metadata             Metadata
	PaymentMethod        string
	SenderNumber         string
	GatewayTransactionID string
	Raw                  json.RawMessage
}

type payload struct {
	Status        *string   `json:"status"`
	InvoiceID     string    `json:"invoice_id"`
	Amount        flexible  `json:"amount"`
	Metadata      *Metadata `json:"metadata"`
	PaymentMethod string    `json:"payment_method"`
	SenderNumber  string    `json:"sender_number"`
	TransactionID string    `json:"transaction_id"`
}

// flexible accepts a JSON string or number.
type flexible string

func (f *flexible) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexible(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexible(n.String())
	return nil
}

func decode(body []byte) (*Outcome, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrMalformed)
	}

	out := &Outcome{InvoiceID: p.InvoiceID, Raw: json.RawMessage(body)}
	if p.Metadata != nil {
		out.Metadata = *p.Metadata
	}
	switch strings.ToUpper(*p.Status) {
	case "PENDING":
		out.Status = StatusPending
	case "ERROR", "FAILED", "CANCELLED":
		out.Status = StatusFailed
	case "COMPLETED":
		out.Status = StatusCompleted
		amount, err := decimal.NewFromString(string(p.Amount))
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", ErrMalformed, p.Amount)
		}
		out.Amount = amount
		out.PaymentMethod = p.PaymentMethod
		out.SenderNumber = p.SenderNumber
		out.GatewayTransactionID = p.TransactionID
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformed, *p.Status)
	}
	return out, nil
}

// ParseNotification parses an untrusted webhook body. Anything without a known
// status or without metadata.transaction_id is rejected.
func ParseNotification(body []byte) (*Outcome, error) {
	out, err := decode(body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Metadata.TransactionID) == "" {
		return nil, fmt.Errorf("%w: missing metadata.transaction_id", ErrMalformed)
	}
	return out, nil
}
