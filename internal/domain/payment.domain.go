package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// Payment metadata keys understood by the settlement coordinator.
const (
	PaymentMetaType           = "type"
	PaymentTypeWalletRecharge = "WALLET_RECHARGE"
	PaymentTypeBookingPayment = "BOOKING_PAYMENT"
	PaymentMetaBookingID      = "bookingId"
)

// Payment is the local record of one external aggregator session. The
// wallet ledger references it by TransactionID through sourceId; the
// aggregator references it by GatewayTransactionID.
type Payment struct {
	ID                   int64           `json:"id"`
	TransactionID        string          `json:"transactionId"`
	GatewayTransactionID *string         `json:"gatewayTransactionId,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	Status               PaymentStatus   `json:"status"`
	PaymentMethod        string          `json:"paymentMethod"`
	Provider             string          `json:"provider,omitempty"`
	UserID               int64           `json:"userId"`
	CustomerName         string          `json:"customerName"`
	CustomerEmail        *string         `json:"customerEmail,omitempty"`
	CustomerPhone        *string         `json:"customerPhone,omitempty"`
	ReturnURL            *string         `json:"returnUrl,omitempty"`
	PaymentURL           *string         `json:"paymentUrl,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
	FailureReason        *string         `json:"failureReason,omitempty"`
	PaidAt               *time.Time      `json:"paidAt,omitempty"`
	FailedAt             *time.Time      `json:"failedAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// PaymentWebhook is the audit record of one inbound aggregator callback.
type PaymentWebhook struct {
	ID          int64          `json:"id"`
	EventType   string         `json:"eventType"`
	RawPayload  map[string]any `json:"rawPayload"`
	Signature   *string        `json:"signature,omitempty"`
	IPAddress   *string        `json:"ipAddress,omitempty"`
	UserAgent   *string        `json:"userAgent,omitempty"`
	Processed   bool           `json:"processed"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// SettlementOutcome is the verified terminal state reported by the
// aggregator for one payment, via webhook or status poll.
type SettlementOutcome struct {
	GatewayTransactionID string
	Status               PaymentStatus
	Amount               decimal.Decimal
	Currency             string
	Reason               string
	Raw                  map[string]any
}
