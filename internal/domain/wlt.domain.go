package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxTypeCredit TransactionType = "CREDIT"
	TxTypeDebit  TransactionType = "DEBIT"
)

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "PENDING"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusFailed    TransactionStatus = "FAILED"
)

// Transaction categories. Free-form tag, these are the ones the engine writes.
const (
	CategoryCredit            = "CREDIT"
	CategoryDebit             = "DEBIT"
	CategoryRecharge          = "RECHARGE"
	CategoryRechargeConfirmed = "RECHARGE_CONFIRMED"
	CategoryTransferIn        = "TRANSFER_IN"
	CategoryTransferOut       = "TRANSFER_OUT"
)

// Source types correlating a transaction to an external record.
const (
	SourceTypePayment             = "PAYMENT"
	SourceTypePaymentConfirmation = "PAYMENT_CONFIRMATION"
	SourceTypeTransfer            = "TRANSFER"
)

// Wallet is one per (user, currency), auto-provisioned on first access.
// Balance is mutated only through a WalletTransaction written in the same
// database transaction.
type Wallet struct {
	ID                int64            `json:"id"`
	UserID            int64            `json:"userId"`
	Balance           decimal.Decimal  `json:"balance"`
	Currency          string           `json:"currency"`
	IsActive          bool             `json:"isActive"`
	IsBlocked         bool             `json:"isBlocked"`
	BlockedReason     *string          `json:"blockedReason,omitempty"`
	DailyLimit        *decimal.Decimal `json:"dailyLimit,omitempty"`
	MonthlyLimit      *decimal.Decimal `json:"monthlyLimit,omitempty"`
	MaxBalance        *decimal.Decimal `json:"maxBalance,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	LastTransactionAt *time.Time       `json:"lastTransactionAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`

	User *UserRef `json:"user,omitempty"`
}

// UserRef is the slice of the user directory the wallet side needs.
type UserRef struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// WalletTransaction is an immutable ledger entry. Status moves
// PENDING→COMPLETED or PENDING→FAILED exactly once, never back.
type WalletTransaction struct {
	ID            int64             `json:"id"`
	TransactionID string            `json:"transactionId"`
	ReferenceID   *string           `json:"referenceId,omitempty"`
	WalletID      int64             `json:"walletId"`
	UserID        int64             `json:"userId"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	BalanceBefore decimal.Decimal   `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal   `json:"balanceAfter"`
	Status        TransactionStatus `json:"status"`
	Description   string            `json:"description"`
	Category      string            `json:"category"`
	SourceType    *string           `json:"sourceType,omitempty"`
	SourceID      *string           `json:"sourceId,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	FailureReason *string           `json:"failureReason,omitempty"`
	ProcessedAt   *time.Time        `json:"processedAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// WalletLimits are the optional constraints the limit policy enforces.
// A nil limit is not enforced.
type WalletLimits struct {
	DailyLimit   *decimal.Decimal
	MonthlyLimit *decimal.Decimal
	MaxBalance   *decimal.Decimal
}

func (w *Wallet) Limits() WalletLimits {
	return WalletLimits{
		DailyLimit:   w.DailyLimit,
		MonthlyLimit: w.MonthlyLimit,
		MaxBalance:   w.MaxBalance,
	}
}

// BalanceEntryParams describes a single ledger mutation (credit or debit)
// executed atomically with the wallet balance update.
type BalanceEntryParams struct {
	Amount      decimal.Decimal
	Description string
	Category    string
	ReferenceID *string
	SourceType  *string
	SourceID    *string
	Metadata    map[string]any
}

// TransferRequest moves money between two users' wallets in one atomic unit.
type TransferRequest struct {
	SenderUserID    int64
	RecipientUserID int64
	Amount          decimal.Decimal
	Currency        string
	Description     string
}

type TransferResult struct {
	SenderTransaction   *WalletTransaction `json:"senderTransaction"`
	ReceiverTransaction *WalletTransaction `json:"receiverTransaction"`
}

// RechargeRequest initiates an external payment that, once confirmed,
// credits the wallet.
type RechargeRequest struct {
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Provider      string
	Description   string
	ReturnURL     string
}

type RechargeResult struct {
	Transaction *WalletTransaction `json:"transaction"`
	PaymentURL  string             `json:"paymentUrl,omitempty"`
	PaymentID   string             `json:"paymentId,omitempty"`
}

// UpdateWalletSettings carries the mutable wallet settings. Nil means
// leave unchanged.
type UpdateWalletSettings struct {
	DailyLimit   *decimal.Decimal `json:"dailyLimit,omitempty"`
	MonthlyLimit *decimal.Decimal `json:"monthlyLimit,omitempty"`
	MaxBalance   *decimal.Decimal `json:"maxBalance,omitempty"`
	IsActive     *bool            `json:"isActive,omitempty"`
}

// TransactionQuery filters/sorts/paginates a wallet's ledger.
type TransactionQuery struct {
	Type       *TransactionType
	Status     *TransactionStatus
	Category   string // substring match, case-insensitive
	SourceType string
	StartDate  *time.Time
	EndDate    *time.Time
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
	SortBy     string // created_at | amount | processed_at
	SortOrder  string // asc | desc
	Limit      int
	Offset     int
}

type TransactionPage struct {
	Transactions []*WalletTransaction `json:"transactions"`
	Total        int64                `json:"total"`
	Pagination   Pagination           `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// CategoryStat is one slice of the per-category breakdown.
type CategoryStat struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int64           `json:"count"`
}

type MonthlyStats struct {
	TotalCredits     decimal.Decimal `json:"totalCredits"`
	TotalDebits      decimal.Decimal `json:"totalDebits"`
	TransactionCount int64           `json:"transactionCount"`
}

type WalletStats struct {
	TotalBalance        decimal.Decimal         `json:"totalBalance"`
	Currency            string                  `json:"currency"`
	TotalTransactions   int64                   `json:"totalTransactions"`
	TotalCredits        decimal.Decimal         `json:"totalCredits"`
	TotalDebits         decimal.Decimal         `json:"totalDebits"`
	PendingTransactions int64                   `json:"pendingTransactions"`
	LastTransactionDate *time.Time              `json:"lastTransactionDate,omitempty"`
	MonthlyStats        MonthlyStats            `json:"monthlyStats"`
	CategoryBreakdown   map[string]CategoryStat `json:"categoryBreakdown"`
}
