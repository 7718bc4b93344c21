package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
)

// Wallet / ledger
var (
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInsufficientFunds       = errors.New("insufficient funds for this operation")
	ErrBalanceCapExceeded      = errors.New("maximum balance exceeded")
	ErrSelfTransfer            = errors.New("cannot transfer to your own wallet")
	ErrWalletInactiveOrBlocked = errors.New("wallet inactive or blocked")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrUserNotFound            = errors.New("user not found")
)

// LimitError aggregates every limit a requested operation would violate.
type LimitError struct {
	Violations []string
}

func (e *LimitError) Error() string {
	msg := "limit exceeded"
	for i, v := range e.Violations {
		if i == 0 {
			msg += ": " + v
		} else {
			msg += ", " + v
		}
	}
	return msg
}

// IsLimitExceeded reports whether err is a LimitError.
func IsLimitExceeded(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// Payment gateway
var (
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	ErrInvalidWebhook     = errors.New("invalid webhook payload")
	ErrPaymentNotFound    = errors.New("payment not found")
)

// Settlement
var (
	// ErrNothingToSettle marks a webhook replay or out-of-order delivery.
	// Treated as a success no-op by callers, never surfaced.
	ErrNothingToSettle = errors.New("no pending transaction to settle")
)
