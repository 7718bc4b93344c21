package wallet

import (
	"fmt"

	"wallet-service/internal/domain"
	"wallet-service/internal/xerrors"

	"github.com/shopspring/decimal"
)

// Operation selects which side of the ledger an amount check applies to.
type Operation string

const (
	OpCredit Operation = "credit"
	OpDebit  Operation = "debit"
)

// ValidateAmount is the advisory amount gate. It never mutates state; the
// same checks are re-applied under the row lock inside the repository.
func ValidateAmount(amount, balance decimal.Decimal, op Operation) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return xerrors.ErrInvalidAmount
	}
	if op == OpDebit && amount.GreaterThan(balance) {
		return xerrors.ErrInsufficientFunds
	}
	return nil
}

// ValidateBalanceCap checks a credit against the wallet's optional balance
// cap. Kept apart from ValidateLimits so cap violations surface as
// ErrBalanceCapExceeded, the same error the repository returns under the
// row lock.
func ValidateBalanceCap(amount, currentBalance decimal.Decimal, maxBalance *decimal.Decimal) error {
	if maxBalance != nil && currentBalance.Add(amount).GreaterThan(*maxBalance) {
		return xerrors.ErrBalanceCapExceeded
	}
	return nil
}

// ValidateLimits checks an operation against the wallet's optional
// daily/monthly/max-balance constraints. Every violated limit is named in
// the returned error, not just the first one. Unset limits are skipped.
func ValidateLimits(amount, currentBalance, dailySpent, monthlySpent decimal.Decimal, limits domain.WalletLimits) error {
	var violations []string

	if limits.DailyLimit != nil && dailySpent.Add(amount).GreaterThan(*limits.DailyLimit) {
		violations = append(violations, fmt.Sprintf("daily limit exceeded (%s)", limits.DailyLimit.String()))
	}
	if limits.MonthlyLimit != nil && monthlySpent.Add(amount).GreaterThan(*limits.MonthlyLimit) {
		violations = append(violations, fmt.Sprintf("monthly limit exceeded (%s)", limits.MonthlyLimit.String()))
	}
	if limits.MaxBalance != nil && currentBalance.Add(amount).GreaterThan(*limits.MaxBalance) {
		violations = append(violations, fmt.Sprintf("maximum balance exceeded (%s)", limits.MaxBalance.String()))
	}

	if len(violations) > 0 {
		return &xerrors.LimitError{Violations: violations}
	}
	return nil
}
