package wallet

import (
	"errors"
	"strings"
	"testing"

	"wallet-service/internal/domain"
	"wallet-service/internal/xerrors"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		balance string
		op      Operation
		wantErr error
	}{
		{"zero amount", "0", "1000", OpCredit, xerrors.ErrInvalidAmount},
		{"negative amount", "-50", "1000", OpDebit, xerrors.ErrInvalidAmount},
		{"debit over balance", "1500", "1000", OpDebit, xerrors.ErrInsufficientFunds},
		{"debit equals balance", "1000", "1000", OpDebit, nil},
		{"credit ignores balance", "1500", "0", OpCredit, nil},
		{"valid debit", "500", "1000", OpDebit, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(dec(tt.amount), dec(tt.balance), tt.op)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateAmount() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBalanceCap(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		balance    string
		maxBalance *decimal.Decimal
		wantErr    error
	}{
		{"no cap set", "999999", "0", nil, nil},
		{"under the cap", "400", "500", decPtr("1000"), nil},
		{"exactly at the cap", "500", "500", decPtr("1000"), nil},
		{"over the cap", "600", "500", decPtr("1000"), xerrors.ErrBalanceCapExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBalanceCap(dec(tt.amount), dec(tt.balance), tt.maxBalance)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateBalanceCap() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLimits_Unset(t *testing.T) {
	err := ValidateLimits(dec("999999999"), dec("0"), dec("0"), dec("0"), domain.WalletLimits{})
	if err != nil {
		t.Fatalf("unset limits must not be enforced, got %v", err)
	}
}

func TestValidateLimits_Daily(t *testing.T) {
	limits := domain.WalletLimits{DailyLimit: decPtr("1000")}

	err := ValidateLimits(dec("200"), dec("0"), dec("900"), dec("0"), limits)
	if !xerrors.IsLimitExceeded(err) {
		t.Fatalf("want LimitError, got %v", err)
	}
	if !strings.Contains(err.Error(), "daily limit exceeded (1000)") {
		t.Fatalf("error must name the daily limit, got %q", err.Error())
	}

	if err := ValidateLimits(dec("100"), dec("0"), dec("900"), dec("0"), limits); err != nil {
		t.Fatalf("spend exactly at the limit must pass, got %v", err)
	}
}

func TestValidateLimits_MaxBalance(t *testing.T) {
	limits := domain.WalletLimits{MaxBalance: decPtr("100")}

	err := ValidateLimits(dec("200"), dec("0"), dec("0"), dec("0"), limits)
	if !xerrors.IsLimitExceeded(err) {
		t.Fatalf("want LimitError, got %v", err)
	}
	if !strings.Contains(err.Error(), "maximum balance exceeded (100)") {
		t.Fatalf("error must name the max balance, got %q", err.Error())
	}
}

func TestValidateLimits_NamesAllViolations(t *testing.T) {
	limits := domain.WalletLimits{
		DailyLimit:   decPtr("1000"),
		MonthlyLimit: decPtr("2000"),
		MaxBalance:   decPtr("500"),
	}

	err := ValidateLimits(dec("600"), dec("0"), dec("900"), dec("1900"), limits)
	var le *xerrors.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("want LimitError, got %v", err)
	}
	if len(le.Violations) != 3 {
		t.Fatalf("want all 3 violations named, got %d: %v", len(le.Violations), le.Violations)
	}
	for _, want := range []string{"daily", "monthly", "maximum balance"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}
