package repository

import (
	"context"
	"errors"
	"fmt"

	"wallet-service/internal/domain"
	"wallet-service/internal/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Default limits applied when a wallet is provisioned lazily, in the
// wallet's currency units.
var (
	DefaultDailyLimit   = decimal.NewFromInt(500_000)
	DefaultMonthlyLimit = decimal.NewFromInt(5_000_000)
	DefaultMaxBalance   = decimal.NewFromInt(10_000_000)
)

type WalletRepository interface {
	// GetOrCreateWallet returns the (userID, currency) wallet, creating it
	// with default limits if absent. Safe under concurrent first access:
	// the unique constraint resolves the race and the loser re-reads.
	GetOrCreateWallet(ctx context.Context, userID int64, currency string) (*domain.Wallet, error)
	GetWalletByID(ctx context.Context, walletID int64) (*domain.Wallet, error)
	GetWalletByUserIDAndCurrency(ctx context.Context, userID int64, currency string) (*domain.Wallet, error)
	UpdateSettings(ctx context.Context, walletID int64, settings *domain.UpdateWalletSettings) (*domain.Wallet, error)
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepository(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `id, user_id, balance, currency, is_active, is_blocked, blocked_reason,
	daily_limit, monthly_limit, max_balance, metadata, last_transaction_at, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	var daily, monthly, maxBal decimal.NullDecimal
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.IsActive, &w.IsBlocked,
		&w.BlockedReason, &daily, &monthly, &maxBal, &w.Metadata,
		&w.LastTransactionAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if daily.Valid {
		w.DailyLimit = &daily.Decimal
	}
	if monthly.Valid {
		w.MonthlyLimit = &monthly.Decimal
	}
	if maxBal.Valid {
		w.MaxBalance = &maxBal.Decimal
	}
	return &w, nil
}

func (r *walletRepo) GetWalletByID(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	w, err := scanWallet(r.db.QueryRow(ctx, query, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrWalletNotFound
	}
	return w, err
}

func (r *walletRepo) GetWalletByUserIDAndCurrency(ctx context.Context, userID int64, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`
	w, err := scanWallet(r.db.QueryRow(ctx, query, userID, currency))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrWalletNotFound
	}
	return w, err
}

func (r *walletRepo) GetOrCreateWallet(ctx context.Context, userID int64, currency string) (*domain.Wallet, error) {
	wallet, err := r.GetWalletByUserIDAndCurrency(ctx, userID, currency)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, xerrors.ErrWalletNotFound) {
		return nil, err
	}

	query := `INSERT INTO wallets
		(user_id, currency, balance, is_active, is_blocked, daily_limit, monthly_limit, max_balance, created_at, updated_at)
		VALUES ($1, $2, 0, TRUE, FALSE, $3, $4, $5, NOW(), NOW())
		RETURNING ` + walletColumns
	wallet, err = scanWallet(r.db.QueryRow(ctx, query,
		userID, currency, DefaultDailyLimit, DefaultMonthlyLimit, DefaultMaxBalance))
	if err != nil {
		// Concurrent first access: another request inserted the row first.
		if xerrors.IsUniqueViolation(err) {
			return r.GetWalletByUserIDAndCurrency(ctx, userID, currency)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return wallet, nil
}

func (r *walletRepo) UpdateSettings(ctx context.Context, walletID int64, settings *domain.UpdateWalletSettings) (*domain.Wallet, error) {
	query := `UPDATE wallets SET
		daily_limit   = COALESCE($2, daily_limit),
		monthly_limit = COALESCE($3, monthly_limit),
		max_balance   = COALESCE($4, max_balance),
		is_active     = COALESCE($5, is_active),
		updated_at    = NOW()
		WHERE id = $1
		RETURNING ` + walletColumns
	w, err := scanWallet(r.db.QueryRow(ctx, query, walletID,
		settings.DailyLimit, settings.MonthlyLimit, settings.MaxBalance, settings.IsActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrWalletNotFound
	}
	return w, err
}
