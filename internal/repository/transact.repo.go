package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/xerrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransactionRepository owns every balance-mutating atomic unit. Each
// mutation locks the affected wallet row(s), re-validates under the lock,
// writes the ledger row and the new balance, and commits — or rolls the
// whole unit back. Nothing outside this repository writes balances.
type TransactionRepository interface {
	Credit(ctx context.Context, walletID int64, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error)
	Debit(ctx context.Context, walletID int64, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error)
	Transfer(ctx context.Context, senderWalletID, receiverWalletID int64, referenceID string, debit, credit *domain.BalanceEntryParams) (*domain.TransferResult, error)

	// Recharge lifecycle: a PENDING credit row is created first, resolved
	// later by settlement (webhook or poll).
	CreatePendingRecharge(ctx context.Context, wallet *domain.Wallet, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error)
	AttachPaymentSource(ctx context.Context, transactionID int64, sourceID string, meta map[string]any) error
	MarkTransactionFailed(ctx context.Context, transactionID int64, reason string) error
	ConfirmRechargeBySource(ctx context.Context, sourceID string) (*domain.WalletTransaction, error)
	FailRechargeBySource(ctx context.Context, sourceID, reason string) (*domain.WalletTransaction, error)

	GetTransaction(ctx context.Context, walletID, id int64) (*domain.WalletTransaction, error)
	ListTransactions(ctx context.Context, walletID int64, q *domain.TransactionQuery) (*domain.TransactionPage, error)
	DailySpent(ctx context.Context, walletID int64, now time.Time) (decimal.Decimal, error)
	MonthlySpent(ctx context.Context, walletID int64, now time.Time) (decimal.Decimal, error)
	Stats(ctx context.Context, wallet *domain.Wallet, now time.Time) (*domain.WalletStats, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

// NewTransactionID builds a client-opaque ledger id, e.g. WCT_1719938312045_9f1c02aa.
func NewTransactionID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

const txColumns = `id, transaction_id, reference_id, wallet_id, user_id, type, amount, currency,
	balance_before, balance_after, status, description, category, source_type, source_id,
	metadata, failure_reason, processed_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	err := row.Scan(&t.ID, &t.TransactionID, &t.ReferenceID, &t.WalletID, &t.UserID, &t.Type,
		&t.Amount, &t.Currency, &t.BalanceBefore, &t.BalanceAfter, &t.Status, &t.Description,
		&t.Category, &t.SourceType, &t.SourceID, &t.Metadata, &t.FailureReason,
		&t.ProcessedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepo) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// lockWallet acquires the wallet row for the duration of tx.
func lockWallet(ctx context.Context, tx pgx.Tx, walletID int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	w, err := scanWallet(tx.QueryRow(ctx, query, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrWalletNotFound
	}
	return w, err
}

func insertLedgerRow(ctx context.Context, tx pgx.Tx, w *domain.Wallet, txType domain.TransactionType,
	status domain.TransactionStatus, transactionID string, balanceAfter decimal.Decimal,
	p *domain.BalanceEntryParams, processed bool) (*domain.WalletTransaction, error) {

	query := `INSERT INTO wallet_transactions
		(transaction_id, reference_id, wallet_id, user_id, type, amount, currency,
		 balance_before, balance_after, status, description, category, source_type, source_id,
		 metadata, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        CASE WHEN $16 THEN NOW() END, NOW(), NOW())
		RETURNING ` + txColumns
	return scanTransaction(tx.QueryRow(ctx, query,
		transactionID, p.ReferenceID, w.ID, w.UserID, txType, p.Amount, w.Currency,
		w.Balance, balanceAfter, status, p.Description, p.Category, p.SourceType, p.SourceID,
		p.Metadata, processed))
}

func applyBalance(ctx context.Context, tx pgx.Tx, walletID int64, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $2, last_transaction_at = NOW(), updated_at = NOW() WHERE id = $1`,
		walletID, balance)
	return err
}

func checkOperational(w *domain.Wallet) error {
	if !w.IsActive || w.IsBlocked {
		return xerrors.ErrWalletInactiveOrBlocked
	}
	return nil
}

func (r *transactionRepo) Credit(ctx context.Context, walletID int64, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if err := checkOperational(wallet); err != nil {
		return nil, err
	}
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.ErrInvalidAmount
	}

	newBalance := wallet.Balance.Add(p.Amount)
	if wallet.MaxBalance != nil && newBalance.GreaterThan(*wallet.MaxBalance) {
		return nil, xerrors.ErrBalanceCapExceeded
	}

	record, err := insertLedgerRow(ctx, tx, wallet, domain.TxTypeCredit, domain.TxStatusCompleted,
		NewTransactionID("WCT"), newBalance, p, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record credit: %w", err)
	}
	if err := applyBalance(ctx, tx, wallet.ID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return record, nil
}

func (r *transactionRepo) Debit(ctx context.Context, walletID int64, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if err := checkOperational(wallet); err != nil {
		return nil, err
	}
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.ErrInvalidAmount
	}
	if p.Amount.GreaterThan(wallet.Balance) {
		return nil, xerrors.ErrInsufficientFunds
	}

	newBalance := wallet.Balance.Sub(p.Amount)
	record, err := insertLedgerRow(ctx, tx, wallet, domain.TxTypeDebit, domain.TxStatusCompleted,
		NewTransactionID("WDT"), newBalance, p, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record debit: %w", err)
	}
	if err := applyBalance(ctx, tx, wallet.ID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}
	return record, nil
}

// Transfer debits the sender and credits the receiver inside one unit.
// Wallet rows are locked in id order so two opposite transfers cannot
// deadlock each other.
func (r *transactionRepo) Transfer(ctx context.Context, senderWalletID, receiverWalletID int64,
	referenceID string, debit, credit *domain.BalanceEntryParams) (*domain.TransferResult, error) {

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lockOrder := []int64{senderWalletID, receiverWalletID}
	if receiverWalletID < senderWalletID {
		lockOrder[0], lockOrder[1] = receiverWalletID, senderWalletID
	}
	locked := make(map[int64]*domain.Wallet, 2)
	for _, id := range lockOrder {
		w, err := lockWallet(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = w
	}
	sender, receiver := locked[senderWalletID], locked[receiverWalletID]

	if err := checkOperational(sender); err != nil {
		return nil, err
	}
	if err := checkOperational(receiver); err != nil {
		return nil, err
	}
	if debit.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, xerrors.ErrInvalidAmount
	}
	if debit.Amount.GreaterThan(sender.Balance) {
		return nil, xerrors.ErrInsufficientFunds
	}

	senderBalance := sender.Balance.Sub(debit.Amount)
	receiverBalance := receiver.Balance.Add(credit.Amount)
	if receiver.MaxBalance != nil && receiverBalance.GreaterThan(*receiver.MaxBalance) {
		return nil, xerrors.ErrBalanceCapExceeded
	}

	ref := referenceID
	debit.ReferenceID = &ref
	credit.ReferenceID = &ref

	senderTx, err := insertLedgerRow(ctx, tx, sender, domain.TxTypeDebit, domain.TxStatusCompleted,
		NewTransactionID("WDT"), senderBalance, debit, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer debit: %w", err)
	}
	receiverTx, err := insertLedgerRow(ctx, tx, receiver, domain.TxTypeCredit, domain.TxStatusCompleted,
		NewTransactionID("WCT"), receiverBalance, credit, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer credit: %w", err)
	}
	if err := applyBalance(ctx, tx, sender.ID, senderBalance); err != nil {
		return nil, fmt.Errorf("failed to update sender balance: %w", err)
	}
	if err := applyBalance(ctx, tx, receiver.ID, receiverBalance); err != nil {
		return nil, fmt.Errorf("failed to update receiver balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return &domain.TransferResult{SenderTransaction: senderTx, ReceiverTransaction: receiverTx}, nil
}

// CreatePendingRecharge writes a PENDING credit row with
// balanceAfter = balanceBefore; settlement resolves it later.
func (r *transactionRepo) CreatePendingRecharge(ctx context.Context, wallet *domain.Wallet, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	record, err := insertLedgerRow(ctx, tx, wallet, domain.TxTypeCredit, domain.TxStatusPending,
		NewTransactionID("WRT"), wallet.Balance, p, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending recharge: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pending recharge: %w", err)
	}
	return record, nil
}

func (r *transactionRepo) AttachPaymentSource(ctx context.Context, transactionID int64, sourceID string, meta map[string]any) error {
	_, err := r.db.Exec(ctx,
		`UPDATE wallet_transactions
		 SET source_id = $2, metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($3::jsonb, '{}'::jsonb), updated_at = NOW()
		 WHERE id = $1`,
		transactionID, sourceID, meta)
	return err
}

func (r *transactionRepo) MarkTransactionFailed(ctx context.Context, transactionID int64, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE wallet_transactions
		 SET status = $2, failure_reason = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		transactionID, domain.TxStatusFailed, reason, domain.TxStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrTransactionNotFound
	}
	return nil
}

// ConfirmRechargeBySource settles the PENDING recharge correlated to an
// external payment. The pending row itself transitions to COMPLETED with
// fresh balance snapshots; the wallet is credited in the same unit. A
// missing pending row (replay, out-of-order webhook) returns
// ErrNothingToSettle so callers can no-op instead of erroring.
func (r *transactionRepo) ConfirmRechargeBySource(ctx context.Context, sourceID string) (*domain.WalletTransaction, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	pending, err := scanTransaction(tx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM wallet_transactions
		 WHERE source_id = $1 AND source_type = $2 AND status = $3
		 FOR UPDATE`,
		sourceID, domain.SourceTypePayment, domain.TxStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNothingToSettle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending recharge: %w", err)
	}

	wallet, err := lockWallet(ctx, tx, pending.WalletID)
	if err != nil {
		return nil, err
	}
	if err := checkOperational(wallet); err != nil {
		return nil, err
	}
	newBalance := wallet.Balance.Add(pending.Amount)
	if wallet.MaxBalance != nil && newBalance.GreaterThan(*wallet.MaxBalance) {
		return nil, xerrors.ErrBalanceCapExceeded
	}

	confirmed, err := scanTransaction(tx.QueryRow(ctx,
		`UPDATE wallet_transactions
		 SET status = $2, category = $3, balance_before = $4, balance_after = $5,
		     processed_at = NOW(), updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+txColumns,
		pending.ID, domain.TxStatusCompleted, domain.CategoryRechargeConfirmed,
		wallet.Balance, newBalance))
	if err != nil {
		return nil, fmt.Errorf("failed to confirm recharge: %w", err)
	}
	if err := applyBalance(ctx, tx, wallet.ID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return confirmed, nil
}

func (r *transactionRepo) FailRechargeBySource(ctx context.Context, sourceID, reason string) (*domain.WalletTransaction, error) {
	record, err := scanTransaction(r.db.QueryRow(ctx,
		`UPDATE wallet_transactions
		 SET status = $2, failure_reason = $3, updated_at = NOW()
		 WHERE source_id = $1 AND source_type = $4 AND status = $5
		 RETURNING `+txColumns,
		sourceID, domain.TxStatusFailed, reason, domain.SourceTypePayment, domain.TxStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNothingToSettle
	}
	return record, err
}

func (r *transactionRepo) GetTransaction(ctx context.Context, walletID, id int64) (*domain.WalletTransaction, error) {
	record, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1 AND wallet_id = $2`,
		id, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrTransactionNotFound
	}
	return record, err
}

var sortColumns = map[string]string{
	"created_at":   "created_at",
	"amount":       "amount",
	"processed_at": "processed_at",
}

func (r *transactionRepo) ListTransactions(ctx context.Context, walletID int64, q *domain.TransactionQuery) (*domain.TransactionPage, error) {
	where := []string{"wallet_id = $1"}
	args := []any{walletID}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.Type != nil {
		addArg("type = $%d", *q.Type)
	}
	if q.Status != nil {
		addArg("status = $%d", *q.Status)
	}
	if q.Category != "" {
		addArg("category ILIKE $%d", "%"+q.Category+"%")
	}
	if q.SourceType != "" {
		addArg("source_type = $%d", q.SourceType)
	}
	if q.StartDate != nil {
		addArg("created_at >= $%d", *q.StartDate)
	}
	if q.EndDate != nil {
		addArg("created_at <= $%d", *q.EndDate)
	}
	if q.MinAmount != nil {
		addArg("amount >= $%d", *q.MinAmount)
	}
	if q.MaxAmount != nil {
		addArg("amount <= $%d", *q.MaxAmount)
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	sortBy, ok := sortColumns[q.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM wallet_transactions WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		txColumns, whereClause, sortBy, order, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*domain.WalletTransaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &domain.TransactionPage{
		Transactions: transactions,
		Total:        total,
		Pagination: domain.Pagination{
			Page:       offset/limit + 1,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

func (r *transactionRepo) spentBetween(ctx context.Context, walletID int64, from, to time.Time) (decimal.Decimal, error) {
	var spent decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
		 WHERE wallet_id = $1 AND type = $2 AND status = $3 AND created_at >= $4 AND created_at < $5`,
		walletID, domain.TxTypeDebit, domain.TxStatusCompleted, from, to).Scan(&spent)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum spend: %w", err)
	}
	return spent, nil
}

func (r *transactionRepo) DailySpent(ctx context.Context, walletID int64, now time.Time) (decimal.Decimal, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return r.spentBetween(ctx, walletID, start, start.AddDate(0, 0, 1))
}

func (r *transactionRepo) MonthlySpent(ctx context.Context, walletID int64, now time.Time) (decimal.Decimal, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return r.spentBetween(ctx, walletID, start, start.AddDate(0, 1, 0))
}

func (r *transactionRepo) Stats(ctx context.Context, wallet *domain.Wallet, now time.Time) (*domain.WalletStats, error) {
	stats := &domain.WalletStats{
		TotalBalance:      wallet.Balance,
		Currency:          wallet.Currency,
		CategoryBreakdown: make(map[string]domain.CategoryStat),
	}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = $2),
		        COUNT(*) FILTER (WHERE status = $3),
		        COALESCE(SUM(amount) FILTER (WHERE status = $2 AND type = $4), 0),
		        COALESCE(SUM(amount) FILTER (WHERE status = $2 AND type = $5), 0),
		        MAX(created_at)
		 FROM wallet_transactions WHERE wallet_id = $1`,
		wallet.ID, domain.TxStatusCompleted, domain.TxStatusPending,
		domain.TxTypeCredit, domain.TxTypeDebit).
		Scan(&stats.TotalTransactions, &stats.PendingTransactions,
			&stats.TotalCredits, &stats.TotalDebits, &stats.LastTransactionDate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate totals: %w", err)
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	rows, err := r.db.Query(ctx,
		`SELECT type, COALESCE(SUM(amount), 0), COUNT(*)
		 FROM wallet_transactions
		 WHERE wallet_id = $1 AND status = $2 AND created_at >= $3
		 GROUP BY type`,
		wallet.ID, domain.TxStatusCompleted, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate monthly stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var txType domain.TransactionType
		var sum decimal.Decimal
		var count int64
		if err := rows.Scan(&txType, &sum, &count); err != nil {
			return nil, err
		}
		switch txType {
		case domain.TxTypeCredit:
			stats.MonthlyStats.TotalCredits = sum
		case domain.TxTypeDebit:
			stats.MonthlyStats.TotalDebits = sum
		}
		stats.MonthlyStats.TransactionCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	catRows, err := r.db.Query(ctx,
		`SELECT category, COALESCE(SUM(amount), 0), COUNT(*)
		 FROM wallet_transactions
		 WHERE wallet_id = $1 AND status = $2
		 GROUP BY category`,
		wallet.ID, domain.TxStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate category stats: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var stat domain.CategoryStat
		if err := catRows.Scan(&category, &stat.Amount, &stat.Count); err != nil {
			return nil, err
		}
		stats.CategoryBreakdown[category] = stat
	}
	return stats, catRows.Err()
}
