package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/client"
	"wallet-service/internal/domain"
	"wallet-service/internal/metrics"
	"wallet-service/internal/provider"
	"wallet-service/internal/repository"
	"wallet-service/internal/xerrors"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const statsCacheTTL = 60 * time.Second

// EventPublisher is the slice of the pub/sub publisher the engine needs.
type EventPublisher interface {
	PublishCredited(ctx context.Context, userID, walletID int64, transactionID, currency, category string, amount, balanceAfter decimal.Decimal) error
	PublishDebited(ctx context.Context, userID, walletID int64, transactionID, currency, category string, amount, balanceAfter decimal.Decimal) error
}

type Config struct {
	DefaultCurrency string
	NotifyURL       string // public webhook endpoint handed to the gateway
	ReturnURL       string
}

// Service is the wallet engine. All money movement funnels through here:
// advisory gates run first, then the repository re-validates under the row
// lock and commits the ledger row with the balance update.
type Service struct {
	cfg       Config
	wallets   repository.WalletRepository
	ledger    repository.TransactionRepository
	payments  repository.PaymentRepository
	users     client.UserDirectory
	gateways  *provider.Registry
	publisher EventPublisher
	notifier  *Notifier
	notify    client.NotificationSender
	rdb       *redis.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	cfg Config,
	wallets repository.WalletRepository,
	ledger repository.TransactionRepository,
	payments repository.PaymentRepository,
	users client.UserDirectory,
	gateways *provider.Registry,
	publisher EventPublisher,
	notifier *Notifier,
	notify client.NotificationSender,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "XOF"
	}
	return &Service{
		cfg:       cfg,
		wallets:   wallets,
		ledger:    ledger,
		payments:  payments,
		users:     users,
		gateways:  gateways,
		publisher: publisher,
		notifier:  notifier,
		notify:    notify,
		rdb:       rdb,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) currency(c string) string {
	if c == "" {
		return s.cfg.DefaultCurrency
	}
	return c
}

// BalanceSummary is the compact view served by the balance endpoint.
type BalanceSummary struct {
	Balance      decimal.Decimal  `json:"balance"`
	Currency     string           `json:"currency"`
	DailySpent   decimal.Decimal  `json:"dailySpent"`
	MonthlySpent decimal.Decimal  `json:"monthlySpent"`
	DailyLimit   *decimal.Decimal `json:"dailyLimit,omitempty"`
	MonthlyLimit *decimal.Decimal `json:"monthlyLimit,omitempty"`
	MaxBalance   *decimal.Decimal `json:"maxBalance,omitempty"`
}

func (s *Service) GetBalance(ctx context.Context, userID int64, currency string) (*BalanceSummary, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	dailySpent, err := s.ledger.DailySpent(ctx, wallet.ID, s.now())
	if err != nil {
		return nil, err
	}
	monthlySpent, err := s.ledger.MonthlySpent(ctx, wallet.ID, s.now())
	if err != nil {
		return nil, err
	}
	return &BalanceSummary{
		Balance:      wallet.Balance,
		Currency:     wallet.Currency,
		DailySpent:   dailySpent,
		MonthlySpent: monthlySpent,
		DailyLimit:   wallet.DailyLimit,
		MonthlyLimit: wallet.MonthlyLimit,
		MaxBalance:   wallet.MaxBalance,
	}, nil
}

// GetDetails returns the wallet with its owner attached. A user directory
// outage degrades to a wallet without the owner block.
func (s *Service) GetDetails(ctx context.Context, userID int64, currency string) (*domain.Wallet, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	if user, err := s.users.FindUser(ctx, userID); err == nil {
		wallet.User = user
	} else {
		s.logger.Warn("user lookup failed for wallet details",
			zap.Int64("user_id", userID), zap.Error(err))
	}
	return wallet, nil
}

func (s *Service) UpdateSettings(ctx context.Context, userID int64, currency string, settings *domain.UpdateWalletSettings) (*domain.Wallet, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	updated, err := s.wallets.UpdateSettings(ctx, wallet.ID, settings)
	if err != nil {
		return nil, err
	}
	s.logger.Info("wallet settings updated",
		zap.Int64("user_id", userID),
		zap.Int64("wallet_id", wallet.ID))
	s.invalidateStats(ctx, wallet.ID)
	return updated, nil
}

// Credit adds funds to a user's wallet. Used by internal flows (refunds,
// payouts); recharges go through Recharge instead.
func (s *Service) Credit(ctx context.Context, userID int64, currency string, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	if err := ValidateAmount(p.Amount, wallet.Balance, OpCredit); err != nil {
		return nil, err
	}
	if err := ValidateBalanceCap(p.Amount, wallet.Balance, wallet.MaxBalance); err != nil {
		return nil, err
	}
	if p.Category == "" {
		p.Category = domain.CategoryCredit
	}

	record, err := s.ledger.Credit(ctx, wallet.ID, p)
	if err != nil {
		s.metrics.TransactionsTotal.WithLabelValues("CREDIT", "failed").Inc()
		return nil, err
	}
	s.afterMutation(ctx, wallet, record)
	if err := s.publisher.PublishCredited(ctx, userID, wallet.ID, record.TransactionID,
		record.Currency, record.Category, record.Amount, record.BalanceAfter); err != nil {
		s.logger.Warn("event publish failed", zap.Error(err))
	}
	return record, nil
}

// Debit removes funds from a user's wallet after the amount, balance, and
// spend-limit gates pass.
func (s *Service) Debit(ctx context.Context, userID int64, currency string, p *domain.BalanceEntryParams) (*domain.WalletTransaction, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	if err := ValidateAmount(p.Amount, wallet.Balance, OpDebit); err != nil {
		return nil, err
	}
	if err := s.checkSpendLimits(ctx, wallet, p.Amount); err != nil {
		return nil, err
	}
	if p.Category == "" {
		p.Category = domain.CategoryDebit
	}

	record, err := s.ledger.Debit(ctx, wallet.ID, p)
	if err != nil {
		s.metrics.TransactionsTotal.WithLabelValues("DEBIT", "failed").Inc()
		return nil, err
	}
	s.afterMutation(ctx, wallet, record)
	if err := s.publisher.PublishDebited(ctx, userID, wallet.ID, record.TransactionID,
		record.Currency, record.Category, record.Amount, record.BalanceAfter); err != nil {
		s.logger.Warn("event publish failed", zap.Error(err))
	}
	return record, nil
}

// Transfer moves funds between two users atomically. Both ledger rows share
// one TRF reference so the legs stay correlated.
func (s *Service) Transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error) {
	if req.SenderUserID == req.RecipientUserID {
		return nil, xerrors.ErrSelfTransfer
	}

	recipient, err := s.users.FindUser(ctx, req.RecipientUserID)
	if err != nil {
		return nil, err
	}
	sender, err := s.users.FindUser(ctx, req.SenderUserID)
	if err != nil {
		return nil, err
	}

	currency := s.currency(req.Currency)
	senderWallet, err := s.wallets.GetOrCreateWallet(ctx, req.SenderUserID, currency)
	if err != nil {
		return nil, err
	}
	receiverWallet, err := s.wallets.GetOrCreateWallet(ctx, req.RecipientUserID, currency)
	if err != nil {
		return nil, err
	}

	if err := ValidateAmount(req.Amount, senderWallet.Balance, OpDebit); err != nil {
		return nil, err
	}
	if err := s.checkSpendLimits(ctx, senderWallet, req.Amount); err != nil {
		return nil, err
	}
	if err := ValidateBalanceCap(req.Amount, receiverWallet.Balance, receiverWallet.MaxBalance); err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Transfer"
	}
	sourceType := domain.SourceTypeTransfer
	debit := &domain.BalanceEntryParams{
		Amount:      req.Amount,
		Description: fmt.Sprintf("%s to %s %s", description, recipient.FirstName, recipient.LastName),
		Category:    domain.CategoryTransferOut,
		SourceType:  &sourceType,
	}
	credit := &domain.BalanceEntryParams{
		Amount:      req.Amount,
		Description: fmt.Sprintf("%s from %s %s", description, sender.FirstName, sender.LastName),
		Category:    domain.CategoryTransferIn,
		SourceType:  &sourceType,
	}

	result, err := s.ledger.Transfer(ctx, senderWallet.ID, receiverWallet.ID,
		repository.NewTransactionID("TRF"), debit, credit)
	if err != nil {
		s.metrics.TransactionsTotal.WithLabelValues("TRANSFER", "failed").Inc()
		return nil, err
	}

	s.afterMutation(ctx, senderWallet, result.SenderTransaction)
	s.afterMutation(ctx, receiverWallet, result.ReceiverTransaction)
	s.notify.Notify(ctx, req.RecipientUserID, "transfer.received", map[string]any{
		"amount":   req.Amount,
		"currency": currency,
		"from":     fmt.Sprintf("%s %s", sender.FirstName, sender.LastName),
	})
	if err := s.publisher.PublishDebited(ctx, req.SenderUserID, senderWallet.ID,
		result.SenderTransaction.TransactionID, currency, domain.CategoryTransferOut,
		req.Amount, result.SenderTransaction.BalanceAfter); err != nil {
		s.logger.Warn("event publish failed", zap.Error(err))
	}
	if err := s.publisher.PublishCredited(ctx, req.RecipientUserID, receiverWallet.ID,
		result.ReceiverTransaction.TransactionID, currency, domain.CategoryTransferIn,
		req.Amount, result.ReceiverTransaction.BalanceAfter); err != nil {
		s.logger.Warn("event publish failed", zap.Error(err))
	}

	s.logger.Info("transfer completed",
		zap.Int64("sender_user_id", req.SenderUserID),
		zap.Int64("recipient_user_id", req.RecipientUserID),
		zap.String("amount", req.Amount.String()),
		zap.String("reference_id", *result.SenderTransaction.ReferenceID))
	return result, nil
}

// Recharge opens an external checkout session that, once settled, credits
// the wallet. The PENDING ledger row is linked to the payment before the
// gateway is called so a webhook can never arrive without a row to settle.
func (s *Service) Recharge(ctx context.Context, userID int64, req *domain.RechargeRequest) (*domain.RechargeResult, error) {
	currency := s.currency(req.Currency)
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if err := ValidateAmount(req.Amount, wallet.Balance, OpCredit); err != nil {
		return nil, err
	}
	if err := ValidateBalanceCap(req.Amount, wallet.Balance, wallet.MaxBalance); err != nil {
		return nil, err
	}
	if err := s.checkSpendLimits(ctx, wallet, req.Amount); err != nil {
		return nil, err
	}

	gateway, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidRequest, err)
	}

	description := req.Description
	if description == "" {
		description = "Wallet recharge"
	}
	sourceType := domain.SourceTypePayment
	pending, err := s.ledger.CreatePendingRecharge(ctx, wallet, &domain.BalanceEntryParams{
		Amount:      req.Amount,
		Description: description,
		Category:    domain.CategoryRecharge,
		SourceType:  &sourceType,
	})
	if err != nil {
		return nil, err
	}

	customerName := fmt.Sprintf("user-%d", userID)
	var customerEmail, customerPhone string
	if user, err := s.users.FindUser(ctx, userID); err == nil {
		customerName = fmt.Sprintf("%s %s", user.FirstName, user.LastName)
		if user.Email != nil {
			customerEmail = *user.Email
		}
		if user.Phone != nil {
			customerPhone = *user.Phone
		}
	}

	payment, err := s.payments.Create(ctx, &domain.Payment{
		TransactionID: newPaymentReference(),
		Amount:        req.Amount,
		Currency:      currency,
		Description:   description,
		PaymentMethod: req.PaymentMethod,
		Provider:      gateway.Name(),
		UserID:        userID,
		CustomerName:  customerName,
		CustomerEmail: strPtrOrNil(customerEmail),
		CustomerPhone: strPtrOrNil(customerPhone),
		ReturnURL:     strPtrOrNil(req.ReturnURL),
		Metadata: map[string]any{
			domain.PaymentMetaType:  domain.PaymentTypeWalletRecharge,
			"walletTransactionId":   pending.TransactionID,
		},
	})
	if err != nil {
		return nil, err
	}

	// Correlate before calling out: the webhook carries this id back.
	if err := s.ledger.AttachPaymentSource(ctx, pending.ID, payment.TransactionID, nil); err != nil {
		return nil, err
	}
	pending.SourceID = &payment.TransactionID

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	resp, err := gateway.Open(ctx, &provider.OpenRequest{
		TransactionID: payment.TransactionID,
		Amount:        req.Amount,
		Currency:      currency,
		Description:   description,
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		CustomerPhone: customerPhone,
		PaymentMethod: req.PaymentMethod,
		ReturnURL:     returnURL,
		NotifyURL:     s.cfg.NotifyURL,
	})
	if err != nil {
		if errors.Is(err, xerrors.ErrGatewayRejected) {
			// Definitive refusal: fail both records.
			s.metrics.GatewayErrors.WithLabelValues("rejected").Inc()
			if mErr := s.ledger.MarkTransactionFailed(ctx, pending.ID, err.Error()); mErr != nil {
				s.logger.Error("failed to mark rejected recharge", zap.Error(mErr))
			}
			if _, uErr := s.payments.UpdateStatus(ctx, payment.TransactionID, domain.PaymentStatusFailed, err.Error()); uErr != nil {
				s.logger.Error("failed to fail payment record", zap.Error(uErr))
			}
			return nil, err
		}
		// Unreachable or ambiguous: the request may have landed, so the
		// PENDING row stays for webhook or poll to resolve.
		s.metrics.GatewayErrors.WithLabelValues("unreachable").Inc()
		s.logger.Warn("gateway open did not complete, leaving recharge pending",
			zap.String("payment_transaction_id", payment.TransactionID),
			zap.Error(err))
		return nil, err
	}

	if err := s.payments.UpdateGatewaySession(ctx, payment.TransactionID,
		resp.GatewayTransactionID, resp.PaymentURL); err != nil {
		s.logger.Error("failed to store gateway session", zap.Error(err))
	}

	s.logger.Info("recharge initiated",
		zap.Int64("user_id", userID),
		zap.String("payment_transaction_id", payment.TransactionID),
		zap.String("amount", req.Amount.String()))
	return &domain.RechargeResult{
		Transaction: pending,
		PaymentURL:  resp.PaymentURL,
		PaymentID:   payment.TransactionID,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID int64, currency string, q *domain.TransactionQuery) (*domain.TransactionPage, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, wallet.ID, q)
}

func (s *Service) GetTransaction(ctx context.Context, userID int64, currency string, id int64) (*domain.WalletTransaction, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}
	return s.ledger.GetTransaction(ctx, wallet.ID, id)
}

func (s *Service) GetStats(ctx context.Context, userID int64, currency string) (*domain.WalletStats, error) {
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID, s.currency(currency))
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("wallet:stats:%d", wallet.ID)
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var stats domain.WalletStats
			if jsonErr := unmarshalStats(cached, &stats); jsonErr == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.ledger.Stats(ctx, wallet, s.now())
	if err != nil {
		return nil, err
	}
	if s.rdb != nil {
		if payload, err := marshalStats(stats); err == nil {
			if err := s.rdb.Set(ctx, cacheKey, payload, statsCacheTTL).Err(); err != nil {
				s.logger.Debug("stats cache write failed", zap.Error(err))
			}
		}
	}
	return stats, nil
}

// checkSpendLimits runs the rolling daily/monthly spend-window gates.
// Debits and recharges both count against them, per the product rules.
func (s *Service) checkSpendLimits(ctx context.Context, wallet *domain.Wallet, amount decimal.Decimal) error {
	limits := wallet.Limits()
	limits.MaxBalance = nil // the cap has its own gate, ValidateBalanceCap
	if limits.DailyLimit == nil && limits.MonthlyLimit == nil {
		return nil
	}
	dailySpent, err := s.ledger.DailySpent(ctx, wallet.ID, s.now())
	if err != nil {
		return err
	}
	monthlySpent, err := s.ledger.MonthlySpent(ctx, wallet.ID, s.now())
	if err != nil {
		return err
	}
	return ValidateLimits(amount, wallet.Balance, dailySpent, monthlySpent, limits)
}

func (s *Service) afterMutation(ctx context.Context, wallet *domain.Wallet, record *domain.WalletTransaction) {
	s.metrics.TransactionsTotal.WithLabelValues(string(record.Type), "completed").Inc()
	s.notifier.NotifyBalance(wallet.UserID, wallet, record)
	s.invalidateStats(ctx, wallet.ID)
}

func (s *Service) invalidateStats(ctx context.Context, walletID int64) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, fmt.Sprintf("wallet:stats:%d", walletID)).Err(); err != nil {
		s.logger.Debug("stats cache invalidation failed", zap.Error(err))
	}
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// newPaymentReference builds the id shared with the aggregator. ULIDs sort
// by creation time, which keeps gateway reconciliation exports readable.
func newPaymentReference() string {
	return "PAY_" + ulid.Make().String()
}
