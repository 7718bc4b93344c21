package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/client"
	"wallet-service/internal/domain"
	"wallet-service/internal/metrics"
	"wallet-service/internal/provider"
	"wallet-service/internal/repository"
	"wallet-service/internal/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dedupeTTL = 24 * time.Hour

// LedgerPort is the one-way slice of the ledger the coordinator drives.
// Settlement calls into the ledger; the wallet engine never calls back
// into settlement.
type LedgerPort interface {
	ConfirmRechargeBySource(ctx context.Context, sourceID string) (*domain.WalletTransaction, error)
	FailRechargeBySource(ctx context.Context, sourceID, reason string) (*domain.WalletTransaction, error)
}

// EventPublisher is the slice of the pub/sub publisher settlement needs.
type EventPublisher interface {
	PublishRechargeSettled(ctx context.Context, userID, walletID int64, transactionID, currency string, amount, balanceAfter decimal.Decimal) error
	PublishRechargeFailed(ctx context.Context, userID, walletID int64, transactionID, currency, reason string, amount decimal.Decimal) error
}

// Service converges every aggregator signal (webhook or status poll) onto
// one settlement path. All outcomes are idempotent: replays and races
// resolve to no-op successes, never double credits.
type Service struct {
	payments  repository.PaymentRepository
	ledger    LedgerPort
	gateways  *provider.Registry
	bookings  client.BookingService
	publisher EventPublisher
	notify    client.NotificationSender
	rdb       *redis.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewService(
	payments repository.PaymentRepository,
	ledger LedgerPort,
	gateways *provider.Registry,
	bookings client.BookingService,
	publisher EventPublisher,
	notify client.NotificationSender,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		payments:  payments,
		ledger:    ledger,
		gateways:  gateways,
		bookings:  bookings,
		publisher: publisher,
		notify:    notify,
		rdb:       rdb,
		metrics:   m,
		logger:    logger,
	}
}

// HandleWebhook authenticates, audits, and settles one inbound callback.
// The audit row is written before parsing so even malformed payloads leave
// a trace.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature, ipAddress, userAgent string) error {
	gateway, err := s.gateways.Get(providerName)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrInvalidWebhook, err)
	}
	if err := gateway.VerifyWebhook(payload, signature); err != nil {
		s.metrics.WebhooksTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("webhook signature rejected",
			zap.String("provider", providerName),
			zap.String("ip", ipAddress))
		return err
	}

	audit, err := s.payments.RecordWebhook(ctx, &domain.PaymentWebhook{
		EventType:  fmt.Sprintf("%s.callback", providerName),
		RawPayload: rawMap(payload),
		Signature:  ptrOrNil(signature),
		IPAddress:  ptrOrNil(ipAddress),
		UserAgent:  ptrOrNil(userAgent),
	})
	if err != nil {
		return err
	}

	outcome, err := gateway.ParseWebhook(payload)
	if err != nil {
		s.metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return err
	}
	s.metrics.WebhooksTotal.WithLabelValues("accepted").Inc()

	if err := s.HandleOutcome(ctx, outcome); err != nil {
		return err
	}
	if err := s.payments.MarkWebhookProcessed(ctx, audit.ID); err != nil {
		s.logger.Warn("failed to mark webhook processed",
			zap.Int64("webhook_id", audit.ID), zap.Error(err))
	}
	return nil
}

// HandleOutcome applies one verified terminal signal. The redis SETNX is a
// fast-path dedupe only; the database status guards are what actually make
// replays safe.
func (s *Service) HandleOutcome(ctx context.Context, outcome *domain.SettlementOutcome) error {
	if !outcome.Status.Terminal() {
		return nil
	}

	var dedupeKey string
	if s.rdb != nil {
		dedupeKey = fmt.Sprintf("settlement:seen:%s:%s", outcome.GatewayTransactionID, outcome.Status)
		set, err := s.rdb.SetNX(ctx, dedupeKey, 1, dedupeTTL).Result()
		if err == nil && !set {
			s.metrics.SettlementsTotal.WithLabelValues("replay").Inc()
			s.logger.Info("settlement replay suppressed",
				zap.String("gateway_transaction_id", outcome.GatewayTransactionID))
			return nil
		}
	}

	payment, err := s.payments.GetByGatewayTransactionID(ctx, outcome.GatewayTransactionID)
	if errors.Is(err, xerrors.ErrPaymentNotFound) {
		// A session whose open call timed out never got its gateway id
		// stored. The aggregator echoes the merchant reference, so the
		// payment is still reachable by it.
		payment, err = s.payments.GetByTransactionID(ctx, outcome.GatewayTransactionID)
	}
	if err != nil {
		if errors.Is(err, xerrors.ErrPaymentNotFound) {
			s.metrics.SettlementsTotal.WithLabelValues("unknown").Inc()
			s.logger.Warn("settlement signal for unknown payment",
				zap.String("gateway_transaction_id", outcome.GatewayTransactionID))
			return nil
		}
		return err
	}
	if payment.Status.Terminal() {
		s.metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	var settleErr error
	switch outcome.Status {
	case domain.PaymentStatusCompleted:
		settleErr = s.settleCompleted(ctx, payment)
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
		settleErr = s.settleFailed(ctx, payment, outcome)
	}
	if settleErr != nil && dedupeKey != "" {
		// Clear the fast-path so the aggregator's retry is not shed.
		if err := s.rdb.Del(ctx, dedupeKey).Err(); err != nil {
			s.logger.Warn("failed to clear settlement dedupe key",
				zap.String("key", dedupeKey), zap.Error(err))
		}
	}
	return settleErr
}

func (s *Service) settleCompleted(ctx context.Context, payment *domain.Payment) error {
	// Credit the wallet before flipping the payment terminal. If the credit
	// fails here the payment stays PENDING, so the aggregator's retry gets
	// another run at it instead of hitting the terminal-status guard.
	record, err := s.ledger.ConfirmRechargeBySource(ctx, payment.TransactionID)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNothingToSettle) {
			s.metrics.SettlementsTotal.WithLabelValues("error").Inc()
			s.logger.Error("wallet credit failed for settled payment",
				zap.String("payment_transaction_id", payment.TransactionID),
				zap.Error(err))
			return err
		}
		// Replay, a payment with no wallet leg, or a retry after the
		// payment update failed: nothing left to credit.
		s.metrics.SettlementsTotal.WithLabelValues("nothing_to_settle").Inc()
		s.logger.Info("no pending recharge for settled payment",
			zap.String("payment_transaction_id", payment.TransactionID))
		record = nil
	}

	updated, err := s.payments.UpdateStatus(ctx, payment.TransactionID, domain.PaymentStatusCompleted, "")
	if err != nil {
		if errors.Is(err, xerrors.ErrPaymentNotFound) {
			// Lost the race to another settlement path.
			s.metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		return err
	}

	if record != nil {
		s.metrics.SettlementsTotal.WithLabelValues("settled").Inc()
		s.logger.Info("recharge settled",
			zap.String("payment_transaction_id", payment.TransactionID),
			zap.String("wallet_transaction_id", record.TransactionID),
			zap.String("amount", record.Amount.String()))
		if err := s.publisher.PublishRechargeSettled(ctx, record.UserID, record.WalletID,
			record.TransactionID, record.Currency, record.Amount, record.BalanceAfter); err != nil {
			s.logger.Warn("event publish failed", zap.Error(err))
		}
		s.notify.Notify(ctx, record.UserID, "recharge.settled", map[string]any{
			"amount":   record.Amount,
			"currency": record.Currency,
		})
	}

	s.confirmBooking(ctx, updated)
	return nil
}

func (s *Service) settleFailed(ctx context.Context, payment *domain.Payment, outcome *domain.SettlementOutcome) error {
	reason := outcome.Reason
	if reason == "" {
		reason = fmt.Sprintf("payment %s", outcome.Status)
	}
	// Same ordering as the completed path: the ledger row resolves before
	// the payment goes terminal, so a transient failure stays retryable.
	record, err := s.ledger.FailRechargeBySource(ctx, payment.TransactionID, reason)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNothingToSettle) {
			return err
		}
		s.metrics.SettlementsTotal.WithLabelValues("nothing_to_settle").Inc()
		record = nil
	}

	if _, err := s.payments.UpdateStatus(ctx, payment.TransactionID, outcome.Status, reason); err != nil {
		if errors.Is(err, xerrors.ErrPaymentNotFound) {
			s.metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		return err
	}
	if record == nil {
		return nil
	}

	s.metrics.SettlementsTotal.WithLabelValues("failed").Inc()
	s.logger.Info("recharge failed",
		zap.String("payment_transaction_id", payment.TransactionID),
		zap.String("reason", reason))
	if err := s.publisher.PublishRechargeFailed(ctx, record.UserID, record.WalletID,
		record.TransactionID, record.Currency, reason, record.Amount); err != nil {
		s.logger.Warn("event publish failed", zap.Error(err))
	}
	s.notify.Notify(ctx, record.UserID, "recharge.failed", map[string]any{
		"amount":   record.Amount,
		"currency": record.Currency,
		"reason":   reason,
	})
	return nil
}

// confirmBooking notifies the booking side of a settled booking payment.
// Best effort only: a failure here is logged for out-of-band retry and
// never unwinds the credited wallet.
func (s *Service) confirmBooking(ctx context.Context, payment *domain.Payment) {
	if payment.Metadata[domain.PaymentMetaType] != domain.PaymentTypeBookingPayment {
		return
	}
	bookingID, _ := payment.Metadata[domain.PaymentMetaBookingID].(string)
	if bookingID == "" {
		s.logger.Warn("booking payment without booking id",
			zap.String("payment_transaction_id", payment.TransactionID))
		return
	}
	if err := s.bookings.ConfirmPayment(ctx, bookingID, payment.TransactionID); err != nil {
		s.logger.Error("booking confirmation failed, needs reconciliation",
			zap.String("booking_id", bookingID),
			zap.String("payment_transaction_id", payment.TransactionID),
			zap.Error(err))
	}
}

// PollStatus queries the aggregator for a pending payment and, when the
// answer is terminal, converges onto the same settlement path the webhook
// uses. Returns the payment's current local state.
func (s *Service) PollStatus(ctx context.Context, transactionID string) (*domain.Payment, error) {
	payment, err := s.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if payment.Status.Terminal() {
		return payment, nil
	}

	gateway, err := s.gateways.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	// Sessions whose open call timed out have no stored gateway id; the
	// aggregator keys status checks by the merchant reference anyway.
	gatewayID := payment.TransactionID
	if payment.GatewayTransactionID != nil {
		gatewayID = *payment.GatewayTransactionID
	}
	outcome, err := gateway.CheckStatus(ctx, gatewayID)
	if err != nil {
		// The local state is still valid even when the gateway is down.
		s.metrics.GatewayErrors.WithLabelValues("check_status").Inc()
		s.logger.Warn("status poll failed",
			zap.String("payment_transaction_id", transactionID), zap.Error(err))
		return payment, nil
	}
	if !outcome.Status.Terminal() {
		return payment, nil
	}

	if err := s.HandleOutcome(ctx, outcome); err != nil {
		return nil, err
	}
	return s.payments.GetByTransactionID(ctx, transactionID)
}

func rawMap(payload []byte) map[string]any {
	m := map[string]any{}
	if err := json.Unmarshal(payload, &m); err != nil {
		m["_raw"] = string(payload)
	}
	return m
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
