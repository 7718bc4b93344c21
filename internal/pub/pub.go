package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const WalletEventsChannel = "wallet_events"

// WalletEventPublisher broadcasts ledger events over redis pub/sub so
// downstream consumers (notifications, analytics) can react without a
// direct dependency on this service.
type WalletEventPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewWalletEventPublisher(rdb *redis.Client, logger *zap.Logger) *WalletEventPublisher {
	return &WalletEventPublisher{rdb: rdb, logger: logger}
}

type WalletEvent struct {
	EventID       string          `json:"event_id"`   // ULID, sortable by emission time
	EventType     string          `json:"event_type"` // wallet.credited, wallet.debited, recharge.settled, recharge.failed
	UserID        int64           `json:"user_id"`
	WalletID      int64           `json:"wallet_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Category      string          `json:"category"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (p *WalletEventPublisher) Publish(ctx context.Context, event *WalletEvent) error {
	event.Timestamp = time.Now()
	event.EventID = ulid.Make().String()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, WalletEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("wallet event published",
		zap.String("event_type", event.EventType),
		zap.Int64("user_id", event.UserID),
		zap.String("transaction_id", event.TransactionID))
	return nil
}

func (p *WalletEventPublisher) PublishCredited(ctx context.Context, userID, walletID int64, transactionID, currency, category string, amount, balanceAfter decimal.Decimal) error {
	return p.Publish(ctx, &WalletEvent{
		EventType:     "wallet.credited",
		UserID:        userID,
		WalletID:      walletID,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
		BalanceAfter:  balanceAfter,
		Category:      category,
	})
}

func (p *WalletEventPublisher) PublishDebited(ctx context.Context, userID, walletID int64, transactionID, currency, category string, amount, balanceAfter decimal.Decimal) error {
	return p.Publish(ctx, &WalletEvent{
		EventType:     "wallet.debited",
		UserID:        userID,
		WalletID:      walletID,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
		BalanceAfter:  balanceAfter,
		Category:      category,
	})
}

func (p *WalletEventPublisher) PublishRechargeSettled(ctx context.Context, userID, walletID int64, transactionID, currency string, amount, balanceAfter decimal.Decimal) error {
	return p.Publish(ctx, &WalletEvent{
		EventType:     "recharge.settled",
		UserID:        userID,
		WalletID:      walletID,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
		BalanceAfter:  balanceAfter,
		Category:      "RECHARGE_CONFIRMED",
	})
}

func (p *WalletEventPublisher) PublishRechargeFailed(ctx context.Context, userID, walletID int64, transactionID, currency, reason string, amount decimal.Decimal) error {
	return p.Publish(ctx, &WalletEvent{
		EventType:     "recharge.failed",
		UserID:        userID,
		WalletID:      walletID,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      currency,
		Category:      "RECHARGE",
		ErrorMessage:  reason,
	})
}
