package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepository stores aggregator sessions and the webhook audit trail.
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error)
	UpdateGatewaySession(ctx context.Context, transactionID, gatewayTransactionID, paymentURL string) error

	// UpdateStatus flips a payment into status and returns the updated
	// record. Payments already in a terminal status are left untouched and
	// ErrPaymentNotFound is returned: terminal states never transition.
	UpdateStatus(ctx context.Context, transactionID string, status domain.PaymentStatus, reason string) (*domain.Payment, error)

	RecordWebhook(ctx context.Context, w *domain.PaymentWebhook) (*domain.PaymentWebhook, error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	DeleteWebhooksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, transaction_id, gateway_transaction_id, amount, currency, description,
	status, payment_method, provider, user_id, customer_name, customer_email, customer_phone,
	return_url, payment_url, metadata, failure_reason, paid_at, failed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.TransactionID, &p.GatewayTransactionID, &p.Amount, &p.Currency,
		&p.Description, &p.Status, &p.PaymentMethod, &p.Provider, &p.UserID,
		&p.CustomerName, &p.CustomerEmail, &p.CustomerPhone, &p.ReturnURL, &p.PaymentURL,
		&p.Metadata, &p.FailureReason, &p.PaidAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	query := `INSERT INTO payments
		(transaction_id, amount, currency, description, status, payment_method, provider,
		 user_id, customer_name, customer_email, customer_phone, return_url, metadata,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING ` + paymentColumns
	created, err := scanPayment(r.db.QueryRow(ctx, query,
		p.TransactionID, p.Amount, p.Currency, p.Description, domain.PaymentStatusPending,
		p.PaymentMethod, p.Provider, p.UserID, p.CustomerName, p.CustomerEmail, p.CustomerPhone,
		p.ReturnURL, p.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return created, nil
}

func (r *paymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepo) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_transaction_id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, gatewayTransactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepo) UpdateGatewaySession(ctx context.Context, transactionID, gatewayTransactionID, paymentURL string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET gateway_transaction_id = $2, payment_url = $3, updated_at = NOW()
		 WHERE transaction_id = $1`,
		transactionID, gatewayTransactionID, paymentURL)
	if err != nil {
		return fmt.Errorf("failed to attach gateway session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, transactionID string, status domain.PaymentStatus, reason string) (*domain.Payment, error) {
	var failureReason *string
	if reason != "" {
		failureReason = &reason
	}
	p, err := scanPayment(r.db.QueryRow(ctx,
		`UPDATE payments
		 SET status = $2,
		     failure_reason = COALESCE($3, failure_reason),
		     paid_at   = CASE WHEN $2 = $4 THEN NOW() ELSE paid_at END,
		     failed_at = CASE WHEN $2 IN ($5, $6) THEN NOW() ELSE failed_at END,
		     updated_at = NOW()
		 WHERE transaction_id = $1 AND status NOT IN ($4, $5, $6)
		 RETURNING `+paymentColumns,
		transactionID, status, failureReason,
		domain.PaymentStatusCompleted, domain.PaymentStatusFailed, domain.PaymentStatusCancelled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPaymentNotFound
	}
	return p, err
}

const webhookColumns = `id, event_type, raw_payload, signature, ip_address, user_agent,
	processed, processed_at, created_at`

func (r *paymentRepo) RecordWebhook(ctx context.Context, w *domain.PaymentWebhook) (*domain.PaymentWebhook, error) {
	var rec domain.PaymentWebhook
	err := r.db.QueryRow(ctx,
		`INSERT INTO payment_webhooks
		 (event_type, raw_payload, signature, ip_address, user_agent, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		 RETURNING `+webhookColumns,
		w.EventType, w.RawPayload, w.Signature, w.IPAddress, w.UserAgent).
		Scan(&rec.ID, &rec.EventType, &rec.RawPayload, &rec.Signature, &rec.IPAddress,
			&rec.UserAgent, &rec.Processed, &rec.ProcessedAt, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook: %w", err)
	}
	return &rec, nil
}

func (r *paymentRepo) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_webhooks SET processed = TRUE, processed_at = NOW() WHERE id = $1`,
		webhookID)
	return err
}

func (r *paymentRepo) DeleteWebhooksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM payment_webhooks WHERE processed = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhooks: %w", err)
	}
	return tag.RowsAffected(), nil
}
