package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/metrics"
	"wallet-service/internal/provider"
	"wallet-service/internal/xerrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakePayments struct {
	byTxID   map[string]*domain.Payment
	webhooks []*domain.PaymentWebhook
	deleted  []time.Time
	nextID   int64
}

func newFakePayments() *fakePayments {
	return &fakePayments{byTxID: make(map[string]*domain.Payment)}
}

func (f *fakePayments) Create(_ context.Context, p *domain.Payment) (*domain.Payment, error) {
	f.nextID++
	p.ID = f.nextID
	f.byTxID[p.TransactionID] = p
	return p, nil
}

func (f *fakePayments) GetByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	if p, ok := f.byTxID[transactionID]; ok {
		return p, nil
	}
	return nil, xerrors.ErrPaymentNotFound
}

func (f *fakePayments) GetByGatewayTransactionID(_ context.Context, gatewayTransactionID string) (*domain.Payment, error) {
	for _, p := range f.byTxID {
		if p.GatewayTransactionID != nil && *p.GatewayTransactionID == gatewayTransactionID {
			return p, nil
		}
	}
	return nil, xerrors.ErrPaymentNotFound
}

func (f *fakePayments) UpdateGatewaySession(_ context.Context, transactionID, gatewayTransactionID, paymentURL string) error {
	p, ok := f.byTxID[transactionID]
	if !ok {
		return xerrors.ErrPaymentNotFound
	}
	p.GatewayTransactionID = &gatewayTransactionID
	p.PaymentURL = &paymentURL
	return nil
}

func (f *fakePayments) UpdateStatus(_ context.Context, transactionID string, status domain.PaymentStatus, reason string) (*domain.Payment, error) {
	p, ok := f.byTxID[transactionID]
	if !ok || p.Status.Terminal() {
		return nil, xerrors.ErrPaymentNotFound
	}
	p.Status = status
	if reason != "" {
		p.FailureReason = &reason
	}
	return p, nil
}

func (f *fakePayments) RecordWebhook(_ context.Context, w *domain.PaymentWebhook) (*domain.PaymentWebhook, error) {
	f.nextID++
	w.ID = f.nextID
	f.webhooks = append(f.webhooks, w)
	return w, nil
}

func (f *fakePayments) MarkWebhookProcessed(_ context.Context, webhookID int64) error {
	for _, w := range f.webhooks {
		if w.ID == webhookID {
			w.Processed = true
		}
	}
	return nil
}

func (f *fakePayments) DeleteWebhooksBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleted = append(f.deleted, cutoff)
	var kept []*domain.PaymentWebhook
	var pruned int64
	for _, w := range f.webhooks {
		if w.Processed && w.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, w)
	}
	f.webhooks = kept
	return pruned, nil
}

type fakeLedger struct {
	confirmed []string
	failed    []string
	result    *domain.WalletTransaction
	err       error
}

func (f *fakeLedger) ConfirmRechargeBySource(_ context.Context, sourceID string) (*domain.WalletTransaction, error) {
	f.confirmed = append(f.confirmed, sourceID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeLedger) FailRechargeBySource(_ context.Context, sourceID, _ string) (*domain.WalletTransaction, error) {
	f.failed = append(f.failed, sourceID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeBookings struct {
	confirmed [][2]string
	err       error
}

func (f *fakeBookings) ConfirmPayment(_ context.Context, bookingID, transactionID string) error {
	f.confirmed = append(f.confirmed, [2]string{bookingID, transactionID})
	return f.err
}

type fakePublisher struct {
	settled []string
	failed  []string
}

func (f *fakePublisher) PublishRechargeSettled(_ context.Context, _, _ int64, transactionID, _ string, _, _ decimal.Decimal) error {
	f.settled = append(f.settled, transactionID)
	return nil
}

func (f *fakePublisher) PublishRechargeFailed(_ context.Context, _, _ int64, transactionID, _, _ string, _ decimal.Decimal) error {
	f.failed = append(f.failed, transactionID)
	return nil
}

type fakeNotify struct{}

func (fakeNotify) Notify(context.Context, int64, string, map[string]any) {}

type fakeGateway struct {
	verifyErr error
	outcome   *domain.SettlementOutcome
	parseErr  error
	checked   []string
}

func (f *fakeGateway) Name() string { return "FAKEPAY" }

func (f *fakeGateway) Open(context.Context, *provider.OpenRequest) (*provider.OpenResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) CheckStatus(_ context.Context, gatewayID string) (*domain.SettlementOutcome, error) {
	f.checked = append(f.checked, gatewayID)
	return f.outcome, nil
}

func (f *fakeGateway) VerifyWebhook([]byte, string) error { return f.verifyErr }

func (f *fakeGateway) ParseWebhook([]byte) (*domain.SettlementOutcome, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.outcome, nil
}

type fixture struct {
	svc      *Service
	payments *fakePayments
	ledger   *fakeLedger
	bookings *fakeBookings
	pub      *fakePublisher
	gateway  *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	payments := newFakePayments()
	ledger := &fakeLedger{result: &domain.WalletTransaction{
		TransactionID: "WRT_1",
		UserID:        1,
		WalletID:      1,
		Amount:        decimal.NewFromInt(5000),
		Currency:      "XOF",
		BalanceAfter:  decimal.NewFromInt(5000),
	}}
	bookings := &fakeBookings{}
	pub := &fakePublisher{}
	gateway := &fakeGateway{}
	registry := provider.NewRegistry()
	registry.Register(gateway)

	svc := NewService(payments, ledger, registry, bookings, pub, fakeNotify{}, nil,
		metrics.New(prometheus.NewRegistry()), zap.NewNop())
	return &fixture{svc: svc, payments: payments, ledger: ledger, bookings: bookings, pub: pub, gateway: gateway}
}

// seedPayment stores a PENDING payment. An empty gatewayID leaves the
// gateway session unset, mimicking an open call that never completed.
func seedPayment(f *fixture, transactionID, gatewayID string, meta map[string]any) *domain.Payment {
	var gwID *string
	if gatewayID != "" {
		gwID = &gatewayID
	}
	p := &domain.Payment{
		TransactionID:        transactionID,
		GatewayTransactionID: gwID,
		Amount:               decimal.NewFromInt(5000),
		Currency:             "XOF",
		Status:               domain.PaymentStatusPending,
		Provider:             "FAKEPAY",
		UserID:               1,
		Metadata:             meta,
	}
	f.payments.Create(context.Background(), p)
	return p
}

func TestHandleOutcome_Completed(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", map[string]any{domain.PaymentMetaType: domain.PaymentTypeWalletRecharge})

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("HandleOutcome() error = %v", err)
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusCompleted {
		t.Errorf("payment status = %s", f.payments.byTxID["PAY_1"].Status)
	}
	if len(f.ledger.confirmed) != 1 || f.ledger.confirmed[0] != "PAY_1" {
		t.Errorf("ledger confirmations = %v", f.ledger.confirmed)
	}
	if len(f.pub.settled) != 1 {
		t.Errorf("settled events = %v", f.pub.settled)
	}
}

func TestHandleOutcome_NoGatewaySession(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "", nil)

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("HandleOutcome() error = %v", err)
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusCompleted {
		t.Errorf("a session without a stored gateway id must settle by merchant reference, status = %s",
			f.payments.byTxID["PAY_1"].Status)
	}
	if len(f.ledger.confirmed) != 1 {
		t.Errorf("ledger confirmations = %v", f.ledger.confirmed)
	}
}

func TestHandleOutcome_TransientCreditErrorRetries(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)
	f.ledger.err = errors.New("deadlock detected")

	outcome := &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	}
	if err := f.svc.HandleOutcome(context.Background(), outcome); err == nil {
		t.Fatal("a transient credit failure must surface to the caller")
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusPending {
		t.Fatalf("payment must stay PENDING until the wallet is credited, got %s",
			f.payments.byTxID["PAY_1"].Status)
	}

	f.ledger.err = nil
	if err := f.svc.HandleOutcome(context.Background(), outcome); err != nil {
		t.Fatalf("retry after recovery error = %v", err)
	}
	if len(f.ledger.confirmed) != 2 {
		t.Errorf("retry must re-attempt the credit, confirmations = %v", f.ledger.confirmed)
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusCompleted {
		t.Errorf("payment status after retry = %s", f.payments.byTxID["PAY_1"].Status)
	}
	if len(f.pub.settled) != 1 {
		t.Errorf("settled events = %v", f.pub.settled)
	}
}

func TestHandleOutcome_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)

	outcome := &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	}
	if err := f.svc.HandleOutcome(context.Background(), outcome); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	if err := f.svc.HandleOutcome(context.Background(), outcome); err != nil {
		t.Fatalf("replay must be a no-op success, got %v", err)
	}
	if len(f.ledger.confirmed) != 1 {
		t.Errorf("replay must not settle twice, confirmations = %v", f.ledger.confirmed)
	}
}

func TestHandleOutcome_UnknownPayment(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_missing",
		Status:               domain.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("unknown payment must be a no-op success, got %v", err)
	}
	if len(f.ledger.confirmed) != 0 {
		t.Errorf("nothing should be settled")
	}
}

func TestHandleOutcome_NothingToSettle(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)
	f.ledger.err = xerrors.ErrNothingToSettle

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("missing pending row must be a no-op success, got %v", err)
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusCompleted {
		t.Errorf("payment must still complete")
	}
}

func TestHandleOutcome_Failed(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusFailed,
		Reason:               "REFUSED",
	})
	if err != nil {
		t.Fatalf("HandleOutcome() error = %v", err)
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusFailed {
		t.Errorf("payment status = %s", f.payments.byTxID["PAY_1"].Status)
	}
	if len(f.ledger.failed) != 1 {
		t.Errorf("ledger failures = %v", f.ledger.failed)
	}
	if len(f.pub.failed) != 1 {
		t.Errorf("failed events = %v", f.pub.failed)
	}
}

func TestHandleOutcome_PendingIgnored(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusPending,
	})
	if err != nil {
		t.Fatalf("non-terminal outcome error = %v", err)
	}
	if len(f.ledger.confirmed)+len(f.ledger.failed) != 0 {
		t.Errorf("non-terminal outcome must not touch the ledger")
	}
}

func TestHandleOutcome_BookingConfirmed(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", map[string]any{
		domain.PaymentMetaType:      domain.PaymentTypeBookingPayment,
		domain.PaymentMetaBookingID: "BKG_9",
	})

	if err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	}); err != nil {
		t.Fatalf("HandleOutcome() error = %v", err)
	}
	if len(f.bookings.confirmed) != 1 || f.bookings.confirmed[0][0] != "BKG_9" {
		t.Errorf("booking confirmations = %v", f.bookings.confirmed)
	}
}

func TestHandleOutcome_BookingFailureDoesNotUnwind(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", map[string]any{
		domain.PaymentMetaType:      domain.PaymentTypeBookingPayment,
		domain.PaymentMetaBookingID: "BKG_9",
	})
	f.bookings.err = errors.New("booking service down")

	err := f.svc.HandleOutcome(context.Background(), &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("booking failure must not fail settlement, got %v", err)
	}
	if f.payments.byTxID["PAY_1"].Status != domain.PaymentStatusCompleted {
		t.Errorf("payment must stay COMPLETED")
	}
	if len(f.ledger.confirmed) != 1 {
		t.Errorf("wallet credit must stand")
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	f.gateway.verifyErr = xerrors.ErrInvalidWebhook

	err := f.svc.HandleWebhook(context.Background(), "FAKEPAY", []byte(`{}`), "bad", "", "")
	if !errors.Is(err, xerrors.ErrInvalidWebhook) {
		t.Fatalf("want ErrInvalidWebhook, got %v", err)
	}
	if len(f.payments.webhooks) != 0 {
		t.Errorf("rejected webhook must not be audited as accepted")
	}
}

func TestHandleWebhook_Settles(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)
	f.gateway.outcome = &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	}

	if err := f.svc.HandleWebhook(context.Background(), "FAKEPAY",
		[]byte(`{"cpm_trans_id":"PAY_1"}`), "sig", "10.0.0.1", "cinetpay"); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if len(f.payments.webhooks) != 1 || !f.payments.webhooks[0].Processed {
		t.Errorf("webhook audit = %+v", f.payments.webhooks)
	}
	if len(f.ledger.confirmed) != 1 {
		t.Errorf("webhook must settle the recharge")
	}
}

func TestHandleWebhook_UnknownProvider(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleWebhook(context.Background(), "NOPAY", []byte(`{}`), "", "", "")
	if !errors.Is(err, xerrors.ErrInvalidWebhook) {
		t.Fatalf("want ErrInvalidWebhook, got %v", err)
	}
}

func TestPollStatus_Converges(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "PAY_1", nil)
	f.gateway.outcome = &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	}

	payment, err := f.svc.PollStatus(context.Background(), "PAY_1")
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want COMPLETED", payment.Status)
	}
	if len(f.ledger.confirmed) != 1 {
		t.Errorf("poll must settle through the same path")
	}
}

func TestPollStatus_NoGatewaySession(t *testing.T) {
	f := newFixture(t)
	seedPayment(f, "PAY_1", "", nil)
	f.gateway.outcome = &domain.SettlementOutcome{
		GatewayTransactionID: "PAY_1",
		Status:               domain.PaymentStatusCompleted,
	}

	payment, err := f.svc.PollStatus(context.Background(), "PAY_1")
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if len(f.gateway.checked) != 1 || f.gateway.checked[0] != "PAY_1" {
		t.Fatalf("poll must fall back to the merchant reference, checked = %v", f.gateway.checked)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want COMPLETED", payment.Status)
	}
	if len(f.ledger.confirmed) != 1 {
		t.Errorf("poll must settle the pending recharge")
	}
}

func TestPollStatus_TerminalShortCircuits(t *testing.T) {
	f := newFixture(t)
	p := seedPayment(f, "PAY_1", "PAY_1", nil)
	p.Status = domain.PaymentStatusCompleted

	payment, err := f.svc.PollStatus(context.Background(), "PAY_1")
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		t.Errorf("status = %s", payment.Status)
	}
	if len(f.ledger.confirmed) != 0 {
		t.Errorf("terminal payment must not hit the gateway or ledger")
	}
}

func TestSweeper(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	f.payments.webhooks = []*domain.PaymentWebhook{
		{ID: 1, Processed: true, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: 2, Processed: false, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: 3, Processed: true, CreatedAt: now.Add(-1 * time.Hour)},
	}

	sweeper := NewSweeper(f.payments, 24*time.Hour, time.Minute,
		metrics.New(prometheus.NewRegistry()), zap.NewNop())
	sweeper.now = func() time.Time { return now }

	sweeper.SweepOnce(context.Background())

	if len(f.payments.webhooks) != 2 {
		t.Fatalf("webhooks left = %d, want 2", len(f.payments.webhooks))
	}
	for _, w := range f.payments.webhooks {
		if w.ID == 1 {
			t.Errorf("expired processed webhook must be pruned")
		}
	}
}
