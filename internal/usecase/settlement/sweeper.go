package settlement

import (
	"context"
	"time"

	"wallet-service/internal/metrics"
	"wallet-service/internal/repository"

	"go.uber.org/zap"
)

// Sweeper prunes processed webhook audit rows past their retention window.
// It runs as an explicit background task started during wiring; the clock
// is injected so retention math is testable.
type Sweeper struct {
	payments  repository.PaymentRepository
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(payments repository.PaymentRepository, retention, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		payments:  payments,
		retention: retention,
		interval:  interval,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("webhook sweeper started",
		zap.Duration("retention", s.retention),
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("webhook sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	pruned, err := s.payments.DeleteWebhooksBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("webhook sweep failed", zap.Error(err))
		return
	}
	if pruned > 0 {
		s.metrics.WebhooksPruned.Add(float64(pruned))
		s.logger.Info("webhook audit rows pruned",
			zap.Int64("count", pruned),
			zap.Time("cutoff", cutoff))
	}
}
