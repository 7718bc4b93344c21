package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered once during wiring and shared by the usecases.
type Metrics struct {
	TransactionsTotal *prometheus.CounterVec
	SettlementsTotal  *prometheus.CounterVec
	WebhooksTotal     *prometheus.CounterVec
	GatewayErrors     *prometheus.CounterVec
	WebhooksPruned    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Name:      "transactions_total",
			Help:      "Ledger transactions by type and status.",
		}, []string{"type", "status"}),
		SettlementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Name:      "settlements_total",
			Help:      "Settlement outcomes by result.",
		}, []string{"result"}),
		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Name:      "payment_webhooks_total",
			Help:      "Inbound payment webhooks by verdict.",
		}, []string{"verdict"}),
		GatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Name:      "gateway_errors_total",
			Help:      "Payment gateway call failures by kind.",
		}, []string{"kind"}),
		WebhooksPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Name:      "payment_webhooks_pruned_total",
			Help:      "Processed webhook audit rows removed by the sweeper.",
		}),
	}
}
