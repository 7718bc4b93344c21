package provider

import (
	"context"
	"fmt"

	"wallet-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Gateway is the contract every payment aggregator adapter implements.
type Gateway interface {
	// Name returns the provider name used for registry lookup.
	Name() string

	// Open creates a checkout session with the aggregator.
	Open(ctx context.Context, req *OpenRequest) (*OpenResponse, error)

	// CheckStatus queries the aggregator for the payment's current state.
	CheckStatus(ctx context.Context, gatewayTransactionID string) (*domain.SettlementOutcome, error)

	// VerifyWebhook authenticates an inbound callback before it is parsed.
	VerifyWebhook(payload []byte, signature string) error

	// ParseWebhook extracts the settlement outcome from a verified callback.
	ParseWebhook(payload []byte) (*domain.SettlementOutcome, error)
}

type OpenRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	PaymentMethod string
	ReturnURL     string
	NotifyURL     string
}

type OpenResponse struct {
	GatewayTransactionID string
	PaymentURL           string
	RawResponse          map[string]any
}

// Registry holds the configured gateways. Adapters are constructed during
// wiring and registered explicitly; nothing self-registers at init time.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Name()] = g
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider: %s", name)
	}
	return g, nil
}
