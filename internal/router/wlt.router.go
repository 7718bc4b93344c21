package router

import (
	"net/http"

	"wallet-service/internal/handler"
	"wallet-service/internal/middleware"
	"wallet-service/internal/usecase/settlement"
	"wallet-service/internal/usecase/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func New(
	walletUC *wallet.Service,
	settlementUC *settlement.Service,
	notifier *wallet.Notifier,
	auth *middleware.AuthMiddleware,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Aggregator callbacks authenticate by signature, not bearer token.
	r.Post("/api/payments/webhook/{provider}", handler.PaymentWebhookHandler(settlementUC, logger))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/api", func(r chi.Router) {
			r.Route("/wallet", func(r chi.Router) {
				r.Get("/balance", handler.BalanceHandler(walletUC))
				r.Get("/details", handler.DetailsHandler(walletUC))
				r.Put("/settings", handler.UpdateSettingsHandler(walletUC))
				r.Post("/recharge", handler.RechargeHandler(walletUC))
				r.Post("/transfer", handler.TransferHandler(walletUC))
				r.Get("/transactions", handler.ListTransactionsHandler(walletUC))
				r.Get("/transactions/{id}", handler.GetTransactionHandler(walletUC))
				r.Get("/stats", handler.StatsHandler(walletUC))
			})
			r.Get("/payments/{transactionId}/status", handler.PaymentStatusHandler(settlementUC))
			r.Get("/ws/wallet", handler.WalletWSHandler(walletUC, notifier, logger))
		})
	})

	return r
}
