package server

import (
	"context"
	"net/http"
	"time"

	"wallet-service/internal/client"
	"wallet-service/internal/config"
	"wallet-service/internal/metrics"
	"wallet-service/internal/middleware"
	"wallet-service/internal/provider"
	"wallet-service/internal/provider/cinetpay"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"
	"wallet-service/internal/router"
	"wallet-service/internal/usecase/settlement"
	"wallet-service/internal/usecase/wallet"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
	db         *pgxpool.Pool
	rdb        *redis.Client
	logger     *zap.Logger
	cancelBG   context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger) *Server {
	db := config.ConnectDB(cfg)
	rdb := config.ConnectRedis(cfg)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	walletRepo := repository.NewWalletRepository(db)
	ledgerRepo := repository.NewTransactionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	gateways := provider.NewRegistry()
	gateways.Register(cinetpay.New(cinetpay.Config{
		BaseURL:   cfg.CinetPayBaseURL,
		APIKey:    cfg.CinetPayAPIKey,
		SiteID:    cfg.CinetPaySiteID,
		SecretKey: cfg.CinetPaySecretKey,
	}))

	users := client.NewUserClient(cfg.UserServiceURL, logger)
	bookings := client.NewBookingClient(cfg.BookingServiceURL, logger)
	notify := client.NewNotificationClient(cfg.NotificationServiceURL, logger)
	publisher := pub.NewWalletEventPublisher(rdb, logger)
	notifier := wallet.NewNotifier(logger)

	walletUC := wallet.NewService(wallet.Config{
		DefaultCurrency: cfg.DefaultCurrency,
		NotifyURL:       cfg.PublicBaseURL + "/api/payments/webhook/" + cinetpay.ProviderName,
		ReturnURL:       cfg.ReturnURL,
	}, walletRepo, ledgerRepo, paymentRepo, users, gateways, publisher, notifier, notify, rdb, m, logger)

	settlementUC := settlement.NewService(paymentRepo, ledgerRepo, gateways, bookings,
		publisher, notify, rdb, m, logger)

	bgCtx, cancelBG := context.WithCancel(context.Background())
	sweeper := settlement.NewSweeper(paymentRepo, cfg.WebhookRetention, cfg.WebhookSweepInterval, m, logger)
	go sweeper.Run(bgCtx)

	auth := middleware.RequireAuth(cfg.JWTSecret, logger)
	r := router.New(walletUC, settlementUC, notifier, auth, promRegistry, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		db:       db,
		rdb:      rdb,
		logger:   logger,
		cancelBG: cancelBG,
	}
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBG()
	defer func() {
		s.db.Close()
		_ = s.rdb.Close()
	}()
	return s.httpServer.Shutdown(ctx)
}
