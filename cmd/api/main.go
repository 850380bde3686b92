package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bullionclear/clearing/internal/app"
	"github.com/bullionclear/clearing/internal/clock"
	"github.com/bullionclear/clearing/internal/config"
	"github.com/bullionclear/clearing/internal/events"
	"github.com/bullionclear/clearing/internal/pricing"
	railstripe "github.com/bullionclear/clearing/internal/rail/stripe"
	"github.com/bullionclear/clearing/internal/storage/postgres"
	transporthttp "github.com/bullionclear/clearing/internal/transport/http"
	"github.com/bullionclear/clearing/migrations"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect to db", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	clk := clock.NewSystem()

	var oracle pricing.Oracle = pricing.NewFixed(cfg.SpotPerGramCents, clk)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		oracle = pricing.NewCached(oracle, redis.NewClient(opts), cfg.SpotCacheTTL)
	}

	publisher := events.NewNop()
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer func() { _ = publisher.Close() }()

	policy := app.NewThresholdPolicy(clk)

	listingRepo := postgres.NewListingRepository(pool)
	listingSvc := app.NewListingService(listingRepo, clk)

	checkoutRepo := postgres.NewCheckoutRepository(pool)
	checkoutSvc := app.NewCheckoutService(checkoutRepo, oracle, policy, clk, logger,
		app.WithReservationTTL(cfg.ReservationTTL))

	settlementRepo := postgres.NewSettlementRepository(pool)
	settlementSvc := app.NewSettlementService(settlementRepo, publisher, clk, logger)

	journalRepo := postgres.NewJournalRepository(pool)
	ledgerSvc := app.NewLedgerService(journalRepo, clk)

	payoutRepo := postgres.NewPayoutRepository(pool)
	payoutSvc := app.NewPayoutService(payoutRepo, settlementSvc, railstripe.New(cfg.StripeSecretKey), publisher, clk, logger,
		app.WithLedger(ledgerSvc))

	certificateRepo := postgres.NewCertificateRepository(pool)
	certificateSvc := app.NewCertificateService(certificateRepo, ledgerSvc, publisher, clk, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", transporthttp.HealthHandler)
	mux.Handle("/listings", transporthttp.HandleCreateListing(listingSvc))
	mux.Handle("/listings/", transporthttp.HandleListing(listingSvc))
	mux.Handle("/checkout", transporthttp.HandleCheckout(checkoutSvc, settlementSvc, cfg.RailName))
	mux.Handle("/settlements/", transporthttp.NewSettlementHandler(settlementSvc, payoutSvc, certificateSvc))
	mux.Handle("/", transporthttp.NotFoundHandler())

	handler := transporthttp.RequestLogger(transporthttp.CORS(cfg.CORSOrigins, mux), logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweeper(sweepCtx, checkoutSvc, clk, cfg.SweepInterval, logger)

	logger.Info("api listening", zap.String("port", cfg.Port))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// runSweeper periodically releases expired reservations back to
// available inventory.
func runSweeper(ctx context.Context, svc *app.CheckoutService, clk clock.Clock, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireReservations(ctx, clk.Now()); err != nil {
				logger.Error("reservation sweep", zap.Error(err))
			}
		}
	}
}
