package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nftstore/internal/checkout"
	"nftstore/internal/config"
	"nftstore/internal/currency"
	"nftstore/internal/delivery"
	"nftstore/internal/order"
	"nftstore/internal/payment"
	"nftstore/internal/provider"
	"nftstore/internal/queue"
	"nftstore/internal/router"
	"nftstore/internal/store"
	"nftstore/internal/sweep"
	"nftstore/internal/vat"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// .env is optional; real environment variables win
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	db, err := store.Open(cfg)
	if err != nil {
		fatal("db open", err)
	}
	if err := store.Migrate(db); err != nil {
		fatal("db migrate", err)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	cur, err := currency.NewStatic(cfg.BaseCurrency, cfg.CurrencyRates, cfg.CurrencyDecimals)
	if err != nil {
		fatal("currency table", err)
	}

	var settlement delivery.Service = delivery.NewMemory()
	if cfg.DeliveryAPIURL != "" {
		settlement = delivery.NewHTTPClient(cfg.DeliveryAPIURL)
	} else {
		slog.Warn("DELIVERY_API_URL not set, transfers stay in memory")
	}

	orders := order.NewManager(db, cur, cfg.OrderExpiration)
	var finOpts []checkout.Option
	if cfg.AddressWhitelistEnabled {
		finOpts = append(finOpts, checkout.WithAddressWhitelist())
	}
	finalizer := checkout.NewFinalizer(db, orders, settlement, finOpts...)

	providers, card, err := buildProviders(cfg, db, cur)
	if err != nil {
		fatal("payment providers", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var bg sync.WaitGroup

	var opts []payment.Option
	if cfg.FinalizeQueueEnabled {
		opts = append(opts, payment.WithFinalizeQueue(queue.NewStreamOutbox(rdb, cfg.FinalizeStream)))
	}
	payments := payment.NewOrchestrator(payment.Deps{
		DB:              db,
		Orders:          orders,
		Providers:       providers,
		VAT:             vat.NewResolver(db, cfg.VATFallbackCountry),
		Currency:        cur,
		Finalizer:       finalizer,
		Delivery:        settlement,
		PromiseDeadline: cfg.PaymentPromiseDeadline,
	}, opts...)

	if cfg.FinalizeQueueEnabled {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, payments)
		defer consumer.Close()
		relay := queue.NewRelay(rdb, producer, cfg.FinalizeStream, cfg.FinalizeGroup, cfg.FinalizeConsumer)

		bg.Add(2)
		go func() { defer bg.Done(); relay.Run(ctx) }()
		go func() { defer bg.Done(); consumer.Run(ctx) }()
	}

	jobs := sweep.NewJobs(db, payments, providers, finalizer, cfg.DeliveryRetryGrace)
	bg.Add(1)
	go func() {
		defer bg.Done()
		sweep.NewRunner(rdb, cfg.SweepInterval).Start(ctx, jobs.All()...)
	}()

	r := gin.Default()
	deps := router.Deps{
		DB:       db,
		Redis:    rdb,
		Orders:   orders,
		Payments: payments,
		Config:   cfg,
	}
	if card != nil {
		deps.Webhooks = card
	}
	router.Setup(r, deps)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http server", err)
		}
	}()
	slog.Info("nftstore listening", "addr", cfg.HTTPAddr, "providers", providers.Names())

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	bg.Wait()
	payments.Wait()
}

// buildProviders enables the adapters that have credentials configured. card
// is nil when card payments are off.
func buildProviders(cfg config.AppConfig, db *gorm.DB, cur currency.Service) (*payment.Registry, *provider.Card, error) {
	var list []payment.Provider
	if cfg.TestProviderEnabled {
		list = append(list, provider.NewTest())
	}

	var card *provider.Card
	if cfg.StripeSecret != "" {
		card = provider.NewCard(provider.NewStripeAPI(cfg.StripeSecret), provider.CardConfig{
			WebhookSecret:   cfg.StripeWebhookSecret,
			CheckoutEnabled: cfg.StripeCheckoutEnabled,
			PaymentMethods:  cfg.StripePaymentMethods,
			StoreFrontURL:   cfg.StoreFrontURL,
		})
		list = append(list, card)
	}

	if cfg.PaypointAddress != "" {
		pp := provider.NewPaypoint(db, cfg.PaypointAddress)
		list = append(list, pp)
		if cfg.WertPrivKey != "" {
			wert, err := provider.NewWert(pp, cfg.WertPrivKey, cfg.WertAllowedFiat, cur)
			if err != nil {
				return nil, nil, err
			}
			list = append(list, wert)
		}
	}

	if cfg.SimplexAPIURL != "" {
		list = append(list, provider.NewSimplex(provider.SimplexConfig{
			APIURL:      cfg.SimplexAPIURL,
			APIKey:      cfg.SimplexAPIKey,
			PublicKey:   cfg.SimplexPublicKey,
			WalletID:    cfg.SimplexWalletID,
			AllowedFiat: cfg.SimplexAllowedFiat,
		}, cur))
	}
	return payment.NewRegistry(list...), card, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
