package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// AppConfig aggregates runtime configuration. Everything is injected through
// environment variables; cmd/server also loads a .env file when present.
type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// DBDriver is "mysql" or "sqlite".
	DBDriver   string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath     string `env:"DB_PATH" envDefault:"nftstore.db"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBHost     string `env:"DB_HOST"` // host, tcp(host:port), unix(/path) or /socket/path
	DBPort     string `env:"DB_PORT" envDefault:"3306"`
	DBName     string `env:"DB_NAME"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Finalization queue: Redis Stream outbox, relayed to Kafka.
	FinalizeQueueEnabled bool     `env:"FINALIZE_QUEUE_ENABLED" envDefault:"false"`
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic           string   `env:"KAFKA_TOPIC" envDefault:"nftstore-order-finalize"`
	KafkaGroupID         string   `env:"KAFKA_GROUP_ID" envDefault:"nftstore-finalizer"`
	FinalizeStream       string   `env:"FINALIZE_STREAM" envDefault:"nftstore:finalize_events"`
	FinalizeGroup        string   `env:"FINALIZE_GROUP" envDefault:"nftstore-relay-group"`
	FinalizeConsumer     string   `env:"FINALIZE_CONSUMER" envDefault:"nftstore-relay-1"`

	OrderExpiration        time.Duration `env:"ORDER_EXPIRATION" envDefault:"30m"`
	PaymentPromiseDeadline time.Duration `env:"PAYMENT_PROMISE_DEADLINE" envDefault:"1h"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	DeliveryRetryGrace     time.Duration `env:"DELIVERY_RETRY_GRACE" envDefault:"5m"`

	AddressWhitelistEnabled bool `env:"ADDRESS_WHITELIST_ENABLED" envDefault:"false"`

	BaseCurrency string `env:"BASE_CURRENCY" envDefault:"USD"`
	// CurrencyRates is units of currency per one base currency unit, e.g. "EUR:0.92,XTZ:1.31".
	CurrencyRates map[string]string `env:"CURRENCY_RATES" envSeparator:"," envKeyValSeparator:":"`
	// CurrencyDecimals overrides the built-in decimals table, e.g. "XTZ:6".
	CurrencyDecimals map[string]string `env:"CURRENCY_DECIMALS" envSeparator:"," envKeyValSeparator:":"`

	VATFallbackCountry string `env:"VAT_FALLBACK_COUNTRY" envDefault:"NL"`

	TestProviderEnabled bool `env:"PAYMENT_TEST_PROVIDER_ENABLED" envDefault:"false"`

	StripeSecret          string   `env:"STRIPE_SECRET"`
	StripeWebhookSecret   string   `env:"STRIPE_WEBHOOK_SECRET"`
	StripeCheckoutEnabled bool     `env:"STRIPE_CHECKOUT_ENABLED" envDefault:"false"`
	StripePaymentMethods  []string `env:"STRIPE_PAYMENT_METHODS" envSeparator:"," envDefault:"card"`
	StoreFrontURL         string   `env:"STORE_FRONT_URL" envDefault:"http://localhost:3000"`

	PaypointAddress string `env:"PAYPOINT_ADDRESS"`

	WertPrivKey     string   `env:"WERT_PRIV_KEY"` // hex ed25519 seed or private key
	WertAllowedFiat []string `env:"WERT_ALLOWED_FIAT" envSeparator:"," envDefault:"USD,EUR"`

	SimplexAPIURL      string   `env:"SIMPLEX_API_URL"`
	SimplexAPIKey      string   `env:"SIMPLEX_API_KEY"`
	SimplexPublicKey   string   `env:"SIMPLEX_PUBLIC_KEY"`
	SimplexWalletID    string   `env:"SIMPLEX_WALLET_ID"`
	SimplexAllowedFiat []string `env:"SIMPLEX_ALLOWED_FIAT" envSeparator:"," envDefault:"USD"`

	// DeliveryAPIURL is the settlement service; empty selects the in-memory one.
	DeliveryAPIURL string `env:"DELIVERY_API_URL"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-jwt-secret"`

	CreatePaymentRateLimit  int           `env:"CREATE_PAYMENT_RATE_LIMIT" envDefault:"20"`
	CreatePaymentRateWindow time.Duration `env:"CREATE_PAYMENT_RATE_WINDOW" envDefault:"1m"`
}

// Load parses and validates configuration.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (cfg *AppConfig) Validate() error {
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBPath == "" {
			return fmt.Errorf("DB_PATH must not be empty for sqlite")
		}
	case "mysql":
		if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
			return fmt.Errorf("DB_USER, DB_HOST and DB_NAME are required for mysql")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", cfg.DBDriver)
	}

	if cfg.OrderExpiration <= 0 {
		return fmt.Errorf("ORDER_EXPIRATION must be > 0")
	}
	if cfg.PaymentPromiseDeadline <= 0 {
		return fmt.Errorf("PAYMENT_PROMISE_DEADLINE must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if cfg.BaseCurrency == "" {
		return fmt.Errorf("BASE_CURRENCY must not be empty")
	}
	if cfg.VATFallbackCountry == "" {
		return fmt.Errorf("VAT_FALLBACK_COUNTRY must not be empty")
	}
	if cfg.CreatePaymentRateLimit <= 0 {
		return fmt.Errorf("CREATE_PAYMENT_RATE_LIMIT must be > 0")
	}
	if cfg.CreatePaymentRateWindow < time.Second {
		return fmt.Errorf("CREATE_PAYMENT_RATE_WINDOW must be >= 1s")
	}

	if cfg.FinalizeQueueEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" || cfg.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_TOPIC and KAFKA_GROUP_ID must not be empty")
		}
		if cfg.FinalizeStream == "" || cfg.FinalizeGroup == "" || cfg.FinalizeConsumer == "" {
			return fmt.Errorf("FINALIZE_STREAM, FINALIZE_GROUP and FINALIZE_CONSUMER must not be empty")
		}
	}
	if cfg.StripeSecret != "" && cfg.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET is set")
	}
	return nil
}
