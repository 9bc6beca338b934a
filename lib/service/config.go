package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseUri                    string          `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns               int             `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns           int             `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime        int             `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	DatabaseTimeout                int             `envconfig:"DATABASE_TIMEOUT" default:"60"`             // 60 seconds
	SentryDSN                      string          `envconfig:"SENTRY_DSN"`
	DatadogAgentUrl                string          `envconfig:"DATADOG_AGENT_URL"`
	SentryTracesSampleRate         float64         `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath                    string          `envconfig:"LOG_FILE_PATH"`
	AdminToken                     string          `envconfig:"ADMIN_TOKEN"`
	Host                           string          `envconfig:"HOST" default:"localhost:3000"`
	Port                           int             `envconfig:"PORT" default:"3000"`
	DefaultRateLimit               int             `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit                int             `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit                 int             `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus               bool            `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort                 int             `envconfig:"PROMETHEUS_PORT" default:"9092"`
	WebhookUrl                     string          `envconfig:"WEBHOOK_URL"`
	RabbitMQUri                    string          `envconfig:"RABBITMQ_URI"`
	RabbitMQFulfillmentExchange    string          `envconfig:"RABBITMQ_FULFILLMENT_EXCHANGE" default:"payhub_fulfillment"`
	RabbitMQSettlementExchange     string          `envconfig:"RABBITMQ_SETTLEMENT_EXCHANGE" default:"payhub_transaction"`
	RabbitMQChainTransferExchange  string          `envconfig:"RABBITMQ_CHAIN_TRANSFER_EXCHANGE" default:"chain_transfer"`
	RabbitMQChainTransferQueueName string          `envconfig:"RABBITMQ_CHAIN_TRANSFER_QUEUE_NAME" default:"chain_transfer_consumer"`
	RedisURL                       string          `envconfig:"REDIS_URL"`
	OracleURL                      string          `envconfig:"ORACLE_URL" default:"https://api.binance.com"`
	OracleTimeout                  time.Duration   `envconfig:"ORACLE_TIMEOUT" default:"10s"`
	OracleCacheTTL                 time.Duration   `envconfig:"ORACLE_CACHE_TTL" default:"30s"`
	StableCurrencies               []string        `envconfig:"STABLE_CURRENCIES" default:"USDT"`
	TokenRegistryPath              string          `envconfig:"TOKEN_REGISTRY_PATH"`
	InvoiceTTL                     time.Duration   `envconfig:"INVOICE_TTL" default:"12h"`
	MaxOpenInvoices                int             `envconfig:"MAX_OPEN_INVOICES" default:"30"`
	CryptomusApiKey                string          `envconfig:"CRYPTOMUS_API_KEY"`
	StripeWebhookSecret            string          `envconfig:"STRIPE_WEBHOOK_SECRET"`
	CryptoSecretKey                string          `envconfig:"CRYPTO_SECRET_KEY"`
	ProductCommissions             CommissionMap   `envconfig:"PRODUCT_COMMISSIONS" default:"proxy=0.1;account=0.1;soft=0.1"`
	DefaultCommission              decimal.Decimal `envconfig:"DEFAULT_COMMISSION" default:"0.1"`
	ReferralLevels                 RateList        `envconfig:"REFERRAL_LEVELS" default:"5,3,1"`
	ReferralCeiling                decimal.Decimal `envconfig:"REFERRAL_CEILING" default:"500"`
	ReferralHold                   time.Duration   `envconfig:"REFERRAL_HOLD" default:"72h"`
	EnableScanner                  bool            `envconfig:"ENABLE_SCANNER" default:"true"`
	ScannerInterval                time.Duration   `envconfig:"SCANNER_INTERVAL" default:"10s"`
	FulfillmentTimeout             time.Duration   `envconfig:"FULFILLMENT_TIMEOUT" default:"5s"`
}

// envconfig map decoder uses colon (:) as the default separator
// we override it so category names and rates read like "proxy=0.1;account=0.15"

type CommissionMap map[string]decimal.Decimal

func (cm *CommissionMap) Decode(value string) error {
	m := map[string]decimal.Decimal{}
	if value == "" {
		*cm = m
		return nil
	}
	for _, pair := range strings.Split(value, ";") {
		kvpair := strings.Split(pair, "=")
		if len(kvpair) != 2 {
			return fmt.Errorf("invalid map item: %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(kvpair[1]))
		if err != nil {
			return fmt.Errorf("invalid commission rate %q: %w", kvpair[1], err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("commission rate out of range: %q", pair)
		}
		m[strings.TrimSpace(kvpair[0])] = rate
	}
	*cm = m
	return nil
}

// RateList holds per-level referral rates configured as percents ("5,3,1")
// and stored as fractions.
type RateList []decimal.Decimal

func (rl *RateList) Decode(value string) error {
	rates := RateList{}
	if value == "" {
		*rl = rates
		return nil
	}
	for _, item := range strings.Split(value, ",") {
		percent, err := decimal.NewFromString(strings.TrimSpace(item))
		if err != nil {
			return fmt.Errorf("invalid referral level %q: %w", item, err)
		}
		rates = append(rates, percent.Div(decimal.NewFromInt(100)))
	}
	*rl = rates
	return nil
}

// CommissionFor returns the platform commission rate of a product category.
func (c *Config) CommissionFor(category string) decimal.Decimal {
	if rate, ok := c.ProductCommissions[category]; ok {
		return rate
	}
	return c.DefaultCommission
}

// IsStableCurrency reports whether the currency is quoted 1:1 to USD.
func (c *Config) IsStableCurrency(currency string) bool {
	for _, stable := range c.StableCurrencies {
		if strings.EqualFold(stable, currency) {
			return true
		}
	}
	return false
}
