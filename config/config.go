package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MerchantRoute maps a card number prefix to the gateway merchant id used for
// that card network. Routes are tried in order; the first prefix match wins.
type MerchantRoute struct {
	Prefix     string
	MerchantID string
}

// ProviderConfig carries everything the 3DS gateway integration needs. It is
// validated once at startup and injected into the payload builder and payment
// service; nothing reads provider credentials from the environment after load.
type ProviderConfig struct {
	// ThreeDSURL is the hosted-redirect endpoint the rendered form posts to.
	ThreeDSURL string

	CompanyID string
	BranchID  string
	Country   string
	User      string
	Password  string

	// EnvelopeID is the static business identifier placed in data0 of the
	// envelope document.
	EnvelopeID string

	// EncryptionKey is the pre-shared 128-bit key as a 32-char hex string.
	EncryptionKey string

	DefaultCurrency string
	CobroCode       string
	TestIP          string

	Merchants         []MerchantRoute
	DefaultMerchantID string
}

type Config struct {
	Port string
	Env  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL     string
	KafkaBrokers string
	KafkaTopic   string

	PaymentSNSTopicARN string

	SessionTTL    time.Duration
	SweepInterval time.Duration

	Provider ProviderConfig
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("APP_ENV", "development"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "America/Mexico_City"),

		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payment.events"),

		PaymentSNSTopicARN: os.Getenv("PAYMENT_SNS_TOPIC_ARN"),

		SessionTTL:    getDuration("PAYMENT_SESSION_TTL", 2*time.Hour),
		SweepInterval: getDuration("PAYMENT_SWEEP_INTERVAL", 10*time.Minute),

		Provider: ProviderConfig{
			ThreeDSURL: os.Getenv("PROVIDER_3DS_URL"),

			CompanyID: os.Getenv("PROVIDER_COMPANY_ID"),
			BranchID:  os.Getenv("PROVIDER_BRANCH_ID"),
			Country:   getEnv("PROVIDER_COUNTRY", "MEX"),
			User:      os.Getenv("PROVIDER_USER"),
			Password:  os.Getenv("PROVIDER_PASSWORD"),

			EnvelopeID:    os.Getenv("PROVIDER_ENVELOPE_ID"),
			EncryptionKey: os.Getenv("PROVIDER_ENCRYPTION_KEY"),

			DefaultCurrency: getEnv("PROVIDER_DEFAULT_CURRENCY", "MXN"),
			CobroCode:       getEnv("PROVIDER_COBRO_CODE", "1"),
			TestIP:          getEnv("PROVIDER_TEST_IP", ""),

			Merchants:         merchantTable(),
			DefaultMerchantID: os.Getenv("PROVIDER_MERCHANT_DEFAULT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merchantTable builds the card-prefix routing table from the per-network
// merchant id variables. Longer prefixes are listed first so Amex ranges win
// over a bare Mastercard "3x" style rule added later.
func merchantTable() []MerchantRoute {
	var routes []MerchantRoute
	if amex := os.Getenv("PROVIDER_MERCHANT_AMEX"); amex != "" {
		routes = append(routes, MerchantRoute{Prefix: "34", MerchantID: amex})
		routes = append(routes, MerchantRoute{Prefix: "37", MerchantID: amex})
	}
	if visa := os.Getenv("PROVIDER_MERCHANT_VISA"); visa != "" {
		routes = append(routes, MerchantRoute{Prefix: "4", MerchantID: visa})
	}
	if mc := os.Getenv("PROVIDER_MERCHANT_MASTERCARD"); mc != "" {
		routes = append(routes, MerchantRoute{Prefix: "5", MerchantID: mc})
	}
	return routes
}

// validate fails at startup, not at first transaction.
func (c *Config) validate() error {
	var missing []string
	required := map[string]string{
		"POSTGRES_USER":           c.PostgresUser,
		"POSTGRES_PASSWORD":       c.PostgresPassword,
		"POSTGRES_DB":             c.PostgresDB,
		"PROVIDER_3DS_URL":        c.Provider.ThreeDSURL,
		"PROVIDER_COMPANY_ID":     c.Provider.CompanyID,
		"PROVIDER_BRANCH_ID":      c.Provider.BranchID,
		"PROVIDER_USER":           c.Provider.User,
		"PROVIDER_PASSWORD":       c.Provider.Password,
		"PROVIDER_ENVELOPE_ID":    c.Provider.EnvelopeID,
		"PROVIDER_ENCRYPTION_KEY": c.Provider.EncryptionKey,
	}
	for key, val := range required {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(c.Provider.Merchants) == 0 && c.Provider.DefaultMerchantID == "" {
		missing = append(missing, "PROVIDER_MERCHANT_DEFAULT")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
