// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// FX providers.
const (
	FXProviderERAPI = "erapi"
	FXProviderCBR   = "cbr"
	FXProviderNone  = "none"
)

// Config holds application configuration
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	StoreDriver string
	DatabaseURL string

	JWTSecret string

	BaseCurrency    string
	FXProvider      string
	FXAPIURL        string
	CBRURL          string
	FXRatesFallback string

	AttachmentsBucket string
	GCPProject        string
	BQDataset         string

	ScheduleRecurring string
	ScheduleFX        string
	ScheduleReconcile string
	ScheduleExport    string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates a Config from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		BaseCurrency:    strings.ToUpper(strings.TrimSpace(getEnv("BASE_CURRENCY", "USD"))),
		FXProvider:      strings.ToLower(getEnv("FX_PROVIDER", FXProviderERAPI)),
		FXAPIURL:        getEnv("FX_API_URL", "https://open.er-api.com/v6/latest"),
		CBRURL:          getEnv("CBR_URL", "https://www.cbr.ru/scripts/XML_daily.asp"),
		FXRatesFallback: getEnv("FX_RATES_FALLBACK", ""),

		AttachmentsBucket: getEnv("ATTACHMENTS_BUCKET", ""),
		GCPProject:        getEnv("GCP_PROJECT", ""),
		BQDataset:         getEnv("BQ_DATASET", "ledger"),

		ScheduleRecurring: getEnv("SCHEDULE_RECURRING", "*/15 * * * *"),
		ScheduleFX:        getEnv("SCHEDULE_FX", "0 6 * * *"),
		ScheduleReconcile: getEnv("SCHEDULE_RECONCILE", "30 3 * * *"),
		ScheduleExport:    getEnv("SCHEDULE_EXPORT", "0 2 * * *"),
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.FXProvider {
	case FXProviderERAPI, FXProviderCBR, FXProviderNone:
	default:
		return nil, fmt.Errorf("unknown FX_PROVIDER %q", cfg.FXProvider)
	}

	if len(cfg.BaseCurrency) != 3 {
		return nil, fmt.Errorf("BASE_CURRENCY must be a 3-letter ISO code")
	}

	return cfg, nil
}

// AnalyticsEnabled reports whether BigQuery export is configured.
func (c *Config) AnalyticsEnabled() bool {
	return c.GCPProject != "" && c.BQDataset != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
