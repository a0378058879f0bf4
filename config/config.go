package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr       string
	CacheDir        string        // default: "data"
	ImageCacheTTL   time.Duration // default: 48h
	KeywordCacheTTL time.Duration // default: 24h

	// Image providers (any subset may be configured)
	UnsplashAccessKey string
	PexelsAPIKey      string
	PixabayAPIKey     string

	// Text generation
	PerplexityAPIKey string
	PerplexityModel  string // default: "sonar"
	MaxTokens        int    // default: 1024
	Temperature      float64

	// Outbound HTTP
	ProviderTimeout time.Duration // default: 10s

	// Pricing / budgets
	PricePer1KTokensUSD float64            // base rate, default 0
	PricingOverrides    map[string]float64 // per-model, from PRICING_JSON
	BudgetHardLimitUSD  *float64           // nil = unlimited
	BudgetWarnLimitUSD  *float64           // nil = no warnings

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string // default: "info"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	// Housekeeping
	SweepInterval time.Duration // default: 1h
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		CacheDir:             getEnv("CACHE_DIR", "data"),
		UnsplashAccessKey:    os.Getenv("UNSPLASH_ACCESS_KEY"),
		PexelsAPIKey:         os.Getenv("PEXELS_API_KEY"),
		PixabayAPIKey:        os.Getenv("PIXABAY_API_KEY"),
		PerplexityAPIKey:     os.Getenv("PPLX_API_KEY"),
		PerplexityModel:      getEnv("PPLX_MODEL", "sonar"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.ImageCacheTTL, err = getDuration("IMAGE_CACHE_TTL", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.KeywordCacheTTL, err = getDuration("KEYWORD_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	maxTokensStr := getEnv("PPLX_MAX_TOKENS", "1024")
	cfg.MaxTokens, err = strconv.Atoi(maxTokensStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PPLX_MAX_TOKENS: %w", err)
	}

	tempStr := getEnv("PPLX_TEMPERATURE", "0.7")
	cfg.Temperature, err = strconv.ParseFloat(tempStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PPLX_TEMPERATURE: %w", err)
	}

	priceStr := getEnv("PRICE_PER_1K_TOKENS_USD", "0")
	cfg.PricePer1KTokensUSD, err = strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_PER_1K_TOKENS_USD: %w", err)
	}

	cfg.PricingOverrides, err = parsePricingJSON(os.Getenv("PRICING_JSON"))
	if err != nil {
		return nil, err
	}

	cfg.BudgetHardLimitUSD, err = getOptionalFloat("TENANT_MONTHLY_BUDGET_USD")
	if err != nil {
		return nil, err
	}
	cfg.BudgetWarnLimitUSD, err = getOptionalFloat("TENANT_MONTHLY_BUDGET_WARN_USD")
	if err != nil {
		return nil, err
	}

	// Rate Limiting Default
	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	cfg.DefaultRateLimitTPM = tpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func parsePricingJSON(raw string) (map[string]float64, error) {
	if raw == "" {
		return map[string]float64{}, nil
	}
	overrides := map[string]float64{}
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("invalid PRICING_JSON: %w", err)
	}
	return overrides, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getOptionalFloat(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &f, nil
}
