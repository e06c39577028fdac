package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gasramp-hq/gasramp/pkg/logger"
)

// Config holds the configuration for the gas disbursement service
type Config struct {
	Port    string
	Network string
	RPCURL  string

	PrivateKey     string
	FundingAddress string

	ProcessorAPIEndpoint string
	ProcessorSecretKey   string
	WebhookSigningSecret string

	USDPerMatic      float64
	MinPurchaseMatic float64
	MaxPurchaseMatic float64

	MaxAttempts    int
	RetryBaseDelay time.Duration
	ConfirmTimeout time.Duration
	GasMultiplier  float64
	MaxGasPrice    *big.Int

	DatabaseURL       string
	AllowedOrigins    []string
	MetricsAPIKey     string
	TrustProxyHeaders bool

	CreateRate RateLimitConfig
	ReadRate   RateLimitConfig

	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// RateLimitConfig bounds request volume per client for a route group
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	network, err := GetEnvNetwork()
	if err != nil {
		return nil, err
	}

	port, err := GetEnvPort()
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvRPCURL(network)
	if err != nil {
		return nil, err
	}

	fundingAddress, err := GetEnvFundingAddress()
	if err != nil {
		return nil, err
	}

	processorEndpoint, err := GetEnvProcessorEndpoint()
	if err != nil {
		return nil, err
	}

	usdPerMatic, err := GetEnvUSDPerMatic()
	if err != nil {
		return nil, err
	}

	minPurchase, maxPurchase, err := GetEnvPurchaseBounds()
	if err != nil {
		return nil, err
	}

	maxAttempts, err := GetEnvMaxAttempts()
	if err != nil {
		return nil, err
	}

	retryBaseDelay, err := GetEnvRetryBaseDelay()
	if err != nil {
		return nil, err
	}

	confirmTimeout, err := GetEnvConfirmTimeout()
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	maxGasPrice, err := GetEnvMaxGasPrice()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	createWindow, createMax, err := GetEnvRateLimit("CREATE", DefaultCreateRateWindow, DefaultCreateRateMax)
	if err != nil {
		return nil, err
	}

	readWindow, readMax, err := GetEnvRateLimit("READ", DefaultReadRateWindow, DefaultReadRateMax)
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	trustProxyHeaders, err := GetEnvTrustProxyHeaders()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                 port,
		Network:              network,
		RPCURL:               rpcURL,
		PrivateKey:           os.Getenv("PRIVATE_KEY"),
		FundingAddress:       fundingAddress,
		ProcessorAPIEndpoint: processorEndpoint,
		ProcessorSecretKey:   os.Getenv("PROCESSOR_SECRET_KEY"),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		USDPerMatic:          usdPerMatic,
		MinPurchaseMatic:     minPurchase,
		MaxPurchaseMatic:     maxPurchase,
		MaxAttempts:          maxAttempts,
		RetryBaseDelay:       retryBaseDelay,
		ConfirmTimeout:       confirmTimeout,
		GasMultiplier:        gasMultiplier,
		MaxGasPrice:          maxGasPrice,
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		AllowedOrigins:       GetEnvAllowedOrigins(),
		MetricsAPIKey:        os.Getenv("METRICS_API_KEY"),
		TrustProxyHeaders:    trustProxyHeaders,
		CreateRate: RateLimitConfig{
			Window:      createWindow,
			MaxRequests: createMax,
		},
		ReadRate: RateLimitConfig{
			Window:      readWindow,
			MaxRequests: readMax,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.WebhookSigningSecret == "" {
		return fmt.Errorf("WEBHOOK_SIGNING_SECRET environment variable is required")
	}
	if cfg.ProcessorAPIEndpoint != "" && cfg.ProcessorSecretKey == "" {
		return fmt.Errorf("PROCESSOR_SECRET_KEY is required when PROCESSOR_API_ENDPOINT is set")
	}
	return nil
}
