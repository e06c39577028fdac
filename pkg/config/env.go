package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gasramp-hq/gasramp/pkg/logger"
)

const (
	mainnet = "mainnet"
	testnet = "testnet"

	// DefaultNetwork is the default chain network to disburse on
	DefaultNetwork = testnet

	// DefaultPort defines the default port for the HTTP API server
	DefaultPort = "8080"

	// DefaultRPCURL values per network
	DefaultTestnetRPCURL = "https://rpc-amoy.polygon.technology"
	DefaultMainnetRPCURL = "https://polygon-rpc.com"

	// DefaultUSDPerMatic is the fiat price used to quote purchases
	DefaultUSDPerMatic = 0.5

	// DefaultMinPurchaseMatic is the smallest purchasable amount
	DefaultMinPurchaseMatic = 0.01

	// DefaultMaxPurchaseMatic is the largest purchasable amount
	DefaultMaxPurchaseMatic = 10.0

	// DefaultMaxAttempts defines the maximum number of submission attempts
	DefaultMaxAttempts = 5

	// DefaultRetryBaseDelay defines the base delay for retry backoff
	DefaultRetryBaseDelay = 5 * time.Second

	// DefaultConfirmTimeout defines how long to wait for a transfer to mine
	DefaultConfirmTimeout = 2 * time.Minute

	// DefaultGasMultiplier is applied to the node's suggested gas price
	DefaultGasMultiplier = 1.2

	// DefaultMaxGasPrice defines the maximum gas price for transfers
	DefaultMaxGasPrice = "500000000000" // 500 Gwei

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 60 * time.Second

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 5 * time.Minute

	// DefaultCreateRateWindow and DefaultCreateRateMax bound intent creation per client
	DefaultCreateRateWindow = time.Minute
	DefaultCreateRateMax    = 10

	// DefaultReadRateWindow and DefaultReadRateMax bound status reads per client
	DefaultReadRateWindow = time.Minute
	DefaultReadRateMax    = 120
)

// GetEnvNetwork returns the configured network from environment variables
func GetEnvNetwork() (string, error) {
	network := os.Getenv("NETWORK")
	if network == "" {
		network = DefaultNetwork
	}

	if network != mainnet && network != testnet {
		return "", fmt.Errorf("invalid NETWORK value: %s, must be 'mainnet' or 'testnet'", network)
	}

	return network, nil
}

// GetEnvPort returns the HTTP server port from environment variables
func GetEnvPort() (string, error) {
	port := os.Getenv("PORT")
	if port == "" {
		return DefaultPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvRPCURL returns the chain RPC endpoint for the given network
func GetEnvRPCURL(network string) (string, error) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		if network == mainnet {
			return DefaultMainnetRPCURL, nil
		}
		return DefaultTestnetRPCURL, nil
	}

	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", fmt.Errorf("invalid RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvFundingAddress returns the expected funding account address. When
// set, startup verifies it matches the address derived from PRIVATE_KEY.
func GetEnvFundingAddress() (string, error) {
	fundingAddress := os.Getenv("FUNDING_ADDRESS")
	if fundingAddress == "" {
		return "", nil
	}

	if !common.IsHexAddress(fundingAddress) {
		return "", fmt.Errorf("invalid FUNDING_ADDRESS value: %s, must be a valid address", fundingAddress)
	}
	return fundingAddress, nil
}

// GetEnvProcessorEndpoint returns the payment processor API endpoint
func GetEnvProcessorEndpoint() (string, error) {
	endpoint := os.Getenv("PROCESSOR_API_ENDPOINT")
	if endpoint == "" {
		return "", nil // Processor integration is optional
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid PROCESSOR_API_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvUSDPerMatic returns the fiat price per MATIC from environment variables
func GetEnvUSDPerMatic() (float64, error) {
	price := os.Getenv("USD_PER_MATIC")
	if price == "" {
		return DefaultUSDPerMatic, nil
	}

	parsed, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid USD_PER_MATIC value: %s, must be a number", price)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("USD_PER_MATIC must be greater than 0")
	}
	return parsed, nil
}

// GetEnvPurchaseBounds returns the minimum and maximum purchasable MATIC amounts
func GetEnvPurchaseBounds() (float64, float64, error) {
	min := DefaultMinPurchaseMatic
	if v := os.Getenv("MIN_PURCHASE_MATIC"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid MIN_PURCHASE_MATIC value: %s, must be a number", v)
		}
		min = parsed
	}

	max := DefaultMaxPurchaseMatic
	if v := os.Getenv("MAX_PURCHASE_MATIC"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid MAX_PURCHASE_MATIC value: %s, must be a number", v)
		}
		max = parsed
	}

	if min <= 0 || max <= 0 || min > max {
		return 0, 0, fmt.Errorf("invalid purchase bounds: min %v, max %v", min, max)
	}
	return min, max, nil
}

// GetEnvMaxAttempts returns the maximum number of submission attempts
func GetEnvMaxAttempts() (int, error) {
	maxAttempts := os.Getenv("MAX_ATTEMPTS")
	if maxAttempts == "" {
		return DefaultMaxAttempts, nil
	}

	parsed, err := strconv.Atoi(maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_ATTEMPTS value: %s, must be an integer", maxAttempts)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("MAX_ATTEMPTS must be greater than 0")
	}
	return parsed, nil
}

// GetEnvRetryBaseDelay returns the base delay for retry backoff
func GetEnvRetryBaseDelay() (time.Duration, error) {
	return getEnvDuration("RETRY_BASE_DELAY", DefaultRetryBaseDelay)
}

// GetEnvConfirmTimeout returns the confirmation wait timeout
func GetEnvConfirmTimeout() (time.Duration, error) {
	return getEnvDuration("CONFIRM_TIMEOUT", DefaultConfirmTimeout)
}

// GetEnvGasMultiplier returns the gas price multiplier from environment variables
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	parsed, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if parsed < 1 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be at least 1")
	}
	return parsed, nil
}

// GetEnvMaxGasPrice returns the maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Sign() < 0 {
		return nil, fmt.Errorf("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	return maxGasPriceBig, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker failure threshold
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvAllowedOrigins returns the CORS origin allowlist
func GetEnvAllowedOrigins() []string {
	raw := os.Getenv("ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}

	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// GetEnvRateLimit returns a (window, max requests) pair for the given
// environment variable prefix
func GetEnvRateLimit(prefix string, defaultWindow time.Duration, defaultMax int) (time.Duration, int, error) {
	window, err := getEnvDuration(prefix+"_RATE_WINDOW", defaultWindow)
	if err != nil {
		return 0, 0, err
	}

	max := defaultMax
	if v := os.Getenv(prefix + "_RATE_MAX_REQUESTS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid %s_RATE_MAX_REQUESTS value: %s, must be an integer", prefix, v)
		}
		if parsed <= 0 {
			return 0, 0, fmt.Errorf("%s_RATE_MAX_REQUESTS must be greater than 0", prefix)
		}
		max = parsed
	}

	return window, max, nil
}

// GetEnvLogLevel returns the logging level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch strings.ToLower(level) {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
}

// GetEnvTrustProxyHeaders returns whether forwarding headers identify the
// client for rate limiting. Only enable behind a trusted fronting proxy that
// overwrites X-Forwarded-For.
func GetEnvTrustProxyHeaders() (bool, error) {
	trust := os.Getenv("TRUST_PROXY_HEADERS")
	if trust == "" {
		return false, nil
	}

	if trust == "true" {
		return true, nil
	} else if trust == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid TRUST_PROXY_HEADERS value: %s, must be 'true' or 'false'", trust)
}

// GetEnvLogColoring returns whether log coloring is enabled
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}
