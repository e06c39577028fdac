package disburser

import (
	"math"
	"strings"
	"time"
)

// classifyTransferError classifies errors to determine if a retry should be
// attempted. Returns (shouldRetry, errorType).
func classifyTransferError(err error) (bool, string) {
	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return true, "network_error"
	}

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "gas price too low") ||
		strings.Contains(errStr, "gas price too high") {
		return true, "gas_error"
	}

	// Nonce-related errors - retry may help after nonce is corrected
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return true, "nonce_error"
	}

	// Balance-related errors - permanent failures, the funding account
	// needs a top-up before anything can proceed
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, "insufficient_funds"
	}

	// Recipient/transaction errors - permanent failures
	if strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "invalid recipient") ||
		strings.Contains(errStr, "invalid amount") {
		return false, "invalid_transfer"
	}

	// Any other error - retry by default
	return true, "unknown_error"
}

// calculateBackoff calculates the backoff duration for retry attempts
func calculateBackoff(attempt int, baseDelay time.Duration) time.Duration {
	// Exponential backoff (2^attempt * base delay)
	backoff := time.Duration(math.Pow(2, float64(attempt))) * baseDelay

	// Set a maximum backoff of 2 minutes
	maxBackoff := 2 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}
