// Package disburser executes the on-chain transfers fulfilling confirmed
// payment intents. All funding-account submissions flow through one ordered
// queue: the chain requires strictly increasing per-account nonces, and
// concurrent unordered submission corrupts or stalls the account's
// transaction stream.
package disburser

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gasramp-hq/gasramp/pkg/circuitbreaker"
	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/metrics"
	"github.com/gasramp-hq/gasramp/pkg/models"
	"github.com/gasramp-hq/gasramp/pkg/registry"
)

// ChainSender is the subset of the chain client the engine depends on
type ChainSender interface {
	Transfer(ctx context.Context, to common.Address, amountWei *big.Int) (*types.Transaction, error)

	// WaitMined errors never mean the transfer failed, only that the wait
	// ended without a receipt; the engine hands such records to the
	// reconciler rather than retrying the submission
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	FundingAddress() common.Address
}

// Config holds the engine's retry and confirmation settings
type Config struct {
	Network           string
	ConfirmTimeout    time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	ReconcileInterval time.Duration
}

// job is one unit of work for the submit loop
type job struct {
	intentID  string
	attempt   int // 0 = fresh trigger
	errorType string
}

// retryJob is a job scheduled for a later attempt
type retryJob struct {
	job         job
	nextAttempt time.Time
}

// Engine serializes and executes disbursements for confirmed intents
type Engine struct {
	registry *registry.Registry
	chain    ChainSender
	breaker  *circuitbreaker.CircuitBreaker
	cfg      Config
	logger   logger.Logger

	jobs      chan job
	retryJobs chan retryJob

	// transfers whose confirmation wait timed out; the reconciler polls
	// their receipts until they resolve
	pendingMu    sync.Mutex
	pendingWaits map[string]common.Hash
}

// New creates a disbursement engine
func New(reg *registry.Registry, chain ChainSender, breaker *circuitbreaker.CircuitBreaker, cfg Config, log logger.Logger) *Engine {
	return &Engine{
		registry:     reg,
		chain:        chain,
		breaker:      breaker,
		cfg:          cfg,
		logger:       log,
		jobs:         make(chan job, 256), // Buffer for disbursement triggers
		retryJobs:    make(chan retryJob, 256),
		pendingWaits: make(map[string]common.Hash),
	}
}

// Start launches the submit loop, retry handler and reconciler
func (e *Engine) Start(ctx context.Context) {
	e.logger.NoticeWithNetwork(e.cfg.Network, "Starting disbursement engine (confirm timeout %v, max attempts %d)",
		e.cfg.ConfirmTimeout, e.cfg.MaxAttempts)
	go e.submitLoop(ctx)
	go e.retryHandler(ctx)
	go e.reconciler(ctx)
	go e.balanceUpdater(ctx)
	go e.recoverUnsettled(ctx)
}

// Disburse queues an asynchronous disbursement for the intent, reporting
// whether the trigger was accepted. Duplicate triggers for the same intent
// are collapsed by the submit loop's guard. A full queue returns false so
// the caller answers the processor with a failure and at-least-once
// redelivery re-triggers the still-Confirmed record.
func (e *Engine) Disburse(intentID string) bool {
	select {
	case e.jobs <- job{intentID: intentID}:
		metrics.SubmissionQueueSize.Set(float64(len(e.jobs)))
		return true
	default:
		e.logger.Error("Submission queue full, rejecting trigger for intent %s", intentID)
		return false
	}
}

// recoverUnsettled re-queues work left behind by a previous run: confirmed
// records whose trigger was lost and disbursing records whose confirmation
// wait never finished.
func (e *Engine) recoverUnsettled(ctx context.Context) {
	records, err := e.registry.Unsettled(ctx)
	if err != nil {
		e.logger.Error("Failed to list unsettled intents for recovery: %v", err)
		return
	}

	for _, rec := range records {
		switch {
		case rec.State == models.StateConfirmed:
			if !e.Disburse(rec.ID) {
				e.logger.Error("Recovery trigger for intent %s rejected, queue full", rec.ID)
			}
		case rec.State == models.StateDisbursing && rec.TxHash != "":
			e.trackPendingWait(rec.ID, common.HexToHash(rec.TxHash))
		case rec.State == models.StateDisbursing:
			// Crashed between broadcast and hash persistence; resubmitting
			// could pay twice, so this needs an operator
			e.logger.Error("ALERT: intent %s is disbursing with no recorded transaction, manual review required", rec.ID)
		}
	}
	if len(records) > 0 {
		e.logger.NoticeWithNetwork(e.cfg.Network, "Recovered %d unsettled intents", len(records))
	}
}

// retryHandler manages the retry queue
func (e *Engine) retryHandler(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var queue []retryJob

	for {
		select {
		case <-ctx.Done():
			return
		case rj := <-e.retryJobs:
			queue = append(queue, rj)
		case <-ticker.C:
			now := time.Now()
			var remaining []retryJob
			for _, rj := range queue {
				if rj.nextAttempt.Before(now) {
					e.logger.Info("Retrying disbursement for intent %s (attempt #%d, error type: %s)",
						rj.job.intentID, rj.job.attempt, rj.job.errorType)
					select {
					case e.jobs <- rj.job:
					default:
						remaining = append(remaining, rj)
					}
				} else {
					remaining = append(remaining, rj)
				}
			}
			queue = remaining
		}
	}
}

// scheduleRetry queues another attempt with exponential backoff
func (e *Engine) scheduleRetry(j job, errorType string) {
	backoff := calculateBackoff(j.attempt, e.cfg.RetryBaseDelay)
	next := job{intentID: j.intentID, attempt: j.attempt + 1, errorType: errorType}

	metrics.RetryCount.WithLabelValues(errorType).Inc()
	e.logger.Info("Scheduling retry for intent %s in %v (error: %s)", j.intentID, backoff, errorType)

	select {
	case e.retryJobs <- retryJob{job: next, nextAttempt: time.Now().Add(backoff)}:
	default:
		e.logger.Error("Retry queue full, dropping retry for intent %s", j.intentID)
	}
}

// balanceUpdater refreshes the funding balance gauge
func (e *Engine) balanceUpdater(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balance, err := e.chain.BalanceAt(ctx, e.chain.FundingAddress())
			if err != nil {
				e.logger.Debug("Failed to read funding balance: %v", err)
				continue
			}
			matic, _ := new(big.Float).Quo(
				new(big.Float).SetInt(balance),
				big.NewFloat(1e18),
			).Float64()
			metrics.FundingBalance.Set(matic)
		}
	}
}
