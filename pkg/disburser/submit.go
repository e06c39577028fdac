package disburser

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gasramp-hq/gasramp/pkg/metrics"
	"github.com/gasramp-hq/gasramp/pkg/models"
)

// errWaitUnresolved marks a confirmation wait that ended without a receipt,
// whether by timeout or a broken wait. The submission itself may still land,
// so this is never retried; the record stays Disbursing and the reconciler
// resolves it.
var errWaitUnresolved = errors.New("confirmation wait unresolved")

// submitLoop drains the job queue one submission at a time. This single
// goroutine is the exclusive-submission discipline for the funding account.
func (e *Engine) submitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.logger.Notice("Submit loop shutting down")
			return
		case j := <-e.jobs:
			metrics.SubmissionQueueSize.Set(float64(len(e.jobs)))
			e.process(ctx, j)
		}
	}
}

// process handles a single disbursement job
func (e *Engine) process(ctx context.Context, j job) {
	if j.attempt == 0 {
		// Fresh trigger: claim the Confirmed -> Disbursing transition. Only
		// one of any number of duplicate triggers wins the claim; the rest
		// are no-ops for records already disbursing, settled, or never
		// confirmed at all.
		_, applied, err := e.registry.Transition(ctx, j.intentID, models.Event{
			Type: models.EventDisbursementStarted,
		})
		if err != nil {
			e.logger.Error("Failed to claim disbursement for intent %s: %v", j.intentID, err)
			return
		}
		if !applied {
			e.logger.Debug("Skipping duplicate disbursement trigger for intent %s", j.intentID)
			return
		}
	} else {
		// Retry attempt: the record must still be mid-disbursement
		rec, err := e.registry.Get(ctx, j.intentID)
		if err != nil {
			e.logger.Error("Failed to load intent %s for retry: %v", j.intentID, err)
			return
		}
		if rec.State != models.StateDisbursing {
			e.logger.Debug("Intent %s no longer disbursing (state %s), dropping retry", j.intentID, rec.State)
			return
		}
	}

	if e.breaker != nil && e.breaker.IsEnabled() && e.breaker.IsOpen() {
		e.logger.Notice("Circuit breaker open, deferring disbursement for intent %s", j.intentID)
		e.scheduleRetry(j, "circuit_breaker_open")
		return
	}

	rec, err := e.registry.Get(ctx, j.intentID)
	if err != nil {
		e.logger.Error("Failed to load intent %s: %v", j.intentID, err)
		return
	}

	start := time.Now()
	err = e.submit(ctx, rec)
	if err == nil {
		metrics.DisbursementDuration.WithLabelValues(e.cfg.Network).Observe(time.Since(start).Seconds())
		return
	}

	if errors.Is(err, errWaitUnresolved) {
		// Tracked by the reconciler; nothing more to do here
		e.logger.NoticeWithNetwork(e.cfg.Network, "Confirmation wait unresolved for intent %s, reconciler will follow up", j.intentID)
		return
	}

	if e.breaker != nil {
		e.breaker.RecordFailure()
	}

	shouldRetry, errorType := classifyTransferError(err)
	e.logger.ErrorWithNetwork(e.cfg.Network, "Disbursement for intent %s failed (%s): %v", j.intentID, errorType, err)

	if !shouldRetry {
		metrics.PermanentErrors.WithLabelValues(errorType).Inc()
		e.fail(ctx, j.intentID, fmt.Sprintf("%s: %v", errorType, err))
		return
	}

	if j.attempt+1 >= e.cfg.MaxAttempts {
		e.logger.Error("Max retries reached for intent %s, giving up (error: %s)", j.intentID, errorType)
		metrics.MaxRetriesReached.WithLabelValues(errorType).Inc()
		e.fail(ctx, j.intentID, fmt.Sprintf("retries exhausted after %d attempts: %s", j.attempt+1, errorType))
		return
	}

	e.scheduleRetry(j, errorType)
}

// submit sends the transfer and waits for on-chain confirmation. No intent
// lock is held here: the Disbursing transition was committed before entry,
// so a crash mid-submission leaves recoverable state.
func (e *Engine) submit(ctx context.Context, rec *models.PaymentIntent) error {
	amountWei, err := maticToWei(rec.AmountMatic)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %v", rec.AmountMatic, err)
	}

	to := common.HexToAddress(rec.WalletAddress)
	tx, err := e.chain.Transfer(ctx, to, amountWei)
	if err != nil {
		return err
	}

	// Persist the hash before waiting so a crash from here on leaves a
	// record the startup recovery pass can settle from the receipt
	if _, _, err := e.registry.Transition(ctx, rec.ID, models.Event{
		Type:   models.EventTransferSubmitted,
		TxHash: tx.Hash().Hex(),
	}); err != nil {
		e.logger.Error("Failed to record submitted transfer for intent %s: %v", rec.ID, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := e.chain.WaitMined(waitCtx, tx)
	if err != nil {
		// The transfer is already broadcast, so no wait failure may ever
		// retry the submission. The reconciler settles the record from the
		// receipt instead.
		e.trackPendingWait(rec.ID, tx.Hash())
		return errWaitUnresolved
	}

	if receipt.Status == 0 {
		return fmt.Errorf("execution reverted: transaction %s failed on-chain", tx.Hash().Hex())
	}

	e.confirm(ctx, rec.ID, tx.Hash().Hex())
	return nil
}

// confirm records a mined disbursement
func (e *Engine) confirm(ctx context.Context, intentID, txHash string) {
	_, _, err := e.registry.Transition(ctx, intentID, models.Event{
		Type:   models.EventDisbursementConfirmed,
		TxHash: txHash,
	})
	if err != nil {
		e.logger.Error("Failed to mark intent %s disbursed: %v", intentID, err)
		return
	}
	metrics.Disbursements.WithLabelValues(e.cfg.Network, "success").Inc()
	e.logger.InfoWithNetwork(e.cfg.Network, "Disbursement for intent %s confirmed: %s", intentID, txHash)
}

// fail records a permanent disbursement failure and raises the operator alert
func (e *Engine) fail(ctx context.Context, intentID, reason string) {
	_, _, err := e.registry.Transition(ctx, intentID, models.Event{
		Type:   models.EventDisbursementFailed,
		Reason: reason,
	})
	if err != nil {
		e.logger.Error("Failed to mark intent %s failed: %v", intentID, err)
		return
	}
	metrics.Disbursements.WithLabelValues(e.cfg.Network, "failed").Inc()
	e.logger.ErrorWithNetwork(e.cfg.Network, "ALERT: disbursement for intent %s failed permanently: %s", intentID, reason)
}

// trackPendingWait hands a submitted-but-unconfirmed transfer to the reconciler
func (e *Engine) trackPendingWait(intentID string, txHash common.Hash) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pendingWaits[intentID] = txHash
}

// reconciler periodically checks receipts for transfers whose confirmation
// wait timed out and settles their records
func (e *Engine) reconciler(ctx context.Context) {
	interval := e.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pendingMu.Lock()
			pending := make(map[string]common.Hash, len(e.pendingWaits))
			for id, hash := range e.pendingWaits {
				pending[id] = hash
			}
			e.pendingMu.Unlock()

			for intentID, txHash := range pending {
				receipt, err := e.chain.TransactionReceipt(ctx, txHash)
				if err != nil {
					// Not mined yet (or node lagging); keep polling
					e.logger.Debug("Reconciler: no receipt yet for intent %s (%s)", intentID, txHash.Hex())
					continue
				}

				if receipt.Status == 0 {
					e.fail(ctx, intentID, fmt.Sprintf("execution reverted: transaction %s failed on-chain", txHash.Hex()))
				} else {
					e.confirm(ctx, intentID, txHash.Hex())
				}

				e.pendingMu.Lock()
				delete(e.pendingWaits, intentID)
				e.pendingMu.Unlock()
			}
		}
	}
}

// maticToWei converts a decimal MATIC amount to wei
func maticToWei(amount string) (*big.Int, error) {
	parsed, ok := new(big.Float).SetPrec(236).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount: not a number")
	}
	if parsed.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount: must be positive")
	}

	wei := new(big.Float).SetPrec(236).Mul(parsed, big.NewFloat(1e18))
	result, _ := wei.Int(nil)
	return result, nil
}
