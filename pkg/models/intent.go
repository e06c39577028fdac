package models

import (
	"fmt"
	"time"
)

// State represents the lifecycle state of a payment intent
type State string

const (
	StatePending    State = "pending"
	StateConfirmed  State = "confirmed"
	StateDisbursing State = "disbursing"
	StateDisbursed  State = "disbursed"
	StateFailed     State = "failed"
)

// stateRank orders states for the forward-only transition check
var stateRank = map[State]int{
	StatePending:    0,
	StateConfirmed:  1,
	StateDisbursing: 2,
	StateDisbursed:  3,
	StateFailed:     3,
}

// IsTerminal returns true if the state can never change again
func (s State) IsTerminal() bool {
	return s == StateDisbursed || s == StateFailed
}

// PaymentIntent represents a single card-payment-to-disbursement record,
// keyed by the payment processor's external reference
type PaymentIntent struct {
	ID            string     `json:"id" db:"id"`
	WalletAddress string     `json:"wallet_address" db:"wallet_address"`
	AmountMatic   string     `json:"amount_matic" db:"amount_matic"`
	Network       string     `json:"network" db:"network"`
	State         State      `json:"state" db:"state"`
	TxHash        string     `json:"tx_hash,omitempty" db:"tx_hash"`
	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a copy of the intent so readers never share store memory
func (p *PaymentIntent) Clone() *PaymentIntent {
	cp := *p
	if p.ConfirmedAt != nil {
		t := *p.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// EventType identifies a state-machine event
type EventType string

const (
	EventPaymentConfirmed      EventType = "payment_confirmed"
	EventPaymentFailed         EventType = "payment_failed"
	EventDisbursementStarted   EventType = "disbursement_started"
	EventTransferSubmitted     EventType = "transfer_submitted"
	EventDisbursementConfirmed EventType = "disbursement_confirmed"
	EventDisbursementFailed    EventType = "disbursement_failed"
)

// Event carries a transition request against an intent record
type Event struct {
	Type   EventType
	TxHash string // transfer_submitted / disbursement_confirmed only
	Reason string // payment_failed / disbursement_failed
}

// targetState maps each event to the state it drives the record into
func (e Event) targetState() State {
	switch e.Type {
	case EventPaymentConfirmed:
		return StateConfirmed
	case EventDisbursementStarted, EventTransferSubmitted:
		return StateDisbursing
	case EventDisbursementConfirmed:
		return StateDisbursed
	case EventPaymentFailed, EventDisbursementFailed:
		return StateFailed
	}
	return ""
}

// Apply advances the intent according to the event. It returns true if the
// record changed. A record already in or past the target state is left
// untouched and (false, nil) is returned: replayed webhooks and retried
// disbursement triggers resolve to no-ops here rather than errors.
func Apply(intent *PaymentIntent, event Event) (bool, error) {
	target := event.targetState()
	if target == "" {
		return false, fmt.Errorf("unknown event type: %s", event.Type)
	}

	if intent.State.IsTerminal() {
		return false, nil
	}

	// Recording the broadcast hash is the one event that does not advance
	// the state; it applies exactly once while disbursing
	if event.Type == EventTransferSubmitted {
		if intent.State != StateDisbursing || intent.TxHash != "" {
			return false, nil
		}
		intent.TxHash = event.TxHash
		return true, nil
	}

	if stateRank[intent.State] >= stateRank[target] {
		return false, nil
	}

	now := time.Now().UTC()
	switch event.Type {
	case EventPaymentConfirmed:
		intent.State = StateConfirmed
		intent.ConfirmedAt = &now
	case EventPaymentFailed:
		// A failed card payment only applies before disbursement begins; a
		// contradictory redelivery after confirmation is ignored
		if intent.State != StatePending {
			return false, nil
		}
		intent.State = StateFailed
		intent.FailureReason = event.Reason
		if intent.FailureReason == "" {
			intent.FailureReason = "payment failed"
		}
		intent.CompletedAt = &now
	case EventDisbursementStarted:
		// Only a confirmed payment may begin disbursing
		if intent.State != StateConfirmed {
			return false, nil
		}
		intent.State = StateDisbursing
	case EventDisbursementConfirmed:
		// TxHash is written exactly once
		intent.State = StateDisbursed
		if intent.TxHash == "" {
			intent.TxHash = event.TxHash
		}
		intent.CompletedAt = &now
	case EventDisbursementFailed:
		intent.State = StateFailed
		intent.FailureReason = event.Reason
		intent.CompletedAt = &now
	}

	return true, nil
}
