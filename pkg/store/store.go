// Package store persists payment intent records and owns the per-record
// critical section under which state transitions are applied.
package store

import (
	"context"
	"errors"

	"github.com/gasramp-hq/gasramp/pkg/models"
)

var (
	// ErrUnknownIntent is returned when no record exists for the given id
	ErrUnknownIntent = errors.New("unknown intent")

	// ErrDuplicateIntent is returned by Create when a record with the same id
	// already exists; the existing record is returned alongside it
	ErrDuplicateIntent = errors.New("intent already exists")
)

// Store is the persistence contract for payment intent records. All mutating
// operations on one record are mutually exclusive so concurrent deliveries of
// the same event cannot both observe the pre-transition state.
type Store interface {
	// Create inserts a new record. If a record with the same id exists it is
	// returned together with ErrDuplicateIntent and no second record is made.
	Create(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error)

	// Transition applies an event to the record under its lock and returns the
	// resulting snapshot. Events that target a state the record is already in
	// or past are no-ops; the boolean reports whether this call applied the
	// event, so exactly one of any set of concurrent identical calls sees true.
	Transition(ctx context.Context, id string, event models.Event) (*models.PaymentIntent, bool, error)

	// Get returns a snapshot of the record, never a partially mutated view.
	Get(ctx context.Context, id string) (*models.PaymentIntent, error)

	// Unsettled returns snapshots of records still owed disbursement work,
	// meaning those in the confirmed or disbursing state. Used by startup
	// recovery after a restart.
	Unsettled(ctx context.Context) ([]*models.PaymentIntent, error)

	// Close releases any underlying resources.
	Close() error
}
