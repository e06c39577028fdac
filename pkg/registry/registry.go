// Package registry owns payment intent records and their state transitions.
// Every other component mutates records only through this API.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/gasramp-hq/gasramp/pkg/address"
	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/models"
	"github.com/gasramp-hq/gasramp/pkg/store"
)

var (
	// ErrInvalidAddress is returned when the wallet address fails validation
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrAmountOutOfBounds is returned when the requested amount is outside
	// the configured purchase range
	ErrAmountOutOfBounds = errors.New("amount out of bounds")

	// ErrUnknownIntent is returned when no record exists for the given id
	ErrUnknownIntent = store.ErrUnknownIntent
)

// Registry validates and creates payment intents and applies lifecycle events
type Registry struct {
	store    store.Store
	network  string
	minMatic float64
	maxMatic float64
	logger   logger.Logger
}

// New creates an intent registry with the given purchase bounds
func New(s store.Store, network string, minMatic, maxMatic float64, log logger.Logger) *Registry {
	return &Registry{
		store:    s,
		network:  network,
		minMatic: minMatic,
		maxMatic: maxMatic,
		logger:   log,
	}
}

// Validate checks a purchase request against the address format and the
// configured amount bounds, returning the parsed amount
func (r *Registry) Validate(walletAddress, amountMatic string) (float64, error) {
	if !address.Validate(walletAddress) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAddress, walletAddress)
	}

	amount, err := strconv.ParseFloat(amountMatic, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrAmountOutOfBounds, amountMatic)
	}
	if amount < r.minMatic || amount > r.maxMatic {
		return 0, fmt.Errorf("%w: %s not in [%g, %g]", ErrAmountOutOfBounds, amountMatic, r.minMatic, r.maxMatic)
	}
	return amount, nil
}

// Create allocates a pending intent record after validating the wallet
// address and amount bounds. An empty id gets a locally generated reference.
// Creation is create-if-absent: a duplicate id returns the existing record
// and never allocates a second one.
func (r *Registry) Create(ctx context.Context, id, walletAddress, amountMatic string) (*models.PaymentIntent, error) {
	if _, err := r.Validate(walletAddress, amountMatic); err != nil {
		return nil, err
	}

	if id == "" {
		id = "pi_" + uuid.NewString()
	}

	intent := &models.PaymentIntent{
		ID:            id,
		WalletAddress: walletAddress,
		AmountMatic:   amountMatic,
		Network:       r.network,
		State:         models.StatePending,
	}

	record, err := r.store.Create(ctx, intent)
	if errors.Is(err, store.ErrDuplicateIntent) {
		r.logger.Debug("Create for existing intent %s, returning current record", id)
		return record, nil
	}
	if err != nil {
		return nil, err
	}

	r.logger.InfoWithNetwork(r.network, "Created intent %s for %s (%s MATIC)", id, walletAddress, amountMatic)
	return record, nil
}

// Transition applies a lifecycle event to the record. The returned boolean
// reports whether this call applied the event; replays resolve to no-ops.
func (r *Registry) Transition(ctx context.Context, id string, event models.Event) (*models.PaymentIntent, bool, error) {
	record, applied, err := r.store.Transition(ctx, id, event)
	if err != nil {
		return nil, false, err
	}
	if applied {
		r.logger.InfoWithNetwork(r.network, "Intent %s: %s -> %s", id, event.Type, record.State)
	} else {
		r.logger.Debug("Intent %s: event %s ignored in state %s", id, event.Type, record.State)
	}
	return record, applied, nil
}

// Get returns a snapshot of the record
func (r *Registry) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return r.store.Get(ctx, id)
}

// Unsettled lists records still owed disbursement work, for startup recovery
func (r *Registry) Unsettled(ctx context.Context) ([]*models.PaymentIntent, error) {
	return r.store.Unsettled(ctx)
}
