package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/models"
	"github.com/gasramp-hq/gasramp/pkg/store"
)

const testWallet = "0x1111111111111111111111111111111111111111"

func newTestRegistry() *Registry {
	return New(store.NewMemoryStore(), "testnet", 0.01, 10, &logger.EmptyLogger{})
}

func TestCreateValidIntent(t *testing.T) {
	r := newTestRegistry()

	intent, err := r.Create(context.Background(), "pi_1", testWallet, "0.1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, models.StatePending, intent.State)
	assert.Equal(t, "0.1", intent.AmountMatic)
	assert.Equal(t, "testnet", intent.Network)
}

func TestCreateGeneratesID(t *testing.T) {
	r := newTestRegistry()

	intent, err := r.Create(context.Background(), "", testWallet, "0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, intent.ID)
	assert.Contains(t, intent.ID, "pi_")
}

func TestCreateRejectsInvalidAddress(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Create(context.Background(), "pi_1", "0xnothex", "0.1")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	// No record was created
	_, err = r.Get(context.Background(), "pi_1")
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

func TestCreateRejectsOutOfBoundsAmounts(t *testing.T) {
	r := newTestRegistry()

	// Below the 0.01 minimum
	_, err := r.Create(context.Background(), "pi_low", testWallet, "0.005")
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)

	// Above the 10 maximum
	_, err = r.Create(context.Background(), "pi_high", testWallet, "15")
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)

	// Not a number at all
	_, err = r.Create(context.Background(), "pi_nan", testWallet, "ten")
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)

	// Boundary values are accepted
	_, err = r.Create(context.Background(), "pi_min", testWallet, "0.01")
	assert.NoError(t, err)
	_, err = r.Create(context.Background(), "pi_max", testWallet, "10")
	assert.NoError(t, err)
}

func TestCreateIsIdempotentPerID(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first, err := r.Create(ctx, "pi_1", testWallet, "0.1")
	require.NoError(t, err)

	// Same externally supplied id: the existing record comes back unchanged
	second, err := r.Create(ctx, "pi_1", testWallet, "5")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "0.1", second.AmountMatic)
}

func TestTransitionUnknownIntent(t *testing.T) {
	r := newTestRegistry()

	_, _, err := r.Transition(context.Background(), "missing", models.Event{Type: models.EventPaymentConfirmed})
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

func TestTransitionFlow(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Create(ctx, "pi_1", testWallet, "0.1")
	require.NoError(t, err)

	rec, applied, err := r.Transition(ctx, "pi_1", models.Event{Type: models.EventPaymentConfirmed})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.StateConfirmed, rec.State)

	rec, applied, err = r.Transition(ctx, "pi_1", models.Event{Type: models.EventPaymentConfirmed})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.StateConfirmed, rec.State)
}
