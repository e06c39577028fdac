// Package webhook authenticates inbound payment processor events and maps
// them onto intent state transitions.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/metrics"
	"github.com/gasramp-hq/gasramp/pkg/models"
	"github.com/gasramp-hq/gasramp/pkg/registry"
)

const (
	// EventPaymentSucceeded is the processor's card-payment-success event type
	EventPaymentSucceeded = "payment.succeeded"

	// EventPaymentFailed is the processor's card-payment-failure event type
	EventPaymentFailed = "payment.failed"
)

var (
	// ErrBadSignature is returned when payload authentication fails; nothing
	// is processed and no record is mutated
	ErrBadSignature = errors.New("invalid webhook signature")

	// ErrMalformedEvent is returned when an authenticated payload cannot be
	// decoded or names no payment reference
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrEngineBusy is returned when the disbursement engine cannot accept a
	// trigger. The delivery must be rejected with a non-2xx status so the
	// processor redelivers; the record stays confirmed and the redelivered
	// trigger picks it up.
	ErrEngineBusy = errors.New("disbursement queue full")
)

// Event is the processor's webhook envelope
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentID string `json:"payment_id"`
		Reason    string `json:"reason,omitempty"`
	} `json:"data"`
}

// Disburser triggers an asynchronous disbursement for a confirmed intent,
// reporting whether the trigger was accepted. Implementations must return
// promptly; the webhook acknowledgment never waits for on-chain confirmation.
type Disburser interface {
	Disburse(intentID string) bool
}

// Gateway verifies and dispatches processor webhook deliveries
type Gateway struct {
	secret    []byte
	tolerance time.Duration
	registry  *registry.Registry
	disburser Disburser
	logger    logger.Logger
	now       func() time.Time
}

// New creates a webhook gateway using the given shared signing secret
func New(secret []byte, reg *registry.Registry, d Disburser, log logger.Logger) *Gateway {
	return &Gateway{
		secret:    secret,
		tolerance: DefaultTolerance,
		registry:  reg,
		disburser: d,
		logger:    log,
		now:       time.Now,
	}
}

// Handle authenticates one delivery and applies it. Processors deliver at
// least once, so this must be safe to invoke arbitrarily many times for the
// same logical event; idempotency comes from the registry's transitions.
func (g *Gateway) Handle(ctx context.Context, body []byte, signatureHeader string) error {
	if err := verifySignature(body, signatureHeader, g.secret, g.tolerance, g.now()); err != nil {
		g.logger.Error("Webhook signature verification failed: %v", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		return err
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		g.logger.Error("Webhook payload decoding failed: %v", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch event.Type {
	case EventPaymentSucceeded:
		return g.handlePaymentSucceeded(ctx, event)
	case EventPaymentFailed:
		return g.handlePaymentFailed(ctx, event)
	default:
		// Unknown event types are acknowledged and ignored
		g.logger.Debug("Ignoring webhook event %s of type %s", event.ID, event.Type)
		metrics.WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}
}

func (g *Gateway) handlePaymentSucceeded(ctx context.Context, event Event) error {
	if event.Data.PaymentID == "" {
		metrics.WebhookEvents.WithLabelValues(event.Type, "malformed").Inc()
		return fmt.Errorf("%w: payment.succeeded without payment_id", ErrMalformedEvent)
	}

	_, applied, err := g.registry.Transition(ctx, event.Data.PaymentID, models.Event{
		Type: models.EventPaymentConfirmed,
	})
	if err != nil {
		g.logger.Error("Failed to confirm intent %s: %v", event.Data.PaymentID, err)
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if !applied {
		g.logger.Debug("Replayed payment.succeeded for intent %s", event.Data.PaymentID)
	}

	// Hand off to the engine's queue; the acknowledgment to the processor
	// must not block on on-chain confirmation. The engine's own guard makes
	// duplicate triggers harmless. A rejected trigger fails the delivery so
	// the processor redelivers it later.
	if !g.disburser.Disburse(event.Data.PaymentID) {
		g.logger.Error("Disbursement trigger for intent %s rejected, failing delivery for redelivery", event.Data.PaymentID)
		metrics.WebhookEvents.WithLabelValues(event.Type, "queue_full").Inc()
		return fmt.Errorf("%w: intent %s", ErrEngineBusy, event.Data.PaymentID)
	}

	metrics.WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

func (g *Gateway) handlePaymentFailed(ctx context.Context, event Event) error {
	if event.Data.PaymentID == "" {
		metrics.WebhookEvents.WithLabelValues(event.Type, "malformed").Inc()
		return fmt.Errorf("%w: payment.failed without payment_id", ErrMalformedEvent)
	}

	reason := event.Data.Reason
	if reason == "" {
		reason = "payment failed"
	}

	_, _, err := g.registry.Transition(ctx, event.Data.PaymentID, models.Event{
		Type:   models.EventPaymentFailed,
		Reason: reason,
	})
	if err != nil {
		g.logger.Error("Failed to mark intent %s failed: %v", event.Data.PaymentID, err)
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	metrics.WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	return nil
}
