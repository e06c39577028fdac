package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_intents_created_total",
		Help: "The total number of payment intents created",
	}, []string{"network"})

	IntentCreateRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_intent_create_rejected_total",
		Help: "The total number of rejected intent creation requests by reason",
	}, []string{"reason"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_webhook_events_total",
		Help: "The total number of webhook deliveries by event type and result",
	}, []string{"event_type", "result"})

	Disbursements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_disbursements_total",
		Help: "The total number of completed disbursements by status",
	}, []string{"network", "status"})

	DisbursementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gasramp_disbursement_seconds",
		Help:    "Time from submission to on-chain confirmation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"network"})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_retry_count_total",
		Help: "The total number of retried disbursement attempts by error type",
	}, []string{"error_type"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_max_retries_reached_total",
		Help: "Number of disbursements that reached maximum retry attempts",
	}, []string{"error_type"})

	PermanentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_permanent_errors_total",
		Help: "Total number of permanent disbursement errors that won't be retried",
	}, []string{"error_type"})

	SubmissionQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasramp_submission_queue_size",
		Help: "Current number of disbursements waiting in the submission queue",
	})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasramp_gas_price_gwei",
		Help: "Gas price used for the most recent submission in gwei",
	})

	FundingBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gasramp_funding_balance_matic",
		Help: "Current native balance of the funding account",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gasramp_rate_limited_total",
		Help: "Number of requests rejected by the admission guard",
	}, []string{"route"})
)
