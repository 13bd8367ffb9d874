package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the escrow ledger.
type Metrics struct {
	// --- Ledger ---
	LedgerOps      *prometheus.CounterVec
	LedgerOpDur    *prometheus.HistogramVec
	ActiveLocks    prometheus.Gauge
	LedgerSequence prometheus.Gauge

	// --- Claims ---
	ClaimsProcessed *prometheus.CounterVec
	ClaimsVerified  *prometheus.CounterVec
	ClaimReplays    *prometheus.CounterVec

	// --- Amount calculation ---
	AmountComputations    *prometheus.CounterVec
	AmountComputeDuration *prometheus.HistogramVec

	// --- Quote feed ---
	QuoteUpdates *prometheus.CounterVec

	// --- Event publishing ---
	PublishDrops    prometheus.Counter
	PublishFailures prometheus.Counter

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	dbBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	f := promauto.With(reg)

	return &Metrics{
		// Ledger
		LedgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ledger_operations_total",
			Help: "Ledger operations by operation and outcome",
		}, []string{"op", "outcome"}),

		LedgerOpDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_ledger_operation_duration_seconds",
			Help:    "Time to apply a ledger operation including store commit",
			Buckets: dbBuckets,
		}, []string{"op"}),

		ActiveLocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_ledger_active_locks",
			Help: "Locks created minus locks destroyed since start",
		}),

		LedgerSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_ledger_event_sequence",
			Help: "Sequence of the last journaled ledger event",
		}),

		// Claims
		ClaimsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_claims_processed_total",
			Help: "Claims submitted for processing by outcome",
		}, []string{"outcome"}),

		ClaimsVerified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_claims_verified_total",
			Help: "Claim pre-flight verifications by result",
		}, []string{"result"}),

		ClaimReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_claim_replays_total",
			Help: "Replayed claims detected by tier",
		}, []string{"tier"}),

		// Amount calculation
		AmountComputations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_amount_computations_total",
			Help: "Settlement amount computations by mode and outcome",
		}, []string{"mode", "outcome"}),

		AmountComputeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_amount_compute_duration_seconds",
			Help:    "Time to compute a settlement amount",
			Buckets: latencyBuckets,
		}, []string{"mode"}),

		// Quote feed
		QuoteUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_quote_updates_total",
			Help: "Quote feed messages by outcome",
		}, []string{"outcome"}),

		// Event publishing
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_drops_total",
			Help: "Ledger events dropped because the publish buffer was full",
		}),

		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_failures_total",
			Help: "Ledger events that failed to publish to NATS",
		}),

		// HTTP API
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_api_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),

		APIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: dbBuckets,
		}, []string{"route"}),
	}
}
