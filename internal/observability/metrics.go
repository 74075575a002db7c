package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// --- Settlement ---
	TradesSettled  *prometheus.CounterVec // by trade type
	TradeVolumeE6  prometheus.Counter
	TradeFeesE6    prometheus.Counter
	SettleErrors   *prometheus.CounterVec // by operation
	GlobalSequence prometheus.Gauge
	OpenPositions  prometheus.Gauge
	SettleDuration *prometheus.HistogramVec // by operation

	// --- Quorum protocol ---
	BatchesSubmitted    prometheus.Counter
	BatchesExecuted     prometheus.Counter
	BatchesRejected     *prometheus.CounterVec // by op, reason
	SignaturesCollected prometheus.Counter
	BatchExecuteDur     prometheus.Histogram

	// --- Risk ---
	Liquidations           prometheus.Counter
	LiquidationPenaltyE6   prometheus.Counter
	LiquidationShortfallE6 prometheus.Counter
	ADLTriggers            prometheus.Counter

	// --- Funding ---
	FundingSettlements prometheus.Counter

	// --- Collaborators ---
	CustodyCallDur    *prometheus.HistogramVec // by op
	CustodyCallErrors *prometheus.CounterVec   // by op

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistBatchSize      prometheus.Histogram
	PersistErrors         *prometheus.CounterVec // by stage

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec // by subject, result
}

// NewMetrics registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TradesSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_trades_settled_total",
			Help: "Settled trades by type",
		}, []string{"type"}),
		TradeVolumeE6: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_trade_volume_e6_total",
			Help: "Settled notional volume (e6)",
		}),
		TradeFeesE6: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_trade_fees_e6_total",
			Help: "Collected trading fees (e6)",
		}),
		SettleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_settle_errors_total",
			Help: "Settlement failures by operation",
		}, []string{"operation"}),
		GlobalSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_global_sequence",
			Help: "Last assigned trade sequence",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_open_positions",
			Help: "Positions with non-zero size",
		}),
		SettleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_settle_duration_seconds",
			Help:    "Settlement latency by operation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"operation"}),

		BatchesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_submitted_total",
			Help: "Trade batches submitted",
		}),
		BatchesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_executed_total",
			Help: "Trade batches executed",
		}),
		BatchesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_batches_rejected_total",
			Help: "Batch protocol rejections by operation and reason",
		}, []string{"operation", "reason"}),
		SignaturesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batch_signatures_total",
			Help: "Relayer signatures accepted",
		}),
		BatchExecuteDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_batch_execute_duration_seconds",
			Help:    "Batch execution latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),

		Liquidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_liquidations_total",
			Help: "Positions liquidated",
		}),
		LiquidationPenaltyE6: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_liquidation_penalty_e6_total",
			Help: "Liquidation penalties credited to the reserve (e6)",
		}),
		LiquidationShortfallE6: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_liquidation_shortfall_e6_total",
			Help: "Bankruptcy shortfall covered by the reserve (e6)",
		}),
		ADLTriggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_adl_triggers_total",
			Help: "Auto-deleveraging activations",
		}),

		FundingSettlements: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_funding_settlements_total",
			Help: "Funding payments applied to positions",
		}),

		CustodyCallDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_custody_call_duration_seconds",
			Help:    "Collaborator call latency by operation",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		CustodyCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_custody_call_errors_total",
			Help: "Collaborator call failures by operation",
		}, []string{"op"}),

		PersistRecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_records_total",
			Help: "Trade records written to Postgres",
		}),
		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_persist_batch_duration_seconds",
			Help:    "Persistence flush latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_persist_batch_size",
			Help:    "Rows per persistence flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_ingest_messages_total",
			Help: "NATS messages by subject and result",
		}, []string{"subject", "result"}),
	}
}
