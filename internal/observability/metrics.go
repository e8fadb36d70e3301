package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the venue.
type Metrics struct {
	// --- Engine processing ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	OpSequenceGap         prometheus.Counter
	OpOutOfOrder          prometheus.Counter

	// --- Funding ---
	FundingAccruals    prometheus.Counter
	FundingRate        prometheus.Gauge
	FundingAccumulator prometheus.Gauge
	IndexPrice         prometheus.Gauge

	// --- Pool ---
	PoolFairPrice       prometheus.Gauge
	PoolPositionSize    prometheus.Gauge
	PoolAvailableMargin prometheus.Gauge
	PoolShareSupply     prometheus.Gauge

	// --- Risk ---
	Liquidations         prometheus.Counter
	SocializedLoss       *prometheus.CounterVec
	SocialLossAccrued    *prometheus.GaugeVec
	InsuranceFundBalance prometheus.Gauge
	OpenInterest         *prometheus.GaugeVec

	// --- Collateral ---
	Deposits    prometheus.Counter
	Withdrawals prometheus.Counter
	VaultBalance prometheus.Gauge

	// --- Snapshots ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"kind"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_ops_rejected_total",
			Help: "Operations rejected (dedup, validation, guard)",
		}, []string{"kind", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_op_apply_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_sequence",
			Help: "Current global sequence number",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"kind", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		OpSequenceGap: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_op_sequence_gap_total",
			Help: "Source sequence gaps observed",
		}),

		OpOutOfOrder: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_op_out_of_order_total",
			Help: "Out-of-order source sequence rejections",
		}),

		FundingAccruals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_funding_accruals_total",
			Help: "Funding accruals applied",
		}),

		FundingRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_funding_rate",
			Help: "Current per-second funding rate",
		}),

		FundingAccumulator: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_funding_accumulated_per_contract",
			Help: "Accumulated funding per contract",
		}),

		IndexPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_index_price",
			Help: "Last accepted index price",
		}),

		PoolFairPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_pool_fair_price",
			Help: "Pool fair price x/y",
		}),

		PoolPositionSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_pool_position_size",
			Help: "Pool long position size y",
		}),

		PoolAvailableMargin: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_pool_available_margin",
			Help: "Pool cash reserve x",
		}),

		PoolShareSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_pool_share_supply",
			Help: "Outstanding pool shares",
		}),

		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_liquidations_total",
			Help: "Liquidation fills applied",
		}),

		SocializedLoss: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_socialized_loss_total",
			Help: "Loss socialized to one side",
		}, []string{"side"}),

		SocialLossAccrued: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_social_loss_per_contract",
			Help: "Per-contract social loss accumulator",
		}, []string{"side"}),

		InsuranceFundBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_insurance_fund_balance",
			Help: "Current insurance fund balance",
		}),

		OpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venue_open_interest",
			Help: "Aggregate open size per side",
		}, []string{"side"}),

		Deposits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_deposits_total",
			Help: "Deposits applied",
		}),

		Withdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_withdrawals_total",
			Help: "Withdrawals applied",
		}),

		VaultBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_vault_balance",
			Help: "Collateral tracked by the vault",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "venue_snapshot_duration_seconds",
			Help:    "Snapshot capture and write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "venue_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "venue_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "venue_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
