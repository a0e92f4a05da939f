package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the stats indexer.
type Metrics struct {
	// --- Engine ---
	EngineEventsApplied  *prometheus.CounterVec
	EngineEventsRejected *prometheus.CounterVec
	EngineEventDuration  *prometheus.HistogramVec
	EngineStageDuration  *prometheus.HistogramVec
	EngineRowsWritten    *prometheus.CounterVec
	EngineSnapshots      prometheus.Counter
	EngineStateHashDur   prometheus.Histogram
	EngineSequence       prometheus.Gauge
	DistributionHolders  *prometheus.GaugeVec

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Duration    prometheus.Histogram
	EventSequenceGap      prometheus.Counter

	// --- Ingestion ---
	IngestToApply      *prometheus.HistogramVec
	IngestPoison       *prometheus.CounterVec
	PublishDrops       prometheus.Counter
	ProjectionDrops    prometheus.Counter
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Persistence ---
	PersistBatchDur     prometheus.Histogram
	PersistBatchSize    prometheus.Histogram
	PersistRowsWritten  prometheus.Counter
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Checkpoint ---
	CheckpointTaken     prometheus.Counter
	CheckpointDuration  prometheus.Histogram
	CheckpointSizeBytes prometheus.Gauge
	CheckpointLastSeq   prometheus.Gauge
	ReplayEventsTotal   prometheus.Counter
	ReplayDuration      prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.25,
	}

	return &Metrics{
		EngineEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_engine_events_applied_total",
			Help: "Events applied by the engine",
		}, []string{"event_type"}),

		EngineEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_engine_events_rejected_total",
			Help: "Events rejected (duplicate, gap, malformed, failed)",
		}, []string{"event_type", "reason"}),

		EngineEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stats_engine_event_apply_duration_seconds",
			Help:    "Time to apply a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		EngineStageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stats_engine_stage_duration_seconds",
			Help:    "Time spent in one aggregation stage",
			Buckets: latencyBuckets,
		}, []string{"stage"}),

		EngineRowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_engine_rows_written_total",
			Help: "Aggregate rows written per kind",
		}, []string{"kind"}),

		EngineSnapshots: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_engine_snapshots_written_total",
			Help: "Interval snapshots upserted",
		}),

		EngineStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stats_engine_state_hash_duration_seconds",
			Help:    "Time to digest a change set and extend the hash chain",
			Buckets: latencyBuckets,
		}),

		EngineSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stats_engine_sequence",
			Help: "Last applied feed sequence",
		}),

		DistributionHolders: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stats_distribution_holders",
			Help: "Ranked non-zero holders per token",
		}, []string{"token"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_idempotency_duplicates_total",
			Help: "Duplicates caught (sequence/lru/db)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "stats_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stats_dedup_tier2_duration_seconds",
			Help:    "Processed-events table lookup latency",
			Buckets: latencyBuckets,
		}),

		EventSequenceGap: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_event_sequence_gap_total",
			Help: "Feed sequence gaps",
		}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stats_ingest_to_apply_seconds",
			Help:    "Feed receive to engine apply complete",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		IngestPoison: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_ingest_poison_total",
			Help: "Feed messages acked without processing because they could not be parsed",
		}, []string{"subject"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_publish_drops_total",
			Help: "Change notifications dropped due to a full publish channel",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_projection_drops_total",
			Help: "Change sets dropped due to a full projection channel",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stats_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stats_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stats_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stats_persist_batch_duration_seconds",
			Help:    "Database batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stats_persist_batch_size",
			Help:    "Change sets per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistRowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_persist_rows_written_total",
			Help: "Rows and snapshots written to the database",
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stats_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		CheckpointTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_checkpoint_taken_total",
			Help: "Checkpoints written",
		}),

		CheckpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stats_checkpoint_duration_seconds",
			Help:    "Checkpoint creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		CheckpointSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "stats_checkpoint_size_bytes",
			Help: "Last checkpoint size",
		}),

		CheckpointLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "stats_checkpoint_last_sequence",
			Help: "Sequence of last checkpoint",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stats_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "stats_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stats_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stats_query_duration_seconds",
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
