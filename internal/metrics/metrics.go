package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	PollCycles            prometheus.Counter
	PollFailures          prometheus.Counter
	TxDelivered           prometheus.Counter
	DuplicatesSkipped     prometheus.Counter
	DetailFetchFailures   prometheus.Counter
	DetailDecodeFailures  prometheus.Counter
	SubscriberPanics      prometheus.Counter
	DedupWindowSize       prometheus.Gauge
	MonitorRunning        prometheus.Gauge
	ActiveRPC             *prometheus.GaugeVec
	RPCProbeLatency       prometheus.Histogram
	RPCProbeFailures      *prometheus.CounterVec
	RPCFailovers          prometheus.Counter
	DispatchDropped       prometheus.Counter
	NotificationsEnqueued prometheus.Counter
	WSClients             prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_poll_cycles_total",
			Help: "Total number of mempool poll cycles started",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_poll_failures_total",
			Help: "Total number of poll cycles aborted because the pending block could not be fetched",
		}),
		TxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_tx_delivered_total",
			Help: "Total number of pending transactions delivered to subscribers",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_duplicates_skipped_total",
			Help: "Total number of pending transaction hashes skipped as already seen",
		}),
		DetailFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_detail_fetch_failures_total",
			Help: "Total number of transaction detail fetches that failed",
		}),
		DetailDecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_detail_decode_failures_total",
			Help: "Total number of transaction details the node returned in an undecodable form",
		}),
		SubscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_subscriber_panics_total",
			Help: "Total number of recovered subscriber callback panics",
		}),
		DedupWindowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mempool_dedup_window_size",
			Help: "Number of hashes currently held by the dedup window",
		}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mempool_monitor_running",
			Help: "Indicates if the monitor is running (1=running, 0=stopped)",
		}),
		ActiveRPC: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mempool_active_rpc",
			Help: "Indicates which RPC endpoint is currently active (1=active, 0=inactive)",
		}, []string{"url"}),
		RPCProbeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mempool_rpc_probe_latency_seconds",
			Help:    "Liveness probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RPCProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mempool_rpc_probe_failures_total",
			Help: "Total number of failed liveness probes per endpoint",
		}, []string{"url"}),
		RPCFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_rpc_failovers_total",
			Help: "Total number of times the active endpoint was replaced",
		}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_dispatch_dropped_total",
			Help: "Total number of transactions dropped because the dispatch queue was full",
		}),
		NotificationsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mempool_notifications_enqueued_total",
			Help: "Total number of watchlist notifications enqueued",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mempool_ws_clients",
			Help: "Current number of connected dashboard WebSocket clients",
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.PollCycles, m.PollFailures, m.TxDelivered, m.DuplicatesSkipped,
		m.DetailFetchFailures, m.DetailDecodeFailures, m.SubscriberPanics, m.DedupWindowSize, m.MonitorRunning,
		m.ActiveRPC, m.RPCProbeLatency, m.RPCProbeFailures, m.RPCFailovers,
		m.DispatchDropped, m.NotificationsEnqueued, m.WSClients,
	)
}
