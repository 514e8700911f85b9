package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courier_messages_sent_total",
		Help: "Messages persisted by the delivery engine.",
	})

	EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_events_emitted_total",
		Help: "Live events handed to a connection, by event type.",
	}, []string{"event"})

	EventDeliverFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_event_deliver_failures_total",
		Help: "Live events a connection refused, by event type.",
	}, []string{"event"})

	Sweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_sweeps_total",
		Help: "Conditional bulk updates run, by kind (delivered, seen).",
	}, []string{"kind"})

	SweptRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_swept_rows_total",
		Help: "Messages transitioned by sweeps, by kind.",
	}, []string{"kind"})

	Declined = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_declined_total",
		Help: "Operations refused, by reason code.",
	}, []string{"code"})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_store_errors_total",
		Help: "Durable store failures, by operation.",
	}, []string{"op"})

	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_presence_online",
		Help: "Users currently registered in the presence directory.",
	})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_ws_connections",
		Help: "Open websocket connections.",
	})

	Pending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "courier_pending_messages",
		Help: "Messages waiting on a transition, by state (delivered, seen).",
	}, []string{"state"})

	DiskUsedPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_disk_used_percent",
		Help: "Filesystem usage of the database volume.",
	})

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		EventsEmitted,
		EventDeliverFailures,
		Sweeps,
		SweptRows,
		Declined,
		StoreErrors,
		Online,
		WSConnections,
		Pending,
		DiskUsedPct,
		heapAlloc,
	)
}
