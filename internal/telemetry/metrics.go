package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	AnnouncementsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spareshare",
		Name:      "announcements_sent_total",
		Help:      "Discovery announcements sent to the broadcast domain.",
	})

	DatagramsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spareshare",
		Name:      "datagrams_dropped_total",
		Help:      "Discovery datagrams discarded (missing marker or malformed).",
	})

	PeersPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spareshare",
		Name:      "peers_pruned_total",
		Help:      "Peer table entries removed after going stale.",
	})

	DealsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spareshare",
		Name:      "deals_received_total",
		Help:      "Deals successfully received over the control plane.",
	})

	DealsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spareshare",
		Name:      "deals_sent_total",
		Help:      "Deals successfully sent to matched peers.",
	})

	DealSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spareshare",
		Name:      "deal_send_failures_total",
		Help:      "Deal sends that failed at the control plane.",
	})

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "spareshare",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		AnnouncementsSent,
		DatagramsDropped,
		PeersPruned,
		DealsReceived,
		DealsSent,
		DealSendFailures,
		uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
