// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dm",
		Name:      "messages_persisted_total",
		Help:      "Messages appended to the store, by kind.",
	}, []string{"kind"})

	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dm",
		Name:      "pushes_total",
		Help:      "Live channel push attempts, by outcome.",
	}, []string{"outcome"})

	LiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dm",
		Name:      "live_channels",
		Help:      "Registered live channels.",
	})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dm",
		Name:      "send_duration_seconds",
		Help:      "Time from accepting a send to returning the persisted message.",
		Buckets:   prometheus.DefBuckets,
	})

	OutboxErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dm",
		Name:      "outbox_publish_errors_total",
		Help:      "message.created events that could not be published.",
	})
)

const (
	PushOK      = "ok"
	PushFailed  = "failed"
	PushTimeout = "timeout"
)

func Handler() http.Handler {
	return promhttp.Handler()
}
