// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskpulse",
		Name:      "task_transitions_total",
		Help:      "Committed task mutations by kind.",
	}, []string{"kind"})

	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskpulse",
		Name:      "notifications_delivered_total",
		Help:      "Real-time messages handed to a sink without error.",
	}, []string{"sink"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskpulse",
		Name:      "notifications_dropped_total",
		Help:      "Real-time batches dropped because the broadcast queue was full.",
	})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskpulse",
		Name:      "sink_errors_total",
		Help:      "Failed or panicking sink deliveries.",
	}, []string{"sink"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskpulse",
		Name:      "webhook_deliveries_total",
		Help:      "Outbox events posted to webhooks by result.",
	}, []string{"result"})

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskpulse",
		Name:      "realtime_clients",
		Help:      "Connected WebSocket sessions.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
