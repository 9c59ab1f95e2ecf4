// Package metrics defines the prometheus instrumentation for the
// pipeline. Counter vectors cover the hot paths; everything derived
// from the database is served by a collector that resolves each value
// at scrape time, so a scrape always reflects current state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorCount measures the number of errors.
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"type": "listener"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acarshub_error_total",
			Help: "The total number of errors encountered.",
		}, []string{"type"})

	// ReceivedMessages counts raw decoder objects accepted by the
	// listeners, before normalization.
	ReceivedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acarshub_received_messages_total",
			Help: "Raw decoder messages received, per decoder.",
		}, []string{"decoder"})

	// QueueOverflows counts messages displaced by the drop-oldest queue.
	QueueOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acarshub_queue_overflow_total",
			Help: "Messages dropped because the queue was full.",
		})
)
