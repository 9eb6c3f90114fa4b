// Package metrics holds the Prometheus collectors shared across the core
// components. Centralising them here (rather than package-local vars)
// mirrors the teacher repo's habit of registering metrics once at
// package init and referencing them from business logic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "testprobe",
		Name:      "queue_depth",
		Help:      "Number of tests admitted but not yet dispatched.",
	})

	QueueInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "testprobe",
		Name:      "queue_in_flight",
		Help:      "Number of tests currently executing.",
	})

	QueueRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Name:      "queue_rejections_total",
		Help:      "Number of Initialize calls rejected by the queue, by reason.",
	}, []string{"reason"})

	TestOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Name:      "test_outcomes_total",
		Help:      "Terminal test outcomes by result.",
	}, []string{"result"})

	KafkaDecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Name:      "kafka_decode_errors_total",
		Help:      "Per-topic consumer decode failures. Errors are skipped, never fatal.",
	}, []string{"topic"})

	KafkaRecordsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Name:      "kafka_records_consumed_total",
		Help:      "Records accepted into a consumer worker's correlation map.",
	}, []string{"topic"})

	KafkaProduced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Name:      "kafka_produced_total",
		Help:      "Produce outcomes by result.",
	}, []string{"topic", "result"})

	SchemaCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "testprobe",
		Name:      "schema_cache_lookups_total",
		Help:      "Schema registry lookups by outcome (hit, miss, coalesced).",
	}, []string{"subject", "outcome"})
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueInFlight,
		QueueRejections,
		TestOutcomes,
		KafkaDecodeErrors,
		KafkaRecordsConsumed,
		KafkaProduced,
		SchemaCacheLookups,
	)
}
