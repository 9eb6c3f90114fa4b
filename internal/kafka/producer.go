package kafka

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/testprobe/testprobe/internal/metrics"
)

// kafkaProducerClient is the subset of *kgo.Client a producer worker
// drives.
type kafkaProducerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// ProducerWorker owns one (testId, topic) produce path: every
// ProduceEvent call is a synchronous round trip to the broker, so step
// code only gets ProducedAck once the record is actually acknowledged.
type ProducerWorker struct {
	testID string
	topic  string
	client kafkaProducerClient
	logger log.Logger

	onRegister   func(testID, topic string, w *ProducerWorker)
	onUnregister func(testID, topic string)
}

// NewProducerWorker builds a worker over an already-connected client,
// matching ConsumerWorker's split of connection setup (the supervisor's
// job) from message handling (this type's job).
func NewProducerWorker(testID, topic string, client kafkaProducerClient, logger log.Logger,
	onRegister func(testID, topic string, w *ProducerWorker), onUnregister func(testID, topic string)) *ProducerWorker {
	return &ProducerWorker{
		testID:       testID,
		topic:        topic,
		client:       client,
		logger:       logger,
		onRegister:   onRegister,
		onUnregister: onUnregister,
	}
}

// Start registers the worker in the DSL registry. There is no
// background loop: ProduceEvent is called directly by the DSL registry
// on the caller's goroutine.
func (w *ProducerWorker) Start() {
	if w.onRegister != nil {
		w.onRegister(w.testID, w.topic, w)
	}
}

// ProduceEvent implements dsl.ProducerHandle. A failed ack is returned
// to the caller as-is; it does not restart the worker, since a single
// bad produce doesn't imply the broker connection is bad.
func (w *ProducerWorker) ProduceEvent(ctx context.Context, keyBytes, valueBytes []byte, headers map[string][]byte) error {
	rec := &kgo.Record{
		Topic: w.topic,
		Key:   keyBytes,
		Value: valueBytes,
	}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: v})
	}

	results := w.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		metrics.KafkaProduced.WithLabelValues(w.topic, "failure").Inc()
		level.Warn(w.logger).Log("msg", "produce failed", "topic", w.topic, "err", err)
		return err
	}

	metrics.KafkaProduced.WithLabelValues(w.topic, "success").Inc()
	return nil
}

// Stop unregisters the worker and releases the underlying client. A
// produce in flight when Stop is called surfaces its ack/nack to the
// caller normally; Stop only prevents new registrations from finding
// this worker afterward.
func (w *ProducerWorker) Stop() {
	if w.onUnregister != nil {
		w.onUnregister(w.testID, w.topic)
	}
	w.client.Close()
}
