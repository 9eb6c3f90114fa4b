package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/cloudevent"
	"github.com/testprobe/testprobe/internal/codec"
	"github.com/testprobe/testprobe/internal/metrics"
)

// commitBatchSize is N from the spec: offsets are committed in
// groups of up to this many records, or on timer.
const commitBatchSize = 20

// consumedRecord is what a streaming worker keeps per correlation id.
type consumedRecord struct {
	key, value []byte
	headers    map[string][]byte
}

// kafkaConsumerClient is the subset of *kgo.Client a worker drives,
// named so tests can substitute a fake without a live broker.
type kafkaConsumerClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
	Close()
}

// ConsumerWorker streams one (testId, topic) pair: it polls, decodes,
// filters, and stores matching records in a correlation map that
// step code queries through the DSL registry.
type ConsumerWorker struct {
	testID string
	topic  string
	client kafkaConsumerClient
	codec  *codec.Cache
	filter []EventFilter
	logger log.Logger

	mu      sync.RWMutex
	records map[string]consumedRecord

	stop chan struct{}
	done chan struct{}

	onRegister   func(testID, topic string, w *ConsumerWorker)
	onUnregister func(testID, topic string)
}

// NewConsumerWorker builds a worker over an already-connected client.
// Dialing, topic subscription, and security-directive wiring are the
// caller's (the supervisor's) responsibility, matching how franz-go
// clients are normally constructed with their full option set upfront.
func NewConsumerWorker(testID, topic string, client kafkaConsumerClient, codecCache *codec.Cache, filter []EventFilter, logger log.Logger,
	onRegister func(testID, topic string, w *ConsumerWorker), onUnregister func(testID, topic string)) *ConsumerWorker {
	w := &ConsumerWorker{
		testID:       testID,
		topic:        topic,
		client:       client,
		codec:        codecCache,
		filter:       filter,
		logger:       logger,
		records:      make(map[string]consumedRecord),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		onRegister:   onRegister,
		onUnregister: onUnregister,
	}
	return w
}

// Start subscribes to the topic (implicit in the already-configured
// client) and runs the single-threaded poll/decode/filter/commit
// pipeline until Stop. It registers itself in the DSL registry before
// entering the loop and unregisters on exit.
func (w *ConsumerWorker) Start(ctx context.Context) {
	if w.onRegister != nil {
		w.onRegister(w.testID, w.topic, w)
	}
	go w.run(ctx)
}

func (w *ConsumerWorker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if w.onUnregister != nil {
			w.onUnregister(w.testID, w.topic)
		}
		w.client.Close()
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	uncommitted := 0
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if uncommitted > 0 {
				w.commit(ctx)
				uncommitted = 0
			}
		default:
		}

		fetches := w.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		fetches.EachError(func(_ string, _ int32, err error) {
			level.Warn(w.logger).Log("msg", "kafka poll error", "topic", w.topic, "err", err)
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			w.handleRecord(rec)
			uncommitted++
			if uncommitted >= commitBatchSize {
				w.commit(ctx)
				uncommitted = 0
			}
		})
	}
}

func (w *ConsumerWorker) handleRecord(rec *kgo.Record) {
	var ce cloudevent.Envelope
	if err := w.codec.DecodeJSONSchema(rec.Key, &ce); err != nil {
		metrics.KafkaDecodeErrors.WithLabelValues(w.topic).Inc()
		decodeErr := &apperrors.DecodeError{Topic: w.topic, Err: err}
		level.Warn(w.logger).Log("msg", "skipping record", "err", decodeErr)
		return
	}

	if !w.passesFilter(ce) {
		return
	}

	headers := make(map[string][]byte, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = h.Value
	}

	w.mu.Lock()
	w.records[ce.CorrelationID] = consumedRecord{key: rec.Key, value: rec.Value, headers: headers}
	w.mu.Unlock()

	metrics.KafkaRecordsConsumed.WithLabelValues(w.topic).Inc()
}

func (w *ConsumerWorker) passesFilter(ce cloudevent.Envelope) bool {
	if len(w.filter) == 0 {
		return true
	}
	for _, f := range w.filter {
		if f.Type == ce.Type && f.PayloadVersion == ce.PayloadVersion {
			return true
		}
	}
	return false
}

func (w *ConsumerWorker) commit(ctx context.Context) {
	if err := w.client.CommitUncommittedOffsets(ctx); err != nil {
		level.Warn(w.logger).Log("msg", "offset commit failed", "topic", w.topic, "err", err)
	}
}

// FetchConsumedEvent implements dsl.ConsumerHandle. Lookup does not
// remove the entry.
func (w *ConsumerWorker) FetchConsumedEvent(_ context.Context, correlationID string) (key, value []byte, headers map[string][]byte, found bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.records[correlationID]
	if !ok {
		return nil, nil, nil, false
	}
	return rec.key, rec.value, rec.headers, true
}

// Stop terminates the worker without draining: an uncommitted batch
// (up to commitBatchSize records) may be redelivered on restart, the
// accepted at-least-once cost.
func (w *ConsumerWorker) Stop() {
	close(w.stop)
	<-w.done
}
