// Package dsl implements the process-wide DSL registry (C12): the
// only process-wide mutable state in the system, giving step code a
// way to reach the producer/consumer worker for a (testId, topic)
// pair without holding a direct reference to it.
package dsl

import (
	"context"
	"sync"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/cloudevent"
	"github.com/testprobe/testprobe/internal/codec"
)

// ProducerHandle is the subset of a Kafka producer worker the
// registry needs to address it.
type ProducerHandle interface {
	ProduceEvent(ctx context.Context, keyBytes, valueBytes []byte, headers map[string][]byte) error
}

// ConsumerHandle is the subset of a Kafka consumer worker the
// registry needs to address it.
type ConsumerHandle interface {
	FetchConsumedEvent(ctx context.Context, correlationID string) (key, value []byte, headers map[string][]byte, found bool)
}

type key struct {
	testID string
	topic  string
}

// Registry is the process-wide DSL registry. The zero value is not
// usable; construct with New.
type Registry struct {
	mu        sync.RWMutex
	runtime   bool // set once a RuntimeRoot handle is installed
	producers map[key]ProducerHandle
	consumers map[key]ConsumerHandle
	codec     *codec.Cache
}

// New builds an empty Registry bound to codecCache for
// encoding/decoding step-facing payloads.
func New(codecCache *codec.Cache) *Registry {
	return &Registry{
		producers: make(map[key]ProducerHandle),
		consumers: make(map[key]ConsumerHandle),
		codec:     codecCache,
	}
}

// SetRuntime marks the registry as addressable. Operations before
// SetRuntime fail with DslNotInitialized.
func (r *Registry) SetRuntime() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtime = true
}

// ClearRuntime marks the registry as unaddressable, used during
// shutdown.
func (r *Registry) ClearRuntime() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtime = false
}

func (r *Registry) RegisterProducer(testID, topic string, h ProducerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[key{testID, topic}] = h
}

func (r *Registry) UnregisterProducer(testID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, key{testID, topic})
}

func (r *Registry) RegisterConsumer(testID, topic string, h ConsumerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[key{testID, topic}] = h
}

func (r *Registry) UnregisterConsumer(testID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, key{testID, topic})
}

// ProduceResult is the structured outcome of a successful produce.
type ProduceResult struct {
	Topic string
}

// ProduceEvent encodes cloudEventKey and payload via the schema
// codec, forwards them to the registered producer for (testId,
// topic), and awaits its single reply. The blocking and non-blocking
// variants share this implementation; ProduceEventAsync just wraps
// the call in a goroutine for callers that don't want to wait.
func (r *Registry) ProduceEvent(ctx context.Context, testID, topic string, ce cloudevent.Envelope, payload interface{}, headers map[string][]byte, payloadType codec.Format, recordName, rawPayloadSchema string) (ProduceResult, error) {
	r.mu.RLock()
	if !r.runtime {
		r.mu.RUnlock()
		return ProduceResult{}, &apperrors.DslNotInitialized{}
	}
	producer, ok := r.producers[key{testID, topic}]
	r.mu.RUnlock()
	if !ok {
		return ProduceResult{}, &apperrors.ActorNotRegistered{Kind: "producer", Test: testID, Topic: topic}
	}

	keyBytes, err := r.codec.EncodeJSONSchema(topic, "CloudEvent", "", ce)
	if err != nil {
		return ProduceResult{}, err
	}

	var valueBytes []byte
	switch payloadType {
	case codec.FormatAvro:
		valueBytes, err = r.codec.EncodeAvro(topic, recordName, rawPayloadSchema, payload)
	default:
		valueBytes, err = r.codec.EncodeJSONSchema(topic, recordName, rawPayloadSchema, payload)
	}
	if err != nil {
		return ProduceResult{}, err
	}

	if err := producer.ProduceEvent(ctx, keyBytes, valueBytes, headers); err != nil {
		return ProduceResult{}, err
	}
	return ProduceResult{Topic: topic}, nil
}

// ProduceEventAsync is the non-blocking variant of ProduceEvent.
func (r *Registry) ProduceEventAsync(ctx context.Context, testID, topic string, ce cloudevent.Envelope, payload interface{}, headers map[string][]byte, payloadType codec.Format, recordName, rawPayloadSchema string, done func(ProduceResult, error)) {
	go func() {
		res, err := r.ProduceEvent(ctx, testID, topic, ce, payload, headers, payloadType, recordName, rawPayloadSchema)
		done(res, err)
	}()
}

// ConsumedEvent is the structured outcome of a successful fetch.
type ConsumedEvent struct {
	Key     cloudevent.Envelope
	Value   interface{}
	Headers map[string][]byte
}

// FetchConsumedEvent sends FetchConsumedEvent to the registered
// consumer for (testId, topic); on a hit it decodes the key/value via
// the schema codec and returns a structured value; on a miss it
// raises ConsumerNotAvailable, the canonical retry signal for step
// code.
func (r *Registry) FetchConsumedEvent(ctx context.Context, testID, topic, correlationID string, valueType codec.Format, decodeValueInto interface{}) (ConsumedEvent, error) {
	r.mu.RLock()
	if !r.runtime {
		r.mu.RUnlock()
		return ConsumedEvent{}, &apperrors.DslNotInitialized{}
	}
	consumer, ok := r.consumers[key{testID, topic}]
	r.mu.RUnlock()
	if !ok {
		return ConsumedEvent{}, &apperrors.ActorNotRegistered{Kind: "consumer", Test: testID, Topic: topic}
	}

	keyBytes, valueBytes, headers, found := consumer.FetchConsumedEvent(ctx, correlationID)
	if !found {
		return ConsumedEvent{}, &apperrors.ConsumerNotAvailable{CorrelationID: correlationID, Topic: topic}
	}

	var ce cloudevent.Envelope
	if err := r.codec.DecodeJSONSchema(keyBytes, &ce); err != nil {
		return ConsumedEvent{}, err
	}

	var err error
	switch valueType {
	case codec.FormatAvro:
		err = r.codec.DecodeAvro(valueBytes, decodeValueInto)
	default:
		err = r.codec.DecodeJSONSchema(valueBytes, decodeValueInto)
	}
	if err != nil {
		return ConsumedEvent{}, err
	}

	return ConsumedEvent{Key: ce, Value: decodeValueInto, Headers: headers}, nil
}

// FetchConsumedEventAsync is the non-blocking variant of FetchConsumedEvent.
func (r *Registry) FetchConsumedEventAsync(ctx context.Context, testID, topic, correlationID string, valueType codec.Format, decodeValueInto interface{}, done func(ConsumedEvent, error)) {
	go func() {
		res, err := r.FetchConsumedEvent(ctx, testID, topic, correlationID, valueType, decodeValueInto)
		done(res, err)
	}()
}
