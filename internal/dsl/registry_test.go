package dsl

import (
	"context"
	"testing"

	"github.com/riferrei/srclient"
	"github.com/stretchr/testify/require"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/cloudevent"
	"github.com/testprobe/testprobe/internal/codec"
)

type fakeRegistry struct{ schema codec.SchemaInfo }

func (f *fakeRegistry) GetLatestSchema(_ string) (codec.SchemaInfo, error) { return f.schema, nil }
func (f *fakeRegistry) CreateSchema(_, _ string, _ srclient.SchemaType) (codec.SchemaInfo, error) {
	return f.schema, nil
}
func (f *fakeRegistry) GetSchemaByID(_ int) (codec.SchemaInfo, error) { return f.schema, nil }

type fakeProducer struct {
	lastKey, lastValue []byte
	err                error
}

func (p *fakeProducer) ProduceEvent(_ context.Context, key, value []byte, _ map[string][]byte) error {
	p.lastKey, p.lastValue = key, value
	return p.err
}

type fakeConsumer struct {
	key, value []byte
	found      bool
}

func (c *fakeConsumer) FetchConsumedEvent(_ context.Context, _ string) ([]byte, []byte, map[string][]byte, bool) {
	return c.key, c.value, nil, c.found
}

func newTestRegistry() *Registry {
	reg := &fakeRegistry{schema: codec.SchemaInfo{ID: 1, Schema: `{"type":"object"}`}}
	return New(codec.New(reg, false))
}

func TestRegistry_ProduceEventFailsWithoutRuntime(t *testing.T) {
	r := newTestRegistry()
	_, err := r.ProduceEvent(context.Background(), "t1", "topic1", cloudevent.Envelope{}, map[string]string{}, nil, codec.FormatJSONSchema, "Payload", "")
	require.ErrorAs(t, err, new(*apperrors.DslNotInitialized))
}

func TestRegistry_ProduceEventFailsWithoutRegisteredProducer(t *testing.T) {
	r := newTestRegistry()
	r.SetRuntime()
	_, err := r.ProduceEvent(context.Background(), "t1", "topic1", cloudevent.Envelope{}, map[string]string{}, nil, codec.FormatJSONSchema, "Payload", "")
	require.ErrorAs(t, err, new(*apperrors.ActorNotRegistered))
}

func TestRegistry_ProduceEventSucceeds(t *testing.T) {
	r := newTestRegistry()
	r.SetRuntime()
	p := &fakeProducer{}
	r.RegisterProducer("t1", "topic1", p)

	res, err := r.ProduceEvent(context.Background(), "t1", "topic1", cloudevent.Envelope{ID: "e1"}, map[string]string{"a": "b"}, nil, codec.FormatJSONSchema, "Payload", "")
	require.NoError(t, err)
	require.Equal(t, "topic1", res.Topic)
	require.NotEmpty(t, p.lastKey)
	require.NotEmpty(t, p.lastValue)
}

func TestRegistry_FetchConsumedEventNackIsConsumerNotAvailable(t *testing.T) {
	r := newTestRegistry()
	r.SetRuntime()
	r.RegisterConsumer("t1", "topic1", &fakeConsumer{found: false})

	var out map[string]string
	_, err := r.FetchConsumedEvent(context.Background(), "t1", "topic1", "corr-1", codec.FormatJSONSchema, &out)
	require.ErrorAs(t, err, new(*apperrors.ConsumerNotAvailable))
}

func TestRegistry_UnregisterRemovesHandle(t *testing.T) {
	r := newTestRegistry()
	r.SetRuntime()
	r.RegisterProducer("t1", "topic1", &fakeProducer{})
	r.UnregisterProducer("t1", "topic1")

	_, err := r.ProduceEvent(context.Background(), "t1", "topic1", cloudevent.Envelope{}, map[string]string{}, nil, codec.FormatJSONSchema, "Payload", "")
	require.ErrorAs(t, err, new(*apperrors.ActorNotRegistered))
}
