package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

// fakeProducerClient records the last record it was asked to send and
// returns a configurable ack/nack, modeled on ProduceSync's single-call
// round trip shape.
type fakeProducerClient struct {
	lastRecord *kgo.Record
	err        error
	closed     bool
}

func (f *fakeProducerClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.lastRecord = rs[0]
	return kgo.ProduceResults{{Record: rs[0], Err: f.err}}
}

func (f *fakeProducerClient) Close() { f.closed = true }

func TestProducerWorker_RegistersOnStart(t *testing.T) {
	client := &fakeProducerClient{}
	var registered *ProducerWorker
	w := NewProducerWorker("t1", "orders", client, log.NewNopLogger(),
		func(_, _ string, worker *ProducerWorker) { registered = worker }, nil)

	w.Start()
	require.Same(t, w, registered)
}

func TestProducerWorker_ProduceEventSendsKeyValueAndHeaders(t *testing.T) {
	client := &fakeProducerClient{}
	w := NewProducerWorker("t1", "orders", client, log.NewNopLogger(), nil, nil)

	err := w.ProduceEvent(context.Background(), []byte("key"), []byte("value"), map[string][]byte{"h1": []byte("v1")})
	require.NoError(t, err)

	require.Equal(t, "orders", client.lastRecord.Topic)
	require.Equal(t, []byte("key"), client.lastRecord.Key)
	require.Equal(t, []byte("value"), client.lastRecord.Value)
	require.Len(t, client.lastRecord.Headers, 1)
	require.Equal(t, "h1", client.lastRecord.Headers[0].Key)
}

func TestProducerWorker_ProduceEventReturnsBrokerError(t *testing.T) {
	client := &fakeProducerClient{err: errors.New("broker unavailable")}
	w := NewProducerWorker("t1", "orders", client, log.NewNopLogger(), nil, nil)

	err := w.ProduceEvent(context.Background(), []byte("key"), []byte("value"), nil)
	require.Error(t, err)
}

func TestProducerWorker_StopUnregistersAndClosesClient(t *testing.T) {
	client := &fakeProducerClient{}
	var unregisteredTopic string
	w := NewProducerWorker("t1", "orders", client, log.NewNopLogger(), nil,
		func(_, topic string) { unregisteredTopic = topic })

	w.Stop()

	require.Equal(t, "orders", unregisteredTopic)
	require.True(t, client.closed)
}
