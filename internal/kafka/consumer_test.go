package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/riferrei/srclient"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/testprobe/testprobe/internal/cloudevent"
	"github.com/testprobe/testprobe/internal/codec"
)

type fakeSchemaRegistry struct{ schema codec.SchemaInfo }

func (f *fakeSchemaRegistry) GetLatestSchema(_ string) (codec.SchemaInfo, error) { return f.schema, nil }
func (f *fakeSchemaRegistry) CreateSchema(_, _ string, _ srclient.SchemaType) (codec.SchemaInfo, error) {
	return f.schema, nil
}
func (f *fakeSchemaRegistry) GetSchemaByID(_ int) (codec.SchemaInfo, error) { return f.schema, nil }

func newTestCodec() *codec.Cache {
	reg := &fakeSchemaRegistry{schema: codec.SchemaInfo{ID: 1, Schema: `{"type":"object"}`}}
	return codec.New(reg, false)
}

// fakeConsumerClient serves a fixed batch of fetches once, then returns
// empty fetches until closed, mirroring createTestFetches in the
// doublezero flow-enricher consumer tests.
type fakeConsumerClient struct {
	mu        sync.Mutex
	fetches   kgo.Fetches
	served    bool
	commits   int
	closed    bool
}

func (f *fakeConsumerClient) PollFetches(_ context.Context) kgo.Fetches {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return kgo.Fetches{}
	}
	if f.served {
		time.Sleep(time.Millisecond)
		return kgo.Fetches{}
	}
	f.served = true
	return f.fetches
}

func (f *fakeConsumerClient) CommitUncommittedOffsets(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeConsumerClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func recordWithEnvelope(t *testing.T, c *codec.Cache, topic string, ce cloudevent.Envelope) *kgo.Record {
	t.Helper()
	key, err := c.EncodeJSONSchema(topic, "CloudEvent", "", ce)
	require.NoError(t, err)
	return &kgo.Record{Key: key, Value: []byte(`{"name":"widget"}`)}
}

func TestConsumerWorker_StoresRecordsMatchingFilter(t *testing.T) {
	c := newTestCodec()
	ce := cloudevent.Envelope{CorrelationID: "corr-1", Type: "OrderPlaced", PayloadVersion: "v1"}
	rec := recordWithEnvelope(t, c, "orders", ce)

	client := &fakeConsumerClient{fetches: kgo.Fetches{kgo.Fetch{Topics: []kgo.FetchTopic{
		{Topic: "orders", Partitions: []kgo.FetchPartition{{Partition: 0, Records: []*kgo.Record{rec}}}},
	}}}}

	var registered *ConsumerWorker
	w := NewConsumerWorker("t1", "orders", client, c, []EventFilter{{Type: "OrderPlaced", PayloadVersion: "v1"}}, log.NewNopLogger(),
		func(_, _ string, worker *ConsumerWorker) { registered = worker },
		func(_, _ string) {})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		_, _, _, found := w.FetchConsumedEvent(ctx, "corr-1")
		return found
	}, time.Second, time.Millisecond)

	require.Same(t, w, registered)
	cancel()
	w.Stop()
}

func TestConsumerWorker_DropsRecordNotMatchingFilter(t *testing.T) {
	c := newTestCodec()
	ce := cloudevent.Envelope{CorrelationID: "corr-2", Type: "OrderCancelled", PayloadVersion: "v1"}
	rec := recordWithEnvelope(t, c, "orders", ce)

	client := &fakeConsumerClient{fetches: kgo.Fetches{kgo.Fetch{Topics: []kgo.FetchTopic{
		{Topic: "orders", Partitions: []kgo.FetchPartition{{Partition: 0, Records: []*kgo.Record{rec}}}},
	}}}}

	w := NewConsumerWorker("t1", "orders", client, c, []EventFilter{{Type: "OrderPlaced", PayloadVersion: "v1"}}, log.NewNopLogger(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	_, _, _, found := w.FetchConsumedEvent(ctx, "corr-2")
	require.False(t, found)

	cancel()
	w.Stop()
}

func TestConsumerWorker_FetchMissReturnsNotFound(t *testing.T) {
	c := newTestCodec()
	client := &fakeConsumerClient{}
	w := NewConsumerWorker("t1", "orders", client, c, nil, log.NewNopLogger(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	_, _, _, found := w.FetchConsumedEvent(ctx, "missing")
	require.False(t, found)

	cancel()
	w.Stop()
}

func TestConsumerWorker_UnregistersOnStop(t *testing.T) {
	c := newTestCodec()
	client := &fakeConsumerClient{}
	var unregisteredTopic string
	w := NewConsumerWorker("t1", "orders", client, c, nil, log.NewNopLogger(), nil,
		func(_, topic string) { unregisteredTopic = topic })

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Stop()

	require.Equal(t, "orders", unregisteredTopic)
}
