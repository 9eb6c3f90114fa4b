package kafka

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/codec"
	"github.com/testprobe/testprobe/internal/dsl"
)

// ClientBuilder dials a franz-go client for one (topic, role) pair under
// the given security directive. Consumer clients are built with a group
// id scoped to the test so two tests on the same topic never share
// offsets; producer clients need no group id. Kept as a function type,
// not a method, so tests can substitute an in-memory fake without a
// live broker.
type ClientBuilder func(testID string, topic string, role Role, sec SecurityDirective, bootstrap []string) (*kgo.Client, error)

// DefaultClientBuilder dials a real franz-go client, enabling TLS when
// sec's protocol is SSL. No SASL mechanism is configured for the
// SASL_PLAINTEXT/SASL_SSL protocols: sec's JAAS config is not applied.
// Consumer clients have auto-commit disabled; offsets are committed by
// the worker's own batching. Credential material from sec never reaches
// a log call in this function.
func DefaultClientBuilder(testID, topic string, role Role, sec SecurityDirective, bootstrap []string) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(bootstrap...),
	}
	if role == RoleConsumer {
		opts = append(opts, kgo.ConsumerGroup(fmt.Sprintf("testprobe-%s", testID)), kgo.ConsumeTopics(topic), kgo.DisableAutoCommit())
	}
	opts = append(opts, securityOpts(sec)...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, &apperrors.TransientIoError{Op: fmt.Sprintf("dial kafka for test %s topic %s", testID, topic), Err: err}
	}
	return client, nil
}

// ConsumerGroup is the C9 supervisor: one instance per test, owning one
// ConsumerWorker per consumer topic the test references.
type ConsumerGroup struct {
	testID     string
	builder    ClientBuilder
	codecCache *codec.Cache
	registry   *dsl.Registry
	bootstrap  []string
	logger     log.Logger

	workers []*ConsumerWorker
	cancel  context.CancelFunc
}

// NewConsumerGroup builds a group scoped to one test.
func NewConsumerGroup(testID string, builder ClientBuilder, codecCache *codec.Cache, registry *dsl.Registry, bootstrap []string, logger log.Logger) *ConsumerGroup {
	return &ConsumerGroup{testID: testID, builder: builder, codecCache: codecCache, registry: registry, bootstrap: bootstrap, logger: logger}
}

// Initialize spawns one worker per topic in topics with role=consumer,
// pairing each with its resolved SecurityDirective. An empty topic list
// is valid and yields zero workers, per spec.md §8's boundary case.
// Every worker registers itself in the DSL registry before Initialize
// returns.
func (g *ConsumerGroup) Initialize(ctx context.Context, topics []TopicDirective, securities map[string]SecurityDirective) error {
	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	for _, t := range topics {
		if t.Role != RoleConsumer {
			continue
		}
		sec := securities[t.Topic]
		client, err := g.builder(g.testID, t.Topic, RoleConsumer, sec, g.bootstrap)
		if err != nil {
			cancel()
			return err
		}

		w := NewConsumerWorker(g.testID, t.Topic, client, g.codecCache, t.Filters, g.logger,
			func(testID, topic string, worker *ConsumerWorker) { g.registry.RegisterConsumer(testID, topic, worker) },
			g.registry.UnregisterConsumer)
		w.Start(runCtx)
		g.workers = append(g.workers, w)
	}

	level.Info(g.logger).Log("msg", "kafka consumer group ready", "testId", g.testID, "workers", len(g.workers))
	return nil
}

// Stop unregisters and tears down every worker. No drain: up to one
// uncommitted offset batch per worker may be re-delivered on a future
// run, the accepted at-least-once cost (spec.md §4.7 point 5, §9).
func (g *ConsumerGroup) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	for _, w := range g.workers {
		w.Stop()
	}
}

// ProducerGroup is the C10 supervisor: symmetric to ConsumerGroup, one
// ProducerWorker per producer topic.
type ProducerGroup struct {
	testID    string
	builder   ClientBuilder
	registry  *dsl.Registry
	bootstrap []string
	logger    log.Logger

	workers []*ProducerWorker
}

// NewProducerGroup builds a group scoped to one test.
func NewProducerGroup(testID string, builder ClientBuilder, registry *dsl.Registry, bootstrap []string, logger log.Logger) *ProducerGroup {
	return &ProducerGroup{testID: testID, builder: builder, registry: registry, bootstrap: bootstrap, logger: logger}
}

// Initialize spawns one worker per producer topic, paired with its
// resolved SecurityDirective.
func (g *ProducerGroup) Initialize(_ context.Context, topics []TopicDirective, securities map[string]SecurityDirective) error {
	for _, t := range topics {
		if t.Role != RoleProducer {
			continue
		}
		sec := securities[t.Topic]
		client, err := g.builder(g.testID, t.Topic, RoleProducer, sec, g.bootstrap)
		if err != nil {
			return err
		}

		w := NewProducerWorker(g.testID, t.Topic, client, g.logger,
			func(testID, topic string, worker *ProducerWorker) { g.registry.RegisterProducer(testID, topic, worker) },
			g.registry.UnregisterProducer)
		w.Start()
		g.workers = append(g.workers, w)
	}

	level.Info(g.logger).Log("msg", "kafka producer group ready", "testId", g.testID, "workers", len(g.workers))
	return nil
}

// Stop unregisters and releases every worker's client.
func (g *ProducerGroup) Stop() {
	for _, w := range g.workers {
		w.Stop()
	}
}

// SecuritiesByTopic indexes a flat security-directive list by topic, the
// shape both groups' Initialize expects.
func SecuritiesByTopic(list []SecurityDirective) map[string]SecurityDirective {
	m := make(map[string]SecurityDirective, len(list))
	for _, s := range list {
		m[s.Topic] = s
	}
	return m
}

func securityOpts(sec SecurityDirective) []kgo.Opt {
	var opts []kgo.Opt
	switch sec.SecurityProtocol {
	case ProtocolSSL:
		opts = append(opts, kgo.DialTLSConfig(nil))
	case ProtocolSASLPlain, ProtocolSASLSSL:
		// JAAS config carries the mechanism + credentials; parsing it
		// into a concrete kgo.SASL value is the caller's concern at the
		// assembly boundary, not this package's — kept here only as the
		// extension point so production wiring can plug a real
		// SASL mechanism without touching worker code.
	}
	return opts
}
