package modules

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/cucumber/godog"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/assembly"
	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/codec"
	tpconfig "github.com/testprobe/testprobe/internal/config"
	"github.com/testprobe/testprobe/internal/cucumber"
	"github.com/testprobe/testprobe/internal/dsl"
	"github.com/testprobe/testprobe/internal/guardian"
	"github.com/testprobe/testprobe/internal/ingress"
	"github.com/testprobe/testprobe/internal/kafka"
	"github.com/testprobe/testprobe/internal/queue"
	"github.com/testprobe/testprobe/internal/testexecution"
	"github.com/testprobe/testprobe/internal/vault"
)

const keyStatusReporter = "status-reporter"

// frameworkGlue wraps dsl.FrameworkGlue to match cucumber.GluePackage's
// exact function type: GluePackage takes a concrete cucumber.Dependencies
// parameter, while dsl.FrameworkGlue widens it to interface{} internally
// so that package never imports cucumber. The two signatures are
// distinct Go function types even though dsl.FrameworkGlue's body would
// accept any value the wrapper forwards, so the wrapper is the part that
// actually gets assigned into a []cucumber.GluePackage slice.
var frameworkGlue cucumber.GluePackage = func(sc *godog.ScenarioContext, deps cucumber.Dependencies) {
	dsl.FrameworkGlue(sc, deps)
}

// stepDeps is the concrete StepDependencies/cucumber.Dependencies pair
// built fresh for each test's CucumberExecution child.
type stepDeps struct {
	testID      string
	registry    *dsl.Registry
	eventSource string
}

func (d stepDeps) TestID() string             { return d.testID }
func (d stepDeps) DSLRegistry() *dsl.Registry { return d.registry }
func (d stepDeps) EventSource() string        { return d.eventSource }

// queueFacadeAdapter makes *queue.Queue satisfy ingress.QueueFacade: the
// ingress package declares its own Status/QueueStatusView shapes so it
// never has to import queue, which means the two pairs of types are
// structurally identical but nominally distinct. This adapter is the
// single place that reconciles them.
type queueFacadeAdapter struct {
	q *queue.Queue
}

func (a *queueFacadeAdapter) Initialize(testID string, directive blockstorage.Directive) error {
	return a.q.Initialize(testID, directive)
}

func (a *queueFacadeAdapter) Start(testID string) error { return a.q.Start(testID) }

func (a *queueFacadeAdapter) Cancel(testID string) { a.q.Cancel(testID) }

func (a *queueFacadeAdapter) GetStatus(testID string) (ingress.Status, bool) {
	s, ok := a.q.GetStatus(testID)
	return ingress.Status{TestID: s.TestID, State: s.State}, ok
}

func (a *queueFacadeAdapter) GetQueueStatus() ingress.QueueStatusView {
	qs := a.q.GetQueueStatus()
	return ingress.QueueStatusView{Depth: qs.Depth, InFlight: qs.InFlight}
}

// ActorRuntimeModule is the KindActorRuntime module: it builds the
// process-wide DSL registry and schema codec cache, the per-test
// ChildFactories every TestExecutionActor is spawned with, and the
// Guardian/Queue pair that admits and supervises tests.
type ActorRuntimeModule struct {
	cfg    *tpconfig.Config
	logger log.Logger
	pool   *cucumber.Pool

	guardian *guardian.Guardian
	registry *dsl.Registry
	adapter  *queueFacadeAdapter
}

// NewActorRuntimeModule wraps the root config. poolWorkers bounds the
// cucumber suite-execution worker pool shared by every test.
func NewActorRuntimeModule(cfg *tpconfig.Config, poolWorkers int, logger log.Logger) *ActorRuntimeModule {
	return &ActorRuntimeModule{cfg: cfg, pool: cucumber.NewPool(poolWorkers), logger: logger}
}

func (m *ActorRuntimeModule) Kind() assembly.Kind { return assembly.KindActorRuntime }

func (m *ActorRuntimeModule) Validate(ctx assembly.Context) (assembly.Context, error) {
	if len(m.cfg.Kafka.BootstrapServers) == 0 {
		return ctx, fmt.Errorf("kafka.bootstrap_servers must be non-empty")
	}
	return ctx, nil
}

func (m *ActorRuntimeModule) Initialize(ctx assembly.Context) (assembly.Context, error) {
	source, ok := ArtifactSourceFrom(ctx)
	if !ok {
		return ctx, fmt.Errorf("actor runtime: object storage artifact source not in build context")
	}
	backendRW, ok := BackendFrom(ctx)
	if !ok {
		return ctx, fmt.Errorf("actor runtime: object storage backend not in build context")
	}
	secretsClient, ok := SecretsClientFrom(ctx)
	if !ok {
		return ctx, fmt.Errorf("actor runtime: secrets client not in build context")
	}
	namer, ok := SecretNamerFrom(ctx)
	if !ok {
		return ctx, fmt.Errorf("actor runtime: secret namer not in build context")
	}

	registryClient := codec.NewSrclientAdapter(m.cfg.Kafka.SchemaRegistryURL)
	codecCache := codec.New(registryClient, m.cfg.Kafka.AutoRegisterSchema)
	dslRegistry := dsl.New(codecCache)

	bootstrap := m.cfg.Kafka.BootstrapServers
	eventSource := fmt.Sprintf("urn:testprobe:%s", m.cfg.ActorSystemName)

	factories := testexecution.ChildFactories{
		BlockStorage: func(testID string) testexecution.BlockStorageChild {
			return blockstorage.New(testID, "", source, backendRW, m.logger)
		},
		Vault: func(testID string) testexecution.VaultChild {
			return vault.New(testID, secretsClient, namer, m.logger)
		},
		ConsumerGroup: func(testID string) testexecution.KafkaGroup {
			return kafka.NewConsumerGroup(testID, kafka.DefaultClientBuilder, codecCache, dslRegistry, bootstrap, m.logger)
		},
		ProducerGroup: func(testID string) testexecution.KafkaGroup {
			return kafka.NewProducerGroup(testID, kafka.DefaultClientBuilder, dslRegistry, bootstrap, m.logger)
		},
		Cucumber: func(testID string, fs afero.Fs, mount string) testexecution.CucumberChild {
			scratch, err := os.MkdirTemp("", fmt.Sprintf("testprobe-glue-%s-", testID))
			var userGlue []cucumber.GluePackage
			if err != nil {
				level.Error(m.logger).Log("msg", "failed to create glue scratch dir, running with built-in steps only", "testId", testID, "err", err)
			} else {
				userGlue, err = cucumber.LoadUserGluePackages(fs, path.Join(mount, blockstorage.DirStepDefinitions), scratch)
				if err != nil {
					level.Error(m.logger).Log("msg", "failed to load user glue packages, running with built-in steps only", "testId", testID, "err", err)
					userGlue = nil
				}
			}

			glue := append([]cucumber.GluePackage{frameworkGlue}, userGlue...)
			deps := stepDeps{testID: testID, registry: dslRegistry, eventSource: eventSource}
			return cucumber.New(testID, fs, mount, glue, deps, m.pool, m.logger)
		},
	}

	spawner := func(testID string, directive blockstorage.Directive, onTerminal func(queue.Outcome)) (queue.TestHandle, error) {
		return testexecution.Spawn(testID, directive, onTerminal, factories, m.cfg.Execution, m.logger)
	}

	queueFactory := func() *queue.Queue { return queue.New(m.cfg.Queue, spawner, m.logger) }

	g := guardian.New(m.cfg.RestartPolicy(), queueFactory, func(err error) {
		level.Error(m.logger).Log("msg", "actor runtime entered a fatal state", "err", err)
	}, m.logger)

	if err := g.Initialize(context.Background()); err != nil {
		return ctx, fmt.Errorf("guardian initialize: %w", err)
	}
	dslRegistry.SetRuntime()

	qh := g.GetQueueHandle()
	if qh == nil {
		return ctx, fmt.Errorf("guardian produced no queue handle")
	}
	adapter := &queueFacadeAdapter{q: qh}

	m.guardian = g
	m.registry = dslRegistry
	m.adapter = adapter

	ctx = ctx.With(assembly.KeyRuntimeRoot, g)
	ctx = ctx.With(assembly.KeyQueueHandle, adapter)
	ctx = ctx.With(assembly.KeyDSLRegistry, dslRegistry)
	ctx = ctx.With(keyStatusReporter, m)

	// ServiceFuncs is populated for ExternalBehavior modules per the
	// curried-function design note; the TestExecutionActor's own
	// children are wired directly through ChildFactories above rather
	// than through this bundle; see DESIGN.md.
	serviceFuncs := assembly.ServiceFuncs{
		Vault: func(ctx context.Context, topics []kafka.TopicDirective) ([]kafka.SecurityDirective, error) {
			v := vault.New("external", secretsClient, namer, m.logger)
			return v.Initialize(ctx, blockstorage.Directive{Topics: topics})
		},
		Storage: assembly.StorageFunc{
			Fetch: func(ctx context.Context, testID, bucket string) (blockstorage.Directive, error) {
				d, _, err := source.Resolve(ctx, testID, bucket)
				return d, err
			},
			Load: func(ctx context.Context, testID, bucket string, result blockstorage.UploadSpec) error {
				return &apperrors.ValidationError{Msg: "evidence upload requires a live BlockStorage child; not reachable through the curried ServiceFuncs surface"}
			},
		},
	}
	ctx = ctx.With(assembly.KeyServiceFuncs, serviceFuncs)

	return ctx, nil
}

func (m *ActorRuntimeModule) Verify(ctx assembly.Context) (assembly.Context, error) {
	if m.guardian == nil {
		return ctx, fmt.Errorf("actor runtime not initialized")
	}
	if m.guardian.Degraded() {
		return ctx, fmt.Errorf("actor runtime is degraded")
	}
	return ctx, nil
}

// ServiceStates implements ingress.StatusReporter for the operator
// status surface.
func (m *ActorRuntimeModule) ServiceStates() map[string]string {
	states := map[string]string{"dsl-registry": "unknown", "guardian": "unknown"}
	if m.guardian != nil {
		if m.guardian.Degraded() {
			states["guardian"] = "degraded"
		} else {
			states["guardian"] = "running"
		}
	}
	if m.registry != nil {
		states["dsl-registry"] = "running"
	}
	return states
}

// QueueAdapter exposes the ingress.QueueFacade built from this module's
// Guardian-owned Queue, for the Ingress module to wire in.
func (m *ActorRuntimeModule) QueueAdapter() ingress.QueueFacade { return m.adapter }
