// Package testexecution implements the per-test orchestrator (C6):
// the supervised, single-writer state machine that spawns BlockStorage,
// Vault, the Kafka producer/consumer groups, and CucumberExecution for
// one test, drives them through the barrier-synchronized setup sequence
// in spec.md §4.4, and reports a structured outcome.
package testexecution

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/kafka"
	"github.com/testprobe/testprobe/internal/queue"
	"github.com/testprobe/testprobe/internal/testresult"
)

// State is one node of the FSM in spec.md §4.4.
type State string

const (
	StateCreated           State = "created"
	StateAwaitingSetup     State = "awaiting_setup"
	StateAwaitingReadiness State = "awaiting_readiness"
	StateRunning           State = "running"
	StateReporting         State = "reporting"
	StateSuccess           State = "success"
	StateFailure           State = "failure"
	StateCancelled         State = "cancelled"
)

func (s State) terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateCancelled
}

// BlockStorageChild is the C7 child contract the FSM drives. The
// concrete *blockstorage.BlockStorage already satisfies this.
type BlockStorageChild interface {
	Initialize(ctx context.Context, bucketOverride string) (blockstorage.Directive, error)
	LoadToBlockStorage(ctx context.Context, result testresult.TestExecutionResult) error
	FS() afero.Fs
	Stop()
}

// VaultChild is the C8 child contract. *vault.Vault satisfies this.
type VaultChild interface {
	Initialize(ctx context.Context, directive blockstorage.Directive) ([]kafka.SecurityDirective, error)
	Stop()
}

// KafkaGroup is the shared C9/C10 supervisor contract.
// *kafka.ConsumerGroup and *kafka.ProducerGroup both satisfy this.
type KafkaGroup interface {
	Initialize(ctx context.Context, topics []kafka.TopicDirective, securities map[string]kafka.SecurityDirective) error
	Stop()
}

// CucumberChild is the C11 child contract. *cucumber.CucumberExecution
// satisfies this.
type CucumberChild interface {
	Initialize(directive blockstorage.Directive) error
	StartTest(onFinished func(testresult.TestExecutionResult))
	Stop()
}

// ChildFactories builds the fixed set of children a TestExecutionActor
// spawns on admission. Each factory is scoped to testID and, for
// Cucumber, the virtual FS BlockStorage.Initialize will populate.
// Kept as factory functions (not pre-built instances) so Spawn can
// create every child fresh per test, matching "children are not
// shared across tests" (spec.md §5 Ownership).
type ChildFactories struct {
	BlockStorage  func(testID string) BlockStorageChild
	Vault         func(testID string) VaultChild
	ConsumerGroup func(testID string) KafkaGroup
	ProducerGroup func(testID string) KafkaGroup
	Cucumber      func(testID string, fs afero.Fs, mount string) CucumberChild
}

// Config bounds the FSM's own timeouts. SetupTimeout bounds setup and
// the evidence upload. StopTimeout is carried in configuration but not
// read by the FSM: stopChildren calls each child's Stop synchronously,
// with no time limit of its own.
type Config struct {
	SetupTimeout time.Duration
	StopTimeout  time.Duration
}

// DefaultConfig matches spec.md §5's defaults: 30s for top-level setup,
// a generous but bounded stop window.
func DefaultConfig() Config {
	return Config{SetupTimeout: 30 * time.Second, StopTimeout: 10 * time.Second}
}

// Actor is the C6 FSM. All mutable state is confined to the single
// goroutine draining mailbox — the "single-writer over its children"
// invariant (spec.md §3) — so every exported method is a request/reply
// round trip through that goroutine.
type Actor struct {
	testID string
	bucket string
	cfg    Config
	logger log.Logger

	factories ChildFactories
	onTerminal func(queue.Outcome)

	mailbox chan func()

	state      State
	directive  blockstorage.Directive
	securities map[string]kafka.SecurityDirective
	result     testresult.TestExecutionResult
	errMsg     string

	blockStorage  BlockStorageChild
	vault         VaultChild
	consumerGroup KafkaGroup
	producerGroup KafkaGroup
	cucumber      CucumberChild

	startRequested bool
	cancelled      bool
}

// Spawn builds and starts a TestExecutionActor for testID. directive
// carries at minimum the admission-time bucket/object path (the rest of
// its fields are populated once BlockStorage.Initialize returns the
// materialized directive). Spawns are unconditional and run
// immediately in the background: a failure to construct any child is
// fatal for the test (spec.md §4.4 Setup), surfaced through
// onTerminal(OutcomeFailure) rather than a constructor error, since the
// Queue's spawner contract (queue.Spawner) only errors on construction
// itself failing, not on later setup failures.
func Spawn(testID string, directive blockstorage.Directive, onTerminal func(queue.Outcome), factories ChildFactories, cfg Config, logger log.Logger) (*Actor, error) {
	a := &Actor{
		testID:     testID,
		bucket:     directive.Bucket,
		cfg:        cfg,
		logger:     log.With(logger, "testId", testID),
		factories:  factories,
		onTerminal: onTerminal,
		mailbox:    make(chan func(), 8),
		state:      StateCreated,
	}
	go a.run()
	go a.bootstrap()
	return a, nil
}

func (a *Actor) run() {
	for fn := range a.mailbox {
		fn()
	}
}

// bootstrap drives Created -> AwaitingSetup -> AwaitingReadiness
// unconditionally, then waits (inside the mailbox) for an external
// Start or Cancel.
func (a *Actor) bootstrap() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SetupTimeout)
	defer cancel()

	done := make(chan struct{})
	a.mailbox <- func() {
		a.state = StateAwaitingSetup
		a.blockStorage = a.factories.BlockStorage(a.testID)
		a.vault = a.factories.Vault(a.testID)
		a.consumerGroup = a.factories.ConsumerGroup(a.testID)
		a.producerGroup = a.factories.ProducerGroup(a.testID)
		level.Info(a.logger).Log("msg", "children spawned")
		close(done)
	}
	<-done

	directive, err := a.blockStorage.Initialize(ctx, a.bucket)
	if err != nil {
		a.fail(fmt.Sprintf("testId=%s blockstorage fetch failed", a.testID))
		return
	}

	securityList, err := a.vault.Initialize(ctx, directive)
	if err != nil {
		a.fail(fmt.Sprintf("testId=%s vault fetch failed", a.testID))
		return
	}
	securities := kafka.SecuritiesByTopic(securityList)

	if err := a.consumerGroup.Initialize(ctx, directive.Topics, securities); err != nil {
		a.fail(fmt.Sprintf("testId=%s kafka consumer setup failed", a.testID))
		return
	}
	if err := a.producerGroup.Initialize(ctx, directive.Topics, securities); err != nil {
		a.fail(fmt.Sprintf("testId=%s kafka producer setup failed", a.testID))
		return
	}

	cucumberChild := a.factories.Cucumber(a.testID, a.blockStorage.FS(), directive.MountPath())
	if err := cucumberChild.Initialize(directive); err != nil {
		a.fail(fmt.Sprintf("testId=%s cucumber setup failed", a.testID))
		return
	}

	readyDone := make(chan struct{})
	a.mailbox <- func() {
		a.directive = directive
		a.securities = securities
		a.cucumber = cucumberChild
		a.state = StateAwaitingReadiness
		level.Info(a.logger).Log("msg", "barrier satisfied, all children ready")
		a.maybeStart()
		close(readyDone)
	}
	<-readyDone
}

// maybeStart transitions AwaitingReadiness -> Running once both the
// barrier has completed and Start has been called, or to Cancelled if
// Cancel arrived first. Must run on the mailbox goroutine.
func (a *Actor) maybeStart() {
	if a.state != StateAwaitingReadiness {
		return
	}
	if a.cancelled {
		a.teardown(StateCancelled)
		return
	}
	if !a.startRequested {
		return
	}
	a.state = StateRunning
	level.Info(a.logger).Log("msg", "starting scenario execution")
	a.cucumber.StartTest(func(result testresult.TestExecutionResult) {
		a.mailbox <- func() { a.onFinished(result) }
	})
}

func (a *Actor) onFinished(result testresult.TestExecutionResult) {
	if a.state.terminal() {
		return
	}
	a.state = StateReporting
	a.result = result
	level.Info(a.logger).Log("msg", "scenario execution finished", "passed", result.Passed, "scenarios", result.ScenarioCount)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SetupTimeout)
		defer cancel()
		uploadErr := a.blockStorage.LoadToBlockStorage(ctx, result)
		a.mailbox <- func() { a.afterUpload(result, uploadErr) }
	}()
}

func (a *Actor) afterUpload(result testresult.TestExecutionResult, uploadErr error) {
	if a.state.terminal() {
		return
	}
	if uploadErr != nil {
		level.Error(a.logger).Log("msg", "evidence upload failed", "err", uploadErr)
	}

	a.stopChildren()
	if result.Passed {
		a.state = StateSuccess
		a.notify(queue.OutcomeSuccess)
	} else {
		a.state = StateFailure
		a.notify(queue.OutcomeFailure)
	}
}

// fail moves the actor straight to Failure from anywhere in setup. It
// runs off the mailbox goroutine (bootstrap calls it directly after an
// error) so it re-enters the mailbox to mutate state safely.
func (a *Actor) fail(msg string) {
	done := make(chan struct{})
	a.mailbox <- func() {
		if a.state.terminal() {
			close(done)
			return
		}
		a.errMsg = msg
		level.Error(a.logger).Log("msg", "test failed during setup", "reason", msg)
		a.stopChildren()
		a.state = StateFailure
		a.result = testresult.TestExecutionResult{TestID: a.testID, Passed: false, ErrorMessage: msg}
		a.notify(queue.OutcomeFailure)
		close(done)
	}
	<-done
}

func (a *Actor) teardown(target State) {
	a.stopChildren()
	a.state = target
	outcome := queue.OutcomeCancelled
	if target == StateFailure {
		outcome = queue.OutcomeFailure
	}
	a.notify(outcome)
}

// stopChildren sends Stop to every spawned child that exists. Children
// spawned only partway through setup (e.g. vault failed before the
// kafka groups were built) are nil and skipped.
func (a *Actor) stopChildren() {
	if a.cucumber != nil {
		a.cucumber.Stop()
	}
	if a.producerGroup != nil {
		a.producerGroup.Stop()
	}
	if a.consumerGroup != nil {
		a.consumerGroup.Stop()
	}
	if a.vault != nil {
		a.vault.Stop()
	}
	if a.blockStorage != nil {
		a.blockStorage.Stop()
	}
}

func (a *Actor) notify(outcome queue.Outcome) {
	if a.onTerminal != nil {
		a.onTerminal(outcome)
	}
}

// Start signals the FSM to begin scenario execution once setup's
// barrier has completed. If the barrier already completed, execution
// starts immediately; otherwise the request is remembered and honored
// as soon as AwaitingReadiness is reached.
func (a *Actor) Start() error {
	reply := make(chan error, 1)
	a.mailbox <- func() {
		if a.state.terminal() {
			reply <- &apperrors.ValidationError{Msg: fmt.Sprintf("test %s already terminal", a.testID)}
			return
		}
		if a.startRequested {
			reply <- &apperrors.ValidationError{Msg: fmt.Sprintf("test %s already started", a.testID)}
			return
		}
		a.startRequested = true
		a.maybeStart()
		reply <- nil
	}
	return <-reply
}

// Cancel signals the FSM to tear down from any non-terminal state.
// Children are stopped immediately; the FSM waits on its own mailbox
// (not a separate window) since every stopChildren call here is
// synchronous and each child's Stop already bounds its own blocking.
func (a *Actor) Cancel() {
	done := make(chan struct{})
	a.mailbox <- func() {
		defer close(done)
		if a.state.terminal() {
			return
		}
		a.cancelled = true
		if a.state == StateCreated || a.state == StateAwaitingSetup {
			// Setup is still running on bootstrap's goroutine and is not
			// interrupted. The cancellation is recorded here and acted on
			// by maybeStart when AwaitingReadiness is reached; a setup
			// failure in the meantime ends the test in Failure instead.
			return
		}
		a.teardown(StateCancelled)
	}
	<-done
}

// Status reports the FSM's current state.
func (a *Actor) Status() queue.Status {
	reply := make(chan queue.Status, 1)
	a.mailbox <- func() {
		reply <- queue.Status{TestID: a.testID, State: string(a.state)}
	}
	return <-reply
}
