package testexecution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/kafka"
	"github.com/testprobe/testprobe/internal/queue"
	"github.com/testprobe/testprobe/internal/testresult"
)

type fakeBlockStorage struct {
	fs           afero.Fs
	directive    blockstorage.Directive
	initErr      error
	uploadErr    error
	stopped      bool
	uploadCalled bool
}

func (f *fakeBlockStorage) Initialize(ctx context.Context, bucket string) (blockstorage.Directive, error) {
	return f.directive, f.initErr
}
func (f *fakeBlockStorage) LoadToBlockStorage(ctx context.Context, result testresult.TestExecutionResult) error {
	f.uploadCalled = true
	return f.uploadErr
}
func (f *fakeBlockStorage) FS() afero.Fs { return f.fs }
func (f *fakeBlockStorage) Stop()        { f.stopped = true }

type fakeVault struct {
	securities []kafka.SecurityDirective
	initErr    error
	stopped    bool
}

func (f *fakeVault) Initialize(ctx context.Context, directive blockstorage.Directive) ([]kafka.SecurityDirective, error) {
	return f.securities, f.initErr
}
func (f *fakeVault) Stop() { f.stopped = true }

type fakeKafkaGroup struct {
	initErr error
	stopped bool
}

func (f *fakeKafkaGroup) Initialize(ctx context.Context, topics []kafka.TopicDirective, securities map[string]kafka.SecurityDirective) error {
	return f.initErr
}
func (f *fakeKafkaGroup) Stop() { f.stopped = true }

type fakeCucumber struct {
	initErr   error
	result    testresult.TestExecutionResult
	stopped   bool
	startedCh chan struct{}
}

func (f *fakeCucumber) Initialize(directive blockstorage.Directive) error { return f.initErr }
func (f *fakeCucumber) StartTest(onFinished func(testresult.TestExecutionResult)) {
	if f.startedCh != nil {
		close(f.startedCh)
	}
	go onFinished(f.result)
}
func (f *fakeCucumber) Stop() { f.stopped = true }

type fsmFixture struct {
	blockStorage *fakeBlockStorage
	vault        *fakeVault
	consumer     *fakeKafkaGroup
	producer     *fakeKafkaGroup
	cucumber     *fakeCucumber
}

func newFixture(result testresult.TestExecutionResult) (*fsmFixture, ChildFactories) {
	fx := &fsmFixture{
		blockStorage: &fakeBlockStorage{fs: afero.NewMemMapFs(), directive: blockstorage.Directive{Bucket: "b"}},
		vault:        &fakeVault{},
		consumer:     &fakeKafkaGroup{},
		producer:     &fakeKafkaGroup{},
		cucumber:     &fakeCucumber{result: result},
	}
	factories := ChildFactories{
		BlockStorage:  func(testID string) BlockStorageChild { return fx.blockStorage },
		Vault:         func(testID string) VaultChild { return fx.vault },
		ConsumerGroup: func(testID string) KafkaGroup { return fx.consumer },
		ProducerGroup: func(testID string) KafkaGroup { return fx.producer },
		Cucumber:      func(testID string, fs afero.Fs, mount string) CucumberChild { return fx.cucumber },
	}
	return fx, factories
}

func awaitState(t *testing.T, a *Actor, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.Status().State == string(want) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, string(want), a.Status().State)
}

func TestActor_HappyPathReachesSuccess(t *testing.T) {
	fx, factories := newFixture(testresult.TestExecutionResult{TestID: "t1", Passed: true, ScenarioCount: 1, ScenariosPassed: 1})

	var gotOutcome queue.Outcome
	done := make(chan struct{})
	onTerminal := func(o queue.Outcome) {
		gotOutcome = o
		close(done)
	}

	a, err := Spawn("t1", blockstorage.Directive{Bucket: "b"}, onTerminal, factories, DefaultConfig(), log.NewNopLogger())
	require.NoError(t, err)

	awaitState(t, a, StateAwaitingReadiness, time.Second)
	require.NoError(t, a.Start())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal outcome")
	}

	require.Equal(t, queue.OutcomeSuccess, gotOutcome)
	require.Equal(t, string(StateSuccess), a.Status().State)
	require.True(t, fx.blockStorage.uploadCalled)
	require.True(t, fx.cucumber.stopped)
	require.True(t, fx.producer.stopped)
	require.True(t, fx.consumer.stopped)
	require.True(t, fx.vault.stopped)
	require.True(t, fx.blockStorage.stopped)
}

func TestActor_StartBeforeBarrierIsHonoredOnceReady(t *testing.T) {
	_, factories := newFixture(testresult.TestExecutionResult{TestID: "t2", Passed: true})

	done := make(chan struct{})
	var gotOutcome queue.Outcome
	onTerminal := func(o queue.Outcome) {
		gotOutcome = o
		close(done)
	}

	a, err := Spawn("t2", blockstorage.Directive{Bucket: "b"}, onTerminal, factories, DefaultConfig(), log.NewNopLogger())
	require.NoError(t, err)

	// Start immediately, before the setup barrier can possibly have
	// completed; maybeStart must remember the request and honor it once
	// AwaitingReadiness is reached rather than rejecting it.
	require.NoError(t, a.Start())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal outcome")
	}
	require.Equal(t, queue.OutcomeSuccess, gotOutcome)
}

func TestActor_BlockStorageFailureFailsTestWithoutCrashingQueue(t *testing.T) {
	fx, factories := newFixture(testresult.TestExecutionResult{})
	fx.blockStorage.initErr = errors.New("fetch boom")

	done := make(chan struct{})
	var gotOutcome queue.Outcome
	onTerminal := func(o queue.Outcome) {
		gotOutcome = o
		close(done)
	}

	a, err := Spawn("t3", blockstorage.Directive{Bucket: "b"}, onTerminal, factories, DefaultConfig(), log.NewNopLogger())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal outcome")
	}

	require.Equal(t, queue.OutcomeFailure, gotOutcome)
	require.Equal(t, string(StateFailure), a.Status().State)
}

func TestActor_CancelBeforeBarrierTransitionsToCancelled(t *testing.T) {
	_, factories := newFixture(testresult.TestExecutionResult{})

	done := make(chan struct{})
	var gotOutcome queue.Outcome
	onTerminal := func(o queue.Outcome) {
		gotOutcome = o
		close(done)
	}

	a, err := Spawn("t4", blockstorage.Directive{Bucket: "b"}, onTerminal, factories, DefaultConfig(), log.NewNopLogger())
	require.NoError(t, err)

	a.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal outcome")
	}
	require.Equal(t, queue.OutcomeCancelled, gotOutcome)
}

func TestActor_DoubleStartIsRejected(t *testing.T) {
	_, factories := newFixture(testresult.TestExecutionResult{Passed: true})

	done := make(chan struct{})
	onTerminal := func(o queue.Outcome) { close(done) }

	a, err := Spawn("t5", blockstorage.Directive{Bucket: "b"}, onTerminal, factories, DefaultConfig(), log.NewNopLogger())
	require.NoError(t, err)

	awaitState(t, a, StateAwaitingReadiness, time.Second)
	require.NoError(t, a.Start())
	require.Error(t, a.Start())

	<-done
}
