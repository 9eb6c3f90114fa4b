package queue

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/require"

	"github.com/testprobe/testprobe/internal/blockstorage"
)

type fakeHandle struct {
	id        string
	startErr  error
	cancelled bool
	status    Status
}

func (f *fakeHandle) Start() error  { return f.startErr }
func (f *fakeHandle) Cancel()       { f.cancelled = true }
func (f *fakeHandle) Status() Status { return f.status }

func newTestQueue(t *testing.T, cfg Config, handles map[string]*fakeHandle) *Queue {
	t.Helper()
	spawner := func(testID string, _ blockstorage.Directive, onTerminal func(Outcome)) (TestHandle, error) {
		h := handles[testID]
		h.status = Status{TestID: testID, State: "Created"}
		_ = onTerminal
		return h, nil
	}
	q := New(cfg, spawner, log.NewNopLogger())
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), q))
	t.Cleanup(func() { _ = services.StopAndAwaitTerminated(context.Background(), q) })
	return q
}

func TestQueue_InitializeRejectsDuplicateAndFull(t *testing.T) {
	handles := map[string]*fakeHandle{"a": {id: "a"}, "b": {id: "b"}}
	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueDepth: 1}, handles)

	require.NoError(t, q.Initialize("a", blockstorage.Directive{}))
	require.Error(t, q.Initialize("a", blockstorage.Directive{})) // duplicate
	require.Error(t, q.Initialize("b", blockstorage.Directive{})) // full
}

func TestQueue_StartRespectsConcurrencyAndDispatchesFIFO(t *testing.T) {
	handles := map[string]*fakeHandle{"a": {id: "a"}, "b": {id: "b"}}
	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueDepth: 2}, handles)

	require.NoError(t, q.Initialize("a", blockstorage.Directive{}))
	require.NoError(t, q.Initialize("b", blockstorage.Directive{}))

	require.NoError(t, q.Start("a"))
	require.NoError(t, q.Start("b"))

	status := q.GetQueueStatus()
	require.Equal(t, 1, status.InFlight)
	require.Equal(t, 2, status.Depth)

	q.onTerminalForTest("a", OutcomeSuccess)

	status = q.GetQueueStatus()
	require.Equal(t, 1, status.InFlight)
	require.Equal(t, 1, status.Depth)
}

func TestQueue_CancelForwardsToHandle(t *testing.T) {
	handles := map[string]*fakeHandle{"a": {id: "a"}}
	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueDepth: 1}, handles)

	require.NoError(t, q.Initialize("a", blockstorage.Directive{}))
	q.Cancel("a")
	require.True(t, handles["a"].cancelled)
}

// onTerminalForTest exercises the same code path the Spawner's
// onTerminal callback takes, without needing a real goroutine handoff
// timing dependency in the test.
func (q *Queue) onTerminalForTest(testID string, outcome Outcome) {
	done := make(chan struct{})
	q.mailbox <- func() {
		q.onChildTerminal(testID, outcome)
		close(done)
	}
	<-done
}
