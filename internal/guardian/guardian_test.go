package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage"
	"github.com/testprobe/testprobe/internal/queue"
)

func newTestFactory() QueueFactory {
	return func() *queue.Queue {
		spawner := func(testID string, _ blockstorage.Directive, _ func(queue.Outcome)) (queue.TestHandle, error) {
			return nil, nil
		}
		return queue.New(queue.Config{MaxConcurrent: 1, MaxQueueDepth: 1}, spawner, log.NewNopLogger())
	}
}

func TestGuardian_InitializeIsIdempotent(t *testing.T) {
	g := New(DefaultRestartPolicy(), newTestFactory(), nil, log.NewNopLogger())

	require.NoError(t, g.Initialize(context.Background()))
	first := g.GetQueueHandle()
	require.NotNil(t, first)

	require.NoError(t, g.Initialize(context.Background()))
	second := g.GetQueueHandle()
	require.Same(t, first, second)
}

func TestGuardian_GetQueueHandleBeforeInitializeIsNil(t *testing.T) {
	g := New(DefaultRestartPolicy(), newTestFactory(), nil, log.NewNopLogger())
	require.Nil(t, g.GetQueueHandle())
}

func TestGuardian_ClassifyFailure(t *testing.T) {
	require.Equal(t, classFatal, classifyFailure(nil))
	require.Equal(t, classResume, classifyFailure(&apperrors.ValidationError{Msg: "bad"}))
	require.Equal(t, classRestart, classifyFailure(&apperrors.TransientIoError{Op: "fetch"}))
}

func TestGuardian_RestartBudgetExhaustionDegrades(t *testing.T) {
	g := New(RestartPolicy{MaxRestarts: 1, Window: time.Minute}, newTestFactory(), nil, log.NewNopLogger())
	require.NoError(t, g.Initialize(context.Background()))

	g.attemptRestartForTest(&apperrors.TransientIoError{Op: "fetch"})
	require.False(t, g.Degraded())

	g.attemptRestartForTest(&apperrors.TransientIoError{Op: "fetch"})
	require.True(t, g.Degraded())
}

func (g *Guardian) attemptRestartForTest(cause error) {
	done := make(chan struct{})
	g.mailbox <- func() {
		g.attemptRestart(cause)
		close(done)
	}
	<-done
}
