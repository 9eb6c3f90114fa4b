// Package queue implements the admission queue (C5): a single
// supervisor that admits tests up to a configured depth, spawns one
// TestExecutionActor per admitted test, and dispatches Start FIFO as
// concurrency slots free up.
package queue

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage"
)

// Outcome is the terminal state an admitted test's actor reaches.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// TestHandle is the subset of a TestExecutionActor the Queue needs:
// enough to forward Start/Cancel and read status without importing
// the FSM package's full surface.
type TestHandle interface {
	Start() error
	Cancel()
	Status() Status
}

// Status mirrors GetStatus(testId) → Status.
type Status struct {
	TestID string
	State  string
}

// Spawner constructs a fresh TestExecutionActor for testID/directive.
// onTerminal must be called exactly once, when the actor reaches a
// terminal state, with the outcome it reached.
type Spawner func(testID string, directive blockstorage.Directive, onTerminal func(Outcome)) (TestHandle, error)

// Config bounds the Queue's admission behavior.
type Config struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxQueueDepth int `yaml:"max_queue_depth"`
}

// QueueStatus mirrors GetQueueStatus → {depth, inProgress}.
type QueueStatus struct {
	Depth    int
	InFlight int
}

// Queue is the C5 actor. All mutable state is owned by the single
// goroutine draining mailbox; every public method is a request/reply
// round trip through that goroutine, so none of the fields below need
// their own lock.
type Queue struct {
	services.Service

	cfg     Config
	spawner Spawner
	logger  log.Logger

	mailbox chan func()

	admitted map[string]TestHandle // every non-terminal admitted test
	ready    []string              // Start()'d, waiting for a concurrency slot
	active   map[string]bool       // currently holding a concurrency slot
}

// New builds a Queue. The returned Queue is not yet running; callers
// start it through dskit services (embedded Service) before sending
// it commands.
func New(cfg Config, spawner Spawner, logger log.Logger) *Queue {
	q := &Queue{
		cfg:      cfg,
		spawner:  spawner,
		logger:   logger,
		mailbox:  make(chan func(), 64),
		admitted: make(map[string]TestHandle),
		active:   make(map[string]bool),
	}
	q.Service = services.NewBasicService(q.starting, q.running, q.stopping)
	return q
}

func (q *Queue) starting(_ context.Context) error { return nil }

func (q *Queue) running(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-q.mailbox:
			fn()
		}
	}
}

func (q *Queue) stopping(_ error) error { return nil }

// Initialize admits testID with directive, or rejects it if the queue
// is at maxQueueDepth or testID is already known. Side effect on
// success: the TestExecutionActor is spawned immediately in its first
// setup state, reserving testID's slot.
func (q *Queue) Initialize(testID string, directive blockstorage.Directive) error {
	reply := make(chan error, 1)
	q.mailbox <- func() {
		if _, ok := q.admitted[testID]; ok {
			reply <- &apperrors.ValidationError{Msg: fmt.Sprintf("test %s already admitted", testID)}
			return
		}
		if len(q.admitted) >= q.cfg.MaxQueueDepth {
			reply <- &apperrors.ValidationError{Msg: "queue is full"}
			return
		}

		handle, err := q.spawner(testID, directive, func(outcome Outcome) {
			q.mailbox <- func() { q.onChildTerminal(testID, outcome) }
		})
		if err != nil {
			reply <- err
			return
		}

		q.admitted[testID] = handle
		level.Info(q.logger).Log("msg", "test admitted", "testId", testID)
		reply <- nil
	}
	return <-reply
}

// Start marks testID ready to run. If a concurrency slot is free it
// dispatches immediately; otherwise testID joins the FIFO ready queue
// and is dispatched once a running test reaches a terminal state.
func (q *Queue) Start(testID string) error {
	reply := make(chan error, 1)
	q.mailbox <- func() {
		if _, ok := q.admitted[testID]; !ok {
			reply <- &apperrors.ValidationError{Msg: fmt.Sprintf("test %s not known", testID)}
			return
		}
		if q.active[testID] {
			reply <- &apperrors.ValidationError{Msg: fmt.Sprintf("test %s already started", testID)}
			return
		}
		q.ready = append(q.ready, testID)
		reply <- nil
		q.dispatch()
	}
	return <-reply
}

// dispatch is only ever invoked from the mailbox goroutine. It starts
// ready tests FIFO until maxConcurrent active slots are filled.
func (q *Queue) dispatch() {
	for len(q.active) < q.cfg.MaxConcurrent && len(q.ready) > 0 {
		testID := q.ready[0]
		q.ready = q.ready[1:]

		handle, ok := q.admitted[testID]
		if !ok {
			continue // cancelled/terminated while waiting in the ready queue
		}
		q.active[testID] = true
		if err := handle.Start(); err != nil {
			level.Error(q.logger).Log("msg", "dispatch failed to start test", "testId", testID, "err", err)
			delete(q.active, testID)
		}
	}
}

// Cancel signals testID's FSM to tear down.
func (q *Queue) Cancel(testID string) {
	done := make(chan struct{}, 1)
	q.mailbox <- func() {
		if handle, ok := q.admitted[testID]; ok {
			handle.Cancel()
		}
		done <- struct{}{}
	}
	<-done
}

// GetStatus returns testID's current FSM status and whether it is known.
func (q *Queue) GetStatus(testID string) (Status, bool) {
	reply := make(chan Status, 1)
	q.mailbox <- func() {
		handle, ok := q.admitted[testID]
		if !ok {
			reply <- Status{}
			return
		}
		reply <- handle.Status()
	}
	s := <-reply
	return s, s.TestID != ""
}

// GetQueueStatus returns the current depth/inFlight counts.
func (q *Queue) GetQueueStatus() QueueStatus {
	reply := make(chan QueueStatus, 1)
	q.mailbox <- func() {
		reply <- QueueStatus{Depth: len(q.admitted), InFlight: len(q.active)}
	}
	return <-reply
}

func (q *Queue) onChildTerminal(testID string, outcome Outcome) {
	delete(q.admitted, testID)
	delete(q.active, testID)
	level.Info(q.logger).Log("msg", "test reached terminal state", "testId", testID, "outcome", outcome)
	q.dispatch()
}
