// Package guardian implements the root supervisor (C4): it owns the
// Queue's lifecycle and decides, by exception class, whether to
// restart, resume, or stop the whole service when the Queue fails.
package guardian

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/queue"
)

// RestartPolicy bounds how many times Guardian restarts a failed
// Queue within a sliding window before giving up and entering a
// degraded, non-accepting state.
type RestartPolicy struct {
	MaxRestarts int
	Window      time.Duration
}

// DefaultRestartPolicy matches the spec's default of 3 restarts per
// minute.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxRestarts: 3, Window: time.Minute}
}

// QueueFactory builds a fresh Queue instance, used both for the first
// spawn and for every restart.
type QueueFactory func() *queue.Queue

// Guardian is the C4 actor. Like Queue, all mutable state is owned by
// the single goroutine draining mailbox.
type Guardian struct {
	logger  log.Logger
	policy  RestartPolicy
	factory QueueFactory
	onFatal func(error)

	mailbox chan func()

	initialized bool
	degraded    bool
	handle      *queue.Queue
	restarts    []time.Time
}

// New constructs a Guardian and starts its mailbox loop. onFatal is
// invoked when Queue fails unrecoverably or exhausts its restart
// budget; the caller is expected to tear down the whole process.
func New(policy RestartPolicy, factory QueueFactory, onFatal func(error), logger log.Logger) *Guardian {
	g := &Guardian{
		logger:  logger,
		policy:  policy,
		factory: factory,
		onFatal: onFatal,
		mailbox: make(chan func(), 8),
	}
	go g.run()
	return g
}

func (g *Guardian) run() {
	for fn := range g.mailbox {
		fn()
	}
}

// Initialize spawns the Queue exactly once. A second call is ignored
// with a warning and reports no error, whatever the first call's
// outcome was.
func (g *Guardian) Initialize(ctx context.Context) error {
	reply := make(chan error, 1)
	g.mailbox <- func() {
		if g.initialized {
			level.Warn(g.logger).Log("msg", "guardian initialize called more than once, ignoring")
			reply <- nil
			return
		}
		g.initialized = true

		h, err := g.spawnQueue(ctx)
		if err != nil {
			reply <- &apperrors.AssemblyError{Kind: "actor-runtime", Err: err}
			return
		}
		g.handle = h
		reply <- nil
	}
	return <-reply
}

func (g *Guardian) spawnQueue(ctx context.Context) (*queue.Queue, error) {
	q := g.factory()
	if err := services.StartAndAwaitRunning(ctx, q); err != nil {
		return nil, err
	}

	q.AddListener(services.NewListener(
		nil, nil, nil, nil,
		func(_ services.State, failure error) { g.onQueueFailed(failure) },
	))

	return q, nil
}

func (g *Guardian) onQueueFailed(err error) {
	g.mailbox <- func() {
		switch classifyFailure(err) {
		case classResume:
			level.Warn(g.logger).Log("msg", "queue failed with recoverable usage error, resuming", "err", err)
		case classRestart:
			g.attemptRestart(err)
		default:
			level.Error(g.logger).Log("msg", "queue failed fatally, stopping service", "err", err)
			if g.onFatal != nil {
				g.onFatal(err)
			}
		}
	}
}

func (g *Guardian) attemptRestart(cause error) {
	now := time.Now()
	cutoff := now.Add(-g.policy.Window)
	kept := g.restarts[:0]
	for _, t := range g.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.restarts = kept

	if len(g.restarts) >= g.policy.MaxRestarts {
		g.degraded = true
		g.handle = nil
		level.Error(g.logger).Log("msg", "queue exceeded restart budget, entering degraded state",
			"max_restarts", g.policy.MaxRestarts, "window", g.policy.Window, "cause", cause)
		return
	}
	g.restarts = append(g.restarts, now)

	h, err := g.spawnQueue(context.Background())
	if err != nil {
		level.Error(g.logger).Log("msg", "queue restart failed", "err", err)
		if g.onFatal != nil {
			g.onFatal(err)
		}
		return
	}
	g.handle = h
	level.Info(g.logger).Log("msg", "queue restarted", "restart_count", len(g.restarts))
}

// GetQueueHandle returns the live Queue, or nil if Guardian has not
// been initialized or is degraded with no live Queue.
func (g *Guardian) GetQueueHandle() *queue.Queue {
	reply := make(chan *queue.Queue, 1)
	g.mailbox <- func() { reply <- g.handle }
	return <-reply
}

// Degraded reports whether Guardian has stopped accepting restarts
// after exhausting its restart budget.
func (g *Guardian) Degraded() bool {
	reply := make(chan bool, 1)
	g.mailbox <- func() { reply <- g.degraded }
	return <-reply
}

type failureClass int

const (
	classResume failureClass = iota
	classRestart
	classFatal
)

func classifyFailure(err error) failureClass {
	if err == nil {
		return classFatal
	}
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		return classResume
	}
	var te *apperrors.TransientIoError
	if errors.As(err, &te) {
		return classRestart
	}
	return classFatal
}
