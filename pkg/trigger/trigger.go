package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"order-mailer/pkg/reconcile"
)

type Source string

const (
	SourceStartup    Source = "startup"
	SourceFilesystem Source = "filesystem"
	SourceTimer      Source = "timer"
	SourceBroker     Source = "broker"
	SourceAdmin      Source = "admin"
)

// Event is one request to run a reconciliation cycle.
type Event struct {
	Source Source
	Path   string // set for filesystem events
	At     time.Time
}

// Queue buffers trigger events for the single consumer loop.
type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Event, size)}
}

// Submit enqueues ev without blocking. It returns false when the queue is
// full; a full queue already guarantees a cycle that will see the change.
func (q *Queue) Submit(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Runner runs one cycle. *reconcile.Engine satisfies it.
type Runner interface {
	RunCycle(ctx context.Context) (reconcile.CycleResult, error)
}

// Loop is the only caller of Runner.RunCycle, so cycles never overlap.
type Loop struct {
	queue  *Queue
	runner Runner
	settle time.Duration
	logger *slog.Logger
}

func NewLoop(q *Queue, runner Runner, settle time.Duration, logger *slog.Logger) *Loop {
	return &Loop{queue: q, runner: runner, settle: settle, logger: logger}
}

// Run consumes events until ctx is cancelled. Everything queued behind the
// first event is folded into the same cycle. If any of those events came
// from the filesystem the cycle waits the settle delay first so the file
// can finish writing, whatever source woke the loop. A cycle already
// started is allowed to finish after cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.queue.ch:
			coalesced, files := l.drain()
			if (ev.Source == SourceFilesystem || files) && l.settle > 0 {
				l.logger.Debug("waiting for document to settle", "trigger", ev.Source, "path", ev.Path, "delay", l.settle.String())
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(l.settle):
				}
				more, _ := l.drain()
				coalesced += more
			}
			l.run(ctx, ev, coalesced)
		}
	}
}

// drain empties the queue, reporting how many events it took and whether
// any came from the filesystem.
func (l *Loop) drain() (n int, files bool) {
	for {
		select {
		case ev := <-l.queue.ch:
			n++
			files = files || ev.Source == SourceFilesystem
		default:
			return n, files
		}
	}
}

func (l *Loop) run(ctx context.Context, ev Event, coalesced int) {
	log := l.logger.With("trigger", ev.Source)
	if coalesced > 0 {
		log = log.With("coalesced", coalesced)
	}

	res, err := l.runner.RunCycle(context.WithoutCancel(ctx))
	var connErr *reconcile.ConnectError
	switch {
	case err == nil:
		log.Info("cycle done", "cycle_id", res.ID, "selected", res.Selected, "sent", res.Sent)
	case errors.Is(err, reconcile.ErrCycleInProgress):
		log.Info("cycle skipped, another is running")
	case errors.As(err, &connErr):
		log.Warn("cycle aborted, will retry on next trigger", "cycle_id", res.ID, "error", err)
	default:
		log.Error("cycle failed", "error", err)
	}
}
