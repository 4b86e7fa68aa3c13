package payg

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher is a bounded worker pool for fire-and-forget background
// work: coordinator settlement mutations and conflict reports, neither
// of which may block the request path they were triggered from.
// Generalizes the teacher's goroutine-per-background-task style
// (pkg/sdk/heartbeat.go) into a bounded queue so a burst of conflicting
// channels cannot spawn an unbounded number of goroutines.
type Dispatcher struct {
	tasks chan func(context.Context)
	done  chan struct{}
}

// NewDispatcher starts workers goroutines draining a queue of depth
// queueSize. Submit never blocks the caller: a full queue drops the
// task and logs a warning, since every dispatched task is a
// best-effort side effect (the gateway's own ledger is authoritative
// until the coordinator catches up).
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		tasks: make(chan func(context.Context), queueSize),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	for {
		select {
		case task, ok := <-d.tasks:
			if !ok {
				return
			}
			task(context.Background())
		case <-d.done:
			return
		}
	}
}

// Submit enqueues task for background execution. task receives a fresh
// background context, detached from the request that triggered it, so
// a client disconnect never cancels in-flight settlement accounting.
func (d *Dispatcher) Submit(task func(context.Context)) {
	select {
	case d.tasks <- task:
	default:
		zap.L().Warn("payg: dispatcher queue full, dropping background task")
	}
}

// Stop signals all workers to exit once their current task completes.
// Queued-but-not-yet-started tasks are abandoned.
func (d *Dispatcher) Stop() {
	close(d.done)
}
