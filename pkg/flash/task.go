package flash

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Task is the handle of an operation started with Sequencer.Start.
type Task struct {
	op   Operation
	done chan struct{}

	mu    sync.Mutex
	state State
	res   Result
	err   error
}

func newTask(op Operation) *Task {
	return &Task{
		op:    op,
		done:  make(chan struct{}),
		state: StateValidating,
	}
}

func (t *Task) Op() Operation {
	return t.op
}

// Done is closed once the operation reached a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the outcome. It must only be called after Done is closed.
func (t *Task) Result() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res, t.err
}

// Wait blocks until the operation finished or ctx is done. Giving up on the
// wait does not stop the operation.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return Result{Op: t.op}, ctx.Err()
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) finish(res Result, err error) {
	t.mu.Lock()
	t.res = res
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// Event is emitted on every state transition and outcome.
type Event struct {
	Time    time.Time
	Op      Operation
	State   State
	Message string
	// Err is the failure for StateFailed, or the warning attached to a
	// successful StateDone.
	Err error
}

// Sink receives events. Emit is called from the goroutine running the
// operation and must not block for long.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) {
	f(ev)
}

// GlogSink logs events through glog.
type GlogSink struct{}

func (GlogSink) Emit(ev Event) {
	switch {
	case ev.State == StateFailed:
		glog.Errorf("%s: %s: %v", ev.Op, ev.Message, ev.Err)
	case ev.Err != nil:
		glog.Warningf("%s: %s: %v", ev.Op, ev.Message, ev.Err)
	default:
		glog.Infof("%s [%s]: %s", ev.Op, ev.State, ev.Message)
	}
}
