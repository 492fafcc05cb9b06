package sdk

import (
	"context"
	"sync"
	"time"
)

// defaultSetIDDelay is how long the loader waits before firing the default
// SetID when no queued command asked for one, so initial render is not
// blocked on the identity round-trip.
const defaultSetIDDelay = 50 * time.Millisecond

// Command is one deferred SDK invocation pushed before the core was
// available.
type Command struct {
	Method string
	Args   []any
}

// CommandQueue buffers calls made before the SDK core finishes loading.
// It is drained exactly once, in FIFO order.
type CommandQueue struct {
	mu      sync.Mutex
	cmds    []Command
	drained bool
}

// Push appends a deferred call. Pushes after the drain are dropped; by then
// callers hold the real instance.
func (q *CommandQueue) Push(method string, args ...any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return
	}
	q.cmds = append(q.cmds, Command{Method: method, Args: args})
}

// Len returns the number of buffered commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// Drain dispatches every buffered command against api in arrival order,
// exactly once. Unknown or not-yet-implemented methods are no-ops by
// contract. Returns whether any setID command was dispatched.
func (q *CommandQueue) Drain(ctx context.Context, api NewsPassID) (setIDCalled bool) {
	q.mu.Lock()
	if q.drained {
		q.mu.Unlock()
		return false
	}
	cmds := q.cmds
	q.cmds = nil
	q.drained = true
	q.mu.Unlock()

	for _, cmd := range cmds {
		switch cmd.Method {
		case "setID":
			opts := SetIDOptions{}
			if len(cmd.Args) > 0 {
				if id, ok := cmd.Args[0].(string); ok {
					opts.ID = id
				}
			}
			if len(cmd.Args) > 1 {
				if segs, ok := cmd.Args[1].([]string); ok {
					opts.PublisherSegments = segs
				}
			}
			api.SetID(ctx, opts)
			setIDCalled = true
		case "getID":
			api.GetID()
		case "getSegments":
			api.GetSegments()
		case "getSegmentsAsKeyValue":
			api.GetSegmentsAsKeyValue()
		case "clearID":
			api.ClearID()
		}
	}
	return setIDCalled
}

// Loader bootstraps the SDK: it drains the pre-load command queue against
// the real instance and triggers a delayed default SetID when nothing in
// the queue did.
type Loader struct {
	Queue *CommandQueue
	// Delay before the default SetID; defaultSetIDDelay when zero.
	Delay time.Duration
}

// Activate hands the queue to the real SDK instance. It returns a channel
// that closes once the default SetID (if any) has run, which tests and
// embedders can wait on.
func (l *Loader) Activate(ctx context.Context, api NewsPassID) <-chan struct{} {
	done := make(chan struct{})
	if l.Queue.Drain(ctx, api) {
		close(done)
		return done
	}
	delay := l.Delay
	if delay == 0 {
		delay = defaultSetIDDelay
	}
	time.AfterFunc(delay, func() {
		api.SetID(ctx, SetIDOptions{})
		close(done)
	})
	return done
}
