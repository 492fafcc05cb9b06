package sdk

import "sync"

// Lifecycle events dispatched by the SDK, named after the DOM custom events
// the host page listens for.
const (
	EventChange        = "newspassid:change"
	EventSegmentsReady = "newspass_segments_ready"
)

// ChangeDetail is the EventChange payload.
type ChangeDetail struct {
	ID string
}

// SegmentsReadyDetail is the EventSegmentsReady payload.
type SegmentsReadyDetail struct {
	Segments        []string
	SegmentKeyValue map[string]string
}

// Emitter dispatches lifecycle events to registered listeners. Listener
// panics are not recovered; listeners are host-page adapters expected to
// guard themselves the way DOM event handlers do.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]func(detail any)
}

// On registers a listener for an event name.
func (e *Emitter) On(event string, fn func(detail any)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[string][]func(any))
	}
	e.handlers[event] = append(e.handlers[event], fn)
}

func (e *Emitter) emit(event string, detail any) {
	e.mu.RLock()
	listeners := e.handlers[event]
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(detail)
	}
}
