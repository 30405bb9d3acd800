package janode

import "sync"

// Event names emitted by Connection, Session and Handle.
const (
	EventConnectionClosed = "connection_closed"
	EventConnectionError  = "connection_error"

	EventSessionDestroyed = "session_destroyed"

	EventHandleDetached = "handle_detached"
	EventHandleHangup   = "handle_hangup"
	EventHandleMedia    = "handle_media"
	EventHandleWebRTCUp = "handle_webrtcup"
	EventHandleSlowlink = "handle_slowlink"
	EventHandleTrickle  = "handle_trickle"
)

// HangupData is the payload of EventHandleHangup.
type HangupData struct {
	Reason string
}

// MediaData is the payload of EventHandleMedia.
type MediaData struct {
	Type      string
	Receiving bool
}

// SlowlinkData is the payload of EventHandleSlowlink.
type SlowlinkData struct {
	Uplink bool
	Nacks  int64
}

// TrickleData is the payload of EventHandleTrickle. Completed marks the
// end-of-candidates notification, in which case Candidate is nil.
type TrickleData struct {
	Candidate *Candidate
	Completed bool
}

// Event is what listeners receive.
type Event struct {
	Name string
	Data any
}

// Listener observes events. Listeners run synchronously on the dispatch
// goroutine and must not block.
type Listener func(Event)

type subscription struct {
	id   uint64
	fn   Listener
	once bool
}

// Emitter delivers named events to registered listeners in registration
// order. It is embedded by Connection, Session and Handle.
type Emitter struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string][]*subscription
}

func newEmitter() *Emitter {
	return &Emitter{subs: map[string][]*subscription{}}
}

// On registers fn for name and returns a function that removes it.
func (e *Emitter) On(name string, fn Listener) func() {
	return e.add(name, fn, false)
}

// Once registers fn for a single delivery of name. The returned function
// removes it early.
func (e *Emitter) Once(name string, fn Listener) func() {
	return e.add(name, fn, true)
}

func (e *Emitter) add(name string, fn Listener, once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	sub := &subscription{id: e.seq, fn: fn, once: once}
	e.subs[name] = append(e.subs[name], sub)
	id := sub.id
	return func() { e.remove(name, id) }
}

func (e *Emitter) remove(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.subs[name]
	for i, sub := range list {
		if sub.id == id {
			e.subs[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Off removes every listener for name.
func (e *Emitter) Off(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, name)
}

func (e *Emitter) emit(name string, data any) {
	e.mu.Lock()
	list := e.subs[name]
	fns := make([]Listener, 0, len(list))
	kept := list[:0:0]
	for _, sub := range list {
		fns = append(fns, sub.fn)
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(e.subs, name)
	} else {
		e.subs[name] = kept
	}
	e.mu.Unlock()

	ev := Event{Name: name, Data: data}
	for _, fn := range fns {
		fn(ev)
	}
}
