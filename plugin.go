package janode

// PluginEvent is the normalised form of a plugin payload, produced by a
// PluginAdapter. Err is set when the payload carried a plugin-level
// error; such events fail their originating request instead of resolving
// it.
type PluginEvent struct {
	Name string
	Data any
	JSEP *JSEP
	Err  *APIError
}

// PluginAdapter turns raw plugin envelopes into typed events. Decode
// reports false when the message is not one the adapter understands, in
// which case the core falls back to generic delivery.
//
// One adapter instance is created per attached handle, so adapters may
// keep per-handle state without locking beyond what the dispatch
// goroutine requires.
type PluginAdapter interface {
	Decode(msg *Message) (*PluginEvent, bool)
}

// PluginDescriptor identifies a Janus plugin and optionally builds an
// adapter for handles attached to it. A nil New leaves the handle with
// generic event delivery only.
type PluginDescriptor struct {
	ID  string
	New func() PluginAdapter
}

// RequestObserver is an optional adapter extension. ObserveRequest runs
// after a request is fully decorated and before it is sent, letting an
// adapter record in-flight state keyed by transaction, or inject
// plugin-specific fields.
type RequestObserver interface {
	ObserveRequest(req map[string]any)
}

// Correlator is an optional adapter extension for plugins that answer a
// request with an asynchronous event not carrying the transaction (the
// SIP plugin's register flow does this). Correlate names the transaction
// an event settles, if any.
type Correlator interface {
	Correlate(msg *Message) (string, bool)
}

func rawPluginEvent(msg *Message) *PluginEvent {
	ev := &PluginEvent{Data: msg}
	if msg != nil {
		ev.JSEP = msg.JSEP
	}
	return ev
}
