package janode

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/meetecho/janode-go/internal/log"
	"github.com/meetecho/janode-go/transport"
)

const (
	testSessionID int64 = 42
	testHandleID  int64 = 7
)

// Eventually bounds used across the suites.
const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// stubTransport fakes the wire: Send records the outbound frame and, when
// a reply function is installed, dispatches the scripted replies back
// through the connection's receive path before returning. That mirrors
// the real transport, where replies arrive on the read goroutine while
// the requester blocks on its transaction.
type stubTransport struct {
	mu      sync.Mutex
	ep      transport.Endpoint
	sent    []map[string]any
	reply   func(req map[string]any) []map[string]any
	sendErr error

	onMessage func(raw json.RawMessage)
	onClosed  func(err error)
}

func (t *stubTransport) Open(context.Context) error { return nil }

func (t *stubTransport) Close() error {
	if t.onClosed != nil {
		t.onClosed(nil)
	}
	return nil
}

func (t *stubTransport) Send(_ context.Context, frame any) error {
	req := frame.(map[string]any)
	t.mu.Lock()
	t.sent = append(t.sent, req)
	reply := t.reply
	err := t.sendErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if reply != nil {
		for _, resp := range reply(req) {
			t.deliver(resp)
		}
	}
	return nil
}

func (t *stubTransport) Endpoint() transport.Endpoint { return t.ep }

// deliver pushes a frame through the connection as if it came off the
// wire.
func (t *stubTransport) deliver(frame map[string]any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}
	t.onMessage(json.RawMessage(raw))
}

func (t *stubTransport) sentFrames() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *stubTransport) lastSent() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

func (t *stubTransport) setReply(fn func(req map[string]any) []map[string]any) {
	t.mu.Lock()
	t.reply = fn
	t.mu.Unlock()
}

// serverReply scripts the happy-path answers of a Janus server.
func serverReply(req map[string]any) []map[string]any {
	tx, _ := req["transaction"].(string)
	switch req["janus"] {
	case janusCreate:
		return []map[string]any{{
			"janus": "success", "transaction": tx,
			"data": map[string]any{"id": testSessionID},
		}}
	case janusInfo:
		return []map[string]any{{
			"janus": "server_info", "transaction": tx, "name": "Janus",
		}}
	case janusAttach:
		return []map[string]any{{
			"janus": "success", "transaction": tx, "session_id": req["session_id"],
			"data": map[string]any{"id": testHandleID},
		}}
	case janusKeepalive:
		return []map[string]any{{
			"janus": "ack", "transaction": tx, "session_id": req["session_id"],
		}}
	case janusDestroy:
		return []map[string]any{{
			"janus": "success", "transaction": tx, "session_id": req["session_id"],
		}}
	case janusTrickle:
		return []map[string]any{{
			"janus": "ack", "transaction": tx, "session_id": req["session_id"],
		}}
	case janusHangup, janusDetach:
		return []map[string]any{{
			"janus": "success", "transaction": tx, "session_id": req["session_id"],
			"sender": testHandleID,
		}}
	default:
		return nil
	}
}

// newStubConnection wires a connection to a stub transport, bypassing any
// real dialling. Keep-alive is disabled unless the test enables it.
func newStubConnection(t *testing.T, stub *stubTransport) *Connection {
	t.Helper()

	cfg := Config{
		Endpoints:     []Endpoint{{URL: "ws://janus.test:8188"}},
		KeepAliveSecs: -1,
	}
	cfg.Endpoints[0].APISecret = stub.ep.APISecret
	cfg.Endpoints[0].Token = stub.ep.Token

	orig := newTransport
	newTransport = func(opts transport.Options) (transport.Transport, error) {
		stub.onMessage = opts.OnMessage
		stub.onClosed = opts.OnClosed
		return stub, nil
	}
	defer func() { newTransport = orig }()

	conn := newConnection(cfg, log.NewTest(t), clockwork.NewRealClock())
	require.NoError(t, conn.open(context.Background()))
	return conn
}

// fakeAdapter decodes the scripted plugin payloads the core tests send
// around: {"event": ..., "value": ...} or {"error_code": ..., "error": ...}.
type fakeAdapter struct{}

type fakePayload struct {
	Event     string `json:"event,omitempty"`
	Value     string `json:"value,omitempty"`
	ErrorCode int64  `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (fakeAdapter) Decode(msg *Message) (*PluginEvent, bool) {
	var p fakePayload
	if err := msg.DecodePluginData(&p); err != nil {
		return nil, false
	}
	if p.ErrorCode != 0 {
		return &PluginEvent{
			Name: "fake_error",
			Err:  &APIError{Code: p.ErrorCode, Reason: p.Error},
		}, true
	}
	if p.Event == "" {
		return nil, false
	}
	return &PluginEvent{Name: "fake_" + p.Event, Data: p.Value, JSEP: msg.JSEP}, true
}

func fakeDescriptor() *PluginDescriptor {
	return &PluginDescriptor{
		ID:  "janus.plugin.fake",
		New: func() PluginAdapter { return fakeAdapter{} },
	}
}

func pluginFrame(sessionID, sender int64, tx string, data map[string]any) map[string]any {
	frame := map[string]any{
		"janus":      "event",
		"session_id": sessionID,
		"sender":     sender,
		"plugindata": map[string]any{
			"plugin": "janus.plugin.fake",
			"data":   data,
		},
	}
	if tx != "" {
		frame["transaction"] = tx
	}
	return frame
}
