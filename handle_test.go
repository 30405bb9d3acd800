package janode

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/meetecho/janode-go/internal/errors"
)

type HandleSuite struct {
	suite.Suite
	stub   *stubTransport
	conn   *Connection
	sess   *Session
	handle *Handle
}

func TestHandleSuite(t *testing.T) {
	suite.Run(t, new(HandleSuite))
}

func (s *HandleSuite) SetupTest() {
	s.stub = &stubTransport{reply: serverReply}
	s.conn = newStubConnection(s.T(), s.stub)

	sess, err := s.conn.CreateSession(context.Background())
	s.Require().NoError(err)
	s.sess = sess

	h, err := sess.Attach(context.Background(), fakeDescriptor())
	s.Require().NoError(err)
	s.handle = h
}

// replyEvent answers a message request with a plugin event carrying the
// request's transaction, the way Janus answers asynchronous plugin calls.
func (s *HandleSuite) replyEvent(data map[string]any) {
	s.stub.setReply(func(req map[string]any) []map[string]any {
		tx, _ := req["transaction"].(string)
		return []map[string]any{pluginFrame(testSessionID, testHandleID, tx, data)}
	})
}

func (s *HandleSuite) TestMessageResolvesWithDecodedEvent() {
	s.replyEvent(map[string]any{"event": "result", "value": "ok"})

	emitted := 0
	s.handle.On("fake_result", func(Event) { emitted++ })

	ev, err := s.handle.Message(context.Background(), map[string]any{"audio": true}, nil)
	s.Require().NoError(err)
	s.Equal("fake_result", ev.Name)
	s.Equal("ok", ev.Data)

	// solicited reply settles the transaction, no event emission
	s.Equal(0, emitted)
}

func (s *HandleSuite) TestMessageCarriesBodyAndIdentifiers() {
	s.replyEvent(map[string]any{"event": "result"})

	_, err := s.handle.Message(context.Background(), map[string]any{"audio": true}, nil)
	s.Require().NoError(err)

	sent := s.stub.lastSent()
	s.Equal("message", sent["janus"])
	s.EqualValues(testSessionID, sent["session_id"])
	s.EqualValues(testHandleID, sent["handle_id"])
	s.NotNil(sent["body"])
	s.Nil(sent["jsep"])
}

func (s *HandleSuite) TestMessageValidatesArguments() {
	_, err := s.handle.Message(context.Background(), nil, nil)
	s.True(errors.Is(err, ErrInvalidArgument))

	_, err = s.handle.Message(context.Background(), map[string]any{}, &JSEP{Type: "offer"})
	s.True(errors.Is(err, ErrInvalidArgument))
}

func (s *HandleSuite) TestPluginErrorRejectsWithoutEmission() {
	s.replyEvent(map[string]any{"error_code": 426, "error": "no such room"})

	emitted := 0
	s.handle.On("fake_error", func(Event) { emitted++ })

	_, err := s.handle.Message(context.Background(), map[string]any{"request": "join"}, nil)
	s.Require().Error(err)
	s.True(errors.Is(err, ErrJanusError))

	apiErr, ok := errors.As[*APIError](err)
	s.Require().True(ok)
	s.EqualValues(426, (*apiErr).Code)
	s.Equal(0, emitted)
}

func (s *HandleSuite) TestUnsolicitedEventIsEmitted() {
	got := make(chan *PluginEvent, 1)
	s.handle.On("fake_talking", func(ev Event) { got <- ev.Data.(*PluginEvent) })

	s.stub.deliver(pluginFrame(testSessionID, testHandleID, "", map[string]any{
		"event": "talking", "value": "loud",
	}))

	s.Require().Len(got, 1)
	ev := <-got
	s.Equal("loud", ev.Data)
}

func (s *HandleSuite) TestUndecodableUnsolicitedEventIsDropped() {
	emitted := 0
	s.handle.On("fake_result", func(Event) { emitted++ })

	s.stub.deliver(pluginFrame(testSessionID, testHandleID, "", map[string]any{
		"mystery": true,
	}))
	s.Equal(0, emitted)
}

func (s *HandleSuite) TestTrickleCompletesOnAck() {
	err := s.handle.Trickle(context.Background(), Candidate{Candidate: "candidate:1"})
	s.Require().NoError(err)

	sent := s.stub.lastSent()
	s.Equal("trickle", sent["janus"])
	s.NotNil(sent["candidate"])
}

func (s *HandleSuite) TestTrickleBatchUsesCandidatesField() {
	err := s.handle.Trickle(context.Background(),
		Candidate{Candidate: "candidate:1"},
		Candidate{Candidate: "candidate:2"},
	)
	s.Require().NoError(err)

	sent := s.stub.lastSent()
	s.Nil(sent["candidate"])
	s.NotNil(sent["candidates"])
}

func (s *HandleSuite) TestTrickleComplete() {
	s.Require().NoError(s.handle.TrickleComplete(context.Background()))

	sent := s.stub.lastSent()
	cand := sent["candidate"].(Candidate)
	s.True(cand.Completed)
}

func (s *HandleSuite) TestHangup() {
	s.Require().NoError(s.handle.Hangup(context.Background()))
	s.Equal("hangup", s.stub.lastSent()["janus"])
	s.False(s.handle.Detached())
}

func (s *HandleSuite) TestDetach() {
	detached := false
	s.handle.On(EventHandleDetached, func(Event) { detached = true })

	s.Require().NoError(s.handle.Detach(context.Background()))
	s.True(s.handle.Detached())
	s.True(detached)

	err := s.handle.Detach(context.Background())
	s.True(errors.Is(err, ErrAlreadyDetached))

	_, err = s.handle.Message(context.Background(), map[string]any{}, nil)
	s.True(errors.Is(err, ErrHandleDetached))
}

func (s *HandleSuite) TestServerDetachedNotification() {
	detached := false
	s.handle.On(EventHandleDetached, func(Event) { detached = true })

	s.stub.deliver(map[string]any{
		"janus":      "detached",
		"session_id": testSessionID,
		"sender":     testHandleID,
	})

	s.True(detached)
	s.True(s.handle.Detached())
	_, ok := s.sess.handles.Load(testHandleID)
	s.False(ok)
}

func (s *HandleSuite) TestMediaNotification() {
	got := make(chan MediaData, 1)
	s.handle.On(EventHandleMedia, func(ev Event) { got <- ev.Data.(MediaData) })

	s.stub.deliver(map[string]any{
		"janus":      "media",
		"session_id": testSessionID,
		"sender":     testHandleID,
		"type":       "audio",
		"receiving":  true,
	})

	s.Require().Len(got, 1)
	data := <-got
	s.Equal("audio", data.Type)
	s.True(data.Receiving)
}

func (s *HandleSuite) TestSlowlinkAndWebRTCUpNotifications() {
	var events []string
	s.handle.On(EventHandleWebRTCUp, func(ev Event) { events = append(events, ev.Name) })
	s.handle.On(EventHandleSlowlink, func(ev Event) { events = append(events, ev.Name) })

	s.stub.deliver(map[string]any{
		"janus": "webrtcup", "session_id": testSessionID, "sender": testHandleID,
	})
	s.stub.deliver(map[string]any{
		"janus": "slowlink", "session_id": testSessionID, "sender": testHandleID,
		"uplink": true, "nacks": 13,
	})

	s.Equal([]string{EventHandleWebRTCUp, EventHandleSlowlink}, events)
}

func (s *HandleSuite) TestHangupNotification() {
	got := make(chan HangupData, 1)
	s.handle.On(EventHandleHangup, func(ev Event) { got <- ev.Data.(HangupData) })

	s.stub.deliver(map[string]any{
		"janus": "hangup", "session_id": testSessionID, "sender": testHandleID,
		"reason": "ICE failed",
	})

	s.Require().Len(got, 1)
	s.Equal("ICE failed", (<-got).Reason)
}

func (s *HandleSuite) TestTrickleNotification() {
	got := make(chan TrickleData, 2)
	s.handle.On(EventHandleTrickle, func(ev Event) { got <- ev.Data.(TrickleData) })

	s.stub.deliver(map[string]any{
		"janus": "trickle", "session_id": testSessionID, "sender": testHandleID,
		"candidate": map[string]any{"candidate": "candidate:1", "sdpMid": "0"},
	})
	s.stub.deliver(map[string]any{
		"janus": "trickle", "session_id": testSessionID, "sender": testHandleID,
		"candidate": map[string]any{"completed": true},
	})

	s.Require().Len(got, 2)
	first := <-got
	s.Require().NotNil(first.Candidate)
	s.Equal("candidate:1", first.Candidate.Candidate)
	second := <-got
	s.True(second.Completed)
	s.Nil(second.Candidate)
}

// correlatingAdapter mimics the SIP register flow: it stashes the
// transaction of an outbound register request and correlates the later
// async event back to it.
type correlatingAdapter struct {
	fakeAdapter

	mu      sync.Mutex
	pending string
}

func (a *correlatingAdapter) ObserveRequest(req map[string]any) {
	body, _ := req["body"].(map[string]any)
	if r, _ := body["request"].(string); r != "register" {
		return
	}
	id, _ := req["transaction"].(string)
	a.mu.Lock()
	a.pending = id
	a.mu.Unlock()
}

func (a *correlatingAdapter) Correlate(msg *Message) (string, bool) {
	var p fakePayload
	if err := msg.DecodePluginData(&p); err != nil {
		return "", false
	}
	if p.Event != "registered" && p.ErrorCode == 0 {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == "" {
		return "", false
	}
	id := a.pending
	a.pending = ""
	return id, true
}

func (s *HandleSuite) attachCorrelating() *Handle {
	h, err := s.sess.Attach(context.Background(), &PluginDescriptor{
		ID:  "janus.plugin.fake",
		New: func() PluginAdapter { return &correlatingAdapter{} },
	})
	s.Require().NoError(err)
	return h
}

func (s *HandleSuite) TestAsyncEventSettlesCorrelatedRequest() {
	h := s.attachCorrelating()
	s.stub.setReply(func(req map[string]any) []map[string]any {
		// the register request is only acked; the answer comes later
		return []map[string]any{{
			"janus": "ack", "transaction": req["transaction"], "session_id": testSessionID,
		}}
	})

	done := make(chan *PluginEvent, 1)
	go func() {
		ev, err := h.Message(context.Background(), map[string]any{"request": "register"}, nil)
		s.NoError(err)
		done <- ev
	}()
	s.Eventually(func() bool { return s.conn.txs.size() == 1 }, waitFor, tick)

	// async event without transaction
	s.stub.deliver(pluginFrame(testSessionID, testHandleID, "", map[string]any{
		"event": "registered", "value": "alice",
	}))

	ev := <-done
	s.Equal("fake_registered", ev.Name)
	s.Equal("alice", ev.Data)
	s.Equal(0, s.conn.txs.size())
}

func (s *HandleSuite) TestAsyncErrorRejectsCorrelatedRequest() {
	h := s.attachCorrelating()
	s.stub.setReply(func(req map[string]any) []map[string]any {
		return []map[string]any{{
			"janus": "ack", "transaction": req["transaction"], "session_id": testSessionID,
		}}
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.Message(context.Background(), map[string]any{"request": "register"}, nil)
		done <- err
	}()
	s.Eventually(func() bool { return s.conn.txs.size() == 1 }, waitFor, tick)

	s.stub.deliver(pluginFrame(testSessionID, testHandleID, "", map[string]any{
		"error_code": 401, "error": "registration failed",
	}))

	err := <-done
	s.Require().Error(err)
	s.True(errors.Is(err, ErrJanusError))
}
