package janode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meetecho/janode-go/internal/errors"
)

type SessionSuite struct {
	suite.Suite
	stub *stubTransport
	conn *Connection
	sess *Session
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.stub = &stubTransport{reply: serverReply}
	s.conn = newStubConnection(s.T(), s.stub)

	sess, err := s.conn.CreateSession(context.Background())
	s.Require().NoError(err)
	s.sess = sess
}

func (s *SessionSuite) TestAttach() {
	h, err := s.sess.Attach(context.Background(), fakeDescriptor())
	s.Require().NoError(err)
	s.Equal(testHandleID, h.ID())
	s.Equal("janus.plugin.fake", h.Plugin())
	s.Same(s.sess, h.Session())

	sent := s.stub.lastSent()
	s.Equal("attach", sent["janus"])
	s.Equal("janus.plugin.fake", sent["plugin"])
	s.EqualValues(testSessionID, sent["session_id"])
}

func (s *SessionSuite) TestAttachRequiresDescriptor() {
	_, err := s.sess.Attach(context.Background(), nil)
	s.True(errors.Is(err, ErrInvalidArgument))

	_, err = s.sess.Attach(context.Background(), &PluginDescriptor{})
	s.True(errors.Is(err, ErrInvalidArgument))
}

func (s *SessionSuite) TestKeepAliveCompletesOnAck() {
	err := s.sess.keepAlive(context.Background())
	s.NoError(err)

	sent := s.stub.lastSent()
	s.Equal("keepalive", sent["janus"])
	s.EqualValues(testSessionID, sent["session_id"])
}

func (s *SessionSuite) TestKeepAliveTimeoutDestroysSession() {
	s.stub.setReply(nil) // server stops answering
	s.sess.kaInterval = 20 * time.Millisecond

	destroyed := make(chan struct{})
	s.sess.On(EventSessionDestroyed, func(Event) { close(destroyed) })

	s.sess.startKeepAlive()

	select {
	case <-destroyed:
	case <-time.After(waitFor):
		s.Fail("session not destroyed after keep-alive failure")
	}
	s.True(s.sess.Destroyed())
	s.Equal(0, s.conn.txs.size())
}

func (s *SessionSuite) TestServerTimeoutDestroysSession() {
	destroyed := false
	s.sess.On(EventSessionDestroyed, func(Event) { destroyed = true })

	s.stub.deliver(map[string]any{
		"janus":      "timeout",
		"session_id": testSessionID,
	})

	s.True(destroyed)
	s.True(s.sess.Destroyed())
	_, ok := s.conn.sessions.Load(testSessionID)
	s.False(ok)
}

func (s *SessionSuite) TestDestroy() {
	h, err := s.sess.Attach(context.Background(), fakeDescriptor())
	s.Require().NoError(err)

	detached := false
	h.On(EventHandleDetached, func(Event) { detached = true })

	s.Require().NoError(s.sess.Destroy(context.Background()))
	s.True(s.sess.Destroyed())
	s.True(h.Detached())
	s.True(detached)

	err = s.sess.Destroy(context.Background())
	s.True(errors.Is(err, ErrSessionDestroyed))
}

func (s *SessionSuite) TestRequestsAfterDestroyFail() {
	s.Require().NoError(s.sess.Destroy(context.Background()))

	_, err := s.sess.Attach(context.Background(), fakeDescriptor())
	s.True(errors.Is(err, ErrSessionDestroyed))
}

func (s *SessionSuite) TestDestroyFailsPendingSessionRequests() {
	s.stub.setReply(nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.sess.Attach(context.Background(), fakeDescriptor())
		done <- err
	}()
	s.Eventually(func() bool { return s.conn.txs.size() == 1 }, waitFor, tick)

	s.sess.teardown()

	err := <-done
	s.True(errors.Is(err, ErrSessionDestroyed))
}

func (s *SessionSuite) TestRoutesHandleFramesBySender() {
	h, err := s.sess.Attach(context.Background(), fakeDescriptor())
	s.Require().NoError(err)

	got := make(chan Event, 1)
	h.On("fake_result", func(ev Event) { got <- ev })

	s.stub.deliver(pluginFrame(testSessionID, testHandleID, "", map[string]any{
		"event": "result",
		"value": "ok",
	}))

	s.Require().Len(got, 1)
	ev := <-got
	s.Equal("ok", (ev.Data.(*PluginEvent)).Data)
}
