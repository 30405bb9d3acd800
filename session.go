package janode

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
	isync "github.com/meetecho/janode-go/internal/sync"
)

// Session is a Janus session. It routes inbound traffic to its handles
// and keeps itself alive with periodic keepalive probes; a failed probe
// or a server timeout tears it down.
//
// Events: EventSessionDestroyed with the session id.
type Session struct {
	*Emitter

	id      int64
	conn    *Connection
	logger  *log.Logger
	handles *isync.Map[int64, *Handle]

	kaInterval time.Duration
	kaCancel   context.CancelFunc
	destroyed  atomic.Bool
}

func newSession(conn *Connection, id int64, kaInterval time.Duration) *Session {
	return &Session{
		Emitter:    newEmitter(),
		id:         id,
		conn:       conn,
		logger:     conn.rootLogger.Module("session"),
		handles:    isync.NewMap[int64, *Handle](),
		kaInterval: kaInterval,
	}
}

// ID returns the server-assigned session identifier.
func (s *Session) ID() int64 {
	return s.id
}

// Destroyed reports whether the session is gone, whatever the cause.
func (s *Session) Destroyed() bool {
	return s.destroyed.Load()
}

func (s *Session) submit(ctx context.Context, owner any, req map[string]any) (txResult, error) {
	if s.destroyed.Load() {
		return txResult{}, errors.New(ErrSessionDestroyed, "session destroyed")
	}
	req["session_id"] = s.id
	return s.conn.submit(ctx, owner, req)
}

// Attach attaches a plugin handle to the session. The descriptor names
// the plugin and, optionally, builds the adapter that decodes its
// events.
func (s *Session) Attach(ctx context.Context, descriptor *PluginDescriptor) (*Handle, error) {
	if descriptor == nil || descriptor.ID == "" {
		return nil, errors.New(ErrInvalidArgument, "plugin descriptor required")
	}

	req := newRequest(janusAttach)
	req["plugin"] = descriptor.ID
	res, err := s.submit(ctx, s, req)
	if err != nil {
		return nil, err
	}
	if res.msg.Janus != janusSuccess || res.msg.Data == nil {
		return nil, errors.Newf(ErrUnexpectedResponse, "attach answered with %q", res.msg.Janus)
	}

	var adapter PluginAdapter
	if descriptor.New != nil {
		adapter = descriptor.New()
	}
	h := newHandle(s, res.msg.Data.ID, descriptor.ID, adapter)
	s.handles.Store(h.id, h)
	handlesActive.Add(ctx, 1)
	s.logger.Info("handle attached",
		log.Int64("session_id", s.id),
		log.Int64("handle_id", h.id),
		log.String("plugin", descriptor.ID))
	return h, nil
}

// Destroy asks the server to destroy the session, then tears it down
// locally. Handles are detached locally without individual detach
// requests.
func (s *Session) Destroy(ctx context.Context) error {
	if s.destroyed.Load() {
		return errors.New(ErrSessionDestroyed, "session destroyed")
	}
	res, err := s.submit(ctx, s, newRequest(janusDestroy))
	if err != nil {
		return err
	}
	if res.msg.Janus != janusSuccess {
		return errors.Newf(ErrUnexpectedResponse, "destroy answered with %q", res.msg.Janus)
	}
	s.teardown()
	return nil
}

func (s *Session) startKeepAlive() {
	if s.kaInterval <= 0 || s.destroyed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.kaCancel = cancel
	go s.keepAliveLoop(ctx)
}

func (s *Session) keepAliveLoop(ctx context.Context) {
	ticker := s.conn.clock.NewTicker(s.kaInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.keepAlive(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("keep-alive failed, destroying session",
					log.Int64("session_id", s.id), log.Error(err))
				s.teardown()
				return
			}
		}
	}
}

func (s *Session) keepAlive(ctx context.Context) error {
	if s.kaInterval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.kaInterval/2)
		defer cancel()
	}
	_, err := s.submit(ctx, s, newRequest(janusKeepalive))
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err, "keep-alive not acknowledged")
	}
	return err
}

// receive runs on the transport read goroutine. Frames with a sender go
// to that handle; frames that settle a handle-owned transaction go to
// the owning handle; session-owned transactions settle here; a timeout
// event destroys the session.
func (s *Session) receive(msg *Message) {
	if msg.Sender != 0 {
		if h, ok := s.handles.Load(msg.Sender); ok {
			h.receive(msg)
			return
		}
	}
	if msg.Transaction != "" {
		owner := s.conn.txs.ownerOf(msg.Transaction)
		if h, ok := owner.(*Handle); ok {
			if _, known := s.handles.Load(h.id); known {
				h.receive(msg)
				return
			}
		}
		if owner == s {
			s.settle(msg)
			return
		}
	}
	if msg.Janus == janusTimeout {
		s.logger.Warn("session timed out by server", log.Int64("session_id", s.id))
		s.teardown()
		return
	}
	s.logger.Debug("dropping unroutable session frame",
		log.Int64("session_id", s.id), log.String("janus", msg.Janus))
}

func (s *Session) settle(msg *Message) {
	tx, ok := s.conn.txs.get(msg.Transaction)
	if !ok {
		return
	}
	switch msg.Janus {
	case janusAck:
		// a bare ack completes a keepalive probe; other session
		// requests wait for the definitive reply
		if tx.request == janusKeepalive {
			s.conn.txs.closeSuccess(tx.id, s, txResult{msg: msg})
		}
	case janusError:
		s.conn.txs.closeError(tx.id, s, janusErr(msg.Error))
	default:
		s.conn.txs.closeSuccess(tx.id, s, txResult{msg: msg})
	}
}

// teardown makes the session unusable: the keep-alive loop stops, every
// handle is detached locally, pending session requests fail with
// ErrSessionDestroyed. Idempotent.
func (s *Session) teardown() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	if s.kaCancel != nil {
		s.kaCancel()
	}

	var handles []*Handle
	s.handles.Range(func(_ int64, h *Handle) bool {
		handles = append(handles, h)
		return true
	})
	cause := errors.New(ErrSessionDestroyed, "session destroyed")
	for _, h := range handles {
		h.detachLocal(cause)
	}

	s.conn.sessions.Delete(s.id)
	s.conn.txs.closeAll(s, cause)
	sessionsActive.Add(context.Background(), -1)
	s.logger.Info("session destroyed", log.Int64("session_id", s.id))
	s.emit(EventSessionDestroyed, s.id)
}
