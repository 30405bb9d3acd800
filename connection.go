package janode

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
	isync "github.com/meetecho/janode-go/internal/sync"
	"github.com/meetecho/janode-go/transport"
)

// Connection is one signalling link to a Janus server. It owns the
// transport, the transaction table and the id generator shared by every
// session and handle created through it.
//
// Events: EventConnectionClosed (nil payload) on a clean local close,
// EventConnectionError (error payload) when the link breaks.
type Connection struct {
	*Emitter

	id         string
	cfg        Config
	rootLogger *log.Logger
	logger     *log.Logger
	clock      clockwork.Clock

	tr       transport.Transport
	txs      *transactionManager
	ids      *idGenerator
	sessions *isync.Map[int64, *Session]
	closed   atomic.Bool
}

func newConnection(cfg Config, logger *log.Logger, clock clockwork.Clock) *Connection {
	return &Connection{
		Emitter:    newEmitter(),
		id:         uuid.NewString(),
		cfg:        cfg,
		rootLogger: logger,
		logger:     logger.Module("connection"),
		clock:      clock,
		txs:        newTransactionManager(logger),
		ids:        newIDGenerator(),
		sessions:   isync.NewMap[int64, *Session](),
	}
}

// newTransport is swapped out by tests.
var newTransport = transport.New

func (c *Connection) open(ctx context.Context) error {
	tr, err := newTransport(transport.Options{
		ConnID:     c.id,
		Endpoints:  c.cfg.Endpoints,
		IsAdmin:    c.cfg.IsAdmin,
		MaxRetries: c.cfg.MaxRetries,
		RetryTime:  time.Duration(c.cfg.RetryTimeSecs) * time.Second,
		WS:         c.cfg.WS,
		Logger:     c.rootLogger.Module("transport"),
		Clock:      c.clock,
		OnMessage:  c.receive,
		OnClosed:   c.signalClose,
	})
	if err != nil {
		return err
	}
	c.tr = tr

	if err := tr.Open(ctx); err != nil {
		return err
	}
	connectionsActive.Add(ctx, 1)
	c.logger.Info("connection established",
		log.String("conn_id", c.id),
		log.String("url", tr.Endpoint().URL))
	return nil
}

// ID returns the locally generated connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Endpoint returns the endpoint the connection is currently attached to.
func (c *Connection) Endpoint() transport.Endpoint {
	return c.tr.Endpoint()
}

// Close shuts the connection down. Every open session is destroyed
// locally and every pending request fails with ErrConnectionClosed.
// A second call returns ErrAlreadyClosed.
func (c *Connection) Close() error {
	if c.closed.Load() {
		return errors.New(ErrAlreadyClosed, "connection already closed")
	}
	return c.tr.Close()
}

// signalClose runs once when the transport goes away, whether by a local
// Close or a broken link. err is nil on a clean close.
func (c *Connection) signalClose(err error) {
	first := c.closed.CompareAndSwap(false, true)

	var sessions []*Session
	c.sessions.Range(func(_ int64, s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	for _, s := range sessions {
		s.teardown()
	}

	if err != nil {
		c.txs.closeAll(nil, errors.Wrap(ErrConnectionError, err, "connection error"))
		c.logger.Warn("connection lost", log.String("conn_id", c.id), log.Error(err))
		c.emit(EventConnectionError, err)
	} else {
		c.txs.closeAll(nil, errors.New(ErrConnectionClosed, "connection closed"))
		c.logger.Info("connection closed", log.String("conn_id", c.id))
		c.emit(EventConnectionClosed, nil)
	}

	if first {
		connectionsActive.Add(context.Background(), -1)
	}
}

// receive runs on the transport read goroutine. Frames are routed in
// order: session by session_id, then connection-owned transaction, then
// dropped.
func (c *Connection) receive(raw json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("dropping unparsable frame", log.Error(err))
		return
	}
	c.logger.Debug("inbound",
		log.String("janus", msg.Janus),
		log.String("transaction", msg.Transaction),
		log.Int64("session_id", msg.SessionID))

	if msg.SessionID != 0 {
		if sess, ok := c.sessions.Load(msg.SessionID); ok {
			sess.receive(&msg)
			return
		}
	}
	if msg.Transaction != "" && c.txs.ownerOf(msg.Transaction) == c {
		c.settle(&msg)
		return
	}
	c.logger.Debug("dropping unroutable frame",
		log.String("janus", msg.Janus),
		log.String("transaction", msg.Transaction))
}

func (c *Connection) settle(msg *Message) {
	switch msg.Janus {
	case janusAck:
		// interim, the definitive reply is still to come
	case janusError:
		c.txs.closeError(msg.Transaction, c, janusErr(msg.Error))
	default:
		c.txs.closeSuccess(msg.Transaction, c, txResult{msg: msg})
	}
}

// submit decorates req with a transaction id and the endpoint
// credentials, sends it and waits for the transaction to settle. Owner
// scopes which inbound replies may settle it.
func (c *Connection) submit(ctx context.Context, owner any, req map[string]any) (txResult, error) {
	if c.closed.Load() {
		return txResult{}, errors.New(ErrConnectionClosed, "connection closed")
	}

	verb, _ := req["janus"].(string)
	id, _ := req["transaction"].(string)
	if id == "" {
		id = c.ids.Next()
		req["transaction"] = id
	}
	ep := c.tr.Endpoint()
	if ep.APISecret != "" {
		req["apisecret"] = ep.APISecret
	}
	if ep.Token != "" {
		req["token"] = ep.Token
	}

	tx, err := c.txs.create(id, owner, verb)
	if err != nil {
		return txResult{}, err
	}
	if err := c.tr.Send(ctx, req); err != nil {
		c.txs.discard(id, owner)
		return txResult{}, err
	}

	select {
	case res := <-tx.done:
		if res.err != nil {
			return txResult{}, res.err
		}
		return res, nil
	case <-ctx.Done():
		c.txs.discard(id, owner)
		return txResult{}, ctx.Err()
	}
}

// CreateSession creates a Janus session and starts its keep-alive loop.
func (c *Connection) CreateSession(ctx context.Context) (*Session, error) {
	res, err := c.submit(ctx, c, newRequest(janusCreate))
	if err != nil {
		return nil, err
	}
	if res.msg.Janus != janusSuccess || res.msg.Data == nil {
		return nil, errors.Newf(ErrUnexpectedResponse, "create answered with %q", res.msg.Janus)
	}

	s := newSession(c, res.msg.Data.ID, time.Duration(c.cfg.KeepAliveSecs)*time.Second)
	c.sessions.Store(s.id, s)
	s.startKeepAlive()
	sessionsActive.Add(ctx, 1)
	c.logger.Info("session created", log.Int64("session_id", s.id))
	return s, nil
}

// ServerInfo queries the server for its details and returns the raw
// server_info reply.
func (c *Connection) ServerInfo(ctx context.Context) (*Message, error) {
	res, err := c.submit(ctx, c, newRequest(janusInfo))
	if err != nil {
		return nil, err
	}
	if res.msg.Janus != janusServerInfo {
		return nil, errors.Newf(ErrUnexpectedResponse, "info answered with %q", res.msg.Janus)
	}
	return res.msg, nil
}
