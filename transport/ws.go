package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
)

const (
	protoJanus      = "janus-protocol"
	protoJanusAdmin = "janus-admin-protocol"

	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 1 << 20 // SDP blobs can get large
	wsBufFrames    = 16
)

type wsWriteOp struct {
	frame any
	errCh chan error
}

// wsTransport is the WebSocket variant. A single write pump serialises
// outbound frames and liveness pings; the read pump delivers inbound
// frames in arrival order.
type wsTransport struct {
	opts   Options
	logger *log.Logger
	iter   *AddressIterator

	mu   sync.Mutex
	conn *websocket.Conn

	chBuf     chan wsWriteOp
	runCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
}

func newWSTransport(opts Options) *wsTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsTransport{
		opts:   opts,
		logger: opts.Logger.Module("ws"),
		iter:   NewAddressIterator(opts.Endpoints),
		chBuf:  make(chan wsWriteOp, wsBufFrames),
		runCtx: ctx,
		cancel: cancel,
	}
}

func (t *wsTransport) Open(ctx context.Context) error {
	err := attemptOpen(ctx, t.iter, t.opts.MaxRetries, t.opts.RetryTime,
		t.opts.Clock, t.logger, t.dial)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(t.runCtx)
	g.Go(func() error { return t.readPump(gctx) })
	g.Go(func() error { return t.writePump(gctx) })
	go func() {
		t.shutdown(g.Wait())
	}()

	t.logger.Info("websocket link established", log.String("url", t.iter.Current().URL))
	return nil
}

func (t *wsTransport) dial(ctx context.Context, ep Endpoint) error {
	proto := protoJanus
	if t.opts.IsAdmin {
		proto = protoJanusAdmin
	}
	conn, _, err := websocket.Dial(ctx, ep.URL, &websocket.DialOptions{
		Subprotocols: []string{proto},
		HTTPClient:   t.opts.WS.HTTPClient,
		HTTPHeader:   t.opts.WS.HTTPHeader,
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(wsReadLimit)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *wsTransport) Close() error {
	t.shutdown(nil)
	return nil
}

// Send enqueues one frame on the write pump and returns once the
// underlying write completed. Frames go out in submission order.
func (t *wsTransport) Send(ctx context.Context, frame any) error {
	if t.closed.Load() {
		return errors.New(ErrClosed, "send on closed transport")
	}

	op := wsWriteOp{frame: frame, errCh: make(chan error, 1)}
	select {
	case t.chBuf <- op:
	case <-t.runCtx.Done():
		return errors.New(ErrClosed, "send on closed transport")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.errCh:
		if err != nil {
			return errors.Wrap(ErrClosed, err, "websocket write failed")
		}
		framesSent.Add(ctx, 1)
		return nil
	case <-t.runCtx.Done():
		return errors.New(ErrClosed, "transport closed while sending")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *wsTransport) Endpoint() Endpoint {
	return t.iter.Current()
}

func (t *wsTransport) readPump(ctx context.Context) error {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return err
		}
		framesReceived.Add(ctx, 1)
		if t.opts.OnMessage != nil {
			t.opts.OnMessage(json.RawMessage(data))
		}
	}
}

func (t *wsTransport) writePump(ctx context.Context) error {
	ticker := t.opts.Clock.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := t.ping(ctx); err != nil {
				pingsFailed.Add(ctx, 1)
				t.logger.Warn("liveness ping failed, closing link", log.Error(err))
				return err
			}
		case op := <-t.chBuf:
			err := t.write(ctx, op.frame)
			op.errCh <- err
			if err != nil {
				return err
			}
		}
	}
}

func (t *wsTransport) write(ctx context.Context, frame any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, t.conn, frame)
}

func (t *wsTransport) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.opts.PingWait)
	defer cancel()
	return t.conn.Ping(ctx)
}

func (t *wsTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.cancel()

		err = normalizeCloseErr(err)
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			if err == nil {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
			} else {
				_ = conn.CloseNow()
			}
		}

		if err == nil {
			t.logger.Info("websocket link closed")
		} else {
			t.logger.Warn("websocket link closed", log.Error(err))
		}
		if t.opts.OnClosed != nil {
			t.opts.OnClosed(err)
		}
	})
}

// normalizeCloseErr maps locally initiated and remote graceful closures to
// nil, so the owner can tell a clean close from a broken link.
func normalizeCloseErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure ||
			status == websocket.StatusGoingAway {
			return nil
		}
		return err
	}
}
