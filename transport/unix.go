package transport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
)

const unixReadBuf = 64 << 10

// unixTransport is the UNIX datagram variant for file:// endpoints. It
// binds a sibling dgram socket at /tmp/.janode-<conn_id> and connects it
// to the server path; the sibling is unlinked on close and best-effort on
// open. There is no liveness probe on this variant.
type unixTransport struct {
	opts   Options
	logger *log.Logger
	iter   *AddressIterator

	writeMu sync.Mutex
	conn    *net.UnixConn

	localPath string
	runCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
}

func newUnixTransport(opts Options) *unixTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &unixTransport{
		opts:      opts,
		logger:    opts.Logger.Module("unix"),
		iter:      NewAddressIterator(opts.Endpoints),
		localPath: filepath.Join(os.TempDir(), ".janode-"+opts.ConnID),
		runCtx:    ctx,
		cancel:    cancel,
	}
}

func (t *unixTransport) Open(ctx context.Context) error {
	err := attemptOpen(ctx, t.iter, t.opts.MaxRetries, t.opts.RetryTime,
		t.opts.Clock, t.logger, t.dial)
	if err != nil {
		return err
	}

	go func() {
		t.shutdown(t.readLoop(t.runCtx))
	}()

	t.logger.Info("unix dgram link established",
		log.String("url", t.iter.Current().URL),
		log.String("local", t.localPath))
	return nil
}

func (t *unixTransport) dial(_ context.Context, ep Endpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return errors.Wrapf(ErrInvalidURL, err, "bad endpoint url %q", ep.URL)
	}

	// stale sibling from a previous run
	_ = os.Remove(t.localPath)

	laddr, err := net.ResolveUnixAddr("unixgram", t.localPath)
	if err != nil {
		return err
	}
	raddr, err := net.ResolveUnixAddr("unixgram", u.Path)
	if err != nil {
		return err
	}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		_ = os.Remove(t.localPath)
		return err
	}

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()
	return nil
}

func (t *unixTransport) Close() error {
	t.shutdown(nil)
	return nil
}

func (t *unixTransport) Send(ctx context.Context, frame any) error {
	if t.closed.Load() {
		return errors.New(ErrClosed, "send on closed transport")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(ErrBadFrame, err, "frame not serialisable")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return errors.New(ErrClosed, "send on closed transport")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := t.conn.Write(data); err != nil {
		return errors.Wrap(ErrClosed, err, "unix dgram write failed")
	}
	framesSent.Add(ctx, 1)
	return nil
}

func (t *unixTransport) Endpoint() Endpoint {
	return t.iter.Current()
}

func (t *unixTransport) readLoop(ctx context.Context) error {
	buf := make([]byte, unixReadBuf)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := t.conn.Read(buf)
		if err != nil {
			return err
		}
		framesReceived.Add(ctx, 1)
		if t.opts.OnMessage != nil {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			t.opts.OnMessage(json.RawMessage(frame))
		}
	}
}

func (t *unixTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.cancel()

		t.writeMu.Lock()
		conn := t.conn
		t.writeMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		_ = os.Remove(t.localPath)

		err = normalizeUnixCloseErr(err)
		if err == nil {
			t.logger.Info("unix dgram link closed")
		} else {
			t.logger.Warn("unix dgram link closed", log.Error(err))
		}
		if t.opts.OnClosed != nil {
			t.opts.OnClosed(err)
		}
	})
}

func normalizeUnixCloseErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, net.ErrClosed):
		return nil
	case errors.Is(err, io.EOF):
		return nil
	default:
		return err
	}
}
