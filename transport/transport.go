// Package transport provides the duplex frame channel between a janode
// connection and a Janus server. Two variants share one interface: a
// WebSocket link (janus-protocol / janus-admin-protocol subprotocols) and
// a UNIX datagram socket link for file:// endpoints.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
)

// Endpoint is one configured Janus server address. The url scheme selects
// the transport variant: ws/wss for WebSocket, file for UNIX dgram.
type Endpoint struct {
	URL       string `mapstructure:"url" json:"url" validate:"required"`
	APISecret string `mapstructure:"apisecret" json:"apisecret,omitempty"`
	Token     string `mapstructure:"token" json:"token,omitempty"`
}

// WSOptions carries dial options for the WebSocket variant.
type WSOptions struct {
	HTTPClient *http.Client
	HTTPHeader http.Header
}

// Options configures a Transport. OnMessage and OnClosed are invoked from
// the transport's read path: OnMessage once per inbound frame, in arrival
// order; OnClosed exactly once when the link ends, with a nil error for a
// locally initiated close.
type Options struct {
	ConnID       string
	Endpoints    []Endpoint
	IsAdmin      bool
	MaxRetries   int
	RetryTime    time.Duration
	PingInterval time.Duration
	PingWait     time.Duration
	WS           WSOptions

	Logger *log.Logger
	Clock  clockwork.Clock

	OnMessage func(raw json.RawMessage)
	OnClosed  func(err error)
}

// Transport is a single duplex channel to Janus.
//
// Open runs the reconnect/failover loop over the configured endpoints and
// returns once a link is established. Send serialises outbound frames in
// submission order and returns when the underlying write completed. Close
// is an idempotent graceful shutdown.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Send(ctx context.Context, frame any) error
	// Endpoint returns the endpoint the transport is currently bound to.
	Endpoint() Endpoint
}

const (
	defaultMaxRetries   = 5
	defaultRetryTime    = 10 * time.Second
	defaultPingInterval = 10 * time.Second
	defaultPingWait     = 5 * time.Second
)

// New builds the transport variant matching the endpoint url scheme. All
// endpoints of one transport must share the same variant.
func New(opts Options) (Transport, error) {
	if opts.Logger == nil {
		panic("logger is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ConnID == "" {
		opts.ConnID = uuid.NewString()
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryTime <= 0 {
		opts.RetryTime = defaultRetryTime
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingWait <= 0 {
		opts.PingWait = defaultPingWait
	}
	if len(opts.Endpoints) == 0 {
		return nil, errors.New(ErrInvalidURL, "no endpoints configured")
	}

	scheme, err := endpointScheme(opts.Endpoints[0])
	if err != nil {
		return nil, err
	}
	for _, ep := range opts.Endpoints[1:] {
		s, err := endpointScheme(ep)
		if err != nil {
			return nil, err
		}
		if unixScheme(s) != unixScheme(scheme) {
			return nil, errors.Newf(ErrInvalidURL, "mixed transport variants in endpoint list (%s vs %s)", scheme, s)
		}
	}

	if unixScheme(scheme) {
		return newUnixTransport(opts), nil
	}
	return newWSTransport(opts), nil
}

func endpointScheme(ep Endpoint) (string, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidURL, err, "bad endpoint url %q", ep.URL)
	}
	switch u.Scheme {
	case "ws", "wss", "file":
		return u.Scheme, nil
	default:
		return "", errors.Newf(ErrInvalidURL, "unsupported url scheme %q", u.Scheme)
	}
}

func unixScheme(s string) bool {
	return s == "file"
}
