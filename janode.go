// Package janode is a client for the Janus WebRTC server signalling API.
//
// A Connection multiplexes any number of sessions over one transport
// link; each Session carries plugin Handles. Request/response pairing,
// keep-alive probing and event fan-out are handled by the core, while
// plugin semantics live in adapters (see the plugins subpackages).
//
// Typical usage:
//
//	cfgs, err := janode.LoadConfig("janode.yaml")
//	conn, err := janode.Connect(ctx, cfgs)
//	sess, err := conn.CreateSession(ctx)
//	handle, err := sess.Attach(ctx, echotest.Descriptor())
package janode

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
)

type options struct {
	logger      *log.Logger
	clock       clockwork.Clock
	serverKey   string
	serverIndex int
	byKey       bool
	byIndex     bool
}

// Option customises Connect.
type Option func(*options)

// WithLogger attaches a logger. Without one the library stays silent.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects the clock driving keep-alives, pings and reconnect
// waits. Meant for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithServerKey selects the config whose ServerKey matches key.
func WithServerKey(key string) Option {
	return func(o *options) {
		o.serverKey = key
		o.byKey = true
	}
}

// WithServerIndex selects the config at position i.
func WithServerIndex(i int) Option {
	return func(o *options) {
		o.serverIndex = i
		o.byIndex = true
	}
}

// Connect selects one server config, validates it and opens a connection
// to it, running the reconnect/failover loop across its endpoints. The
// returned Connection is ready for CreateSession.
func Connect(ctx context.Context, cfgs []Config, opts ...Option) (*Connection, error) {
	o := &options{
		logger: log.NewNop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := pickConfig(cfgs, o)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn := newConnection(cfg, o.logger, o.clock)
	if err := conn.open(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func pickConfig(cfgs []Config, o *options) (Config, error) {
	if len(cfgs) == 0 {
		return Config{}, errors.New(ErrConfigInvalid, "no server configs given")
	}
	if o.byKey {
		for _, cfg := range cfgs {
			if cfg.ServerKey == o.serverKey {
				return cfg, nil
			}
		}
		return Config{}, errors.Newf(ErrConfigInvalid, "no server config with key %q", o.serverKey)
	}
	if o.byIndex {
		if o.serverIndex < 0 || o.serverIndex >= len(cfgs) {
			return Config{}, errors.Newf(ErrConfigInvalid, "server index %d out of range", o.serverIndex)
		}
		return cfgs[o.serverIndex], nil
	}
	return cfgs[0], nil
}
