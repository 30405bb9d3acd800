package janode

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/transport"
)

// Endpoint re-exports the transport endpoint so callers configure a
// connection without importing the transport package.
type Endpoint = transport.Endpoint

const (
	DefaultRetryTimeSecs = 10
	DefaultMaxRetries    = 5
	DefaultKeepAliveSecs = 30
)

// Config describes one Janus server a connection can be established to.
// Zero durations and retry counts fall back to the package defaults;
// KeepAliveSecs < 0 disables the keep-alive loop entirely.
type Config struct {
	ServerKey     string     `mapstructure:"server_key" json:"server_key,omitempty"`
	Endpoints     []Endpoint `mapstructure:"endpoints" json:"endpoints" validate:"required,min=1,dive"`
	RetryTimeSecs int        `mapstructure:"retry_time_secs" json:"retry_time_secs,omitempty" validate:"min=0"`
	MaxRetries    int        `mapstructure:"max_retries" json:"max_retries,omitempty" validate:"min=0"`
	IsAdmin       bool       `mapstructure:"is_admin" json:"is_admin,omitempty"`
	KeepAliveSecs int        `mapstructure:"keepalive_secs" json:"keepalive_secs,omitempty"`

	// WS carries dial options for ws/wss endpoints; not loadable from a
	// config file.
	WS transport.WSOptions `mapstructure:"-" json:"-"`
}

var validate = validator.New()

// Validate checks the config eagerly, before any endpoint is dialled.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(ErrConfigInvalid, err, "invalid config")
	}
	for _, ep := range c.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil {
			return errors.Wrapf(ErrConfigInvalid, err, "bad endpoint url %q", ep.URL)
		}
		switch u.Scheme {
		case "ws", "wss", "file":
		default:
			return errors.Newf(ErrConfigInvalid, "unsupported endpoint scheme %q in %q", u.Scheme, ep.URL)
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.RetryTimeSecs == 0 {
		c.RetryTimeSecs = DefaultRetryTimeSecs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.KeepAliveSecs == 0 {
		c.KeepAliveSecs = DefaultKeepAliveSecs
	}
	return c
}

// LoadConfig reads server configurations from a file (any format viper
// understands). The file either holds a "servers" list or a single
// server at the top level. JANODE_* environment variables override file
// values.
func LoadConfig(path string) ([]Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("JANODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(ErrConfigInvalid, err, "cannot read config %q", path)
	}

	var wrapper struct {
		Servers []Config `mapstructure:"servers"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, errors.Wrap(ErrConfigInvalid, err, "cannot decode config")
	}
	cfgs := wrapper.Servers
	if len(cfgs) == 0 {
		var single Config
		if err := v.Unmarshal(&single); err != nil {
			return nil, errors.Wrap(ErrConfigInvalid, err, "cannot decode config")
		}
		if len(single.Endpoints) == 0 {
			return nil, errors.Newf(ErrConfigInvalid, "no servers in %q", path)
		}
		cfgs = []Config{single}
	}

	for i := range cfgs {
		if err := cfgs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return cfgs, nil
}
