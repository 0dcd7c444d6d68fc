// Package config loads the integrity plane's runtime configuration: the
// exchange endpoint, subscribed symbols, transport timing, and the
// recording/incident paths. It uses a viper-backed loader
// (github.com/spf13/viper, YAML plus AutomaticEnv) rather than a bespoke
// flag surface; process bootstrap and the argument surface itself stay
// out of this package.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the core pipeline needs to run a live
// session. Collaborators (the HTTP status endpoint, the TUI, the CLI) read
// their own settings separately; nothing here is specific to them.
type Config struct {
	ExchangeURL string   `mapstructure:"exchange_url"`
	Symbols     []string `mapstructure:"symbols"`
	Depth       int      `mapstructure:"depth"`

	PingInterval        time.Duration `mapstructure:"ping_interval"`
	SubscribeBatchSize  int           `mapstructure:"subscribe_batch_size"`
	SubscribeAckTimeout time.Duration `mapstructure:"subscribe_ack_timeout"`
	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout"`
	CooldownDuration    time.Duration `mapstructure:"cooldown_duration"`

	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`

	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	EventBufferSize int   `mapstructure:"event_buffer_size"`

	// MismatchReconnectThreshold is the consecutive-digest-failure count
	// at which a symbol resync is abandoned in favor of a full
	// reconnect (spec.md §4.5).
	MismatchReconnectThreshold int `mapstructure:"mismatch_reconnect_threshold"`

	EventLogCapacity int `mapstructure:"event_log_capacity"`
	ReplayRingSize   int `mapstructure:"replay_ring_size"`

	RecordingDir string `mapstructure:"recording_dir"`
	IncidentDir  string `mapstructure:"incident_dir"`

	// IncidentPreWindow and IncidentPostWindow bound the frame window an
	// incident bundle captures around the divergence instant t, per
	// spec.md §4.8 ("[t-30s, t+5s]").
	IncidentPreWindow  time.Duration `mapstructure:"incident_pre_window"`
	IncidentPostWindow time.Duration `mapstructure:"incident_post_window"`

	LogLevel string `mapstructure:"log_level"`
}

// setDefaults mirrors the defaults spec.md names inline (§4.5, §4.6, §4.8)
// so a config file only needs to override what differs from them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange_url", "wss://stream.exchange.example/ws")
	v.SetDefault("depth", 25)
	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("subscribe_batch_size", 50)
	v.SetDefault("subscribe_ack_timeout", 10*time.Second)
	v.SetDefault("handshake_timeout", 10*time.Second)
	v.SetDefault("cooldown_duration", 60*time.Second)
	v.SetDefault("backoff_base", time.Second)
	v.SetDefault("backoff_cap", 300*time.Second)
	v.SetDefault("max_message_bytes", 1<<20)
	v.SetDefault("event_buffer_size", 4096)
	v.SetDefault("mismatch_reconnect_threshold", 5)
	v.SetDefault("event_log_capacity", 256)
	v.SetDefault("replay_ring_size", 2000)
	v.SetDefault("recording_dir", "./recordings")
	v.SetDefault("incident_dir", "./incidents")
	v.SetDefault("incident_pre_window", 30*time.Second)
	v.SetDefault("incident_post_window", 5*time.Second)
	v.SetDefault("log_level", "info")
}

// Load reads configPath (YAML) if present, applies BLACKBOX_-prefixed
// environment variable overrides, and unmarshals into a Config. A missing
// config file is not an error, an all-defaults-plus-env config is valid
// for small deployments.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BLACKBOX")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads configPath like Load, panicking on failure. Reserved for
// process bootstrap (cmd/blackbox, out of core scope); the core pipeline
// itself never panics on a data-path error per spec.md §7.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic("couldn't load configuration, cannot start: " + err.Error())
	}
	return cfg
}
