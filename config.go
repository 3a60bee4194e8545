package raknet

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds the transport settings shared by every session of an
// endpoint.
type Config struct {
	// MaxMTU caps the MTU negotiated with peers.
	MaxMTU int
	// ResendInterval is how long a reliable frame waits for an ack before
	// it is sent again.
	ResendInterval time.Duration
	// TickInterval paces ack emission and queue flushing.
	TickInterval time.Duration
	// SessionTimeout closes sessions that received nothing for this long.
	SessionTimeout time.Duration
	// PingInterval paces keep-alive pings on idle sessions.
	PingInterval time.Duration
	// MaxSplitCount and MaxSplits bound reassembly memory per session.
	MaxSplitCount int
	MaxSplits     int
	// ServerName is answered to unconnected pings.
	ServerName string
	Protocol   byte
}

func DefaultConfig() Config {
	return Config{
		MaxMTU:         MaxMTU,
		ResendInterval: DefaultResendInterval,
		TickInterval:   DefaultTickInterval,
		SessionTimeout: DefaultSessionTimeout,
		PingInterval:   DefaultPingInterval,
		MaxSplitCount:  512,
		MaxSplits:      64,
		Protocol:       ProtocolVersion,
	}
}

func (cfg Config) Validate() error {
	if cfg.MaxMTU < MinMTU || cfg.MaxMTU > MaxMTU {
		return errors.Errorf("max_mtu %d outside [%d, %d]", cfg.MaxMTU, MinMTU, MaxMTU)
	}
	if cfg.ResendInterval <= 0 {
		return errors.Errorf("resend_interval must be positive")
	}
	if cfg.TickInterval <= 0 {
		return errors.Errorf("tick_interval must be positive")
	}
	if cfg.SessionTimeout <= 0 {
		return errors.Errorf("session_timeout must be positive")
	}
	if cfg.PingInterval <= 0 {
		return errors.Errorf("ping_interval must be positive")
	}
	if cfg.MaxSplitCount <= 0 || cfg.MaxSplits <= 0 {
		return errors.Errorf("split limits must be positive")
	}
	return nil
}

type fileConfig struct {
	MaxMTU         int    `toml:"max_mtu"`
	ResendInterval string `toml:"resend_interval"`
	TickInterval   string `toml:"tick_interval"`
	SessionTimeout string `toml:"session_timeout"`
	PingInterval   string `toml:"ping_interval"`
	MaxSplitCount  int    `toml:"max_split_count"`
	MaxSplits      int    `toml:"max_splits"`
	ServerName     string `toml:"server_name"`
	Protocol       int    `toml:"protocol"`
}

// LoadConfig reads a TOML file over DefaultConfig. Keys absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load raknet config")
	}

	if meta.IsDefined("max_mtu") {
		cfg.MaxMTU = raw.MaxMTU
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"resend_interval", raw.ResendInterval, &cfg.ResendInterval},
		{"tick_interval", raw.TickInterval, &cfg.TickInterval},
		{"session_timeout", raw.SessionTimeout, &cfg.SessionTimeout},
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", d.key)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_split_count") {
		cfg.MaxSplitCount = raw.MaxSplitCount
	}
	if meta.IsDefined("max_splits") {
		cfg.MaxSplits = raw.MaxSplits
	}
	if meta.IsDefined("server_name") {
		cfg.ServerName = raw.ServerName
	}
	if meta.IsDefined("protocol") {
		if raw.Protocol < 0 || raw.Protocol > 0xff {
			return Config{}, errors.Errorf("protocol %d out of range", raw.Protocol)
		}
		cfg.Protocol = byte(raw.Protocol)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid raknet config (%s)", path)
	}
	return cfg, nil
}
