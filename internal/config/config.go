// Package config holds the server's file configuration. Files may be YAML or
// JSON; keys a file leaves out keep their defaults.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/replication/internal/core/clock"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/replication"
	"github.com/zeusync/replication/internal/game"
)

var ErrInvalidConfig = errors.New("config: invalid")

// RateLimit caps client RPC batches per peer and window. Zero messages
// disables it.
type RateLimit struct {
	Messages int           `json:"messages" yaml:"messages"`
	Window   time.Duration `json:"window" yaml:"window"`
}

type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level"`
	TickRate time.Duration `json:"tick_rate" yaml:"tick_rate"`
	MaxPeers int           `json:"max_peers" yaml:"max_peers"`

	Protocol    protocol.Config    `json:"protocol" yaml:"protocol"`
	Replication replication.Config `json:"replication" yaml:"replication"`
	Clock       clock.Config       `json:"clock" yaml:"clock"`
	RateLimit   RateLimit          `json:"rate_limit" yaml:"rate_limit"`
	Game        game.Config        `json:"game" yaml:"game"`
}

func Default() Config {
	return Config{
		LogLevel:    "info",
		TickRate:    time.Second / 30,
		MaxPeers:    256,
		Protocol:    protocol.DefaultConfig(),
		Replication: replication.DefaultConfig(),
		Clock:       clock.DefaultConfig(),
		RateLimit:   RateLimit{Messages: 120, Window: time.Second},
		Game:        game.DefaultConfig(),
	}
}

// Level returns the parsed log level.
func (c Config) Level() log.Level {
	return log.ParseLevel(strings.ToLower(c.LogLevel))
}

func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "tick_rate %s", c.TickRate)
	}
	if c.MaxPeers <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_peers %d", c.MaxPeers)
	}
	if c.RateLimit.Messages > 0 && c.RateLimit.Window <= 0 {
		return errors.Wrap(ErrInvalidConfig, "rate_limit window must be positive")
	}
	if err := c.Game.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if err := c.Protocol.Validate(); err != nil {
		return errors.Wrap(err, "protocol")
	}
	if err := c.Clock.Validate(); err != nil {
		return errors.Wrap(err, "clock")
	}
	return nil
}

// LoadYAML decodes a YAML document over the defaults and validates it.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode yaml")
	}
	return c, c.Validate()
}

// LoadJSON decodes a JSON document over the defaults and validates it.
// Durations are given in nanoseconds.
func LoadJSON(r io.Reader) (Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode json")
	}
	return c, c.Validate()
}

// Load reads path, picking the decoder by extension. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(bytes.NewReader(data))
	}
	return LoadYAML(bytes.NewReader(data))
}
