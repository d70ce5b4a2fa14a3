package protocol

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds transport settings shared by every adapter
type Config struct {
	Transport TransportType `json:"transport" yaml:"transport"`
	Addr      string        `json:"addr" yaml:"addr"`
	// Path is the HTTP path the WebSocket adapter upgrades on.
	Path string `json:"path" yaml:"path"`

	MaxMessageSize uint32        `json:"max_message_size" yaml:"max_message_size"`
	SendQueueSize  int           `json:"send_queue_size" yaml:"send_queue_size"`
	RecvQueueSize  int           `json:"recv_queue_size" yaml:"recv_queue_size"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	KeepAlive      time.Duration `json:"keep_alive" yaml:"keep_alive"`

	// Security settings
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	// InsecureSkipVerify lets clients accept the self-signed development
	// certificate.
	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

func DefaultConfig() Config {
	return Config{
		Transport:      TransportQUIC,
		Addr:           "127.0.0.1:7777",
		Path:           "/replication",
		MaxMessageSize: 1 << 20,
		SendQueueSize:  256,
		RecvQueueSize:  256,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    30 * time.Second,
		KeepAlive:      10 * time.Second,
	}
}

func (c Config) Validate() error {
	if _, err := ParseTransport(string(c.Transport)); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "transport %q", c.Transport)
	}
	if c.Addr == "" {
		return errors.Wrap(ErrInvalidConfig, "empty address")
	}
	if c.MaxMessageSize < 64 {
		return errors.Wrapf(ErrInvalidConfig, "max message size %d", c.MaxMessageSize)
	}
	if c.SendQueueSize <= 0 || c.RecvQueueSize <= 0 {
		return errors.Wrap(ErrInvalidConfig, "queue sizes must be positive")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.Wrap(ErrInvalidConfig, "cert_file and key_file go together")
	}
	return nil
}
