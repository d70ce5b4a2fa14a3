// Package transport picks the protocol adapter named by a config.
package transport

import (
	"context"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/protocol/quic"
	"github.com/zeusync/replication/internal/core/protocol/websocket"
)

// Listen starts a listener for cfg.Transport.
func Listen(cfg protocol.Config, logger log.Log) (protocol.Listener, error) {
	switch cfg.Transport {
	case protocol.TransportQUIC:
		ln, err := quic.Listen(cfg, logger)
		if err != nil {
			return nil, err
		}
		return ln, nil
	case protocol.TransportWS:
		ln, err := websocket.Listen(cfg, logger)
		if err != nil {
			return nil, err
		}
		return ln, nil
	default:
		return nil, unsupported(cfg.Transport)
	}
}

// Dial connects to cfg.Addr over cfg.Transport.
func Dial(ctx context.Context, cfg protocol.Config, logger log.Log) (protocol.Peer, error) {
	switch cfg.Transport {
	case protocol.TransportQUIC:
		p, err := quic.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case protocol.TransportWS:
		p, err := websocket.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, unsupported(cfg.Transport)
	}
}

func unsupported(t protocol.TransportType) error {
	return protocol.NewProtocolError(protocol.ErrorCodeTransportNotSupported,
		"transport "+string(t), protocol.ErrTransportNotSupported)
}
