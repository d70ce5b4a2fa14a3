package quic

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

var _ protocol.Listener = (*Listener)(nil)

// Listener accepts QUIC peers
type Listener struct {
	listener *quic.Listener
	config   protocol.Config
	closed   int32 // atomic bool
	logger   log.Log
}

// Listen starts a QUIC listener on cfg.Addr
func Listen(cfg protocol.Config, logger log.Log) (*Listener, error) {
	if logger == nil {
		logger = log.Provide()
	}
	tlsConfig, err := ServerTLS(cfg)
	if err != nil {
		return nil, protocol.WrapError(err, "failed to build TLS config")
	}
	l, err := quic.ListenAddr(cfg.Addr, tlsConfig, quicConfig(cfg))
	if err != nil {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeListenFailed, "failed to listen on "+cfg.Addr, err)
	}

	ql := &Listener{
		listener: l,
		config:   cfg,
		logger:   logger.With(log.String("listener_addr", l.Addr().String())),
	}
	ql.logger.Info("QUIC listener created", log.String("addr", l.Addr().String()))
	return ql, nil
}

// Accept accepts a new peer
func (l *Listener) Accept(ctx context.Context) (protocol.Peer, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return nil, protocol.ErrConnectionClosed
	}

	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, protocol.WrapError(err, "failed to accept QUIC connection")
	}
	l.logger.Debug("QUIC connection accepted", log.String("remote_addr", conn.RemoteAddr().String()))

	peer, err := acceptPeer(ctx, conn, l.config, l.logger)
	if err != nil {
		return nil, err
	}
	return peer, nil
}

// Addr returns the listener address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close closes the listener
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	l.logger.Info("Closing QUIC listener")
	return l.listener.Close()
}

// Dial connects to a QUIC listener and opens the reliable stream
func Dial(ctx context.Context, cfg protocol.Config, logger log.Log) (*Peer, error) {
	if logger == nil {
		logger = log.Provide()
	}
	conn, err := quic.DialAddr(ctx, cfg.Addr, ClientTLS(cfg), quicConfig(cfg))
	if err != nil {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeDialFailed, "failed to dial "+cfg.Addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open stream")
		return nil, protocol.WrapError(err, "failed to open QUIC stream")
	}
	// the listener only sees the stream once something is written on it
	if err := protocol.WriteFrame(stream, nil); err != nil {
		_ = conn.CloseWithError(1, "open stream")
		return nil, protocol.WrapError(err, "failed to open QUIC stream")
	}
	return newPeer(conn, stream, cfg, logger), nil
}
