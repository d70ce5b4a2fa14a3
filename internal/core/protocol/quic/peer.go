package quic

import (
	"context"
	"errors"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

var _ protocol.Peer = (*Peer)(nil)

type outbound struct {
	data     []byte
	reliable bool
	done     func(error)
}

// Peer implements protocol.Peer over one QUIC connection
type Peer struct {
	*protocol.BasePeer
	conn   *quic.Conn
	stream *quic.Stream
	config protocol.Config
	logger log.Log

	sendQueue chan outbound
}

func newPeer(conn *quic.Conn, stream *quic.Stream, cfg protocol.Config, logger log.Log) *Peer {
	base := protocol.NewBasePeer(protocol.TransportQUIC, conn.RemoteAddr(), cfg.RecvQueueSize, logger)
	p := &Peer{
		BasePeer:  base,
		conn:      conn,
		stream:    stream,
		config:    cfg,
		logger:    base.Logger(),
		sendQueue: make(chan outbound, cfg.SendQueueSize),
	}

	p.logger.Info("QUIC peer connected",
		log.String("remote_addr", conn.RemoteAddr().String()),
		log.String("local_addr", conn.LocalAddr().String()))

	go p.handleSending()
	go p.handleStream()
	go p.handleDatagrams()
	go func() {
		select {
		case <-conn.Context().Done():
			_ = p.Close()
		case <-p.Done():
		}
	}()

	return p
}

// SendUnreliable queues data as a datagram
func (p *Peer) SendUnreliable(data []byte) error {
	return p.enqueue(outbound{data: data})
}

// SendReliable queues data on the ordered stream
func (p *Peer) SendReliable(data []byte, done func(error)) error {
	return p.enqueue(outbound{data: data, reliable: true, done: done})
}

func (p *Peer) enqueue(msg outbound) error {
	if p.IsClosed() {
		return protocol.ErrConnectionClosed
	}
	if uint32(len(msg.data)) > p.config.MaxMessageSize {
		return protocol.ErrMessageTooLarge
	}
	select {
	case p.sendQueue <- msg:
		return nil
	case <-p.Done():
		return protocol.ErrConnectionClosed
	default:
		p.logger.Warn("Send queue full", log.Bool("reliable", msg.reliable), log.Int("size", len(msg.data)))
		return protocol.ErrMessageQueueFull
	}
}

// Close closes the connection
func (p *Peer) Close() error {
	if !p.MarkClosed() {
		return nil
	}
	p.logger.Info("Closing QUIC peer")
	return p.conn.CloseWithError(0, "closed")
}

func (p *Peer) handleSending() {
	for {
		select {
		case msg := <-p.sendQueue:
			err := p.write(msg)
			if msg.done != nil {
				msg.done(err)
			}
			if err != nil {
				p.logger.Error("Failed to send message", log.Bool("reliable", msg.reliable), log.Error(err))
				if msg.reliable {
					_ = p.Close()
					return
				}
				continue
			}
			p.CountSent(len(msg.data))
		case <-p.Done():
			p.failPending()
			return
		}
	}
}

// failPending reports the close to every queued reliable send.
func (p *Peer) failPending() {
	for {
		select {
		case msg := <-p.sendQueue:
			if msg.done != nil {
				msg.done(protocol.ErrConnectionClosed)
			}
		default:
			return
		}
	}
}

func (p *Peer) write(msg outbound) error {
	if !msg.reliable {
		err := p.conn.SendDatagram(msg.data)
		var tooLarge *quic.DatagramTooLargeError
		if !errors.As(err, &tooLarge) {
			return err
		}
		p.logger.Debug("Datagram too large, using stream",
			log.Int("size", len(msg.data)),
			log.Int64("max", tooLarge.MaxDatagramPayloadSize))
	}
	if p.config.WriteTimeout > 0 {
		_ = p.stream.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	}
	return protocol.WriteFrame(p.stream, msg.data)
}

func (p *Peer) handleStream() {
	for {
		frame, err := protocol.ReadFrame(p.stream, p.config.MaxMessageSize)
		if err != nil {
			if !p.IsClosed() {
				p.logger.Debug("Stream reader stopping", log.Error(err))
				_ = p.Close()
			}
			return
		}
		// the dialer's empty frame only opens the stream
		if len(frame) == 0 {
			continue
		}
		if err := p.Deliver(frame, true); err != nil {
			p.logger.Warn("Dropping peer, inbound queue overflow", log.Error(err))
			_ = p.Close()
			return
		}
	}
}

func (p *Peer) handleDatagrams() {
	ctx := p.conn.Context()
	for {
		data, err := p.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		_ = p.Deliver(data, false)
	}
}

// acceptPeer waits for the reliable stream the dialer opens.
func acceptPeer(ctx context.Context, conn *quic.Conn, cfg protocol.Config, logger log.Log) (*Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no reliable stream")
		return nil, protocol.WrapError(err, "failed to accept QUIC stream")
	}
	return newPeer(conn, stream, cfg, logger), nil
}
