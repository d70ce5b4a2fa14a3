// Package websocket adapts gorilla/websocket connections to protocol.Peer.
// Both sub-channels share the one ordered connection, so unreliable sends
// are delivered reliably here.
package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

var _ protocol.Peer = (*Peer)(nil)

const (
	pingPeriod   = 10 * time.Second
	controlWrite = 5 * time.Second
)

type outbound struct {
	data []byte
	done func(error)
}

// Peer represents a WebSocket peer
type Peer struct {
	*protocol.BasePeer
	conn   *websocket.Conn
	config protocol.Config
	logger log.Log

	sendQueue chan outbound
}

func newPeer(conn *websocket.Conn, cfg protocol.Config, logger log.Log) *Peer {
	base := protocol.NewBasePeer(protocol.TransportWS, conn.RemoteAddr(), cfg.RecvQueueSize, logger)
	p := &Peer{
		BasePeer:  base,
		conn:      conn,
		config:    cfg,
		logger:    base.Logger(),
		sendQueue: make(chan outbound, cfg.SendQueueSize),
	}
	conn.SetReadLimit(int64(cfg.MaxMessageSize))

	p.logger.Info("WebSocket peer connected", log.String("remote_addr", conn.RemoteAddr().String()))

	go p.handleSending()
	go p.handleReading()
	return p
}

// SendUnreliable queues data on the connection
func (p *Peer) SendUnreliable(data []byte) error {
	return p.enqueue(outbound{data: data})
}

// SendReliable queues data on the connection
func (p *Peer) SendReliable(data []byte, done func(error)) error {
	return p.enqueue(outbound{data: data, done: done})
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
		return protocol.ErrMessageQueueFull
	}
}

// Close sends a close frame and closes the connection
func (p *Peer) Close() error {
	if !p.MarkClosed() {
		return nil
	}
	p.logger.Info("Closing WebSocket peer")
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(controlWrite))
	return p.conn.Close()
}

func (p *Peer) handleSending() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg := <-p.sendQueue:
			err := p.write(msg.data)
			if msg.done != nil {
				msg.done(err)
			}
			if err != nil {
				p.logger.Error("Failed to send message", log.Error(err))
				_ = p.Close()
				p.failPending()
				return
			}
			p.CountSent(len(msg.data))
		case <-ping.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWrite)); err != nil {
				p.logger.Debug("Failed to send ping", log.Error(err))
			}
		case <-p.Done():
			p.failPending()
			return
		}
	}
}

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

func (p *Peer) write(data []byte) error {
	if p.config.WriteTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (p *Peer) handleReading() {
	defer func() { _ = p.Close() }()

	idle := p.config.IdleTimeout
	extend := func() {
		if idle > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	extend()
	p.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !p.IsClosed() {
				p.logger.Warn("WebSocket error", log.Error(err))
			}
			return
		}
		extend()
		if kind != websocket.BinaryMessage {
			p.logger.Warn("Ignoring non-binary message")
			continue
		}
		if err := p.Deliver(data, true); err != nil {
			p.logger.Warn("Dropping peer, inbound queue overflow", log.Error(err))
			return
		}
	}
}
