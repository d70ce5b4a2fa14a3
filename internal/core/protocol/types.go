package protocol

import (
	"context"
	"net"

	"github.com/google/uuid"
)

// PeerID represents a unique identifier for a connected peer
type PeerID string

// GeneratePeerID generates a unique peer ID
func GeneratePeerID() PeerID {
	return PeerID(uuid.NewString())
}

// TransportType defines the underlying transport protocol
type TransportType string

const (
	TransportQUIC TransportType = "quic"
	TransportWS   TransportType = "websocket"
)

// ParseTransport validates a transport name from configuration.
func ParseTransport(s string) (TransportType, error) {
	switch TransportType(s) {
	case TransportQUIC, TransportWS:
		return TransportType(s), nil
	default:
		return "", ErrTransportNotSupported
	}
}

// MessageType is the first byte of every message
type MessageType uint8

const (
	MessageTypeInvalid MessageType = iota
	// MessageTypeBootstrap carries the full-state snapshot batch. Reliable.
	MessageTypeBootstrap
	// MessageTypeSnapshots carries the un-acked snapshot backlog. Unreliable.
	MessageTypeSnapshots
	// MessageTypeAck carries the newest tick a client applied.
	MessageTypeAck
	MessageTypeClockRequest
	MessageTypeClockResponse
	// MessageTypeRpc carries a batch of server RPC calls from a client. Reliable.
	MessageTypeRpc
)

// MessageType string representation
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeBootstrap:
		return "bootstrap"
	case MessageTypeSnapshots:
		return "snapshots"
	case MessageTypeAck:
		return "ack"
	case MessageTypeClockRequest:
		return "clock_request"
	case MessageTypeClockResponse:
		return "clock_response"
	case MessageTypeRpc:
		return "rpc"
	default:
		return "unknown"
	}
}

func (mt MessageType) Valid() bool {
	return mt >= MessageTypeBootstrap && mt <= MessageTypeRpc
}

// Peer is one connected remote party. Unreliable sends may be lost or
// reordered; reliable sends arrive once and in order.
type Peer interface {
	ID() PeerID
	RemoteAddr() net.Addr
	Transport() TransportType

	// SendUnreliable queues p without a delivery guarantee.
	SendUnreliable(p []byte) error
	// SendReliable queues p on the ordered sub-channel. done, if not nil, is
	// called once the bytes were handed to the transport or failed to be.
	SendReliable(p []byte, done func(error)) error
	// Receive blocks for the next message from either sub-channel.
	Receive(ctx context.Context) ([]byte, error)

	Close() error
	Done() <-chan struct{}
}

// Listener accepts peers for one transport
type Listener interface {
	Accept(ctx context.Context) (Peer, error)
	Addr() net.Addr
	Close() error
}
