package protocol

import (
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/codec"
)

// Message is one envelope: a type byte followed by a type-specific body.
type Message struct {
	Type MessageType
	Body []byte
}

// NewMessage builds the wire form of a message with body copied after the
// type byte.
func NewMessage(t MessageType, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(t)
	copy(out[1:], body)
	return out
}

// ParseMessage splits p into type and body. Body aliases p.
func ParseMessage(p []byte) (Message, error) {
	if len(p) == 0 {
		return Message{}, errors.Wrap(ErrInvalidMessage, "empty message")
	}
	t := MessageType(p[0])
	if !t.Valid() {
		return Message{}, errors.Wrapf(ErrUnknownMessage, "type %d", p[0])
	}
	return Message{Type: t, Body: p[1:]}, nil
}

// EncodeAck builds an Ack message for tick.
func EncodeAck(tick uint32) []byte {
	w := codec.NewWriter(5)
	w.Uint8(uint8(MessageTypeAck))
	w.Uint32(tick)
	return w.Bytes()
}

// Ack returns the tick of an Ack message.
func (m Message) Ack() (uint32, error) {
	if m.Type != MessageTypeAck || len(m.Body) != 4 {
		return 0, errors.Wrapf(ErrInvalidMessage, "%s with %d byte body as ack", m.Type, len(m.Body))
	}
	return codec.NewReader(m.Body).Uint32()
}

// ClockProbe holds the timestamps of one clock probe exchange in 100 ns
// units since the Unix epoch. A request only carries SentRequest.
type ClockProbe struct {
	SentRequest     int64
	ReceivedRequest int64
	SentResponse    int64
}

// EncodeClockRequest builds the request half of a probe.
func EncodeClockRequest(sentRequest int64) []byte {
	w := codec.NewWriter(9)
	w.Uint8(uint8(MessageTypeClockRequest))
	w.Int64(sentRequest)
	return w.Bytes()
}

// EncodeClockResponse echoes the request time with the server's receive and
// send times.
func EncodeClockResponse(p ClockProbe) []byte {
	w := codec.NewWriter(25)
	w.Uint8(uint8(MessageTypeClockResponse))
	w.Int64(p.SentRequest)
	w.Int64(p.ReceivedRequest)
	w.Int64(p.SentResponse)
	return w.Bytes()
}

// ClockProbe decodes a ClockRequest or ClockResponse body.
func (m Message) ClockProbe() (ClockProbe, error) {
	var p ClockProbe
	r := codec.NewReader(m.Body)
	switch {
	case m.Type == MessageTypeClockRequest && len(m.Body) == 8:
		p.SentRequest, _ = r.Int64()
	case m.Type == MessageTypeClockResponse && len(m.Body) == 24:
		p.SentRequest, _ = r.Int64()
		p.ReceivedRequest, _ = r.Int64()
		p.SentResponse, _ = r.Int64()
	default:
		return p, errors.Wrapf(ErrInvalidMessage, "%s with %d byte body as clock probe", m.Type, len(m.Body))
	}
	return p, nil
}
