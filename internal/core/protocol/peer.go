package protocol

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/armon/go-metrics"

	"github.com/zeusync/replication/internal/core/observability/log"
)

// BasePeer carries the transport-independent half of a Peer: identity, the
// inbound queue and the close signal. Adapters embed it and feed Deliver from
// their read loops.
type BasePeer struct {
	id        PeerID
	transport TransportType
	remote    net.Addr
	logger    log.Log

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closed    int32 // atomic bool

	bytesSent     uint64 // atomic
	bytesReceived uint64 // atomic
}

func NewBasePeer(transport TransportType, remote net.Addr, queueSize int, logger log.Log) *BasePeer {
	if logger == nil {
		logger = log.Provide()
	}
	id := GeneratePeerID()
	return &BasePeer{
		id:        id,
		transport: transport,
		remote:    remote,
		logger: logger.With(
			log.String("peer_id", string(id)),
			log.String("transport", string(transport)),
		),
		inbound: make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
}

func (p *BasePeer) ID() PeerID { return p.id }

func (p *BasePeer) RemoteAddr() net.Addr { return p.remote }

func (p *BasePeer) Transport() TransportType { return p.transport }

func (p *BasePeer) Logger() log.Log { return p.logger }

func (p *BasePeer) Done() <-chan struct{} { return p.done }

func (p *BasePeer) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// Receive blocks until a message arrives, ctx ends or the peer closes.
func (p *BasePeer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		// drain what arrived before the close
		select {
		case msg := <-p.inbound:
			return msg, nil
		default:
			return nil, ErrConnectionClosed
		}
	}
}

// Deliver hands an inbound message to Receive. When the queue is full the
// message is dropped, which unreliable traffic tolerates; reliable traffic
// reports the overflow so the adapter can close the peer.
func (p *BasePeer) Deliver(msg []byte, reliable bool) error {
	atomic.AddUint64(&p.bytesReceived, uint64(len(msg)))
	metrics.IncrCounterWithLabels([]string{"protocol", "bytes_received"}, float32(len(msg)),
		[]metrics.Label{{Name: "transport", Value: string(p.transport)}})

	select {
	case p.inbound <- msg:
		return nil
	case <-p.done:
		return ErrConnectionClosed
	default:
		if reliable {
			return ErrMessageQueueFull
		}
		p.logger.Warn("Inbound queue full, dropping message", log.Int("size", len(msg)))
		return nil
	}
}

// CountSent records outbound bytes.
func (p *BasePeer) CountSent(n int) {
	atomic.AddUint64(&p.bytesSent, uint64(n))
	metrics.IncrCounterWithLabels([]string{"protocol", "bytes_sent"}, float32(n),
		[]metrics.Label{{Name: "transport", Value: string(p.transport)}})
}

// Stats returns the bytes sent and received so far.
func (p *BasePeer) Stats() (sent, received uint64) {
	return atomic.LoadUint64(&p.bytesSent), atomic.LoadUint64(&p.bytesReceived)
}

// MarkClosed closes Done once. It reports whether this call did it.
func (p *BasePeer) MarkClosed() bool {
	first := false
	p.closeOnce.Do(func() {
		atomic.StoreInt32(&p.closed, 1)
		close(p.done)
		first = true
	})
	return first
}
