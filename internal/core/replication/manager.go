package replication

import (
	"maps"
	"slices"
	"sync/atomic"

	"github.com/armon/go-metrics"
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/world"
)

var _ world.LateUpdater = (*Manager)(nil)

// Config bounds per-peer replication state.
type Config struct {
	// MaxBacklog is how many un-acked snapshots a peer may accumulate before
	// it is dropped. Zero or less disables the bound.
	MaxBacklog int `json:"max_backlog" yaml:"max_backlog"`
}

func DefaultConfig() Config {
	return Config{MaxBacklog: 128}
}

type peerState struct {
	peer      protocol.Peer
	channel   *Channel
	bootstrap bool // bootstrap handed to the transport
}

// Manager owns one replication channel per connected peer of an
// authoritative world. It runs as a late-update system so every channel sees
// the tick's final state. AddPeer, RemovePeer and Acknowledge may be called
// from any goroutine; they take effect at the start of the world's next tick.
type Manager struct {
	world  *world.World
	config Config
	peers  map[protocol.PeerID]*peerState
	count  int64 // atomic
	logger log.Log
}

// NewManager creates a manager and registers it as a system of w.
func NewManager(w *world.World, cfg Config, logger log.Log) *Manager {
	m := &Manager{
		world:  w,
		config: cfg,
		peers:  make(map[protocol.PeerID]*peerState),
		logger: logger.With(log.String("component", "replication")),
	}
	w.AddSystem(m)
	return m
}

func (m *Manager) Name() string { return "replication" }

// Peers returns the number of attached peers.
func (m *Manager) Peers() int {
	return int(atomic.LoadInt64(&m.count))
}

// AddPeer attaches p. Its bootstrap is sent at the end of the next tick.
func (m *Manager) AddPeer(p protocol.Peer) {
	m.world.Submit(func(*world.World) {
		m.attach(p)
	})
}

// RemovePeer detaches the peer with id and closes it.
func (m *Manager) RemovePeer(id protocol.PeerID, reason string) {
	m.world.Submit(func(*world.World) {
		m.drop(id, errors.New(reason))
	})
}

// Acknowledge records that peer id applied every snapshot up to tick.
func (m *Manager) Acknowledge(id protocol.PeerID, tick uint32) {
	m.world.Submit(func(*world.World) {
		m.acknowledge(id, tick)
	})
}

// PeerIDs returns the attached peers in id order. World goroutine only.
func (m *Manager) PeerIDs() []protocol.PeerID {
	return slices.Sorted(maps.Keys(m.peers))
}

// Channel returns the channel of peer id. World goroutine only.
func (m *Manager) Channel(id protocol.PeerID) (*Channel, bool) {
	ps, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	return ps.channel, true
}

func (m *Manager) attach(p protocol.Peer) {
	if _, ok := m.peers[p.ID()]; ok {
		m.logger.Warn("Peer already attached", log.String("peer_id", string(p.ID())))
		return
	}
	logger := m.logger.With(log.String("peer_id", string(p.ID())))
	m.peers[p.ID()] = &peerState{
		peer:    p,
		channel: NewChannel(p, m.config.MaxBacklog, logger),
	}
	atomic.AddInt64(&m.count, 1)
	metrics.SetGauge([]string{"replication", "peers"}, float32(len(m.peers)))
	logger.Info("Peer attached", log.String("transport", string(p.Transport())))
}

func (m *Manager) drop(id protocol.PeerID, reason error) {
	ps, ok := m.peers[id]
	if !ok {
		return
	}
	delete(m.peers, id)
	atomic.AddInt64(&m.count, -1)
	ps.channel.Close()
	_ = ps.peer.Close()

	metrics.SetGauge([]string{"replication", "peers"}, float32(len(m.peers)))
	m.logger.Info("Peer dropped",
		log.String("peer_id", string(id)),
		log.Int("backlog", ps.channel.Len()),
		log.Error(reason))
}

func (m *Manager) acknowledge(id protocol.PeerID, tick uint32) {
	ps, ok := m.peers[id]
	if !ok {
		return
	}
	n := ps.channel.Acknowledge(tick)
	metrics.IncrCounter([]string{"replication", "acks"}, 1)
	metrics.IncrCounter([]string{"replication", "pruned"}, float32(n))
}

func (m *Manager) bootstrapDone(id protocol.PeerID, ch *Channel, err error) {
	ps, ok := m.peers[id]
	if !ok || ps.channel != ch {
		return
	}
	if err != nil {
		m.drop(id, errors.Wrap(err, "bootstrap send"))
		return
	}
	ch.MarkBootstrapSent()
	m.logger.Debug("Bootstrap delivered", log.String("peer_id", string(id)))
}

// LateUpdate bootstraps new peers and flushes every delivering channel.
func (m *Manager) LateUpdate(f *world.Frame) {
	for _, id := range m.PeerIDs() {
		ps := m.peers[id]

		select {
		case <-ps.peer.Done():
			m.drop(id, protocol.ErrConnectionClosed)
			continue
		default:
		}

		switch {
		case !ps.bootstrap:
			ps.bootstrap = true
			ch := ps.channel
			err := ch.SendBootstrap(f.World, func(err error) {
				m.world.Submit(func(*world.World) {
					m.bootstrapDone(id, ch, err)
				})
			})
			if err != nil {
				m.drop(id, err)
			}
		case ps.channel.Phase() == PhaseDelivering:
			m.flush(id, ps)
		}
	}
}

func (m *Manager) flush(id protocol.PeerID, ps *peerState) {
	n, err := ps.channel.Flush(m.world.Registry())
	switch {
	case err == nil:
	case protocol.IsTemporary(err):
		// the backlog goes out again next tick
		metrics.IncrCounter([]string{"replication", "send_skipped"}, 1)
		return
	default:
		m.drop(id, err)
		return
	}

	metrics.AddSample([]string{"replication", "backlog"}, float32(ps.channel.Len()))
	if n > 0 {
		metrics.IncrCounter([]string{"replication", "snapshots_sent"}, 1)
		metrics.IncrCounter([]string{"replication", "bytes_sent"}, float32(n))
	}
}
