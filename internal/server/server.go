// Package server runs an authoritative world and replicates it to every
// connected peer.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replication/internal/config"
	"github.com/zeusync/replication/internal/core/clock"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/events/bus"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/protocol/middlewares"
	"github.com/zeusync/replication/internal/core/protocol/transport"
	"github.com/zeusync/replication/internal/core/replication"
	"github.com/zeusync/replication/internal/core/world"
)

// Events published on Server.Events. Their data is a PeerEvent.
const (
	EventPeerConnected    = "peer.connected"
	EventPeerDisconnected = "peer.disconnected"
)

type PeerEvent struct {
	ID         protocol.PeerID
	RemoteAddr string
	Reason     string // disconnects only
}

// Server owns the tick loop of one authoritative world, the transport
// listener and one reader goroutine per peer. Inbound acks and RPC batches
// are handed to the world goroutine through Submit.
type Server struct {
	config  config.Config
	world   *world.World
	manager *replication.Manager
	chain   *middlewares.Chain
	events  *bus.Bus
	logger  log.Log

	mu       sync.Mutex
	listener protocol.Listener

	peerCount int64 // atomic
	running   int32 // atomic bool
	closed    int32 // atomic bool
}

// NewServer wires a replication manager onto w. w must be an authoritative
// world that nothing else ticks.
func NewServer(cfg config.Config, w *world.World, logger log.Log) *Server {
	logger = logger.With(log.String("component", "server"))
	s := &Server{
		config:  cfg,
		world:   w,
		manager: replication.NewManager(w, cfg.Replication, logger),
		events:  bus.New(),
		logger:  logger,
	}
	s.chain = middlewares.NewChain(
		middlewares.NewLoggingMiddleware(logger),
		middlewares.NewRateLimitMiddleware(cfg.RateLimit.Messages, cfg.RateLimit.Window, logger),
		middlewares.NewMetricsMiddleware(nil),
	)

	s.logger.Info("Server created",
		log.String("transport", string(cfg.Protocol.Transport)),
		log.String("listen_addr", cfg.Protocol.Addr),
		log.Int("max_peers", cfg.MaxPeers))
	return s
}

func (s *Server) World() *world.World { return s.world }

func (s *Server) Manager() *replication.Manager { return s.manager }

// Events publishes peer lifecycle events from the server's goroutines.
func (s *Server) Events() *bus.Bus { return s.events }

func (s *Server) publish(typ string, peer protocol.Peer, reason string) {
	ev := PeerEvent{ID: peer.ID(), RemoteAddr: addrString(peer.RemoteAddr()), Reason: reason}
	if err := s.events.Publish(bus.NewEvent(typ, "server", ev)); err != nil {
		s.logger.Warn("Event handler failed", log.String("event", typ), log.Error(err))
	}
}

// Peers returns the number of connected peers.
func (s *Server) Peers() int {
	return int(atomic.LoadInt64(&s.peerCount))
}

// Listen binds the configured address. Run calls it when it was not called
// before.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}
	ln, err := transport.Listen(s.config.Protocol, s.logger)
	if err != nil {
		s.logger.Error("Failed to create listener", log.Error(err))
		return err
	}
	s.listener = ln
	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run ticks the world and serves peers until ctx ends or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}
	defer atomic.StoreInt32(&s.running, 0)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.world.Run(ctx, s.config.TickRate)
	})
	g.Go(func() error {
		return s.acceptPeers(ctx, g)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})

	s.logger.Info("Server started", log.Duration("tick_rate", s.config.TickRate))
	err := g.Wait()
	s.logger.Info("Server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops accepting peers. Connected peers are closed by their readers
// once Run's context ends.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) acceptPeers(ctx context.Context, g *errgroup.Group) error {
	s.logger.Debug("Peer acceptor started")
	defer s.logger.Debug("Peer acceptor stopped")

	for {
		peer, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.logger.Warn("Failed to accept peer", log.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if s.Peers() >= s.config.MaxPeers {
			s.logger.Warn("Rejecting peer",
				log.String("remote_addr", addrString(peer.RemoteAddr())),
				log.Error(ErrMaxPeersReached))
			_ = peer.Close()
			continue
		}

		atomic.AddInt64(&s.peerCount, 1)
		s.chain.Connect(peer.ID())
		s.manager.AddPeer(peer)
		s.logger.Info("Peer connected",
			log.String("peer_id", string(peer.ID())),
			log.String("remote_addr", addrString(peer.RemoteAddr())),
			log.Int("total_peers", s.Peers()))
		s.publish(EventPeerConnected, peer, "")

		g.Go(func() error {
			s.servePeer(ctx, peer)
			return nil
		})
	}
}

func (s *Server) servePeer(ctx context.Context, peer protocol.Peer) {
	reason := "closed"
	defer func() {
		_ = peer.Close()
		s.manager.RemovePeer(peer.ID(), reason)
		s.chain.Disconnect(peer.ID(), reason)
		atomic.AddInt64(&s.peerCount, -1)
		s.logger.Info("Peer disconnected",
			log.String("peer_id", string(peer.ID())),
			log.String("reason", reason),
			log.Int("total_peers", s.Peers()))
		s.publish(EventPeerDisconnected, peer, reason)
	}()

	for {
		raw, err := peer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				reason = "server stopping"
			}
			return
		}
		received := time.Now()

		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			s.logger.Warn("Dropping malformed message",
				log.String("peer_id", string(peer.ID())), log.Error(err))
			continue
		}

		err = s.chain.Handle(peer.ID(), msg, func() error {
			return s.handle(peer, msg, received)
		})
		if protocol.IsFatal(err) {
			reason = err.Error()
			return
		}
	}
}

func (s *Server) handle(peer protocol.Peer, msg protocol.Message, received time.Time) error {
	switch msg.Type {
	case protocol.MessageTypeAck:
		tick, err := msg.Ack()
		if err != nil {
			return err
		}
		s.manager.Acknowledge(peer.ID(), tick)
		return nil

	case protocol.MessageTypeClockRequest:
		probe, err := msg.ClockProbe()
		if err != nil {
			return err
		}
		probe.ReceivedRequest = clock.ToTicks(received)
		probe.SentResponse = clock.ToTicks(time.Now())
		return peer.SendUnreliable(protocol.EncodeClockResponse(probe))

	case protocol.MessageTypeRpc:
		snaps, err := replication.DecodeMessage(msg, s.world.Registry())
		if err != nil {
			return errors.Wrap(protocol.ErrProtocolViolation, err.Error())
		}
		return s.submitRPC(peer.ID(), snaps)

	default:
		return errors.Wrapf(protocol.ErrProtocolViolation, "%s: %s", ErrUnexpectedMessage, msg.Type)
	}
}

// submitRPC validates a client batch on the reader goroutine and runs it on
// the world goroutine.
func (s *Server) submitRPC(id protocol.PeerID, snaps []command.Snapshot) error {
	for _, snap := range snaps {
		for _, cmd := range snap.Commands {
			if cmd.Kind != command.KindServerRpc {
				return errors.Wrapf(protocol.ErrProtocolViolation, "%s: %s", ErrNotServerRPC, cmd.Kind)
			}
		}
	}
	s.world.Submit(func(w *world.World) {
		for i := range snaps {
			if err := w.ApplySnapshot(&snaps[i]); err != nil {
				s.logger.Warn("Rejected client rpc",
					log.String("peer_id", string(id)), log.Error(err))
			}
		}
	})
	return nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
