// Package client provides the replica side of a replication session: it
// keeps a local world in step with a server and forwards server RPCs.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replication/internal/core/clock"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/events/bus"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/protocol/transport"
	"github.com/zeusync/replication/internal/core/replication"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
)

// Config holds configuration for the client
type Config struct {
	Protocol protocol.Config `json:"protocol" yaml:"protocol"`
	// TickRate drives the local world; it does not need to match the
	// server's.
	TickRate time.Duration `json:"tick_rate" yaml:"tick_rate"`
	Clock    clock.Config  `json:"clock" yaml:"clock"`
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		Protocol: protocol.DefaultConfig(),
		TickRate: time.Second / 60,
		Clock:    clock.DefaultConfig(),
	}
}

// EventType represents different types of client events
type EventType string

const (
	EventTypeBootstrapped EventType = "bootstrapped"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Tick      uint32
	Error     error
}

// EventHandler is called from the goroutine the event happened on.
type EventHandler func(event Event)

// Client mirrors a server's world into a local replica world.
type Client struct {
	config Config
	world  *world.World
	clock  *clock.Synchronizer
	uplink *command.Subscription
	logger log.Log

	mu   sync.Mutex
	peer protocol.Peer

	// world goroutine only
	lastApplied  uint32
	bootstrapped bool

	applied int64 // atomic, last applied tick
	ready   int32 // atomic bool

	events *bus.Bus

	closed int32 // atomic bool
}

// NewClient creates a client whose replica world uses reg. reg must hold
// the same component types as the server's registry.
func NewClient(reg *registry.Registry, cfg Config, logger log.Log) *Client {
	def := DefaultClientConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.Clock.MinSyncDelay <= 0 {
		cfg.Clock.MinSyncDelay = def.Clock.MinSyncDelay
	}
	logger = logger.With(log.String("component", "client"))
	w := world.New(reg, logger, world.WithRole(world.Replica))
	c := &Client{
		config: cfg,
		world:  w,
		clock:  clock.NewSynchronizer(cfg.Clock),
		uplink: w.Log().Subscribe(),
		events: bus.New(),
		logger: logger,
	}
	w.AddSystem(c)
	return c
}

// World returns the replica world. Touch it only through Submit or Do.
func (c *Client) World() *world.World { return c.world }

// Clock returns the synchronizer estimating the server's clock.
func (c *Client) Clock() *clock.Synchronizer { return c.clock }

// ServerTime estimates the server's clock now.
func (c *Client) ServerTime() time.Time {
	return c.clock.RemoteTime(time.Now())
}

// Submit queues fn on the replica world's goroutine.
func (c *Client) Submit(fn func(*world.World)) {
	c.world.Submit(fn)
}

// Do runs fn on the replica world's goroutine and waits for it.
func (c *Client) Do(ctx context.Context, fn func(*world.World)) error {
	return c.world.Do(ctx, fn)
}

// Bootstrapped reports whether the full state arrived.
func (c *Client) Bootstrapped() bool {
	return atomic.LoadInt32(&c.ready) == 1
}

// LastApplied returns the newest server tick applied to the replica.
func (c *Client) LastApplied() uint32 {
	return uint32(atomic.LoadInt64(&c.applied))
}

// Events is the bus client events are published on. Event data is an Event.
func (c *Client) Events() *bus.Bus { return c.events }

// OnEvent registers an event handler for every event type
func (c *Client) OnEvent(handler EventHandler) *bus.Subscription {
	return c.events.Subscribe(bus.Any, func(e bus.Event) error {
		handler(e.Data.(Event))
		return nil
	})
}

func (c *Client) emit(e Event) {
	e.Timestamp = time.Now()
	_ = c.events.Publish(bus.Event{Type: string(e.Type), Source: "client", Timestamp: e.Timestamp, Data: e})
}

// Connect dials the configured server.
func (c *Client) Connect(ctx context.Context) error {
	peer, err := transport.Dial(ctx, c.config.Protocol, c.logger)
	if err != nil {
		return err
	}
	if err := c.ConnectPeer(peer); err != nil {
		_ = peer.Close()
		return err
	}
	return nil
}

// ConnectPeer uses an already established peer.
func (c *Client) ConnectPeer(peer protocol.Peer) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer != nil {
		return ErrAlreadyConnected
	}
	c.peer = peer
	c.logger.Info("Connected", log.String("transport", string(peer.Transport())))
	return nil
}

func (c *Client) currentPeer() protocol.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Run ticks the replica world, applies what the server sends and probes the
// server's clock until ctx ends or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	peer := c.currentPeer()
	if peer == nil {
		return ErrNotConnected
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.world.Run(ctx, c.config.TickRate)
	})
	g.Go(func() error {
		return c.receive(ctx, peer)
	})
	g.Go(func() error {
		return c.probeClock(ctx, peer)
	})

	err := g.Wait()
	_ = c.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes the connection. A closed client cannot reconnect.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.uplink.Close()
	if peer := c.currentPeer(); peer != nil {
		c.emit(Event{Type: EventTypeDisconnected, Tick: c.LastApplied()})
		return peer.Close()
	}
	return nil
}

func (c *Client) receive(ctx context.Context, peer protocol.Peer) error {
	for {
		raw, err := peer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(ErrDisconnected, err.Error())
		}
		received := time.Now()

		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			c.logger.Warn("Dropping malformed message", log.Error(err))
			continue
		}
		if err := c.handle(peer, msg, received); err != nil {
			c.logger.Warn("Failed to handle message",
				log.String("message_type", msg.Type.String()), log.Error(err))
			c.emit(Event{Type: EventTypeError, Error: err})
		}
	}
}

func (c *Client) handle(peer protocol.Peer, msg protocol.Message, received time.Time) error {
	switch msg.Type {
	case protocol.MessageTypeBootstrap:
		snaps, err := replication.DecodeMessage(msg, c.world.Registry())
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return errors.Wrap(protocol.ErrInvalidMessage, "empty bootstrap")
		}
		c.world.Submit(func(w *world.World) {
			c.applyBootstrap(w, snaps)
		})
		return nil

	case protocol.MessageTypeSnapshots:
		snaps, err := replication.DecodeMessage(msg, c.world.Registry())
		if err != nil {
			// corrupt or lost in part; the backlog comes again next tick
			metrics.IncrCounter([]string{"client", "corrupt_snapshots"}, 1)
			return err
		}
		c.world.Submit(func(w *world.World) {
			c.applyDeltas(w, peer, snaps)
		})
		return nil

	case protocol.MessageTypeClockResponse:
		probe, err := msg.ClockProbe()
		if err != nil {
			return err
		}
		accepted := c.clock.RecordSyncResult(
			clock.FromTicks(probe.SentRequest),
			clock.FromTicks(probe.ReceivedRequest),
			clock.FromTicks(probe.SentResponse),
			received,
		)
		offset := c.clock.AvgOffset()
		metrics.SetGauge([]string{"client", "clock_offset_ms"}, float32(offset)/float32(time.Millisecond))
		c.logger.Debug("Clock sample",
			log.Bool("accepted", accepted),
			log.Duration("offset", offset),
			log.Duration("round_trip", c.clock.RoundTripMean()))
		return nil

	default:
		return errors.Wrapf(protocol.ErrUnknownMessage, "%s from server", msg.Type)
	}
}

// applyBootstrap replaces the replica's state. It is applied whatever the
// replica held before.
func (c *Client) applyBootstrap(w *world.World, snaps []command.Snapshot) {
	w.Reset()
	for i := range snaps {
		if err := w.ApplySnapshot(&snaps[i]); err != nil {
			c.desync(errors.Wrap(err, "bootstrap"))
			return
		}
	}
	c.setApplied(snaps[0].Tick)
	c.bootstrapped = true
	atomic.StoreInt32(&c.ready, 1)

	c.logger.Info("Bootstrapped", log.Uint32("tick", c.lastApplied), log.Int("entities", w.Len()))
	c.emit(Event{Type: EventTypeBootstrapped, Tick: c.lastApplied})
}

// applyDeltas applies every snapshot newer than the last applied one, in
// order, and acknowledges the newest. Re-sent snapshots are skipped.
func (c *Client) applyDeltas(w *world.World, peer protocol.Peer, snaps []command.Snapshot) {
	if !c.bootstrapped {
		return
	}
	for i := range snaps {
		if snaps[i].Tick <= c.lastApplied {
			continue
		}
		if err := w.ApplySnapshot(&snaps[i]); err != nil {
			c.desync(err)
			return
		}
		c.setApplied(snaps[i].Tick)
	}
	if err := peer.SendUnreliable(protocol.EncodeAck(c.lastApplied)); err != nil {
		c.logger.Debug("Failed to send ack", log.Error(err))
	}
}

func (c *Client) setApplied(tick uint32) {
	c.lastApplied = tick
	atomic.StoreInt64(&c.applied, int64(tick))
}

func (c *Client) desync(err error) {
	err = errors.Wrap(ErrDesync, err.Error())
	c.logger.Error("Replica diverged, disconnecting", log.Error(err))
	c.emit(Event{Type: EventTypeError, Error: err, Tick: c.lastApplied})
	_ = c.Close()
}

func (c *Client) probeClock(ctx context.Context, peer protocol.Peer) error {
	var last time.Time
	for {
		due := c.clock.NextSyncTime()
		if earliest := last.Add(c.config.Clock.MinSyncDelay); due.Before(earliest) {
			due = earliest
		}
		timer := time.NewTimer(time.Until(due))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		last = time.Now()
		if err := peer.SendUnreliable(protocol.EncodeClockRequest(clock.ToTicks(last))); err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) {
				return nil
			}
			c.logger.Debug("Failed to send clock probe", log.Error(err))
		}
	}
}

func (c *Client) Name() string { return "uplink" }

// LateUpdate forwards the tick's server RPC calls as one reliable batch.
func (c *Client) LateUpdate(f *world.Frame) {
	entries := c.uplink.Drain()
	if len(entries) == 0 {
		return
	}
	rpcs := make([]command.Command, 0, len(entries))
	for _, e := range entries {
		if e.Command.Kind != command.KindServerRpc {
			c.logger.Warn("Local mutation is not replicated", log.String("command", e.Command.String()))
			continue
		}
		rpcs = append(rpcs, e.Command)
	}
	if len(rpcs) == 0 {
		return
	}

	peer := c.currentPeer()
	if peer == nil {
		c.logger.Warn("Dropping server rpcs, not connected", log.Int("count", len(rpcs)))
		return
	}
	msg, err := replication.EncodeMessage(protocol.MessageTypeRpc, command.Chunk(f.Tick, f.Time, rpcs), f.World.Registry())
	if err != nil {
		c.emit(Event{Type: EventTypeError, Error: err})
		return
	}
	if err := peer.SendReliable(msg, nil); err != nil {
		c.logger.Warn("Failed to send server rpcs", log.Error(err))
		c.emit(Event{Type: EventTypeError, Error: err})
		return
	}
	metrics.IncrCounter([]string{"client", "rpcs_sent"}, float32(len(rpcs)))
}
