package replication

import (
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/world"
)

// Phase is a channel's delivery state.
type Phase uint8

const (
	// PhaseBootstrapping holds deltas back until the full state was sent.
	PhaseBootstrapping Phase = iota
	// PhaseDelivering re-sends the un-acked backlog every tick.
	PhaseDelivering
)

func (p Phase) String() string {
	if p == PhaseDelivering {
		return "delivering"
	}
	return "bootstrapping"
}

// Sender is the transport half a channel writes to. protocol.Peer satisfies
// it.
type Sender interface {
	SendUnreliable(p []byte) error
	SendReliable(p []byte, done func(error)) error
}

// Channel replicates one world to one peer. It is owned by the world's
// goroutine; none of its methods are safe for concurrent use.
type Channel struct {
	peer      Sender
	assembler *Assembler
	sub       *command.Subscription
	phase     Phase
	logger    log.Log
}

func NewChannel(peer Sender, maxBacklog int, logger log.Log) *Channel {
	return &Channel{
		peer:      peer,
		assembler: NewAssembler(maxBacklog),
		logger:    logger,
	}
}

func (c *Channel) Phase() Phase { return c.phase }

// Bootstrap subscribes the channel to w's command log and describes the
// world's current state as full snapshots. They are stamped with w's settled
// tick, so commands the current tick still emits after the subscription
// arrive as a newer delta and none is contained in both. The manager runs it
// in late update, where the settled tick is the current one.
func (c *Channel) Bootstrap(w *world.World) ([]command.Snapshot, error) {
	if c.sub != nil {
		return nil, ErrBootstrapBuilt
	}
	c.sub = w.Log().Subscribe()
	state := w.State()
	tick := w.SettledTick()
	c.logger.Debug("Bootstrap built",
		log.Uint32("tick", tick),
		log.Int("entities", w.Len()),
		log.Int("commands", len(state)))
	return command.Chunk(tick, w.Time(), state), nil
}

// SendBootstrap builds the bootstrap and sends it on the reliable
// sub-channel. done reports the transport's completion; the caller hands it
// back to MarkBootstrapSent on the world goroutine.
func (c *Channel) SendBootstrap(w *world.World, done func(error)) error {
	snaps, err := c.Bootstrap(w)
	if err != nil {
		return err
	}
	msg, err := EncodeMessage(protocol.MessageTypeBootstrap, snaps, w.Registry())
	if err != nil {
		return errors.Wrap(err, "encode bootstrap")
	}
	return c.peer.SendReliable(msg, done)
}

// MarkBootstrapSent moves the channel to delivering. Deltas deferred while
// bootstrapping go out with the next flush.
func (c *Channel) MarkBootstrapSent() {
	c.phase = PhaseDelivering
}

// Collect routes every pending log entry into the assembler.
func (c *Channel) Collect() error {
	if c.phase != PhaseDelivering {
		return ErrBootstrapPending
	}
	for _, e := range c.sub.Drain() {
		if err := c.assembler.Route(e); err != nil {
			return err
		}
	}
	return nil
}

// Flush seals the tick's snapshot and sends the whole un-acked backlog,
// oldest first, on the unreliable sub-channel. Nothing is sent while the
// backlog is empty. It returns the number of bytes handed to the transport.
func (c *Channel) Flush(methods codec.MethodResolver) (int, error) {
	if err := c.Collect(); err != nil {
		return 0, err
	}
	if err := c.assembler.Seal(); err != nil {
		return 0, err
	}
	if c.assembler.Len() == 0 {
		return 0, nil
	}
	msg, err := EncodeMessage(protocol.MessageTypeSnapshots, c.assembler.Backlog(), methods)
	if err != nil {
		return 0, errors.Wrap(err, "encode backlog")
	}
	if err := c.peer.SendUnreliable(msg); err != nil {
		return 0, err
	}
	return len(msg), nil
}

// Acknowledge drops every backlog snapshot up to and including tick.
func (c *Channel) Acknowledge(tick uint32) int {
	return c.assembler.Acknowledge(tick)
}

// Backlog returns the un-acked snapshots, oldest first.
func (c *Channel) Backlog() []command.Snapshot {
	return c.assembler.Backlog()
}

// Len returns the backlog depth.
func (c *Channel) Len() int {
	return c.assembler.Len()
}

// Pending returns how many log entries wait to be collected.
func (c *Channel) Pending() int {
	if c.sub == nil {
		return 0
	}
	return c.sub.Pending()
}

// Close detaches the channel from the command log.
func (c *Channel) Close() {
	if c.sub != nil {
		c.sub.Close()
	}
}
