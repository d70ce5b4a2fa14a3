package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/config"
	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/events/bus"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/protocol/transport"
	"github.com/zeusync/replication/internal/core/replication"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
	"github.com/zeusync/replication/sdk/go/client"
)

type health struct {
	HP int32
}

func newRegistry() *registry.Registry {
	reg := registry.New()
	registry.MustRegister[health](reg, registry.WithName("Health"),
		registry.WithMethod("Heal", func(target models.Component, args []any) error {
			target.(*health).HP += args[0].(int32)
			return nil
		}, codec.ValueParam(codec.Int32)),
	)
	return reg
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TickRate = 10 * time.Millisecond
	cfg.Protocol.Transport = protocol.TransportWS
	cfg.Protocol.Addr = "127.0.0.1:0"
	return cfg
}

// startServer runs a server until the test ends.
func startServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	srv := NewServer(cfg, world.New(newRegistry(), log.Nop()), log.Nop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dialConfig(srv *Server) protocol.Config {
	cfg := testConfig().Protocol
	cfg.Addr = srv.Addr().String()
	return cfg
}

func hpOf(ctx context.Context, t *testing.T, w interface {
	Do(context.Context, func(*world.World)) error
}, id models.EntityID) int32 {
	hp := int32(-1)
	err := w.Do(ctx, func(w *world.World) {
		if h, ok := world.Get[health](w, id); ok {
			hp = h.HP
		}
	})
	assert.NoError(t, err)
	return hp
}

func TestSession(t *testing.T) {
	srv := startServer(t, testConfig())

	lifecycle := make(chan PeerEvent, 4)
	srv.Events().Subscribe(bus.Any, func(e bus.Event) error {
		ev := e.Data.(PeerEvent)
		if e.Type == EventPeerDisconnected {
			ev.Reason = EventPeerDisconnected
		}
		lifecycle <- ev
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ccfg := client.DefaultClientConfig()
	ccfg.Protocol = dialConfig(srv)
	ccfg.TickRate = 10 * time.Millisecond
	c := client.NewClient(newRegistry(), ccfg, log.Nop())
	require.NoError(t, c.Connect(ctx))

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	require.Eventually(t, c.Bootstrapped, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Peers())

	var id models.EntityID
	require.NoError(t, srv.World().Do(ctx, func(w *world.World) {
		var err error
		id, err = w.Spawn()
		assert.NoError(t, err)
		_, err = world.Add[health](w, id)
		assert.NoError(t, err)
		assert.NoError(t, world.ClientRPC[health](w, id, "Heal", int32(4)))
	}))

	t.Run("Replicates", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return hpOf(ctx, t, c, id) == 4
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("ServerRpc", func(t *testing.T) {
		require.NoError(t, c.Do(ctx, func(w *world.World) {
			assert.NoError(t, world.ServerRPC[health](w, id, "Heal", int32(2)))
		}))
		require.Eventually(t, func() bool {
			return hpOf(ctx, t, srv.World(), id) == 2
		}, 5*time.Second, 10*time.Millisecond)
		// client rpcs never ran on the server
		assert.Equal(t, int32(4), hpOf(ctx, t, c, id))
	})

	t.Run("ClockSync", func(t *testing.T) {
		require.Eventually(t, func() bool {
			_, offsets := c.Clock().Samples()
			return offsets > 0
		}, 5*time.Second, 10*time.Millisecond)
		// same host, same clock
		assert.Less(t, c.Clock().AvgOffset().Abs(), 50*time.Millisecond)
	})

	t.Run("BacklogPruned", func(t *testing.T) {
		require.Eventually(t, func() bool {
			pending := -1
			require.NoError(t, srv.World().Do(ctx, func(*world.World) {
				for _, ch := range channels(srv) {
					pending = ch.Len()
				}
			}))
			return pending == 0
		}, 5*time.Second, 10*time.Millisecond)
	})

	require.NoError(t, c.Close())
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	require.Eventually(t, func() bool { return srv.Peers() == 0 }, 5*time.Second, 10*time.Millisecond)

	connected := <-lifecycle
	assert.Empty(t, connected.Reason)
	assert.NotEmpty(t, connected.RemoteAddr)
	disconnected := <-lifecycle
	assert.Equal(t, connected.ID, disconnected.ID)
	assert.Equal(t, EventPeerDisconnected, disconnected.Reason)
}

// channels returns the replication channels of every connected peer. It must
// run on the world goroutine.
func channels(srv *Server) []*replication.Channel {
	var out []*replication.Channel
	for _, id := range srv.Manager().PeerIDs() {
		if ch, ok := srv.Manager().Channel(id); ok {
			out = append(out, ch)
		}
	}
	return out
}

// waitClosed reads p until it closes and returns the message types seen.
func waitClosed(t *testing.T, p protocol.Peer) []protocol.MessageType {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []protocol.MessageType
	for {
		raw, err := p.Receive(ctx)
		if err != nil {
			require.ErrorIs(t, err, protocol.ErrConnectionClosed)
			return seen
		}
		msg, err := protocol.ParseMessage(raw)
		require.NoError(t, err)
		seen = append(seen, msg.Type)
	}
}

func TestMaxPeers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeers = 1
	srv := startServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := transport.Dial(ctx, dialConfig(srv), log.Nop())
	require.NoError(t, err)
	defer first.Close()

	raw, err := first.Receive(ctx)
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeBootstrap, msg.Type)

	second, err := transport.Dial(ctx, dialConfig(srv), log.Nop())
	require.NoError(t, err)
	assert.Empty(t, waitClosed(t, second))
	assert.Equal(t, 1, srv.Peers())
}

func TestProtocolViolation(t *testing.T) {
	srv := startServer(t, testConfig())
	reg := newRegistry()

	tests := []struct {
		name string
		msg  func(t *testing.T) []byte
	}{
		{
			name: "ServerOnlyMessage",
			msg: func(*testing.T) []byte {
				return protocol.NewMessage(protocol.MessageTypeSnapshots, []byte{0, 0})
			},
		},
		{
			name: "ClientRpc",
			msg: func(t *testing.T) []byte {
				h, err := registry.TypeOf[health](reg)
				require.NoError(t, err)
				cmd := command.RPC(command.KindClientRpc, 1, h.Hash, registry.HashMethod(h.Name, "Heal"), int32(1))
				msg, err := replication.EncodeMessage(protocol.MessageTypeRpc, command.Chunk(1, 0, []command.Command{cmd}), reg)
				require.NoError(t, err)
				return msg
			},
		},
		{
			name: "CorruptRpc",
			msg: func(*testing.T) []byte {
				return protocol.NewMessage(protocol.MessageTypeRpc, []byte{1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			peer, err := transport.Dial(ctx, dialConfig(srv), log.Nop())
			require.NoError(t, err)
			defer peer.Close()

			require.NoError(t, peer.SendReliable(tt.msg(t), nil))
			waitClosed(t, peer)
		})
	}
}

func TestClosed(t *testing.T) {
	srv := NewServer(testConfig(), world.New(newRegistry(), log.Nop()), log.Nop())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Listen(), ErrServerClosed)
	assert.ErrorIs(t, srv.Run(context.Background()), ErrServerClosed)
	assert.Nil(t, srv.Addr())
}
