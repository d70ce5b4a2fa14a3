package replication

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
)

type health struct {
	HP int32
}

type velocity struct {
	X, Y float32
}

func newRegistry() *registry.Registry {
	reg := registry.New()
	registry.MustRegister[health](reg, registry.WithName("Health"),
		registry.WithMethod("Heal", func(target models.Component, args []any) error {
			target.(*health).HP += args[0].(int32)
			return nil
		}, codec.ValueParam(codec.Int32)),
	)
	registry.MustRegister[velocity](reg, registry.WithName("Velocity"))
	return reg
}

func newWorld(role world.Role) *world.World {
	return world.New(newRegistry(), log.Nop(), world.WithRole(role))
}

// fakePeer records sends. Reliable completions are held until complete is
// called unless autoComplete is set.
type fakePeer struct {
	id protocol.PeerID

	mu           sync.Mutex
	unreliable   [][]byte
	reliable     [][]byte
	held         []func(error)
	autoComplete bool
	sendErr      error

	done      chan struct{}
	closeOnce sync.Once
}

var _ protocol.Peer = (*fakePeer)(nil)

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: protocol.PeerID(id), done: make(chan struct{})}
}

func (p *fakePeer) ID() protocol.PeerID               { return p.id }
func (p *fakePeer) RemoteAddr() net.Addr              { return nil }
func (p *fakePeer) Transport() protocol.TransportType { return protocol.TransportWS }
func (p *fakePeer) Done() <-chan struct{}             { return p.done }

func (p *fakePeer) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *fakePeer) SendUnreliable(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.unreliable = append(p.unreliable, b)
	return nil
}

func (p *fakePeer) SendReliable(b []byte, done func(error)) error {
	p.mu.Lock()
	if p.sendErr != nil {
		p.mu.Unlock()
		return p.sendErr
	}
	p.reliable = append(p.reliable, b)
	auto := p.autoComplete
	if !auto && done != nil {
		p.held = append(p.held, done)
	}
	p.mu.Unlock()
	if auto && done != nil {
		done(nil)
	}
	return nil
}

// complete reports err to every held reliable send.
func (p *fakePeer) complete(err error) {
	p.mu.Lock()
	held := p.held
	p.held = nil
	p.mu.Unlock()
	for _, done := range held {
		done(err)
	}
}

// takeUnreliable returns and clears the recorded unreliable sends.
func (p *fakePeer) takeUnreliable() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.unreliable
	p.unreliable = nil
	return out
}

func (p *fakePeer) reliableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reliable)
}

func (p *fakePeer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *fakePeer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func decode(t *testing.T, raw []byte, want protocol.MessageType, methods codec.MethodResolver) []command.Snapshot {
	t.Helper()
	msg, err := protocol.ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, want, msg.Type)
	snaps, err := DecodeMessage(msg, methods)
	require.NoError(t, err)
	return snaps
}
