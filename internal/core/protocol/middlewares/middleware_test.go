package middlewares

import (
	"errors"
	"testing"
	"time"

	"github.com/armon/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

type recorder struct {
	name     string
	priority uint16
	events   *[]string
	reject   error
}

func (r *recorder) Name() string     { return r.name }
func (r *recorder) Priority() uint16 { return r.priority }
func (r *recorder) BeforeHandle(protocol.PeerID, protocol.Message) error {
	*r.events = append(*r.events, "before:"+r.name)
	return r.reject
}
func (r *recorder) AfterHandle(protocol.PeerID, protocol.Message, time.Duration, error) {
	*r.events = append(*r.events, "after:"+r.name)
}
func (r *recorder) OnConnect(protocol.PeerID)            { *r.events = append(*r.events, "connect:"+r.name) }
func (r *recorder) OnDisconnect(protocol.PeerID, string) {}

func TestChain(t *testing.T) {
	rpc := protocol.Message{Type: protocol.MessageTypeRpc}

	t.Run("PriorityOrder", func(t *testing.T) {
		var events []string
		chain := NewChain(
			&recorder{name: "low", priority: 1, events: &events},
			&recorder{name: "high", priority: 9, events: &events},
		)
		require.NoError(t, chain.Handle("p", rpc, func() error {
			events = append(events, "handle")
			return nil
		}))
		assert.Equal(t, []string{"before:high", "before:low", "handle", "after:low", "after:high"}, events)

		events = nil
		chain.Connect("p")
		assert.Equal(t, []string{"connect:high", "connect:low"}, events)
	})

	t.Run("RejectStops", func(t *testing.T) {
		var events []string
		stop := errors.New("stop")
		chain := NewChain(
			&recorder{name: "a", priority: 2, events: &events, reject: stop},
			&recorder{name: "b", priority: 1, events: &events},
		)
		called := false
		err := chain.Handle("p", rpc, func() error { called = true; return nil })
		require.ErrorIs(t, err, stop)
		assert.False(t, called)
		assert.Equal(t, []string{"before:a"}, events)
	})

	t.Run("HandlerError", func(t *testing.T) {
		boom := errors.New("boom")
		chain := NewChain(NewLoggingMiddleware(log.Nop()), NewMetricsMiddleware(nil))
		assert.ErrorIs(t, chain.Handle("p", rpc, func() error { return boom }), boom)
	})
}

func TestRateLimit(t *testing.T) {
	now := time.Unix(100, 0)
	m := NewRateLimitMiddleware(2, time.Second, log.Nop())
	m.now = func() time.Time { return now }

	rpc := protocol.Message{Type: protocol.MessageTypeRpc}
	ack := protocol.Message{Type: protocol.MessageTypeAck}

	m.OnConnect("a")
	require.NoError(t, m.BeforeHandle("a", rpc))
	require.NoError(t, m.BeforeHandle("a", rpc))
	assert.ErrorIs(t, m.BeforeHandle("a", rpc), ErrRateLimited)

	t.Run("AcksUnlimited", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			assert.NoError(t, m.BeforeHandle("a", ack))
		}
	})

	t.Run("PerPeer", func(t *testing.T) {
		assert.NoError(t, m.BeforeHandle("b", rpc))
	})

	t.Run("WindowResets", func(t *testing.T) {
		now = now.Add(1500 * time.Millisecond)
		assert.NoError(t, m.BeforeHandle("a", rpc))
	})

	t.Run("Disabled", func(t *testing.T) {
		off := NewRateLimitMiddleware(0, time.Second, log.Nop())
		for i := 0; i < 10; i++ {
			assert.NoError(t, off.BeforeHandle("a", rpc))
		}
	})
}

func TestMetricsMiddleware(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	m, err := metrics.New(metrics.DefaultConfig("test"), sink)
	require.NoError(t, err)
	m.EnableHostname = false

	mw := NewMetricsMiddleware(m)
	mw.OnConnect("p")
	mw.AfterHandle("p", protocol.Message{Type: protocol.MessageTypeAck}, time.Millisecond, nil)

	data := sink.Data()
	require.NotEmpty(t, data)
	var names []string
	for name := range data[0].Counters {
		names = append(names, name)
	}
	assert.Contains(t, names, "test.protocol.connects")
	assert.Contains(t, names, "test.protocol.inbound.messages;type=ack")
}
