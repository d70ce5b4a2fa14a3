package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/observability/log"
)

func TestBasePeer(t *testing.T) {
	t.Run("DeliverReceive", func(t *testing.T) {
		p := NewBasePeer(TransportWS, nil, 2, log.Nop())
		require.NotEmpty(t, p.ID())
		require.NoError(t, p.Deliver([]byte{1}, true))

		got, err := p.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, got)

		_, received := p.Stats()
		assert.Equal(t, uint64(1), received)
	})

	t.Run("QueueFull", func(t *testing.T) {
		p := NewBasePeer(TransportWS, nil, 1, log.Nop())
		require.NoError(t, p.Deliver([]byte{1}, false))
		assert.NoError(t, p.Deliver([]byte{2}, false), "unreliable overflow drops")
		assert.ErrorIs(t, p.Deliver([]byte{3}, true), ErrMessageQueueFull)
	})

	t.Run("ReceiveAfterClose", func(t *testing.T) {
		p := NewBasePeer(TransportQUIC, nil, 4, log.Nop())
		require.NoError(t, p.Deliver([]byte{1}, true))
		assert.True(t, p.MarkClosed())
		assert.False(t, p.MarkClosed())
		assert.True(t, p.IsClosed())

		got, err := p.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, got)

		_, err = p.Receive(context.Background())
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.ErrorIs(t, p.Deliver([]byte{2}, true), ErrConnectionClosed)
	})

	t.Run("ReceiveContext", func(t *testing.T) {
		p := NewBasePeer(TransportQUIC, nil, 1, log.Nop())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := p.Receive(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
