package quic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

func TestLoopback(t *testing.T) {
	cfg := protocol.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.InsecureSkipVerify = true

	ln, err := Listen(cfg, log.Nop())
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dialCfg := cfg
	dialCfg.Addr = ln.Addr().String()
	client, err := Dial(ctx, dialCfg, log.Nop())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	server, err := ln.Accept(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.TransportQUIC, server.Transport())

	t.Run("Reliable", func(t *testing.T) {
		sent := make(chan error, 1)
		require.NoError(t, server.SendReliable([]byte("bootstrap"), func(err error) { sent <- err }))
		require.NoError(t, <-sent)

		got, err := client.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("bootstrap"), got)
	})

	t.Run("Uplink", func(t *testing.T) {
		require.NoError(t, client.SendReliable([]byte("rpc"), nil))
		got, err := server.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("rpc"), got)
	})

	t.Run("OversizedDatagramFallsBack", func(t *testing.T) {
		big := make([]byte, 4096)
		big[0], big[4095] = 1, 2
		require.NoError(t, server.SendUnreliable(big))
		got, err := client.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, big, got)
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, client.Close())
		select {
		case <-server.Done():
		case <-ctx.Done():
			t.Fatal("server side never noticed the close")
		}
		assert.ErrorIs(t, client.SendUnreliable([]byte{1}), protocol.ErrConnectionClosed)
	})
}

func TestServerTLS(t *testing.T) {
	cfg := protocol.DefaultConfig()
	tlsConfig, err := ServerTLS(cfg)
	require.NoError(t, err)
	require.Len(t, tlsConfig.Certificates, 1)
	assert.Equal(t, []string{ALPN}, tlsConfig.NextProtos)

	cfg.CertFile, cfg.KeyFile = "missing.pem", "missing.key"
	_, err = ServerTLS(cfg)
	assert.Error(t, err)

	assert.True(t, ClientTLS(protocol.Config{InsecureSkipVerify: true}).InsecureSkipVerify)
}
