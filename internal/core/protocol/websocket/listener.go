package websocket

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

var _ protocol.Listener = (*Listener)(nil)

// Listener serves WebSocket upgrades on cfg.Path and a health probe on
// /health.
type Listener struct {
	config   protocol.Config
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	logger   log.Log

	accepted chan *Peer
	active   int64 // atomic
	closed   chan struct{}
	once     sync.Once
}

// Listen binds cfg.Addr and starts serving
func Listen(cfg protocol.Config, logger log.Log) (*Listener, error) {
	if logger == nil {
		logger = log.Provide()
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeListenFailed, "failed to listen on "+cfg.Addr, err)
	}

	l := &Listener{
		config:   cfg,
		listener: ln,
		logger:   logger.With(log.String("protocol", "websocket")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		accepted: make(chan *Peer),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, l.handleWebSocket)
	mux.HandleFunc("/health", l.handleHealth)
	l.server = &http.Server{
		Handler:     mux,
		IdleTimeout: cfg.IdleTimeout,
	}

	go func() {
		var err error
		if cfg.CertFile != "" {
			err = l.server.ServeTLS(ln, cfg.CertFile, cfg.KeyFile)
		} else {
			err = l.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("WebSocket server error", log.Error(err))
		}
	}()

	l.logger.Info("WebSocket listener started", log.String("addr", ln.Addr().String()), log.String("path", cfg.Path))
	return l, nil
}

func (l *Listener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("WebSocket upgrade failed", log.Error(err))
		return
	}

	peer := newPeer(conn, l.config, l.logger)
	atomic.AddInt64(&l.active, 1)
	go func() {
		<-peer.Done()
		atomic.AddInt64(&l.active, -1)
	}()

	select {
	case l.accepted <- peer:
	case <-l.closed:
		_ = peer.Close()
	case <-r.Context().Done():
		_ = peer.Close()
	}
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "healthy",
		"connections": atomic.LoadInt64(&l.active),
	})
}

// Accept waits for the next upgraded peer
func (l *Listener) Accept(ctx context.Context) (protocol.Peer, error) {
	select {
	case peer := <-l.accepted:
		return peer, nil
	case <-l.closed:
		return nil, protocol.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops the HTTP server. Accepted peers stay open.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		l.logger.Info("Closing WebSocket listener")
		err = l.server.Close()
	})
	return err
}

// Dial connects to a WebSocket listener at cfg.Addr and cfg.Path
func Dial(ctx context.Context, cfg protocol.Config, logger log.Log) (*Peer, error) {
	if logger == nil {
		logger = log.Provide()
	}
	u := url.URL{Scheme: "ws", Host: cfg.Addr, Path: cfg.Path}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeDialFailed, "failed to dial "+u.String(), err)
	}
	return newPeer(conn, cfg, logger), nil
}
