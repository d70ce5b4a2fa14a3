package middlewares

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

var _ Middleware = (*RateLimitMiddleware)(nil)

// ErrRateLimited is returned by BeforeHandle when a peer exceeded its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware caps how many limited messages each peer may send per
// window. Acks and clock probes are never limited.
type RateLimitMiddleware struct {
	logger    log.Log
	rateLimit int           // Messages per window
	window    time.Duration // Time window
	now       func() time.Time
	clients   sync.Map // peer ID -> *clientRateLimit
}

type clientRateLimit struct {
	count  int
	window time.Time
	mu     sync.Mutex
}

func NewRateLimitMiddleware(rateLimit int, window time.Duration, logger log.Log) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		logger:    logger,
		rateLimit: rateLimit,
		window:    window,
		now:       time.Now,
	}
}

// Name returns the middleware name
func (m *RateLimitMiddleware) Name() string {
	return "rate_limit"
}

// Priority returns the middleware priority
func (m *RateLimitMiddleware) Priority() uint16 {
	return 800
}

// BeforeHandle checks rate limits before message handling
func (m *RateLimitMiddleware) BeforeHandle(peer protocol.PeerID, msg protocol.Message) error {
	if m.rateLimit <= 0 || msg.Type != protocol.MessageTypeRpc {
		return nil
	}

	now := m.now()
	clientLimit := m.getClientRateLimit(peer)

	clientLimit.mu.Lock()
	defer clientLimit.mu.Unlock()

	// Reset window if expired
	if now.Sub(clientLimit.window) > m.window {
		clientLimit.count = 0
		clientLimit.window = now
	}

	if clientLimit.count >= m.rateLimit {
		m.logger.Warn("Rate limit exceeded",
			log.String("peer_id", string(peer)),
			log.String("message_type", msg.Type.String()),
			log.Int("count", clientLimit.count),
			log.Int("limit", m.rateLimit),
		)
		return ErrRateLimited
	}

	clientLimit.count++
	return nil
}

func (m *RateLimitMiddleware) AfterHandle(protocol.PeerID, protocol.Message, time.Duration, error) {}

// OnConnect initializes the peer's window
func (m *RateLimitMiddleware) OnConnect(peer protocol.PeerID) {
	m.clients.Store(peer, &clientRateLimit{window: m.now()})
}

// OnDisconnect cleans up rate limit data
func (m *RateLimitMiddleware) OnDisconnect(peer protocol.PeerID, _ string) {
	m.clients.Delete(peer)
}

func (m *RateLimitMiddleware) getClientRateLimit(peer protocol.PeerID) *clientRateLimit {
	if limit, exists := m.clients.Load(peer); exists {
		return limit.(*clientRateLimit)
	}
	limit, _ := m.clients.LoadOrStore(peer, &clientRateLimit{window: m.now()})
	return limit.(*clientRateLimit)
}
