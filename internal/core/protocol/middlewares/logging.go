package middlewares

import (
	"time"

	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/protocol"
)

var _ Middleware = (*LoggingMiddleware)(nil)

// LoggingMiddleware logs inbound messages at debug level
type LoggingMiddleware struct {
	logger log.Log
}

func NewLoggingMiddleware(logger log.Log) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.Named("inbound")}
}

// Name returns the middleware name
func (m *LoggingMiddleware) Name() string {
	return "logging"
}

// Priority returns the middleware priority
func (m *LoggingMiddleware) Priority() uint16 {
	return 1000 // High priority
}

// BeforeHandle logs before message handling
func (m *LoggingMiddleware) BeforeHandle(peer protocol.PeerID, msg protocol.Message) error {
	m.logger.Debug("Processing message",
		log.String("peer_id", string(peer)),
		log.String("message_type", msg.Type.String()),
		log.Int("size", len(msg.Body)),
	)
	return nil
}

// AfterHandle logs after message handling
func (m *LoggingMiddleware) AfterHandle(peer protocol.PeerID, msg protocol.Message, elapsed time.Duration, err error) {
	fields := []log.Field{
		log.String("peer_id", string(peer)),
		log.String("message_type", msg.Type.String()),
		log.Duration("elapsed", elapsed),
	}
	if err != nil {
		m.logger.Warn("Message handling failed", append(fields, log.Error(err))...)
	}
}

// OnConnect logs peer connections
func (m *LoggingMiddleware) OnConnect(peer protocol.PeerID) {
	m.logger.Debug("Peer connected", log.String("peer_id", string(peer)))
}

// OnDisconnect logs peer disconnections
func (m *LoggingMiddleware) OnDisconnect(peer protocol.PeerID, reason string) {
	m.logger.Debug("Peer disconnected", log.String("peer_id", string(peer)), log.String("reason", reason))
}
