package middlewares

import (
	"time"

	"github.com/armon/go-metrics"

	"github.com/zeusync/replication/internal/core/protocol"
)

var _ Middleware = (*MetricsMiddleware)(nil)

// MetricsMiddleware counts inbound messages and handler time per message type
type MetricsMiddleware struct {
	sink *metrics.Metrics
}

// NewMetricsMiddleware reports to m, or to the global go-metrics instance
// when m is nil.
func NewMetricsMiddleware(m *metrics.Metrics) *MetricsMiddleware {
	if m == nil {
		m = metrics.Default()
	}
	return &MetricsMiddleware{sink: m}
}

func (m *MetricsMiddleware) Name() string {
	return "metrics"
}

func (m *MetricsMiddleware) Priority() uint16 {
	return 100 // Low priority, runs last
}

func (m *MetricsMiddleware) BeforeHandle(protocol.PeerID, protocol.Message) error {
	return nil
}

func (m *MetricsMiddleware) AfterHandle(_ protocol.PeerID, msg protocol.Message, elapsed time.Duration, err error) {
	labels := []metrics.Label{{Name: "type", Value: msg.Type.String()}}
	m.sink.IncrCounterWithLabels([]string{"protocol", "inbound", "messages"}, 1, labels)
	m.sink.AddSampleWithLabels([]string{"protocol", "inbound", "handle_ms"},
		float32(elapsed)/float32(time.Millisecond), labels)
	if err != nil {
		m.sink.IncrCounterWithLabels([]string{"protocol", "inbound", "errors"}, 1, labels)
	}
}

func (m *MetricsMiddleware) OnConnect(protocol.PeerID) {
	m.sink.IncrCounter([]string{"protocol", "connects"}, 1)
}

func (m *MetricsMiddleware) OnDisconnect(protocol.PeerID, string) {
	m.sink.IncrCounter([]string{"protocol", "disconnects"}, 1)
}
