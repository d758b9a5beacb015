// Package metrics 定义服务的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"groupwatch/internal/domain"
)

const namespace = "groupwatch"

// Metrics 汇总会话和连接相关的指标，并实现 session.Observer。
type Metrics struct {
	activeSessions   prometheus.Gauge
	appendedEvents   *prometheus.CounterVec
	droppedEvents    *prometheus.CounterVec
	subscribeRetries *prometheus.CounterVec
	connectedClients prometheus.Gauge
	rejectedCommands *prometheus.CounterVec
}

// New 创建指标并注册到 reg。reg 为 nil 时使用默认注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open group sessions.",
		}),
		appendedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events appended to group logs.",
		}, []string{"kind"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events whose append failed and were dropped.",
		}, []string{"kind"}),
		subscribeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_retries_total",
			Help:      "Attempts to re-establish a dropped subscription.",
		}, []string{"stream"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Currently connected WebSocket clients.",
		}),
		rejectedCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Client commands rejected by validation or rate limiting.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.activeSessions,
		m.appendedEvents,
		m.droppedEvents,
		m.subscribeRetries,
		m.connectedClients,
		m.rejectedCommands,
	)
	return m
}

// 按小组打标签会让序列数随小组数增长，这里只统计总数。
func (m *Metrics) SessionOpened(string) { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed(string) { m.activeSessions.Dec() }

func (m *Metrics) EventAppended(kind domain.EventKind) {
	m.appendedEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) AppendDropped(kind domain.EventKind) {
	m.droppedEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SubscribeRetried(stream string) { m.subscribeRetries.WithLabelValues(stream).Inc() }

// ClientConnected / ClientDisconnected 跟踪 WebSocket 连接数。
func (m *Metrics) ClientConnected()    { m.connectedClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.connectedClients.Dec() }

// CommandRejected 记录被拒绝的客户端命令 (rate_limited, invalid)。
func (m *Metrics) CommandRejected(reason string) { m.rejectedCommands.WithLabelValues(reason).Inc() }
