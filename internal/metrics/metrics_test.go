package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupwatch/internal/domain"
	"groupwatch/internal/metrics"
	"groupwatch/internal/session"
)

var _ session.Observer = (*metrics.Metrics)(nil)

func TestMetrics_CountsSessionEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SessionOpened("g1")
	m.SessionOpened("g2")
	m.SessionClosed("g2")
	m.EventAppended(domain.KindChat)
	m.EventAppended(domain.KindChat)
	m.EventAppended(domain.KindPlayback)
	m.AppendDropped(domain.KindPlayback)
	m.SubscribeRetried("events")

	expected := `
# HELP groupwatch_events_appended_total Events appended to group logs.
# TYPE groupwatch_events_appended_total counter
groupwatch_events_appended_total{kind="chat"} 2
groupwatch_events_appended_total{kind="playback"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "groupwatch_events_appended_total"))

	expected = `
# HELP groupwatch_active_sessions Number of open group sessions.
# TYPE groupwatch_active_sessions gauge
groupwatch_active_sessions 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "groupwatch_active_sessions"))

	count, err := testutil.GatherAndCount(reg, "groupwatch_subscribe_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_ClientGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	m.CommandRejected("rate_limited")

	expected := `
# HELP groupwatch_websocket_clients Currently connected WebSocket clients.
# TYPE groupwatch_websocket_clients gauge
groupwatch_websocket_clients 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "groupwatch_websocket_clients"))
}
