package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the hub server.
type Metrics struct {
	// HTTP server metrics
	HTTPRequestCount    metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Hub metrics
	Connections    metric.Int64UpDownCounter
	FramesReceived metric.Int64Counter
	FramesSent     metric.Int64Counter
}

// InitMetrics initializes and returns metric instruments.
func InitMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("chatsync")

	m := &Metrics{}

	var err error
	m.HTTPRequestCount, err = meter.Int64Counter(
		"http.server.request_count",
		metric.WithDescription("Number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request count counter: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.server.request_duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request duration histogram: %w", err)
	}

	m.Connections, err = meter.Int64UpDownCounter(
		"sync.hub.connections",
		metric.WithDescription("Open hub connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create connections counter: %w", err)
	}

	m.FramesReceived, err = meter.Int64Counter(
		"sync.hub.frames_received",
		metric.WithDescription("Frames received from clients"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create frames received counter: %w", err)
	}

	m.FramesSent, err = meter.Int64Counter(
		"sync.hub.frames_sent",
		metric.WithDescription("Frames sent to clients"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create frames sent counter: %w", err)
	}

	return m, nil
}

// AddConnections adjusts the open connection gauge. Safe on a nil receiver,
// as are the other recording helpers, so callers need no telemetry check.
func (m *Metrics) AddConnections(delta int64) {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Add(context.Background(), delta)
}

// AddFramesReceived counts inbound frames. Safe on a nil receiver.
func (m *Metrics) AddFramesReceived(n int64) {
	if m == nil || m.FramesReceived == nil {
		return
	}
	m.FramesReceived.Add(context.Background(), n)
}

// AddFramesSent counts outbound frames. Safe on a nil receiver.
func (m *Metrics) AddFramesSent(n int64) {
	if m == nil || m.FramesSent == nil {
		return
	}
	m.FramesSent.Add(context.Background(), n)
}
