// ABOUTME: OpenTelemetry metric instruments for connection lifecycle and API traffic
// ABOUTME: A nil *Metrics is valid and records nothing, so wiring stays optional

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the service
type Metrics struct {
	// Lifecycle
	ConnectsStarted   metric.Int64Counter
	ConnectsCompleted metric.Int64Counter
	Disconnects       metric.Int64Counter
	Probes            metric.Int64Counter

	// OAuth flow
	CallbacksProcessed metric.Int64Counter

	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
}

// New creates and registers all metric instruments on the global meter
// provider. Without an SDK installed the instruments are no-ops.
func New() (*Metrics, error) {
	meter := otel.Meter("dockhand")
	m := &Metrics{}

	var err error
	m.ConnectsStarted, err = meter.Int64Counter(
		"dockhand.connect.started",
		metric.WithDescription("Number of connection attempts started"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connect.started counter: %w", err)
	}

	m.ConnectsCompleted, err = meter.Int64Counter(
		"dockhand.connect.completed",
		metric.WithDescription("Number of connection attempts completed, by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connect.completed counter: %w", err)
	}

	m.Disconnects, err = meter.Int64Counter(
		"dockhand.disconnect.completed",
		metric.WithDescription("Number of disconnects"),
		metric.WithUnit("{disconnect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating disconnect.completed counter: %w", err)
	}

	m.Probes, err = meter.Int64Counter(
		"dockhand.probe.completed",
		metric.WithDescription("Number of capability probes run, by result"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating probe.completed counter: %w", err)
	}

	m.CallbacksProcessed, err = meter.Int64Counter(
		"dockhand.oauth.callback.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating callback.processed counter: %w", err)
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"dockhand.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"dockhand.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http.request.duration histogram: %w", err)
	}

	return m, nil
}

// RecordConnectStarted records the start of a connection attempt
func (m *Metrics) RecordConnectStarted(ctx context.Context, serverID, transport string) {
	if m == nil {
		return
	}
	m.ConnectsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.String("transport", transport),
	))
}

// RecordConnectCompleted records a finished connection attempt
func (m *Metrics) RecordConnectCompleted(ctx context.Context, serverID, outcome string) {
	if m == nil {
		return
	}
	m.ConnectsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.String("outcome", outcome),
	))
}

// RecordDisconnect records an explicit disconnect
func (m *Metrics) RecordDisconnect(ctx context.Context, serverID string) {
	if m == nil {
		return
	}
	m.Disconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
	))
}

// RecordProbe records a capability probe result
func (m *Metrics) RecordProbe(ctx context.Context, serverID string, success bool) {
	if m == nil {
		return
	}
	m.Probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.Bool("success", success),
	))
}

// RecordCallbackProcessed records a provider callback
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, serverID string, success bool) {
	if m == nil {
		return
	}
	m.CallbacksProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.Bool("success", success),
	))
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("route", route),
	))
}
