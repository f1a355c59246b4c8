package mcp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Siddhant412/chatgpt-notes-app/mcp"

// serverMetrics records session and tool activity through the global otel
// MeterProvider. A nil *serverMetrics records nothing.
type serverMetrics struct {
	sessionsActive  metric.Int64UpDownCounter
	sessionsCreated metric.Int64Counter
	sessionsClosed  metric.Int64Counter
	toolCalls       metric.Int64Counter
	toolDuration    metric.Float64Histogram
	rejected        metric.Int64Counter
}

func newServerMetrics() (*serverMetrics, error) {
	meter := otel.Meter(meterName)
	m := &serverMetrics{}
	var err error
	if m.sessionsActive, err = meter.Int64UpDownCounter("notesd.mcp.sessions.active",
		metric.WithDescription("Live MCP sessions")); err != nil {
		return nil, err
	}
	if m.sessionsCreated, err = meter.Int64Counter("notesd.mcp.sessions.created",
		metric.WithDescription("MCP sessions created")); err != nil {
		return nil, err
	}
	if m.sessionsClosed, err = meter.Int64Counter("notesd.mcp.sessions.closed",
		metric.WithDescription("MCP sessions closed, by reason")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("notesd.mcp.tool.calls",
		metric.WithDescription("Tool invocations, by tool and outcome")); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram("notesd.mcp.tool.duration",
		metric.WithDescription("Tool handler latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("notesd.mcp.requests.rejected",
		metric.WithDescription("Requests rejected by the front door, by reason")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *serverMetrics) sessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
	m.sessionsCreated.Add(ctx, 1)
}

func (m *serverMetrics) sessionClosed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *serverMetrics) toolCall(ctx context.Context, tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *serverMetrics) requestRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
