package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trelow-offline/intercept"
)

const tracerName = "trelow-offline/api"

type outcomeKey struct{}

// proxyRequestMetrics collects one line per proxied request. The transport
// records the interception outcome and the upstream time; the middleware
// logs when the response is written.
type proxyRequestMetrics struct {
	logger   *log.Logger
	span     trace.Span
	start    time.Time
	path     string
	outcome  intercept.Outcome
	served   bool
	upstream time.Duration
}

func newProxyRequestMetrics(ctx context.Context, logger *log.Logger, method, path string) (*proxyRequestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "proxy.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("url.path", path),
		))
	m := &proxyRequestMetrics{logger: logger, span: span, start: time.Now(), path: path}
	return m, context.WithValue(ctx, outcomeKey{}, m)
}

func metricsFrom(ctx context.Context) *proxyRequestMetrics {
	m, _ := ctx.Value(outcomeKey{}).(*proxyRequestMetrics)
	return m
}

func (m *proxyRequestMetrics) Observe(o intercept.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.outcome = o
	m.served = true
	if d > 0 {
		m.upstream = d
	}
}

func (m *proxyRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	fields := log.Fields{
		"path":     m.path,
		"status":   status,
		"total_ms": durationToMillis(total),
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("trelow.proxy.total_ms", durationToMillis(total)),
	}
	if m.served {
		fields["class"] = m.outcome.Class.String()
		fields["source"] = string(m.outcome.Source)
		fields["serve_ms"] = durationToMillis(m.upstream)
		attrs = append(attrs,
			attribute.String("trelow.proxy.class", m.outcome.Class.String()),
			attribute.String("trelow.proxy.source", string(m.outcome.Source)),
		)
	}
	m.span.SetAttributes(attrs...)
	if err != nil {
		fields["error"] = err.Error()
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else if status >= 500 {
		m.span.SetStatus(codes.Error, "upstream unavailable")
	}
	m.span.End()

	if m.logger != nil {
		m.logger.WithFields(fields).Info("proxy.request.metrics")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
