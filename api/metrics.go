package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName             = "taskboard-api"
	requestSpanName        = "taskboard.api.request"
	requestEventName       = "tasks.request.metrics"
	requestEventDomain     = "taskboard.api"
	observabilityEventName = "observability.event"
	attrPrefix             = "taskboard.tasks."
	metricsContextKey      = "taskboard.metrics"
)

type requestMetrics struct {
	logger          *log.Logger
	span            trace.Span
	start           time.Time
	method          string
	route           string
	authDuration    time.Duration
	serviceDuration time.Duration
	tasksReturned   int
	errorStage      string
	err             error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		method:        method,
		route:         route,
		tasksReturned: -1,
	}, ctx
}

// RequestMetrics records one span and one structured log line per request.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.Log(c.Response().Status, err)
			return nil
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) ObserveService(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.serviceDuration = duration
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// SetError records a failure that is answered with a generic body, so the
// cause still reaches the log line.
func (m *requestMetrics) SetError(err error) {
	if m == nil || err == nil {
		return
	}
	m.err = err
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.tasksReturned >= 0 {
		attrs = append(attrs, attribute.Int(attrPrefix+"tasks_returned", m.tasksReturned))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.serviceDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"service_ms", durationToMillis(m.serviceDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.AddEvent(observabilityEventName, trace.WithAttributes(eventAttrs...))
		if severityText == "ERROR" {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEventName)
	case "WARN":
		entry.Warn(observabilityEventName)
	default:
		entry.Info(observabilityEventName)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case status == 0 && err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
