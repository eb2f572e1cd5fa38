// Package monitoring configures OpenTelemetry metrics with a Prometheus
// exporter for the grant engine.
package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var (
	meterProvider      *sdkmetric.MeterProvider
	requestCounter     metric.Int64Counter
	latencyHist        metric.Float64Histogram
	submissionCounter  metric.Int64Counter
	submissionInFlight metric.Int64UpDownCounter
	transitionCounter  metric.Int64Counter
	reconcileHist      metric.Float64Histogram
	rejectionCounter   metric.Int64Counter
	dbLatencyHist      metric.Float64Histogram
	initOnce           sync.Once
	httpHandler        http.Handler
)

// Config captures the minimal setup parameters.
type Config struct {
	ServiceName   string
	ResourceAttrs map[string]string
}

// Setup configures the meter provider with a Prometheus exporter and starts
// Go runtime instrumentation. The returned function shuts the provider down.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "grant-engine"
	}

	var attrs []attribute.KeyValue
	attrs = append(attrs, semconv.ServiceName(cfg.ServiceName))
	for k, v := range cfg.ResourceAttrs {
		attrs = append(attrs, attribute.String(k, v))
	}

	var initErr error

	initOnce.Do(func() {
		exp, err := prometheus.New(prometheus.WithoutUnits())
		if err != nil {
			initErr = err
			return
		}

		res, err := resource.Merge(
			resource.Default(),
			resource.NewSchemaless(attrs...),
		)
		if err != nil {
			initErr = err
			return
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exp),
			sdkmetric.WithResource(res),
		)

		otel.SetMeterProvider(meterProvider)
		httpHandler = promhttp.Handler()

		meter := meterProvider.Meter(cfg.ServiceName)

		requestCounter, err = meter.Int64Counter(
			"http_requests_total",
			metric.WithDescription("Total number of HTTP requests processed"),
		)
		if err != nil {
			initErr = err
			return
		}

		latencyHist, err = meter.Float64Histogram(
			"http_request_duration_seconds",
			metric.WithDescription("HTTP request duration in seconds"),
		)
		if err != nil {
			initErr = err
			return
		}

		submissionCounter, err = meter.Int64Counter(
			"submissions_total",
			metric.WithDescription("Submissions processed, by action and outcome"),
		)
		if err != nil {
			initErr = err
			return
		}

		submissionInFlight, err = meter.Int64UpDownCounter(
			"submissions_inflight",
			metric.WithDescription("Submissions currently being processed"),
		)
		if err != nil {
			initErr = err
			return
		}

		transitionCounter, err = meter.Int64Counter(
			"status_transitions_total",
			metric.WithDescription("Requested status transitions, by target and outcome"),
		)
		if err != nil {
			initErr = err
			return
		}

		reconcileHist, err = meter.Float64Histogram(
			"attachment_reconcile_duration_seconds",
			metric.WithDescription("Per-slot attachment reconciliation duration"),
		)
		if err != nil {
			initErr = err
			return
		}

		rejectionCounter, err = meter.Int64Counter(
			"rejections_total",
			metric.WithDescription("Field and file rejections, by reason code"),
		)
		if err != nil {
			initErr = err
			return
		}

		dbLatencyHist, err = meter.Float64Histogram(
			"db_latency_seconds",
			metric.WithDescription("Database latency segmented by operation"),
		)
		if err != nil {
			initErr = err
			return
		}

		_ = runtime.Start(
			runtime.WithMinimumReadMemStatsInterval(10*time.Second),
			runtime.WithMeterProvider(meterProvider),
		)
	})

	if initErr != nil {
		return nil, initErr
	}

	return func(ctx context.Context) error {
		if meterProvider != nil {
			return meterProvider.Shutdown(ctx)
		}
		return nil
	}, nil
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	if httpHandler != nil {
		return httpHandler
	}
	return http.NotFoundHandler()
}

// HTTPMetricsMiddleware records request counts and latency per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestCounter == nil || latencyHist == nil {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.Int("http.status_code", recorder.status),
		)
		requestCounter.Add(r.Context(), 1, attrs)
		latencyHist.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.status = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// RecordSubmission counts one processed submission.
func RecordSubmission(ctx context.Context, action string, success bool) {
	if submissionCounter == nil {
		return
	}
	submissionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("submission.action", action),
		attribute.String("submission.outcome", outcomeLabel(success)),
	))
}

// SubmissionInFlightAdd adjusts the in-flight submission gauge (delta +1 / -1).
func SubmissionInFlightAdd(ctx context.Context, delta int64) {
	if submissionInFlight == nil {
		return
	}
	submissionInFlight.Add(ctx, delta)
}

// RecordTransition counts one requested status transition.
func RecordTransition(ctx context.Context, target string, accepted bool) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transition.target", target),
		attribute.String("transition.outcome", outcomeLabel(accepted)),
	))
}

// RecordReconcileDuration records how long one slot's reconciliation took.
func RecordReconcileDuration(ctx context.Context, slot string, duration time.Duration) {
	if reconcileHist == nil {
		return
	}
	reconcileHist.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("slot.name", slot),
	))
}

// RecordRejection counts one field or file rejection by reason code.
func RecordRejection(ctx context.Context, kind, reason string) {
	if rejectionCounter == nil {
		return
	}
	rejectionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rejection.kind", kind),
		attribute.String("rejection.reason", reason),
	))
}

// RecordDBLatency records one database operation's duration.
func RecordDBLatency(ctx context.Context, operation string, duration time.Duration) {
	if dbLatencyHist == nil {
		return
	}
	dbLatencyHist.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("db.operation", operation),
	))
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
