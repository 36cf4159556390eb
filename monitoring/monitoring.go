package monitoring

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-sessions-service/logging"
)

var (
	// OpenTelemetry metrics
	SessionsStarted      metric.Int64Counter
	SessionDispositions  metric.Int64Counter
	SessionDuration      metric.Float64Histogram
	ViewReloads          metric.Int64Counter
	MpinAttempts         metric.Int64Counter
	MpinLockouts         metric.Int64Counter
	VerifyCallDuration   metric.Float64Histogram
	HTTPServerDuration   metric.Float64Histogram
)

// InitTracer initializes OpenTelemetry tracing
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized", zap.String("service_name", serviceName))

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics with both an OTLP exporter and
// a Prometheus reader (scraped via the /metrics endpoint).
func InitMeter(serviceName, endpoint string) (*sdkmetric.MeterProvider, metric.Meter, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	// Create OTLP metric exporter
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Prometheus reader registers into the default prometheus registry
	promExporter, err := otelprom.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName)

	// Initialize metric instruments
	SessionsStarted, err = meter.Int64Counter(
		"payment_sessions_started_total",
		metric.WithDescription("Total number of payment sessions started"),
	)
	if err != nil {
		return nil, nil, err
	}

	SessionDispositions, err = meter.Int64Counter(
		"payment_session_dispositions_total",
		metric.WithDescription("Terminal dispositions delivered, by status"),
	)
	if err != nil {
		return nil, nil, err
	}

	SessionDuration, err = meter.Float64Histogram(
		"payment_session_duration_seconds",
		metric.WithDescription("Time from session start to terminal disposition"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, nil, err
	}

	ViewReloads, err = meter.Int64Counter(
		"checkout_view_reloads_total",
		metric.WithDescription("Checkout view reloads issued after connectivity restore"),
	)
	if err != nil {
		return nil, nil, err
	}

	MpinAttempts, err = meter.Int64Counter(
		"mpin_verify_attempts_total",
		metric.WithDescription("MPIN verification attempts, by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	MpinLockouts, err = meter.Int64Counter(
		"mpin_lockouts_total",
		metric.WithDescription("MPIN lockouts triggered"),
	)
	if err != nil {
		return nil, nil, err
	}

	VerifyCallDuration, err = meter.Float64Histogram(
		"mpin_verify_api_duration_seconds",
		metric.WithDescription("Duration of upstream MPIN verify API calls"),
	)
	if err != nil {
		return nil, nil, err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, nil, err
	}

	logging.Info("Metrics initialized with OTLP and Prometheus exporters", zap.String("endpoint", endpoint))

	return mp, meter, nil
}

// PrometheusHandler exposes the default prometheus registry for scraping.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// Record helpers are nil-safe so library packages can record metrics without
// caring whether InitMeter has run (it has not in unit tests).

// RecordSessionStarted counts one started session.
func RecordSessionStarted(ctx context.Context) {
	if SessionsStarted == nil {
		return
	}
	SessionsStarted.Add(ctx, 1)
}

// RecordDisposition counts one delivered disposition and its session duration.
func RecordDisposition(ctx context.Context, status string, durationSeconds float64) {
	if SessionDispositions != nil {
		SessionDispositions.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
	if SessionDuration != nil {
		SessionDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordViewReload counts one reload command issued to a checkout view.
func RecordViewReload(ctx context.Context) {
	if ViewReloads == nil {
		return
	}
	ViewReloads.Add(ctx, 1)
}

// RecordMpinAttempt counts one MPIN submission by outcome
// (success, rejected, locked, unavailable).
func RecordMpinAttempt(ctx context.Context, outcome string) {
	if MpinAttempts == nil {
		return
	}
	MpinAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordMpinLockout counts one triggered lockout.
func RecordMpinLockout(ctx context.Context) {
	if MpinLockouts == nil {
		return
	}
	MpinLockouts.Add(ctx, 1)
}

// RecordVerifyCall records the duration of one upstream verify API call.
func RecordVerifyCall(ctx context.Context, seconds float64, status string) {
	if VerifyCallDuration == nil {
		return
	}
	VerifyCallDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
