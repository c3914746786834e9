// Package telemetry wires OpenTelemetry metrics with a Prometheus exporter
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.uber.org/zap"
)

const meterName = "github.com/satriahrh/narrasi"

// Setup installs a meter provider. When the Prometheus exporter cannot be
// created the provider still records but the returned handler is nil.
func Setup(serviceName, environment string, logger *zap.Logger) (*Metrics, http.Handler, func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	var handler http.Handler
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	exporter, err := prometheus.New()
	if err != nil {
		logger.Warn("Failed to initialize prometheus exporter", zap.Error(err))
	} else {
		opts = append(opts, sdkmetric.WithReader(exporter))
		handler = promhttp.Handler()
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	metrics, err := NewMetrics(provider.Meter(meterName))
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("Telemetry initialized", zap.Bool("prometheus", handler != nil))
	return metrics, handler, provider.Shutdown, nil
}

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	chunks          metric.Int64Counter
	retries         metric.Int64Counter
	anomalies       metric.Int64Counter
	droppedChunks   metric.Int64Counter
	failedSegments  metric.Int64Counter
	removedRanges   metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.chunks, err = meter.Int64Counter("narrasi.synthesis.chunks",
		metric.WithDescription("Chunks synthesized successfully")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("narrasi.synthesis.retries",
		metric.WithDescription("Synthesis attempts that were retried")); err != nil {
		return nil, err
	}
	if m.anomalies, err = meter.Int64Counter("narrasi.synthesis.anomalies",
		metric.WithDescription("Synthesis results rejected as mostly silent")); err != nil {
		return nil, err
	}
	if m.droppedChunks, err = meter.Int64Counter("narrasi.synthesis.dropped_chunks",
		metric.WithDescription("Chunks dropped after validation or retries failed")); err != nil {
		return nil, err
	}
	if m.failedSegments, err = meter.Int64Counter("narrasi.segments.failed",
		metric.WithDescription("Segments that ended with no audio")); err != nil {
		return nil, err
	}
	if m.removedRanges, err = meter.Int64Counter("narrasi.repetition.removed_ranges",
		metric.WithDescription("Repeated speech ranges cut from voice-overs")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("narrasi.voiceover.duration",
		metric.WithDescription("Wall clock time of a voice-over request"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Noop returns metrics that discard every measurement
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func (m *Metrics) ChunkSynthesized(ctx context.Context) {
	if m != nil {
		m.chunks.Add(ctx, 1)
	}
}

func (m *Metrics) SynthesisRetried(ctx context.Context) {
	if m != nil {
		m.retries.Add(ctx, 1)
	}
}

func (m *Metrics) AnomalyDetected(ctx context.Context) {
	if m != nil {
		m.anomalies.Add(ctx, 1)
	}
}

// ChunkDropped counts a chunk skipped for reason ("invalid" or "failed")
func (m *Metrics) ChunkDropped(ctx context.Context, reason string) {
	if m != nil {
		m.droppedChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *Metrics) SegmentFailed(ctx context.Context) {
	if m != nil {
		m.failedSegments.Add(ctx, 1)
	}
}

func (m *Metrics) RangesRemoved(ctx context.Context, n int) {
	if m != nil && n > 0 {
		m.removedRanges.Add(ctx, int64(n))
	}
}

// RequestFinished records a request duration tagged with its operation and outcome
func (m *Metrics) RequestFinished(ctx context.Context, operation string, seconds float64, ok bool) {
	if m != nil {
		m.requestDuration.Record(ctx, seconds, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.Bool("success", ok),
		))
	}
}
