package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("Expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.ChunkSynthesized(ctx)
	m.ChunkSynthesized(ctx)
	m.SynthesisRetried(ctx)
	m.ChunkDropped(ctx, "invalid")
	m.ChunkDropped(ctx, "failed")
	m.RangesRemoved(ctx, 3)
	m.RangesRemoved(ctx, 0)
	m.RequestFinished(ctx, "generate", 1.5, true)

	got := collect(t, reader)
	if v := sum(t, got["narrasi.synthesis.chunks"]); v != 2 {
		t.Errorf("Expected 2 chunks, got %d", v)
	}
	if v := sum(t, got["narrasi.synthesis.retries"]); v != 1 {
		t.Errorf("Expected 1 retry, got %d", v)
	}
	if v := sum(t, got["narrasi.synthesis.dropped_chunks"]); v != 2 {
		t.Errorf("Expected 2 dropped chunks, got %d", v)
	}
	if v := sum(t, got["narrasi.repetition.removed_ranges"]); v != 3 {
		t.Errorf("Expected 3 removed ranges, got %d", v)
	}
	if _, ok := got["narrasi.voiceover.duration"].(metricdata.Histogram[float64]); !ok {
		t.Errorf("Expected a float64 histogram, got %T", got["narrasi.voiceover.duration"])
	}
}

func TestMetrics_NilAndNoop(t *testing.T) {
	var m *Metrics
	m.ChunkSynthesized(context.Background())
	m.RequestFinished(context.Background(), "generate", 1, false)

	Noop().AnomalyDetected(context.Background())
}
