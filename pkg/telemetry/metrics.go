package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polisai/gulfwatch/pkg/coordinator"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	sweepCounter          metric.Int64Counter
	unitsScannedCounter   metric.Int64Counter
	unitsExcludedCounter  metric.Int64Counter
	unitsRewrittenCounter metric.Int64Counter
	sweepLatencyHistogram metric.Float64Histogram
)

// SweepRecorder exports coordinator sweep results as OpenTelemetry metrics.
// It satisfies coordinator.Recorder.
type SweepRecorder struct {
	ctx   context.Context
	attrs []attribute.KeyValue
}

// NewSweepRecorder returns a recorder that tags every measurement with attrs.
func NewSweepRecorder(ctx context.Context, attrs ...attribute.KeyValue) *SweepRecorder {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SweepRecorder{ctx: ctx, attrs: attrs}
}

// RecordSweep emits counters and a latency histogram for one sweep.
func (r *SweepRecorder) RecordSweep(result coordinator.SweepResult) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(r.attrs)+1)
	attrs = append(attrs, r.attrs...)
	attrs = append(attrs, attribute.String("sweep.source", string(result.Source)))
	opt := metric.WithAttributes(attrs...)

	sweepCounter.Add(r.ctx, 1, opt)
	if result.Scanned > 0 {
		unitsScannedCounter.Add(r.ctx, int64(result.Scanned), opt)
	}
	if result.Excluded > 0 {
		unitsExcludedCounter.Add(r.ctx, int64(result.Excluded), opt)
	}
	if result.Rewritten > 0 {
		unitsRewrittenCounter.Add(r.ctx, int64(result.Rewritten), opt)
	}
	if result.Duration > 0 {
		sweepLatencyHistogram.Record(r.ctx, float64(result.Duration)/float64(time.Millisecond), opt)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(instrumentationName)

		sweepCounter, metricsInitErr = meter.Int64Counter(
			"gulfwatch.sweeps_total",
			metric.WithDescription("Enumerate-then-rewrite passes partitioned by trigger"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitsScannedCounter, metricsInitErr = meter.Int64Counter(
			"gulfwatch.units.scanned_total",
			metric.WithDescription("Text units visited by sweeps"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitsExcludedCounter, metricsInitErr = meter.Int64Counter(
			"gulfwatch.units.excluded_total",
			metric.WithDescription("Text units skipped by the eligibility filter"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitsRewrittenCounter, metricsInitErr = meter.Int64Counter(
			"gulfwatch.units.rewritten_total",
			metric.WithDescription("Text units written back with rewritten text"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		sweepLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"gulfwatch.sweep.duration_ms",
			metric.WithDescription("Observed sweep latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
