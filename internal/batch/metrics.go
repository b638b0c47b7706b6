package batch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	files    metric.Int64Counter
	audio    metric.Float64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-scribe/batch")
	files, err := meter.Int64Counter("scribe.files.transcribed",
		metric.WithDescription("Files transcribed successfully"))
	if err != nil {
		return nil, err
	}
	audio, err := meter.Float64Counter("scribe.audio.seconds",
		metric.WithDescription("Decoded audio processed"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("scribe.engine.failures",
		metric.WithDescription("Runs aborted by an engine error"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("scribe.transcribe.duration",
		metric.WithDescription("Wall time of one inference call"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{files: files, audio: audio, failures: failures, latency: latency}, nil
}

func (m *metrics) recordFile(ctx context.Context, audioSeconds float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.files.Add(ctx, 1)
	m.audio.Add(ctx, audioSeconds)
	m.latency.Record(ctx, elapsed.Seconds())
}

func (m *metrics) recordFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1)
}
