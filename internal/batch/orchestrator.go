package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/media"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrEngineFailure wraps any decode or inference error; the run stops at the
// first one.
var ErrEngineFailure = errors.New("batch: engine failure")

// Observer is told about progress. Errors returned by observers are logged
// and never affect the run.
type Observer interface {
	FileTranscribed(ctx context.Context, index, total int, outcome transcript.Outcome) error
	FileFailed(ctx context.Context, index, total int, file media.File, err error) error
}

type Options struct {
	Language       string
	Device         string
	PauseThreshold float64
}

// Orchestrator drives one loaded engine over a worklist, one file at a time.
type Orchestrator struct {
	engine    stt.Engine
	opts      Options
	logger    *slog.Logger
	observers []Observer
	tracer    trace.Tracer
	metrics   *metrics
	clock     func() time.Time
}

func New(engine stt.Engine, opts Options, logger *slog.Logger, observers ...Observer) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		engine:    engine,
		opts:      opts,
		logger:    logger.With(slog.String("component", "batch")),
		observers: observers,
		tracer:    otel.Tracer("github.com/loqalabs/loqa-scribe/batch"),
		clock:     time.Now,
	}
	m, err := newMetrics()
	if err != nil {
		o.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	o.metrics = m
	return o
}

// Run transcribes every file in order and returns one outcome per file. The
// first engine error aborts the run; no partial result is returned.
func (o *Orchestrator) Run(ctx context.Context, wl media.Worklist) ([]transcript.Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("scribe.input", wl.Input),
		attribute.String("scribe.mode", wl.Mode.String()),
		attribute.Int("scribe.files", len(wl.Files)),
	))
	defer span.End()

	total := len(wl.Files)
	outcomes := make([]transcript.Outcome, 0, total)
	var totalSeconds float64

	for i, file := range wl.Files {
		idx := i + 1
		o.logger.Info("processing file",
			slog.Int("index", idx),
			slog.Int("total", total),
			slog.String("file", file.Name))

		outcome, err := o.transcribeFile(ctx, file)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrEngineFailure, file.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "engine failure")
			o.metrics.recordFailure(ctx)
			o.notifyFailed(ctx, idx, total, file, err)
			return nil, err
		}

		outcomes = append(outcomes, outcome)
		totalSeconds += outcome.DurationSeconds
		o.notifyTranscribed(ctx, idx, total, outcome)
	}

	span.SetAttributes(attribute.Float64("scribe.audio_seconds", totalSeconds))
	o.logger.Info("batch transcribed",
		slog.Int("files", len(outcomes)),
		slog.Float64("total_seconds", totalSeconds))
	return outcomes, nil
}

func (o *Orchestrator) transcribeFile(ctx context.Context, file media.File) (transcript.Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "batch.file", trace.WithAttributes(attribute.String("scribe.file", file.Name)))
	defer span.End()

	audio, err := o.engine.Decode(ctx, file.Path)
	if err != nil {
		span.RecordError(err)
		return transcript.Outcome{}, fmt.Errorf("decode: %w", err)
	}
	defer audio.Release()

	duration := audio.Duration()
	o.logger.Info("audio decoded",
		slog.String("file", file.Name),
		slog.String("length", fmt.Sprintf("%.1f min (%.1f s)", duration/60, duration)))

	started := o.clock()
	segments, err := o.engine.Transcribe(ctx, audio, stt.Options{Language: o.opts.Language, Device: o.opts.Device})
	if err != nil {
		span.RecordError(err)
		return transcript.Outcome{}, fmt.Errorf("transcribe: %w", err)
	}
	elapsed := o.clock().Sub(started)

	for _, seg := range segments {
		o.logger.Debug("segment",
			slog.String("file", file.Name),
			slog.Float64("start", seg.Start),
			slog.Float64("end", seg.End),
			slog.String("text", strings.TrimSpace(seg.Text)))
	}

	text := transcript.BuildLines(segments, o.opts.PauseThreshold)
	o.logger.Info("file transcribed",
		slog.String("file", file.Name),
		slog.Int("segments", len(segments)),
		slog.Float64("elapsed_seconds", elapsed.Seconds()))
	o.metrics.recordFile(ctx, duration, elapsed)
	span.SetAttributes(
		attribute.Int("scribe.segments", len(segments)),
		attribute.Float64("scribe.audio_seconds", duration),
	)

	return transcript.Outcome{
		File:            file,
		Text:            text,
		DurationSeconds: duration,
		Segments:        len(segments),
	}, nil
}

func (o *Orchestrator) notifyTranscribed(ctx context.Context, index, total int, outcome transcript.Outcome) {
	for _, obs := range o.observers {
		if err := obs.FileTranscribed(ctx, index, total, outcome); err != nil {
			o.logger.Warn("observer failed", slog.String("file", outcome.File.Name), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) notifyFailed(ctx context.Context, index, total int, file media.File, cause error) {
	for _, obs := range o.observers {
		if err := obs.FileFailed(ctx, index, total, file, cause); err != nil {
			o.logger.Warn("observer failed", slog.String("file", file.Name), slog.String("error", err.Error()))
		}
	}
}
