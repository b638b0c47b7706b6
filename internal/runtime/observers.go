package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/media"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
)

const (
	eventRunStarted      = "run.started"
	eventFileTranscribed = "file.transcribed"
	eventFileFailed      = "file.failed"
	eventRunCompleted    = "run.completed"
	eventRunFailed       = "run.failed"
)

// recorder mirrors run progress into the history store and onto the bus.
type recorder struct {
	runID  string
	store  *eventstore.Store
	bus    *bus.Client
	logger *slog.Logger
	clock  func() time.Time

	failedFile string
}

func (r *recorder) FileTranscribed(ctx context.Context, index, total int, outcome transcript.Outcome) error {
	msg := protocol.FileTranscribed{
		RunID:           r.runID,
		Index:           index,
		Total:           total,
		File:            outcome.File.Name,
		DurationSeconds: outcome.DurationSeconds,
		Segments:        outcome.Segments,
		Characters:      len([]rune(outcome.Text)),
		Timestamp:       r.clock().UTC(),
	}
	r.event(ctx, eventFileTranscribed, outcome.File.Name, msg)
	return r.bus.Publish(protocol.SubjectFileTranscribed, msg)
}

func (r *recorder) FileFailed(ctx context.Context, index, total int, file media.File, err error) error {
	r.failedFile = file.Name
	r.event(ctx, eventFileFailed, file.Name, map[string]any{
		"index": index,
		"total": total,
		"error": err.Error(),
	})
	return nil
}

func (r *recorder) started(ctx context.Context, wl media.Worklist, model string) {
	run := eventstore.Run{
		ID:        r.runID,
		Input:     wl.Input,
		Mode:      wl.Mode.String(),
		Model:     model,
		Status:    eventstore.StatusRunning,
		FileCount: len(wl.Files),
	}
	if err := r.store.AppendRun(ctx, run); err != nil {
		r.logger.Warn("failed to record run", slog.String("error", err.Error()))
	}
	r.event(ctx, eventRunStarted, "", map[string]any{
		"input": wl.Input,
		"mode":  wl.Mode.String(),
		"files": len(wl.Files),
	})
}

func (r *recorder) completed(ctx context.Context, msg protocol.BatchCompleted) {
	if err := r.store.FinishRun(ctx, r.runID, eventstore.StatusCompleted, msg.Output, msg.Files, msg.TotalDurationSeconds); err != nil {
		r.logger.Warn("failed to finish run", slog.String("error", err.Error()))
	}
	r.event(ctx, eventRunCompleted, "", msg)
	r.publish(protocol.SubjectBatchCompleted, msg)
}

func (r *recorder) failed(ctx context.Context, input string, cause error) {
	msg := protocol.BatchFailed{
		RunID:     r.runID,
		Input:     input,
		File:      r.failedFile,
		Error:     cause.Error(),
		Timestamp: r.clock().UTC(),
	}
	if err := r.store.FinishRun(ctx, r.runID, eventstore.StatusFailed, "", 0, 0); err != nil {
		r.logger.Warn("failed to finish run", slog.String("error", err.Error()))
	}
	r.event(ctx, eventRunFailed, r.failedFile, msg)
	r.publish(protocol.SubjectBatchFailed, msg)
}

func (r *recorder) event(ctx context.Context, kind, file string, payload any) {
	if !r.store.Enabled() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("failed to encode event", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}
	evt := eventstore.Event{RunID: r.runID, Type: kind, File: file, Payload: data}
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.logger.Warn("failed to record event", slog.String("type", kind), slog.String("error", err.Error()))
	}
}

func (r *recorder) publish(subject string, msg any) {
	if err := r.bus.Publish(subject, msg); err != nil {
		r.logger.Warn("failed to publish", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
