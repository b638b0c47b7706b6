//go:build whispercpp

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

func NativeAvailable() bool { return true }

// nativeEngine keeps one whisper.cpp model loaded for the whole run and
// creates a fresh inference context per file.
type nativeEngine struct {
	model   whisper.Model
	exec    *execEngine
	cfg     config.STTConfig
	inferMu sync.Mutex
}

func NewNativeEngine(cfg config.STTConfig) (Engine, error) {
	path := filepath.Join(cfg.ModelDir, fmt.Sprintf("ggml-%s.bin", cfg.Model))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("whisper model %s: %w", path, err)
	}
	decodeArgs, err := parseCommand("decode", cfg.DecodeCommand)
	if err != nil {
		return nil, err
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", path, err)
	}
	cfg.SampleRate = whisper.SampleRate
	return &nativeEngine{
		model: model,
		exec:  &execEngine{decodeCmd: decodeArgs, cfg: cfg},
		cfg:   cfg,
	}, nil
}

func (e *nativeEngine) Model() string { return e.cfg.Model }

func (e *nativeEngine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

func (e *nativeEngine) Decode(ctx context.Context, path string) (Audio, error) {
	audio, err := e.exec.Decode(ctx, path)
	if err != nil {
		return Audio{}, err
	}
	pcm, rate, err := readWAV(audio.Path)
	if err != nil {
		audio.Release()
		return Audio{}, err
	}
	audio.PCM = pcm
	audio.SampleRate = rate
	audio.Samples = len(pcm)
	return audio, nil
}

func (e *nativeEngine) Transcribe(ctx context.Context, audio Audio, opts Options) ([]Segment, error) {
	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper context: %w", err)
	}
	if opts.Language != "" && e.model.IsMultilingual() {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			return nil, fmt.Errorf("whisper language %q: %w", opts.Language, err)
		}
	}
	if e.cfg.Threads > 0 {
		wctx.SetThreads(uint(e.cfg.Threads))
	}
	if err := wctx.Process(audio.PCM, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper segment: %w", err)
		}
		segments = append(segments, Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		})
	}
	return segments, nil
}
