package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Segment is one span of recognized speech, in seconds from the start of the file.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Audio is a decoded recording ready for inference.
type Audio struct {
	Source     string
	Path       string // decoded 16-bit PCM WAV, empty for engines that keep samples in memory
	Samples    int
	SampleRate int
	PCM        []float32

	cleanup func()
}

// Duration is the decoded length in seconds, independent of segment timestamps.
func (a Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(a.Samples) / float64(a.SampleRate)
}

// Release removes temporary artefacts created while decoding.
func (a Audio) Release() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// Options configures a single inference call.
type Options struct {
	Language string
	Device   string
}

// Engine abstracts ASR backends. It is loaded once per run and reused for every file.
type Engine interface {
	Decode(ctx context.Context, path string) (Audio, error)
	Transcribe(ctx context.Context, audio Audio, opts Options) ([]Segment, error)
	Model() string
	Close() error
}

// ErrNativeUnavailable is returned when the whisper.cpp backend was not compiled in.
var ErrNativeUnavailable = errors.New("stt: native backend unavailable (build with -tags whispercpp)")

// New loads the engine selected by cfg.Mode.
func New(cfg config.STTConfig, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "stt"), slog.String("mode", cfg.Mode), slog.String("model", cfg.Model))
	switch cfg.Mode {
	case "exec", "":
		eng, err := NewExecEngine(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("exec engine ready")
		return eng, nil
	case "native":
		eng, err := NewNativeEngine(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("native engine ready")
		return eng, nil
	case "mock":
		log.Warn("mock engine selected; transcripts are placeholders")
		return NewMockEngine(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// ResolveDevice maps an empty or "auto" request onto cuda when an NVIDIA
// driver utility is on PATH, and cpu otherwise.
func ResolveDevice(requested string, lookPath func(string) (string, error)) string {
	switch requested {
	case "cpu", "cuda":
		return requested
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("nvidia-smi"); err == nil {
		return "cuda"
	}
	return "cpu"
}
