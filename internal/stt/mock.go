package stt

import (
	"context"
	"fmt"
	"path/filepath"
)

type mockEngine struct {
	model string
}

func NewMockEngine(model string) Engine {
	return &mockEngine{model: model}
}

func (m *mockEngine) Model() string { return m.model }

func (m *mockEngine) Close() error { return nil }

func (m *mockEngine) Decode(_ context.Context, path string) (Audio, error) {
	return Audio{Source: path, SampleRate: 16000}, nil
}

func (m *mockEngine) Transcribe(_ context.Context, audio Audio, opts Options) ([]Segment, error) {
	return []Segment{
		{Start: 0, End: 1, Text: fmt.Sprintf("[mock:%s] %s", m.model, filepath.Base(audio.Source))},
		{Start: 1, End: 2, Text: fmt.Sprintf("language=%s device=%s", opts.Language, opts.Device)},
	}, nil
}
