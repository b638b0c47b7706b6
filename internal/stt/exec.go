package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/mattn/go-shellwords"
)

// execEngine decodes media with an ffmpeg-compatible command and runs
// inference through a helper process that prints JSON segments.
type execEngine struct {
	cmd       []string
	decodeCmd []string
	cfg       config.STTConfig
	mu        sync.Mutex
}

type execResult struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	args, err := parseCommand("stt", cfg.Command)
	if err != nil {
		return nil, err
	}
	decodeArgs, err := parseCommand("decode", cfg.DecodeCommand)
	if err != nil {
		return nil, err
	}
	for _, bin := range []string{args[0], decodeArgs[0]} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", bin, err)
		}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &execEngine{cmd: args, decodeCmd: decodeArgs, cfg: cfg}, nil
}

func parseCommand(kind, command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", kind, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is empty", kind)
	}
	return args, nil
}

func (e *execEngine) Model() string { return e.cfg.Model }

func (e *execEngine) Close() error { return nil }

// Decode converts the input into mono 16-bit PCM WAV at the configured rate
// and measures it.
func (e *execEngine) Decode(ctx context.Context, path string) (Audio, error) {
	file, err := os.CreateTemp("", "loqa_scribe_*.wav")
	if err != nil {
		return Audio{}, fmt.Errorf("temp file: %w", err)
	}
	out := file.Name()
	file.Close()
	cleanup := func() { _ = os.Remove(out) }

	args := append([]string{}, e.decodeCmd[1:]...)
	args = append(args,
		"-y", "-i", path,
		"-ac", "1", "-ar", strconv.Itoa(e.cfg.SampleRate),
		"-f", "wav",
		out,
	)
	command := exec.CommandContext(ctx, e.decodeCmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		cleanup()
		return Audio{}, fmt.Errorf("decode command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	samples, rate, err := measureWAV(out)
	if err != nil {
		cleanup()
		return Audio{}, err
	}
	if rate <= 0 {
		rate = e.cfg.SampleRate
	}
	return Audio{
		Source:     path,
		Path:       out,
		Samples:    samples,
		SampleRate: rate,
		cleanup:    cleanup,
	}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, audio Audio, opts Options) ([]Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if audio.Path == "" {
		return nil, fmt.Errorf("no decoded audio for %s", audio.Source)
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", audio.Path)
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	if e.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(e.cfg.Threads))
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}
	return resp.Segments, nil
}
