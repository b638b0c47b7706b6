package stt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// measureWAV returns the per-channel sample count and sample rate of a PCM WAV file.
func measureWAV(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return 0, 0, fmt.Errorf("invalid wav file %s", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, 0, fmt.Errorf("seek wav pcm: %w", err)
	}
	frameBytes := int64(dec.NumChans) * int64(dec.BitDepth/8)
	if frameBytes <= 0 {
		return 0, 0, fmt.Errorf("wav %s has no usable format", path)
	}
	return int(dec.PCMLen() / frameBytes), int(dec.SampleRate), nil
}

// readWAV decodes a 16-bit PCM WAV into mono float32 samples in [-1, 1].
func readWAV(path string) ([]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid wav file %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, 0, fmt.Errorf("wav %s has no pcm data", path)
	}
	return downmix(buf), buf.Format.SampleRate, nil
}

func downmix(buf *audio.IntBuffer) []float32 {
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c])
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}
