//go:build !whispercpp

package stt

import "github.com/loqalabs/loqa-scribe/internal/config"

// NativeAvailable reports whether the whisper.cpp backend is compiled in.
func NativeAvailable() bool { return false }

// NewNativeEngine returns ErrNativeUnavailable when the backend is not built.
func NewNativeEngine(config.STTConfig) (Engine, error) {
	return nil, ErrNativeUnavailable
}
