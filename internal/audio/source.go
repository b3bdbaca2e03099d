// Package audio provides the PCM sources the transcription pipeline
// reads from: WAV files and microphone capture through an external
// recorder process. Every source yields little-endian signed 16-bit
// mono samples.
package audio

import "context"

// Source yields successive frames of 16-bit mono PCM.
type Source interface {
	// Next returns the next frame of PCM bytes. It returns io.EOF
	// once the source is exhausted. The returned slice is reused
	// between calls; callers must not retain it.
	Next(ctx context.Context) ([]byte, error)
	// SampleRate reports the rate of the stream in Hz.
	SampleRate() int
	Close() error
}

// BytesPerSample is the width of one sample on the wire.
const BytesPerSample = 2
