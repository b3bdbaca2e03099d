// Package asr defines the speech recognition interfaces and the
// wire format shared by every backend. The Kaldi-based engine lives
// in the vosk subpackage so that code importing asr alone builds
// without cgo.
package asr

import "context"

// Config carries recognizer construction options. Backends read the
// fields they understand and ignore the rest.
type Config struct {
	ModelPath       string
	ServerURL       string
	Command         string
	SampleRate      int
	Words           bool
	MaxAlternatives int
}

// Stream decodes one session of 16-bit mono PCM. A Stream is not
// safe for concurrent use.
type Stream interface {
	// Accept feeds one frame of audio. It returns a finalized
	// Result when the engine detects an utterance boundary and a
	// partial hypothesis otherwise.
	Accept(ctx context.Context, pcm []byte) (Result, error)
	// Flush drains buffered audio and returns the closing
	// finalized Result for the stream.
	Flush(ctx context.Context) (Result, error)
	Close() error
}

// Recognizer creates decoding streams. Implementations hold the
// expensive state (model weights, connections) shared across
// streams.
type Recognizer interface {
	NewStream(ctx context.Context) (Stream, error)
	Close() error
}
