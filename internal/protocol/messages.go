package protocol

import "time"

// AudioFrame represents PCM audio data streamed by capture clients.
// PCM carries little-endian signed 16-bit samples. A frame with
// Final set closes the session after its payload (which may be
// empty) has been decoded.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Word is a single recognized token with its position in the audio
// stream. Start and End are offsets in seconds from the beginning of
// the session.
type Word struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"conf,omitempty"`
}

// Transcript represents recognizer output broadcast on the bus.
// Partial transcripts are in-progress hypotheses that later results
// supersede; final transcripts are stable utterance boundaries.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	Words      []Word    `json:"words,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "asr.text.partial"
	SubjectTranscriptFinal   = "asr.text.final"
)
