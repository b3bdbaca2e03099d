package asr

import (
	"encoding/json"
	"fmt"
)

// Word is one recognized token. Start and End are offsets in seconds
// from the beginning of the stream.
type Word struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"conf"`
}

// Alternative is one hypothesis for an utterance when the engine is
// configured to return more than one.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"result"`
}

// Result is a single recognizer emission. Partial results are
// rolling hypotheses for the current utterance; each one supersedes
// the previous until a finalized Result closes the utterance.
type Result struct {
	Text         string
	Partial      bool
	Confidence   float64
	Words        []Word
	Alternatives []Alternative
}

type engineResult struct {
	Text         string        `json:"text"`
	Words        []Word        `json:"result"`
	Alternatives []Alternative `json:"alternatives"`
}

type enginePartial struct {
	Partial string `json:"partial"`
	Words   []Word `json:"partial_result"`
}

// DecodeResult parses the JSON the engine emits for a finalized
// utterance. When alternatives are present the best one provides the
// top-level text and confidence.
func DecodeResult(data []byte) (Result, error) {
	var raw engineResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("decode recognizer result: %w", err)
	}
	res := Result{
		Text:         raw.Text,
		Words:        raw.Words,
		Alternatives: raw.Alternatives,
	}
	if len(raw.Alternatives) > 0 {
		best := raw.Alternatives[0]
		res.Text = best.Text
		res.Confidence = best.Confidence
		res.Words = best.Words
	} else if len(raw.Words) > 0 {
		var sum float64
		for _, w := range raw.Words {
			sum += w.Confidence
		}
		res.Confidence = sum / float64(len(raw.Words))
	}
	return res, nil
}

// DecodePartial parses the JSON the engine emits for an in-progress
// hypothesis.
func DecodePartial(data []byte) (Result, error) {
	var raw enginePartial
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("decode partial result: %w", err)
	}
	return Result{
		Text:    raw.Partial,
		Partial: true,
		Words:   raw.Words,
	}, nil
}

// DecodeMessage classifies a raw engine message as either a partial
// hypothesis or a finalized utterance. Remote servers interleave
// both on one connection.
func DecodeMessage(data []byte) (Result, error) {
	var probe struct {
		Partial *string `json:"partial"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Result{}, fmt.Errorf("decode recognizer message: %w", err)
	}
	if probe.Partial != nil {
		return DecodePartial(data)
	}
	return DecodeResult(data)
}
