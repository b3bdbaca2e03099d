package sink

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/earshot-audio/earshot/internal/protocol"
)

// TextWriter appends each finalized utterance as one line. Partials
// and empty finals are dropped. The writer does not own w.
type TextWriter struct {
	w io.Writer
}

func NewText(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

func (s *TextWriter) Emit(t protocol.Transcript) error {
	if t.Partial || t.Text == "" {
		return nil
	}
	_, err := fmt.Fprintln(s.w, t.Text)
	return err
}

func (s *TextWriter) Close() error { return nil }

// JSONLWriter emits one JSON object per transcript, partials
// included, for downstream tooling. The writer does not own w.
type JSONLWriter struct {
	enc *json.Encoder
}

func NewJSONL(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

func (s *JSONLWriter) Emit(t protocol.Transcript) error {
	return s.enc.Encode(t)
}

func (s *JSONLWriter) Close() error { return nil }
