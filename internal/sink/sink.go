// Package sink renders transcripts for consumers: an interactive
// console with rolling partial hypotheses, plain text lines, and
// JSONL for machine consumption.
package sink

import "github.com/earshot-audio/earshot/internal/protocol"

// Sink consumes the transcript stream a pipeline produces.
type Sink interface {
	Emit(t protocol.Transcript) error
	Close() error
}

// Fanout forwards every transcript to each member sink in order.
type Fanout []Sink

func (f Fanout) Emit(t protocol.Transcript) error {
	for _, s := range f {
		if err := s.Emit(t); err != nil {
			return err
		}
	}
	return nil
}

func (f Fanout) Close() error {
	var firstErr error
	for _, s := range f {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
