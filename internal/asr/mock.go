package asr

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

// NewMockRecognizer returns canned results keyed to the amount of
// audio received. It exercises the pipeline without a model.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) NewStream(_ context.Context) (Stream, error) {
	return &mockStream{}, nil
}

func (m *mockRecognizer) Close() error { return nil }

type mockStream struct {
	total int
}

func (s *mockStream) Accept(_ context.Context, pcm []byte) (Result, error) {
	s.total += len(pcm)
	return Result{
		Text:    fmt.Sprintf("[partial transcript length=%d]", s.total),
		Partial: true,
	}, nil
}

func (s *mockStream) Flush(context.Context) (Result, error) {
	return Result{Text: fmt.Sprintf("[final transcript length=%d]", s.total)}, nil
}

func (s *mockStream) Close() error { return nil }
