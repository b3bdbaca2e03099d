// Package transcribe connects audio sources to recognizer streams.
// It hosts the one-shot pipeline used by the CLI and the bus-driven
// session service used by the daemon.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/earshot-audio/earshot/internal/asr"
	"github.com/earshot-audio/earshot/internal/audio"
	"github.com/earshot-audio/earshot/internal/protocol"
	"github.com/earshot-audio/earshot/internal/sink"
)

// TransformFunc rewrites a finalized transcript before it reaches
// sinks or the bus. Filter chains satisfy this signature.
type TransformFunc func(ctx context.Context, t protocol.Transcript) (protocol.Transcript, error)

// Options tune a single transcription run.
type Options struct {
	SessionID      string
	PublishInterim bool
	Transform      TransformFunc
}

// Run drains src through one recognizer stream, emitting every
// result to out. It returns the finalized utterances joined with
// single spaces. On mid-stream failure the utterances finalized so
// far are returned alongside the error.
//
// Cancelling ctx stops the source; buffered audio is still flushed
// so the closing utterance is not lost.
func Run(ctx context.Context, src audio.Source, rec asr.Recognizer, out sink.Sink, opts Options) (string, error) {
	stream, err := rec.NewStream(ctx)
	if err != nil {
		return "", fmt.Errorf("open recognizer stream: %w", err)
	}
	defer stream.Close()

	var finals []string

	emitFinal := func(ctx context.Context, res asr.Result) error {
		t := toTranscript(opts.SessionID, res)
		t.Partial = false
		if opts.Transform != nil {
			transformed, err := opts.Transform(ctx, t)
			if err != nil {
				return fmt.Errorf("apply transcript filter: %w", err)
			}
			t = transformed
		}
		if t.Text != "" {
			finals = append(finals, t.Text)
		}
		return out.Emit(t)
	}

	for {
		frame, err := src.Next(ctx)
		if err != nil {
			if err == io.EOF || errors.Is(err, context.Canceled) {
				break
			}
			return strings.Join(finals, " "), err
		}
		res, err := stream.Accept(ctx, frame)
		if err != nil {
			return strings.Join(finals, " "), fmt.Errorf("accept frame: %w", err)
		}
		if res.Partial {
			if opts.PublishInterim {
				if err := out.Emit(toTranscript(opts.SessionID, res)); err != nil {
					return strings.Join(finals, " "), err
				}
			}
			continue
		}
		if err := emitFinal(ctx, res); err != nil {
			return strings.Join(finals, " "), err
		}
	}

	// A cancelled context must not swallow the closing utterance.
	flushCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	res, err := stream.Flush(flushCtx)
	if err != nil {
		return strings.Join(finals, " "), fmt.Errorf("flush recognizer: %w", err)
	}
	if err := emitFinal(flushCtx, res); err != nil {
		return strings.Join(finals, " "), err
	}

	return strings.Join(finals, " "), nil
}

func toTranscript(sessionID string, res asr.Result) protocol.Transcript {
	t := protocol.Transcript{
		SessionID:  sessionID,
		Text:       res.Text,
		Partial:    res.Partial,
		Timestamp:  time.Now().UTC(),
		Confidence: res.Confidence,
	}
	if len(res.Words) > 0 {
		t.Words = make([]protocol.Word, len(res.Words))
		for i, w := range res.Words {
			t.Words[i] = protocol.Word{Text: w.Text, Start: w.Start, End: w.End, Confidence: w.Confidence}
		}
	}
	return t
}
