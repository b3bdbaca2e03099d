package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/earshot-audio/earshot/internal/audio"
)

type execRecognizer struct {
	cmd []string
	cfg Config
}

type execOutput struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer shells out to an external transcriber. Streams
// buffer their audio and run the command once on Flush, with the
// buffered PCM handed over as a temporary WAV file.
func NewExecRecognizer(cfg Config) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("transcriber command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) NewStream(_ context.Context) (Stream, error) {
	return &execStream{rec: r}, nil
}

func (r *execRecognizer) Close() error { return nil }

type execStream struct {
	rec *execRecognizer
	buf bytes.Buffer
}

func (s *execStream) Accept(ctx context.Context, pcm []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.buf.Write(pcm)
	return Result{Partial: true}, nil
}

func (s *execStream) Flush(ctx context.Context) (Result, error) {
	file, err := os.CreateTemp("", "earshot_asr_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, s.buf.Bytes(), s.rec.cfg.SampleRate, 1); err != nil {
		return Result{}, err
	}

	args := append([]string{}, s.rec.cmd...)
	base := args[0]
	cmdArgs := append(args[1:], "--audio", file.Name())
	if s.rec.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", s.rec.cfg.ModelPath)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("transcriber command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("decode transcriber response: %w", err)
	}
	s.buf.Reset()
	return Result{Text: out.Text, Confidence: out.Confidence}, nil
}

func (s *execStream) Close() error { return nil }
