package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// CaptureConfig describes how to launch the external recorder.
type CaptureConfig struct {
	Command      string
	Device       string
	SampleRate   int
	FrameSamples int
}

// CaptureSource reads raw PCM from a recorder subprocess. The
// default command is arecord, but any program that writes S16_LE
// mono samples to stdout works. A {device} placeholder in the
// command is substituted with the configured device; without one the
// device is appended as an arecord-style -D flag.
type CaptureSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	buf    []byte
	rate   int

	waitOnce sync.Once
	waitErr  error
}

// StartCapture launches the recorder. The process is bound to ctx
// and is killed when it is cancelled.
func StartCapture(ctx context.Context, cfg CaptureConfig) (*CaptureSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	args = applyDevice(args, cfg.Device)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture command: %w", err)
	}

	frame := cfg.FrameSamples
	if frame <= 0 {
		frame = 8000
	}
	return &CaptureSource{
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		buf:    make([]byte, frame*BytesPerSample),
		rate:   cfg.SampleRate,
	}, nil
}

func applyDevice(args []string, device string) []string {
	if device == "" {
		return args
	}
	replaced := false
	out := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, "{device}") {
			a = strings.ReplaceAll(a, "{device}", device)
			replaced = true
		}
		out[i] = a
	}
	if !replaced {
		out = append(out, "-D", device)
	}
	return out
}

// Next blocks until a full frame has been captured. The frame
// preceding stream end may be shorter. When the recorder exits with
// a failure and the context is still live, its stderr is surfaced in
// the returned error.
func (s *CaptureSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := io.ReadFull(s.stdout, s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == nil || err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		if werr := s.wait(); werr != nil && ctx.Err() == nil {
			if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
				return nil, fmt.Errorf("capture command failed: %w: %s", werr, msg)
			}
			return nil, fmt.Errorf("capture command failed: %w", werr)
		}
		return nil, io.EOF
	}
	return nil, fmt.Errorf("read capture stream: %w", err)
}

func (s *CaptureSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *CaptureSource) SampleRate() int { return s.rate }

// Close stops the recorder if it is still running. The exit status
// of a killed recorder is not reported as an error.
func (s *CaptureSource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}
