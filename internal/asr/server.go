package asr

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

type serverRecognizer struct {
	cfg Config
}

// NewServerRecognizer streams audio to a remote recognition server
// over WebSocket. The wire protocol matches vosk-server: an optional
// configuration object up front, binary PCM frames in, one JSON
// result per frame out, and an eof marker to finalize.
func NewServerRecognizer(cfg Config) (Recognizer, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("server url must use ws or wss scheme, got %q", u.Scheme)
	}
	return &serverRecognizer{cfg: cfg}, nil
}

func (r *serverRecognizer) NewStream(ctx context.Context) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial recognition server: %w", err)
	}

	settings := map[string]any{"sample_rate": r.cfg.SampleRate}
	if r.cfg.Words {
		settings["words"] = true
	}
	if r.cfg.MaxAlternatives > 0 {
		settings["max_alternatives"] = r.cfg.MaxAlternatives
	}
	if err := conn.WriteJSON(map[string]any{"config": settings}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send server config: %w", err)
	}
	return &serverStream{conn: conn}, nil
}

func (r *serverRecognizer) Close() error { return nil }

type serverStream struct {
	conn *websocket.Conn
}

func (s *serverStream) Accept(ctx context.Context, pcm []byte) (Result, error) {
	if err := s.applyDeadline(ctx); err != nil {
		return Result{}, err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return Result{}, fmt.Errorf("send audio frame: %w", err)
	}
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return Result{}, fmt.Errorf("read recognition result: %w", err)
	}
	return DecodeMessage(msg)
}

func (s *serverStream) Flush(ctx context.Context) (Result, error) {
	if err := s.applyDeadline(ctx); err != nil {
		return Result{}, err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		return Result{}, fmt.Errorf("send eof: %w", err)
	}
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return Result{}, fmt.Errorf("read final result: %w", err)
	}
	res, err := DecodeMessage(msg)
	if err != nil {
		return Result{}, err
	}
	res.Partial = false
	return res, nil
}

// applyDeadline maps the context deadline onto the connection so a
// stalled server cannot block the pipeline past its budget.
func (s *serverStream) applyDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return s.conn.SetWriteDeadline(deadline)
}

func (s *serverStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
