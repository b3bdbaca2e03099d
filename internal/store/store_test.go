package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.EnsureSession(ctx, "s1", "file"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := s.AppendSegment(ctx, protocol.Transcript{SessionID: "s1", Text: "hello"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}
	text, err := s.SessionTranscript(ctx, "s1")
	if err != nil {
		t.Fatalf("session transcript: %v", err)
	}
	if text != "" {
		t.Fatalf("expected ephemeral store to retain nothing, got %q", text)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "earshot.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.EnsureSession(ctx, "session-123", "mic"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	first := protocol.Transcript{
		SessionID:  "session-123",
		Text:       "one zero",
		Confidence: 0.97,
		Words: []protocol.Word{
			{Text: "one", Start: 0.87, End: 1.11, Confidence: 1},
			{Text: "zero", Start: 1.11, End: 1.53, Confidence: 0.94},
		},
	}
	if err := s.AppendSegment(ctx, first); err != nil {
		t.Fatalf("append segment: %v", err)
	}
	if err := s.AppendSegment(ctx, protocol.Transcript{SessionID: "session-123", Text: "five oh"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}

	segments, err := s.ListSegments(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "one zero" || segments[1].Text != "five oh" {
		t.Fatalf("expected arrival order, got %+v", segments)
	}
	if len(segments[0].Words) != 2 || segments[0].Words[1].Text != "zero" {
		t.Fatalf("expected word detail round trip, got %+v", segments[0].Words)
	}
	if segments[0].Confidence != 0.97 {
		t.Fatalf("expected confidence round trip, got %f", segments[0].Confidence)
	}

	text, err := s.SessionTranscript(ctx, "session-123")
	if err != nil {
		t.Fatalf("session transcript: %v", err)
	}
	if text != "one zero five oh" {
		t.Fatalf("expected joined transcript, got %q", text)
	}

	sessions, err := s.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "session-123" || sessions[0].Segments != 2 {
		t.Fatalf("unexpected session listing: %+v", sessions)
	}
	if sessions[0].Source != "mic" {
		t.Fatalf("expected session source, got %q", sessions[0].Source)
	}
}

func TestSessionModeResetsOnOpen(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "earshot.db"), RetentionMode: "session"}

	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := s.EnsureSession(ctx, "stale", "mic"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := s.AppendSegment(ctx, protocol.Transcript{SessionID: "stale", Text: "old words"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	s, err = Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessions, err := s.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected session mode to reset on open, got %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "earshot.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.EnsureSession(ctx, "old-session", "bus"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := s.AppendSegment(ctx, protocol.Transcript{SessionID: "old-session", Text: "stale"}); err != nil {
		t.Fatalf("append segment: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.EnsureSession(ctx, "new-session", "bus"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	segments, err := s.ListSegments(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected old session pruned, got %+v", segments)
	}
	sessions, err := s.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("expected only new session, got %+v", sessions)
	}
}
