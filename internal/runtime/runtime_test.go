package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/protocol"
	"github.com/earshot-audio/earshot/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadinessChecks(t *testing.T) {
	busUp := true
	rt := New(config.Default(), discardLogger(), nil, Check{Name: "bus", OK: func() bool { return busUp }})
	mux := rt.routes(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d: %s", rec.Code, rec.Body.String())
	}

	busUp = false
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "bus") {
		t.Fatalf("expected failing bus check, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSessionEndpoints(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "earshot.db"),
		RetentionMode: "persistent",
	}, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.EnsureSession(ctx, "s1", "mic"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	for _, text := range []string{"hello", "world"} {
		if err := st.AppendSegment(ctx, protocol.Transcript{SessionID: "s1", Text: text}); err != nil {
			t.Fatalf("append segment: %v", err)
		}
	}

	rt := New(config.Default(), discardLogger(), st)
	mux := rt.routes(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: expected 200, got %d", rec.Code)
	}
	var sessions []store.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil))
	var segments []store.Segment
	if err := json.Unmarshal(rec.Body.Bytes(), &segments); err != nil {
		t.Fatalf("decode segments: %v", err)
	}
	if len(segments) != 2 || segments[0].Text != "hello" {
		t.Fatalf("unexpected segments %+v", segments)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/transcript", nil))
	if got := rec.Body.String(); got != "hello world" {
		t.Fatalf("expected joined transcript, got %q", got)
	}
}
