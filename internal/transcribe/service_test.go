package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/earshot-audio/earshot/internal/asr"
	"github.com/earshot-audio/earshot/internal/bus"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/natsserver"
	"github.com/earshot-audio/earshot/internal/protocol"
	"github.com/earshot-audio/earshot/internal/store"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.BusConfig{
		Embedded:       true,
		Port:           -1,
		StoreDir:       t.TempDir(),
		ConnectTimeout: 2000,
	}
	srv, err := natsserver.Start(cfg, log)
	if err != nil {
		t.Fatalf("start embedded bus: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func startService(t *testing.T, client *bus.Client, cfg config.ASRConfig, st *store.Store, transform TransformFunc) *Service {
	t.Helper()
	svc := NewService(context.Background(), cfg, client, asr.NewMockRecognizer(), st, transform)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func publishFrame(t *testing.T, client *bus.Client, frame protocol.AudioFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	subject := protocol.SubjectAudioFramePrefix + "." + frame.SessionID
	if err := client.Conn().Publish(subject, data); err != nil {
		t.Fatalf("publish frame: %v", err)
	}
}

func nextTranscript(t *testing.T, sub *nats.Subscription) protocol.Transcript {
	t.Helper()
	msg, err := sub.NextMsg(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for transcript: %v", err)
	}
	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	return tr
}

func waitForSessionCleanup(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		svc.mu.Lock()
		open := len(svc.sessions)
		svc.mu.Unlock()
		if open == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected session cleanup, %d still open", open)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServicePublishesPartialAndFinal(t *testing.T) {
	client := startBus(t)
	partials, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptPartial)
	if err != nil {
		t.Fatalf("subscribe partials: %v", err)
	}
	finals, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe finals: %v", err)
	}

	cfg := config.ASRConfig{Mode: "mock", SampleRate: 16000, Channels: 1, PublishInterim: true}
	svc := startService(t, client, cfg, nil, nil)

	publishFrame(t, client, protocol.AudioFrame{SessionID: "s1", SampleRate: 16000, Channels: 1, PCM: make([]byte, 100)})
	tr := nextTranscript(t, partials)
	if tr.Text != "[partial transcript length=100]" || !tr.Partial {
		t.Fatalf("unexpected partial %+v", tr)
	}
	if tr.SessionID != "s1" {
		t.Fatalf("expected session s1, got %q", tr.SessionID)
	}

	publishFrame(t, client, protocol.AudioFrame{SessionID: "s1", Final: true})
	tr = nextTranscript(t, finals)
	if tr.Text != "[final transcript length=100]" || tr.Partial {
		t.Fatalf("unexpected final %+v", tr)
	}

	waitForSessionCleanup(t, svc)
}

func TestServiceSuppressesInterim(t *testing.T) {
	client := startBus(t)
	partials, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptPartial)
	if err != nil {
		t.Fatalf("subscribe partials: %v", err)
	}
	finals, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe finals: %v", err)
	}

	cfg := config.ASRConfig{Mode: "mock", SampleRate: 16000, Channels: 1, PublishInterim: false}
	startService(t, client, cfg, nil, nil)

	publishFrame(t, client, protocol.AudioFrame{SessionID: "s2", PCM: make([]byte, 40)})
	publishFrame(t, client, protocol.AudioFrame{SessionID: "s2", PCM: make([]byte, 60), Final: true})

	tr := nextTranscript(t, finals)
	if tr.Text != "[final transcript length=100]" {
		t.Fatalf("unexpected final %+v", tr)
	}
	// The final arrived, so any partial would already be queued.
	if _, err := partials.NextMsg(250 * time.Millisecond); !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("expected no partial transcript, got err=%v", err)
	}
}

func TestServicePersistsFinals(t *testing.T) {
	client := startBus(t)
	finals, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe finals: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(context.Background(), config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "earshot.db"),
		RetentionMode: "persistent",
	}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.ASRConfig{Mode: "mock", SampleRate: 16000, Channels: 1}
	startService(t, client, cfg, st, nil)

	publishFrame(t, client, protocol.AudioFrame{SessionID: "s3", PCM: make([]byte, 80), Final: true})
	nextTranscript(t, finals)

	deadline := time.Now().Add(2 * time.Second)
	for {
		segments, err := st.ListSegments(context.Background(), "s3", 0)
		if err != nil {
			t.Fatalf("list segments: %v", err)
		}
		if len(segments) == 1 {
			if segments[0].Text != "[final transcript length=80]" {
				t.Fatalf("unexpected segment %+v", segments[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 persisted segment, got %d", len(segments))
		}
		time.Sleep(10 * time.Millisecond)
	}

	text, err := st.SessionTranscript(context.Background(), "s3")
	if err != nil {
		t.Fatalf("session transcript: %v", err)
	}
	if text != "[final transcript length=80]" {
		t.Fatalf("unexpected transcript %q", text)
	}

	sessions, err := st.Sessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s3" || sessions[0].Source != "bus" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestServiceAppliesTransform(t *testing.T) {
	client := startBus(t)
	finals, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe finals: %v", err)
	}

	upper := func(ctx context.Context, tr protocol.Transcript) (protocol.Transcript, error) {
		tr.Text = strings.ToUpper(tr.Text)
		return tr, nil
	}
	cfg := config.ASRConfig{Mode: "mock", SampleRate: 16000, Channels: 1}
	startService(t, client, cfg, nil, upper)

	publishFrame(t, client, protocol.AudioFrame{SessionID: "s4", PCM: make([]byte, 20), Final: true})
	tr := nextTranscript(t, finals)
	if tr.Text != "[FINAL TRANSCRIPT LENGTH=20]" {
		t.Fatalf("expected transformed final, got %+v", tr)
	}
}

func TestServiceDropsTranscriptOnTransformFailure(t *testing.T) {
	client := startBus(t)
	finals, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	if err != nil {
		t.Fatalf("subscribe finals: %v", err)
	}

	broken := func(ctx context.Context, tr protocol.Transcript) (protocol.Transcript, error) {
		return tr, errors.New("filter trap")
	}
	cfg := config.ASRConfig{Mode: "mock", SampleRate: 16000, Channels: 1}
	svc := startService(t, client, cfg, nil, broken)

	publishFrame(t, client, protocol.AudioFrame{SessionID: "s5", PCM: make([]byte, 20), Final: true})
	waitForSessionCleanup(t, svc)
	if _, err := finals.NextMsg(250 * time.Millisecond); !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("expected transcript to be dropped, got err=%v", err)
	}
}
