package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/earshot-audio/earshot/internal/asr"
	"github.com/earshot-audio/earshot/internal/bus"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/protocol"
	"github.com/earshot-audio/earshot/internal/store"
)

// transcribeTimeout bounds a single recognizer call. Streaming accepts
// return in milliseconds, but the exec backend transcribes the whole
// session on flush and can take far longer.
const transcribeTimeout = 45 * time.Second

// sessionBacklog is the per-session frame buffer. Frames arriving
// faster than the recognizer drains them are dropped once it fills.
const sessionBacklog = 64

// Service consumes audio frames from the bus and publishes transcripts.
// Each session id gets its own recognizer stream and worker goroutine
// so decoding for one session never stalls another.
type Service struct {
	cfg       config.ASRConfig
	bus       *bus.Client
	rec       asr.Recognizer
	store     *store.Store
	transform TransformFunc

	sessions map[string]*session
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    bool

	meter        metric.Meter
	frameCount   metric.Int64Counter
	transcripts  metric.Int64Counter
	sessionGauge metric.Int64ObservableGauge
}

type session struct {
	id          string
	stream      asr.Stream
	frames      chan protocol.AudioFrame
	lastPartial time.Time
}

// NewService wires the frame consumer. The store and transform may be
// nil; persistence and filtering are then skipped.
func NewService(parent context.Context, cfg config.ASRConfig, busClient *bus.Client, rec asr.Recognizer, st *store.Store, transform TransformFunc) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		rec:       rec,
		store:     st,
		transform: transform,
		sessions:  make(map[string]*session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	if err := s.initMetrics(); err != nil {
		s.bus.Logger().Warn("failed to initialize metrics", slogError(err))
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		s.bus.Logger().Warn("dropping audio frame without session id")
		return
	}
	if s.frameCount != nil {
		s.frameCount.Add(s.ctx, 1)
	}

	sess, err := s.session(frame.SessionID)
	if err != nil {
		s.bus.Logger().Warn("failed to open recognizer stream",
			slog.String("session_id", frame.SessionID), slogError(err))
		return
	}
	select {
	case sess.frames <- frame:
	default:
		s.bus.Logger().Warn("dropping audio frame, session backlog full",
			slog.String("session_id", frame.SessionID))
	}
}

func (s *Service) session(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	stream, err := s.rec.NewStream(s.ctx)
	if err != nil {
		return nil, err
	}
	sess := &session{
		id:     id,
		stream: stream,
		frames: make(chan protocol.AudioFrame, sessionBacklog),
	}
	s.sessions[id] = sess
	if s.store != nil {
		if err := s.store.EnsureSession(s.ctx, id, "bus"); err != nil {
			s.bus.Logger().Warn("failed to record session",
				slog.String("session_id", id), slogError(err))
		}
	}
	s.wg.Add(1)
	go s.runSession(sess)
	return sess, nil
}

func (s *Service) runSession(sess *session) {
	defer s.wg.Done()
	defer s.finishSession(sess)
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-sess.frames:
			if s.processFrame(sess, frame) {
				return
			}
		}
	}
}

// processFrame feeds one frame to the session stream. It reports true
// once the session is finished and the worker should exit.
func (s *Service) processFrame(sess *session, frame protocol.AudioFrame) bool {
	ctx, cancel := context.WithTimeout(s.ctx, transcribeTimeout)
	defer cancel()

	if len(frame.PCM) > 0 {
		res, err := sess.stream.Accept(ctx, frame.PCM)
		switch {
		case err != nil:
			s.bus.Logger().Warn("recognizer rejected audio frame",
				slog.String("session_id", sess.id), slogError(err))
		case res.Partial:
			s.maybePublishPartial(sess, res)
		default:
			// Utterance boundary inside a running session.
			s.handleFinal(sess.id, res)
		}
	}

	if !frame.Final {
		return false
	}
	res, err := sess.stream.Flush(ctx)
	if err != nil {
		s.bus.Logger().Warn("failed to flush recognizer stream",
			slog.String("session_id", sess.id), slogError(err))
		return true
	}
	s.handleFinal(sess.id, res)
	return true
}

func (s *Service) maybePublishPartial(sess *session, res asr.Result) {
	if !s.cfg.PublishInterim {
		return
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval > 0 && !sess.lastPartial.IsZero() && time.Since(sess.lastPartial) < interval {
		return
	}
	sess.lastPartial = time.Now()
	s.publishTranscript(toTranscript(sess.id, res))
}

func (s *Service) handleFinal(sessionID string, res asr.Result) {
	t := toTranscript(sessionID, res)
	if s.transform != nil {
		out, err := s.transform(s.ctx, t)
		if err != nil {
			s.bus.Logger().Warn("transcript filter failed, dropping transcript",
				slog.String("session_id", sessionID), slogError(err))
			return
		}
		t = out
	}
	if t.Text == "" {
		return
	}
	s.publishTranscript(t)
	if s.store != nil {
		if err := s.store.AppendSegment(s.ctx, t); err != nil {
			s.bus.Logger().Warn("failed to persist transcript",
				slog.String("session_id", sessionID), slogError(err))
		}
	}
}

func (s *Service) publishTranscript(t protocol.Transcript) {
	if t.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptFinal
	kind := "final"
	if t.Partial {
		subject = protocol.SubjectTranscriptPartial
		kind = "partial"
	}
	data, err := json.Marshal(t)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript", slogError(err))
		return
	}
	if s.transcripts != nil {
		s.transcripts.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (s *Service) finishSession(sess *session) {
	if err := sess.stream.Close(); err != nil {
		s.bus.Logger().Warn("failed to close recognizer stream",
			slog.String("session_id", sess.id), slogError(err))
	}
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Service) initMetrics() error {
	s.meter = otel.Meter("github.com/earshot-audio/earshot/transcribe")
	frames, err := s.meter.Int64Counter("earshot.asr.frames",
		metric.WithDescription("Audio frames accepted from the bus"))
	if err != nil {
		return err
	}
	transcripts, err := s.meter.Int64Counter("earshot.asr.transcripts",
		metric.WithDescription("Transcripts published to the bus"))
	if err != nil {
		return err
	}
	gauge, err := s.meter.Int64ObservableGauge("earshot.asr.sessions",
		metric.WithDescription("Recognizer streams currently open"))
	if err != nil {
		return err
	}
	s.frameCount = frames
	s.transcripts = transcripts
	s.sessionGauge = gauge
	_, err = s.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		s.mu.Lock()
		open := int64(len(s.sessions))
		s.mu.Unlock()
		obs.ObserveInt64(gauge, open)
		return nil
	}, gauge)
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
