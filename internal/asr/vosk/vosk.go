// Package vosk adapts the Kaldi-based Vosk engine to the asr
// interfaces. It needs cgo and the libvosk shared library, so it
// stays out of the parent package to keep model-free builds and
// tests lean.
package vosk

import (
	"context"
	"fmt"
	"os"

	voskapi "github.com/alphacep/vosk-api/go"

	"github.com/earshot-audio/earshot/internal/asr"
)

const modelCatalogURL = "https://alphacephei.com/vosk/models"

// New loads the acoustic model at cfg.ModelPath. Loading takes
// seconds for the small models; callers reuse the returned
// Recognizer across streams.
func New(cfg asr.Config) (asr.Recognizer, error) {
	info, err := os.Stat(cfg.ModelPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("model directory %q not found: download a model from %s and unpack it there", cfg.ModelPath, modelCatalogURL)
	}

	// The engine logs Kaldi internals to stderr by default, which
	// would corrupt console transcript output.
	voskapi.SetLogLevel(-1)

	model, err := voskapi.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &recognizer{cfg: cfg, model: model}, nil
}

type recognizer struct {
	cfg   asr.Config
	model *voskapi.VoskModel
}

func (r *recognizer) NewStream(ctx context.Context) (asr.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := voskapi.NewRecognizer(r.model, float64(r.cfg.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("create recognizer: %w", err)
	}
	if r.cfg.Words {
		rec.SetWords(1)
		rec.SetPartialWords(1)
	}
	if r.cfg.MaxAlternatives > 0 {
		rec.SetMaxAlternatives(r.cfg.MaxAlternatives)
	}
	return &stream{rec: rec}, nil
}

func (r *recognizer) Close() error {
	r.model.Free()
	return nil
}

type stream struct {
	rec *voskapi.VoskRecognizer
}

func (s *stream) Accept(ctx context.Context, pcm []byte) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	switch state := s.rec.AcceptWaveform(pcm); state {
	case 1:
		return asr.DecodeResult([]byte(s.rec.Result()))
	case 0:
		return asr.DecodePartial([]byte(s.rec.PartialResult()))
	default:
		return asr.Result{}, fmt.Errorf("recognizer rejected waveform (state %d)", state)
	}
}

func (s *stream) Flush(ctx context.Context) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	return asr.DecodeResult([]byte(s.rec.FinalResult()))
}

func (s *stream) Close() error {
	s.rec.Free()
	return nil
}
