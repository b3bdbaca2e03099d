package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrFormat marks WAV input the recognizer cannot consume. Callers
// can match it to suggest converting the file instead of surfacing a
// decode failure.
var ErrFormat = errors.New("unsupported wav format")

// FileSource reads frames from a RIFF/WAVE file. The header is
// validated on open so malformed input is rejected before any audio
// reaches the recognizer.
type FileSource struct {
	file *os.File
	dec  *wav.Decoder
	buf  *goaudio.IntBuffer
	pcm  []byte
	rate int
}

// OpenWAV opens path and validates that it contains 16-bit mono PCM
// at sampleRate Hz. frameSamples sets how many samples each call to
// Next yields.
func OpenWAV(path string, sampleRate, frameSamples int) (*FileSource, error) {
	if frameSamples <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSamples)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	dec := wav.NewDecoder(file)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if err := checkFormat(dec, sampleRate); err != nil {
		file.Close()
		return nil, err
	}
	return &FileSource{
		file: file,
		dec:  dec,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:   make([]int, frameSamples),
		},
		pcm:  make([]byte, frameSamples*BytesPerSample),
		rate: sampleRate,
	}, nil
}

func checkFormat(dec *wav.Decoder, sampleRate int) error {
	if dec.WavAudioFormat != 1 {
		return fmt.Errorf("%w: audio must be uncompressed PCM, got format code %d", ErrFormat, dec.WavAudioFormat)
	}
	if dec.BitDepth != 16 {
		return fmt.Errorf("%w: audio must be 16-bit, got %d-bit", ErrFormat, dec.BitDepth)
	}
	if dec.NumChans != 1 {
		return fmt.Errorf("%w: audio must be mono, got %d channels", ErrFormat, dec.NumChans)
	}
	if int(dec.SampleRate) != sampleRate {
		return fmt.Errorf("%w: audio must be sampled at %d Hz, got %d Hz", ErrFormat, sampleRate, dec.SampleRate)
	}
	return nil
}

// Next decodes up to one frame of samples. The last frame of a file
// may be shorter than the configured frame size.
func (s *FileSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	out := s.pcm[:n*BytesPerSample]
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(s.buf.Data[i])))
	}
	return out, nil
}

func (s *FileSource) SampleRate() int { return s.rate }

// Duration reports the total length of the file's audio payload.
func (s *FileSource) Duration() (time.Duration, error) {
	return s.dec.Duration()
}

func (s *FileSource) Close() error {
	return s.file.Close()
}

// WriteWAV encodes little-endian 16-bit PCM as a RIFF/WAVE stream.
// An empty payload produces a valid file with a zero-length data
// chunk.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%BytesPerSample != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/BytesPerSample)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
