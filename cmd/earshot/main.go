package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/earshot-audio/earshot/internal/asr"
	"github.com/earshot-audio/earshot/internal/asr/vosk"
	"github.com/earshot-audio/earshot/internal/audio"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/filter/chain"
	"github.com/earshot-audio/earshot/internal/sink"
	"github.com/earshot-audio/earshot/internal/transcribe"
)

var version = "0.1.0-dev"

const defaultConfigPath = "earshot.yaml"

type options struct {
	configPath string
	filePath   string
	useMic     bool
	device     string
	outputPath string
	format     string
	noInterim  bool
}

func main() {
	var (
		opts        options
		showVersion bool
	)

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (earshot.yaml is picked up when present)")
	flag.StringVar(&opts.filePath, "file", "", "Transcribe a 16 kHz mono 16-bit PCM WAV file")
	flag.BoolVar(&opts.useMic, "mic", false, "Transcribe live microphone audio until interrupted")
	flag.StringVar(&opts.device, "device", "", "Capture device handed to the recorder command")
	flag.StringVar(&opts.outputPath, "output", "", "Write the transcript to a file in addition to the console")
	flag.StringVar(&opts.format, "format", "", "Transcript format, text or jsonl")
	flag.BoolVar(&opts.noInterim, "no-interim", false, "Suppress interim results")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}
	if (opts.filePath != "") == opts.useMic {
		fmt.Fprintln(os.Stderr, "specify exactly one of -file or -mic")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			opts.configPath = defaultConfigPath
		}
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.device != "" {
		cfg.Audio.CaptureDevice = opts.device
	}
	if opts.format != "" {
		cfg.Output.Format = opts.format
	}
	if opts.noInterim {
		cfg.ASR.PublishInterim = false
	}
	switch cfg.Output.Format {
	case "text", "jsonl":
	default:
		return fmt.Errorf("unknown format %q, want text or jsonl", cfg.Output.Format)
	}

	// Transcripts go to stdout, everything else to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := openSource(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer src.Close()
	if opts.useMic {
		logger.Info("listening, press Ctrl+C to stop")
	}

	rec, err := newRecognizer(cfg.ASR)
	if err != nil {
		return err
	}
	defer rec.Close()

	filters, err := chain.Load(ctx, cfg.Filters, logger)
	if err != nil {
		return err
	}
	defer filters.Close(context.Background())

	out, cleanup, err := buildSink(cfg, opts.outputPath)
	if err != nil {
		return err
	}
	defer cleanup()

	runOpts := transcribe.Options{
		SessionID:      uuid.NewString(),
		PublishInterim: cfg.ASR.PublishInterim,
	}
	if filters != nil {
		runOpts.Transform = filters.Transform
	}
	_, err = transcribe.Run(ctx, src, rec, out, runOpts)
	return err
}

func openSource(ctx context.Context, cfg config.Config, opts options) (audio.Source, error) {
	if opts.useMic {
		return audio.StartCapture(ctx, audio.CaptureConfig{
			Command:      cfg.Audio.CaptureCommand,
			Device:       cfg.Audio.CaptureDevice,
			SampleRate:   cfg.ASR.SampleRate,
			FrameSamples: cfg.Audio.CaptureFrameSamples,
		})
	}
	src, err := audio.OpenWAV(opts.filePath, cfg.ASR.SampleRate, cfg.Audio.FrameSamples)
	if err != nil {
		if errors.Is(err, audio.ErrFormat) {
			return nil, fmt.Errorf("%w; convert it with: ffmpeg -i %q -ar %d -ac 1 -sample_fmt s16 output.wav",
				err, opts.filePath, cfg.ASR.SampleRate)
		}
		return nil, err
	}
	return src, nil
}

func newRecognizer(cfg config.ASRConfig) (asr.Recognizer, error) {
	settings := asr.Config{
		ModelPath:       cfg.ModelPath,
		ServerURL:       cfg.ServerURL,
		Command:         cfg.Command,
		SampleRate:      cfg.SampleRate,
		Words:           cfg.Words,
		MaxAlternatives: cfg.MaxAlternatives,
	}
	switch cfg.Mode {
	case "vosk":
		return vosk.New(settings)
	case "server":
		return asr.NewServerRecognizer(settings)
	case "exec":
		return asr.NewExecRecognizer(settings)
	case "mock":
		return asr.NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown asr mode %q", cfg.Mode)
	}
}

func buildSink(cfg config.Config, outputPath string) (sink.Sink, func(), error) {
	if outputPath == "" {
		if cfg.Output.Format == "jsonl" {
			return sink.NewJSONL(os.Stdout), func() {}, nil
		}
		console := sink.NewConsole(os.Stdout)
		return console, func() { _ = console.Close() }, nil
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	var writer sink.Sink
	if cfg.Output.Format == "jsonl" {
		writer = sink.NewJSONL(file)
	} else {
		writer = sink.NewText(file)
	}
	console := sink.NewConsole(os.Stdout)
	cleanup := func() {
		_ = console.Close()
		_ = file.Close()
	}
	return sink.Fanout{console, writer}, cleanup, nil
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
