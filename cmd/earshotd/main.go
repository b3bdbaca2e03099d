package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/earshot-audio/earshot/internal/asr"
	"github.com/earshot-audio/earshot/internal/asr/vosk"
	"github.com/earshot-audio/earshot/internal/bus"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/filter/chain"
	"github.com/earshot-audio/earshot/internal/natsserver"
	"github.com/earshot-audio/earshot/internal/runtime"
	"github.com/earshot-audio/earshot/internal/store"
	"github.com/earshot-audio/earshot/internal/transcribe"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "earshot.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedded, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to start embedded bus", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if embedded != nil {
		defer embedded.Shutdown()
	}

	busClient, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to connect to bus", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer busClient.Close()

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	filters, err := chain.Load(ctx, cfg.Filters, logger)
	if err != nil {
		logger.Error("failed to load filters", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer filters.Close(context.Background())

	recognizer, err := newRecognizer(cfg.ASR)
	if err != nil {
		logger.Error("failed to initialize recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer recognizer.Close()

	var transform transcribe.TransformFunc
	if filters != nil {
		transform = filters.Transform
	}
	svc := transcribe.NewService(ctx, cfg.ASR, busClient, recognizer, st, transform)
	if err := svc.Start(); err != nil {
		logger.Error("failed to start transcription service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer svc.Close()

	rt := runtime.New(cfg, logger, st,
		runtime.Check{Name: "bus", OK: busClient.Healthy},
		runtime.Check{Name: "asr", OK: svc.Healthy},
	)

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
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
