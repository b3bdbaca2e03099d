package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ASR.Mode != "vosk" {
		t.Fatalf("expected default mode vosk, got %q", cfg.ASR.Mode)
	}
	if cfg.ASR.ModelPath != "models/vosk-model-small-en-us-0.15" {
		t.Fatalf("expected default model path, got %q", cfg.ASR.ModelPath)
	}
	if cfg.ASR.SampleRate != 16000 || cfg.ASR.Channels != 1 {
		t.Fatalf("expected 16 kHz mono defaults, got %d/%d", cfg.ASR.SampleRate, cfg.ASR.Channels)
	}
	if cfg.Audio.FrameSamples != 4000 || cfg.Audio.CaptureFrameSamples != 8000 {
		t.Fatalf("expected frame size defaults, got %d/%d", cfg.Audio.FrameSamples, cfg.Audio.CaptureFrameSamples)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	body := []byte(`
runtime_name: earshot-test
asr:
  mode: mock
  sample_rate: 8000
audio:
  frame_samples: 1600
output:
  format: jsonl
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "earshot-test" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if cfg.ASR.Mode != "mock" || cfg.ASR.SampleRate != 8000 {
		t.Fatalf("expected asr overrides, got %+v", cfg.ASR)
	}
	if cfg.Audio.FrameSamples != 1600 {
		t.Fatalf("expected frame samples override, got %d", cfg.Audio.FrameSamples)
	}
	if cfg.Output.Format != "jsonl" {
		t.Fatalf("expected output format override, got %q", cfg.Output.Format)
	}
	// Sections absent from the file keep their defaults.
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default http port, got %d", cfg.HTTP.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EARSHOT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("EARSHOT_BUS_USERNAME", "alice")
	t.Setenv("EARSHOT_BUS_PASSWORD", "secret")
	t.Setenv("EARSHOT_ASR_MODE", "exec")
	t.Setenv("EARSHOT_ASR_COMMAND", "transcriber --json")
	t.Setenv("EARSHOT_ASR_WORDS", "false")
	t.Setenv("EARSHOT_ASR_MAX_ALTERNATIVES", "3")
	t.Setenv("EARSHOT_AUDIO_CAPTURE_DEVICE", "hw:1,0")
	t.Setenv("EARSHOT_STORE_PATH", "./tmp.db")
	t.Setenv("EARSHOT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("EARSHOT_STORE_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.ASR.Mode != "exec" || cfg.ASR.Command != "transcriber --json" {
		t.Fatalf("expected asr exec override, got %+v", cfg.ASR)
	}
	if cfg.ASR.Words {
		t.Fatal("expected words override false")
	}
	if cfg.ASR.MaxAlternatives != 3 {
		t.Fatalf("expected max alternatives override, got %d", cfg.ASR.MaxAlternatives)
	}
	if cfg.Audio.CaptureDevice != "hw:1,0" {
		t.Fatalf("expected capture device override, got %q", cfg.Audio.CaptureDevice)
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Store.RetentionMode != "persistent" {
		t.Fatalf("expected store retention mode override")
	}
	if cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected store retention days override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown asr mode":      func(c *Config) { c.ASR.Mode = "whisper" },
		"vosk without model":    func(c *Config) { c.ASR.Mode = "vosk"; c.ASR.ModelPath = "" },
		"server without url":    func(c *Config) { c.ASR.Mode = "server"; c.ASR.ServerURL = "" },
		"exec without command":  func(c *Config) { c.ASR.Mode = "exec"; c.ASR.Command = "" },
		"stereo input":          func(c *Config) { c.ASR.Channels = 2 },
		"zero frame":            func(c *Config) { c.Audio.FrameSamples = 0 },
		"unknown output format": func(c *Config) { c.Output.Format = "xml" },
		"unknown retention":     func(c *Config) { c.Store.RetentionMode = "forever" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
