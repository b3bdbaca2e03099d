package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	ASR         ASRConfig       `yaml:"asr"`
	Audio       AudioConfig     `yaml:"audio"`
	Output      OutputConfig    `yaml:"output"`
	Filters     FiltersConfig   `yaml:"filters"`
	Store       StoreConfig     `yaml:"store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ASRConfig selects the recognizer backend and its decoding options.
// Mode "vosk" runs the in-process engine against a local model
// directory, "server" streams to a recognition server over WebSocket,
// "exec" shells out to an external transcriber, and "mock" returns
// canned results for tests.
type ASRConfig struct {
	Mode            string `yaml:"mode"`
	ModelPath       string `yaml:"model_path"`
	ServerURL       string `yaml:"server_url"`
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	Words           bool   `yaml:"words"`
	MaxAlternatives int    `yaml:"max_alternatives"`
	PublishInterim  bool   `yaml:"publish_interim"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
}

type AudioConfig struct {
	FrameSamples        int    `yaml:"frame_samples"`
	CaptureFrameSamples int    `yaml:"capture_frame_samples"`
	CaptureCommand      string `yaml:"capture_command"`
	CaptureDevice       string `yaml:"capture_device"`
}

type OutputConfig struct {
	Format string `yaml:"format"`
}

type FiltersConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "earshot",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		ASR: ASRConfig{
			Mode:           "vosk",
			ModelPath:      "models/vosk-model-small-en-us-0.15",
			ServerURL:      "ws://localhost:2700",
			SampleRate:     16000,
			Channels:       1,
			Words:          true,
			PublishInterim: true,
			PartialEveryMS: 250,
		},
		Audio: AudioConfig{
			FrameSamples:        4000,
			CaptureFrameSamples: 8000,
			CaptureCommand:      "arecord -q -f S16_LE -r 16000 -c 1 -t raw",
		},
		Output: OutputConfig{
			Format: "text",
		},
		Filters: FiltersConfig{
			Enabled:   false,
			Directory: "./filters",
		},
		Store: StoreConfig{
			Path:          "./data/earshot.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "EARSHOT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "EARSHOT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "EARSHOT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "EARSHOT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "EARSHOT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EARSHOT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EARSHOT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "EARSHOT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "EARSHOT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "EARSHOT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "EARSHOT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "EARSHOT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "EARSHOT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "EARSHOT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "EARSHOT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "EARSHOT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.ASR.Mode, "EARSHOT_ASR_MODE")
	overrideString(&cfg.ASR.ModelPath, "EARSHOT_ASR_MODEL_PATH")
	overrideString(&cfg.ASR.ServerURL, "EARSHOT_ASR_SERVER_URL")
	overrideString(&cfg.ASR.Command, "EARSHOT_ASR_COMMAND")
	overrideInt(&cfg.ASR.SampleRate, "EARSHOT_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.Channels, "EARSHOT_ASR_CHANNELS")
	overrideBool(&cfg.ASR.Words, "EARSHOT_ASR_WORDS")
	overrideInt(&cfg.ASR.MaxAlternatives, "EARSHOT_ASR_MAX_ALTERNATIVES")
	overrideBool(&cfg.ASR.PublishInterim, "EARSHOT_ASR_PUBLISH_INTERIM")
	overrideInt(&cfg.ASR.PartialEveryMS, "EARSHOT_ASR_PARTIAL_EVERY_MS")
	overrideInt(&cfg.Audio.FrameSamples, "EARSHOT_AUDIO_FRAME_SAMPLES")
	overrideInt(&cfg.Audio.CaptureFrameSamples, "EARSHOT_AUDIO_CAPTURE_FRAME_SAMPLES")
	overrideString(&cfg.Audio.CaptureCommand, "EARSHOT_AUDIO_CAPTURE_COMMAND")
	overrideString(&cfg.Audio.CaptureDevice, "EARSHOT_AUDIO_CAPTURE_DEVICE")
	overrideString(&cfg.Output.Format, "EARSHOT_OUTPUT_FORMAT")
	overrideBool(&cfg.Filters.Enabled, "EARSHOT_FILTERS_ENABLED")
	overrideString(&cfg.Filters.Directory, "EARSHOT_FILTERS_DIRECTORY")
	overrideString(&cfg.Store.Path, "EARSHOT_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "EARSHOT_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "EARSHOT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "EARSHOT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "EARSHOT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.ASR.Mode {
	case "vosk", "server", "exec", "mock":
		// ok
	default:
		return errors.New("asr.mode must be one of vosk|server|exec|mock")
	}
	if cfg.ASR.Mode == "vosk" && cfg.ASR.ModelPath == "" {
		return errors.New("asr.model_path must be set when mode=vosk")
	}
	if cfg.ASR.Mode == "server" && cfg.ASR.ServerURL == "" {
		return errors.New("asr.server_url must be set when mode=server")
	}
	if cfg.ASR.Mode == "exec" && cfg.ASR.Command == "" {
		return errors.New("asr.command must be set when mode=exec")
	}
	if cfg.ASR.SampleRate <= 0 {
		return errors.New("asr.sample_rate must be positive")
	}
	if cfg.ASR.Channels != 1 {
		return errors.New("asr.channels must be 1, the recognizer accepts mono input only")
	}
	if cfg.ASR.MaxAlternatives < 0 {
		return errors.New("asr.max_alternatives must be >= 0")
	}
	if cfg.ASR.PartialEveryMS < 0 {
		return errors.New("asr.partial_every_ms must be >= 0")
	}
	if cfg.Audio.FrameSamples <= 0 {
		return errors.New("audio.frame_samples must be positive")
	}
	if cfg.Audio.CaptureFrameSamples <= 0 {
		return errors.New("audio.capture_frame_samples must be positive")
	}
	if strings.TrimSpace(cfg.Audio.CaptureCommand) == "" {
		return errors.New("audio.capture_command must not be empty")
	}
	switch cfg.Output.Format {
	case "text", "jsonl":
		// ok
	default:
		return errors.New("output.format must be one of text|jsonl")
	}
	if cfg.Filters.Enabled && cfg.Filters.Directory == "" {
		return errors.New("filters.directory must not be empty when filters are enabled")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}
