package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	STT         STTConfig        `yaml:"stt"`
	Media       MediaConfig      `yaml:"media"`
	Output      OutputConfig     `yaml:"output"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

type STTConfig struct {
	Mode           string  `yaml:"mode"` // exec, native, mock
	Command        string  `yaml:"command"`
	DecodeCommand  string  `yaml:"decode_command"`
	Model          string  `yaml:"model"`
	ModelDir       string  `yaml:"model_dir"`
	Language       string  `yaml:"language"`
	Device         string  `yaml:"device"`
	SampleRate     int     `yaml:"sample_rate"`
	PauseThreshold float64 `yaml:"pause_threshold"`
	Threads        int     `yaml:"threads"`
}

type MediaConfig struct {
	Extensions []string `yaml:"extensions"`
}

type OutputConfig struct {
	Path      string `yaml:"path"`
	Suffix    string `yaml:"suffix"`
	Extension string `yaml:"extension"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	Embedded       bool     `yaml:"embedded"`
	EmbeddedHost   string   `yaml:"embedded_host"`
	EmbeddedPort   int      `yaml:"embedded_port"`
}

// DefaultExtensions lists the media extensions recognized out of the box.
var DefaultExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".flv", ".wmv", ".mpg", ".mpeg", ".m4v", ".webm",
	".wav", ".mp3", ".m4a", ".flac", ".ogg", ".opus",
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		STT: STTConfig{
			Mode:           "exec",
			Command:        "loqa-whisper",
			DecodeCommand:  "ffmpeg -nostdin -hide_banner -loglevel error",
			Model:          "small",
			ModelDir:       "./models",
			Language:       "pl",
			Device:         "auto",
			SampleRate:     16000,
			PauseThreshold: 2.0,
		},
		Media: MediaConfig{
			Extensions: append([]string(nil), DefaultExtensions...),
		},
		Output: OutputConfig{
			Extension: ".txt",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-scribe.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "scribe",
			EmbeddedHost:   "127.0.0.1",
			EmbeddedPort:   4222,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
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
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.DecodeCommand, "LOQA_STT_DECODE_COMMAND")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.ModelDir, "LOQA_STT_MODEL_DIR")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.Device, "LOQA_STT_DEVICE")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideFloat(&cfg.STT.PauseThreshold, "LOQA_STT_PAUSE_THRESHOLD")
	overrideInt(&cfg.STT.Threads, "LOQA_STT_THREADS")
	overrideStringSlice(&cfg.Media.Extensions, "LOQA_MEDIA_EXTENSIONS")
	overrideString(&cfg.Output.Path, "LOQA_OUTPUT_PATH")
	overrideString(&cfg.Output.Suffix, "LOQA_OUTPUT_SUFFIX")
	overrideString(&cfg.Output.Extension, "LOQA_OUTPUT_EXTENSION")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "LOQA_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.EmbeddedHost, "LOQA_BUS_EMBEDDED_HOST")
	overrideInt(&cfg.Bus.EmbeddedPort, "LOQA_BUS_EMBEDDED_PORT")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func normalize(cfg *Config) {
	exts := make([]string, 0, len(cfg.Media.Extensions))
	for _, e := range cfg.Media.Extensions {
		if n := NormalizeExtension(e); n != "" {
			exts = append(exts, n)
		}
	}
	cfg.Media.Extensions = exts
	if cfg.Output.Extension != "" {
		cfg.Output.Extension = NormalizeExtension(cfg.Output.Extension)
	}
	cfg.STT.Device = strings.ToLower(strings.TrimSpace(cfg.STT.Device))
	cfg.STT.Mode = strings.ToLower(strings.TrimSpace(cfg.STT.Mode))
}

// Validate checks a fully merged configuration. Callers that mutate a loaded
// Config (for example with command-line flags) should validate again.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	switch cfg.STT.Mode {
	case "exec":
		if strings.TrimSpace(cfg.STT.Command) == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if strings.TrimSpace(cfg.STT.DecodeCommand) == "" {
			return errors.New("stt.decode_command must be set when mode=exec")
		}
	case "native":
		if cfg.STT.ModelDir == "" {
			return errors.New("stt.model_dir must be set when mode=native")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of exec|native|mock")
	}
	if cfg.STT.Model == "" {
		return errors.New("stt.model must not be empty")
	}
	switch cfg.STT.Device {
	case "", "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("stt.device must be one of auto|cpu|cuda, got %q", cfg.STT.Device)
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.PauseThreshold < 0 {
		return errors.New("stt.pause_threshold must be >= 0")
	}
	if cfg.STT.Threads < 0 {
		return errors.New("stt.threads must be >= 0")
	}
	if len(cfg.Media.Extensions) == 0 {
		return errors.New("media.extensions must not be empty")
	}
	if cfg.Output.Extension == "" {
		return errors.New("output.extension must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if len(cfg.Bus.Servers) == 0 && !cfg.Bus.Embedded {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.Embedded && (cfg.Bus.EmbeddedPort < -1 || cfg.Bus.EmbeddedPort > 65535) {
			return errors.New("bus.embedded_port must be -1 (random) or a valid TCP port")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty when the bus is enabled")
		}
	}
	return nil
}
