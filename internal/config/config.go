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
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Models        ModelsConfig        `yaml:"models"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	PostProcess   PostProcessConfig   `yaml:"postprocess"`
	History       HistoryConfig       `yaml:"history"`
	Performance   PerformanceConfig   `yaml:"performance"`
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

type ModelsConfig struct {
	Directory       string `yaml:"directory"`
	Selected        string `yaml:"selected"`
	FastModel       string `yaml:"fast_model"`
	QualityModel    string `yaml:"quality_model"`
	DownloadBaseURL string `yaml:"download_base_url"`
	LoadTimeoutMS   int    `yaml:"load_timeout_ms"`
	AutoUpgrade     bool   `yaml:"auto_upgrade"`
}

type TranscriptionConfig struct {
	Mode          string `yaml:"mode"`
	Command       string `yaml:"command"`
	Language      string `yaml:"language"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	MinDurationMS int    `yaml:"min_duration_ms"`
}

type PostProcessConfig struct {
	Expansions           map[string]string `yaml:"expansions"`
	VoiceCommandsEnabled bool              `yaml:"voice_commands_enabled"`
	VoiceCommands        []VoiceCommand    `yaml:"voice_commands"`
}

type VoiceCommand struct {
	Phrase  string `yaml:"phrase"`
	Action  string `yaml:"action"` // new_line, new_paragraph, scratch_that, custom
	Text    string `yaml:"text"`
	Enabled bool   `yaml:"enabled"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type PerformanceConfig struct {
	WindowSize        int     `yaml:"window_size"`
	StruggleRTF       float64 `yaml:"struggle_rtf"`
	SuggestionRTF     float64 `yaml:"suggestion_rtf"`
	ThermalSuggestRTF float64 `yaml:"thermal_suggest_rtf"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribe-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Models: ModelsConfig{
			Directory:       "./data/models",
			Selected:        "",
			FastModel:       "tiny-en",
			QualityModel:    "small-en",
			DownloadBaseURL: "https://models.scribelabs.dev/v1",
			LoadTimeoutMS:   30000,
			AutoUpgrade:     true,
		},
		Transcription: TranscriptionConfig{
			Mode:          "mock",
			Language:      "en",
			SampleRate:    16000,
			Channels:      1,
			MinDurationMS: 500,
		},
		PostProcess: PostProcessConfig{
			Expansions:           map[string]string{},
			VoiceCommandsEnabled: false,
		},
		History: HistoryConfig{
			Path:          "./data/scribe-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Performance: PerformanceConfig{
			WindowSize:        5,
			StruggleRTF:       1.5,
			SuggestionRTF:     2.0,
			ThermalSuggestRTF: 1.0,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Models.Directory, "SCRIBE_MODELS_DIRECTORY")
	overrideString(&cfg.Models.Selected, "SCRIBE_MODELS_SELECTED")
	overrideString(&cfg.Models.FastModel, "SCRIBE_MODELS_FAST_MODEL")
	overrideString(&cfg.Models.QualityModel, "SCRIBE_MODELS_QUALITY_MODEL")
	overrideString(&cfg.Models.DownloadBaseURL, "SCRIBE_MODELS_DOWNLOAD_BASE_URL")
	overrideInt(&cfg.Models.LoadTimeoutMS, "SCRIBE_MODELS_LOAD_TIMEOUT_MS")
	overrideBool(&cfg.Models.AutoUpgrade, "SCRIBE_MODELS_AUTO_UPGRADE")
	overrideString(&cfg.Transcription.Mode, "SCRIBE_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "SCRIBE_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.Language, "SCRIBE_TRANSCRIPTION_LANGUAGE")
	overrideInt(&cfg.Transcription.SampleRate, "SCRIBE_TRANSCRIPTION_SAMPLE_RATE")
	overrideInt(&cfg.Transcription.Channels, "SCRIBE_TRANSCRIPTION_CHANNELS")
	overrideInt(&cfg.Transcription.MinDurationMS, "SCRIBE_TRANSCRIPTION_MIN_DURATION_MS")
	overrideBool(&cfg.PostProcess.VoiceCommandsEnabled, "SCRIBE_POSTPROCESS_VOICE_COMMANDS_ENABLED")
	overrideString(&cfg.History.Path, "SCRIBE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "SCRIBE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "SCRIBE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "SCRIBE_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "SCRIBE_HISTORY_VACUUM_ON_START")
	overrideInt(&cfg.Performance.WindowSize, "SCRIBE_PERFORMANCE_WINDOW_SIZE")
	overrideFloat(&cfg.Performance.StruggleRTF, "SCRIBE_PERFORMANCE_STRUGGLE_RTF")
	overrideFloat(&cfg.Performance.SuggestionRTF, "SCRIBE_PERFORMANCE_SUGGESTION_RTF")
	overrideFloat(&cfg.Performance.ThermalSuggestRTF, "SCRIBE_PERFORMANCE_THERMAL_SUGGEST_RTF")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Models.Directory == "" {
		return errors.New("models.directory must not be empty")
	}
	if cfg.Models.FastModel == "" {
		return errors.New("models.fast_model must not be empty")
	}
	if cfg.Models.QualityModel == "" {
		return errors.New("models.quality_model must not be empty")
	}
	if cfg.Models.LoadTimeoutMS <= 0 {
		return errors.New("models.load_timeout_ms must be positive")
	}
	switch cfg.Transcription.Mode {
	case "mock", "exec":
	default:
		return errors.New("transcription.mode must be one of mock|exec")
	}
	if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	if cfg.Transcription.SampleRate <= 0 {
		return errors.New("transcription.sample_rate must be positive")
	}
	if cfg.Transcription.Channels <= 0 {
		return errors.New("transcription.channels must be positive")
	}
	if cfg.Transcription.MinDurationMS < 0 {
		return errors.New("transcription.min_duration_ms must be >= 0")
	}
	for _, vc := range cfg.PostProcess.VoiceCommands {
		switch vc.Action {
		case "new_line", "new_paragraph", "scratch_that", "custom":
		default:
			return fmt.Errorf("postprocess.voice_commands action must be one of new_line|new_paragraph|scratch_that|custom, got %q", vc.Action)
		}
		if vc.Phrase == "" {
			return errors.New("postprocess.voice_commands phrase must not be empty")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Performance.WindowSize <= 0 {
		return errors.New("performance.window_size must be >= 1")
	}
	if cfg.Performance.StruggleRTF <= 0 {
		return errors.New("performance.struggle_rtf must be positive")
	}
	return nil
}
