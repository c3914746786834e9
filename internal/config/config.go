// Package config loads service settings from defaults, an optional YAML
// file, a .env file and NARRASI_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port          int      `yaml:"port"`
	PublicBaseURL string   `yaml:"public_base_url"`
	AllowOrigins  []string `yaml:"allow_origins"`
	ShutdownMS    int      `yaml:"shutdown_timeout_ms"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	Issuer        string `yaml:"issuer"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

type WorkerConfig struct {
	Mode          string  `yaml:"mode"` // mock, http
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	PollInitialMS int     `yaml:"poll_initial_ms"`
	PollMaxMS     int     `yaml:"poll_max_ms"`
	PollFactor    float64 `yaml:"poll_factor"`
	JobTimeoutMS  int     `yaml:"job_timeout_ms"`
	SampleRate    int     `yaml:"sample_rate"`
}

type SynthesisConfig struct {
	Segments         int     `yaml:"segments"`
	Concurrency      int     `yaml:"concurrency"`
	MinChunkLength   int     `yaml:"min_chunk_length"`
	MaxChunkLength   int     `yaml:"max_chunk_length"`
	MaxAttempts      int     `yaml:"max_attempts"`
	BaseDelayMS      int     `yaml:"base_delay_ms"`
	MaxDelayMS       int     `yaml:"max_delay_ms"`
	SilenceWindowMS  int     `yaml:"silence_window_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	MaxSilentRatio   float64 `yaml:"max_silent_ratio"`
}

type TranscriptionConfig struct {
	Provider     string  `yaml:"provider"` // none, google, http
	LanguageCode string  `yaml:"language_code"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	MaxBytes     int     `yaml:"max_bytes"`
	MaxSeconds   float64 `yaml:"max_seconds"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type RepetitionConfig struct {
	Lookahead            int     `yaml:"lookahead"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	ContainmentThreshold float64 `yaml:"containment_threshold"`
	MinWords             int     `yaml:"min_words"`
	MinPhraseWords       int     `yaml:"min_phrase_words"`
	MaxPhraseWords       int     `yaml:"max_phrase_words"`
	MergeGapMS           int     `yaml:"merge_gap_ms"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // local, gridfs
	Root    string `yaml:"root"`
	Bucket  string `yaml:"bucket"`
	Records string `yaml:"records"` // memory, mongo
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type AudioConfig struct {
	FFmpegCommand string `yaml:"ffmpeg_command"`
	TempDir       string `yaml:"temp_dir"`
}

type VoiceSampleConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
	MaxBytes     int      `yaml:"max_bytes"`
	TimeoutMS    int      `yaml:"timeout_ms"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ProgressConfig struct {
	HeartbeatMS int `yaml:"heartbeat_ms"`
	Buffer      int `yaml:"buffer"`
}

type JobsConfig struct {
	RetentionMS       int `yaml:"retention_ms"`
	CleanupIntervalMS int `yaml:"cleanup_interval_ms"`
}

type Config struct {
	ServiceName   string              `yaml:"service_name"`
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Worker        WorkerConfig        `yaml:"worker"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Repetition    RepetitionConfig    `yaml:"repetition"`
	Storage       StorageConfig       `yaml:"storage"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Audio         AudioConfig         `yaml:"audio"`
	VoiceSample   VoiceSampleConfig   `yaml:"voice_sample"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Progress      ProgressConfig      `yaml:"progress"`
	Jobs          JobsConfig          `yaml:"jobs"`
}

func Default() Config {
	return Config{
		ServiceName: "narrasi",
		Environment: "development",
		Server: ServerConfig{
			Port:          8080,
			PublicBaseURL: "http://localhost:8080",
			ShutdownMS:    10000,
		},
		Auth: AuthConfig{
			Issuer:        "narrasi",
			TokenTTLHours: 24,
		},
		Worker: WorkerConfig{
			Mode:          "mock",
			PollInitialMS: 250,
			PollMaxMS:     3000,
			PollFactor:    1.5,
			JobTimeoutMS:  300000,
			SampleRate:    24000,
		},
		Synthesis: SynthesisConfig{
			Segments:         10,
			Concurrency:      10,
			MinChunkLength:   3,
			MaxChunkLength:   300,
			MaxAttempts:      3,
			BaseDelayMS:      1000,
			MaxDelayMS:       8000,
			SilenceWindowMS:  50,
			SilenceThreshold: 0.01,
			MaxSilentRatio:   0.5,
		},
		Transcription: TranscriptionConfig{
			Provider:     "none",
			LanguageCode: "en-US",
			TimeoutMS:    120000,
		},
		Repetition: RepetitionConfig{
			Lookahead:            3,
			SimilarityThreshold:  0.8,
			ContainmentThreshold: 0.8,
			MinWords:             3,
			MinPhraseWords:       4,
			MaxPhraseWords:       10,
			MergeGapMS:           100,
		},
		Storage: StorageConfig{
			Backend: "local",
			Root:    "./data/assets",
			Bucket:  "audio",
			Records: "memory",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "narrasi",
		},
		Audio: AudioConfig{
			FFmpegCommand: "ffmpeg -hide_banner -loglevel error",
		},
		VoiceSample: VoiceSampleConfig{
			MaxBytes:  10 * 1024 * 1024,
			TimeoutMS: 30000,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Progress: ProgressConfig{
			HeartbeatMS: 15000,
			Buffer:      64,
		},
		Jobs: JobsConfig{
			RetentionMS:       3600000,
			CleanupIntervalMS: 60000,
		},
	}
}

// Load builds the configuration. A missing .env file is ignored; a
// missing YAML file named by path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read .env file: %w", err)
	}

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
	// Names shared with existing deployments
	overrideInt(&cfg.Server.Port, "PORT")
	overrideString(&cfg.Mongo.URI, "MONGODB_URI")
	overrideString(&cfg.Mongo.Database, "MONGODB_DATABASE")

	overrideString(&cfg.ServiceName, "NARRASI_SERVICE_NAME")
	overrideString(&cfg.Environment, "NARRASI_ENVIRONMENT")
	overrideInt(&cfg.Server.Port, "NARRASI_SERVER_PORT")
	overrideString(&cfg.Server.PublicBaseURL, "NARRASI_SERVER_PUBLIC_BASE_URL")
	overrideStringSlice(&cfg.Server.AllowOrigins, "NARRASI_SERVER_ALLOW_ORIGINS")
	overrideInt(&cfg.Server.ShutdownMS, "NARRASI_SERVER_SHUTDOWN_TIMEOUT_MS")
	overrideString(&cfg.Auth.JWTSecret, "NARRASI_AUTH_JWT_SECRET")
	overrideString(&cfg.Auth.Issuer, "NARRASI_AUTH_ISSUER")
	overrideInt(&cfg.Auth.TokenTTLHours, "NARRASI_AUTH_TOKEN_TTL_HOURS")
	overrideString(&cfg.Worker.Mode, "NARRASI_WORKER_MODE")
	overrideString(&cfg.Worker.BaseURL, "NARRASI_WORKER_BASE_URL")
	overrideString(&cfg.Worker.APIKey, "NARRASI_WORKER_API_KEY")
	overrideInt(&cfg.Worker.PollInitialMS, "NARRASI_WORKER_POLL_INITIAL_MS")
	overrideInt(&cfg.Worker.PollMaxMS, "NARRASI_WORKER_POLL_MAX_MS")
	overrideFloat(&cfg.Worker.PollFactor, "NARRASI_WORKER_POLL_FACTOR")
	overrideInt(&cfg.Worker.JobTimeoutMS, "NARRASI_WORKER_JOB_TIMEOUT_MS")
	overrideInt(&cfg.Worker.SampleRate, "NARRASI_WORKER_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Segments, "NARRASI_SYNTHESIS_SEGMENTS")
	overrideInt(&cfg.Synthesis.Concurrency, "NARRASI_SYNTHESIS_CONCURRENCY")
	overrideInt(&cfg.Synthesis.MinChunkLength, "NARRASI_SYNTHESIS_MIN_CHUNK_LENGTH")
	overrideInt(&cfg.Synthesis.MaxChunkLength, "NARRASI_SYNTHESIS_MAX_CHUNK_LENGTH")
	overrideInt(&cfg.Synthesis.MaxAttempts, "NARRASI_SYNTHESIS_MAX_ATTEMPTS")
	overrideInt(&cfg.Synthesis.BaseDelayMS, "NARRASI_SYNTHESIS_BASE_DELAY_MS")
	overrideInt(&cfg.Synthesis.MaxDelayMS, "NARRASI_SYNTHESIS_MAX_DELAY_MS")
	overrideInt(&cfg.Synthesis.SilenceWindowMS, "NARRASI_SYNTHESIS_SILENCE_WINDOW_MS")
	overrideFloat(&cfg.Synthesis.SilenceThreshold, "NARRASI_SYNTHESIS_SILENCE_THRESHOLD")
	overrideFloat(&cfg.Synthesis.MaxSilentRatio, "NARRASI_SYNTHESIS_MAX_SILENT_RATIO")
	overrideString(&cfg.Transcription.Provider, "NARRASI_TRANSCRIPTION_PROVIDER")
	overrideString(&cfg.Transcription.LanguageCode, "NARRASI_TRANSCRIPTION_LANGUAGE_CODE")
	overrideString(&cfg.Transcription.Model, "NARRASI_TRANSCRIPTION_MODEL")
	overrideString(&cfg.Transcription.BaseURL, "NARRASI_TRANSCRIPTION_BASE_URL")
	overrideString(&cfg.Transcription.APIKey, "NARRASI_TRANSCRIPTION_API_KEY")
	overrideInt(&cfg.Transcription.MaxBytes, "NARRASI_TRANSCRIPTION_MAX_BYTES")
	overrideFloat(&cfg.Transcription.MaxSeconds, "NARRASI_TRANSCRIPTION_MAX_SECONDS")
	overrideInt(&cfg.Transcription.TimeoutMS, "NARRASI_TRANSCRIPTION_TIMEOUT_MS")
	overrideInt(&cfg.Repetition.Lookahead, "NARRASI_REPETITION_LOOKAHEAD")
	overrideFloat(&cfg.Repetition.SimilarityThreshold, "NARRASI_REPETITION_SIMILARITY_THRESHOLD")
	overrideFloat(&cfg.Repetition.ContainmentThreshold, "NARRASI_REPETITION_CONTAINMENT_THRESHOLD")
	overrideInt(&cfg.Repetition.MinWords, "NARRASI_REPETITION_MIN_WORDS")
	overrideInt(&cfg.Repetition.MinPhraseWords, "NARRASI_REPETITION_MIN_PHRASE_WORDS")
	overrideInt(&cfg.Repetition.MaxPhraseWords, "NARRASI_REPETITION_MAX_PHRASE_WORDS")
	overrideInt(&cfg.Repetition.MergeGapMS, "NARRASI_REPETITION_MERGE_GAP_MS")
	overrideString(&cfg.Storage.Backend, "NARRASI_STORAGE_BACKEND")
	overrideString(&cfg.Storage.Root, "NARRASI_STORAGE_ROOT")
	overrideString(&cfg.Storage.Bucket, "NARRASI_STORAGE_BUCKET")
	overrideString(&cfg.Storage.Records, "NARRASI_STORAGE_RECORDS")
	overrideString(&cfg.Mongo.URI, "NARRASI_MONGO_URI")
	overrideString(&cfg.Mongo.Database, "NARRASI_MONGO_DATABASE")
	overrideStringAllowEmpty(&cfg.Audio.FFmpegCommand, "NARRASI_AUDIO_FFMPEG_COMMAND")
	overrideString(&cfg.Audio.TempDir, "NARRASI_AUDIO_TEMP_DIR")
	overrideStringSlice(&cfg.VoiceSample.AllowedHosts, "NARRASI_VOICE_SAMPLE_ALLOWED_HOSTS")
	overrideInt(&cfg.VoiceSample.MaxBytes, "NARRASI_VOICE_SAMPLE_MAX_BYTES")
	overrideInt(&cfg.VoiceSample.TimeoutMS, "NARRASI_VOICE_SAMPLE_TIMEOUT_MS")
	overrideBool(&cfg.Telemetry.Enabled, "NARRASI_TELEMETRY_ENABLED")
	overrideInt(&cfg.Progress.HeartbeatMS, "NARRASI_PROGRESS_HEARTBEAT_MS")
	overrideInt(&cfg.Progress.Buffer, "NARRASI_PROGRESS_BUFFER")
	overrideInt(&cfg.Jobs.RetentionMS, "NARRASI_JOBS_RETENTION_MS")
	overrideInt(&cfg.Jobs.CleanupIntervalMS, "NARRASI_JOBS_CLEANUP_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// overrideStringAllowEmpty lets an explicitly empty variable clear the value
func overrideStringAllowEmpty(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		*target = strings.TrimSpace(value)
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	switch cfg.Worker.Mode {
	case "mock":
	case "http":
		if cfg.Worker.BaseURL == "" {
			return errors.New("worker.base_url must be set when mode=http")
		}
	default:
		return errors.New("worker.mode must be one of mock|http")
	}
	if cfg.Synthesis.Segments <= 0 {
		return errors.New("synthesis.segments must be positive")
	}
	if cfg.Synthesis.Concurrency <= 0 {
		return errors.New("synthesis.concurrency must be positive")
	}
	if cfg.Synthesis.MinChunkLength < 1 || cfg.Synthesis.MaxChunkLength < cfg.Synthesis.MinChunkLength {
		return errors.New("synthesis.max_chunk_length must be at least min_chunk_length, which must be positive")
	}
	if cfg.Synthesis.MaxAttempts <= 0 {
		return errors.New("synthesis.max_attempts must be positive")
	}
	if cfg.Synthesis.MaxSilentRatio <= 0 || cfg.Synthesis.MaxSilentRatio > 1 {
		return errors.New("synthesis.max_silent_ratio must be in (0, 1]")
	}
	switch cfg.Transcription.Provider {
	case "none", "google":
	case "http":
		if cfg.Transcription.BaseURL == "" {
			return errors.New("transcription.base_url must be set when provider=http")
		}
	default:
		return errors.New("transcription.provider must be one of none|google|http")
	}
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.Root == "" {
			return errors.New("storage.root must be set when backend=local")
		}
	case "gridfs":
	default:
		return errors.New("storage.backend must be one of local|gridfs")
	}
	switch cfg.Storage.Records {
	case "memory", "mongo":
	default:
		return errors.New("storage.records must be one of memory|mongo")
	}
	if (cfg.Storage.Backend == "gridfs" || cfg.Storage.Records == "mongo") && cfg.Mongo.URI == "" {
		return errors.New("mongo.uri must be set when MongoDB storage is used")
	}
	if cfg.Progress.HeartbeatMS <= 0 {
		return errors.New("progress.heartbeat_ms must be positive")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Durations

func (c WorkerConfig) PollInitial() time.Duration { return ms(c.PollInitialMS) }
func (c WorkerConfig) PollMax() time.Duration     { return ms(c.PollMaxMS) }
func (c WorkerConfig) JobTimeout() time.Duration  { return ms(c.JobTimeoutMS) }

func (c SynthesisConfig) BaseDelay() time.Duration     { return ms(c.BaseDelayMS) }
func (c SynthesisConfig) MaxDelay() time.Duration      { return ms(c.MaxDelayMS) }
func (c SynthesisConfig) SilenceWindow() time.Duration { return ms(c.SilenceWindowMS) }

func (c TranscriptionConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func (c RepetitionConfig) MergeGapSeconds() float64 { return float64(c.MergeGapMS) / 1000 }

func (c VoiceSampleConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func (c ProgressConfig) Heartbeat() time.Duration { return ms(c.HeartbeatMS) }

func (c JobsConfig) Retention() time.Duration       { return ms(c.RetentionMS) }
func (c JobsConfig) CleanupInterval() time.Duration { return ms(c.CleanupIntervalMS) }

func (c ServerConfig) ShutdownTimeout() time.Duration { return ms(c.ShutdownMS) }
