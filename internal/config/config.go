package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Provider credentials. Either may be empty; which are set decides the
	// reachable transcription path.
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	AssemblyAIAPIKey string `env:"ASSEMBLYAI_API_KEY"`

	OpenAIBaseURL          string        `env:"OPENAI_BASE_URL"`
	AssemblyAIBaseURL      string        `env:"ASSEMBLYAI_BASE_URL" envDefault:"https://api.assemblyai.com"`
	AssemblyAISpeechModel  string        `env:"ASSEMBLYAI_SPEECH_MODEL"`
	AssemblyAIPollInterval time.Duration `env:"ASSEMBLYAI_POLL_INTERVAL" envDefault:"3s"`
	WhisperModel           string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperMaxAttempts     int           `env:"WHISPER_MAX_ATTEMPTS" envDefault:"2"`
	WhisperRetryBackoff    time.Duration `env:"WHISPER_RETRY_BACKOFF" envDefault:"2s"`
	AnalysisModel          string        `env:"ANALYSIS_MODEL" envDefault:"gpt-4o-mini"`
	TranscribeLanguage     string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	TranscribeTimeout      time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"180s"`
	AnalysisTimeout        time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"60s"`

	UploadDir      string        `env:"UPLOAD_DIR" envDefault:"./tmp"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	MinUploadBytes int64         `env:"MIN_UPLOAD_BYTES" envDefault:"1000"`
	TempRetention  time.Duration `env:"TEMP_RETENTION" envDefault:"15m"`

	Port         string        `env:"PORT"`
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":5001"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"8m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	DatabaseURL    string   `env:"DATABASE_URL"`
	SessionBackend string   `env:"SESSION_BACKEND" envDefault:"sqlite"`
	SessionDBPath  string   `env:"SESSION_DB_PATH" envDefault:"./data/sessions.db"`
	SessionLimit   int      `env:"SESSION_LIMIT" envDefault:"20"`
	S3             S3Config `envPrefix:"S3_"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"speechprep"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"speechprep"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	WatchEnvFile bool   `env:"WATCH_ENV_FILE" envDefault:"true"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	// EnvFile is the .env path Load read, "" if none was found.
	EnvFile string
	// FileKeys are the variables that came from EnvFile rather than the
	// process environment.
	FileKeys []string
}

// S3Config configures the object-store session backend.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	UploadDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	var fileKeys []string
	found := false
	if _, err := os.Stat(envFile); err == nil {
		found = true
		if vals, err := godotenv.Read(envFile); err == nil {
			for k := range vals {
				if _, set := os.LookupEnv(k); !set {
					fileKeys = append(fileKeys, k)
				}
			}
			sort.Strings(fileKeys)
		}
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if found {
		cfg.EnvFile = envFile
		cfg.FileKeys = fileKeys
	}

	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.AssemblyAIAPIKey = strings.TrimSpace(cfg.AssemblyAIAPIKey)

	// PORT is the conventional platform variable; it replaces the port of HTTP_ADDR.
	if cfg.Port != "" {
		host, _, err := net.SplitHostPort(cfg.HTTPAddr)
		if err != nil {
			host = ""
		}
		cfg.HTTPAddr = net.JoinHostPort(host, cfg.Port)
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.SessionBackend {
	case "sqlite":
	case "s3":
		if !c.S3.Enabled() {
			errs = append(errs, errors.New("SESSION_BACKEND=s3 requires S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be sqlite or s3, got %q", c.SessionBackend))
	}
	if c.MaxUploadBytes <= 0 || c.MinUploadBytes < 0 || c.MinUploadBytes >= c.MaxUploadBytes {
		errs = append(errs, fmt.Errorf("upload limits invalid: min %d, max %d", c.MinUploadBytes, c.MaxUploadBytes))
	}
	if c.TranscribeTimeout <= 0 || c.AnalysisTimeout <= 0 {
		errs = append(errs, errors.New("TRANSCRIBE_TIMEOUT and ANALYSIS_TIMEOUT must be positive"))
	}
	if c.WhisperMaxAttempts < 1 {
		errs = append(errs, errors.New("WHISPER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SessionLimit < 1 {
		errs = append(errs, errors.New("SESSION_LIMIT must be at least 1"))
	}
	return errors.Join(errs...)
}

// HealthURL is the local health endpoint, used in remediation messages.
func (c *Config) HealthURL() string {
	_, port, err := net.SplitHostPort(c.HTTPAddr)
	if err != nil || port == "" {
		port = "5001"
	}
	return "http://localhost:" + port + "/api/health"
}

// ProvidersConfigured counts transcription providers with credentials.
func (c *Config) ProvidersConfigured() int {
	n := 0
	if c.OpenAIAPIKey != "" {
		n++
	}
	if c.AssemblyAIAPIKey != "" {
		n++
	}
	return n
}
