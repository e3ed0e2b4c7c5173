package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// managedKeys are cleared before each test so the host environment cannot
// leak into assertions.
var managedKeys = []string{
	"OPENAI_API_KEY", "ASSEMBLYAI_API_KEY", "PORT", "HTTP_ADDR", "DATABASE_URL",
	"SESSION_BACKEND", "S3_BUCKET", "MAX_UPLOAD_BYTES", "MIN_UPLOAD_BYTES",
	"CORS_ORIGINS", "LOG_LEVEL", "UPLOAD_DIR", "WHISPER_MAX_ATTEMPTS",
}

func clearEnv(t *testing.T) func() {
	t.Helper()
	envs := make(map[string]string, len(managedKeys))
	for _, k := range managedKeys {
		envs[k] = ""
	}
	cleanup := setEnvs(t, envs)
	for _, k := range managedKeys {
		os.Unsetenv(k)
	}
	return cleanup
}

func TestLoad(t *testing.T) {
	defer clearEnv(t)()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":5001" {
			t.Errorf("HTTPAddr = %q, want :5001", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.UploadDir != "./tmp" {
			t.Errorf("UploadDir = %q, want ./tmp", cfg.UploadDir)
		}
		if cfg.MaxUploadBytes != 50*1024*1024 {
			t.Errorf("MaxUploadBytes = %d, want 50 MiB", cfg.MaxUploadBytes)
		}
		if cfg.MinUploadBytes != 1000 {
			t.Errorf("MinUploadBytes = %d, want 1000", cfg.MinUploadBytes)
		}
		if cfg.TranscribeTimeout != 180*time.Second || cfg.AnalysisTimeout != 60*time.Second {
			t.Errorf("timeouts = %v/%v, want 3m/1m", cfg.TranscribeTimeout, cfg.AnalysisTimeout)
		}
		if cfg.AnalysisTimeout >= cfg.TranscribeTimeout {
			t.Error("analysis timeout should be shorter than transcription timeout")
		}
		if cfg.WhisperModel != "whisper-1" || cfg.TranscribeLanguage != "en" || cfg.WhisperMaxAttempts != 2 {
			t.Errorf("whisper = %q/%q/%d", cfg.WhisperModel, cfg.TranscribeLanguage, cfg.WhisperMaxAttempts)
		}
		if cfg.SessionBackend != "sqlite" || cfg.SessionLimit != 20 {
			t.Errorf("sessions = %q/%d", cfg.SessionBackend, cfg.SessionLimit)
		}
		if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
			t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
		}
		if cfg.ProvidersConfigured() != 0 {
			t.Errorf("ProvidersConfigured = %d, want 0", cfg.ProvidersConfigured())
		}
		if cfg.EnvFile != "" {
			t.Errorf("EnvFile = %q for missing file", cfg.EnvFile)
		}
	})

	t.Run("port_replaces_addr_port", func(t *testing.T) {
		defer setEnvs(t, map[string]string{"PORT": "7000", "HTTP_ADDR": "127.0.0.1:5001"})()
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != "127.0.0.1:7000" {
			t.Errorf("HTTPAddr = %q, want 127.0.0.1:7000", cfg.HTTPAddr)
		}
		if cfg.HealthURL() != "http://localhost:7000/api/health" {
			t.Errorf("HealthURL = %q", cfg.HealthURL())
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		defer setEnvs(t, map[string]string{"PORT": "7000", "LOG_LEVEL": "warn"})()
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			UploadDir:   "/tmp/uploads",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.UploadDir != "/tmp/uploads" {
			t.Errorf("UploadDir = %q, want /tmp/uploads", cfg.UploadDir)
		}
	})

	t.Run("keys_trimmed", func(t *testing.T) {
		defer setEnvs(t, map[string]string{"OPENAI_API_KEY": "  sk-abc \n", "ASSEMBLYAI_API_KEY": "aai"})()
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.OpenAIAPIKey != "sk-abc" {
			t.Errorf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
		}
		if cfg.ProvidersConfigured() != 2 {
			t.Errorf("ProvidersConfigured = %d, want 2", cfg.ProvidersConfigured())
		}
	})
}

func TestLoadInvalid(t *testing.T) {
	defer clearEnv(t)()

	tests := []struct {
		name string
		envs map[string]string
	}{
		{"unknown_backend", map[string]string{"SESSION_BACKEND": "redis"}},
		{"s3_without_bucket", map[string]string{"SESSION_BACKEND": "s3"}},
		{"min_above_max", map[string]string{"MIN_UPLOAD_BYTES": "5000", "MAX_UPLOAD_BYTES": "4000"}},
		{"zero_attempts", map[string]string{"WHISPER_MAX_ATTEMPTS": "0"}},
		{"bad_number", map[string]string{"MAX_UPLOAD_BYTES": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer setEnvs(t, tt.envs)()
			if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	defer clearEnv(t)()
	defer setEnvs(t, map[string]string{"ASSEMBLYAI_API_KEY": "from-process"})()

	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("OPENAI_API_KEY=sk-file\nASSEMBLYAI_API_KEY=from-file\n"), 0o600)

	cfg, err := Load(Overrides{EnvFile: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-file" {
		t.Errorf("OpenAIAPIKey = %q, want file value", cfg.OpenAIAPIKey)
	}
	if cfg.AssemblyAIAPIKey != "from-process" {
		t.Errorf("AssemblyAIAPIKey = %q, process env must win", cfg.AssemblyAIAPIKey)
	}
	if cfg.EnvFile != path {
		t.Errorf("EnvFile = %q", cfg.EnvFile)
	}
	if len(cfg.FileKeys) != 1 || cfg.FileKeys[0] != "OPENAI_API_KEY" {
		t.Errorf("FileKeys = %v, want [OPENAI_API_KEY]", cfg.FileKeys)
	}
}

func TestWatcherReload(t *testing.T) {
	defer clearEnv(t)()
	defer setEnvs(t, map[string]string{"ASSEMBLYAI_API_KEY": "from-process"})()

	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("OPENAI_API_KEY=sk-old\nLOG_LEVEL=debug\n"), 0o600)
	overrides := Overrides{EnvFile: path}
	cfg, err := Load(overrides)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var mu sync.Mutex
	var got *Config
	w := NewWatcher(cfg, overrides, func(c *Config) {
		mu.Lock()
		got = c
		mu.Unlock()
	}, zerolog.Nop())

	// New key value, LOG_LEVEL removed, and an attempt to override a process var.
	os.WriteFile(path, []byte("OPENAI_API_KEY=sk-new\nASSEMBLYAI_API_KEY=from-file\n"), 0o600)
	w.reload()

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("onChange not called")
	}
	if got.OpenAIAPIKey != "sk-new" {
		t.Errorf("OpenAIAPIKey = %q, want sk-new", got.OpenAIAPIKey)
	}
	if got.AssemblyAIAPIKey != "from-process" {
		t.Errorf("AssemblyAIAPIKey = %q, process env must win", got.AssemblyAIAPIKey)
	}
	if got.LogLevel != "info" {
		t.Errorf("LogLevel = %q, removed file key should fall back to default", got.LogLevel)
	}
}

func TestWatcherInvalidReloadKeepsConfig(t *testing.T) {
	defer clearEnv(t)()

	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("OPENAI_API_KEY=sk-old\n"), 0o600)
	overrides := Overrides{EnvFile: path}
	cfg, err := Load(overrides)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	called := false
	w := NewWatcher(cfg, overrides, func(*Config) { called = true }, zerolog.Nop())
	os.WriteFile(path, []byte("SESSION_BACKEND=redis\n"), 0o600)
	w.reload()
	if called {
		t.Error("onChange called for invalid config")
	}
	os.Unsetenv("SESSION_BACKEND")
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
