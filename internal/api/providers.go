package api

import (
	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/feedback"
	"github.com/snarg/speechprep/internal/transcribe"
)

// Providers are the upstream handles one request runs against. A request
// loads the current set once, so a reload never changes providers mid-request.
type Providers struct {
	Transcriber *transcribe.Orchestrator
	Analyzer    feedback.Analyzer // nil when OPENAI_API_KEY is unset
}

// AssemblyAIConfigured reports whether the primary provider is set up.
func (p *Providers) AssemblyAIConfigured() bool {
	return p != nil && p.Transcriber.Primary() != nil
}

// OpenAIConfigured reports whether the fallback provider is set up. Analysis
// uses the same credential.
func (p *Providers) OpenAIConfigured() bool {
	return p != nil && p.Transcriber.Fallback() != nil
}

// BuildProviders constructs provider clients from cfg. Missing credentials
// leave the corresponding provider nil.
func BuildProviders(cfg *config.Config, log zerolog.Logger) *Providers {
	var primary, fallback transcribe.Provider
	if cfg.AssemblyAIAPIKey != "" {
		primary = transcribe.NewAssemblyAIClient(transcribe.AssemblyAIOptions{
			APIKey:       cfg.AssemblyAIAPIKey,
			BaseURL:      cfg.AssemblyAIBaseURL,
			Language:     cfg.TranscribeLanguage,
			SpeechModel:  cfg.AssemblyAISpeechModel,
			PollInterval: cfg.AssemblyAIPollInterval,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		fallback = transcribe.NewWhisperClient(transcribe.WhisperOptions{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.WhisperModel,
			Language:     cfg.TranscribeLanguage,
			Timeout:      cfg.TranscribeTimeout,
			MaxAttempts:  cfg.WhisperMaxAttempts,
			RetryBackoff: cfg.WhisperRetryBackoff,
			Log:          log,
		})
	}

	p := &Providers{
		Transcriber: transcribe.NewOrchestrator(primary, fallback, cfg.TranscribeTimeout,
			log.With().Str("component", "transcribe").Logger()),
	}
	if gen, err := feedback.NewGenerator(feedback.GeneratorOptions{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.AnalysisModel,
		Timeout: cfg.AnalysisTimeout,
		Log:     log,
	}); err == nil {
		p.Analyzer = gen
	}

	log.Info().
		Bool("assemblyai", primary != nil).
		Bool("openai", fallback != nil).
		Msg("transcription providers configured")
	return p
}
