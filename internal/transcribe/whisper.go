package transcribe

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/snarg/speechprep/internal/upstream"
)

// WhisperClient calls OpenAI's /v1/audio/transcriptions endpoint through
// go-openai. It retries connection failures a bounded number of times with
// exponential backoff; any other failure is returned immediately.
type WhisperClient struct {
	client      *openai.Client
	model       string
	language    string
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// WhisperOptions configures a WhisperClient.
type WhisperOptions struct {
	APIKey       string
	BaseURL      string // "" = api.openai.com
	Model        string
	Language     string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	Log          zerolog.Logger
}

// NewWhisperClient creates a new Whisper client.
func NewWhisperClient(opts WhisperOptions) *WhisperClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	model := opts.Model
	if model == "" {
		model = openai.Whisper1
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &WhisperClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		language:    lang,
		maxAttempts: attempts,
		backoff:     opts.RetryBackoff,
		log:         opts.Log.With().Str("provider", upstream.OpenAI).Logger(),
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return upstream.OpenAI }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends the audio file to Whisper with a plain-text response format.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < wc.maxAttempts; attempt++ {
		resp, err := wc.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    wc.model,
			FilePath: audioPath,
			Format:   openai.AudioResponseFormatText,
			Language: wc.language,
		})
		if err == nil {
			return &Response{
				Text:     resp.Text,
				Language: wc.language,
				Duration: resp.Duration,
			}, nil
		}

		lastErr = upstream.FromOpenAI(err)
		if attempt == wc.maxAttempts-1 || !upstream.IsConnectivity(lastErr) || ctx.Err() != nil {
			break
		}

		delay := wc.backoff * time.Duration(1<<attempt)
		wc.log.Warn().Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_attempts", wc.maxAttempts).
			Dur("retry_in", delay).
			Msg("whisper connection error, retrying")

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
