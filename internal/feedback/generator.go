package feedback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/snarg/speechprep/internal/metrics"
	"github.com/snarg/speechprep/internal/upstream"
)

// Analyzer produces feedback for a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, meta Metadata) (*Feedback, error)
	Model() string
}

// Generator asks a chat model for a JSON-mode completion. One call per
// request; failures are not retried.
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	APIKey  string
	BaseURL string // "" = api.openai.com
	Model   string
	Timeout time.Duration
	Log     zerolog.Logger
}

// NewGenerator creates a feedback generator. Returns ErrNotConfigured when no
// API key is given.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.APIKey == "" {
		return nil, ErrNotConfigured
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{}

	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		log:     opts.Log.With().Str("component", "feedback").Logger(),
	}, nil
}

// Model returns the chat model identifier.
func (g *Generator) Model() string { return g.model }

// Analyze sends the coaching prompt and parses the answer. Model and network
// failures come back as upstream errors; unusable answers wrap
// ErrMalformedResponse.
func (g *Generator) Analyze(ctx context.Context, transcript string, meta Metadata) (*Feedback, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(transcript, meta)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	elapsed := time.Since(start)
	metrics.FeedbackDuration.Observe(elapsed.Seconds())
	if err != nil {
		g.log.Error().Err(err).Dur("duration", elapsed).Str("model", g.model).Msg("feedback completion failed")
		return nil, fmt.Errorf("feedback completion: %w", upstream.FromOpenAI(err))
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	fb, err := Parse(content, meta)
	if err != nil {
		g.log.Error().Err(err).Int("content_len", len(content)).Msg("unusable feedback response")
		return nil, err
	}

	g.log.Info().
		Dur("duration", elapsed).
		Str("model", g.model).
		Float64("overall", fb.Scores.Overall).
		Msg("feedback generated")
	return fb, nil
}
