package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/snarg/speechprep/internal/upstream"
)

const defaultAssemblyAIBaseURL = "https://api.assemblyai.com"

// Transcript job statuses reported by AssemblyAI.
const (
	assemblyStatusQueued     = "queued"
	assemblyStatusProcessing = "processing"
	assemblyStatusCompleted  = "completed"
	assemblyStatusError      = "error"
)

// AssemblyAIClient calls the AssemblyAI v2 REST API: upload the audio, create a
// transcript job, then poll until the job reaches a terminal status.
// Implements the Provider interface.
type AssemblyAIClient struct {
	apiKey       string
	baseURL      string
	language     string
	speechModel  string // "" = account default
	pollInterval time.Duration
	client       *http.Client
}

// AssemblyAIOptions configures an AssemblyAIClient.
type AssemblyAIOptions struct {
	APIKey       string
	BaseURL      string
	Language     string
	SpeechModel  string
	PollInterval time.Duration
	Timeout      time.Duration // per HTTP request, not per job
}

// assemblyTranscript is the subset of the transcript resource we read.
type assemblyTranscript struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	LanguageCode  string  `json:"language_code"`
	AudioDuration float64 `json:"audio_duration"`
}

// NewAssemblyAIClient creates a new AssemblyAI client.
func NewAssemblyAIClient(opts AssemblyAIOptions) *AssemblyAIClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultAssemblyAIBaseURL
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AssemblyAIClient{
		apiKey:       opts.APIKey,
		baseURL:      base,
		language:     lang,
		speechModel:  opts.SpeechModel,
		pollInterval: poll,
		client:       &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (c *AssemblyAIClient) Name() string { return upstream.AssemblyAI }

// Model returns the configured speech model identifier.
func (c *AssemblyAIClient) Model() string {
	if c.speechModel == "" {
		return "default"
	}
	return c.speechModel
}

// Transcribe uploads the audio file and blocks until the transcript job is
// completed, errored, or reports a status we do not know how to wait on.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	uploadURL, err := c.upload(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("assemblyai upload: %w", err)
	}

	job, err := c.create(ctx, uploadURL)
	if err != nil {
		return nil, fmt.Errorf("assemblyai create transcript: %w", err)
	}

	final, err := c.wait(ctx, job)
	if err != nil {
		return nil, err
	}

	switch final.Status {
	case assemblyStatusCompleted:
		return &Response{
			Text:     final.Text,
			Language: final.LanguageCode,
			Duration: final.AudioDuration,
			JobID:    final.ID,
		}, nil
	case assemblyStatusError:
		msg := final.Error
		if msg == "" {
			msg = "transcription failed"
		}
		return nil, &upstream.Error{Service: upstream.AssemblyAI, Message: "transcription error: " + msg}
	default:
		return nil, fmt.Errorf("unexpected transcription status: %q", final.Status)
	}
}

func (c *AssemblyAIClient) upload(ctx context.Context, data []byte) (string, error) {
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", bytes.NewReader(data), &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("upload response missing upload_url")
	}
	return out.UploadURL, nil
}

func (c *AssemblyAIClient) create(ctx context.Context, audioURL string) (*assemblyTranscript, error) {
	req := map[string]any{
		"audio_url":     audioURL,
		"language_code": c.language,
	}
	if c.speechModel != "" {
		req["speech_model"] = c.speechModel
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out assemblyTranscript
	if err := c.do(ctx, http.MethodPost, "/v2/transcript", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create response missing transcript id")
	}
	return &out, nil
}

// wait polls the transcript until it leaves queued/processing.
func (c *AssemblyAIClient) wait(ctx context.Context, job *assemblyTranscript) (*assemblyTranscript, error) {
	current := job
	for {
		switch current.Status {
		case assemblyStatusQueued, assemblyStatusProcessing, "":
		default:
			return current, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("assemblyai wait for transcript %s: %w", job.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}

		var next assemblyTranscript
		if err := c.do(ctx, http.MethodGet, "/v2/transcript/"+job.ID, "", nil, &next); err != nil {
			return nil, fmt.Errorf("assemblyai poll transcript %s: %w", job.ID, err)
		}
		current = &next
	}
}

// do sends one request and decodes a 2xx JSON body into out.
func (c *AssemblyAIClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &upstream.Error{
			Service:    upstream.AssemblyAI,
			StatusCode: resp.StatusCode,
			Message:    assemblyErrorMessage(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// assemblyErrorMessage extracts {"error": "..."} from an error body, falling
// back to the raw body.
func assemblyErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
