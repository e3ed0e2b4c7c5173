package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string) (*Response, error)
	Name() string  // "assemblyai", "openai"
	Model() string // model identifier for logs and metrics
}

// Response is the common transcription result from any provider.
// Text is returned exactly as the provider produced it; emptiness is judged
// by the Orchestrator, whitespace-only text by the caller.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if unknown
	JobID    string  // provider-side job id, if any
}
