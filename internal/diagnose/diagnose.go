// Package diagnose maps pipeline failures to the user-facing error taxonomy:
// a category, a short message, and ordered remediation steps.
package diagnose

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/snarg/speechprep/internal/transcribe"
	"github.com/snarg/speechprep/internal/upstream"
)

// Category is one entry of the closed failure taxonomy.
type Category string

const (
	Connectivity       Category = "connectivity"
	RateLimit          Category = "rate_limit"
	InvalidCredentials Category = "invalid_credentials"
	PayloadTooLarge    Category = "payload_too_large"
	UnsupportedFormat  Category = "unsupported_format"
	NoProvider         Category = "no_provider"
	Generic            Category = "generic"
)

// Stage is the pipeline step that failed.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
)

// Diagnosis is the classified failure, ready to render.
type Diagnosis struct {
	Category  Category
	Status    int
	Message   string
	Details   string
	NextSteps []string
}

// failure is what rules inspect.
type failure struct {
	err           error
	stage         Stage
	msg           string // lower-cased err.Error()
	status        int
	service       string
	bothAttempted bool
	timedOut      bool
}

type rule struct {
	category Category
	match    func(f *failure) bool
	message  func(f *failure) string
	steps    func(f *failure, m *Mapper) []string
}

// Mapper classifies errors. HealthURL is referenced in remediation steps.
type Mapper struct {
	HealthURL string
	rules     []rule
}

// NewMapper creates a mapper whose steps point at healthURL.
func NewMapper(healthURL string) *Mapper {
	return &Mapper{HealthURL: healthURL, rules: defaultRules}
}

// Diagnose classifies err from the given stage. The first matching rule wins;
// the last rule always matches.
func (m *Mapper) Diagnose(stage Stage, err error) Diagnosis {
	f := &failure{
		err:     err,
		stage:   stage,
		status:  upstream.StatusCode(err),
		service: upstream.Service(err),
	}
	if err != nil {
		f.msg = strings.ToLower(err.Error())
	}
	var te *transcribe.Error
	if errors.As(err, &te) {
		f.bothAttempted = te.PrimaryFailed && te.Attempted(upstream.OpenAI)
	}
	f.timedOut = errors.Is(err, context.DeadlineExceeded) || strings.Contains(f.msg, "timeout") || strings.Contains(f.msg, "timed out")

	for _, r := range m.rules {
		if !r.match(f) {
			continue
		}
		d := Diagnosis{
			Category:  r.category,
			Status:    http.StatusInternalServerError,
			Message:   r.message(f),
			NextSteps: r.steps(f, m),
		}
		if err != nil {
			d.Details = err.Error()
		}
		return d
	}
	return Diagnosis{Category: Generic, Status: http.StatusInternalServerError, Message: genericMessage(f)}
}

// Unconfigured is the answer when no transcription provider has credentials.
func (m *Mapper) Unconfigured() Diagnosis {
	return Diagnosis{
		Category: NoProvider,
		Status:   http.StatusInternalServerError,
		Message:  "Server is not configured with an AI service.",
		NextSteps: []string{
			"1. Add OPENAI_API_KEY to your .env file (required for analysis)",
			"   Get it from: https://platform.openai.com/api-keys",
			"2. Optionally add ASSEMBLYAI_API_KEY for transcription (recommended)",
			"   Get it from: https://www.assemblyai.com/app/account",
			"3. Restart your server after adding keys",
			"4. Check service status: GET " + m.HealthURL,
		},
	}
}

// AnalysisUnconfigured is the answer when transcription is possible but the
// language model credential is missing.
func (m *Mapper) AnalysisUnconfigured() Diagnosis {
	return Diagnosis{
		Category: NoProvider,
		Status:   http.StatusInternalServerError,
		Message:  "OPENAI_API_KEY is required for analysis.",
		NextSteps: []string{
			"1. Add OPENAI_API_KEY to your .env file",
			"   Get it from: https://platform.openai.com/api-keys",
			"2. Make sure the key is correct (no extra spaces or quotes)",
			"3. Restart your server after adding the key",
			"4. Check service status: GET " + m.HealthURL,
		},
	}
}

func fixed(s string) func(*failure) string { return func(*failure) string { return s } }

func fixedSteps(steps ...string) func(*failure, *Mapper) []string {
	return func(*failure, *Mapper) []string { return append([]string(nil), steps...) }
}

func genericMessage(f *failure) string {
	if f.stage == StageAnalysis {
		return "Failed to analyze speech with AI."
	}
	return "Failed to transcribe audio."
}

var firewallSteps = []string{
	"Allow outbound HTTPS (port 443) from this server in your firewall or proxy",
	"1. Check your internet connection",
	"2. Verify your API keys are correct in the .env file",
	"3. Check server logs for detailed error information",
}

// defaultRules is the taxonomy in detection order. Generic must stay last.
var defaultRules = []rule{
	{
		category: Connectivity,
		match:    func(f *failure) bool { return upstream.IsConnectivity(f.err) },
		message: func(f *failure) string {
			switch {
			case f.bothAttempted:
				return "Transcription service connection failed. Both AssemblyAI and OpenAI could not be reached."
			case f.timedOut:
				return "Request timed out."
			case f.stage == StageAnalysis:
				return "Cannot connect to the AI analysis service."
			default:
				return "Cannot connect to transcription service."
			}
		},
		steps: func(f *failure, m *Mapper) []string {
			if f.timedOut && !f.bothAttempted {
				return []string{
					"1. Try recording a shorter speech",
					"2. Check your internet connection speed",
					"3. Wait a moment and try again",
				}
			}
			steps := append([]string(nil), firewallSteps...)
			if f.bothAttempted {
				steps = append(steps, "4. Check https://status.assemblyai.com/ and https://status.openai.com/",
					"5. Restart your server after making firewall changes")
			} else {
				steps = append(steps, "4. Restart your server after making firewall changes")
			}
			return steps
		},
	},
	{
		category: RateLimit,
		match: func(f *failure) bool {
			return f.status == http.StatusTooManyRequests || strings.Contains(f.msg, "rate limit")
		},
		message: fixed("API rate limit exceeded."),
		steps: fixedSteps(
			"1. Wait a few minutes and try again",
			"2. Check your API usage limits",
			"3. If using AssemblyAI free tier, you may have exceeded 5 hours/month",
			"4. Consider upgrading your API plan if needed",
		),
	},
	{
		category: InvalidCredentials,
		match:    func(f *failure) bool { return f.status == http.StatusUnauthorized },
		message:  fixed("Invalid API key."),
		steps: func(f *failure, m *Mapper) []string {
			envVar, keyURL := "OPENAI_API_KEY", "https://platform.openai.com/api-keys"
			if f.service == upstream.AssemblyAI {
				envVar, keyURL = "ASSEMBLYAI_API_KEY", "https://www.assemblyai.com/app/account"
			}
			return []string{
				"1. Check your " + envVar + " in the .env file",
				"2. Verify the key is correct (no extra spaces or quotes)",
				"3. Get a new key from " + keyURL + " if needed",
				"4. Restart your server after updating .env",
			}
		},
	},
	{
		category: PayloadTooLarge,
		match:    func(f *failure) bool { return f.status == http.StatusRequestEntityTooLarge },
		message:  fixed("File too large."),
		steps: fixedSteps(
			"1. Record a shorter speech (under 50MB)",
			"2. Try speaking for less time",
			"3. Check your recording quality settings",
		),
	},
	{
		category: UnsupportedFormat,
		match: func(f *failure) bool {
			return strings.Contains(f.msg, "invalid file format") || strings.Contains(f.msg, "unsupported format")
		},
		message: fixed("Invalid audio format."),
		steps: fixedSteps(
			"1. Try recording again",
			"2. Make sure your microphone is working",
			"3. Check that you're using a supported browser (Chrome, Firefox, Edge)",
		),
	},
	{
		category: NoProvider,
		match:    func(f *failure) bool { return errors.Is(f.err, transcribe.ErrNoProvider) },
		message:  fixed("No transcription service available."),
		steps: func(f *failure, m *Mapper) []string {
			return []string{
				"1. Add ASSEMBLYAI_API_KEY to your .env file (recommended)",
				"   Get it from: https://www.assemblyai.com/app/account",
				"2. OR ensure OPENAI_API_KEY is set in your .env file",
				"   Get it from: https://platform.openai.com/api-keys",
				"3. Restart your server after adding the key",
				"4. Check server status: GET " + m.HealthURL,
			}
		},
	},
	{
		category: Generic,
		match:    func(*failure) bool { return true },
		message:  genericMessage,
		steps: func(f *failure, m *Mapper) []string {
			return []string{
				"1. Check your .env file has valid API keys",
				"2. Verify your internet connection",
				"3. Check server logs for more details",
				"4. Try restarting your server",
				"5. Check service status: GET " + m.HealthURL,
			}
		},
	},
}
