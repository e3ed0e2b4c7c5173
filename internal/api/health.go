package api

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker is a dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus is a client that keeps a background connection.
type ConnectionStatus interface {
	IsConnected() bool
}

type ServiceStatus struct {
	Configured bool    `json:"configured"`
	Available  bool    `json:"available"`
	Error      *string `json:"error"`
}

type TranscriptionStatus struct {
	Primary   string  `json:"primary"`
	Fallback  *string `json:"fallback"`
	Available bool    `json:"available"`
}

type HealthResponse struct {
	Status        string                   `json:"status"`
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptimeSeconds"`
	Services      map[string]ServiceStatus `json:"services"`
	Transcription TranscriptionStatus      `json:"transcription"`
	NextSteps     []string                 `json:"nextSteps"`
	Checks        map[string]string        `json:"checks"`
}

type HealthHandler struct {
	providers func() *Providers
	db        HealthChecker
	mqtt      ConnectionStatus
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health handler. db and mqtt may be nil.
func NewHealthHandler(providers func() *Providers, db HealthChecker, mqtt ConnectionStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		providers: providers,
		db:        db,
		mqtt:      mqtt,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP answers 200 when at least one transcription provider is usable,
// else 503. Provider availability is derived from configuration only; no
// upstream call is made.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := h.providers()
	openaiOK := p.OpenAIConfigured()
	assemblyOK := p.AssemblyAIConfigured()

	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Services: map[string]ServiceStatus{
			"openai":     {Configured: openaiOK, Available: openaiOK},
			"assemblyai": {Configured: assemblyOK, Available: assemblyOK},
		},
		Transcription: TranscriptionStatus{Primary: "OpenAI"},
		NextSteps:     []string{},
		Checks:        h.dependencyChecks(r.Context()),
	}
	if assemblyOK {
		fallback := "OpenAI"
		resp.Transcription.Primary = "AssemblyAI"
		resp.Transcription.Fallback = &fallback
	}

	if !openaiOK {
		resp.NextSteps = append(resp.NextSteps, "Configure OPENAI_API_KEY in your .env file (required for analysis)")
	}

	if assemblyOK || openaiOK {
		resp.Transcription.Available = true
	} else {
		resp.Status = "error"
		resp.NextSteps = append(resp.NextSteps,
			"Configure at least one transcription service:",
			"  1. Add ASSEMBLYAI_API_KEY to .env (recommended)",
			"  2. OR add OPENAI_API_KEY to .env (required for analysis anyway)",
		)
	}

	if !openaiOK {
		resp.NextSteps = append(resp.NextSteps, "Get OpenAI API key: https://platform.openai.com/api-keys")
	}
	if !assemblyOK {
		resp.NextSteps = append(resp.NextSteps, "Get AssemblyAI API key (optional): https://www.assemblyai.com/app/account")
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// dependencyChecks reports supporting services. They never change the
// status code; the endpoint is about transcription availability.
func (h *HealthHandler) dependencyChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	if h.db != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.db.HealthCheck(ctx); err != nil {
			checks["database"] = "error"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}
	return checks
}
