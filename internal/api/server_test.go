package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/session"
	"github.com/snarg/speechprep/internal/storage"
	"github.com/snarg/speechprep/internal/transcribe"
)

func providersFor(primary, fallback transcribe.Provider, analyzer *mockAnalyzer) *Providers {
	p := &Providers{Transcriber: transcribe.NewOrchestrator(primary, fallback, 0, zerolog.Nop())}
	if analyzer != nil {
		p.Analyzer = analyzer
	}
	return p
}

func newTestServer(t *testing.T, p *Providers) *Server {
	t.Helper()
	dir := t.TempDir()
	backend, err := session.OpenSQLite(context.Background(), filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	cfg := &config.Config{
		HTTPAddr:       ":5001",
		MaxUploadBytes: testMaxBytes,
		MinUploadBytes: 1000,
		CORSOrigins:    []string{"*"},
	}
	return NewServer(ServerOptions{
		Config:      cfg,
		Providers:   p,
		Sessions:    session.NewStore(backend, nil, session.DefaultLimit, zerolog.Nop()),
		Temp:        storage.NewTempStore(filepath.Join(dir, "tmp")),
		OpenAPISpec: []byte("openapi: 3.0.3\n"),
		Version:     "test",
		StartTime:   time.Now(),
		Log:         zerolog.Nop(),
	})
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var h HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	return h
}

func TestHealth_NothingConfigured(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))

	rec := do(t, s, "GET", "/api/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h := decodeHealth(t, rec)
	require.Equal(t, "error", h.Status)
	require.False(t, h.Transcription.Available)
	require.False(t, h.Services["openai"].Configured)
	require.False(t, h.Services["assemblyai"].Configured)
	require.Equal(t, "OpenAI", h.Transcription.Primary)
	require.Nil(t, h.Transcription.Fallback)
	require.NotEmpty(t, h.NextSteps)
	require.Equal(t, "not_configured", h.Checks["database"])
	require.Equal(t, "not_configured", h.Checks["mqtt"])
}

func TestHealth_BothConfigured(t *testing.T) {
	s := newTestServer(t, providersFor(
		&mockProvider{name: "assemblyai"}, &mockProvider{name: "openai"}, &mockAnalyzer{}))

	rec := do(t, s, "GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h := decodeHealth(t, rec)
	require.Equal(t, "ok", h.Status)
	require.True(t, h.Transcription.Available)
	require.Equal(t, "AssemblyAI", h.Transcription.Primary)
	require.NotNil(t, h.Transcription.Fallback)
	require.Equal(t, "OpenAI", *h.Transcription.Fallback)
	require.Empty(t, h.NextSteps)
}

func TestHealth_PrimaryOnlyStillAvailable(t *testing.T) {
	s := newTestServer(t, providersFor(&mockProvider{name: "assemblyai"}, nil, nil))

	rec := do(t, s, "GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	h := decodeHealth(t, rec)
	require.True(t, h.Services["assemblyai"].Available)
	require.False(t, h.Services["openai"].Available)
	require.Contains(t, h.NextSteps, "Configure OPENAI_API_KEY in your .env file (required for analysis)")
}

func TestHealth_Idempotent(t *testing.T) {
	s := newTestServer(t, providersFor(nil, &mockProvider{name: "openai"}, &mockAnalyzer{}))

	first := decodeHealth(t, do(t, s, "GET", "/api/health", "", nil))
	second := decodeHealth(t, do(t, s, "GET", "/api/health", "", nil))
	require.Equal(t, first.Services, second.Services)
	require.Equal(t, first.Transcription, second.Transcription)
	require.Equal(t, first.NextSteps, second.NextSteps)
}

func TestHealth_ReflectsProviderReload(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))
	require.Equal(t, http.StatusServiceUnavailable, do(t, s, "GET", "/api/health", "", nil).Code)
	require.Equal(t, 0, s.ProvidersConfigured())

	s.SetProviders(providersFor(nil, &mockProvider{name: "openai"}, &mockAnalyzer{}))
	require.Equal(t, http.StatusOK, do(t, s, "GET", "/api/health", "", nil).Code)
	require.Equal(t, 1, s.ProvidersConfigured())
}

func TestDescriptorAndOpenAPI(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))

	rec := do(t, s, "GET", "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "SpeechPrep API server is running")

	rec = do(t, s, "GET", "/api/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "openapi:"))

	rec = do(t, s, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))
	rec := do(t, s, "OPTIONS", "/api/analyze", "", map[string]string{"Origin": "http://localhost:5173"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func sessionBody(mode string, overall float64) string {
	return fmt.Sprintf(`{
		"mode": %q,
		"transcript": "I will pause between phrases.",
		"feedback": {
			"summary": "Good",
			"strengths": [],
			"improvements": [],
			"scores": {"overall": %g},
			"insights": {},
			"stage": %q,
			"checks": {
				"script": {"scriptText": "I will pause between phrases.", "matchScore": 90},
				"topic": {"topicText": "stray", "relevanceScore": 10}
			}
		},
		"script": "I will pause between phrases.",
		"scriptTone": "thoughtful"
	}`, mode, overall, mode)
}

func TestSessions_CreateAndList(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))
	device := map[string]string{"X-Device-ID": "laptop"}

	rec := do(t, s, "POST", "/api/sessions", sessionBody("script", 80), device)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created session.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())
	require.NotNil(t, created.Feedback.Checks.Script)
	require.Nil(t, created.Feedback.Checks.Topic, "topic check must be dropped for script sessions")

	rec = do(t, s, "GET", "/api/sessions", "", device)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []session.Record `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	require.Equal(t, created.ID, list.Sessions[0].ID)
	require.Equal(t, "thoughtful", list.Sessions[0].ScriptTone)

	// Other guests do not see it.
	rec = do(t, s, "GET", "/api/sessions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestSessions_CappedAtLimit(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))
	user := map[string]string{"X-User-ID": "user-1"}

	for i := 0; i < session.DefaultLimit+5; i++ {
		rec := do(t, s, "POST", "/api/sessions", sessionBody("script", 50), user)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, s, "GET", "/api/sessions", "", user)
	var list struct {
		Sessions []session.Record `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, session.DefaultLimit)
}

func TestSessions_Invalid(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))

	tests := []struct {
		name string
		body string
	}{
		{"bad_json", `{nope`},
		{"bad_mode", strings.Replace(sessionBody("script", 50), `"mode": "script"`, `"mode": "freestyle"`, 1)},
		{"blank_transcript", `{"mode":"script","transcript":"   ","feedback":{"summary":"x","strengths":[],"improvements":[],"scores":{},"insights":{},"stage":"script"}}`},
		{"no_feedback", `{"mode":"script","transcript":"hello"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/sessions", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestProgress(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))
	user := map[string]string{"X-User-ID": "user-2"}

	for _, score := range []float64{60, 80, 90, 76} {
		rec := do(t, s, "POST", "/api/sessions", sessionBody("script", score), user)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, s, "GET", "/api/progress", "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	var p session.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, 4, p.Sessions)
	require.Equal(t, 3, p.StrongScriptRuns)
	require.True(t, p.TopicUnlocked)
}

func TestPrompts(t *testing.T) {
	s := newTestServer(t, providersFor(nil, nil, nil))

	rec := do(t, s, "GET", "/api/prompts?mode=script", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d session.Drill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.NotEmpty(t, d.Text)
	require.NotEmpty(t, d.Tone)

	rec = do(t, s, "GET", "/api/prompts?mode=topic", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tp session.TopicPrompt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tp))
	require.NotEmpty(t, tp.Topic)
	require.Positive(t, tp.TimeLimitSeconds)

	rec = do(t, s, "GET", "/api/prompts?mode=debate", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeThroughRouter(t *testing.T) {
	fallback := &mockProvider{name: "openai", text: "routed"}
	s := newTestServer(t, providersFor(nil, fallback, &mockAnalyzer{}))

	body, ct := buildMultipartForm(t, map[string]string{"mode": "script"}, "video", audioBytes(2048), "r.webm")
	req := httptest.NewRequest("POST", "/api/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, 0, s.InFlightAnalyses())
}
