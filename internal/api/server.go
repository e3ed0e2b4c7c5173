package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/diagnose"
	"github.com/snarg/speechprep/internal/metrics"
	"github.com/snarg/speechprep/internal/mqttclient"
	"github.com/snarg/speechprep/internal/session"
	"github.com/snarg/speechprep/internal/storage"
)

type Server struct {
	http      *http.Server
	log       zerolog.Logger
	providers atomic.Pointer[Providers]
	analyze   *AnalyzeHandler
}

// ServerOptions holds the server's dependencies. DB and MQTT may be nil.
type ServerOptions struct {
	Config      *config.Config
	Providers   *Providers
	Sessions    *session.Store
	Temp        *storage.TempStore
	DB          HealthChecker
	MQTT        *mqttclient.Client
	OpenAPISpec []byte
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	s := &Server{log: opts.Log}
	s.providers.Store(opts.Providers)

	var (
		analysisEvents AnalysisEvents
		sessionEvents  SessionEvents
		mqttStatus     ConnectionStatus
	)
	if opts.MQTT != nil {
		analysisEvents, sessionEvents, mqttStatus = opts.MQTT, opts.MQTT, opts.MQTT
	}

	s.analyze = NewAnalyzeHandler(AnalyzeOptions{
		Providers: s.Providers,
		Temp:      opts.Temp,
		Mapper:    diagnose.NewMapper(cfg.HealthURL()),
		MaxBytes:  cfg.MaxUploadBytes,
		MinBytes:  cfg.MinUploadBytes,
		Events:    analysisEvents,
		Log:       opts.Log,
	})
	sessions := NewSessionsHandler(opts.Sessions, session.NewCatalog(), sessionEvents, opts.Log)
	health := NewHealthHandler(s.Providers, opts.DB, mqttStatus, opts.Version, opts.StartTime)

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	r.Get("/", serveDescriptor)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.ServeHTTP)
		r.Get("/openapi.yaml", serveOpenAPI(opts.OpenAPISpec))

		r.Group(func(r chi.Router) {
			r.Use(Identity(cfg.AuthJWTSecret))
			s.analyze.Routes(r)
			sessions.Routes(r)
		})
	})

	s.http = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Providers returns the current provider set.
func (s *Server) Providers() *Providers { return s.providers.Load() }

// SetProviders swaps the provider set. In-flight requests keep the set they
// started with.
func (s *Server) SetProviders(p *Providers) {
	s.providers.Store(p)
	s.log.Info().
		Bool("assemblyai", p.AssemblyAIConfigured()).
		Bool("openai", p.OpenAIConfigured()).
		Msg("providers reloaded")
}

// InFlightAnalyses implements metrics.PipelineStats.
func (s *Server) InFlightAnalyses() int { return s.analyze.InFlightAnalyses() }

// ProvidersConfigured implements metrics.PipelineStats.
func (s *Server) ProvidersConfigured() int {
	p := s.Providers()
	n := 0
	if p.AssemblyAIConfigured() {
		n++
	}
	if p.OpenAIConfigured() {
		n++
	}
	return n
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

func serveDescriptor(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"message": "SpeechPrep API server is running",
		"endpoints": map[string]string{
			"analyze":  "POST /api/analyze - Upload a video recording for AI analysis",
			"health":   "GET /api/health - Check transcription service status",
			"sessions": "GET|POST /api/sessions - List or save practice sessions",
			"progress": "GET /api/progress - Practice stage and score trend",
			"prompts":  "GET /api/prompts?mode=script|topic - Random practice prompt",
			"openapi":  "GET /api/openapi.yaml - API description",
		},
	})
}

func serveOpenAPI(spec []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(spec) == 0 {
			WriteError(w, http.StatusNotFound, "API description not available")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(spec)
	}
}
