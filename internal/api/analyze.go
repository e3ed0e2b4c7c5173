package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/speechprep/internal/diagnose"
	"github.com/snarg/speechprep/internal/feedback"
	"github.com/snarg/speechprep/internal/metrics"
	"github.com/snarg/speechprep/internal/mqttclient"
	"github.com/snarg/speechprep/internal/storage"
)

// formOverhead is the room allowed for multipart framing and text fields on
// top of the recording itself.
const formOverhead = 1 << 20

var safeExt = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,8}$`)

// AnalysisEvents receives completed analyses. Implemented by the MQTT client.
type AnalysisEvents interface {
	PublishAnalysis(ev mqttclient.AnalysisCompleted)
}

// AnalyzeResponse is the success body of POST /api/analyze.
type AnalyzeResponse struct {
	Transcript string             `json:"transcript"`
	Feedback   *feedback.Feedback `json:"feedback"`
}

// AnalyzeHandler runs one recording through transcription and feedback.
type AnalyzeHandler struct {
	providers func() *Providers
	temp      *storage.TempStore
	mapper    *diagnose.Mapper
	maxBytes  int64
	minBytes  int64
	events    AnalysisEvents
	log       zerolog.Logger

	inFlight atomic.Int64
}

// AnalyzeOptions configures an AnalyzeHandler.
type AnalyzeOptions struct {
	Providers func() *Providers
	Temp      *storage.TempStore
	Mapper    *diagnose.Mapper
	MaxBytes  int64
	MinBytes  int64
	Events    AnalysisEvents // may be nil
	Log       zerolog.Logger
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(opts AnalyzeOptions) *AnalyzeHandler {
	return &AnalyzeHandler{
		providers: opts.Providers,
		temp:      opts.Temp,
		mapper:    opts.Mapper,
		maxBytes:  opts.MaxBytes,
		minBytes:  opts.MinBytes,
		events:    opts.Events,
		log:       opts.Log.With().Str("handler", "analyze").Logger(),
	}
}

// Routes registers the analyze endpoint.
func (h *AnalyzeHandler) Routes(r chi.Router) {
	r.Post("/analyze", h.Analyze)
}

// InFlightAnalyses reports requests currently inside Analyze.
func (h *AnalyzeHandler) InFlightAnalyses() int {
	return int(h.inFlight.Load())
}

// Analyze handles POST /api/analyze.
// Accepts a multipart form with the recording in the "video" field.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)

	log := hlog.FromRequest(r)
	if log.GetLevel() == zerolog.Disabled {
		log = &h.log
	}
	outcome := "rejected"
	defer func() { metrics.AnalyzeRequestsTotal.WithLabelValues(outcome).Inc() }()

	// Size guards run on the in-memory upload, before anything touches disk.
	// The memory bound exceeds the body bound so multipart never spills to
	// its own temp files.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverhead)
	if err := r.ParseMultipartForm(h.maxBytes + 2*formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteError(w, http.StatusBadRequest, h.tooLargeMessage())
			return
		}
		WriteError(w, http.StatusBadRequest, "File upload error: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "No recording uploaded")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		WriteError(w, http.StatusBadRequest, h.tooLargeMessage())
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "File upload error: "+err.Error())
		return
	}
	if int64(len(data)) > h.maxBytes {
		WriteError(w, http.StatusBadRequest, h.tooLargeMessage())
		return
	}
	if int64(len(data)) < h.minBytes {
		WriteError(w, http.StatusBadRequest, "Recording is too short or empty. Please record for at least 1 second.")
		return
	}

	p := h.providers()
	if !p.Transcriber.Configured() {
		outcome = "unconfigured"
		h.fail(w, log, h.mapper.Unconfigured())
		return
	}
	if p.Analyzer == nil {
		outcome = "unconfigured"
		h.fail(w, log, h.mapper.AnalysisUnconfigured())
		return
	}

	meta := feedback.Metadata{
		Mode:             feedback.ParseMode(r.FormValue("mode")),
		ScriptText:       r.FormValue("script"),
		ScriptTone:       r.FormValue("scriptTone"),
		TopicText:        r.FormValue("topic"),
		TimeLimitSeconds: feedback.ParseSeconds(r.FormValue("timeLimitSeconds")),
		ElapsedSeconds:   feedback.ParseSeconds(r.FormValue("elapsedSeconds")),
	}
	log.Info().
		Int("size", len(data)).
		Str("mode", string(meta.Mode)).
		Msg("analyze request received")

	path, err := h.temp.Save(data, uploadExt(header.Filename))
	if err != nil {
		outcome = "storage_failed"
		log.Error().Err(err).Msg("temp file write failed")
		if errors.Is(err, storage.ErrTempDir) {
			WriteErrorDetail(w, http.StatusInternalServerError, "Failed to create temporary directory for file upload.", err.Error())
			return
		}
		WriteErrorDetail(w, http.StatusInternalServerError, "Failed to save uploaded file.", err.Error())
		return
	}
	var removeOnce sync.Once
	removeTemp := func() {
		removeOnce.Do(func() {
			if err := h.temp.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to delete temp file")
			}
		})
	}
	defer removeTemp()

	start := time.Now()
	res, err := p.Transcriber.Transcribe(r.Context(), path)
	transcribeDur := time.Since(start)
	removeTemp()
	if err != nil {
		outcome = "transcription_failed"
		log.Error().Err(err).Dur("duration", transcribeDur).Msg("transcription failed")
		h.fail(w, log, h.mapper.Diagnose(diagnose.StageTranscription, err))
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		WriteError(w, http.StatusBadRequest, "No speech detected in recording. Please try again and speak clearly.")
		return
	}

	start = time.Now()
	fb, err := p.Analyzer.Analyze(r.Context(), res.Text, meta)
	analyzeDur := time.Since(start)
	if err != nil {
		outcome = "analysis_failed"
		log.Error().Err(err).Dur("duration", analyzeDur).Msg("feedback generation failed")
		if errors.Is(err, feedback.ErrMalformedResponse) {
			WriteErrorDetail(w, http.StatusInternalServerError, "Failed to parse AI feedback.", err.Error())
			return
		}
		h.fail(w, log, h.mapper.Diagnose(diagnose.StageAnalysis, err))
		return
	}

	outcome = "ok"
	log.Info().
		Str("provider", res.Provider).
		Dur("transcribe", transcribeDur).
		Dur("analyze", analyzeDur).
		Float64("overall", fb.Scores.Overall).
		Msg("analysis complete")
	WriteJSON(w, http.StatusOK, AnalyzeResponse{Transcript: res.Text, Feedback: fb})

	if h.events != nil {
		h.events.PublishAnalysis(mqttclient.AnalysisCompleted{
			RequestID:    RequestIDFrom(r.Context()),
			Mode:         string(meta.Mode),
			Provider:     res.Provider,
			Overall:      fb.Scores.Overall,
			TranscribeMs: transcribeDur.Milliseconds(),
			AnalyzeMs:    analyzeDur.Milliseconds(),
			At:           time.Now().UTC(),
		})
	}
}

func (h *AnalyzeHandler) fail(w http.ResponseWriter, log *zerolog.Logger, d diagnose.Diagnosis) {
	metrics.ErrorCategoryTotal.WithLabelValues(string(d.Category)).Inc()
	log.Warn().Str("category", string(d.Category)).Msg(d.Message)
	WriteDiagnosis(w, d)
}

func (h *AnalyzeHandler) tooLargeMessage() string {
	return fmt.Sprintf("File too large. Maximum size is %dMB.", h.maxBytes>>20)
}

// uploadExt keeps the client's file extension when it looks like one.
// Browser recordings are WebM.
func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if safeExt.MatchString(ext) {
		return ext
	}
	return ".webm"
}
