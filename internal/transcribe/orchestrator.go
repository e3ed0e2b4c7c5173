package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/speechprep/internal/metrics"
)

// ErrNoProvider is returned when neither transcription provider is configured.
var ErrNoProvider = errors.New("no transcription service available: configure OPENAI_API_KEY or ASSEMBLYAI_API_KEY")

// ErrEmptyResult is an attempt that finished without producing any text.
var ErrEmptyResult = errors.New("transcription completed but returned empty text")

// State is a step of one transcription run.
type State int

const (
	StateNotStarted State = iota
	StateTryingPrimary
	StateTryingFallback
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateTryingPrimary:
		return "trying_primary"
	case StateTryingFallback:
		return "trying_fallback"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition records one state change. Provider and Err are set for
// transitions out of a Trying state.
type Transition struct {
	From     State
	To       State
	Provider string
	Err      error
	Duration time.Duration
}

// Result is a successful transcription.
type Result struct {
	Text        string
	Provider    string
	Model       string
	Transitions []Transition
}

// Attempted reports whether the named provider was called during the run.
func (r *Result) Attempted(provider string) bool {
	return attempted(r.Transitions, provider)
}

// Error is a failed transcription run. Err is the failure of the last
// provider tried; PrimaryFailed is set when the primary was tried and failed
// before the fallback, which changes how the failure is explained to users.
type Error struct {
	Err           error
	PrimaryFailed bool
	Transitions   []Transition
}

func (e *Error) Error() string { return "transcription failed: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Attempted reports whether the named provider was called during the run.
func (e *Error) Attempted(provider string) bool {
	return attempted(e.Transitions, provider)
}

func attempted(ts []Transition, provider string) bool {
	for _, t := range ts {
		if t.Provider == provider {
			return true
		}
	}
	return false
}

// Orchestrator turns an audio file into text, trying the primary provider
// first and the fallback provider if the primary fails or is not configured.
// Either provider may be nil. Safe for concurrent use.
type Orchestrator struct {
	primary        Provider
	fallback       Provider
	attemptTimeout time.Duration
	log            zerolog.Logger
}

// NewOrchestrator creates an orchestrator. attemptTimeout bounds each provider
// call separately so a slow primary cannot starve the fallback; 0 disables it.
func NewOrchestrator(primary, fallback Provider, attemptTimeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		primary:        primary,
		fallback:       fallback,
		attemptTimeout: attemptTimeout,
		log:            log,
	}
}

// Configured reports whether at least one provider is available.
func (o *Orchestrator) Configured() bool {
	return o != nil && (o.primary != nil || o.fallback != nil)
}

// Primary returns the primary provider, or nil.
func (o *Orchestrator) Primary() Provider { return o.primary }

// Fallback returns the fallback provider, or nil.
func (o *Orchestrator) Fallback() Provider { return o.fallback }

// run is the mutable state of one Transcribe call.
type run struct {
	path          string
	text          string
	winner        Provider
	lastErr       error
	primaryFailed bool
	transitions   []Transition
}

// Transcribe runs the state machine to a terminal state. It never deletes the
// audio file; the caller owns it.
func (o *Orchestrator) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if !o.Configured() {
		return nil, ErrNoProvider
	}

	r := &run{path: audioPath}
	state := StateNotStarted
	for state != StateSucceeded && state != StateFailed {
		state = o.step(ctx, state, r)
	}

	if state == StateFailed {
		return nil, &Error{Err: r.lastErr, PrimaryFailed: r.primaryFailed, Transitions: r.transitions}
	}
	return &Result{
		Text:        r.text,
		Provider:    r.winner.Name(),
		Model:       r.winner.Model(),
		Transitions: r.transitions,
	}, nil
}

// step performs the work of one state and returns the next state.
func (o *Orchestrator) step(ctx context.Context, state State, r *run) State {
	switch state {
	case StateNotStarted:
		next := StateTryingFallback
		if o.primary != nil {
			next = StateTryingPrimary
		}
		r.transitions = append(r.transitions, Transition{From: state, To: next})
		return next

	case StateTryingPrimary:
		if o.try(ctx, state, o.primary, r) {
			return StateSucceeded
		}
		r.primaryFailed = true
		if o.fallback == nil {
			r.transitions[len(r.transitions)-1].To = StateFailed
			return StateFailed
		}
		o.log.Info().Str("fallback", o.fallback.Name()).Msg("falling back to secondary transcription provider")
		return StateTryingFallback

	case StateTryingFallback:
		if o.try(ctx, state, o.fallback, r) {
			return StateSucceeded
		}
		return StateFailed
	}
	return StateFailed
}

// try calls p once and records the outcome. Reports success.
func (o *Orchestrator) try(ctx context.Context, from State, p Provider, r *run) bool {
	if o.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		defer cancel()
	}

	log := o.log.With().Str("provider", p.Name()).Str("state", from.String()).Logger()
	log.Debug().Msg("transcription attempt starting")

	start := time.Now()
	resp, err := p.Transcribe(ctx, r.path)
	if err == nil && (resp == nil || resp.Text == "") {
		err = ErrEmptyResult
	}
	dur := time.Since(start)
	metrics.TranscriptionDuration.WithLabelValues(p.Name()).Observe(dur.Seconds())

	t := Transition{From: from, Provider: p.Name(), Err: err, Duration: dur}
	if err != nil {
		t.To = StateTryingFallback
		if from == StateTryingFallback {
			t.To = StateFailed
		}
		r.transitions = append(r.transitions, t)
		r.lastErr = err
		metrics.TranscriptionAttemptsTotal.WithLabelValues(p.Name(), "error").Inc()
		log.Warn().Err(err).Dur("duration", dur).Msg("transcription attempt failed")
		return false
	}

	t.To = StateSucceeded
	r.transitions = append(r.transitions, t)
	r.text = resp.Text
	r.winner = p
	metrics.TranscriptionAttemptsTotal.WithLabelValues(p.Name(), "ok").Inc()
	log.Info().
		Int("chars", len(resp.Text)).
		Dur("duration", dur).
		Str("job_id", resp.JobID).
		Msg("transcription attempt succeeded")
	return true
}
