package transcribe

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeProvider implements Provider with a canned answer.
type fakeProvider struct {
	name  string
	text  string
	err   error
	delay time.Duration
	calls int
	// noResponse makes Transcribe return (nil, nil).
	noResponse bool
}

func (f *fakeProvider) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil || f.noResponse {
		return nil, f.err
	}
	return &Response{Text: f.text}, nil
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func newTestOrchestrator(primary, fallback Provider) *Orchestrator {
	return NewOrchestrator(primary, fallback, 0, zerolog.Nop())
}

func TestOrchestrator_NoProvider(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	if o.Configured() {
		t.Error("Configured() = true with no providers")
	}
	_, err := o.Transcribe(context.Background(), "unused.webm")
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestOrchestrator_PrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "assemblyai", text: "hello there"}
	fallback := &fakeProvider{name: "openai", text: "should not be used"}

	res, err := newTestOrchestrator(primary, fallback).Transcribe(context.Background(), "a.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Provider != "assemblyai" {
		t.Errorf("result = %+v", res)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback calls = %d, want 0", fallback.calls)
	}
	last := res.Transitions[len(res.Transitions)-1]
	if last.From != StateTryingPrimary || last.To != StateSucceeded {
		t.Errorf("last transition = %v -> %v", last.From, last.To)
	}
}

func TestOrchestrator_PrimaryFailureFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeProvider
	}{
		{"error", &fakeProvider{name: "assemblyai", err: errors.New("transcription error: bad audio")}},
		{"empty_text", &fakeProvider{name: "assemblyai", text: ""}},
		{"connection_reset", &fakeProvider{name: "assemblyai", err: syscall.ECONNRESET}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeProvider{name: "openai", text: "from whisper"}
			res, err := newTestOrchestrator(tt.primary, fallback).Transcribe(context.Background(), "a.webm")
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if tt.primary.calls != 1 || fallback.calls != 1 {
				t.Errorf("calls primary=%d fallback=%d, want 1/1", tt.primary.calls, fallback.calls)
			}
			if res.Provider != "openai" || res.Text != "from whisper" {
				t.Errorf("result = %+v", res)
			}
			if !res.Attempted("assemblyai") {
				t.Error("primary attempt not recorded")
			}
		})
	}
}

func TestOrchestrator_NoPrimaryGoesStraightToFallback(t *testing.T) {
	fallback := &fakeProvider{name: "openai", text: "only whisper"}
	res, err := newTestOrchestrator(nil, fallback).Transcribe(context.Background(), "a.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Attempted("assemblyai") {
		t.Error("primary attempt recorded but primary is not configured")
	}
	first := res.Transitions[0]
	if first.From != StateNotStarted || first.To != StateTryingFallback {
		t.Errorf("first transition = %v -> %v, want not_started -> trying_fallback", first.From, first.To)
	}
}

func TestOrchestrator_BothFail(t *testing.T) {
	primary := &fakeProvider{name: "assemblyai", err: errors.New("upstream down")}
	fallbackErr := errors.New("whisper exploded")
	fallback := &fakeProvider{name: "openai", err: fallbackErr}

	_, err := newTestOrchestrator(primary, fallback).Transcribe(context.Background(), "a.webm")
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %T %v, want *Error", err, err)
	}
	if !errors.Is(err, fallbackErr) {
		t.Errorf("surfaced error = %v, want the fallback's error", te.Err)
	}
	if !te.PrimaryFailed {
		t.Error("PrimaryFailed = false, want true")
	}
	if !te.Attempted("assemblyai") || !te.Attempted("openai") {
		t.Error("expected both attempts recorded")
	}
}

func TestOrchestrator_FallbackEmptyFails(t *testing.T) {
	fallback := &fakeProvider{name: "openai", text: ""}
	_, err := newTestOrchestrator(nil, fallback).Transcribe(context.Background(), "a.webm")
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
	var te *Error
	errors.As(err, &te)
	if te.PrimaryFailed {
		t.Error("PrimaryFailed = true with no primary configured")
	}
}

func TestOrchestrator_NilResponseIsEmpty(t *testing.T) {
	primary := &fakeProvider{name: "assemblyai", noResponse: true}
	fallback := &fakeProvider{name: "openai", text: "recovered"}

	res, err := newTestOrchestrator(primary, fallback).Transcribe(context.Background(), "a.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "recovered" || fallback.calls != 1 {
		t.Errorf("text = %q, fallback calls = %d; want fallback answer", res.Text, fallback.calls)
	}

	_, err = newTestOrchestrator(nil, &fakeProvider{name: "openai", noResponse: true}).Transcribe(context.Background(), "a.webm")
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
}

func TestOrchestrator_PrimaryOnlyFailure(t *testing.T) {
	primaryErr := errors.New("quota exceeded")
	primary := &fakeProvider{name: "assemblyai", err: primaryErr}
	_, err := newTestOrchestrator(primary, nil).Transcribe(context.Background(), "a.webm")
	if !errors.Is(err, primaryErr) {
		t.Fatalf("err = %v, want primary error", err)
	}
}

func TestOrchestrator_WhitespaceIsNotEmpty(t *testing.T) {
	// Whitespace-only text is a completed transcription; rejecting it as
	// "no speech" is the caller's job.
	fallback := &fakeProvider{name: "openai", text: "   \n"}
	res, err := newTestOrchestrator(nil, fallback).Transcribe(context.Background(), "a.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "   \n" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestOrchestrator_AttemptTimeoutLeavesRoomForFallback(t *testing.T) {
	primary := &fakeProvider{name: "assemblyai", text: "late", delay: time.Second}
	fallback := &fakeProvider{name: "openai", text: "on time"}
	o := NewOrchestrator(primary, fallback, 50*time.Millisecond, zerolog.Nop())

	res, err := o.Transcribe(context.Background(), "a.webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", res.Provider)
	}
	if !errors.Is(res.Transitions[1].Err, context.DeadlineExceeded) {
		t.Errorf("primary err = %v, want deadline exceeded", res.Transitions[1].Err)
	}
}

func TestStateString(t *testing.T) {
	if StateTryingFallback.String() != "trying_fallback" {
		t.Errorf("String = %q", StateTryingFallback.String())
	}
	if State(42).String() != "state(42)" {
		t.Errorf("String = %q", State(42).String())
	}
}
