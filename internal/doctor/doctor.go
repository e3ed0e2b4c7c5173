// Package doctor runs environment diagnostics for provider credentials and
// outbound connectivity.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/upstream"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	openAIPlaceholder    = "your_openai_api_key_here"
)

// Check is one doctor assertion result. Warn marks a passing check the user
// should still look at.
type Check struct {
	Name    string
	Pass    bool
	Warn    bool
	Message string
}

// Report is the full doctor output.
type Report struct {
	Checks    []Check
	Diagnosis Diagnosis
}

// Diagnosis is the overall verdict drawn from the provider probes.
type Diagnosis struct {
	Verdict string
	Lines   []string
}

// Verdicts.
const (
	VerdictAllWorking = "all connections working"
	VerdictPartial    = "partial connection"
	VerdictInvalidKey = "invalid API key"
	VerdictFirewall   = "firewall blocking detected"
	VerdictDNS        = "DNS resolution failed"
	VerdictNetwork    = "network error"
	VerdictNoKeys     = "no API keys configured"
)

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		switch {
		case !check.Pass:
			status = "FAIL"
		case check.Warn:
			status = "WARN"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	if r.Diagnosis.Verdict != "" {
		b.WriteString("\nDiagnosis: " + r.Diagnosis.Verdict + "\n")
		for _, line := range r.Diagnosis.Lines {
			b.WriteString("  " + line + "\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Options configures a doctor run.
type Options struct {
	Config *config.Config
	// Offline skips every network probe.
	Offline bool
	Client  *http.Client
}

// probe is the outcome of one authenticated provider call.
type probe struct {
	configured bool
	ok         bool
	status     int
	err        error
}

// Run executes the configuration and connectivity checks.
func Run(ctx context.Context, opts Options) Report {
	cfg := opts.Config
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	checks := []Check{checkEnvFile(cfg)}
	checks = append(checks, checkOpenAIKey(cfg.OpenAIAPIKey)...)
	checks = append(checks, checkAssemblyAIKey(cfg.AssemblyAIAPIKey))

	if opts.Offline {
		return Report{Checks: checks}
	}

	openaiBase := cfg.OpenAIBaseURL
	if openaiBase == "" {
		openaiBase = defaultOpenAIBaseURL
	}
	checks = append(checks,
		checkReachable(ctx, client, "openai.reachable", openaiBase),
		checkReachable(ctx, client, "assemblyai.reachable", cfg.AssemblyAIBaseURL),
	)

	oa := probeOpenAI(ctx, client, cfg.OpenAIAPIKey, openaiBase)
	checks = append(checks, probeCheck("openai.auth", oa))
	aai := probeAssemblyAI(ctx, client, cfg.AssemblyAIAPIKey, cfg.AssemblyAIBaseURL)
	checks = append(checks, probeCheck("assemblyai.auth", aai))

	return Report{Checks: checks, Diagnosis: diagnose(oa, aai)}
}

func checkEnvFile(cfg *config.Config) Check {
	if cfg.EnvFile != "" {
		return Check{Name: ".env", Pass: true, Message: fmt.Sprintf("loaded %q (%d keys)", cfg.EnvFile, len(cfg.FileKeys))}
	}
	if cfg.ProvidersConfigured() > 0 {
		return Check{Name: ".env", Pass: true, Warn: true, Message: "not found; using process environment"}
	}
	return Check{Name: ".env", Pass: false, Message: ".env file not found; create one with OPENAI_API_KEY and optionally ASSEMBLYAI_API_KEY"}
}

func checkOpenAIKey(key string) []Check {
	if key == "" || key == openAIPlaceholder {
		return []Check{{Name: "OPENAI_API_KEY", Pass: false, Message: "not set or still has placeholder value; required for analysis"}}
	}
	checks := []Check{{Name: "OPENAI_API_KEY", Pass: true, Message: "set"}}
	if !strings.HasPrefix(key, "sk-") {
		checks = append(checks, Check{Name: "OPENAI_API_KEY.format", Pass: true, Warn: true, Message: `does not start with "sk-"; make sure it is correct`})
	}
	return checks
}

func checkAssemblyAIKey(key string) Check {
	if key == "" {
		return Check{Name: "ASSEMBLYAI_API_KEY", Pass: true, Warn: true, Message: "not set; OpenAI Whisper will be the only transcription provider"}
	}
	return Check{Name: "ASSEMBLYAI_API_KEY", Pass: true, Message: "set (primary transcription provider)"}
}

// checkReachable passes on any HTTP answer from the service's host.
func checkReachable(ctx context.Context, client *http.Client, name, base string) Check {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("invalid base URL %q", base)}
	}
	target := u.Scheme + "://" + u.Host

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s unreachable: %v", target, err)}
	}
	resp.Body.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s answered %d in %s", target, resp.StatusCode, time.Since(start).Round(time.Millisecond))}
}

// probeOpenAI lists models, which authenticates without spending tokens.
func probeOpenAI(ctx context.Context, client *http.Client, key, base string) probe {
	if key == "" {
		return probe{}
	}
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = base
	cfg.HTTPClient = client

	_, err := openai.NewClientWithConfig(cfg).ListModels(ctx)
	if err != nil {
		err = upstream.FromOpenAI(err)
		return probe{configured: true, status: upstream.StatusCode(err), err: err}
	}
	return probe{configured: true, ok: true, status: http.StatusOK}
}

// probeAssemblyAI lists transcripts. 200 and 400 both prove the key was
// accepted.
func probeAssemblyAI(ctx context.Context, client *http.Client, key, base string) probe {
	if key == "" {
		return probe{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v2/transcript", nil)
	if err != nil {
		return probe{configured: true, err: err}
	}
	req.Header.Set("Authorization", key)
	resp, err := client.Do(req)
	if err != nil {
		return probe{configured: true, err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	p := probe{configured: true, status: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest:
		p.ok = true
	default:
		p.err = &upstream.Error{Service: upstream.AssemblyAI, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return p
}

func probeCheck(name string, p probe) Check {
	switch {
	case !p.configured:
		return Check{Name: name, Pass: true, Warn: true, Message: "skipped, no API key"}
	case p.ok:
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("connected and authenticated (%d)", p.status)}
	case p.status == http.StatusUnauthorized:
		return Check{Name: name, Pass: false, Message: "invalid API key (401)"}
	case p.status > 0:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("unexpected response (%d)", p.status)}
	default:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("connection failed: %v", p.err)}
	}
}

func diagnose(oa, aai probe) Diagnosis {
	if !oa.configured && !aai.configured {
		return Diagnosis{Verdict: VerdictNoKeys, Lines: []string{
			"Add OPENAI_API_KEY (required) and optionally ASSEMBLYAI_API_KEY to your .env file.",
		}}
	}
	if !oa.ok && !aai.ok {
		switch {
		case isBlocked(oa.err) || isBlocked(aai.err):
			return Diagnosis{Verdict: VerdictFirewall, Lines: []string{
				"This process cannot reach external APIs.",
				"Allow outbound HTTPS (port 443) for this binary in your firewall or proxy.",
			}}
		case isDNS(oa.err) || isDNS(aai.err):
			return Diagnosis{Verdict: VerdictDNS, Lines: []string{
				"Your system cannot resolve API domain names.",
				"Check your internet connection and DNS settings.",
			}}
		case oa.status != http.StatusUnauthorized && aai.status != http.StatusUnauthorized:
			return Diagnosis{Verdict: VerdictNetwork, Lines: []string{
				"OpenAI error: " + errText(oa),
				"AssemblyAI error: " + errText(aai),
				"Check your network connection and proxy settings.",
			}}
		}
	}
	if oa.status == http.StatusUnauthorized || aai.status == http.StatusUnauthorized {
		return Diagnosis{Verdict: VerdictInvalidKey, Lines: []string{
			"At least one API key is incorrect.",
			"Check your .env file and verify your keys.",
		}}
	}
	if oa.ok && aai.ok {
		return Diagnosis{Verdict: VerdictAllWorking, Lines: []string{
			"Both APIs are reachable and keys are valid.",
		}}
	}
	return Diagnosis{Verdict: VerdictPartial, Lines: []string{
		"OpenAI: " + workingText(oa),
		"AssemblyAI: " + workingText(aai),
		"At least one service is working; check the failed checks above.",
	}}
}

// isBlocked matches refused connections and timeouts, the usual signature of
// a firewall dropping outbound traffic.
func isBlocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDNS(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func errText(p probe) string {
	switch {
	case !p.configured:
		return "no API key"
	case p.err != nil:
		return p.err.Error()
	default:
		return "unknown"
	}
}

func workingText(p probe) string {
	switch {
	case !p.configured:
		return "not configured"
	case p.ok:
		return "working"
	default:
		return "failed"
	}
}
