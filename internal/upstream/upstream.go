// Package upstream normalizes failures from the hosted speech and language
// services so callers can classify them without knowing which SDK produced them.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/sashabaranov/go-openai"
)

// Service names used in errors, logs, and metrics labels.
const (
	AssemblyAI = "assemblyai"
	OpenAI     = "openai"
)

// Error is a non-success answer from a hosted service.
type Error struct {
	Service    string
	StatusCode int // 0 when the service answered without an HTTP status (e.g. job error)
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Service, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried anywhere in err's chain, or 0.
func StatusCode(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Service returns the service that produced err, or "".
func Service(err error) string {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Service
	}
	return ""
}

// FromOpenAI converts go-openai error types into *Error, keeping the original
// in the chain. Transport errors (no HTTP status) are wrapped unchanged so
// connectivity checks still see the net error.
func FromOpenAI(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Service: OpenAI, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &Error{Service: OpenAI, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return fmt.Errorf("openai request: %w", err)
}

// connectivityMarkers are message fragments produced by resolvers, dialers and
// proxies when the remote service could not be reached at all.
var connectivityMarkers = []string{
	"connection error",
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"timed out",
	"timeout",
	"tls handshake",
	"broken pipe",
	"network is unreachable",
	"socket hang up",
	"econnrefused",
	"econnreset",
	"enotfound",
	"etimedout",
}

// IsConnectivity reports whether err means the service was unreachable or the
// call exceeded its deadline, as opposed to the service answering with an error.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if StatusCode(err) > 0 {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectivityMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
