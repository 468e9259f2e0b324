package provider

import (
	"errors"
	"fmt"
	"strings"
)

// maxErrorBodyLen caps the response body captured into a ProviderError.
const maxErrorBodyLen = 2048

// ProviderError represents a structured error from an LLM backend. It captures
// the context needed for logging, caller-level retry decisions, and debugging.
type ProviderError struct {
	// Provider is the adapter name (e.g. "openrouter").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Body holds the truncated response body for non-success statuses.
	Body string

	// Cause is the underlying error.
	Cause error
}

// NewProviderError wraps err with provider and model context.
func NewProviderError(provider, model string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Model: model, Cause: err}
}

// WithStatus attaches an HTTP status code.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	return e
}

// WithBody attaches a truncated response body.
func (e *ProviderError) WithBody(body string) *ProviderError {
	body = strings.TrimSpace(body)
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen] + "..."
	}
	e.Body = body
	return e
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.Status))
	}
	msg := strings.Join(parts, " ")
	if e.Cause != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Cause.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error suggests a retry may succeed.
// The orchestrator never retries; this informs caller-level policy.
func (e *ProviderError) IsRetryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// AsProviderError unwraps err into a *ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
