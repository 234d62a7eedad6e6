package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorSnippet    = 256
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// APIError is a non-2xx reply from the Groq chat API.
// Code falls back to Type when Groq omits it.
type APIError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	message := e.Message
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}

	if e.Code != "" {
		return fmt.Sprintf("groq api error (%d, %s): %s", e.StatusCode, e.Code, message)
	}
	return fmt.Sprintf("groq api error (%d): %s", e.StatusCode, message)
}

// Unauthorized reports a rejected credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.Code == "invalid_api_key"
}

// groqErrorBody is the OpenAI-style error object; it arrives wrapped in {"error": ...}.
type groqErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type groqErrorEnvelope struct {
	Error *groqErrorBody `json:"error,omitempty"`
}

// newHTTPClientWithTimeout falls back to defaultHTTPTimeout when d is non-positive.
func newHTTPClientWithTimeout(d time.Duration) *http.Client {
	if d <= 0 {
		d = defaultHTTPTimeout
	}
	return &http.Client{Timeout: d}
}

// newAPIError prefers the JSON envelope and otherwise keeps a trimmed snippet of the raw body.
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var envelope groqErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
		apiErr.Message = strings.TrimSpace(envelope.Error.Message)
		if apiErr.Code == "" {
			apiErr.Code = apiErr.Type
		}
		if apiErr.Message != "" || apiErr.Code != "" {
			return apiErr
		}
	}

	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}
	apiErr.Message = snippet
	return apiErr
}
