package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wuwenbin0122/kbagent/config"
)

type failingDoer struct {
	err error
}

func (d failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, d.err
}

func newTestAnswerService(baseURL string) *AnswerService {
	return NewAnswerService(&config.Config{
		GroqAPIBaseURL: baseURL,
		GroqAPIKey:     "gsk_test",
		GroqModel:      "llama-3.3-70b-versatile",
		Temperature:    0.7,
		MaxTokens:      1024,
		HTTPTimeout:    5 * time.Second,
	}, nil)
}

func TestAnswerServiceSendsSingleUserMessage(t *testing.T) {
	var captured chatAPIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gsk_test" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "You get 10 sick days (policy.txt)."}},
				{"index": 1, "message": map[string]string{"role": "assistant", "content": "second choice"}},
			},
		})
	}))
	defer server.Close()

	svc := newTestAnswerService(server.URL)
	answer := svc.Answer(context.Background(), "How many sick days?", "\n\n=== Document: policy.txt ===\n10 sick days")

	if answer.Failed() {
		t.Fatalf("unexpected failure: %v", answer.Err)
	}
	if answer.Text != "You get 10 sick days (policy.txt)." {
		t.Fatalf("expected first choice, got %q", answer.Text)
	}

	if captured.Model != "llama-3.3-70b-versatile" {
		t.Fatalf("unexpected model %q", captured.Model)
	}
	if captured.Temperature != 0.7 || captured.MaxTokens != 1024 {
		t.Fatalf("unexpected sampling params: %v / %d", captured.Temperature, captured.MaxTokens)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("expected exactly one user message, got %+v", captured.Messages)
	}

	prompt := captured.Messages[0].Content
	for _, want := range []string{"=== Document: policy.txt ===", "Question: How many sick days?", NotInKnowledgeBase, "cite which document/section"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestAnswerServiceIsDeterministicForFixedInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatAPIRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "echo:" + req.Messages[0].Content[len(req.Messages[0].Content)-20:]}},
			},
		})
	}))
	defer server.Close()

	svc := newTestAnswerService(server.URL)
	first := svc.Answer(context.Background(), "What is the leave policy?", "kb")
	second := svc.Answer(context.Background(), "What is the leave policy?", "kb")

	if first.Failed() || second.Failed() {
		t.Fatalf("unexpected failures: %v / %v", first.Err, second.Err)
	}
	if first.Text != second.Text {
		t.Fatalf("expected identical answers, got %q and %q", first.Text, second.Text)
	}
}

func TestAnswerServiceTransportFailureBecomesErrorText(t *testing.T) {
	svc := newTestAnswerService("http://unused")
	svc.client = failingDoer{err: errors.New("connection refused")}

	answer := svc.Answer(context.Background(), "hello?", "kb")

	if !answer.Failed() {
		t.Fatalf("expected failed answer")
	}
	if !strings.HasPrefix(answer.Text, "Error:") {
		t.Fatalf("expected text to start with Error:, got %q", answer.Text)
	}
	if !strings.Contains(answer.Text, "connection refused") {
		t.Fatalf("expected cause in text, got %q", answer.Text)
	}
	if !strings.HasSuffix(answer.Text, "\n\nPlease check your GROQ_API_KEY in .env file") {
		t.Fatalf("expected credential hint, got %q", answer.Text)
	}
}

func TestAnswerServiceAPIErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	answer := newTestAnswerService(server.URL).Answer(context.Background(), "q", "kb")

	if !answer.Failed() {
		t.Fatalf("expected failed answer")
	}
	if !strings.HasPrefix(answer.Text, "Error: groq api error (401, invalid_api_key): Invalid API Key") {
		t.Fatalf("unexpected text %q", answer.Text)
	}

	var apiErr *APIError
	if !errors.As(answer.Err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", answer.Err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Type != "invalid_request_error" || !apiErr.Unauthorized() {
		t.Fatalf("unexpected api error fields %+v", apiErr)
	}
}

func TestAnswerServiceNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	answer := newTestAnswerService(server.URL).Answer(context.Background(), "q", "kb")
	if !answer.Failed() || !strings.Contains(answer.Text, "no choices") {
		t.Fatalf("expected no-choices failure, got %+v", answer)
	}
}

func TestAnswerServiceMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	answer := newTestAnswerService(server.URL).Answer(context.Background(), "q", "kb")
	if !answer.Failed() || !strings.HasPrefix(answer.Text, "Error: decode chat response") {
		t.Fatalf("expected decode failure, got %+v", answer)
	}
}

func TestAnswerServiceRejectsBlankQuestionWithoutCalling(t *testing.T) {
	svc := newTestAnswerService("http://unused")
	svc.client = failingDoer{err: errors.New("should not be called")}

	answer := svc.Answer(context.Background(), "   ", "kb")
	if !answer.Failed() || !strings.Contains(answer.Text, "question cannot be empty") {
		t.Fatalf("expected blank question failure, got %+v", answer)
	}
}

func TestAnswerServiceMissingCredential(t *testing.T) {
	svc := NewAnswerService(&config.Config{GroqAPIBaseURL: "http://unused", MaxTokens: 1}, nil)

	answer := svc.Answer(context.Background(), "q", "kb")
	if !errors.Is(answer.Err, config.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", answer.Err)
	}
}

func TestNewAPIErrorFallbacks(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"raw body", http.StatusBadGateway, "upstream exploded", "groq api error (502): upstream exploded"},
		{"empty body", http.StatusServiceUnavailable, "", "groq api error (503): Service Unavailable"},
		{"type only", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_exceeded"}}`, "groq api error (429, rate_limit_exceeded): Too Many Requests"},
		{"empty envelope", http.StatusBadRequest, `{"error":{}}`, `groq api error (400): {"error":{}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := newAPIError(tc.status, []byte(tc.body))
			if err.Error() != tc.want {
				t.Fatalf("got %q, want %q", err.Error(), tc.want)
			}
		})
	}
}

func TestNewAPIErrorTruncatesLongBodies(t *testing.T) {
	err := newAPIError(http.StatusInternalServerError, []byte(strings.Repeat("x", 1000)))
	if len(err.Message) != maxErrorSnippet {
		t.Fatalf("expected snippet of %d bytes, got %d", maxErrorSnippet, len(err.Message))
	}
	if err.Unauthorized() {
		t.Fatalf("500 is not an auth failure")
	}
}
