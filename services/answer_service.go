package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/kbagent/config"
)

// NotInKnowledgeBase is the sentence the model is told to use when the documents are silent.
const NotInKnowledgeBase = "I don't have that information in the knowledge base."

// ChatMessage mirrors OpenAI-compatible chat message payloads.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Answer is the outcome of one question. Text is always displayable: on
// failure it holds the "Error: ..." notice and Err carries the cause.
type Answer struct {
	Text string
	Err  error
}

func (a Answer) Failed() bool {
	return a.Err != nil
}

// AnswerService sends a question plus the whole knowledge base to the chat completion API.
// Calls are stateless; no conversation history is forwarded.
type AnswerService struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      httpDoer
	logger      *zap.SugaredLogger
}

func NewAnswerService(cfg *config.Config, logger *zap.SugaredLogger) *AnswerService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &AnswerService{
		baseURL:     strings.TrimRight(cfg.GroqAPIBaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.GroqAPIKey),
		model:       cfg.GroqModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      newHTTPClientWithTimeout(cfg.HTTPTimeout),
		logger:      logger,
	}
}

// Answer never returns an error value; failures come back as a failed Answer.
func (s *AnswerService) Answer(ctx context.Context, question, knowledgeBase string) Answer {
	text, err := s.complete(ctx, question, knowledgeBase)
	if err != nil {
		s.logger.Warnw("chat completion failed", "model", s.model, "error", err)
		return failedAnswer(err)
	}

	return Answer{Text: text}
}

func failedAnswer(err error) Answer {
	return Answer{
		Text: fmt.Sprintf("Error: %s\n\nPlease check your %s in %s", err.Error(), config.CredentialEnvVar, config.EnvFileHint),
		Err:  err,
	}
}

func (s *AnswerService) complete(ctx context.Context, question, knowledgeBase string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question cannot be empty")
	}

	if s.apiKey == "" {
		return "", config.ErrMissingCredential
	}

	payload := chatAPIRequest{
		Model:       s.model,
		Messages:    []ChatMessage{{Role: "user", Content: BuildPrompt(question, knowledgeBase)}},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+s.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("call chat api: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", newAPIError(response.StatusCode, respBody)
	}

	var apiResp chatAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", &APIError{StatusCode: response.StatusCode, Code: apiResp.Error.Code, Type: apiResp.Error.Type, Message: apiResp.Error.Message}
	}

	if len(apiResp.Choices) == 0 {
		return "", errors.New("chat response contained no choices")
	}

	if apiResp.Usage != nil {
		s.logger.Debugw("chat completion usage",
			"prompt_tokens", apiResp.Usage.PromptTokens,
			"completion_tokens", apiResp.Usage.CompletionTokens,
		)
	}

	return apiResp.Choices[0].Message.Content, nil
}

// BuildPrompt embeds the knowledge base and the literal question in one instruction.
func BuildPrompt(question, knowledgeBase string) string {
	var builder strings.Builder
	builder.WriteString("You are a helpful AI assistant for a company's knowledge base.\n\n")
	builder.WriteString("Below is the company's knowledge base containing policies and information:\n\n")
	builder.WriteString(knowledgeBase)
	builder.WriteString("\n\nBased ONLY on the information above, please answer the following question.\n")
	builder.WriteString(fmt.Sprintf("If the answer is not in the knowledge base, say %q\n", NotInKnowledgeBase))
	builder.WriteString("Be professional, clear, and cite which document/section your answer comes from.\n\n")
	builder.WriteString("Question: ")
	builder.WriteString(question)
	builder.WriteString("\n\nAnswer:")
	return builder.String()
}

type chatAPIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatAPIChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatAPIResponse struct {
	ID      string          `json:"id"`
	Choices []chatAPIChoice `json:"choices"`
	Usage   *chatUsage      `json:"usage"`
	Error   *groqErrorBody  `json:"error,omitempty"`
}
