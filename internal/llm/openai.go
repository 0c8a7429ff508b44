package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/semquery/semquery/internal/observability"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration

	// GrammarRetries bounds re-prompts after grammar violations.
	GrammarRetries int
}

// OpenAICompleter talks to any OpenAI-compatible chat completion endpoint.
type OpenAICompleter struct {
	baseURL        string
	apiKey         string
	model          string
	temperature    float64
	grammarRetries int
	client         *http.Client
}

func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.GrammarRetries
	if retries < 0 {
		retries = 0
	}
	return &OpenAICompleter{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		model:          model,
		temperature:    cfg.Temperature,
		grammarRetries: retries,
		client:         &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (Response, error) {
	messages := []map[string]string{
		{"role": "system", "content": systemPrompt(req)},
		{"role": "user", "content": req.Prompt},
	}

	var lastViolation error
	for attempt := 0; attempt <= c.grammarRetries; attempt++ {
		if lastViolation != nil {
			messages = append(messages, map[string]string{
				"role":    "user",
				"content": "Your previous output was rejected: " + lastViolation.Error() + ". Respond again with JSON that satisfies the required grammar.",
			})
		}

		raw, err := c.chat(ctx, messages)
		if err != nil {
			return Response{}, err
		}
		messages = append(messages, map[string]string{"role": "assistant", "content": string(raw)})

		if err := CheckGrammar(req.Grammar, raw); err != nil {
			lastViolation = err
			continue
		}
		return Response{Raw: raw, Provider: "openai-compatible", Model: c.model}, nil
	}
	return Response{}, &GrammarError{Detail: lastViolation.Error()}
}

func (c *OpenAICompleter) chat(ctx context.Context, messages []map[string]string) (json.RawMessage, error) {
	start := time.Now()
	defer func() { observability.ObserveLLMRequest(time.Since(start)) }()

	payload := map[string]any{
		"model":           c.model,
		"messages":        messages,
		"temperature":     c.temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read chat response body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: chat completion status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("empty chat completion choices")
	}

	content := stripMarkdownFence(parsed.Choices[0].Message.Content)
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("model returned empty output")
	}
	return json.RawMessage(content), nil
}

func systemPrompt(req Request) string {
	prompt := strings.TrimSpace(req.System)
	if prompt == "" {
		prompt = "You are a precise structured-output assistant."
	}
	if req.Grammar.Description != "" {
		prompt += "\n\nOutput grammar (mandatory):\n" + req.Grammar.Description +
			"\nRespond with a single JSON object only. No markdown, no explanation."
	}
	return prompt
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
