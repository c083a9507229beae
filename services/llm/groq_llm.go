// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Groq Wire Types (OpenAI chat-completions format)
// =============================================================================

const defaultGroqBaseURL = "https://api.groq.com/openai/v1/chat/completions"

// defaultGroqModel backs extraction and advice generation.
const defaultGroqModel = "llama-3.3-70b-versatile"

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	ID      string       `json:"id"`
	Choices []groqChoice `json:"choices"`
	Error   *groqError   `json:"error,omitempty"`
}

type groqChoice struct {
	Index        int         `json:"index"`
	Message      groqMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type groqError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// GroqClient implements Client against the Groq chat-completions API,
// which speaks the OpenAI wire format.
//
// # Description
//
// Calls are guarded by a client-side rate limiter: Groq's free tier
// throttles aggressively and a burst of per-term tie-break calls would
// otherwise trip 429s mid-batch.
//
// # Thread Safety
//
// Safe for concurrent use.
type GroqClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	limiter    *rate.Limiter
}

// NewGroqClientWithConfig creates a client with explicit settings.
// Empty model/baseURL fall back to defaults.
func NewGroqClientWithConfig(apiKey, model, baseURL string) *GroqClient {
	if model == "" {
		model = defaultGroqModel
	}
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	return &GroqClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(2), 5),
	}
}

// NewGroqClient creates a client from GROQ_API_KEY and GROQ_MODEL.
//
// # Outputs
//
//   - *GroqClient: The configured client.
//   - error: Non-nil if GROQ_API_KEY is missing.
func NewGroqClient() (*GroqClient, error) {
	apiKey := os.Getenv("GROQ_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
	}
	return NewGroqClientWithConfig(apiKey, os.Getenv("GROQ_MODEL"), os.Getenv("GROQ_BASE_URL")), nil
}

// WithModel returns a client identical to c but targeting model. The
// tie-breaker uses this to run a smaller model than extraction without a
// second credential setup.
func (c *GroqClient) WithModel(model string) *GroqClient {
	clone := *c
	clone.model = model
	return &clone
}

// Model returns the model this client targets.
func (c *GroqClient) Model() string { return c.model }

// Generate implements Client as a single-user-message Chat call.
func (c *GroqClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements Client against the chat-completions endpoint.
func (c *GroqClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	wireMessages := make([]groqMessage, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, groqMessage{Role: m.Role, Content: m.Content})
	}

	reqBody, err := json.Marshal(groqRequest{
		Model:       c.model,
		Messages:    wireMessages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed groqResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response (%d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat service error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat service returned %d: %s", resp.StatusCode, string(body))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat service returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
