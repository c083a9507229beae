// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// =============================================================================
// OpenAI-Compatible Provider
// =============================================================================

const (
	defaultOpenAIEmbedURL = "https://api.openai.com/v1/embeddings"
	defaultOpenAIModel    = "text-embedding-3-small"
)

type openaiEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiEmbedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIProvider embeds text via any endpoint speaking the OpenAI
// /v1/embeddings wire format.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIProvider struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
// Empty url/model fall back to the hosted OpenAI endpoint defaults.
func NewOpenAIProvider(url, model, apiKey string) *OpenAIProvider {
	if url == "" {
		url = defaultOpenAIEmbedURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{},
	}
}

// Model implements Provider.
func (p *OpenAIProvider) Model() string { return p.model }

// Embed implements Provider via one POST to the embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	reqBody, err := json.Marshal(openaiEmbedReq{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	var parsed openaiEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response (%d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embed service error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Data[0].Embedding, nil
}
