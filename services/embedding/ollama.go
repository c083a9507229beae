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
// Ollama Provider
// =============================================================================

const (
	defaultOllamaEmbedURL = "http://localhost:11434/api/embed"
	defaultOllamaModel    = "nomic-embed-text"
)

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaProvider embeds text via a local Ollama instance.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaProvider struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaProvider creates an Ollama embedding provider. Empty url/model
// fall back to localhost and nomic-embed-text.
func NewOllamaProvider(url, model string) *OllamaProvider {
	if url == "" {
		url = defaultOllamaEmbedURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		url:   url,
		model: model,
		// No client-level timeout: the per-call context deadline governs.
		client: &http.Client{},
	}
}

// Model implements Provider.
func (p *OllamaProvider) Model() string { return p.model }

// Embed implements Provider via one POST to /api/embed.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	reqBody, err := json.Marshal(ollamaEmbedReq{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Embeddings[0], nil
}
