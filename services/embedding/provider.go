// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embedding turns free text into fixed-length vectors via an
// out-of-process model service. Two wire formats are supported: Ollama's
// /api/embed and the OpenAI-compatible /v1/embeddings shape (which also
// covers Hugging Face TEI and most hosted embedding endpoints).
package embedding

import (
	"context"
	"fmt"
	"os"
	"time"
)

// queryTimeout bounds a single embedding call. Embedding sits on the
// request hot path (semantic match stage); a hung upstream must surface as
// a stage failure, never stall the whole request.
const queryTimeout = 3 * time.Second

// Provider turns text into a fixed-length embedding vector.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding for text. The returned vector is raw
	// model output; callers normalize it as needed.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the embedding model identifier, recorded in catalog
	// snapshots so serving can detect model drift.
	Model() string
}

// Provider identifiers accepted by NewProviderFromEnv.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// NewProviderFromEnv builds a Provider from environment configuration.
//
// # Description
//
// EMBEDDING_PROVIDER selects the implementation ("ollama" by default).
// EMBEDDING_SERVICE_URL and EMBEDDING_MODEL override per-provider defaults.
// The OpenAI-compatible provider additionally reads EMBEDDING_API_KEY.
//
// # Outputs
//
//   - Provider: The configured provider. Never nil on success.
//   - error: Non-nil on an unknown provider name or missing credentials.
func NewProviderFromEnv() (Provider, error) {
	name := os.Getenv("EMBEDDING_PROVIDER")
	if name == "" {
		name = ProviderOllama
	}

	switch name {
	case ProviderOllama:
		return NewOllamaProvider(os.Getenv("EMBEDDING_SERVICE_URL"), os.Getenv("EMBEDDING_MODEL")), nil
	case ProviderOpenAI:
		apiKey := os.Getenv("EMBEDDING_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedding: EMBEDDING_API_KEY is required for the %s provider", name)
		}
		return NewOpenAIProvider(os.Getenv("EMBEDDING_SERVICE_URL"), os.Getenv("EMBEDDING_MODEL"), apiKey), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", name)
	}
}

// withQueryTimeout applies the per-call embedding deadline unless the caller
// already set a tighter one.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
