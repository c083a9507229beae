// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"os"
)

// Provider identifiers accepted by NewClientFromEnv.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

// NewClientFromEnv builds a chat client from environment configuration.
//
// # Description
//
// LLM_PROVIDER selects the implementation ("groq" by default). Each
// provider reads its own credential and model variables; see NewGroqClient
// and NewOpenAIClient.
//
// # Outputs
//
//   - Client: The configured client. Never nil on success.
//   - error: Non-nil on an unknown provider name or missing credentials.
func NewClientFromEnv() (Client, error) {
	name := os.Getenv("LLM_PROVIDER")
	if name == "" {
		name = ProviderGroq
	}

	switch name {
	case ProviderGroq:
		return NewGroqClient()
	case ProviderOpenAI:
		return NewOpenAIClient()
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
}

// WithModel returns a copy of client targeting model, for providers that
// support per-call model selection. Unknown implementations are returned
// unchanged.
func WithModel(client Client, model string) Client {
	switch c := client.(type) {
	case *GroqClient:
		return c.WithModel(model)
	case *OpenAIClient:
		return c.WithModel(model)
	}
	return client
}
