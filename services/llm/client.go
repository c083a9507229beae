// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides text-generation clients over raw net/http.
// No vendor SDKs: the wire formats are small and stable, and a direct
// client keeps timeouts, error envelopes, and rate limiting visible.
package llm

import "context"

// Message is one turn in a chat conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// GenerationParams are optional decoding controls. Nil fields use the
// provider's defaults.
type GenerationParams struct {
	Temperature *float32
	MaxTokens   *int
}

// Client generates text from prompts or conversations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Generate runs a single-prompt completion.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a multi-turn completion.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// Float32Ptr returns a pointer to v. Convenience for GenerationParams.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr returns a pointer to v. Convenience for GenerationParams.
func IntPtr(v int) *int { return &v }
