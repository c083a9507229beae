// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rxsage/rxsage/services/llm"
)

// fakeLLM returns a canned response (or error) and records the last prompt.
type fakeLLM struct {
	response   string
	err        error
	lastPrompt string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}
	return f.Generate(context.Background(), messages[len(messages)-1].Content, params)
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		n      int
		want   int
		ok     bool
	}{
		{"bare number", "2", 5, 1, true},
		{"number with period", "3.", 5, 2, true},
		{"number with trailing text", "1. NCV Upper Limb", 5, 0, true},
		{"whitespace", "  4  ", 5, 3, true},
		{"zero is out of range", "0", 5, 0, false},
		{"too large", "6", 5, 0, false},
		{"prose", "the best option is 2", 5, 0, false},
		{"empty", "", 5, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseChoice(tt.answer, tt.n)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseChoice(%q, %d) = (%d, %v), want (%d, %v)", tt.answer, tt.n, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRerankerPick_SelectsAnswer(t *testing.T) {
	client := &fakeLLM{response: "2. NCV Lower Limb"}
	r := NewReranker(client, nil)

	idx, err := r.Pick(context.Background(), "nerve conduction study", []string{"NCV Upper Limb", "NCV Lower Limb"})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if idx != 1 {
		t.Errorf("idx = %d, want 1", idx)
	}

	// The prompt must enumerate options 1-indexed.
	if !strings.Contains(client.lastPrompt, "1. NCV Upper Limb") || !strings.Contains(client.lastPrompt, "2. NCV Lower Limb") {
		t.Errorf("prompt missing numbered options:\n%s", client.lastPrompt)
	}
	if !strings.Contains(client.lastPrompt, "nerve conduction study") {
		t.Errorf("prompt missing query:\n%s", client.lastPrompt)
	}
}

func TestRerankerPick_UnparseableFallsSoft(t *testing.T) {
	client := &fakeLLM{response: "I believe the second option is best"}
	r := NewReranker(client, nil)

	idx, err := r.Pick(context.Background(), "cbc", []string{"Complete Blood Count", "CBC with ESR"})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if idx != 0 {
		t.Errorf("idx = %d, want 0 (nearest candidate)", idx)
	}
}

func TestRerankerPick_TransportErrorPropagates(t *testing.T) {
	client := &fakeLLM{err: errors.New("rate limited")}
	r := NewReranker(client, nil)

	if _, err := r.Pick(context.Background(), "cbc", []string{"Complete Blood Count"}); err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestRerankerPick_NoCandidates(t *testing.T) {
	r := NewReranker(&fakeLLM{response: "1"}, nil)
	if _, err := r.Pick(context.Background(), "cbc", nil); err == nil {
		t.Fatal("expected error for empty candidate list")
	}
}
