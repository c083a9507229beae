// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaProvider_Embed(t *testing.T) {
	var gotBody ollamaEmbedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	vec, err := p.Embed(context.Background(), "complete blood count")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
	if gotBody.Model != "test-model" || gotBody.Input != "complete blood count" {
		t.Errorf("request body = %+v", gotBody)
	}
}

func TestOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider("", "")
	if p.url != defaultOllamaEmbedURL {
		t.Errorf("url = %q", p.url)
	}
	if p.Model() != defaultOllamaModel {
		t.Errorf("model = %q", p.Model())
	}
}

func TestOllamaProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "missing")
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for non-200 response")
	} else if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want status code included", err)
	}
}

func TestOllamaProvider_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResp{})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m")
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embeddings")
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.6]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "custom-model", "sk-test")
	vec, err := p.Embed(context.Background(), "lipid profile")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[1] != 0.6 {
		t.Errorf("vec = %v", vec)
	}
	if p.Model() != "custom-model" {
		t.Errorf("model = %q", p.Model())
	}
}

func TestOpenAIProvider_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "", "bad-key")
	_, err := p.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error = %v, want upstream message surfaced", err)
	}
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Run("default is ollama", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "")
		p, err := NewProviderFromEnv()
		if err != nil {
			t.Fatalf("NewProviderFromEnv: %v", err)
		}
		if _, ok := p.(*OllamaProvider); !ok {
			t.Errorf("provider = %T, want *OllamaProvider", p)
		}
	})

	t.Run("openai requires api key", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", ProviderOpenAI)
		t.Setenv("EMBEDDING_API_KEY", "")
		if _, err := NewProviderFromEnv(); err == nil {
			t.Fatal("expected error without EMBEDDING_API_KEY")
		}
	})

	t.Run("openai with key", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", ProviderOpenAI)
		t.Setenv("EMBEDDING_API_KEY", "sk-test")
		p, err := NewProviderFromEnv()
		if err != nil {
			t.Fatalf("NewProviderFromEnv: %v", err)
		}
		if _, ok := p.(*OpenAIProvider); !ok {
			t.Errorf("provider = %T, want *OpenAIProvider", p)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "bespoke")
		if _, err := NewProviderFromEnv(); err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})
}
