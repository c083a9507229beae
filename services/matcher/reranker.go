// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rxsage/rxsage/services/llm"
)

// =============================================================================
// External LLM Tie-Breaker
// =============================================================================

// rerankTemperature and rerankMaxTokens constrain the tie-break call: the
// model is asked for a single option number, nothing else.
const (
	rerankTemperature float32 = 0.2
	rerankMaxTokens           = 10
)

// Reranker selects the best clinical match among ANN candidates via one
// constrained text-generation call.
//
// # Description
//
// The reranker holds no catalog knowledge: it is pure selection among the
// engine-supplied options, so the backing model service stays swappable.
// The response contract is "a single option number"; parsing takes the
// first integer before a period, 1-indexed.
//
// Failure handling is asymmetric on purpose: a malformed response fails
// soft to the first (nearest) candidate, while a transport error is
// propagated so the caller can fall back to its heuristic ranking.
//
// # Thread Safety
//
// Safe for concurrent use.
type Reranker struct {
	client llm.Client
	logger *slog.Logger
}

// NewReranker creates a tie-breaker over client. Nil logger falls back to
// slog.Default().
func NewReranker(client llm.Client, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{client: client, logger: logger}
}

// Pick returns the index of the best candidate for query.
//
// # Inputs
//
//   - query: The normalized term being resolved.
//   - candidates: Candidate display names in ANN order, at most 5.
//
// # Outputs
//
//   - int: Index into candidates. 0 on parse failure (fail-soft).
//   - error: Non-nil only on service/transport failure.
func (r *Reranker) Pick(ctx context.Context, query string, candidates []string) (int, error) {
	if len(candidates) == 0 {
		return 0, fmt.Errorf("rerank: no candidates")
	}

	ctx, span := cascadeTracer.Start(ctx, "matcher.Reranker.Pick",
		oteltrace.WithAttributes(
			attribute.Int("candidate_count", len(candidates)),
		),
	)
	defer span.End()

	var options strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&options, "%d. %s\n", i+1, c)
	}

	prompt := fmt.Sprintf(`Given the extracted test name: %q, and the following options:
%s
Which of these best matches the test in a medical context? Reply with only the best option number.`,
		query, options.String())

	answer, err := r.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(rerankTemperature),
		MaxTokens:   llm.IntPtr(rerankMaxTokens),
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("rerank call: %w", err)
	}

	idx, ok := parseChoice(answer, len(candidates))
	if !ok {
		r.logger.Warn("rerank response unparseable, using nearest candidate",
			slog.String("query", query),
			slog.String("answer", answer),
		)
		return 0, nil
	}
	return idx, nil
}

// parseChoice extracts "first integer before a period, 1-indexed" from a
// model answer and converts it to a 0-based index. Returns false for
// anything unparseable or out of range.
func parseChoice(answer string, n int) (int, bool) {
	head := strings.TrimSpace(strings.SplitN(answer, ".", 2)[0])
	choice, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	idx := choice - 1
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}
