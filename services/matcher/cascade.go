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
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rxsage/rxsage/services/embedding"
)

// =============================================================================
// Medicine Match Cascade
// =============================================================================

// Cascade tuning constants. The confidence ladder and the fuzzy cutoff are
// load-bearing: reason codes and thresholds are consumed by dashboards and
// by the pharmacy review UI's auto-accept rules.
const (
	fuzzyCandidateLimit = 5
	fuzzyCutoff         = 0.65
	semanticTopK        = 5

	// Semantic rerank boosts: one for a verbatim strength-token hit, one
	// for a verbatim raw-name hit in the candidate's display name.
	strengthBoost = 0.05
	rawNameBoost  = 0.05

	// batchConcurrency bounds parallel per-term cascades in ValidateBatch.
	// Only the semantic stage does I/O; a small limit keeps embedding
	// service load flat while overlapping its latency.
	batchConcurrency = 4
)

var cascadeTracer = otel.Tracer("rxsage.matcher")

// MatchQuery carries the precomputed query forms for one term. Built once
// per term; every strategy reads from it.
type MatchQuery struct {
	// Term is the original extracted term, untouched.
	Term ExtractedTerm

	// Concat is normalize(name + type + dosage), richer than
	// the name alone, so "Amlodipine tablet 5 mg" and "Amlodipine 5mg"
	// land on the same catalog row.
	Concat string

	// BaseName is normalize(name), used by the prefix and strength stages.
	BaseName string

	// Strength is the first strength token in the raw dosage field, or "".
	Strength string
}

// MatchStrategy is one stage of the cascade.
//
// Attempt returns (nil, nil) on a legitimate miss; the engine falls
// through to the next stage. A non-nil error aborts the
// cascade for this term only.
type MatchStrategy interface {
	Name() string
	Attempt(ctx context.Context, q MatchQuery) (*MatchResult, error)
}

// Engine resolves extracted medicine terms against a catalog index by
// running an ordered strategy pipeline, terminal on the first hit.
//
// # Description
//
// The engine owns no catalog state: it holds read-only references to the
// catalog (and through it the ANN index) for its whole lifetime. Stage
// order encodes the confidence ladder, exact(1.0) > strength(0.95) >
// prefix(0.93) > fuzzy(0.85) > semantic(boosted score), so the earliest
// applicable stage always wins, even when a later stage would score higher.
//
// Per-term failures are contained: the term comes back unresolved with
// reason "no-match" and the rest of the batch is unaffected. That contract
// is the heart of the cascade's error handling.
//
// # Thread Safety
//
// Safe for concurrent use (immutable after construction).
type Engine struct {
	catalog    *CatalogIndex
	normalizer *Normalizer
	strategies []MatchStrategy
	logger     *slog.Logger
}

// NewEngine builds the medicine cascade over catalog.
//
// # Inputs
//
//   - catalog: The medicine catalog index. Must not be nil.
//   - normalizer: Shared text normalizer. Must not be nil.
//   - embedder: Embedding provider for the semantic stage. Nil disables
//     the semantic stage; deterministic stages still run.
//   - logger: Logger. Nil falls back to slog.Default().
func NewEngine(catalog *CatalogIndex, normalizer *Normalizer, embedder embedding.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		catalog:    catalog,
		normalizer: normalizer,
		logger:     logger,
	}
	e.strategies = []MatchStrategy{
		exactStrategy{catalog},
		strengthStrategy{catalog},
		prefixStrategy{catalog},
		fuzzyStrategy{catalog},
		semanticStrategy{catalog: catalog, embedder: embedder, logger: logger},
	}
	return e
}

// buildQuery precomputes the query forms for one term.
func (e *Engine) buildQuery(term ExtractedTerm) MatchQuery {
	concat := strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace(term.Name),
		strings.TrimSpace(term.Type),
		strings.TrimSpace(term.Dosage),
	}, " "))
	return MatchQuery{
		Term:     term,
		Concat:   e.normalizer.Normalize(concat),
		BaseName: e.normalizer.Normalize(term.Name),
		Strength: ExtractStrength(term.Dosage),
	}
}

// MatchTerm runs the cascade for a single term.
//
// # Outputs
//
//   - ValidatedTerm: Always returned, original fields intact. Terms with
//     an empty name pass through with a zero MatchResult (no match was
//     attempted); any stage error or full-cascade miss yields reason
//     "no-match" with confidence 0.
func (e *Engine) MatchTerm(ctx context.Context, term ExtractedTerm) ValidatedTerm {
	if strings.TrimSpace(term.Name) == "" {
		return ValidatedTerm{ExtractedTerm: term}
	}

	ctx, span := cascadeTracer.Start(ctx, "matcher.Engine.MatchTerm",
		oteltrace.WithAttributes(
			attribute.String("group", string(e.catalog.Group())),
		),
	)
	defer span.End()

	q := e.buildQuery(term)

	for _, strategy := range e.strategies {
		result, err := strategy.Attempt(ctx, q)
		if err != nil {
			// One bad term must never drop or abort the rest of the batch.
			e.logger.Warn("match stage failed, term left unresolved",
				slog.String("group", string(e.catalog.Group())),
				slog.String("stage", strategy.Name()),
				slog.String("term", term.Name),
				slog.String("error", err.Error()),
			)
			matchErrorTotal.WithLabelValues(string(e.catalog.Group()), strategy.Name()).Inc()
			break
		}
		if result != nil {
			span.SetAttributes(
				attribute.String("reason", result.Reason),
				attribute.Float64("confidence", result.Confidence),
			)
			matchStageTotal.WithLabelValues(string(e.catalog.Group()), result.Reason).Inc()
			return ValidatedTerm{ExtractedTerm: term, Match: *result}
		}
	}

	span.SetAttributes(attribute.String("reason", ReasonNoMatch))
	matchStageTotal.WithLabelValues(string(e.catalog.Group()), ReasonNoMatch).Inc()
	return ValidatedTerm{ExtractedTerm: term, Match: MatchResult{Reason: ReasonNoMatch}}
}

// ValidateBatch runs the cascade for every term, preserving input order.
//
// # Description
//
// Terms are independent, so cascades run in parallel under a bounded
// errgroup. Output always has the same length as the input; per-term
// failures surface as no-match results, never as a batch error.
func (e *Engine) ValidateBatch(ctx context.Context, terms []ExtractedTerm) []ValidatedTerm {
	results := make([]ValidatedTerm, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, term := range terms {
		g.Go(func() error {
			results[i] = e.MatchTerm(gctx, term)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors
	return results
}

// =============================================================================
// Deterministic Strategies
// =============================================================================

type exactStrategy struct{ catalog *CatalogIndex }

func (exactStrategy) Name() string { return "exact" }

func (s exactStrategy) Attempt(_ context.Context, q MatchQuery) (*MatchResult, error) {
	entry, ok := s.catalog.ExactLookup(q.Concat)
	if !ok {
		return nil, nil
	}
	return &MatchResult{
		ResolvedName: entry.DisplayName,
		Code:         entry.Code,
		Confidence:   ConfidenceExact,
		Reason:       ReasonExact,
	}, nil
}

type strengthStrategy struct{ catalog *CatalogIndex }

func (strengthStrategy) Name() string { return "strength" }

func (s strengthStrategy) Attempt(_ context.Context, q MatchQuery) (*MatchResult, error) {
	entry, ok := s.catalog.StrengthFilteredContains(q.Strength, q.BaseName)
	if !ok {
		return nil, nil
	}
	return &MatchResult{
		ResolvedName: entry.DisplayName,
		Code:         entry.Code,
		Confidence:   ConfidenceStrength,
		Reason:       ReasonStrengthMatch,
	}, nil
}

type prefixStrategy struct{ catalog *CatalogIndex }

func (prefixStrategy) Name() string { return "prefix" }

func (s prefixStrategy) Attempt(_ context.Context, q MatchQuery) (*MatchResult, error) {
	entry, ok := s.catalog.PrefixSearch(q.BaseName)
	if !ok {
		return nil, nil
	}
	return &MatchResult{
		ResolvedName: entry.DisplayName,
		Code:         entry.Code,
		Confidence:   ConfidencePrefix,
		Reason:       ReasonPrefixMatch,
	}, nil
}

type fuzzyStrategy struct{ catalog *CatalogIndex }

func (fuzzyStrategy) Name() string { return "fuzzy" }

func (s fuzzyStrategy) Attempt(_ context.Context, q MatchQuery) (*MatchResult, error) {
	candidates := s.catalog.FuzzySearch(q.Concat, fuzzyCandidateLimit, fuzzyCutoff)
	if len(candidates) == 0 {
		return nil, nil
	}
	entry := candidates[0]
	return &MatchResult{
		ResolvedName: entry.DisplayName,
		Code:         entry.Code,
		Confidence:   ConfidenceFuzzy,
		Reason:       ReasonFuzzy,
	}, nil
}

// =============================================================================
// Semantic Strategy
// =============================================================================

type semanticStrategy struct {
	catalog  *CatalogIndex
	embedder embedding.Provider
	logger   *slog.Logger
}

func (semanticStrategy) Name() string { return "semantic" }

// Attempt embeds the concatenated query, runs ANN top-k over the catalog
// embeddings, reranks by heuristic boosts, and returns the top candidate.
//
// Base score is 1/(1+distance) with squared-L2 distance; +0.05 when the
// query's strength token appears verbatim in the candidate display name,
// +0.05 when the raw input name appears case-insensitively. The boosted
// score can mathematically exceed 1.0, which would out-order exact matches
// downstream, so the reported confidence clamps at 1.0.
func (s semanticStrategy) Attempt(ctx context.Context, q MatchQuery) (*MatchResult, error) {
	if s.embedder == nil || !s.catalog.Semantic() {
		return nil, nil
	}

	started := time.Now()
	defer func() { semanticStageLatency.Observe(time.Since(started).Seconds()) }()

	vec, err := s.embedder.Embed(ctx, q.Concat)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits := s.catalog.SemanticSearch(vec, semanticTopK)
	if len(hits) == 0 {
		return nil, nil
	}

	type scored struct {
		entry CatalogEntry
		score float64
	}
	candidates := make([]scored, 0, len(hits))
	rawName := strings.ToLower(strings.TrimSpace(q.Term.Name))
	for _, hit := range hits {
		score := round4(1 / (1 + hit.Distance))
		display := strings.ToLower(hit.Entry.DisplayName)
		if q.Strength != "" && strings.Contains(display, q.Strength) {
			score += strengthBoost
		}
		if rawName != "" && strings.Contains(display, rawName) {
			score += rawNameBoost
		}
		candidates = append(candidates, scored{entry: hit.Entry, score: score})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	best := candidates[0]
	return &MatchResult{
		ResolvedName: best.entry.DisplayName,
		Code:         best.entry.Code,
		Confidence:   math.Min(best.score, 1.0),
		Reason:       ReasonSemantic,
	}, nil
}

// round4 rounds to four decimal places, matching the precision the
// confidence thresholds were recorded at.
func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
