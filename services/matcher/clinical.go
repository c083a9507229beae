// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rxsage/rxsage/services/embedding"
)

// =============================================================================
// Clinical (Lab / Radiology / Procedure) Cascade
// =============================================================================

// Clinical scoring weights. Lab/radiology/procedure names are short noun
// phrases with heavy abbreviation, so the ranking leans on token overlap
// rather than on the character-level stages used for medicines.
const (
	jaccardWeight      = 0.5
	partialRatioWeight = 0.5

	// tokenSubsetBoost rewards catalog entries fully contained in the
	// query ("ncv" query vs "NCV Upper Limb" entry after expansion).
	tokenSubsetBoost = 0.15

	// coreTermBoost rewards sharing a high-signal clinical term such as
	// "mri" or "cbc" between query and candidate.
	coreTermBoost = 0.10

	// subsetScanDepth bounds the direct-accept scan over ranked candidates.
	subsetScanDepth = 5
)

// clinicalCandidate pairs a catalog row with its combined heuristic score.
type clinicalCandidate struct {
	row   int
	score float64
}

// ClinicalEngine resolves lab, radiology, and procedure terms.
//
// # Description
//
// The clinical cascade differs from the medicine cascade on purpose: exact
// match first, then a combined Jaccard/partial-ratio ranking with heuristic
// boosts, a token-subset direct accept, and only then the expensive
// embed + ANN + LLM tie-break path. The LLM picks the *winner* among ANN
// candidates but the reported confidence stays the pre-LLM top combined
// score, a historical asymmetry the review dashboards depend on.
//
// A radiology engine carries the procedure catalog as fallback: imaging
// orders are routinely written as procedures, so a radiology miss retries
// there before giving up.
//
// # Thread Safety
//
// Safe for concurrent use (immutable after construction).
type ClinicalEngine struct {
	catalog    *CatalogIndex
	fallback   *CatalogIndex
	normalizer *Normalizer
	embedder   embedding.Provider
	reranker   *Reranker
	coreTerms  []string
	logger     *slog.Logger
}

// NewClinicalEngine builds a clinical cascade over catalog.
//
// # Inputs
//
//   - catalog: The group's catalog index. Must not be nil.
//   - fallback: Optional second catalog retried on a full miss. Only the
//     radiology engine sets this (to the procedure catalog).
//   - normalizer: Shared text normalizer. Must not be nil.
//   - embedder: Embedding provider for the ANN stage. Nil disables it.
//   - reranker: LLM tie-breaker. Nil disables the rerank, falling back to
//     the combined-score ranking.
//   - coreTerms: High-signal clinical terms for the score boost.
//   - logger: Logger. Nil falls back to slog.Default().
func NewClinicalEngine(catalog, fallback *CatalogIndex, normalizer *Normalizer, embedder embedding.Provider, reranker *Reranker, coreTerms []string, logger *slog.Logger) *ClinicalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClinicalEngine{
		catalog:    catalog,
		fallback:   fallback,
		normalizer: normalizer,
		embedder:   embedder,
		reranker:   reranker,
		coreTerms:  coreTerms,
		logger:     logger,
	}
}

// MatchTerm resolves a single clinical term. A name that normalizes to
// nothing carries no signal and passes through with a zero MatchResult.
func (e *ClinicalEngine) MatchTerm(ctx context.Context, term ExtractedTerm) ValidatedTerm {
	normName := e.normalizer.Normalize(term.Name)
	if normName == "" {
		return ValidatedTerm{ExtractedTerm: term}
	}

	ctx, span := cascadeTracer.Start(ctx, "matcher.ClinicalEngine.MatchTerm",
		oteltrace.WithAttributes(
			attribute.String("group", string(e.catalog.Group())),
		),
	)
	defer span.End()

	result := e.matchAgainst(ctx, e.catalog, term, normName)
	if !result.Matched() && e.fallback != nil {
		result = e.matchAgainst(ctx, e.fallback, term, normName)
	}

	span.SetAttributes(
		attribute.String("reason", result.Reason),
		attribute.Float64("confidence", result.Confidence),
	)
	matchStageTotal.WithLabelValues(string(e.catalog.Group()), result.Reason).Inc()
	return ValidatedTerm{ExtractedTerm: term, Match: result}
}

// ValidateBatch resolves every term with a non-empty raw name, preserving
// relative order. Only nameless terms are dropped; a name that normalizes
// to nothing still passes through unresolved, so callers keep one output
// row per named input.
func (e *ClinicalEngine) ValidateBatch(ctx context.Context, terms []ExtractedTerm) []ValidatedTerm {
	kept := make([]ExtractedTerm, 0, len(terms))
	for _, term := range terms {
		if term.Name != "" {
			kept = append(kept, term)
		}
	}

	results := make([]ValidatedTerm, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, term := range kept {
		g.Go(func() error {
			results[i] = e.MatchTerm(gctx, term)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors
	return results
}

// matchAgainst runs the full clinical cascade for one catalog.
func (e *ClinicalEngine) matchAgainst(ctx context.Context, cat *CatalogIndex, term ExtractedTerm, normName string) MatchResult {
	group := string(cat.Group())

	if entry, ok := cat.ExactLookup(normName); ok {
		return MatchResult{
			ResolvedName: entry.DisplayName,
			Code:         entry.Code,
			Confidence:   ConfidenceExact,
			Reason:       ReasonExactGroup + "-" + group,
		}
	}

	candidates := e.rankCandidates(cat, normName)
	if len(candidates) == 0 {
		return MatchResult{Reason: ReasonNoMatch}
	}

	queryTokens := tokenSet(normName)

	// Direct accept: an entry whose tokens are fully contained in the
	// query is the query, minus qualifiers.
	depth := subsetScanDepth
	if depth > len(candidates) {
		depth = len(candidates)
	}
	for _, c := range candidates[:depth] {
		entry := cat.Entry(c.row)
		if isTokenSubset(tokenSet(entry.NormalizedName), queryTokens) {
			return MatchResult{
				ResolvedName: entry.DisplayName,
				Code:         entry.Code,
				Confidence:   ConfidenceTokenSubset,
				Reason:       ReasonTokenSubset + "-" + group,
			}
		}
	}

	topEntry := cat.Entry(candidates[0].row)
	topScore := round4(candidates[0].score)

	if winner, ok := e.rerankSemantic(ctx, cat, normName); ok {
		return MatchResult{
			ResolvedName: winner.DisplayName,
			Code:         winner.Code,
			Confidence:   topScore,
			Reason:       ReasonLLMReranked + "-" + group,
		}
	}

	return MatchResult{
		ResolvedName: topEntry.DisplayName,
		Code:         topEntry.Code,
		Confidence:   topScore,
		Reason:       ReasonJaccardFuzzy + "-" + group,
	}
}

// rankCandidates scores every catalog entry against the normalized query.
//
// Combined score is 0.5·Jaccard(token sets) + 0.5·partialRatio, plus 0.15
// when the entry's tokens are a subset of the query's and 0.10 when query
// and entry share a core clinical term. Ties rank the entry with the
// shorter description first (specific beats generic).
func (e *ClinicalEngine) rankCandidates(cat *CatalogIndex, normName string) []clinicalCandidate {
	queryTokens := tokenSet(normName)

	candidates := make([]clinicalCandidate, 0, cat.Len())
	for i, entry := range cat.Entries() {
		descTokens := tokenSet(entry.NormalizedName)
		score := jaccardWeight*jaccard(queryTokens, descTokens) +
			partialRatioWeight*float64(fuzzy.PartialRatio(normName, entry.NormalizedName))/100

		if isTokenSubset(descTokens, queryTokens) {
			score += tokenSubsetBoost
		}
		if e.sharesCoreTerm(normName, entry.NormalizedName) {
			score += coreTermBoost
		}
		candidates = append(candidates, clinicalCandidate{row: i, score: score})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return len(strings.Fields(cat.Entry(candidates[a].row).DisplayName)) <
			len(strings.Fields(cat.Entry(candidates[b].row).DisplayName))
	})
	return candidates
}

// rerankSemantic embeds the query, pulls ANN top-k, and lets the LLM pick.
// Returns (entry, true) only when the whole path succeeds; any failure is
// logged and the caller falls back to the heuristic ranking.
func (e *ClinicalEngine) rerankSemantic(ctx context.Context, cat *CatalogIndex, normName string) (CatalogEntry, bool) {
	if e.embedder == nil || e.reranker == nil || !cat.Semantic() {
		return CatalogEntry{}, false
	}

	vec, err := e.embedder.Embed(ctx, normName)
	if err != nil {
		e.logger.Warn("clinical embed failed, using heuristic ranking",
			slog.String("group", string(cat.Group())),
			slog.String("term", normName),
			slog.String("error", err.Error()),
		)
		matchErrorTotal.WithLabelValues(string(cat.Group()), "clinical-embed").Inc()
		return CatalogEntry{}, false
	}

	hits := cat.SemanticSearch(vec, semanticTopK)
	if len(hits) == 0 {
		return CatalogEntry{}, false
	}

	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.Entry.DisplayName
	}

	idx, err := e.reranker.Pick(ctx, normName, names)
	if err != nil {
		e.logger.Warn("clinical rerank failed, using heuristic ranking",
			slog.String("group", string(cat.Group())),
			slog.String("term", normName),
			slog.String("error", err.Error()),
		)
		matchErrorTotal.WithLabelValues(string(cat.Group()), "clinical-rerank").Inc()
		return CatalogEntry{}, false
	}
	return hits[idx].Entry, true
}

// sharesCoreTerm reports whether any configured core clinical term appears
// in both strings. Substring containment, not token match, mirroring the
// historical scorer.
func (e *ClinicalEngine) sharesCoreTerm(query, desc string) bool {
	for _, core := range e.coreTerms {
		if strings.Contains(query, core) && strings.Contains(desc, core) {
			return true
		}
	}
	return false
}

// =============================================================================
// Token Set Helpers
// =============================================================================

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// jaccard is |a∩b| / |a∪b|, 0 when both sets are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// isTokenSubset reports whether every token of sub is in super. An empty
// sub is a subset of anything.
func isTokenSubset(sub, super map[string]struct{}) bool {
	for tok := range sub {
		if _, ok := super[tok]; !ok {
			return false
		}
	}
	return true
}
