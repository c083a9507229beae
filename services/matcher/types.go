// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

// =============================================================================
// Catalog Groups
// =============================================================================

// Group identifies one of the independent SKU sub-catalogs.
type Group string

const (
	GroupMedicine  Group = "medicine"
	GroupLab       Group = "lab"
	GroupRadiology Group = "radiology"
	GroupProcedure Group = "procedure"
)

// =============================================================================
// Match Reason Codes
// =============================================================================

// Reason codes are the audit trail explaining which cascade stage resolved a
// term. The strings are stable: downstream dashboards and the historical
// confidence thresholds were tuned against them.
const (
	ReasonExact          = "normalized-concat-exact"
	ReasonStrengthMatch  = "strength-based-name-match"
	ReasonPrefixMatch    = "name-prefix-match"
	ReasonFuzzy          = "normalized-multistage-fuzzy"
	ReasonSemantic       = "semantic-hnsw-reranked"
	ReasonNoMatch        = "no-match"
	ReasonExactGroup     = "normalized-exact"
	ReasonTokenSubset    = "token-subset"
	ReasonLLMReranked    = "llm-reranked"
	ReasonJaccardFuzzy   = "jaccard-fuzzy"
)

// Confidence values reported by the deterministic medicine stages. They
// strictly order match quality: exact > strength > prefix > fuzzy, with the
// semantic stage reporting its boosted score below them in the common case.
const (
	ConfidenceExact       = 1.0
	ConfidenceStrength    = 0.95
	ConfidencePrefix      = 0.93
	ConfidenceFuzzy       = 0.85
	ConfidenceTokenSubset = 0.88
)

// =============================================================================
// Data Model
// =============================================================================

// CatalogEntry is one SKU row with its precomputed matching features.
// Immutable after the catalog index is built.
type CatalogEntry struct {
	// DisplayName is the catalog description as it appears in the SKU list.
	DisplayName string `json:"display_name"`

	// Code is the SKU code. Unique within a group, not across groups.
	Code string `json:"code"`

	// NormalizedName is DisplayName run through the normalizer at build time.
	NormalizedName string `json:"normalized_name"`

	// StrengthToken is the first strength pattern found in DisplayName
	// (for example "5mg"), or empty.
	StrengthToken string `json:"strength_token,omitempty"`

	// Embedding is the L2-normalized embedding of DisplayName. Nil when the
	// snapshot was built without an embedding provider.
	Embedding []float32 `json:"embedding,omitempty"`
}

// ExtractedTerm is one medicine/lab/radiology/procedure mention as produced
// by the upstream extraction step. Immutable: matching never rewrites it.
type ExtractedTerm struct {
	// Name is the free-text name ("Amlodipine", "mri brain").
	Name string `json:"name"`

	// Type is the free-text type qualifier ("tablet", "blood test").
	Type string `json:"type"`

	// Dosage is the free-text dosage or qualifier ("5 mg").
	Dosage string `json:"dosage"`
}

// MatchResult is the outcome of running the cascade for one term.
type MatchResult struct {
	// ResolvedName is the winning catalog display name, empty on no-match.
	ResolvedName string `json:"resolved_name"`

	// Code is the winning SKU code, empty on no-match.
	Code string `json:"code"`

	// Confidence is the heuristic match quality in [0, 1]. Not a calibrated
	// probability. Zero on no-match.
	Confidence float64 `json:"confidence"`

	// Reason names the cascade stage that produced the match. Always set
	// for terms with a non-empty name.
	Reason string `json:"reason"`
}

// Matched reports whether the result carries an actual catalog hit.
func (r MatchResult) Matched() bool {
	return r.ResolvedName != "" && r.Reason != "" && r.Reason != ReasonNoMatch
}

// ValidatedTerm pairs an ExtractedTerm with its MatchResult. The original
// fields are carried unchanged so that an error path can never leave a term
// half-rewritten.
type ValidatedTerm struct {
	ExtractedTerm
	Match MatchResult `json:"match"`
}
