// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// =============================================================================
// Sequence-Ratio Close Matches
// =============================================================================
//
// Lexical fuzzy matching uses the classical sequence-similarity ratio
// (2 * matches / total characters). The 0.65 cutoff and 0.85 confidence
// reported by the fuzzy stage were tuned against exactly these semantics,
// so the implementation delegates to a SequenceMatcher port rather than a
// different edit-distance family.

// closeMatch pairs a candidate's position in the candidate list with its
// similarity ratio against the query.
type closeMatch struct {
	index int
	ratio float64
}

// closeMatches returns the indices of up to k candidates whose similarity
// ratio to query is >= cutoff, ranked by ratio descending. Ties keep the
// candidates' original (catalog) order.
//
// The real-quick/quick/full ratio ladder short-circuits expensive full
// ratio computation for candidates that cannot reach the cutoff.
func closeMatches(query string, candidates []string, k int, cutoff float64) []int {
	if k <= 0 || query == "" {
		return nil
	}

	queryChars := splitChars(query)
	matched := make([]closeMatch, 0, k)

	for i, candidate := range candidates {
		m := difflib.NewMatcher(splitChars(candidate), queryChars)
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		if ratio := m.Ratio(); ratio >= cutoff {
			matched = append(matched, closeMatch{index: i, ratio: ratio})
		}
	}

	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].ratio > matched[b].ratio
	})
	if len(matched) > k {
		matched = matched[:k]
	}

	out := make([]int, len(matched))
	for i, m := range matched {
		out[i] = m.index
	}
	return out
}

// splitChars explodes a string into per-character sequence elements.
// The SequenceMatcher port operates on string slices; character-level
// elements reproduce the classical string-ratio behavior.
func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
