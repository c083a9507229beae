// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"fmt"
	"log/slog"
	"strings"
)

// =============================================================================
// Catalog Index
// =============================================================================

// CatalogIndex is an immutable, queryable snapshot of one SKU sub-catalog.
//
// # Description
//
// Built once per group from snapshot rows: every entry precomputes its
// normalized name and strength token, an exact-lookup map keys normalized
// names to rows (first-inserted wins on duplicates), and, when the snapshot
// carries embeddings, an ANN index is built over the vectors.
//
// The index owns no mutable state after construction. Rebuilding the
// catalog means constructing a fresh index and atomically swapping the
// pointer; in-flight readers keep the snapshot they started with.
//
// # Thread Safety
//
// Safe for concurrent use (immutable after LoadCatalog/NewCatalogIndex).
type CatalogIndex struct {
	group   Group
	entries []CatalogEntry

	// byNormalized maps a normalized name to the first row bearing it.
	byNormalized map[string]int

	// normalizedNames holds entry normalized names in catalog order,
	// the candidate list for fuzzy search.
	normalizedNames []string

	ann *ANNIndex
}

// LoadCatalog reads a snapshot file and builds the catalog index for it.
//
// # Description
//
// The explicit load-then-inject lifecycle replaces ambient global catalog
// state: callers construct indexes at startup, hand them to the engine, and
// swap in a fresh index on rebuild. Errors here are fatal to startup;
// serving with a partial catalog is worse than not serving.
//
// # Inputs
//
//   - path: Snapshot file path.
//   - normalizer: Used to precompute normalized names. Must not be nil.
//
// # Outputs
//
//   - *CatalogIndex: The built index. Never nil on success.
//   - error: Non-nil on snapshot read/validation failure or ANN build failure.
func LoadCatalog(path string, normalizer *Normalizer) (*CatalogIndex, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return NewCatalogIndex(snap, normalizer)
}

// NewCatalogIndex builds a catalog index from an in-memory snapshot.
// Used directly by tests with synthetic catalogs.
func NewCatalogIndex(snap *Snapshot, normalizer *Normalizer) (*CatalogIndex, error) {
	idx := &CatalogIndex{
		group:        snap.Group,
		entries:      make([]CatalogEntry, 0, len(snap.Entries)),
		byNormalized: make(map[string]int, len(snap.Entries)),
	}

	embedded := 0
	var vectors [][]float32
	for _, row := range snap.Entries {
		entry := CatalogEntry{
			DisplayName:    row.DisplayName,
			Code:           row.Code,
			NormalizedName: normalizer.Normalize(row.DisplayName),
			StrengthToken:  ExtractStrength(row.DisplayName),
			Embedding:      normalizeVector(row.Embedding),
		}
		i := len(idx.entries)
		idx.entries = append(idx.entries, entry)
		idx.normalizedNames = append(idx.normalizedNames, entry.NormalizedName)
		if _, exists := idx.byNormalized[entry.NormalizedName]; !exists {
			idx.byNormalized[entry.NormalizedName] = i
		}
		if entry.Embedding != nil {
			embedded++
			vectors = append(vectors, entry.Embedding)
		}
	}

	// ANN search requires a vector for every row: ANN results are row ids,
	// and a sparse matrix would shift them.
	if embedded > 0 && embedded != len(idx.entries) {
		return nil, fmt.Errorf("%s catalog: %d of %d entries embedded; snapshot is partial",
			snap.Group, embedded, len(idx.entries))
	}
	if embedded > 0 {
		ann, err := BuildANNIndex(vectors)
		if err != nil {
			return nil, fmt.Errorf("%s catalog: building ANN index: %w", snap.Group, err)
		}
		idx.ann = ann
	}

	slog.Info("catalog index built",
		slog.String("group", string(snap.Group)),
		slog.Int("entries", len(idx.entries)),
		slog.Bool("semantic", idx.ann != nil),
	)
	return idx, nil
}

// Group returns the sub-catalog this index serves.
func (c *CatalogIndex) Group() Group { return c.group }

// Len returns the number of catalog entries.
func (c *CatalogIndex) Len() int { return len(c.entries) }

// Entries returns the catalog rows in original order. Callers must not
// mutate the returned slice.
func (c *CatalogIndex) Entries() []CatalogEntry { return c.entries }

// Entry returns the row at position i.
func (c *CatalogIndex) Entry(i int) CatalogEntry { return c.entries[i] }

// Semantic reports whether this catalog can serve ANN queries.
func (c *CatalogIndex) Semantic() bool { return c.ann != nil }

// ExactLookup returns the first entry whose normalized name equals
// normalizedText. O(1).
func (c *CatalogIndex) ExactLookup(normalizedText string) (CatalogEntry, bool) {
	if i, ok := c.byNormalized[normalizedText]; ok {
		return c.entries[i], true
	}
	return CatalogEntry{}, false
}

// StrengthFilteredContains returns the first entry (catalog order) whose
// strength token equals strength and whose normalized name contains
// substring. An empty strength compares like any other token: a dosage-free
// query scans exactly the rows that carry no strength token, so "Paracetamol"
// can still resolve to "Junior Paracetamol Syrup" at this stage.
func (c *CatalogIndex) StrengthFilteredContains(strength, substring string) (CatalogEntry, bool) {
	if substring == "" {
		return CatalogEntry{}, false
	}
	for _, e := range c.entries {
		if e.StrengthToken == strength && strings.Contains(e.NormalizedName, substring) {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// PrefixSearch returns the first entry (catalog order) whose normalized
// name starts with prefix.
func (c *CatalogIndex) PrefixSearch(prefix string) (CatalogEntry, bool) {
	if prefix == "" {
		return CatalogEntry{}, false
	}
	for _, e := range c.entries {
		if strings.HasPrefix(e.NormalizedName, prefix) {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// FuzzySearch returns up to k entries whose normalized-name similarity
// ratio to query is >= cutoff, ranked by ratio descending with ties in
// catalog order.
func (c *CatalogIndex) FuzzySearch(query string, k int, cutoff float64) []CatalogEntry {
	indices := closeMatches(query, c.normalizedNames, k, cutoff)
	out := make([]CatalogEntry, 0, len(indices))
	for _, i := range indices {
		out = append(out, c.entries[i])
	}
	return out
}

// SemanticHit is one ANN result resolved back to its catalog entry.
type SemanticHit struct {
	Entry CatalogEntry

	// Distance is the squared L2 distance between the (unit) query vector
	// and the entry vector. Monotonic proxy for angular dissimilarity.
	Distance float64
}

// SemanticSearch runs a top-k ANN query over the catalog embeddings.
// queryVec is L2-normalized internally. Returns nil when the catalog was
// built without embeddings.
func (c *CatalogIndex) SemanticSearch(queryVec []float32, k int) []SemanticHit {
	if c.ann == nil {
		return nil
	}
	results := c.ann.Search(normalizeVector(queryVec), k)
	hits := make([]SemanticHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SemanticHit{Entry: c.entries[r.Row], Distance: r.Distance})
	}
	return hits
}
