// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"fmt"
	"math"

	"github.com/coder/hnsw"
)

// =============================================================================
// Approximate Nearest-Neighbor Index
// =============================================================================

// HNSW build parameters. Matched to the offline FAISS job the catalog
// pipeline historically used (IndexHNSWFlat, M=32, efConstruction=200) so
// recall characteristics carry over.
const (
	annM        = 32
	annEfSearch = 200
)

// ANNResult is one nearest-neighbor hit.
type ANNResult struct {
	// Row is the position of the hit in the vector list the index was
	// built from.
	Row int

	// Distance is the squared L2 distance to the query vector. Vectors are
	// unit-normalized before indexing and querying, so this is a monotonic
	// proxy for angular dissimilarity; confidence derives as 1/(1+Distance).
	Distance float64
}

// ANNIndex is a graph-based approximate nearest-neighbor index over the
// catalog embedding matrix.
//
// # Description
//
// Wraps an HNSW graph keyed by row id. Construction happens once, offline
// or at process start; at serving time the graph is queried concurrently
// without locking and never mutated.
//
// Distances are recomputed here as squared L2 rather than taken from the
// graph's internal metric, keeping the reported values identical regardless
// of the graph library's distance convention.
//
// # Thread Safety
//
// Safe for concurrent reads after BuildANNIndex returns. Not safe to
// build concurrently with reads.
type ANNIndex struct {
	graph   *hnsw.Graph[int]
	vectors [][]float32
}

// BuildANNIndex constructs the index from unit-normalized vectors.
//
// # Inputs
//
//   - vectors: One embedding per catalog row, all the same dimension,
//     already L2-normalized. Must be non-empty.
//
// # Outputs
//
//   - *ANNIndex: The built index. Never nil on success.
//   - error: Non-nil on empty input or dimension mismatch.
func BuildANNIndex(vectors [][]float32) (*ANNIndex, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("ann: no vectors to index")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("ann: vector %d has dim %d, want %d", i, len(v), dim)
		}
	}

	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = annM
	graph.EfSearch = annEfSearch

	nodes := make([]hnsw.Node[int], 0, len(vectors))
	for i, v := range vectors {
		nodes = append(nodes, hnsw.MakeNode(i, v))
	}
	graph.Add(nodes...)

	return &ANNIndex{graph: graph, vectors: vectors}, nil
}

// Len returns the number of indexed vectors.
func (a *ANNIndex) Len() int { return len(a.vectors) }

// Search returns up to k nearest rows to query, closest first.
// query must be unit-normalized by the caller.
func (a *ANNIndex) Search(query []float32, k int) []ANNResult {
	if k <= 0 || len(query) == 0 {
		return nil
	}
	neighbors := a.graph.Search(query, k)
	results := make([]ANNResult, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, ANNResult{
			Row:      n.Key,
			Distance: squaredL2(query, a.vectors[n.Key]),
		})
	}
	return results
}

// =============================================================================
// Vector Helpers
// =============================================================================

// l2Norm computes the L2 (Euclidean) norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeVector returns a unit-length copy of v, or nil for nil/zero
// input. The indexing job normalizes before writing snapshots so serving
// distances match the historical squared-L2 scale.
func NormalizeVector(v []float32) []float32 {
	return normalizeVector(v)
}

// normalizeVector returns a unit-length copy of v, or nil for nil/zero input.
func normalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	norm := l2Norm(v)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / float32(norm)
	}
	return out
}

// squaredL2 computes the squared Euclidean distance between two vectors.
// Mismatched lengths use the shorter.
func squaredL2(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
