// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// =============================================================================
// Catalog Snapshot Codec
// =============================================================================
//
// A snapshot is the artifact the offline indexing job hands to the serving
// process: one self-describing JSON file per catalog group carrying the SKU
// rows and their precomputed, L2-normalized embeddings. The serving process
// reads it exactly once at startup; a missing or corrupt snapshot is fatal
// (the process must not serve traffic with a partially loaded catalog).

// SnapshotEntry is one SKU row in a snapshot file.
type SnapshotEntry struct {
	DisplayName string    `json:"display_name"`
	Code        string    `json:"code"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Snapshot is the on-disk catalog artifact for one group.
type Snapshot struct {
	// Group names the sub-catalog this snapshot belongs to.
	Group Group `json:"group"`

	// Model is the embedding model the vectors were produced with. The
	// serving process must query with the same model; a mismatch makes
	// distances meaningless.
	Model string `json:"model,omitempty"`

	// Dim is the embedding dimensionality, zero when unembedded.
	Dim int `json:"dim,omitempty"`

	// BuiltAt records when the indexing job produced this snapshot.
	BuiltAt time.Time `json:"built_at"`

	Entries []SnapshotEntry `json:"entries"`
}

// WriteSnapshot writes a snapshot to path, creating or truncating the file.
func WriteSnapshot(path string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding %s snapshot: %w", snap.Group, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s snapshot: %w", snap.Group, err)
	}
	return nil
}

// ReadSnapshot reads and validates a snapshot file.
//
// # Outputs
//
//   - *Snapshot: The decoded snapshot. Never nil on success.
//   - error: Non-nil on read/parse failure, on an empty catalog, or on
//     embedding dimension mismatches between entries.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if len(snap.Entries) == 0 {
		return nil, fmt.Errorf("snapshot %s: empty catalog", path)
	}
	for i, e := range snap.Entries {
		if e.DisplayName == "" {
			return nil, fmt.Errorf("snapshot %s: entry %d has empty display name", path, i)
		}
		if len(e.Embedding) > 0 && snap.Dim > 0 && len(e.Embedding) != snap.Dim {
			return nil, fmt.Errorf("snapshot %s: entry %d embedding dim %d, want %d",
				path, i, len(e.Embedding), snap.Dim)
		}
	}
	return &snap, nil
}
