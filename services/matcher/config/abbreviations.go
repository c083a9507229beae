// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Abbreviation Tables
// =============================================================================

//go:embed abbreviations.yaml
var defaultAbbreviationsYAML []byte

// Expansion is a single whole-word rewrite rule.
type Expansion struct {
	Abbr string `yaml:"abbr"`
	Full string `yaml:"full"`
}

// AbbreviationTables holds the ordered expansion rules used by the text
// normalizer, plus the core clinical term set used by the clinical cascade.
//
// # Description
//
// The rules are kept as ordered slices, not maps: application order is part
// of the normalization contract. Later rules run on text already rewritten
// by earlier ones, which is how chained expansions such as
// ncv -> nerve conduction velocity -> nerve conduction study resolve.
//
// # Thread Safety
//
// Safe for concurrent use after load (immutable).
type AbbreviationTables struct {
	// DomainExpansions are whole-word clinical abbreviation rewrites.
	DomainExpansions []Expansion `yaml:"domain_expansions"`

	// Synonyms are lay-term rewrites applied after DomainExpansions.
	Synonyms []Expansion `yaml:"synonyms"`

	// DosageForms are short dosage-form rewrites (tab -> tablet).
	DosageForms []Expansion `yaml:"dosage_forms"`

	// CoreClinicalTerms boost clinical candidates sharing one of these
	// terms with the query.
	CoreClinicalTerms []string `yaml:"core_clinical_terms"`
}

var (
	cachedTables    *AbbreviationTables
	tablesOnce      sync.Once
	tablesLoadError error
)

// LoadAbbreviationTables loads and caches the expansion tables from the
// embedded YAML. Returns the cached result on subsequent calls.
//
// # Outputs
//
//   - *AbbreviationTables: The loaded tables. Never nil on success.
//   - error: Non-nil if YAML parsing fails.
//
// # Thread Safety
//
// Safe for concurrent use (uses sync.Once internally).
func LoadAbbreviationTables() (*AbbreviationTables, error) {
	tablesOnce.Do(func() {
		var tables AbbreviationTables
		if err := yaml.Unmarshal(defaultAbbreviationsYAML, &tables); err != nil {
			tablesLoadError = fmt.Errorf("parsing abbreviations.yaml: %w", err)
			return
		}
		cachedTables = &tables
		slog.Info("abbreviation tables loaded",
			slog.Int("domain_expansions", len(tables.DomainExpansions)),
			slog.Int("synonyms", len(tables.Synonyms)),
			slog.Int("dosage_forms", len(tables.DosageForms)),
		)
	})
	return cachedTables, tablesLoadError
}

// MustLoadAbbreviationTables loads the tables or panics.
//
// # Description
//
// The tables are embedded in the binary; a parse failure is a build defect,
// not a runtime condition, so startup paths use this variant.
func MustLoadAbbreviationTables() *AbbreviationTables {
	tables, err := LoadAbbreviationTables()
	if err != nil {
		panic(err)
	}
	return tables
}
