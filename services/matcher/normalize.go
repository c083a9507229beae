// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"regexp"
	"strings"

	"github.com/rxsage/rxsage/services/matcher/config"
)

// =============================================================================
// Text Normalizer
// =============================================================================

// strengthPattern matches a dosage strength such as "5 mg" or "500mg".
// 1-4 digits, optional space, unit. Input is lowercased before matching.
var strengthPattern = regexp.MustCompile(`\b(\d{1,4})\s*(mg|mcg|ug|g|ml)\b`)

// nonAlphanumPattern matches runs of characters outside [a-z0-9].
var nonAlphanumPattern = regexp.MustCompile(`[^a-z0-9]+`)

// expansionRule is one compiled whole-word rewrite.
type expansionRule struct {
	pattern *regexp.Regexp
	full    string
}

// Normalizer canonicalizes free prescription text for string comparison.
//
// # Description
//
// Normalize applies, in fixed order: lowercasing, whole-word clinical
// abbreviation expansion, whole-word synonym expansion, dosage-form
// expansion, and finally collapsing of every non-alphanumeric run into a
// single space. Later rules operate on text the earlier rules already
// rewrote, so chained expansions resolve deterministically.
//
// Normalize is a pure function of its input: no randomness, no I/O.
//
// # Thread Safety
//
// Safe for concurrent use after construction (immutable).
type Normalizer struct {
	domainRules []expansionRule
	dosageRules []expansionRule
}

// NewNormalizer compiles a Normalizer from the embedded abbreviation tables.
func NewNormalizer() *Normalizer {
	return NewNormalizerFromTables(config.MustLoadAbbreviationTables())
}

// NewNormalizerFromTables compiles a Normalizer from explicit tables.
// Used by tests that need synthetic expansion rules.
func NewNormalizerFromTables(tables *config.AbbreviationTables) *Normalizer {
	n := &Normalizer{}
	for _, e := range tables.DomainExpansions {
		n.domainRules = append(n.domainRules, compileRule(e))
	}
	for _, e := range tables.Synonyms {
		n.domainRules = append(n.domainRules, compileRule(e))
	}
	for _, e := range tables.DosageForms {
		n.dosageRules = append(n.dosageRules, compileRule(e))
	}
	return n
}

func compileRule(e config.Expansion) expansionRule {
	// \b boundaries so "r" never matches inside "syrup". The abbreviation
	// itself is quoted: entries like "b/l" contain regexp metacharacters.
	return expansionRule{
		pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(e.Abbr) + `\b`),
		full:    e.Full,
	}
}

// Normalize canonicalizes text into a lowercase alphanumeric token stream.
//
// # Inputs
//
//   - text: Raw free text. Empty input yields empty output.
//
// # Outputs
//
//   - string: The normalized form, trimmed. Identical input always yields
//     identical output.
func (n *Normalizer) Normalize(text string) string {
	text = strings.ToLower(text)
	for _, rule := range n.domainRules {
		text = rule.pattern.ReplaceAllString(text, rule.full)
	}
	for _, rule := range n.dosageRules {
		text = rule.pattern.ReplaceAllString(text, rule.full)
	}
	text = nonAlphanumPattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractStrength returns the first strength token in raw dosage text,
// lowercased and verbatim (including any internal space), or "" when the
// text carries no strength pattern.
//
// Runs on the raw dosage field, independent of Normalize: strength tokens
// must survive exactly as written so they can be compared against catalog
// strength tokens.
func ExtractStrength(raw string) string {
	return strengthPattern.FindString(strings.ToLower(raw))
}
