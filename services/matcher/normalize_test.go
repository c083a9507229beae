// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"testing"

	"github.com/rxsage/rxsage/services/matcher/config"
)

func TestNormalize_Basic(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "AMLODIPINE", "amlodipine"},
		{"collapses punctuation", "amlodipine--5mg  (oral)", "amlodipine 5mg oral"},
		{"trims", "  amlodipine  ", "amlodipine"},
		{"empty input", "", ""},
		{"punctuation only", "-- / --", ""},
		{"dosage form tab", "tab amlodipine", "tablet amlodipine"},
		{"dosage form syp", "syp ascoril", "syrup ascoril"},
		{"dosage form inside word untouched", "tablets", "tablets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_DomainExpansions(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// ncv chains through "nerve conduction velocity" and then the
		// "nerve conduction" rewrite fires on the expanded text. Both
		// query and catalog pass through the same pipeline, so the chain
		// is stable as long as rule order is.
		{"ncv chain", "ncv", "nerve conduction study velocity"},
		{"ncs direct", "ncs", "nerve conduction study"},
		{"bilateral slash", "ncv b/l", "nerve conduction study velocity bilateral"},
		{"side markers", "r ul", "right upper limb"},
		{"mri with synonym", "mri brain", "magnetic resonance imaging head"},
		{"ct whole word only", "nct", "nerve conduction test"},
		{"lab panel", "cbc", "complete blood count"},
		{"vitamin", "vit d3", "vitamin d3"},
		{"synonym both", "emg both", "electromyography bilateral"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := NewNormalizer()
	input := "Tab NCV b/l -- 500 mg!!"
	first := n.Normalize(input)
	for i := 0; i < 10; i++ {
		if got := n.Normalize(input); got != first {
			t.Fatalf("Normalize not deterministic: %q then %q", first, got)
		}
	}
}

func TestNormalize_CustomTables(t *testing.T) {
	tables := &config.AbbreviationTables{
		DomainExpansions: []config.Expansion{
			{Abbr: "a", Full: "b"},
			{Abbr: "b", Full: "c"},
		},
	}
	n := NewNormalizerFromTables(tables)

	// Later rules see earlier rewrites.
	if got := n.Normalize("a"); got != "c" {
		t.Errorf("chained expansion = %q, want %q", got, "c")
	}
}

func TestExtractStrength(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "5mg", "5mg"},
		{"spaced", "5 mg", "5 mg"},
		{"uppercase", "500MG", "500mg"},
		{"ml unit", "10 ml twice daily", "10 ml"},
		{"mcg unit", "25mcg", "25mcg"},
		{"first match wins", "5mg then 10mg", "5mg"},
		{"no strength", "after meals", ""},
		{"five digits rejected", "10000mg", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractStrength(tt.input); got != tt.want {
				t.Errorf("ExtractStrength(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
