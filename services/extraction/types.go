// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extraction

import (
	"encoding/json"
	"strconv"
	"strings"
)

// =============================================================================
// Prescription Document Model
// =============================================================================

// FlexInt unmarshals from a JSON number, a numeric string, or an empty
// string. LLM output drifts between `"age": 45` and `"age": "45"` even with
// a pinned format, so every numeric field in the document tolerates both.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(int(n))
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

// Patient holds the demographic block of an extracted prescription.
type Patient struct {
	Name      string  `json:"name"`
	Age       FlexInt `json:"age"`
	Gender    string  `json:"gender"`
	Diagnosis string  `json:"diagnosis"`
}

// Medicine is one extracted medicine row. The match_* fields are empty
// until the matcher has run; after validation Name carries the resolved
// catalog display name and RawName the name as written.
type Medicine struct {
	Type         string  `json:"medicine_type"`
	Name         string  `json:"medicine_name"`
	Dosage       string  `json:"medicine_dosage"`
	Frequency    string  `json:"medicine_frequency"`
	DosageAdvice string  `json:"dosage_advice"`
	Duration     string  `json:"medicine_duration"`
	Quantity     FlexInt `json:"medicine_quantity"`

	RawName    string  `json:"raw_medicine_name,omitempty"`
	SKUCode    string  `json:"sku_code,omitempty"`
	Confidence float64 `json:"match_confidence,omitempty"`
	Reason     string  `json:"match_reason,omitempty"`
}

// LabTest is one extracted lab or radiology order.
type LabTest struct {
	Name string `json:"test_name"`
	Type string `json:"test_type"`

	Matched    string  `json:"matched,omitempty"`
	SKUCode    string  `json:"sku_code,omitempty"`
	Confidence float64 `json:"match_confidence,omitempty"`
	Reason     string  `json:"match_reason,omitempty"`
}

// Procedure is one extracted procedure order.
type Procedure struct {
	Name string `json:"procedure_name"`
	Type string `json:"procedure_type"`

	Matched    string  `json:"matched,omitempty"`
	SKUCode    string  `json:"sku_code,omitempty"`
	Confidence float64 `json:"match_confidence,omitempty"`
	Reason     string  `json:"match_reason,omitempty"`
}

// Precaution splits advice the way the review UI renders it.
type Precaution struct {
	Medical    string `json:"medical"`
	NonMedical string `json:"non-medical"`
}

// Followup carries the next-visit advice.
type Followup struct {
	NextFollowup string `json:"next_followup"`
}

// Document is the full extracted-and-validated prescription. Its JSON shape
// is the wire contract with the review frontend; field names are stable.
type Document struct {
	Patient    Patient     `json:"patient"`
	Medicines  []Medicine  `json:"medicines"`
	LabTests   []LabTest   `json:"labtests"`
	Radiology  []LabTest   `json:"radiology"`
	Procedures []Procedure `json:"procedures"`
	Precaution Precaution  `json:"precaution"`
	Followup   Followup    `json:"followup"`
}
