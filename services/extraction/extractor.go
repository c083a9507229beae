// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rxsage/rxsage/services/llm"
)

// =============================================================================
// Prescription Extractor
// =============================================================================

const (
	extractTemperature float32 = 0.2
	extractMaxTokens           = 3000
)

var extractionTracer = otel.Tracer("rxsage.extraction")

// extractPromptTemplate pins the document shape and the clinical extraction
// conventions. The frequency notation ("1-0-1"), the duration fallback, and
// the labtest/radiology/procedure classification rules were tuned against
// real prescriptions; change them only with a regression set in hand.
const extractPromptTemplate = `Extract patient details, medicine information, and diagnostic tests, procedures from this prescription text:
%s

Return the result as a valid JSON object only, without explanations, markdown formatting, or any additional text.
Use this exact format:
{
  "patient": { "name": string, "age": number, "gender": string, "diagnosis": string },
  "medicines": [
    {
      "medicine_type": string,
      "medicine_name": string,
      "medicine_dosage": string,
      "medicine_frequency": string,
      "dosage_advice": string,
      "medicine_duration": string,
      "medicine_quantity": number
    }
  ],
  "labtests": [
    {
      "test_name": string,
      "test_type": string
    }
  ],
  "radiology": [
    {
      "test_name": string,
      "test_type": string
    }
  ],
  "procedures": [
    {
      "procedure_name": string,
      "procedure_type": string
    }
  ],
  "precaution": { "medical": string, "non-medical": string },
  "followup": { "next_followup": string }
}

Rules:
- If no info found, return empty string or 0.
- medicine_type can be "tablet", "capsule", "syrup", "injection", "ointment", etc.
- medicine_dosage should be in standard format like "5 mg", "10 ml", etc.
- Convert 'OD', 'BD', 'TDS', 'QID' frequency to '1-0-0' format
- Use '1-0-1' style for frequency. For once/twice/thrice daily, check if it's after/before lunch/dinner.
  - "once after dinner" = "0-0-1"
  - "twice daily (morning and night)" = "1-0-1"
  - "thrice daily" = "1-1-1"
- For medicine_duration: If not specified (like 5 days, 2 weeks, etc.), use the next follow-up period as duration (convert weeks/months to days).
- Estimate quantity: (morning + afternoon + evening) * medicine_duration.
- In dosage_advice, include 'after meal', 'before sleep', etc., if mentioned. Else, leave empty.
- For labtest, radiology and procedure classification, follow these rules:
  - "blood test", "TSH", "CBC", "HbA1c" under labtests
  - "MRI brain", "CT abdomen", "X-ray chest" under radiology
  - "ECG", "2D Echo", "NCV", "Endoscopy" under procedures
  - Ignore physiotherapy from including in procedures
  - Include only new lab test/procedure/radiology test recommended *after* the medicine list or in the advice section, not those that appear as prior reports.
- In precautions:
  - Food or lifestyle-related -> non-medical
  - Treatment or medicine-specific -> medical
- Recheck for missing medicines after every mention of frequency/duration.

Return **only the JSON** object - no markdown, text, or explanations.`

// Extractor turns free-text prescriptions into structured Documents via a
// single constrained LLM completion.
//
// # Thread Safety
//
// Safe for concurrent use.
type Extractor struct {
	client llm.Client
	logger *slog.Logger
}

// NewExtractor creates an extractor over client. Nil logger falls back to
// slog.Default().
func NewExtractor(client llm.Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

// Extract runs the extraction completion and parses the document.
//
// # Inputs
//
//   - prescriptionText: The raw prescription. Must be non-empty.
//
// # Outputs
//
//   - *Document: The extracted document, matcher fields unset.
//   - error: Non-nil on LLM failure or an unparseable response.
func (x *Extractor) Extract(ctx context.Context, prescriptionText string) (*Document, error) {
	if strings.TrimSpace(prescriptionText) == "" {
		return nil, fmt.Errorf("extract: empty prescription text")
	}

	ctx, span := extractionTracer.Start(ctx, "extraction.Extractor.Extract",
		oteltrace.WithAttributes(
			attribute.Int("prescription_chars", len(prescriptionText)),
		),
	)
	defer span.End()

	prompt := fmt.Sprintf(extractPromptTemplate, prescriptionText)

	response, err := x.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(extractTemperature),
		MaxTokens:   llm.IntPtr(extractMaxTokens),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	raw, err := sliceJSONObject(response)
	if err != nil {
		span.RecordError(err)
		x.logger.Warn("extraction response had no JSON object",
			slog.Int("response_chars", len(response)),
		)
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}
	return &doc, nil
}

// sliceJSONObject cuts the first-'{'-to-last-'}' span out of a model
// response. Models occasionally wrap the object in prose or code fences
// despite the prompt; this recovers the object without re-prompting.
func sliceJSONObject(response string) (string, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object in model response")
	}
	return response[start : end+1], nil
}
