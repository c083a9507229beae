// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rxsage/rxsage/services/llm"
)

const (
	adviceTemperature float32 = 0.2
	adviceMaxTokens           = 1024
)

const advicePromptTemplate = `You are a clinical assistant.
Given the diagnosis: %s and the medicines: %s,
Suggest:
1. Precautions the patient should follow (separate into medical and non-medical).
2. Follow-up advice (when the patient should return or retest, give medical test recommendation if relevant to diagnosis).
Respond in plain English.`

// Advise generates precaution and follow-up guidance for a diagnosis and
// its medicine list. Callers short-circuit on an empty medicine list; an
// empty diagnosis is allowed.
func (x *Extractor) Advise(ctx context.Context, diagnosis string, medicineNames []string) (string, error) {
	ctx, span := extractionTracer.Start(ctx, "extraction.Extractor.Advise",
		oteltrace.WithAttributes(
			attribute.Int("medicine_count", len(medicineNames)),
		),
	)
	defer span.End()

	prompt := fmt.Sprintf(advicePromptTemplate, diagnosis, strings.Join(medicineNames, ", "))

	response, err := x.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(adviceTemperature),
		MaxTokens:   llm.IntPtr(adviceMaxTokens),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advice call: %w", err)
	}
	return strings.TrimSpace(response), nil
}
