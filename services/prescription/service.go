// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prescription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/rxsage/rxsage/services/extraction"
	"github.com/rxsage/rxsage/services/matcher"
)

// =============================================================================
// Prescription Service
// =============================================================================

var prescriptionTracer = otel.Tracer("rxsage.prescription")

// Service orchestrates the digitization pipeline: LLM extraction, the four
// per-group match cascades, and persistence.
//
// # Description
//
// The service is the only component that sees a prescription end to end.
// Extraction failures abort the request; matching failures never do: each
// cascade degrades per term, so a stored document always reflects every
// extracted term either resolved or explicitly unresolved.
//
// # Thread Safety
//
// Safe for concurrent use (immutable after construction).
type Service struct {
	extractor *extraction.Extractor
	medicine  *matcher.Engine
	lab       *matcher.ClinicalEngine
	radiology *matcher.ClinicalEngine
	procedure *matcher.ClinicalEngine
	store     *Store
	logger    *slog.Logger
}

// ServiceConfig collects the collaborators for NewService. All engine
// fields are required; Store may be nil for match-only deployments (the
// extract endpoint then returns results without persisting).
type ServiceConfig struct {
	Extractor *extraction.Extractor
	Medicine  *matcher.Engine
	Lab       *matcher.ClinicalEngine
	Radiology *matcher.ClinicalEngine
	Procedure *matcher.ClinicalEngine
	Store     *Store
	Logger    *slog.Logger
}

// NewService wires the pipeline.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor must not be nil")
	}
	if cfg.Medicine == nil || cfg.Lab == nil || cfg.Radiology == nil || cfg.Procedure == nil {
		return nil, fmt.Errorf("all four match engines must be set")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: cfg.Extractor,
		medicine:  cfg.Medicine,
		lab:       cfg.Lab,
		radiology: cfg.Radiology,
		procedure: cfg.Procedure,
		store:     cfg.Store,
		logger:    logger,
	}, nil
}

// NewAppointmentID mints an appointment identifier:
// APT-<yyyymmdd-hhmmss>-<6 uuid chars>. The timestamp prefix keeps store
// keys chronological; the uuid suffix disambiguates same-second requests.
func NewAppointmentID() string {
	return fmt.Sprintf("APT-%s-%s",
		time.Now().Format("20060102-150405"),
		uuid.NewString()[:6],
	)
}

// Process runs the full pipeline for one prescription text.
//
// # Outputs
//
//   - string: The minted appointment ID.
//   - *extraction.Document: The extracted document with every group
//     validated against its catalog.
//   - error: Non-nil only on extraction or persistence failure; matching
//     degrades per term and never fails the request.
func (s *Service) Process(ctx context.Context, prescriptionText string) (string, *extraction.Document, error) {
	ctx, span := prescriptionTracer.Start(ctx, "prescription.Service.Process")
	defer span.End()

	appointmentID := NewAppointmentID()

	doc, err := s.extractor.Extract(ctx, prescriptionText)
	if err != nil {
		span.RecordError(err)
		return "", nil, fmt.Errorf("extracting prescription: %w", err)
	}

	s.validateDocument(ctx, doc)

	if s.store != nil {
		rec := &Record{
			AppointmentID: appointmentID,
			PatientName:   doc.Patient.Name,
			Age:           int(doc.Patient.Age),
			Gender:        doc.Patient.Gender,
			Document:      doc,
			Timestamp:     time.Now().Format(time.RFC3339),
			RawText:       prescriptionText,
		}
		if err := s.store.Save(ctx, rec); err != nil {
			span.RecordError(err)
			return "", nil, fmt.Errorf("persisting prescription: %w", err)
		}
	}

	s.logger.Info("prescription processed",
		slog.String("appointment_id", appointmentID),
		slog.Int("medicines", len(doc.Medicines)),
		slog.Int("labtests", len(doc.LabTests)),
		slog.Int("radiology", len(doc.Radiology)),
		slog.Int("procedures", len(doc.Procedures)),
	)
	return appointmentID, doc, nil
}

// validateDocument runs every group's cascade and writes the results back
// into the document in place.
func (s *Service) validateDocument(ctx context.Context, doc *extraction.Document) {
	doc.Medicines = s.validateMedicines(ctx, doc.Medicines)
	doc.LabTests = validateTests(ctx, s.lab, doc.LabTests)
	doc.Radiology = validateTests(ctx, s.radiology, doc.Radiology)
	doc.Procedures = validateProcedures(ctx, s.procedure, doc.Procedures)
}

// validateMedicines maps medicine rows through the medicine cascade. The
// row keeps its written name in RawName; a hit rewrites Name to the catalog
// display name. Rows are never dropped.
func (s *Service) validateMedicines(ctx context.Context, meds []extraction.Medicine) []extraction.Medicine {
	terms := make([]matcher.ExtractedTerm, len(meds))
	for i, m := range meds {
		terms[i] = matcher.ExtractedTerm{Name: m.Name, Type: m.Type, Dosage: m.Dosage}
	}

	validated := s.medicine.ValidateBatch(ctx, terms)

	out := make([]extraction.Medicine, len(meds))
	for i, v := range validated {
		m := meds[i]
		m.RawName = m.Name
		if v.Match.Matched() {
			m.Name = v.Match.ResolvedName
			m.SKUCode = v.Match.Code
		}
		m.Confidence = v.Match.Confidence
		m.Reason = v.Match.Reason
		out[i] = m
	}
	return out
}

// validateTests maps lab/radiology rows through a clinical cascade.
// Nameless rows are dropped, so the output may be shorter than the input;
// named rows always come back, resolved or not.
func validateTests(ctx context.Context, engine *matcher.ClinicalEngine, tests []extraction.LabTest) []extraction.LabTest {
	terms := make([]matcher.ExtractedTerm, len(tests))
	for i, t := range tests {
		terms[i] = matcher.ExtractedTerm{Name: t.Name, Type: t.Type}
	}

	validated := engine.ValidateBatch(ctx, terms)

	out := make([]extraction.LabTest, len(validated))
	for i, v := range validated {
		out[i] = extraction.LabTest{
			Name:       v.Name,
			Type:       v.Type,
			Matched:    v.Match.ResolvedName,
			SKUCode:    v.Match.Code,
			Confidence: v.Match.Confidence,
			Reason:     v.Match.Reason,
		}
	}
	return out
}

// validateProcedures is validateTests for the procedure row shape.
func validateProcedures(ctx context.Context, engine *matcher.ClinicalEngine, procs []extraction.Procedure) []extraction.Procedure {
	terms := make([]matcher.ExtractedTerm, len(procs))
	for i, p := range procs {
		terms[i] = matcher.ExtractedTerm{Name: p.Name, Type: p.Type}
	}

	validated := engine.ValidateBatch(ctx, terms)

	out := make([]extraction.Procedure, len(validated))
	for i, v := range validated {
		out[i] = extraction.Procedure{
			Name:       v.Name,
			Type:       v.Type,
			Matched:    v.Match.ResolvedName,
			SKUCode:    v.Match.Code,
			Confidence: v.Match.Confidence,
			Reason:     v.Match.Reason,
		}
	}
	return out
}

// Advise generates precaution/follow-up guidance for an already-extracted
// prescription. Empty medicine lists are the caller's short-circuit.
func (s *Service) Advise(ctx context.Context, diagnosis string, medicineNames []string) (string, error) {
	return s.extractor.Advise(ctx, diagnosis, medicineNames)
}

// Store exposes the record store for the read endpoints. May be nil.
func (s *Service) RecordStore() *Store { return s.store }
