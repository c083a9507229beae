// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prescription

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rxsage/rxsage/services/extraction"
	"github.com/rxsage/rxsage/services/matcher"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ExtractRequest is the body of POST /extract.
type ExtractRequest struct {
	Prescription string `json:"prescription"`
}

// ExtractResponse is the body of a successful POST /extract.
type ExtractResponse struct {
	AppointmentID string               `json:"appointment_id"`
	Result        *extraction.Document `json:"result"`
}

// PrescriptionResponse is the body of GET /prescription/:appointment_id.
type PrescriptionResponse struct {
	Extracted *extraction.Document `json:"extracted"`
	RawText   string               `json:"raw_text"`
}

// UpdateRequest is the body of POST /update-prescription/:appointment_id.
type UpdateRequest struct {
	Extracted *extraction.Document `json:"extracted"`
	RawText   string               `json:"raw_text"`
}

// AdviceRequest is the body of POST /smart_advice. Medicines reuse the
// document row shape; only medicine_name is read.
type AdviceRequest struct {
	Diagnosis string                `json:"diagnosis"`
	Medicines []extraction.Medicine `json:"medicines"`
}

// MedicineSKU is one row of GET /sku-list. Field names match the review
// frontend's picker.
type MedicineSKU struct {
	MedicineName string `json:"medicine_name"`
	SKUCode      string `json:"sku_code"`
}

// ProcedureSKU is one row of GET /procedure-sku-list.
type ProcedureSKU struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Handlers binds the prescription service to gin.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handlers struct {
	service  *Service
	catalogs map[matcher.Group]*matcher.CatalogIndex
	logger   *slog.Logger
}

// NewHandlers creates the handler set. catalogs holds the per-group indexes
// the server loaded at startup; the medicine and procedure entries back the
// SKU-list endpoints (a missing entry serves an empty list), and readiness
// requires all four groups.
func NewHandlers(service *Service, catalogs map[matcher.Group]*matcher.CatalogIndex, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:  service,
		catalogs: catalogs,
		logger:   logger,
	}
}

// HandleExtract handles POST /extract.
//
// Response:
//
//	200 OK: ExtractResponse
//	400 Bad Request: missing prescription text
//	500 Internal Server Error: extraction or persistence failure
func (h *Handlers) HandleExtract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prescription) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Prescription text is required"})
		return
	}

	appointmentID, doc, err := h.service.Process(c.Request.Context(), req.Prescription)
	if err != nil {
		h.logger.Error("extraction failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Extraction failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, ExtractResponse{AppointmentID: appointmentID, Result: doc})
}

// HandleAppointments handles GET /appointments. Always returns an array,
// empty when nothing is stored.
func (h *Handlers) HandleAppointments(c *gin.Context) {
	store := h.service.RecordStore()
	if store == nil {
		c.JSON(http.StatusOK, []Summary{})
		return
	}

	summaries, err := store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("appointment list failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch appointments"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// HandlePrescription handles GET /prescription/:appointment_id.
//
// Response:
//
//	200 OK: PrescriptionResponse
//	404 Not Found: no record for the ID
func (h *Handlers) HandlePrescription(c *gin.Context) {
	store := h.service.RecordStore()
	if store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found"})
		return
	}

	rec, err := store.Get(c.Request.Context(), c.Param("appointment_id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found"})
		return
	}
	if err != nil {
		h.logger.Error("prescription load failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load"})
		return
	}

	c.JSON(http.StatusOK, PrescriptionResponse{Extracted: rec.Document, RawText: rec.RawText})
}

// HandleUpdate handles POST /update-prescription/:appointment_id. Upsert:
// unknown IDs create a record, so edits survive even if the original
// extract row was lost.
func (h *Handlers) HandleUpdate(c *gin.Context) {
	store := h.service.RecordStore()
	if store == nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "store not configured"})
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	appointmentID := c.Param("appointment_id")
	rec, err := store.Get(c.Request.Context(), appointmentID)
	if err != nil {
		rec = &Record{AppointmentID: appointmentID}
	}
	rec.Document = req.Extracted
	rec.RawText = req.RawText
	if req.Extracted != nil {
		rec.PatientName = req.Extracted.Patient.Name
		rec.Age = int(req.Extracted.Patient.Age)
		rec.Gender = req.Extracted.Patient.Gender
	}

	if err := store.Save(c.Request.Context(), rec); err != nil {
		h.logger.Error("prescription update failed",
			slog.String("appointment_id", appointmentID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Updated successfully"})
}

// HandleSKUList handles GET /sku-list.
func (h *Handlers) HandleSKUList(c *gin.Context) {
	catalog := h.catalogs[matcher.GroupMedicine]
	if catalog == nil {
		c.JSON(http.StatusOK, []MedicineSKU{})
		return
	}
	entries := catalog.Entries()
	rows := make([]MedicineSKU, len(entries))
	for i, e := range entries {
		rows[i] = MedicineSKU{MedicineName: e.DisplayName, SKUCode: e.Code}
	}
	c.JSON(http.StatusOK, rows)
}

// HandleProcedureSKUList handles GET /procedure-sku-list.
func (h *Handlers) HandleProcedureSKUList(c *gin.Context) {
	catalog := h.catalogs[matcher.GroupProcedure]
	if catalog == nil {
		c.JSON(http.StatusOK, []ProcedureSKU{})
		return
	}
	entries := catalog.Entries()
	rows := make([]ProcedureSKU, len(entries))
	for i, e := range entries {
		rows[i] = ProcedureSKU{Name: e.DisplayName, Code: e.Code}
	}
	c.JSON(http.StatusOK, rows)
}

// HandleSmartAdvice handles POST /smart_advice. An empty medicine list
// short-circuits without an LLM call.
func (h *Handlers) HandleSmartAdvice(c *gin.Context) {
	var req AdviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if len(req.Medicines) == 0 {
		c.JSON(http.StatusOK, gin.H{"precaution": "", "followup": ""})
		return
	}

	names := make([]string, len(req.Medicines))
	for i, m := range req.Medicines {
		names[i] = m.Name
	}

	advice, err := h.service.Advise(c.Request.Context(), req.Diagnosis, names)
	if err != nil {
		h.logger.Error("smart advice failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate smart advice."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"advice": advice})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /ready. Ready means every sub-catalog the matcher
// serves from is loaded and non-empty; one missing group makes that group's
// cascade resolve nothing, so the instance must not take traffic.
func (h *Handlers) HandleReady(c *gin.Context) {
	for _, group := range []matcher.Group{
		matcher.GroupMedicine, matcher.GroupLab, matcher.GroupRadiology, matcher.GroupProcedure,
	} {
		if catalog := h.catalogs[group]; catalog == nil || catalog.Len() == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "catalogs not loaded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
