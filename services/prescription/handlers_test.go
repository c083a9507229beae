// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prescription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rxsage/rxsage/services/extraction"
	"github.com/rxsage/rxsage/services/llm"
	"github.com/rxsage/rxsage/services/matcher"
	"github.com/rxsage/rxsage/services/matcher/config"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, params)
}

const extractedDocJSON = `{
  "patient": {"name": "Asha Rao", "age": 42, "gender": "F", "diagnosis": "Fever"},
  "medicines": [
    {"medicine_type": "tablet", "medicine_name": "Dolo", "medicine_dosage": "650mg", "medicine_frequency": "1-0-1", "dosage_advice": "", "medicine_duration": "5 days", "medicine_quantity": 10}
  ],
  "labtests": [{"test_name": "CBC", "test_type": "Pathology"}],
  "radiology": [],
  "procedures": [],
  "precaution": {"medical": "", "non-medical": ""},
  "followup": {"next_followup": "1 week"}
}`

// newTestRouter wires a full pipeline over an in-memory store and a canned
// LLM. The medicine and lab catalogs are small but real, so extract
// responses carry actual match results.
func newTestRouter(t *testing.T, client *fakeLLM) (*gin.Engine, *Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	normalizer := matcher.NewNormalizer()
	core := config.MustLoadAbbreviationTables().CoreClinicalTerms

	newCatalog := func(group matcher.Group, entries []matcher.SnapshotEntry) *matcher.CatalogIndex {
		idx, err := matcher.NewCatalogIndex(&matcher.Snapshot{Group: group, Entries: entries}, normalizer)
		if err != nil {
			t.Fatalf("NewCatalogIndex(%s): %v", group, err)
		}
		return idx
	}

	medicineCat := newCatalog(matcher.GroupMedicine, []matcher.SnapshotEntry{
		{DisplayName: "Dolo 650mg Tablet", Code: "M100"},
	})
	labCat := newCatalog(matcher.GroupLab, []matcher.SnapshotEntry{
		{DisplayName: "Complete Blood Count", Code: "L100"},
	})
	radiologyCat := newCatalog(matcher.GroupRadiology, []matcher.SnapshotEntry{
		{DisplayName: "X-Ray Chest PA View", Code: "R100"},
	})
	procedureCat := newCatalog(matcher.GroupProcedure, []matcher.SnapshotEntry{
		{DisplayName: "Nerve Conduction Study", Code: "P100"},
	})
	catalogs := map[matcher.Group]*matcher.CatalogIndex{
		matcher.GroupMedicine:  medicineCat,
		matcher.GroupLab:       labCat,
		matcher.GroupRadiology: radiologyCat,
		matcher.GroupProcedure: procedureCat,
	}

	store := testStore(t)
	service, err := NewService(ServiceConfig{
		Extractor: extraction.NewExtractor(client, nil),
		Medicine:  matcher.NewEngine(medicineCat, normalizer, nil, nil),
		Lab:       matcher.NewClinicalEngine(labCat, nil, normalizer, nil, nil, core, nil),
		Radiology: matcher.NewClinicalEngine(radiologyCat, procedureCat, normalizer, nil, nil, core, nil),
		Procedure: matcher.NewClinicalEngine(procedureCat, nil, normalizer, nil, nil, core, nil),
		Store:     store,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	router := gin.New()
	RegisterRoutes(router.Group("/"), NewHandlers(service, catalogs, nil))
	return router, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleExtract(t *testing.T) {
	router, store := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	w := doJSON(t, router, http.MethodPost, "/extract", `{"prescription": "Tab Dolo 650mg 1-0-1 x 5 days\nAdv: CBC"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ExtractResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.AppointmentID, "APT-") {
		t.Errorf("appointment_id = %q", resp.AppointmentID)
	}
	if resp.Result == nil || len(resp.Result.Medicines) != 1 {
		t.Fatalf("result = %+v", resp.Result)
	}

	med := resp.Result.Medicines[0]
	if med.SKUCode != "M100" {
		t.Errorf("medicine sku = %q, want M100", med.SKUCode)
	}
	if med.RawName != "Dolo" {
		t.Errorf("raw name = %q, want Dolo", med.RawName)
	}
	if len(resp.Result.LabTests) != 1 || resp.Result.LabTests[0].SKUCode != "L100" {
		t.Errorf("labtests = %+v", resp.Result.LabTests)
	}

	// The record must be persisted under the returned ID.
	rec, err := store.Get(context.Background(), resp.AppointmentID)
	if err != nil {
		t.Fatalf("Get persisted record: %v", err)
	}
	if rec.PatientName != "Asha Rao" || rec.Age != 42 {
		t.Errorf("persisted record = %+v", rec)
	}
}

func TestHandleExtract_MissingText(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	w := doJSON(t, router, http.MethodPost, "/extract", `{"prescription": "   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Prescription text is required") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleExtract_LLMFailure(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLLM{response: "no json here"})

	w := doJSON(t, router, http.MethodPost, "/extract", `{"prescription": "Tab Dolo"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Extraction failed") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleAppointments(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	w := doJSON(t, router, http.MethodGet, "/appointments", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty store body = %s", w.Body.String())
	}

	if w := doJSON(t, router, http.MethodPost, "/extract", `{"prescription": "Tab Dolo 650"}`); w.Code != http.StatusOK {
		t.Fatalf("extract status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/appointments", "")
	var summaries []Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 1 || summaries[0].PatientName != "Asha Rao" {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestHandlePrescription_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	w := doJSON(t, router, http.MethodGet, "/prescription/APT-nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleUpdate_Upsert(t *testing.T) {
	router, store := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	// Unknown ID: the update creates the record.
	body := `{"extracted": {"patient": {"name": "Ravi Kumar", "age": 55, "gender": "M"}}, "raw_text": "edited"}`
	w := doJSON(t, router, http.MethodPost, "/update-prescription/APT-manual-1", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Updated successfully") {
		t.Errorf("body = %s", w.Body.String())
	}

	rec, err := store.Get(context.Background(), "APT-manual-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.PatientName != "Ravi Kumar" || rec.Age != 55 || rec.RawText != "edited" {
		t.Errorf("record = %+v", rec)
	}

	w = doJSON(t, router, http.MethodGet, "/prescription/APT-manual-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reload status = %d", w.Code)
	}
	var resp PrescriptionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Extracted == nil || resp.Extracted.Patient.Name != "Ravi Kumar" {
		t.Errorf("reloaded = %+v", resp.Extracted)
	}
}

func TestHandleSKULists(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	w := doJSON(t, router, http.MethodGet, "/sku-list", "")
	var meds []MedicineSKU
	if err := json.Unmarshal(w.Body.Bytes(), &meds); err != nil {
		t.Fatalf("decode sku-list: %v", err)
	}
	if len(meds) != 1 || meds[0].MedicineName != "Dolo 650mg Tablet" || meds[0].SKUCode != "M100" {
		t.Errorf("sku-list = %+v", meds)
	}

	w = doJSON(t, router, http.MethodGet, "/procedure-sku-list", "")
	var procs []ProcedureSKU
	if err := json.Unmarshal(w.Body.Bytes(), &procs); err != nil {
		t.Fatalf("decode procedure-sku-list: %v", err)
	}
	if len(procs) != 1 || procs[0].Code != "P100" {
		t.Errorf("procedure-sku-list = %+v", procs)
	}
}

func TestHandleSmartAdvice(t *testing.T) {
	client := &fakeLLM{response: "Avoid self-medication. Review after one week."}
	router, _ := newTestRouter(t, client)

	// Empty medicine list short-circuits without an LLM call.
	w := doJSON(t, router, http.MethodPost, "/smart_advice", `{"diagnosis": "Fever", "medicines": []}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"precaution":""`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if client.calls != 0 {
		t.Errorf("LLM called %d times for empty medicines", client.calls)
	}

	w = doJSON(t, router, http.MethodPost, "/smart_advice",
		`{"diagnosis": "Fever", "medicines": [{"medicine_name": "Dolo 650mg Tablet"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["advice"] != client.response {
		t.Errorf("advice = %q", resp["advice"])
	}
	if client.calls != 1 {
		t.Errorf("LLM calls = %d", client.calls)
	}
}

func TestHealthAndReady(t *testing.T) {
	router, _ := newTestRouter(t, &fakeLLM{response: extractedDocJSON})

	if w := doJSON(t, router, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready status = %d", w.Code)
	}
}

func TestHandleReady_RequiresEveryCatalog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	normalizer := matcher.NewNormalizer()

	newCatalog := func(group matcher.Group, entries []matcher.SnapshotEntry) *matcher.CatalogIndex {
		idx, err := matcher.NewCatalogIndex(&matcher.Snapshot{Group: group, Entries: entries}, normalizer)
		if err != nil {
			t.Fatalf("NewCatalogIndex(%s): %v", group, err)
		}
		return idx
	}
	fullCatalogs := func() map[matcher.Group]*matcher.CatalogIndex {
		out := map[matcher.Group]*matcher.CatalogIndex{}
		for i, group := range []matcher.Group{
			matcher.GroupMedicine, matcher.GroupLab, matcher.GroupRadiology, matcher.GroupProcedure,
		} {
			out[group] = newCatalog(group, []matcher.SnapshotEntry{
				{DisplayName: "Entry", Code: string(rune('A' + i))},
			})
		}
		return out
	}

	ready := func(catalogs map[matcher.Group]*matcher.CatalogIndex) int {
		router := gin.New()
		router.GET("/ready", NewHandlers(nil, catalogs, nil).HandleReady)
		return doJSON(t, router, http.MethodGet, "/ready", "").Code
	}

	if code := ready(nil); code != http.StatusServiceUnavailable {
		t.Errorf("nil catalogs: status = %d, want 503", code)
	}
	if code := ready(fullCatalogs()); code != http.StatusOK {
		t.Errorf("all catalogs loaded: status = %d, want 200", code)
	}

	// Each group gates readiness on its own: a healthy medicine catalog
	// must not mask a missing or empty one elsewhere.
	for _, group := range []matcher.Group{
		matcher.GroupMedicine, matcher.GroupLab, matcher.GroupRadiology, matcher.GroupProcedure,
	} {
		missing := fullCatalogs()
		delete(missing, group)
		if code := ready(missing); code != http.StatusServiceUnavailable {
			t.Errorf("missing %s catalog: status = %d, want 503", group, code)
		}

		empty := fullCatalogs()
		empty[group] = newCatalog(group, nil)
		if code := ready(empty); code != http.StatusServiceUnavailable {
			t.Errorf("empty %s catalog: status = %d, want 503", group, code)
		}
	}
}
