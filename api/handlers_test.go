package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/api"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/store/memory"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store := memory.NewStore()
	log := zerolog.Nop()

	catalog := tariff.NewCatalog(store, log)
	ledger := tariff.NewCaseLedger(store, store, catalog, log)
	reconciler := recovery.NewReconciler(store, store, log)
	generator := invoicing.NewGenerator(store, store, ledger, store, log)
	payments := invoicing.NewPaymentLedger(store, store, ledger, log)
	costs := costflow.NewRecorder(store, catalog, store, log)

	handler := api.NewHandler(reconciler, catalog, ledger, generator, payments, costs)
	return api.NewRouter(handler)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func openCase(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/cases", map[string]any{
		"case_id":     "case-1",
		"reference":   "REF-001",
		"claim_total": "5000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return "case-1"
}

// =============================================================================
// CASE ENDPOINT TESTS
// =============================================================================

func TestAPI_OpenCase_AndGetAmounts(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/cases/"+id+"/amounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "5000.00", body["claim_total"])
	assert.Equal(t, "NOT_RECOVERED", body["state"])
}

func TestAPI_OpenCase_MissingClaimRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/cases", map[string]any{"case_id": "case-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetAmounts_UnknownCase404(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/cases/ghost/amounts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_PostRecovery_UpdatesBalance(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/recoveries", map[string]any{
		"phase":  "AMIABLE",
		"amount": "1200",
		"kind":   "ACTION_AMIABLE",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "1200.00", body["recovered"])
	assert.Equal(t, "3800.00", body["remaining"])
	assert.Equal(t, "RECOVERED_PARTIAL", body["state"])

	rec = doJSON(t, router, http.MethodGet, "/api/cases/"+id+"/recoveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]map[string]any](t, rec)
	assert.Len(t, history, 1)
}

func TestAPI_UpdateAmounts_BothFieldsRejected(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPut, "/api/cases/"+id+"/amounts", map[string]any{
		"claim_total":      "6000",
		"recovered_amount": "100",
		"mode":             "ADD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TARIFF ENDPOINT TESTS
// =============================================================================

func TestAPI_FixedFees_AndValidationState(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/fees/opening", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fee := decode[map[string]any](t, rec)
	assert.Equal(t, "VALIDATED", fee["status"])
	assert.Equal(t, "250.00", fee["total"])

	rec = doJSON(t, router, http.MethodGet, "/api/cases/"+id+"/tariffs/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[map[string]any](t, rec)
	assert.Equal(t, "TOUS_TARIFS_VALIDES", state["global"])
	assert.Equal(t, true, state["can_generate_invoice"])
}

func TestAPI_LineItem_RejectWithoutCommentFails(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/tariffs", map[string]any{
		"phase":     "AMIABLE",
		"category":  "MISE_EN_DEMEURE",
		"unit_cost": "75",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[map[string]any](t, rec)

	path := fmt.Sprintf("/api/tariffs/%s/reject", item["id"])
	rec = doJSON(t, router, http.MethodPost, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, path, map[string]any{"comment": "injustifié"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CarenceAttestation_DuplicateConflicts(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/fees/carence", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/fees/carence", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// CATALOG ENDPOINT TESTS
// =============================================================================

func TestAPI_Catalog_CreateAndResolve(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/catalog", map[string]any{
		"phase":      "AMIABLE",
		"category":   "RELANCE_TELEPHONIQUE",
		"unit_rate":  "20",
		"valid_from": "2026-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet,
		"/api/catalog/resolve?phase=AMIABLE&category=RELANCE_TELEPHONIQUE&date=2026-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[map[string]any](t, rec)
	assert.Equal(t, "20.00", entry["unit_rate"])

	// Overlap conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/catalog", map[string]any{
		"phase":      "AMIABLE",
		"category":   "RELANCE_TELEPHONIQUE",
		"unit_rate":  "25",
		"valid_from": "2026-02-01",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// INVOICE AND PAYMENT FLOW TEST
// =============================================================================

func TestAPI_InvoiceAndPaymentFlow(t *testing.T) {
	// GIVEN: A case with the 250 opening fee validated
	// WHEN: Generating, finalizing and fully paying the invoice
	// THEN: Each step answers with the expected state

	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/fees/opening", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/invoice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decode[map[string]any](t, rec)
	assert.Equal(t, "BROUILLON", inv["status"])
	assert.Equal(t, "250.00", inv["amount_excl_vat"])
	assert.Equal(t, "297.50", inv["amount_incl_vat"]) // 250 * 1.19

	invoiceID := inv["id"].(string)
	rec = doJSON(t, router, http.MethodPost, "/api/invoices/"+invoiceID+"/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"invoice_id": invoiceID,
		"amount":     "297.50",
		"method":     "VIREMENT",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[map[string]any](t, rec)
	assert.Equal(t, "EN_ATTENTE", payment["status"])

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/payments/%s/validate", payment["id"]), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[map[string]any](t, rec)
	assert.Equal(t, "PAYEE", after["status"])

	rec = doJSON(t, router, http.MethodGet, "/api/invoices/"+invoiceID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[map[string]any](t, rec)
	assert.Equal(t, true, balance["fully_paid"])
	assert.Equal(t, "0.00", balance["outstanding"])
}

func TestAPI_GenerateInvoice_Blocked409(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/invoice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_PaymentMethodValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"invoice_id": "inv-1",
		"amount":     "100",
		"method":     "BITCOIN",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// COST ENDPOINT TESTS
// =============================================================================

func TestAPI_Costs_RecordAndApprove(t *testing.T) {
	router := newTestRouter(t)
	id := openCase(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/cases/"+id+"/costs", map[string]any{
		"phase":     "AMIABLE",
		"category":  "VISITE_TERRAIN",
		"unit_rate": "40",
		"quantity":  2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[map[string]any](t, rec)
	assert.Equal(t, "80.00", entry["amount"])

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/costs/%s/approve", entry["id"]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode[map[string]any](t, rec)
	assert.Equal(t, "VALIDE", approved["status"])
}
