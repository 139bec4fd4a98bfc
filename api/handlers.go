/*
handlers.go - HTTP API handlers for the recovery billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Cases:
    POST   /api/cases                       Open a case (financial aggregate)
    GET    /api/cases/{id}/amounts          Financial aggregate
    PUT    /api/cases/{id}/amounts          Adjust claim or recovered amount
    POST   /api/cases/{id}/recoveries       Post a phase recovery
    POST   /api/cases/{id}/interest         Post recovered interest
    GET    /api/cases/{id}/recoveries       Recovery history

  Tariffs:
    POST   /api/cases/{id}/tariffs          Create line item
    GET    /api/cases/{id}/tariffs          List line items
    GET    /api/cases/{id}/tariffs/state    Validation state
    POST   /api/cases/{id}/fees/{kind}      Record a mandate fixed fee
    POST   /api/tariffs/{id}/validate       Validate pending item
    POST   /api/tariffs/{id}/reject         Reject pending item (comment required)
    PUT    /api/tariffs/{id}/cost           Complete an incomplete item

  Catalog:
    GET    /api/catalog                     List entries
    POST   /api/catalog                     Create entry
    GET    /api/catalog/{id}/history        Rate history
    POST   /api/catalog/{id}/deactivate     Retire entry
    GET    /api/catalog/resolve             Resolve rate for phase/category/date

  Invoices:
    GET    /api/cases/{id}/invoice/cangenerate  Generation gate
    POST   /api/cases/{id}/invoice              Generate draft invoice
    GET    /api/cases/{id}/invoice/detail       Fees + commissions breakdown
    POST   /api/invoices/{id}/finalize          BROUILLON -> EMISE
    POST   /api/invoices/{id}/send              Mark sent
    POST   /api/invoices/{id}/remind            Mark reminded (overdue only)
    GET    /api/invoices/{id}                   Get invoice
    GET    /api/invoices/{id}/balance           Outstanding balance
    GET    /api/invoices/overdue                List overdue invoices

  Payments:
    POST   /api/payments                    Record payment (EN_ATTENTE)
    POST   /api/payments/{id}/validate      Validate + reconcile invoice
    POST   /api/payments/{id}/reject        Refuse payment
    GET    /api/invoices/{id}/payments      Payments of an invoice

  Costs (legacy flat ledger):
    POST   /api/cases/{id}/costs            Record cost entry
    GET    /api/cases/{id}/costs            List cost entries
    POST   /api/costs/{id}/approve          Approve entry
    POST   /api/costs/{id}/dismiss          Dismiss entry

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate unique charge, concurrent modification)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Reconciler *recovery.Reconciler
	Catalog    *tariff.Catalog
	Ledger     *tariff.CaseLedger
	Invoices   *invoicing.Generator
	Payments   *invoicing.PaymentLedger
	Costs      *costflow.Recorder

	validate *validator.Validate
}

// NewHandler creates a new handler over the domain services.
func NewHandler(rec *recovery.Reconciler, cat *tariff.Catalog, led *tariff.CaseLedger, inv *invoicing.Generator, pay *invoicing.PaymentLedger, costs *costflow.Recorder) *Handler {
	return &Handler{
		Reconciler: rec,
		Catalog:    cat,
		Ledger:     led,
		Invoices:   inv,
		Payments:   pay,
		Costs:      costs,
		validate:   validator.New(),
	}
}

// =============================================================================
// CASE HANDLERS
// =============================================================================

// OpenCase registers the financial aggregate for a new case.
func (h *Handler) OpenCase(w http.ResponseWriter, r *http.Request) {
	var req OpenCaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	claim, ok := parseAmount(w, req.ClaimTotal, "claim_total")
	if !ok {
		return
	}

	f, err := h.Reconciler.Open(r.Context(), billing.CaseID(req.CaseID), req.Reference, claim)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseDTO(f))
}

// GetAmounts returns the financial aggregate of a case.
func (h *Handler) GetAmounts(w http.ResponseWriter, r *http.Request) {
	f, err := h.Reconciler.Get(r.Context(), caseID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(f))
}

// UpdateAmounts adjusts the claim total or the recovered amount.
func (h *Handler) UpdateAmounts(w http.ResponseWriter, r *http.Request) {
	var req UpdateAmountsRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := recovery.UpdateInput{
		Mode:    recovery.UpdateMode(req.Mode),
		UserID:  req.UserID,
		Comment: req.Comment,
	}
	if req.ClaimTotal != nil {
		a, ok := parseAmount(w, *req.ClaimTotal, "claim_total")
		if !ok {
			return
		}
		in.NewClaimTotal = &a
	}
	if req.RecoveredAmount != nil {
		a, ok := parseAmount(w, *req.RecoveredAmount, "recovered_amount")
		if !ok {
			return
		}
		in.RecoveredAmount = &a
	}

	f, out, err := h.Reconciler.UpdateAmounts(r.Context(), caseID(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		CaseFinancialsDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toCaseDTO(f), toOutcomeDTO(out)})
}

// PostRecovery records money recovered during a phase.
func (h *Handler) PostRecovery(w http.ResponseWriter, r *http.Request) {
	var req PostRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount, "amount")
	if !ok {
		return
	}

	f, out, err := h.Reconciler.Post(r.Context(), caseID(r), recovery.PostingInput{
		Phase:    recovery.RecoveryPhase(req.Phase),
		Amount:   amount,
		Mode:     recovery.UpdateMode(req.Mode),
		Kind:     recovery.EntryKind(req.Kind),
		ActionID: req.ActionID,
		UserID:   req.UserID,
		Comment:  req.Comment,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		CaseFinancialsDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toCaseDTO(f), toOutcomeDTO(out)})
}

// PostInterest records recovered late-payment interest.
func (h *Handler) PostInterest(w http.ResponseWriter, r *http.Request) {
	var req PostInterestRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount, "amount")
	if !ok {
		return
	}

	f, _, err := h.Reconciler.PostInterest(r.Context(), caseID(r), amount, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(f))
}

// ListRecoveries returns the recovery history of a case.
func (h *Handler) ListRecoveries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Reconciler.HistoryFor(r.Context(), caseID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// CreateCatalogEntry registers a new rate.
func (h *Handler) CreateCatalogEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateCatalogEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, ok := parseAmount(w, req.UnitRate, "unit_rate")
	if !ok {
		return
	}
	from, err := time.Parse(dateLayout, req.ValidFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid valid_from format (use YYYY-MM-DD)", err)
		return
	}
	in := tariff.CatalogEntryInput{
		Phase:       billing.Phase(req.Phase),
		Category:    req.Category,
		Description: req.Description,
		Supplier:    req.Supplier,
		UnitRate:    rate,
		ValidFrom:   from,
	}
	if req.ValidTo != "" {
		to, err := time.Parse(dateLayout, req.ValidTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_to format (use YYYY-MM-DD)", err)
			return
		}
		in.ValidTo = &to
	}

	entry, err := h.Catalog.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCatalogDTO(*entry))
}

// ListCatalog returns catalog entries, optionally filtered.
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	f := tariff.CatalogFilter{
		Phase:      billing.Phase(r.URL.Query().Get("phase")),
		Category:   r.URL.Query().Get("category"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	entries, err := h.Catalog.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CatalogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCatalogDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResolveRate returns the applicable rate for phase/category/date.
func (h *Handler) ResolveRate(w http.ResponseWriter, r *http.Request) {
	phase := billing.Phase(r.URL.Query().Get("phase"))
	category := r.URL.Query().Get("category")
	on := time.Now().UTC()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse(dateLayout, d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		on = parsed
	}

	entry, err := h.Catalog.ResolveRate(r.Context(), phase, category, on)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogDTO(*entry))
}

// CatalogHistory returns every rate ever registered for the entry's
// (phase, category).
func (h *Handler) CatalogHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Catalog.History(r.Context(), billing.CatalogEntryID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CatalogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCatalogDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeactivateCatalogEntry retires a rate.
func (h *Handler) DeactivateCatalogEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Deactivate(r.Context(), billing.CatalogEntryID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LINE ITEM HANDLERS
// =============================================================================

// CreateLineItem records a billable charge against a case.
func (h *Handler) CreateLineItem(w http.ResponseWriter, r *http.Request) {
	var req CreateLineItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := tariff.CreateLineItemInput{
		CaseID:      caseID(r),
		Phase:       billing.Phase(req.Phase),
		Category:    req.Category,
		ElementType: req.ElementType,
		Quantity:    req.Quantity,
		Comment:     req.Comment,
		UserID:      req.UserID,
		Links:       tariff.EventLinks{ActionID: req.ActionID},
	}
	if req.UnitCost != nil {
		a, ok := parseAmount(w, *req.UnitCost, "unit_cost")
		if !ok {
			return
		}
		in.UnitCost = &a
	}

	item, out, err := h.Ledger.CreateLineItem(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		LineItemDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toLineItemDTO(item), toOutcomeDTO(out)})
}

// ListLineItems returns the line items of a case.
func (h *Handler) ListLineItems(w http.ResponseWriter, r *http.Request) {
	var items []tariff.LineItem
	var err error
	if phase := r.URL.Query().Get("phase"); phase != "" {
		items, err = h.Ledger.ListByPhase(r.Context(), caseID(r), billing.Phase(phase))
	} else {
		items, err = h.Ledger.ListByCase(r.Context(), caseID(r))
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]LineItemDTO, len(items))
	for i := range items {
		dtos[i] = toLineItemDTO(&items[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetValidationState returns the per-phase and global validation state.
func (h *Handler) GetValidationState(w http.ResponseWriter, r *http.Request) {
	state, err := h.Ledger.ValidationState(r.Context(), caseID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationStateDTO(state))
}

// RecordFixedFee books one of the mandate fixed fees. The {kind} URL
// parameter selects which: opening, investigation, advance or carence.
func (h *Handler) RecordFixedFee(w http.ResponseWriter, r *http.Request) {
	id := caseID(r)
	var item *tariff.LineItem
	var err error

	switch chi.URLParam(r, "kind") {
	case "opening":
		item, err = h.Ledger.RecordCaseOpening(r.Context(), id)
	case "investigation":
		item, err = h.Ledger.RecordInvestigationFee(r.Context(), id, r.URL.Query().Get("investigation_id"))
	case "advance":
		item, err = h.Ledger.RecordJuridicalAdvance(r.Context(), id)
	case "carence":
		var req ReviewLineItemRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body", err)
				return
			}
		}
		item, _, err = h.Ledger.RecordCarenceAttestation(r.Context(), id, req.Comment, req.UserID)
	default:
		writeError(w, http.StatusBadRequest, "Unknown fee kind", nil)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(item))
}

// ValidateLineItem moves a pending item to VALIDATED.
func (h *Handler) ValidateLineItem(w http.ResponseWriter, r *http.Request) {
	var req ReviewLineItemRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	item, out, err := h.Ledger.Validate(r.Context(), billing.LineItemID(chi.URLParam(r, "id")), req.Comment, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		LineItemDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toLineItemDTO(item), toOutcomeDTO(out)})
}

// RejectLineItem moves a pending item to REJECTED.
func (h *Handler) RejectLineItem(w http.ResponseWriter, r *http.Request) {
	var req ReviewLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	item, out, err := h.Ledger.Reject(r.Context(), billing.LineItemID(chi.URLParam(r, "id")), req.Comment, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		LineItemDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toLineItemDTO(item), toOutcomeDTO(out)})
}

// SetLineItemCost completes an incomplete pending item.
func (h *Handler) SetLineItemCost(w http.ResponseWriter, r *http.Request) {
	var req SetUnitCostRequest
	if !h.decode(w, r, &req) {
		return
	}
	cost, ok := parseAmount(w, req.UnitCost, "unit_cost")
	if !ok {
		return
	}
	item, err := h.Ledger.SetUnitCost(r.Context(), billing.LineItemID(chi.URLParam(r, "id")), cost)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(item))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CanGenerateInvoice reports whether invoicing is unlocked for the case.
func (h *Handler) CanGenerateInvoice(w http.ResponseWriter, r *http.Request) {
	_, state, err := h.Invoices.CanGenerate(r.Context(), caseID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationStateDTO(state))
}

// GenerateInvoice cuts a draft invoice over the validated line items.
func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoiceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var start, end time.Time
	var err error
	if req.PeriodStart != "" {
		if start, err = time.Parse(dateLayout, req.PeriodStart); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
			return
		}
	}
	if req.PeriodEnd != "" {
		if end, err = time.Parse(dateLayout, req.PeriodEnd); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
			return
		}
	}

	inv, out, err := h.Invoices.Generate(r.Context(), caseID(r), start, end, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		InvoiceDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toInvoiceDTO(inv), toOutcomeDTO(out)})
}

// GetInvoiceDetail returns the fees-by-phase and commission breakdown.
func (h *Handler) GetInvoiceDetail(w http.ResponseWriter, r *http.Request) {
	d, err := h.Invoices.Detail(r.Context(), caseID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := DetailDTO{
		CaseID:     string(d.CaseID),
		FeesTotal:  d.FeesTotal.Value.StringFixed(2),
		GrandTotal: d.GrandTotal.Value.StringFixed(2),
	}
	for _, p := range d.Phases {
		dto.Phases = append(dto.Phases, PhaseLineDTO{
			Phase: string(p.Phase), Count: p.Count, Total: p.Total.Value.StringFixed(2),
		})
	}
	for _, c := range d.Commissions {
		dto.Commissions = append(dto.Commissions, CommissionLineDTO{
			Label:  c.Label,
			Base:   c.Base.Value.StringFixed(2),
			Rate:   c.Rate.String(),
			Amount: c.Amount.Value.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Invoices.GetInvoice(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// FinalizeInvoice issues a draft invoice.
func (h *Handler) FinalizeInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Finalize(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// SendInvoice marks an issued invoice as sent.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Send(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// RemindInvoice marks an overdue invoice as reminded.
func (h *Handler) RemindInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Remind(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// GetInvoiceBalance returns the outstanding balance of an invoice.
func (h *Handler) GetInvoiceBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Invoices.BalanceOf(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")), h.Payments.Payments)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		InvoiceID:   string(b.InvoiceID),
		AmountIncl:  b.AmountIncl.Value.StringFixed(2),
		PaidToDate:  b.PaidToDate.Value.StringFixed(2),
		Outstanding: b.Outstanding.Value.StringFixed(2),
		FullyPaid:   b.FullyPaid,
	})
}

// ListOverdueInvoices returns issued invoices past their due date.
func (h *Handler) ListOverdueInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Invoices.Overdue(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i := range invoices {
		dtos[i] = toInvoiceDTO(&invoices[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment registers an incoming payment in EN_ATTENTE.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount, "amount")
	if !ok {
		return
	}
	in := invoicing.RecordPaymentInput{
		InvoiceID: billing.InvoiceID(req.InvoiceID),
		Amount:    amount,
		Method:    invoicing.PaymentMethod(req.Method),
		Reference: req.Reference,
		Comment:   req.Comment,
	}
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		in.Date = d
	}

	p, err := h.Payments.Record(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// ValidatePayment confirms a pending payment and reconciles its invoice.
func (h *Handler) ValidatePayment(w http.ResponseWriter, r *http.Request) {
	p, out, err := h.Payments.Validate(r.Context(), billing.PaymentID(chi.URLParam(r, "id")), r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		PaymentDTO
		Outcome *OutcomeDTO `json:"outcome,omitempty"`
	}{toPaymentDTO(p), toOutcomeDTO(out)})
}

// RejectPayment refuses a pending payment.
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	var req RejectPaymentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	p, err := h.Payments.Reject(r.Context(), billing.PaymentID(chi.URLParam(r, "id")), req.Motive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// ListInvoicePayments returns the payments recorded against an invoice.
func (h *Handler) ListInvoicePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Payments.ListByInvoice(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = toPaymentDTO(&payments[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COST HANDLERS
// =============================================================================

// RecordCost books a legacy flat cost entry.
func (h *Handler) RecordCost(w http.ResponseWriter, r *http.Request) {
	var req RecordCostRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := costflow.RecordInput{
		CaseID:           caseID(r),
		Phase:            billing.Phase(req.Phase),
		Category:         req.Category,
		Quantity:         req.Quantity,
		JustificationURL: req.JustificationURL,
		Comment:          req.Comment,
	}
	if req.UnitRate != nil {
		a, ok := parseAmount(w, *req.UnitRate, "unit_rate")
		if !ok {
			return
		}
		in.UnitRate = &a
	}
	if req.Date != "" {
		d, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		in.Date = d
	}

	e, err := h.Costs.Record(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostEntryDTO(e))
}

// ListCosts returns the cost entries of a case.
func (h *Handler) ListCosts(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Costs.ListByCase(r.Context(), caseID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CostEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toCostEntryDTO(&entries[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveCost confirms a pending cost entry.
func (h *Handler) ApproveCost(w http.ResponseWriter, r *http.Request) {
	h.reviewCost(w, r, h.Costs.Approve)
}

// DismissCost rejects a pending cost entry.
func (h *Handler) DismissCost(w http.ResponseWriter, r *http.Request) {
	h.reviewCost(w, r, h.Costs.Dismiss)
}

func (h *Handler) reviewCost(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id billing.CostEntryID, comment string) (*costflow.CostEntry, error)) {
	var req ReviewLineItemRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	e, err := fn(r.Context(), billing.CostEntryID(chi.URLParam(r, "id")), req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostEntryDTO(e))
}

// =============================================================================
// HELPERS
// =============================================================================

func caseID(r *http.Request) billing.CaseID {
	return billing.CaseID(chi.URLParam(r, "id"))
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func parseAmount(w http.ResponseWriter, s, field string) (billing.Amount, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field, err)
		return billing.Amount{}, false
	}
	return billing.Amount{Value: d}, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case billing.IsConflict(err), billing.IsRetryable(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case billing.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
