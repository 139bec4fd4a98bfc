/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags; handlers run them
  through the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/tariff"
)

const dateLayout = "2006-01-02"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// OutcomeDTO reports best-effort side effects that failed.
type OutcomeDTO struct {
	Degraded []string `json:"degraded,omitempty"`
}

// =============================================================================
// CASES
// =============================================================================

type OpenCaseRequest struct {
	CaseID     string `json:"case_id" validate:"required"`
	Reference  string `json:"reference"`
	ClaimTotal string `json:"claim_total" validate:"required"`
}

type CaseFinancialsDTO struct {
	CaseID             string `json:"case_id"`
	Reference          string `json:"reference,omitempty"`
	ClaimTotal         string `json:"claim_total"`
	Recovered          string `json:"recovered"`
	Remaining          string `json:"remaining"`
	RecoveredAmiable   string `json:"recovered_amiable"`
	RecoveredJuridique string `json:"recovered_juridique"`
	RecoveredInterest  string `json:"recovered_interest"`
	State              string `json:"state"`
	Version            int64  `json:"version"`
	UpdatedAt          string `json:"updated_at"`
}

type UpdateAmountsRequest struct {
	ClaimTotal      *string `json:"claim_total"`
	RecoveredAmount *string `json:"recovered_amount"`
	Mode            string  `json:"mode" validate:"omitempty,oneof=ADD REPLACE"`
	UserID          string  `json:"user_id"`
	Comment         string  `json:"comment"`
}

type PostRecoveryRequest struct {
	Phase    string `json:"phase" validate:"required,oneof=AMIABLE JURIDIQUE"`
	Amount   string `json:"amount" validate:"required"`
	Mode     string `json:"mode" validate:"omitempty,oneof=ADD REPLACE"`
	Kind     string `json:"kind"`
	ActionID string `json:"action_id"`
	UserID   string `json:"user_id"`
	Comment  string `json:"comment"`
}

type PostInterestRequest struct {
	Amount string `json:"amount" validate:"required"`
	UserID string `json:"user_id"`
}

type HistoryEntryDTO struct {
	ID           string `json:"id"`
	Phase        string `json:"phase"`
	Kind         string `json:"kind"`
	Delta        string `json:"delta"`
	RunningTotal string `json:"running_total"`
	Remaining    string `json:"remaining"`
	ActionID     string `json:"action_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Comment      string `json:"comment,omitempty"`
	At           string `json:"at"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CreateCatalogEntryRequest struct {
	Phase       string `json:"phase" validate:"required,oneof=CREATION ENQUETE AMIABLE JURIDIQUE"`
	Category    string `json:"category" validate:"required"`
	Description string `json:"description"`
	Supplier    string `json:"supplier"`
	UnitRate    string `json:"unit_rate" validate:"required"`
	ValidFrom   string `json:"valid_from" validate:"required"`
	ValidTo     string `json:"valid_to"`
}

type CatalogEntryDTO struct {
	ID          string `json:"id"`
	Phase       string `json:"phase"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Supplier    string `json:"supplier,omitempty"`
	UnitRate    string `json:"unit_rate"`
	ValidFrom   string `json:"valid_from"`
	ValidTo     string `json:"valid_to,omitempty"`
	Active      bool   `json:"active"`
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type CreateLineItemRequest struct {
	Phase       string  `json:"phase" validate:"required,oneof=CREATION ENQUETE AMIABLE JURIDIQUE"`
	Category    string  `json:"category" validate:"required"`
	ElementType string  `json:"element_type"`
	Quantity    int     `json:"quantity" validate:"omitempty,min=1"`
	UnitCost    *string `json:"unit_cost"`
	Comment     string  `json:"comment"`
	UserID      string  `json:"user_id"`
	ActionID    string  `json:"action_id"`
}

type LineItemDTO struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	Phase       string `json:"phase"`
	Category    string `json:"category"`
	ElementType string `json:"element_type,omitempty"`
	UnitCost    string `json:"unit_cost,omitempty"`
	Quantity    int    `json:"quantity"`
	Total       string `json:"total,omitempty"`
	Status      string `json:"status"`
	Incomplete  bool   `json:"incomplete,omitempty"`
	CreatedAt   string `json:"created_at"`
	ValidatedAt string `json:"validated_at,omitempty"`
	Comment     string `json:"comment,omitempty"`
	InvoiceID   string `json:"invoice_id,omitempty"`
}

type ReviewLineItemRequest struct {
	Comment string `json:"comment"`
	UserID  string `json:"user_id"`
}

type SetUnitCostRequest struct {
	UnitCost string `json:"unit_cost" validate:"required"`
}

type PhaseStateDTO struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Validated int    `json:"validated"`
}

type ValidationStateDTO struct {
	CaseID             string                   `json:"case_id"`
	Phases             map[string]PhaseStateDTO `json:"phases"`
	Global             string                   `json:"global"`
	CanGenerateInvoice bool                     `json:"can_generate_invoice"`
}

// =============================================================================
// INVOICES
// =============================================================================

type GenerateInvoiceRequest struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	UserID      string `json:"user_id"`
}

type InvoiceDTO struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	CaseID       string `json:"case_id"`
	PeriodStart  string `json:"period_start,omitempty"`
	PeriodEnd    string `json:"period_end,omitempty"`
	IssueDate    string `json:"issue_date"`
	DueDate      string `json:"due_date"`
	AmountExcl   string `json:"amount_excl_vat"`
	VATRate      string `json:"vat_rate"`
	AmountIncl   string `json:"amount_incl_vat"`
	Status       string `json:"status"`
	Sent         bool   `json:"sent"`
	ReminderSent bool   `json:"reminder_sent"`
}

type BalanceDTO struct {
	InvoiceID   string `json:"invoice_id"`
	AmountIncl  string `json:"amount_incl_vat"`
	PaidToDate  string `json:"paid_to_date"`
	Outstanding string `json:"outstanding"`
	FullyPaid   bool   `json:"fully_paid"`
}

type PhaseLineDTO struct {
	Phase string `json:"phase"`
	Count int    `json:"count"`
	Total string `json:"total"`
}

type CommissionLineDTO struct {
	Label  string `json:"label"`
	Base   string `json:"base"`
	Rate   string `json:"rate"`
	Amount string `json:"amount"`
}

type DetailDTO struct {
	CaseID      string              `json:"case_id"`
	Phases      []PhaseLineDTO      `json:"phases"`
	FeesTotal   string              `json:"fees_total"`
	Commissions []CommissionLineDTO `json:"commissions"`
	GrandTotal  string              `json:"grand_total"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type RecordPaymentRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	Date      string `json:"date"`
	Amount    string `json:"amount" validate:"required"`
	Method    string `json:"method" validate:"required,oneof=VIREMENT CHEQUE ESPECES TRAITE CARTE"`
	Reference string `json:"reference"`
	Comment   string `json:"comment"`
}

type RejectPaymentRequest struct {
	Motive string `json:"motive"`
}

type PaymentDTO struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status"`
	Comment   string `json:"comment,omitempty"`
}

// =============================================================================
// COST ENTRIES
// =============================================================================

type RecordCostRequest struct {
	Phase            string  `json:"phase" validate:"required,oneof=CREATION ENQUETE AMIABLE JURIDIQUE"`
	Category         string  `json:"category"`
	Quantity         int     `json:"quantity" validate:"omitempty,min=1"`
	UnitRate         *string `json:"unit_rate"`
	Date             string  `json:"date"`
	JustificationURL string  `json:"justification_url"`
	Comment          string  `json:"comment"`
}

type CostEntryDTO struct {
	ID       string `json:"id"`
	CaseID   string `json:"case_id"`
	Phase    string `json:"phase"`
	Category string `json:"category,omitempty"`
	Quantity int    `json:"quantity"`
	UnitRate string `json:"unit_rate"`
	Amount   string `json:"amount"`
	Status   string `json:"status"`
	Date     string `json:"date"`
	Comment  string `json:"comment,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toCaseDTO(f *recovery.CaseFinancials) CaseFinancialsDTO {
	return CaseFinancialsDTO{
		CaseID:             string(f.CaseID),
		Reference:          f.Reference,
		ClaimTotal:         f.ClaimTotal.Value.StringFixed(2),
		Recovered:          f.Recovered.Value.StringFixed(2),
		Remaining:          f.Remaining.Value.StringFixed(2),
		RecoveredAmiable:   f.RecoveredAmiable.Value.StringFixed(2),
		RecoveredJuridique: f.RecoveredJuridique.Value.StringFixed(2),
		RecoveredInterest:  f.RecoveredInterest.Value.StringFixed(2),
		State:              string(f.State),
		Version:            f.Version,
		UpdatedAt:          f.UpdatedAt.Format(time.RFC3339),
	}
}

func toHistoryDTO(e recovery.HistoryEntry) HistoryEntryDTO {
	return HistoryEntryDTO{
		ID:           e.ID,
		Phase:        string(e.Phase),
		Kind:         string(e.Kind),
		Delta:        e.Delta.Value.StringFixed(2),
		RunningTotal: e.RunningTotal.Value.StringFixed(2),
		Remaining:    e.Remaining.Value.StringFixed(2),
		ActionID:     e.ActionID,
		UserID:       e.UserID,
		Comment:      e.Comment,
		At:           e.At.Format(time.RFC3339),
	}
}

func toCatalogDTO(e tariff.CatalogEntry) CatalogEntryDTO {
	dto := CatalogEntryDTO{
		ID:          string(e.ID),
		Phase:       string(e.Phase),
		Category:    e.Category,
		Description: e.Description,
		Supplier:    e.Supplier,
		UnitRate:    e.UnitRate.Value.StringFixed(2),
		ValidFrom:   e.ValidFrom.Format(dateLayout),
		Active:      e.Active,
	}
	if e.ValidTo != nil {
		dto.ValidTo = e.ValidTo.Format(dateLayout)
	}
	return dto
}

func toLineItemDTO(li *tariff.LineItem) LineItemDTO {
	dto := LineItemDTO{
		ID:          string(li.ID),
		CaseID:      string(li.CaseID),
		Phase:       string(li.Phase),
		Category:    li.Category,
		ElementType: li.ElementType,
		Quantity:    li.Quantity,
		Status:      string(li.Status),
		Incomplete:  li.Incomplete(),
		CreatedAt:   li.CreatedAt.Format(time.RFC3339),
		Comment:     li.Comment,
		InvoiceID:   string(li.InvoiceID),
	}
	if li.UnitCost != nil {
		dto.UnitCost = li.UnitCost.Value.StringFixed(2)
	}
	if li.Total != nil {
		dto.Total = li.Total.Value.StringFixed(2)
	}
	if li.ValidatedAt != nil {
		dto.ValidatedAt = li.ValidatedAt.Format(time.RFC3339)
	}
	return dto
}

func toValidationStateDTO(s *tariff.ValidationState) ValidationStateDTO {
	dto := ValidationStateDTO{
		CaseID:             string(s.CaseID),
		Phases:             make(map[string]PhaseStateDTO, len(s.Phases)),
		Global:             string(s.Global),
		CanGenerateInvoice: s.CanGenerateInvoice,
	}
	for phase, ps := range s.Phases {
		dto.Phases[string(phase)] = PhaseStateDTO{
			Status:    string(ps.Status),
			Total:     ps.Total,
			Validated: ps.Validated,
		}
	}
	return dto
}

func toInvoiceDTO(inv *invoicing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:           string(inv.ID),
		Number:       inv.Number,
		CaseID:       string(inv.CaseID),
		IssueDate:    inv.IssueDate.Format(time.RFC3339),
		DueDate:      inv.DueDate.Format(time.RFC3339),
		AmountExcl:   inv.AmountExcl.Value.StringFixed(2),
		VATRate:      inv.VATRate.String(),
		AmountIncl:   inv.AmountIncl.Value.StringFixed(2),
		Status:       string(inv.Status),
		Sent:         inv.Sent,
		ReminderSent: inv.ReminderSent,
	}
	if !inv.PeriodStart.IsZero() {
		dto.PeriodStart = inv.PeriodStart.Format(dateLayout)
	}
	if !inv.PeriodEnd.IsZero() {
		dto.PeriodEnd = inv.PeriodEnd.Format(dateLayout)
	}
	return dto
}

func toPaymentDTO(p *invoicing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:        string(p.ID),
		InvoiceID: string(p.InvoiceID),
		Date:      p.Date.Format(time.RFC3339),
		Amount:    p.Amount.Value.StringFixed(2),
		Method:    string(p.Method),
		Reference: p.Reference,
		Status:    string(p.Status),
		Comment:   p.Comment,
	}
}

func toCostEntryDTO(e *costflow.CostEntry) CostEntryDTO {
	return CostEntryDTO{
		ID:       string(e.ID),
		CaseID:   string(e.CaseID),
		Phase:    string(e.Phase),
		Category: e.Category,
		Quantity: e.Quantity,
		UnitRate: e.UnitRate.Value.StringFixed(2),
		Amount:   e.Amount.Value.StringFixed(2),
		Status:   string(e.Status),
		Date:     e.Date.Format(time.RFC3339),
		Comment:  e.Comment,
	}
}

func toOutcomeDTO(out *billing.Outcome) *OutcomeDTO {
	if out == nil || len(out.Degraded) == 0 {
		return nil
	}
	return &OutcomeDTO{Degraded: out.DegradedNames()}
}
