/*
PURPOSE:
  CaseLedger: the per-case billable ledger. Creates line items (manual
  charges, event-driven charges, mandate fixed fees), runs the validation
  workflow and derives the case-wide validation state that gates invoice
  generation.

INVARIANTS:
  - Validation transitions only out of PENDING_VALIDATION; VALIDATED and
    REJECTED are terminal on the validation side.
  - A rejection always carries a comment.
  - Unique-per-case categories never hold more than one non-rejected item.
  - Auto fixed fees are idempotent: recording one twice returns the existing
    item instead of failing.
  - An item without a resolvable unit cost persists as incomplete and cannot
    be validated until a cost is supplied.

SIDE EFFECTS:
  Audit records and notifications are best-effort. Their failure never fails
  the primary write; it is reported in the returned Outcome and logged.
*/
package tariff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carthago/recovery-engine/billing"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type LineItemStore interface {
	SaveLineItem(ctx context.Context, li LineItem) error
	GetLineItem(ctx context.Context, id billing.LineItemID) (*LineItem, error)
	ListLineItems(ctx context.Context, caseID billing.CaseID) ([]LineItem, error)
	ListLineItemsByInvoice(ctx context.Context, invoiceID billing.InvoiceID) ([]LineItem, error)
}

// CaseDirectory answers case existence without pulling in the financial
// aggregate.
type CaseDirectory interface {
	CaseExists(ctx context.Context, id billing.CaseID) (bool, error)
}

// =============================================================================
// LEDGER
// =============================================================================

type CaseLedger struct {
	Items LineItemStore
	Cases CaseDirectory
	Rates *Catalog
	Audit billing.AuditLog
	Note  billing.Notifier
	Log   zerolog.Logger
}

func NewCaseLedger(items LineItemStore, cases CaseDirectory, rates *Catalog, log zerolog.Logger) *CaseLedger {
	return &CaseLedger{
		Items: items,
		Cases: cases,
		Rates: rates,
		Audit: billing.NopAuditLog{},
		Note:  billing.NopNotifier{},
		Log:   log.With().Str("component", "tariff-ledger").Logger(),
	}
}

type CreateLineItemInput struct {
	CaseID      billing.CaseID
	Phase       billing.Phase
	Category    string
	ElementType string
	Quantity    int
	// UnitCost overrides the catalog rate when set.
	UnitCost *billing.Amount
	Comment  string
	UserID   string
	Links    EventLinks
}

// CreateLineItem records a manual or event-driven charge in
// PENDING_VALIDATION. When no unit cost is supplied and no catalog rate
// covers today, the item is persisted without a cost.
func (l *CaseLedger) CreateLineItem(ctx context.Context, in CreateLineItemInput) (*LineItem, *billing.Outcome, error) {
	out := &billing.Outcome{}

	spec, ok := LookupCategory(in.Category)
	if !ok {
		return nil, out, billing.Invalidf("unknown category %q", in.Category)
	}
	if !in.Phase.Valid() {
		return nil, out, billing.Invalidf("unknown phase %q", in.Phase)
	}
	if in.Phase != spec.Phase {
		return nil, out, billing.Invalidf("category %s belongs to phase %s, not %s", in.Category, spec.Phase, in.Phase)
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return nil, out, billing.Invalidf("quantity must be positive")
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return nil, out, billing.Invalidf("unit cost must not be negative")
	}

	exists, err := l.Cases.CaseExists(ctx, in.CaseID)
	if err != nil {
		return nil, out, fmt.Errorf("checking case: %w", err)
	}
	if !exists {
		return nil, out, &billing.NotFoundError{Kind: "case", ID: string(in.CaseID)}
	}

	if spec.UniquePerCase {
		if existing, err := l.findActive(ctx, in.CaseID, in.Phase, in.Category); err != nil {
			return nil, out, err
		} else if existing != nil {
			return nil, out, &billing.DuplicateChargeError{
				CaseID: in.CaseID, Phase: in.Phase, Category: in.Category, Existing: existing.ID,
			}
		}
	}

	unitCost := in.UnitCost
	if unitCost == nil && spec.FixedFee != nil {
		unitCost = spec.FixedFee
	}
	if unitCost == nil {
		entry, err := l.Rates.ResolveRate(ctx, in.Phase, in.Category, time.Now().UTC())
		switch {
		case err == nil:
			rate := entry.UnitRate
			unitCost = &rate
		case billing.IsNotFound(err):
			// tolerated: item persists incomplete
		default:
			return nil, out, err
		}
	}

	item := LineItem{
		ID:          billing.LineItemID(uuid.NewString()),
		CaseID:      in.CaseID,
		Phase:       in.Phase,
		Category:    in.Category,
		ElementType: in.ElementType,
		UnitCost:    unitCost,
		Quantity:    in.Quantity,
		Status:      StatusPendingValidation,
		CreatedAt:   time.Now().UTC(),
		Comment:     in.Comment,
		Links:       in.Links,
	}
	if unitCost != nil {
		total := unitCost.MulInt(in.Quantity).Round2()
		item.Total = &total
	}

	if err := l.Items.SaveLineItem(ctx, item); err != nil {
		return nil, out, fmt.Errorf("saving line item: %w", err)
	}

	l.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:      in.CaseID,
		UserID:      in.UserID,
		ChangeType:  billing.AuditLineItemCreated,
		After:       itemSnapshot(&item),
		Description: fmt.Sprintf("tarif %s créé en phase %s", in.Category, in.Phase),
	})
	l.notify(ctx, out, billing.Notification{
		Event:           billing.NotifyTariffPending,
		Title:           "Tarif en attente de validation",
		Message:         fmt.Sprintf("Tarif %s en attente de validation", in.Category),
		RelatedEntityID: string(item.ID),
		EntityType:      "TARIF",
	})

	if item.Incomplete() {
		l.Log.Warn().
			Str("case", string(in.CaseID)).
			Str("category", in.Category).
			Msg("line item created without unit cost, no catalog rate matched")
	}
	return &item, out, nil
}

// RecordForAction books the charge generated by an operational event,
// resolving the billing category from the event kind.
func (l *CaseLedger) RecordForAction(ctx context.Context, caseID billing.CaseID, kind ActionKind, links EventLinks, userID string) (*LineItem, *billing.Outcome, error) {
	category, ok := CategoryForAction(kind)
	if !ok {
		return nil, &billing.Outcome{}, billing.Invalidf("no billing category for action kind %q", kind)
	}
	spec, _ := LookupCategory(category)
	return l.CreateLineItem(ctx, CreateLineItemInput{
		CaseID:   caseID,
		Phase:    spec.Phase,
		Category: category,
		UserID:   userID,
		Links:    links,
	})
}

// =============================================================================
// FIXED FEES
// =============================================================================

// RecordCaseOpening books the fixed case-opening fee. Idempotent.
func (l *CaseLedger) RecordCaseOpening(ctx context.Context, caseID billing.CaseID) (*LineItem, error) {
	return l.autoFixedFee(ctx, caseID, CategoryCaseOpening, EventLinks{})
}

// RecordInvestigationFee books the fixed pre-contentious investigation fee.
// Idempotent.
func (l *CaseLedger) RecordInvestigationFee(ctx context.Context, caseID billing.CaseID, investigationID string) (*LineItem, error) {
	return l.autoFixedFee(ctx, caseID, CategoryInvestigation, EventLinks{InvestigationID: investigationID})
}

// RecordJuridicalAdvance books the fixed advance when the case escalates to
// the juridical phase. Idempotent.
func (l *CaseLedger) RecordJuridicalAdvance(ctx context.Context, caseID billing.CaseID) (*LineItem, error) {
	return l.autoFixedFee(ctx, caseID, CategoryJuridicalAdvance, EventLinks{})
}

// RecordCarenceAttestation books the carence attestation fee. Unlike the
// other fixed fees it requires manual validation, and a second active
// attestation for the same case is a conflict rather than an idempotent
// return.
func (l *CaseLedger) RecordCarenceAttestation(ctx context.Context, caseID billing.CaseID, comment, userID string) (*LineItem, *billing.Outcome, error) {
	spec, _ := LookupCategory(CategoryCarenceAttestation)
	return l.CreateLineItem(ctx, CreateLineItemInput{
		CaseID:   caseID,
		Phase:    spec.Phase,
		Category: CategoryCarenceAttestation,
		UnitCost: spec.FixedFee,
		Comment:  comment,
		UserID:   userID,
	})
}

func (l *CaseLedger) autoFixedFee(ctx context.Context, caseID billing.CaseID, category string, links EventLinks) (*LineItem, error) {
	spec, ok := LookupCategory(category)
	if !ok || spec.FixedFee == nil {
		return nil, billing.Invalidf("category %q carries no fixed fee", category)
	}

	exists, err := l.Cases.CaseExists(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("checking case: %w", err)
	}
	if !exists {
		return nil, &billing.NotFoundError{Kind: "case", ID: string(caseID)}
	}

	if existing, err := l.findActive(ctx, caseID, spec.Phase, category); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	total := spec.FixedFee.Round2()
	item := LineItem{
		ID:          billing.LineItemID(uuid.NewString()),
		CaseID:      caseID,
		Phase:       spec.Phase,
		Category:    category,
		ElementType: spec.Label,
		UnitCost:    spec.FixedFee,
		Quantity:    1,
		Total:       &total,
		Status:      StatusValidated,
		CreatedAt:   now,
		ValidatedAt: &now,
		Comment:     "Frais fixe (mandat)",
		Links:       links,
	}
	if err := l.Items.SaveLineItem(ctx, item); err != nil {
		return nil, fmt.Errorf("saving fixed fee: %w", err)
	}

	l.Log.Info().
		Str("case", string(caseID)).
		Str("category", category).
		Str("amount", total.String()).
		Msg("fixed fee recorded")
	return &item, nil
}

// =============================================================================
// VALIDATION WORKFLOW
// =============================================================================

// Validate moves a pending item to VALIDATED. Incomplete items (no unit
// cost) must be completed first.
func (l *CaseLedger) Validate(ctx context.Context, id billing.LineItemID, comment, userID string) (*LineItem, *billing.Outcome, error) {
	out := &billing.Outcome{}

	item, err := l.Items.GetLineItem(ctx, id)
	if err != nil {
		return nil, out, err
	}
	if item.Status != StatusPendingValidation {
		return nil, out, billing.Invalidf("line item %s is %s, only pending items can be validated", id, item.Status)
	}
	if item.Incomplete() {
		return nil, out, billing.Invalidf("line item %s has no unit cost", id)
	}

	before := itemSnapshot(item)
	now := time.Now().UTC()
	item.Status = StatusValidated
	item.ValidatedAt = &now
	if comment != "" {
		item.Comment = comment
	}
	if err := l.Items.SaveLineItem(ctx, *item); err != nil {
		return nil, out, fmt.Errorf("saving line item: %w", err)
	}

	l.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:      item.CaseID,
		UserID:      userID,
		ChangeType:  billing.AuditLineItemValidated,
		Before:      before,
		After:       itemSnapshot(item),
		Description: fmt.Sprintf("tarif %s validé", item.Category),
	})
	return item, out, nil
}

// Reject moves a pending item to REJECTED. The comment is mandatory.
func (l *CaseLedger) Reject(ctx context.Context, id billing.LineItemID, comment, userID string) (*LineItem, *billing.Outcome, error) {
	out := &billing.Outcome{}

	if comment == "" {
		return nil, out, billing.Invalidf("rejection requires a comment")
	}
	item, err := l.Items.GetLineItem(ctx, id)
	if err != nil {
		return nil, out, err
	}
	if item.Status != StatusPendingValidation {
		return nil, out, billing.Invalidf("line item %s is %s, only pending items can be rejected", id, item.Status)
	}

	before := itemSnapshot(item)
	item.Status = StatusRejected
	item.Comment = comment
	if err := l.Items.SaveLineItem(ctx, *item); err != nil {
		return nil, out, fmt.Errorf("saving line item: %w", err)
	}

	l.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:      item.CaseID,
		UserID:      userID,
		ChangeType:  billing.AuditLineItemRejected,
		Before:      before,
		After:       itemSnapshot(item),
		Description: fmt.Sprintf("tarif %s rejeté: %s", item.Category, comment),
	})
	return item, out, nil
}

// SetUnitCost completes an incomplete pending item with a unit cost.
func (l *CaseLedger) SetUnitCost(ctx context.Context, id billing.LineItemID, cost billing.Amount) (*LineItem, error) {
	if cost.IsNegative() {
		return nil, billing.Invalidf("unit cost must not be negative")
	}
	item, err := l.Items.GetLineItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusPendingValidation {
		return nil, billing.Invalidf("line item %s is %s, cost can only change while pending", id, item.Status)
	}
	item.UnitCost = &cost
	total := cost.MulInt(item.Quantity).Round2()
	item.Total = &total
	if err := l.Items.SaveLineItem(ctx, *item); err != nil {
		return nil, fmt.Errorf("saving line item: %w", err)
	}
	return item, nil
}

// =============================================================================
// QUERIES AND VALIDATION STATE
// =============================================================================

func (l *CaseLedger) Get(ctx context.Context, id billing.LineItemID) (*LineItem, error) {
	return l.Items.GetLineItem(ctx, id)
}

func (l *CaseLedger) ListByCase(ctx context.Context, caseID billing.CaseID) ([]LineItem, error) {
	return l.Items.ListLineItems(ctx, caseID)
}

func (l *CaseLedger) ListByPhase(ctx context.Context, caseID billing.CaseID, phase billing.Phase) ([]LineItem, error) {
	items, err := l.Items.ListLineItems(ctx, caseID)
	if err != nil {
		return nil, err
	}
	var out []LineItem
	for _, li := range items {
		if li.Phase == phase {
			out = append(out, li)
		}
	}
	return out, nil
}

// ValidationState derives the per-phase and global validation progression
// for a case. A rejected item that has been superseded by a validated one
// does not hold the phase back; a phase whose only items are rejected does.
func (l *CaseLedger) ValidationState(ctx context.Context, caseID billing.CaseID) (*ValidationState, error) {
	exists, err := l.Cases.CaseExists(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("checking case: %w", err)
	}
	if !exists {
		return nil, &billing.NotFoundError{Kind: "case", ID: string(caseID)}
	}

	items, err := l.Items.ListLineItems(ctx, caseID)
	if err != nil {
		return nil, err
	}

	state := &ValidationState{
		CaseID: caseID,
		Phases: make(map[billing.Phase]PhaseState, 4),
	}
	for _, phase := range billing.Phases() {
		state.Phases[phase] = phaseStateOf(items, phase)
	}
	state.Global = globalStatus(state.Phases)
	state.CanGenerateInvoice = state.Global == GlobalAllValidated
	if state.Global == GlobalAllValidated {
		var invoiced, billable bool
		for _, li := range items {
			switch li.Status {
			case StatusInvoiced, StatusPaid:
				invoiced = true
			case StatusValidated:
				billable = true
			}
		}
		if invoiced {
			state.Global = GlobalInvoiceGenerated
			// A new invoice only makes sense for validated items that
			// are not yet on one.
			state.CanGenerateInvoice = billable
		}
	}
	return state, nil
}

func phaseStateOf(items []LineItem, phase billing.Phase) PhaseState {
	var ps PhaseState
	var pending int
	for _, li := range items {
		if li.Phase != phase {
			continue
		}
		ps.Total++
		switch {
		case li.Status.CountsAsValidated():
			ps.Validated++
		case li.Status == StatusPendingValidation:
			pending++
		}
	}
	switch {
	case ps.Total == 0:
		ps.Status = PhaseNoItems
	case pending > 0:
		ps.Status = PhasePending
	case ps.Validated > 0:
		ps.Status = PhaseValidated
	default:
		ps.Status = PhaseRejected
	}
	return ps
}

// globalStatus walks the phase progression. CREATION must hold a validated
// fee for anything to count; later phases advance the status when validated
// and the overall state is TOUS_TARIFS_VALIDES once no phase is pending or
// stuck on rejections.
func globalStatus(phases map[billing.Phase]PhaseState) GlobalStatus {
	ready := func(p billing.Phase) bool {
		s := phases[p].Status
		return s == PhaseValidated || s == PhaseNoItems
	}

	if phases[billing.PhaseCreation].Status != PhaseValidated {
		return GlobalInProgress
	}
	if !ready(billing.PhaseEnquete) {
		return GlobalCreationValidated
	}
	if !ready(billing.PhaseAmiable) {
		return GlobalEnqueteValidated
	}
	if !ready(billing.PhaseJuridique) {
		return GlobalAmiableValidated
	}
	return GlobalAllValidated
}

// =============================================================================
// BILLING-SIDE TRANSITIONS
// =============================================================================

// ValidatedItems returns the items awaiting invoicing (validated, not yet
// attached to an invoice).
func (l *CaseLedger) ValidatedItems(ctx context.Context, caseID billing.CaseID) ([]LineItem, error) {
	items, err := l.Items.ListLineItems(ctx, caseID)
	if err != nil {
		return nil, err
	}
	var out []LineItem
	for _, li := range items {
		if li.Status == StatusValidated {
			out = append(out, li)
		}
	}
	return out, nil
}

// MarkInvoiced stamps the invoice on each item and advances it to INVOICED.
func (l *CaseLedger) MarkInvoiced(ctx context.Context, ids []billing.LineItemID, invoiceID billing.InvoiceID) error {
	for _, id := range ids {
		item, err := l.Items.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if item.Status != StatusValidated {
			return billing.Invalidf("line item %s is %s, only validated items can be invoiced", id, item.Status)
		}
		item.Status = StatusInvoiced
		item.InvoiceID = invoiceID
		if err := l.Items.SaveLineItem(ctx, *item); err != nil {
			return fmt.Errorf("saving line item: %w", err)
		}
	}
	return nil
}

// MarkPaid advances every invoiced item of an invoice to PAID.
func (l *CaseLedger) MarkPaid(ctx context.Context, invoiceID billing.InvoiceID) error {
	items, err := l.Items.ListLineItemsByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	for _, li := range items {
		if li.Status != StatusInvoiced {
			continue
		}
		li.Status = StatusPaid
		if err := l.Items.SaveLineItem(ctx, li); err != nil {
			return fmt.Errorf("saving line item: %w", err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// findActive returns the first non-rejected item for (case, phase, category),
// or nil when none exists.
func (l *CaseLedger) findActive(ctx context.Context, caseID billing.CaseID, phase billing.Phase, category string) (*LineItem, error) {
	items, err := l.Items.ListLineItems(ctx, caseID)
	if err != nil {
		return nil, err
	}
	for _, li := range items {
		if li.Phase == phase && li.Category == category && li.Status != StatusRejected {
			item := li
			return &item, nil
		}
	}
	return nil, nil
}

func (l *CaseLedger) recordAudit(ctx context.Context, out *billing.Outcome, entry billing.AuditEntry) {
	entry.At = time.Now().UTC()
	if err := l.Audit.Record(ctx, entry); err != nil {
		l.Log.Warn().Err(err).Str("case", string(entry.CaseID)).Msg("audit record failed")
		out.AddDegraded("audit", err)
	}
}

func (l *CaseLedger) notify(ctx context.Context, out *billing.Outcome, n billing.Notification) {
	if err := l.Note.Notify(ctx, n); err != nil {
		l.Log.Warn().Err(err).Str("event", string(n.Event)).Msg("notification failed")
		out.AddDegraded("notification", err)
	}
}

func itemSnapshot(li *LineItem) map[string]string {
	snap := map[string]string{
		"status":   string(li.Status),
		"category": li.Category,
		"phase":    string(li.Phase),
	}
	if li.Total != nil {
		snap["total"] = li.Total.String()
	}
	return snap
}
