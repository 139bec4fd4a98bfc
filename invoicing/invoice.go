/*
PURPOSE:
  Invoice generation and lifecycle. Generation is gated on the case-wide
  tariff validation state: every phase must be validated (or empty) before a
  draft can be cut. The draft aggregates all validated, not-yet-invoiced
  items, applies VAT, allocates the next sequential number and stamps the
  invoice back onto each item.

LIFECYCLE:
  BROUILLON → EMISE (finalize) → PAYEE (set by payment reconciliation)
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// STORE AND COLLABORATOR INTERFACES
// =============================================================================

type InvoiceStore interface {
	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id billing.InvoiceID) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error)
	ListInvoicesByCase(ctx context.Context, caseID billing.CaseID) ([]Invoice, error)
	ListInvoicesByStatus(ctx context.Context, status InvoiceStatus) ([]Invoice, error)
}

// TariffSource is the slice of the tariff ledger invoicing depends on.
// *tariff.CaseLedger satisfies it.
type TariffSource interface {
	ValidationState(ctx context.Context, caseID billing.CaseID) (*tariff.ValidationState, error)
	ValidatedItems(ctx context.Context, caseID billing.CaseID) ([]tariff.LineItem, error)
	ListByCase(ctx context.Context, caseID billing.CaseID) ([]tariff.LineItem, error)
	MarkInvoiced(ctx context.Context, ids []billing.LineItemID, invoiceID billing.InvoiceID) error
	MarkPaid(ctx context.Context, invoiceID billing.InvoiceID) error
}

// FinancialsReader exposes the recovery aggregate for commission reporting.
// The recovery store satisfies it.
type FinancialsReader interface {
	GetCaseFinancials(ctx context.Context, id billing.CaseID) (*recovery.CaseFinancials, error)
}

// =============================================================================
// GENERATOR
// =============================================================================

// Commission percentages from the mandate.
var (
	CommissionAmiable   = decimal.NewFromInt(12)
	CommissionJuridique = decimal.NewFromInt(15)
	CommissionInterest  = decimal.NewFromInt(50)
)

type Generator struct {
	Invoices   InvoiceStore
	Sequences  SequenceStore
	Tariffs    TariffSource
	Financials FinancialsReader
	Audit      billing.AuditLog
	Note       billing.Notifier
	Log        zerolog.Logger
	VATRate    decimal.Decimal // percentage; DefaultVATRate when zero
}

func NewGenerator(invoices InvoiceStore, sequences SequenceStore, tariffs TariffSource, financials FinancialsReader, log zerolog.Logger) *Generator {
	return &Generator{
		Invoices:   invoices,
		Sequences:  sequences,
		Tariffs:    tariffs,
		Financials: financials,
		Audit:      billing.NopAuditLog{},
		Note:       billing.NopNotifier{},
		Log:        log.With().Str("component", "invoicing").Logger(),
		VATRate:    DefaultVATRate,
	}
}

func (g *Generator) vatRate() decimal.Decimal {
	if g.VATRate.IsZero() {
		return DefaultVATRate
	}
	return g.VATRate
}

// CanGenerate reports whether the case's tariff validation state allows
// cutting an invoice, along with the state itself for diagnostics.
func (g *Generator) CanGenerate(ctx context.Context, caseID billing.CaseID) (bool, *tariff.ValidationState, error) {
	state, err := g.Tariffs.ValidationState(ctx, caseID)
	if err != nil {
		return false, nil, err
	}
	return state.CanGenerateInvoice, state, nil
}

// Generate cuts a draft invoice over every validated, not-yet-invoiced line
// item of the case.
func (g *Generator) Generate(ctx context.Context, caseID billing.CaseID, periodStart, periodEnd time.Time, userID string) (*Invoice, *billing.Outcome, error) {
	out := &billing.Outcome{}

	ok, state, err := g.CanGenerate(ctx, caseID)
	if err != nil {
		return nil, out, err
	}
	if !ok {
		return nil, out, fmt.Errorf("cannot generate invoice: validation state is %s: %w", state.Global, billing.ErrConflict)
	}
	if !periodEnd.IsZero() && periodEnd.Before(periodStart) {
		return nil, out, billing.Invalidf("period end precedes period start")
	}

	items, err := g.Tariffs.ValidatedItems(ctx, caseID)
	if err != nil {
		return nil, out, err
	}
	if len(items) == 0 {
		return nil, out, fmt.Errorf("no validated line items to invoice for case %s: %w", caseID, billing.ErrConflict)
	}

	totalExcl := billing.Zero()
	ids := make([]billing.LineItemID, 0, len(items))
	for _, li := range items {
		if li.Total == nil {
			return nil, out, billing.Invalidf("line item %s has no amount", li.ID)
		}
		totalExcl = totalExcl.Add(*li.Total)
		ids = append(ids, li.ID)
	}
	totalExcl = totalExcl.Round2()

	now := time.Now().UTC()
	seq, err := g.Sequences.NextInvoiceSequence(ctx, now.Year())
	if err != nil {
		return nil, out, fmt.Errorf("allocating invoice number: %w", err)
	}

	rate := g.vatRate()
	vatFactor := decimal.NewFromInt(1).Add(rate.Div(decimal.NewFromInt(100)))
	inv := Invoice{
		ID:          billing.InvoiceID(uuid.NewString()),
		Number:      FormatNumber(now.Year(), seq),
		CaseID:      caseID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		IssueDate:   now,
		DueDate:     now.AddDate(0, 0, PaymentTermDays),
		AmountExcl:  totalExcl,
		VATRate:     rate,
		AmountIncl:  totalExcl.Mul(vatFactor).Round2(),
		Status:      InvoiceDraft,
	}
	if err := g.Invoices.SaveInvoice(ctx, inv); err != nil {
		return nil, out, fmt.Errorf("saving invoice: %w", err)
	}
	if err := g.Tariffs.MarkInvoiced(ctx, ids, inv.ID); err != nil {
		return nil, out, fmt.Errorf("marking items invoiced: %w", err)
	}

	g.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:     caseID,
		UserID:     userID,
		ChangeType: billing.AuditInvoiceGenerated,
		After: map[string]string{
			"number":     inv.Number,
			"amount_ht":  inv.AmountExcl.String(),
			"amount_ttc": inv.AmountIncl.String(),
			"line_items": fmt.Sprintf("%d", len(ids)),
		},
		Description: fmt.Sprintf("facture %s générée", inv.Number),
	})
	g.notify(ctx, out, billing.Notification{
		Event:           billing.NotifyInvoiceGenerated,
		Title:           "Facture générée",
		Message:         fmt.Sprintf("Facture %s (%s) générée", inv.Number, inv.AmountIncl.String()),
		RelatedEntityID: string(inv.ID),
		EntityType:      "FACTURE",
	})

	g.Log.Info().
		Str("case", string(caseID)).
		Str("number", inv.Number).
		Str("amount_ttc", inv.AmountIncl.String()).
		Msg("invoice generated")
	return &inv, out, nil
}

// Finalize issues a draft invoice.
func (g *Generator) Finalize(ctx context.Context, id billing.InvoiceID) (*Invoice, error) {
	inv, err := g.Invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceDraft {
		return nil, billing.Invalidf("invoice %s is %s, only drafts can be finalized", inv.Number, inv.Status)
	}
	inv.Status = InvoiceIssued
	if err := g.Invoices.SaveInvoice(ctx, *inv); err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}
	return inv, nil
}

// Send marks the invoice as sent to the client. Sending a draft issues it
// in the same step.
func (g *Generator) Send(ctx context.Context, id billing.InvoiceID) (*Invoice, error) {
	inv, err := g.Invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Sent = true
	if inv.Status == InvoiceDraft {
		inv.Status = InvoiceIssued
	}
	if err := g.Invoices.SaveInvoice(ctx, *inv); err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}
	return inv, nil
}

// Remind marks the invoice as reminded. It does not touch the status;
// callers that only want overdue invoices filter beforehand, the way
// the reminder sweep does.
func (g *Generator) Remind(ctx context.Context, id billing.InvoiceID) (*Invoice, error) {
	inv, err := g.Invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.ReminderSent = true
	if err := g.Invoices.SaveInvoice(ctx, *inv); err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}
	return inv, nil
}

// Overdue lists issued invoices past their due date.
func (g *Generator) Overdue(ctx context.Context) ([]Invoice, error) {
	issued, err := g.Invoices.ListInvoicesByStatus(ctx, InvoiceIssued)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []Invoice
	for _, inv := range issued {
		if inv.Overdue(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// =============================================================================
// DETAIL AND BALANCE
// =============================================================================

// PhaseLine is one phase's share of the invoice detail.
type PhaseLine struct {
	Phase billing.Phase
	Count int
	Total billing.Amount
}

// CommissionLine applies a mandate percentage to a recovered base.
type CommissionLine struct {
	Label  string
	Base   billing.Amount
	Rate   decimal.Decimal // percentage
	Amount billing.Amount
}

type Detail struct {
	CaseID      billing.CaseID
	Phases      []PhaseLine
	FeesTotal   billing.Amount
	Commissions []CommissionLine
	GrandTotal  billing.Amount // fees + commissions, VAT excluded
}

// Detail breaks a case's billable position down by phase and adds the
// mandate commission lines over the recovered amounts.
func (g *Generator) Detail(ctx context.Context, caseID billing.CaseID) (*Detail, error) {
	items, err := g.Tariffs.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	fin, err := g.Financials.GetCaseFinancials(ctx, caseID)
	if err != nil {
		return nil, err
	}

	d := &Detail{CaseID: caseID, FeesTotal: billing.Zero()}
	for _, phase := range billing.Phases() {
		line := PhaseLine{Phase: phase, Total: billing.Zero()}
		for _, li := range items {
			if li.Phase != phase || !li.Status.CountsAsValidated() || li.Total == nil {
				continue
			}
			line.Count++
			line.Total = line.Total.Add(*li.Total)
		}
		line.Total = line.Total.Round2()
		d.Phases = append(d.Phases, line)
		d.FeesTotal = d.FeesTotal.Add(line.Total)
	}
	d.FeesTotal = d.FeesTotal.Round2()

	d.Commissions = []CommissionLine{
		commission("Commission recouvrement amiable", fin.RecoveredAmiable, CommissionAmiable),
		commission("Commission recouvrement juridique", fin.RecoveredJuridique, CommissionJuridique),
		commission("Commission intérêts de retard", fin.RecoveredInterest, CommissionInterest),
	}
	d.GrandTotal = d.FeesTotal
	for _, c := range d.Commissions {
		d.GrandTotal = d.GrandTotal.Add(c.Amount)
	}
	d.GrandTotal = d.GrandTotal.Round2()
	return d, nil
}

func commission(label string, base billing.Amount, rate decimal.Decimal) CommissionLine {
	return CommissionLine{
		Label:  label,
		Base:   base,
		Rate:   rate,
		Amount: base.Mul(rate.Div(decimal.NewFromInt(100))).Round2(),
	}
}

// BalanceOf computes the outstanding balance of an invoice from its
// validated payments.
func (g *Generator) BalanceOf(ctx context.Context, id billing.InvoiceID, payments PaymentStore) (*Balance, error) {
	inv, err := g.Invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	paid, err := validatedTotal(ctx, payments, id)
	if err != nil {
		return nil, err
	}
	outstanding := inv.AmountIncl.Sub(paid)
	if outstanding.IsNegative() {
		outstanding = billing.Zero()
	}
	return &Balance{
		InvoiceID:   id,
		AmountIncl:  inv.AmountIncl,
		PaidToDate:  paid,
		Outstanding: outstanding,
		FullyPaid:   paid.GreaterThanOrEqual(inv.AmountIncl),
	}, nil
}

func (g *Generator) recordAudit(ctx context.Context, out *billing.Outcome, entry billing.AuditEntry) {
	entry.At = time.Now().UTC()
	if err := g.Audit.Record(ctx, entry); err != nil {
		g.Log.Warn().Err(err).Str("case", string(entry.CaseID)).Msg("audit record failed")
		out.AddDegraded("audit", err)
	}
}

func (g *Generator) notify(ctx context.Context, out *billing.Outcome, n billing.Notification) {
	if err := g.Note.Notify(ctx, n); err != nil {
		g.Log.Warn().Err(err).Str("event", string(n.Event)).Msg("notification failed")
		out.AddDegraded("notification", err)
	}
}
