/*
PURPOSE:
  Payment intake and validation. Payments arrive EN_ATTENTE against an
  invoice and are later validated or refused. Validating a payment triggers
  invoice reconciliation: when validated payments cover the VAT-inclusive
  total, the invoice flips to PAYEE and its line items advance to PAID.

  Reconciliation is a best-effort side effect of validation: a payment is
  never un-validated because the invoice write failed. The failure is
  reported in the Outcome and the invoice catches up on the next validation
  or a manual re-run.
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carthago/recovery-engine/billing"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id billing.PaymentID) (*Payment, error)
	ListPaymentsByInvoice(ctx context.Context, invoiceID billing.InvoiceID) ([]Payment, error)
	ListPaymentsByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error)
}

// =============================================================================
// LEDGER
// =============================================================================

type PaymentLedger struct {
	Payments PaymentStore
	Invoices InvoiceStore
	Tariffs  TariffSource
	Audit    billing.AuditLog
	Note     billing.Notifier
	Log      zerolog.Logger
}

func NewPaymentLedger(payments PaymentStore, invoices InvoiceStore, tariffs TariffSource, log zerolog.Logger) *PaymentLedger {
	return &PaymentLedger{
		Payments: payments,
		Invoices: invoices,
		Tariffs:  tariffs,
		Audit:    billing.NopAuditLog{},
		Note:     billing.NopNotifier{},
		Log:      log.With().Str("component", "payments").Logger(),
	}
}

type RecordPaymentInput struct {
	InvoiceID billing.InvoiceID
	Date      time.Time
	Amount    billing.Amount
	Method    PaymentMethod
	Reference string
	Comment   string
}

// Record registers an incoming payment in EN_ATTENTE.
func (pl *PaymentLedger) Record(ctx context.Context, in RecordPaymentInput) (*Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, billing.Invalidf("payment amount must be positive")
	}
	if !in.Method.Valid() {
		return nil, billing.Invalidf("unknown payment method %q", in.Method)
	}
	if _, err := pl.Invoices.GetInvoice(ctx, in.InvoiceID); err != nil {
		return nil, err
	}

	date := in.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	p := Payment{
		ID:        billing.PaymentID(uuid.NewString()),
		InvoiceID: in.InvoiceID,
		Date:      date,
		Amount:    in.Amount.Round2(),
		Method:    in.Method,
		Reference: in.Reference,
		Status:    PaymentPending,
		Comment:   in.Comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := pl.Payments.SavePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("saving payment: %w", err)
	}
	pl.Log.Info().
		Str("invoice", string(in.InvoiceID)).
		Str("amount", p.Amount.String()).
		Msg("payment recorded")
	return &p, nil
}

// Validate confirms a pending payment and reconciles its invoice.
func (pl *PaymentLedger) Validate(ctx context.Context, id billing.PaymentID, userID string) (*Payment, *billing.Outcome, error) {
	out := &billing.Outcome{}

	p, err := pl.Payments.GetPayment(ctx, id)
	if err != nil {
		return nil, out, err
	}
	if p.Status != PaymentPending {
		return nil, out, billing.Invalidf("payment %s is %s, only pending payments can be validated", id, p.Status)
	}
	p.Status = PaymentValidated
	if err := pl.Payments.SavePayment(ctx, *p); err != nil {
		return nil, out, fmt.Errorf("saving payment: %w", err)
	}

	pl.recordAudit(ctx, out, billing.AuditEntry{
		UserID:      userID,
		ChangeType:  billing.AuditPaymentValidated,
		After:       map[string]string{"payment": string(p.ID), "amount": p.Amount.String()},
		Description: fmt.Sprintf("paiement %s validé", p.Reference),
	})

	if err := pl.reconcileInvoice(ctx, out, p.InvoiceID); err != nil {
		pl.Log.Warn().Err(err).
			Str("invoice", string(p.InvoiceID)).
			Msg("invoice reconciliation failed after payment validation")
		out.AddDegraded("invoice_reconciliation", err)
	}
	return p, out, nil
}

// Reject refuses a pending payment, storing the motive as the comment.
func (pl *PaymentLedger) Reject(ctx context.Context, id billing.PaymentID, motive string) (*Payment, error) {
	p, err := pl.Payments.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentPending {
		return nil, billing.Invalidf("payment %s is %s, only pending payments can be rejected", id, p.Status)
	}
	p.Status = PaymentRejected
	p.Comment = motive
	if err := pl.Payments.SavePayment(ctx, *p); err != nil {
		return nil, fmt.Errorf("saving payment: %w", err)
	}
	return p, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// reconcileInvoice flips the invoice to PAYEE once validated payments reach
// the VAT-inclusive total, and advances the invoice's line items to PAID.
func (pl *PaymentLedger) reconcileInvoice(ctx context.Context, out *billing.Outcome, invoiceID billing.InvoiceID) error {
	inv, err := pl.Invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status == InvoicePaid {
		return nil
	}

	paid, err := validatedTotal(ctx, pl.Payments, invoiceID)
	if err != nil {
		return err
	}
	if !paid.GreaterThanOrEqual(inv.AmountIncl) {
		return nil
	}

	inv.Status = InvoicePaid
	if err := pl.Invoices.SaveInvoice(ctx, *inv); err != nil {
		return fmt.Errorf("saving invoice: %w", err)
	}
	if err := pl.Tariffs.MarkPaid(ctx, invoiceID); err != nil {
		return fmt.Errorf("marking line items paid: %w", err)
	}

	pl.notify(ctx, out, billing.Notification{
		Event:           billing.NotifyInvoicePaid,
		Title:           "Facture payée",
		Message:         fmt.Sprintf("Facture %s intégralement payée", inv.Number),
		RelatedEntityID: string(inv.ID),
		EntityType:      "FACTURE",
	})
	pl.Log.Info().Str("number", inv.Number).Msg("invoice fully paid")
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (pl *PaymentLedger) Get(ctx context.Context, id billing.PaymentID) (*Payment, error) {
	return pl.Payments.GetPayment(ctx, id)
}

func (pl *PaymentLedger) ListByInvoice(ctx context.Context, invoiceID billing.InvoiceID) ([]Payment, error) {
	return pl.Payments.ListPaymentsByInvoice(ctx, invoiceID)
}

func (pl *PaymentLedger) ListByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error) {
	return pl.Payments.ListPaymentsByStatus(ctx, status)
}

// TotalValidated sums validated payments for an invoice.
func (pl *PaymentLedger) TotalValidated(ctx context.Context, invoiceID billing.InvoiceID) (billing.Amount, error) {
	return validatedTotal(ctx, pl.Payments, invoiceID)
}

// TotalValidatedInPeriod sums validated payments dated within [from, to].
func (pl *PaymentLedger) TotalValidatedInPeriod(ctx context.Context, from, to time.Time) (billing.Amount, error) {
	payments, err := pl.Payments.ListPaymentsByStatus(ctx, PaymentValidated)
	if err != nil {
		return billing.Zero(), err
	}
	total := billing.Zero()
	for _, p := range payments {
		if p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total.Round2(), nil
}

func validatedTotal(ctx context.Context, store PaymentStore, invoiceID billing.InvoiceID) (billing.Amount, error) {
	payments, err := store.ListPaymentsByInvoice(ctx, invoiceID)
	if err != nil {
		return billing.Zero(), err
	}
	total := billing.Zero()
	for _, p := range payments {
		if p.Status == PaymentValidated {
			total = total.Add(p.Amount)
		}
	}
	return total.Round2(), nil
}

func (pl *PaymentLedger) recordAudit(ctx context.Context, out *billing.Outcome, entry billing.AuditEntry) {
	entry.At = time.Now().UTC()
	if err := pl.Audit.Record(ctx, entry); err != nil {
		pl.Log.Warn().Err(err).Msg("audit record failed")
		out.AddDegraded("audit", err)
	}
}

func (pl *PaymentLedger) notify(ctx context.Context, out *billing.Outcome, n billing.Notification) {
	if err := pl.Note.Notify(ctx, n); err != nil {
		pl.Log.Warn().Err(err).Str("event", string(n.Event)).Msg("notification failed")
		out.AddDegraded("notification", err)
	}
}
