/*
Package invoicing turns validated tariff items into numbered invoices and
reconciles incoming payments against them.

PURPOSE:
  - invoice.go: gated generation, sequential numbering, VAT, lifecycle
    (BROUILLON → EMISE → PAYEE), balance and detail reporting
  - payment.go: payment intake and validation with best-effort invoice
    reconciliation

NUMBERING:
  FACT-<year>-<seq>, seq zero-padded to four digits and allocated from an
  atomic per-year counter. Numbers are never reused, even across concurrent
  generations.
*/
package invoicing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/carthago/recovery-engine/billing"
)

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "BROUILLON"
	InvoiceIssued InvoiceStatus = "EMISE"
	InvoicePaid   InvoiceStatus = "PAYEE"
)

// DefaultVATRate is the VAT percentage applied when no rate is configured.
var DefaultVATRate = decimal.NewFromInt(19)

// PaymentTermDays sets the due date relative to issue.
const PaymentTermDays = 30

type Invoice struct {
	ID           billing.InvoiceID
	Number       string
	CaseID       billing.CaseID
	PeriodStart  time.Time
	PeriodEnd    time.Time
	IssueDate    time.Time
	DueDate      time.Time
	AmountExcl   billing.Amount  // sum of invoiced line items, VAT excluded
	VATRate      decimal.Decimal // percentage
	AmountIncl   billing.Amount
	Status       InvoiceStatus
	Sent         bool
	ReminderSent bool
}

// Overdue reports whether an issued, unpaid invoice is past its due date.
func (inv Invoice) Overdue(now time.Time) bool {
	return inv.Status == InvoiceIssued && now.After(inv.DueDate)
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "EN_ATTENTE"
	PaymentValidated PaymentStatus = "VALIDE"
	PaymentRejected  PaymentStatus = "REFUSE"
)

type PaymentMethod string

const (
	MethodTransfer PaymentMethod = "VIREMENT"
	MethodCheque   PaymentMethod = "CHEQUE"
	MethodCash     PaymentMethod = "ESPECES"
	MethodDraft    PaymentMethod = "TRAITE"
	MethodCard     PaymentMethod = "CARTE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodTransfer, MethodCheque, MethodCash, MethodDraft, MethodCard:
		return true
	}
	return false
}

type Payment struct {
	ID        billing.PaymentID
	InvoiceID billing.InvoiceID
	Date      time.Time
	Amount    billing.Amount
	Method    PaymentMethod
	Reference string
	Status    PaymentStatus
	Comment   string
	CreatedAt time.Time
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance summarizes how much of an invoice is still owed.
type Balance struct {
	InvoiceID   billing.InvoiceID
	AmountIncl  billing.Amount
	PaidToDate  billing.Amount // validated payments only
	Outstanding billing.Amount
	FullyPaid   bool
}
