/*
audit.go - Collaborator interfaces and best-effort outcome reporting

PURPOSE:
  The engine emits audit records and user notifications as side effects of
  financial mutations. Both collaborators are fire-and-forget: their failure
  must never fail, roll back, or otherwise alter the primary operation.

OUTCOME REPORTING:
  Instead of swallowing side-effect failures into a log line, mutating
  operations return an Outcome listing every degraded side effect. Tests can
  then assert both "the amount update succeeded" and "the audit write
  degraded" without inspecting log output.

SEE ALSO:
  - recovery/reconciler.go: emits before/after audit records per amount change
  - invoicing/payment.go: reconciliation degradation on payment validation
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - who did what, with before/after snapshots
// =============================================================================

type AuditChangeType string

const (
	AuditAmountUpdated     AuditChangeType = "amount_updated"
	AuditLineItemCreated   AuditChangeType = "line_item_created"
	AuditLineItemValidated AuditChangeType = "line_item_validated"
	AuditLineItemRejected  AuditChangeType = "line_item_rejected"
	AuditInvoiceGenerated  AuditChangeType = "invoice_generated"
	AuditPaymentValidated  AuditChangeType = "payment_validated"
)

// AuditEntry records a financial mutation with its before/after state.
type AuditEntry struct {
	CaseID      CaseID
	UserID      string
	ChangeType  AuditChangeType
	Before      map[string]string
	After       map[string]string
	Description string
	At          time.Time
}

// AuditLog records entries best-effort. Errors are reported through the
// operation Outcome, never propagated.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// NOTIFIER - user-facing event notifications
// =============================================================================

type NotificationEvent string

const (
	NotifyRecoveryRecorded NotificationEvent = "recovery_recorded"
	NotifyTariffPending    NotificationEvent = "tariff_pending_validation"
	NotifyInvoiceGenerated NotificationEvent = "invoice_generated"
	NotifyInvoicePaid      NotificationEvent = "invoice_paid"
)

type Notification struct {
	UserID          string
	Event           NotificationEvent
	Title           string
	Message         string
	RelatedEntityID string
	EntityType      string
	Link            string
}

// Notifier delivers notifications best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// OUTCOME - primary success plus degraded side effects
// =============================================================================

// SideEffect names a best-effort side effect that failed.
type SideEffect struct {
	Name string // "audit", "notification", "invoice_reconciliation", "statistics"
	Err  error
}

// Outcome reports the non-fatal degradations of an otherwise successful
// operation. A nil or empty Outcome means every side effect succeeded.
type Outcome struct {
	Degraded []SideEffect
}

func (o *Outcome) AddDegraded(name string, err error) {
	if err == nil {
		return
	}
	o.Degraded = append(o.Degraded, SideEffect{Name: name, Err: err})
}

// DegradedNames returns the names of failed side effects, for assertions.
func (o *Outcome) DegradedNames() []string {
	names := make([]string, 0, len(o.Degraded))
	for _, d := range o.Degraded {
		names = append(names, d.Name)
	}
	return names
}

// =============================================================================
// NOP IMPLEMENTATIONS - for wiring without collaborators
// =============================================================================

type NopAuditLog struct{}

func (NopAuditLog) Record(context.Context, AuditEntry) error { return nil }

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
