/*
Package tariff implements the tariff catalog and the per-case billable
line-item ledger.

PURPOSE:
  Charges accumulate against a case as it moves through the four collection
  phases. Each charge (line item) is priced from a time-versioned catalog and
  carries its own validation state machine. Fixed fees defined by the mandate
  annex are created automatically and never disputed; everything else is
  created pending and validated or rejected by the financial lead.

KEY CONCEPTS IN THIS FILE (types.go):
  - CatalogEntry: a time-ranged unit rate keyed by (phase, category)
  - LineItem: a single billable charge attached to a case
  - ValidationState: per-phase and global readiness for invoicing

STATE MACHINE (validation):
  PENDING_VALIDATION → VALIDATED (terminal)
  PENDING_VALIDATION → REJECTED  (terminal)
  A corrected charge is created anew; rejected items are never resurrected.

BILLING CONTINUATION:
  Once validated, a line item later moves VALIDATED → INVOICED → PAID on the
  billing side. These are not validation transitions: the item's amount and
  validation are frozen, only its billing disposition advances.

SEE ALSO:
  - catalog.go: rate resolution and range-overlap prevention
  - ledger.go: line-item lifecycle and validation workflow
  - categories.go: data-driven category table and action-kind mapping
*/
package tariff

import (
	"time"

	"github.com/carthago/recovery-engine/billing"
)

// =============================================================================
// CATALOG ENTRY - Time-ranged unit rate
// =============================================================================

type CatalogEntry struct {
	ID          billing.CatalogEntryID
	Phase       billing.Phase
	Category    string
	Description string
	Supplier    string
	UnitRate    billing.Amount
	ValidFrom   time.Time
	ValidTo     *time.Time // nil = open-ended
	Active      bool
}

// Covers reports whether the entry's validity range contains the given date.
func (e CatalogEntry) Covers(on time.Time) bool {
	day := on.Truncate(24 * time.Hour)
	if day.Before(e.ValidFrom.Truncate(24 * time.Hour)) {
		return false
	}
	if e.ValidTo != nil && day.After(e.ValidTo.Truncate(24*time.Hour)) {
		return false
	}
	return true
}

// Overlaps reports whether two validity ranges share at least one day.
func (e CatalogEntry) Overlaps(other CatalogEntry) bool {
	if other.ValidTo != nil && e.ValidFrom.After(*other.ValidTo) {
		return false
	}
	if e.ValidTo != nil && other.ValidFrom.After(*e.ValidTo) {
		return false
	}
	return true
}

// =============================================================================
// LINE ITEM - A billable charge with its validation state
// =============================================================================

type LineItemStatus string

const (
	StatusPendingValidation LineItemStatus = "PENDING_VALIDATION"
	StatusValidated         LineItemStatus = "VALIDATED"
	StatusRejected          LineItemStatus = "REJECTED"
	StatusInvoiced          LineItemStatus = "INVOICED"
	StatusPaid              LineItemStatus = "PAID"
)

// CountsAsValidated reports whether the item has passed validation, whatever
// its billing disposition since.
func (s LineItemStatus) CountsAsValidated() bool {
	return s == StatusValidated || s == StatusInvoiced || s == StatusPaid
}

// EventLinks optionally ties a line item to the domain event that caused it.
type EventLinks struct {
	ActionID          string // amiable action
	BailiffActionID   string
	BailiffDocumentID string
	HearingID         string
	InvestigationID   string
}

type LineItem struct {
	ID          billing.LineItemID
	CaseID      billing.CaseID
	Phase       billing.Phase
	Category    string
	ElementType string
	UnitCost    *billing.Amount // nil while awaiting manual rate entry
	Quantity    int
	Total       *billing.Amount // UnitCost × Quantity; nil while incomplete
	Status      LineItemStatus
	CreatedAt   time.Time
	ValidatedAt *time.Time
	Comment     string
	InvoiceID   billing.InvoiceID // set when included in an invoice
	Links       EventLinks
}

// Incomplete reports whether the item was persisted without a unit cost
// (no catalog rate matched and no override was supplied).
func (li *LineItem) Incomplete() bool { return li.UnitCost == nil }

// =============================================================================
// VALIDATION STATE - per-phase and global readiness
// =============================================================================

type PhaseStatus string

const (
	PhaseNoItems   PhaseStatus = "NO_ITEMS"
	PhasePending   PhaseStatus = "PENDING"
	PhaseRejected  PhaseStatus = "REJECTED"
	PhaseValidated PhaseStatus = "VALIDATED"
)

type PhaseState struct {
	Status    PhaseStatus
	Total     int // all items recorded against the phase
	Validated int // items that passed validation
}

// GlobalStatus tracks the case-wide validation progression.
type GlobalStatus string

const (
	GlobalInProgress        GlobalStatus = "EN_COURS"
	GlobalCreationValidated GlobalStatus = "TARIFS_CREATION_VALIDES"
	GlobalEnqueteValidated  GlobalStatus = "TARIFS_ENQUETE_VALIDES"
	GlobalAmiableValidated  GlobalStatus = "TARIFS_AMIABLE_VALIDES"
	GlobalAllValidated      GlobalStatus = "TOUS_TARIFS_VALIDES"
	GlobalInvoiceGenerated  GlobalStatus = "FACTURE_GENEREE"
)

type ValidationState struct {
	CaseID             billing.CaseID
	Phases             map[billing.Phase]PhaseState
	Global             GlobalStatus
	CanGenerateInvoice bool
}
