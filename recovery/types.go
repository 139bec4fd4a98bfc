/*
Package recovery maintains the financial aggregate of a case: claim total,
recovered amounts (global and per phase), remaining balance and the derived
financial state, plus the append-only recovery history.

PURPOSE:
  All balance math lives in one pure function (Recompute) so that every
  write path — claim adjustments, recovery postings, manual corrections —
  derives remaining and state the same way.

INVARIANTS:
  - remaining = max(claim − recovered, 0)
  - recovered is clamped to claim; over-recovery never goes negative
  - state: NOT_RECOVERED (recovered = 0), RECOVERED_PARTIAL (0 < recovered
    < claim), RECOVERED_TOTAL (recovered ≥ claim)

SEE ALSO:
  - reconciler.go: optimistic-concurrency write paths and history recording
*/
package recovery

import (
	"time"

	"github.com/carthago/recovery-engine/billing"
)

// =============================================================================
// FINANCIAL STATE
// =============================================================================

type FinancialState string

const (
	NotRecovered     FinancialState = "NOT_RECOVERED"
	RecoveredPartial FinancialState = "RECOVERED_PARTIAL"
	RecoveredTotal   FinancialState = "RECOVERED_TOTAL"
)

// CaseFinancials is the per-case financial aggregate. Version backs
// optimistic concurrency control on updates.
type CaseFinancials struct {
	CaseID             billing.CaseID
	Reference          string
	ClaimTotal         billing.Amount
	Recovered          billing.Amount
	Remaining          billing.Amount
	RecoveredAmiable   billing.Amount
	RecoveredJuridique billing.Amount
	RecoveredInterest  billing.Amount
	State              FinancialState
	Version            int64
	UpdatedAt          time.Time
}

// Recompute derives the clamped recovered amount, the remaining balance and
// the financial state from a claim total and a raw recovered amount. Pure.
func Recompute(claim, recovered billing.Amount) (clamped, remaining billing.Amount, state FinancialState) {
	clamped = recovered
	if clamped.IsNegative() {
		clamped = billing.Zero()
	}
	if clamped.GreaterThan(claim) {
		clamped = claim
	}
	remaining = claim.Sub(clamped)
	if remaining.IsNegative() {
		remaining = billing.Zero()
	}

	switch {
	case clamped.IsZero():
		state = NotRecovered
	case clamped.GreaterThanOrEqual(claim) && claim.IsPositive():
		state = RecoveredTotal
	default:
		state = RecoveredPartial
	}
	return clamped, remaining, state
}

// =============================================================================
// RECOVERY HISTORY
// =============================================================================

// RecoveryPhase restricts postings to the two phases where money actually
// comes back.
type RecoveryPhase string

const (
	RecoveryAmiable   RecoveryPhase = "AMIABLE"
	RecoveryJuridique RecoveryPhase = "JURIDIQUE"
)

// EntryKind identifies what produced a history entry.
type EntryKind string

const (
	KindAmiableAction       EntryKind = "ACTION_AMIABLE"
	KindBailiffAction       EntryKind = "ACTION_HUISSIER"
	KindAmiableSettlement   EntryKind = "FINALISATION_AMIABLE"
	KindJuridiqueSettlement EntryKind = "FINALISATION_JURIDIQUE"
	KindManualAdjustment    EntryKind = "AJUSTEMENT_MANUEL"
)

type HistoryEntry struct {
	ID           string
	CaseID       billing.CaseID
	Phase        RecoveryPhase
	Kind         EntryKind
	Delta        billing.Amount // amount posted by this entry
	RunningTotal billing.Amount // total recovered after this entry
	Remaining    billing.Amount
	ActionID     string
	UserID       string
	Comment      string
	At           time.Time
}
