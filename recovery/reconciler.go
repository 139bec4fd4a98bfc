/*
PURPOSE:
  Reconciler: write paths over the financial aggregate. Claim and recovered
  updates are mutually exclusive per call, go through Recompute, and are
  persisted with optimistic concurrency (compare-and-swap on the version
  column, bounded retry on conflict). Phase recovery postings additionally
  append to the recovery history.

SIDE EFFECTS:
  Audit before/after snapshots and notifications are best-effort: never in
  the write path's transaction, never fatal, always reported in the Outcome.
*/
package recovery

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

type CaseStore interface {
	CreateCaseFinancials(ctx context.Context, f CaseFinancials) error
	GetCaseFinancials(ctx context.Context, id billing.CaseID) (*CaseFinancials, error)
	// UpdateCaseFinancials persists f only if the stored version equals
	// expectedVersion, bumping the version on success. A mismatch returns
	// billing.ErrConcurrentModification.
	UpdateCaseFinancials(ctx context.Context, f CaseFinancials, expectedVersion int64) error
}

type HistoryStore interface {
	AppendRecovery(ctx context.Context, e HistoryEntry) error
	ListRecoveries(ctx context.Context, caseID billing.CaseID) ([]HistoryEntry, error)
}

// =============================================================================
// RECONCILER
// =============================================================================

const defaultMaxRetries = 3

type Reconciler struct {
	Cases   CaseStore
	History HistoryStore
	Audit   billing.AuditLog
	Note    billing.Notifier
	Log     zerolog.Logger
	// MaxRetries bounds compare-and-swap retries on version conflicts.
	MaxRetries int
}

func NewReconciler(cases CaseStore, history HistoryStore, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		Cases:      cases,
		History:    history,
		Audit:      billing.NopAuditLog{},
		Note:       billing.NopNotifier{},
		Log:        log.With().Str("component", "reconciler").Logger(),
		MaxRetries: defaultMaxRetries,
	}
}

// Open registers the financial aggregate for a new case.
func (r *Reconciler) Open(ctx context.Context, caseID billing.CaseID, reference string, claimTotal billing.Amount) (*CaseFinancials, error) {
	if caseID == "" {
		return nil, billing.Invalidf("case id is required")
	}
	if claimTotal.IsNegative() {
		return nil, billing.Invalidf("claim total must not be negative")
	}

	_, remaining, state := Recompute(claimTotal, billing.Zero())
	f := CaseFinancials{
		CaseID:     caseID,
		Reference:  reference,
		ClaimTotal: claimTotal.Round2(),
		Recovered:  billing.Zero(),
		Remaining:  remaining,
		State:      state,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.Cases.CreateCaseFinancials(ctx, f); err != nil {
		return nil, fmt.Errorf("creating case financials: %w", err)
	}
	r.Log.Info().Str("case", string(caseID)).Str("claim", f.ClaimTotal.String()).Msg("case opened")
	return &f, nil
}

func (r *Reconciler) Get(ctx context.Context, caseID billing.CaseID) (*CaseFinancials, error) {
	return r.Cases.GetCaseFinancials(ctx, caseID)
}

func (r *Reconciler) HistoryFor(ctx context.Context, caseID billing.CaseID) ([]HistoryEntry, error) {
	if _, err := r.Cases.GetCaseFinancials(ctx, caseID); err != nil {
		return nil, err
	}
	return r.History.ListRecoveries(ctx, caseID)
}

// =============================================================================
// AMOUNT UPDATES
// =============================================================================

type UpdateMode string

const (
	ModeAdd     UpdateMode = "ADD"     // delta added to the current recovered total
	ModeReplace UpdateMode = "REPLACE" // value replaces the current recovered total
)

// UpdateInput carries exactly one of NewClaimTotal or RecoveredAmount.
type UpdateInput struct {
	NewClaimTotal   *billing.Amount
	RecoveredAmount *billing.Amount
	Mode            UpdateMode
	UserID          string
	Comment         string
}

// UpdateAmounts adjusts either the claim total or the recovered amount of a
// case, recomputing remaining and state, under optimistic concurrency.
func (r *Reconciler) UpdateAmounts(ctx context.Context, caseID billing.CaseID, in UpdateInput) (*CaseFinancials, *billing.Outcome, error) {
	out := &billing.Outcome{}

	if (in.NewClaimTotal == nil) == (in.RecoveredAmount == nil) {
		return nil, out, billing.Invalidf("exactly one of claim total or recovered amount must be supplied")
	}
	if in.NewClaimTotal != nil && in.NewClaimTotal.IsNegative() {
		return nil, out, billing.Invalidf("claim total must not be negative")
	}
	if in.RecoveredAmount != nil {
		if in.RecoveredAmount.IsNegative() {
			return nil, out, billing.Invalidf("recovered amount must not be negative")
		}
		if in.Mode != ModeAdd && in.Mode != ModeReplace {
			return nil, out, billing.Invalidf("mode must be ADD or REPLACE")
		}
	}

	f, before, err := r.mutate(ctx, caseID, func(f *CaseFinancials) error {
		claim := f.ClaimTotal
		recovered := f.Recovered
		if in.NewClaimTotal != nil {
			claim = in.NewClaimTotal.Round2()
		} else if in.Mode == ModeAdd {
			recovered = recovered.Add(*in.RecoveredAmount)
		} else {
			recovered = *in.RecoveredAmount
		}
		f.ClaimTotal = claim
		f.Recovered, f.Remaining, f.State = Recompute(claim, recovered)
		return nil
	})
	if err != nil {
		return nil, out, err
	}

	r.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:      caseID,
		UserID:      in.UserID,
		ChangeType:  billing.AuditAmountUpdated,
		Before:      before,
		After:       snapshot(f),
		Description: in.Comment,
	})
	return f, out, nil
}

// =============================================================================
// PHASE RECOVERY POSTINGS
// =============================================================================

type PostingInput struct {
	Phase    RecoveryPhase
	Amount   billing.Amount
	Mode     UpdateMode
	Kind     EntryKind
	ActionID string
	UserID   string
	Comment  string
}

// Post records money recovered during a phase: it moves the per-phase and
// global recovered totals, recomputes the balance and appends a history
// entry. Interest postings only affect commission reporting, never the
// principal balance.
func (r *Reconciler) Post(ctx context.Context, caseID billing.CaseID, in PostingInput) (*CaseFinancials, *billing.Outcome, error) {
	out := &billing.Outcome{}

	if in.Phase != RecoveryAmiable && in.Phase != RecoveryJuridique {
		return nil, out, billing.Invalidf("unknown recovery phase %q", in.Phase)
	}
	if in.Amount.IsNegative() {
		return nil, out, billing.Invalidf("recovered amount must not be negative")
	}
	if in.Mode == "" {
		in.Mode = ModeAdd
	}
	if in.Mode != ModeAdd && in.Mode != ModeReplace {
		return nil, out, billing.Invalidf("mode must be ADD or REPLACE")
	}
	if in.Kind == "" {
		in.Kind = KindManualAdjustment
	}

	var delta billing.Amount
	f, before, err := r.mutate(ctx, caseID, func(f *CaseFinancials) error {
		phaseTotal := f.RecoveredAmiable
		if in.Phase == RecoveryJuridique {
			phaseTotal = f.RecoveredJuridique
		}
		newPhaseTotal := phaseTotal.Add(in.Amount)
		if in.Mode == ModeReplace {
			newPhaseTotal = in.Amount
		}
		delta = newPhaseTotal.Sub(phaseTotal)

		if in.Phase == RecoveryAmiable {
			f.RecoveredAmiable = newPhaseTotal
		} else {
			f.RecoveredJuridique = newPhaseTotal
		}
		recovered := f.RecoveredAmiable.Add(f.RecoveredJuridique)
		f.Recovered, f.Remaining, f.State = Recompute(f.ClaimTotal, recovered)
		return nil
	})
	if err != nil {
		return nil, out, err
	}

	entry := HistoryEntry{
		ID:           uuid.NewString(),
		CaseID:       caseID,
		Phase:        in.Phase,
		Kind:         in.Kind,
		Delta:        delta.Round2(),
		RunningTotal: f.Recovered,
		Remaining:    f.Remaining,
		ActionID:     in.ActionID,
		UserID:       in.UserID,
		Comment:      in.Comment,
		At:           time.Now().UTC(),
	}
	if err := r.History.AppendRecovery(ctx, entry); err != nil {
		return nil, out, fmt.Errorf("appending recovery history: %w", err)
	}

	r.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:      caseID,
		UserID:      in.UserID,
		ChangeType:  billing.AuditAmountUpdated,
		Before:      before,
		After:       snapshot(f),
		Description: fmt.Sprintf("recouvrement %s (%s)", in.Phase, in.Kind),
	})
	r.notify(ctx, out, billing.Notification{
		Event:           billing.NotifyRecoveryRecorded,
		Title:           "Recouvrement enregistré",
		Message:         fmt.Sprintf("Montant %s recouvré en phase %s", entry.Delta.String(), in.Phase),
		RelatedEntityID: string(caseID),
		EntityType:      "DOSSIER",
	})
	return f, out, nil
}

// PostInterest records recovered late-payment interest. Interest sits beside
// the principal: it feeds the 50% commission line on the invoice detail but
// does not reduce the claim balance.
func (r *Reconciler) PostInterest(ctx context.Context, caseID billing.CaseID, amount billing.Amount, userID string) (*CaseFinancials, *billing.Outcome, error) {
	out := &billing.Outcome{}
	if amount.IsNegative() {
		return nil, out, billing.Invalidf("interest amount must not be negative")
	}

	f, before, err := r.mutate(ctx, caseID, func(f *CaseFinancials) error {
		f.RecoveredInterest = f.RecoveredInterest.Add(amount).Round2()
		return nil
	})
	if err != nil {
		return nil, out, err
	}

	r.recordAudit(ctx, out, billing.AuditEntry{
		CaseID:      caseID,
		UserID:      userID,
		ChangeType:  billing.AuditAmountUpdated,
		Before:      before,
		After:       snapshot(f),
		Description: "intérêts de retard recouvrés",
	})
	return f, out, nil
}

// =============================================================================
// OPTIMISTIC WRITE LOOP
// =============================================================================

// mutate loads the aggregate, applies fn and writes it back with a
// compare-and-swap, retrying on version conflicts. Returns the persisted
// aggregate and a snapshot taken before the first successful apply.
func (r *Reconciler) mutate(ctx context.Context, caseID billing.CaseID, fn func(*CaseFinancials) error) (*CaseFinancials, map[string]string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries(); attempt++ {
		f, err := r.Cases.GetCaseFinancials(ctx, caseID)
		if err != nil {
			return nil, nil, err
		}
		before := snapshot(f)
		expected := f.Version

		if err := fn(f); err != nil {
			return nil, nil, err
		}
		f.UpdatedAt = time.Now().UTC()

		err = r.Cases.UpdateCaseFinancials(ctx, *f, expected)
		if err == nil {
			f.Version = expected + 1
			return f, before, nil
		}
		if !billing.IsRetryable(err) {
			return nil, nil, err
		}
		lastErr = err
		r.Log.Debug().
			Str("case", string(caseID)).
			Int("attempt", attempt+1).
			Msg("version conflict, retrying")
	}
	return nil, nil, fmt.Errorf("updating case %s: %w", caseID, lastErr)
}

func (r *Reconciler) maxRetries() int {
	if r.MaxRetries > 0 {
		return r.MaxRetries
	}
	return defaultMaxRetries
}

func (r *Reconciler) recordAudit(ctx context.Context, out *billing.Outcome, entry billing.AuditEntry) {
	entry.At = time.Now().UTC()
	if err := r.Audit.Record(ctx, entry); err != nil {
		r.Log.Warn().Err(err).Str("case", string(entry.CaseID)).Msg("audit record failed")
		out.AddDegraded("audit", err)
	}
}

func (r *Reconciler) notify(ctx context.Context, out *billing.Outcome, n billing.Notification) {
	if err := r.Note.Notify(ctx, n); err != nil {
		r.Log.Warn().Err(err).Str("event", string(n.Event)).Msg("notification failed")
		out.AddDegraded("notification", err)
	}
}

func snapshot(f *CaseFinancials) map[string]string {
	return map[string]string{
		"claim_total": f.ClaimTotal.String(),
		"recovered":   f.Recovered.String(),
		"remaining":   f.Remaining.String(),
		"state":       string(f.State),
	}
}
