/*
Package costflow keeps the legacy flat cost ledger: a simple per-case list
of dated cost entries used for operational reporting. It runs beside the
tariff ledger and is not authoritative for invoicing.

PURPOSE:
  Operational tools push raw cost events here (bailiff interventions,
  lawyer fees, travel) without going through validation gating. Rates fall
  back to the tariff catalog; a missing rate books a zero amount rather
  than failing the caller.
*/
package costflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// TYPES
// =============================================================================

type EntryStatus string

const (
	EntryPending   EntryStatus = "EN_ATTENTE"
	EntryApproved  EntryStatus = "VALIDE"
	EntryDismissed EntryStatus = "REJETE"
)

// EntryLinks ties a cost entry to the operational record that produced it.
type EntryLinks struct {
	ActionID        string
	InvestigationID string
	HearingID       string
	LawyerID        string
	BailiffID       string
}

type CostEntry struct {
	ID               billing.CostEntryID
	CaseID           billing.CaseID
	Phase            billing.Phase
	Category         string
	Quantity         int
	UnitRate         billing.Amount
	Amount           billing.Amount
	Status           EntryStatus
	Date             time.Time
	JustificationURL string
	Comment          string
	Links            EntryLinks
}

// =============================================================================
// COLLABORATOR AND STORE INTERFACES
// =============================================================================

// RateResolver supplies the unit rate for a (phase, category) on a date.
// *tariff.Catalog satisfies it.
type RateResolver interface {
	ResolveRate(ctx context.Context, phase billing.Phase, category string, on time.Time) (*tariff.CatalogEntry, error)
}

type EntryStore interface {
	SaveCostEntry(ctx context.Context, e CostEntry) error
	GetCostEntry(ctx context.Context, id billing.CostEntryID) (*CostEntry, error)
	ListCostEntries(ctx context.Context, caseID billing.CaseID) ([]CostEntry, error)
}

// =============================================================================
// RECORDER
// =============================================================================

type Recorder struct {
	Entries EntryStore
	Rates   RateResolver
	Cases   tariff.CaseDirectory
	Log     zerolog.Logger
}

func NewRecorder(entries EntryStore, rates RateResolver, cases tariff.CaseDirectory, log zerolog.Logger) *Recorder {
	return &Recorder{
		Entries: entries,
		Rates:   rates,
		Cases:   cases,
		Log:     log.With().Str("component", "costflow").Logger(),
	}
}

type RecordInput struct {
	CaseID           billing.CaseID
	Phase            billing.Phase
	Category         string
	Quantity         int
	UnitRate         *billing.Amount // overrides catalog resolution
	Date             time.Time
	JustificationURL string
	Comment          string
	Links            EntryLinks
}

// Record books a cost entry. A missing catalog rate books zero and logs.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*CostEntry, error) {
	if !in.Phase.Valid() {
		return nil, billing.Invalidf("unknown phase %q", in.Phase)
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return nil, billing.Invalidf("quantity must be positive")
	}
	if in.UnitRate != nil && in.UnitRate.IsNegative() {
		return nil, billing.Invalidf("unit rate must not be negative")
	}

	exists, err := r.Cases.CaseExists(ctx, in.CaseID)
	if err != nil {
		return nil, fmt.Errorf("checking case: %w", err)
	}
	if !exists {
		return nil, &billing.NotFoundError{Kind: "case", ID: string(in.CaseID)}
	}

	date := in.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	rate := billing.Zero()
	switch {
	case in.UnitRate != nil:
		rate = *in.UnitRate
	default:
		entry, err := r.Rates.ResolveRate(ctx, in.Phase, in.Category, date)
		switch {
		case err == nil:
			rate = entry.UnitRate
		case billing.IsNotFound(err):
			r.Log.Warn().
				Str("case", string(in.CaseID)).
				Str("category", in.Category).
				Msg("no catalog rate for cost entry, booking zero")
		default:
			return nil, err
		}
	}

	e := CostEntry{
		ID:               billing.CostEntryID(uuid.NewString()),
		CaseID:           in.CaseID,
		Phase:            in.Phase,
		Category:         in.Category,
		Quantity:         in.Quantity,
		UnitRate:         rate.Round2(),
		Amount:           rate.MulInt(in.Quantity).Round2(),
		Status:           EntryPending,
		Date:             date,
		JustificationURL: in.JustificationURL,
		Comment:          in.Comment,
		Links:            in.Links,
	}
	if err := r.Entries.SaveCostEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("saving cost entry: %w", err)
	}
	return &e, nil
}

// Approve confirms a pending entry.
func (r *Recorder) Approve(ctx context.Context, id billing.CostEntryID, comment string) (*CostEntry, error) {
	return r.transition(ctx, id, EntryApproved, comment)
}

// Dismiss rejects a pending entry.
func (r *Recorder) Dismiss(ctx context.Context, id billing.CostEntryID, comment string) (*CostEntry, error) {
	return r.transition(ctx, id, EntryDismissed, comment)
}

func (r *Recorder) transition(ctx context.Context, id billing.CostEntryID, to EntryStatus, comment string) (*CostEntry, error) {
	e, err := r.Entries.GetCostEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != EntryPending {
		return nil, billing.Invalidf("cost entry %s is %s, only pending entries can change", id, e.Status)
	}
	e.Status = to
	if comment != "" {
		e.Comment = comment
	}
	if err := r.Entries.SaveCostEntry(ctx, *e); err != nil {
		return nil, fmt.Errorf("saving cost entry: %w", err)
	}
	return e, nil
}

// =============================================================================
// REPORTING
// =============================================================================

func (r *Recorder) ListByCase(ctx context.Context, caseID billing.CaseID) ([]CostEntry, error) {
	return r.Entries.ListCostEntries(ctx, caseID)
}

// TotalsByPhase sums approved entries per phase for a case.
func (r *Recorder) TotalsByPhase(ctx context.Context, caseID billing.CaseID) (map[billing.Phase]billing.Amount, error) {
	entries, err := r.Entries.ListCostEntries(ctx, caseID)
	if err != nil {
		return nil, err
	}
	totals := make(map[billing.Phase]billing.Amount, 4)
	for _, phase := range billing.Phases() {
		totals[phase] = billing.Zero()
	}
	for _, e := range entries {
		if e.Status != EntryApproved {
			continue
		}
		totals[e.Phase] = totals[e.Phase].Add(e.Amount)
	}
	for phase, t := range totals {
		totals[phase] = t.Round2()
	}
	return totals, nil
}
