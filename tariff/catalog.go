/*
PURPOSE:
  Catalog service: manages time-versioned unit rates per (phase, category)
  and resolves the applicable rate for a date. Overlapping active ranges for
  the same (phase, category) are rejected at write time so resolution stays
  deterministic; when history does contain a tie, the most recent ValidFrom
  wins.

RESOLUTION TOLERANCE:
  A missing rate is not an error for callers that can live without one: the
  ledger persists the line item as incomplete and the legacy cost recorder
  books a zero amount. ResolveRate therefore returns billing.ErrNotFound and
  lets each caller decide.
*/
package tariff

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carthago/recovery-engine/billing"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// CatalogFilter narrows a catalog listing. Zero values mean "any".
type CatalogFilter struct {
	Phase      billing.Phase
	Category   string
	ActiveOnly bool
}

type CatalogStore interface {
	SaveCatalogEntry(ctx context.Context, e CatalogEntry) error
	GetCatalogEntry(ctx context.Context, id billing.CatalogEntryID) (*CatalogEntry, error)
	ListCatalogEntries(ctx context.Context, f CatalogFilter) ([]CatalogEntry, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Catalog struct {
	Store CatalogStore
	Log   zerolog.Logger
}

func NewCatalog(store CatalogStore, log zerolog.Logger) *Catalog {
	return &Catalog{Store: store, Log: log.With().Str("component", "catalog").Logger()}
}

type CatalogEntryInput struct {
	Phase       billing.Phase
	Category    string
	Description string
	Supplier    string
	UnitRate    billing.Amount
	ValidFrom   time.Time
	ValidTo     *time.Time
}

// Create registers a new rate. The validity range must not overlap any active
// entry for the same (phase, category).
func (c *Catalog) Create(ctx context.Context, in CatalogEntryInput) (*CatalogEntry, error) {
	if !in.Phase.Valid() {
		return nil, billing.Invalidf("unknown phase %q", in.Phase)
	}
	if _, ok := LookupCategory(in.Category); !ok {
		return nil, billing.Invalidf("unknown category %q", in.Category)
	}
	if in.UnitRate.IsNegative() {
		return nil, billing.Invalidf("unit rate must not be negative")
	}
	if in.ValidFrom.IsZero() {
		return nil, billing.Invalidf("valid_from is required")
	}
	if in.ValidTo != nil && in.ValidTo.Before(in.ValidFrom) {
		return nil, billing.Invalidf("valid_to precedes valid_from")
	}

	entry := CatalogEntry{
		ID:          billing.CatalogEntryID(uuid.NewString()),
		Phase:       in.Phase,
		Category:    in.Category,
		Description: in.Description,
		Supplier:    in.Supplier,
		UnitRate:    in.UnitRate.Round2(),
		ValidFrom:   in.ValidFrom,
		ValidTo:     in.ValidTo,
		Active:      true,
	}

	if err := c.checkOverlap(ctx, entry); err != nil {
		return nil, err
	}
	if err := c.Store.SaveCatalogEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("saving catalog entry: %w", err)
	}

	c.Log.Info().
		Str("phase", string(entry.Phase)).
		Str("category", entry.Category).
		Str("rate", entry.UnitRate.String()).
		Msg("catalog entry created")
	return &entry, nil
}

// Update replaces the mutable fields of an existing entry, re-checking range
// overlap against its siblings.
func (c *Catalog) Update(ctx context.Context, id billing.CatalogEntryID, in CatalogEntryInput) (*CatalogEntry, error) {
	entry, err := c.Store.GetCatalogEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.UnitRate.IsNegative() {
		return nil, billing.Invalidf("unit rate must not be negative")
	}
	if in.ValidTo != nil && in.ValidTo.Before(in.ValidFrom) {
		return nil, billing.Invalidf("valid_to precedes valid_from")
	}

	entry.Description = in.Description
	entry.Supplier = in.Supplier
	entry.UnitRate = in.UnitRate.Round2()
	if !in.ValidFrom.IsZero() {
		entry.ValidFrom = in.ValidFrom
	}
	entry.ValidTo = in.ValidTo

	if err := c.checkOverlap(ctx, *entry); err != nil {
		return nil, err
	}
	if err := c.Store.SaveCatalogEntry(ctx, *entry); err != nil {
		return nil, fmt.Errorf("saving catalog entry: %w", err)
	}
	return entry, nil
}

// Deactivate retires an entry without deleting its history.
func (c *Catalog) Deactivate(ctx context.Context, id billing.CatalogEntryID) error {
	entry, err := c.Store.GetCatalogEntry(ctx, id)
	if err != nil {
		return err
	}
	if !entry.Active {
		return nil
	}
	entry.Active = false
	if err := c.Store.SaveCatalogEntry(ctx, *entry); err != nil {
		return fmt.Errorf("saving catalog entry: %w", err)
	}
	c.Log.Info().Str("id", string(id)).Msg("catalog entry deactivated")
	return nil
}

// ResolveRate returns the active entry covering the given date for
// (phase, category). Ties on coverage resolve to the most recent ValidFrom.
func (c *Catalog) ResolveRate(ctx context.Context, phase billing.Phase, category string, on time.Time) (*CatalogEntry, error) {
	entries, err := c.Store.ListCatalogEntries(ctx, CatalogFilter{
		Phase: phase, Category: category, ActiveOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing catalog entries: %w", err)
	}

	var candidates []CatalogEntry
	for _, e := range entries {
		if e.Covers(on) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, &billing.NotFoundError{Kind: "catalog rate", ID: fmt.Sprintf("%s/%s", phase, category)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ValidFrom.After(candidates[j].ValidFrom)
	})
	return &candidates[0], nil
}

// List returns catalog entries matching the filter.
func (c *Catalog) List(ctx context.Context, f CatalogFilter) ([]CatalogEntry, error) {
	return c.Store.ListCatalogEntries(ctx, f)
}

// History returns every entry (active or not) ever registered for the same
// (phase, category) as the given one, most recent ValidFrom first.
func (c *Catalog) History(ctx context.Context, id billing.CatalogEntryID) ([]CatalogEntry, error) {
	entry, err := c.Store.GetCatalogEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := c.Store.ListCatalogEntries(ctx, CatalogFilter{
		Phase: entry.Phase, Category: entry.Category,
	})
	if err != nil {
		return nil, fmt.Errorf("listing catalog entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ValidFrom.After(entries[j].ValidFrom)
	})
	return entries, nil
}

func (c *Catalog) checkOverlap(ctx context.Context, entry CatalogEntry) error {
	siblings, err := c.Store.ListCatalogEntries(ctx, CatalogFilter{
		Phase: entry.Phase, Category: entry.Category, ActiveOnly: true,
	})
	if err != nil {
		return fmt.Errorf("listing catalog entries: %w", err)
	}
	for _, s := range siblings {
		if s.ID == entry.ID {
			continue
		}
		if entry.Overlaps(s) {
			return fmt.Errorf("%w: %s/%s already covered from %s",
				billing.ErrOverlappingTariff, entry.Phase, entry.Category,
				s.ValidFrom.Format("2006-01-02"))
		}
	}
	return nil
}
