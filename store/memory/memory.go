/*
PURPOSE:
  In-memory store implementing every persistence interface of the engine.
  Used by tests and by the server's --memory mode. All methods copy values
  in and out under a single RWMutex; the invoice sequence and the
  version-checked case update mirror the SQLite store's concurrency
  semantics so concurrency tests run against either backend.
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/tariff"
)

type Store struct {
	mu        sync.RWMutex
	cases     map[billing.CaseID]recovery.CaseFinancials
	history   map[billing.CaseID][]recovery.HistoryEntry
	catalog   map[billing.CatalogEntryID]tariff.CatalogEntry
	items     map[billing.LineItemID]tariff.LineItem
	invoices  map[billing.InvoiceID]invoicing.Invoice
	payments  map[billing.PaymentID]invoicing.Payment
	costs     map[billing.CostEntryID]costflow.CostEntry
	sequences map[int]int
}

func NewStore() *Store {
	return &Store{
		cases:     make(map[billing.CaseID]recovery.CaseFinancials),
		history:   make(map[billing.CaseID][]recovery.HistoryEntry),
		catalog:   make(map[billing.CatalogEntryID]tariff.CatalogEntry),
		items:     make(map[billing.LineItemID]tariff.LineItem),
		invoices:  make(map[billing.InvoiceID]invoicing.Invoice),
		payments:  make(map[billing.PaymentID]invoicing.Payment),
		costs:     make(map[billing.CostEntryID]costflow.CostEntry),
		sequences: make(map[int]int),
	}
}

// =============================================================================
// CASE FINANCIALS (recovery.CaseStore, tariff.CaseDirectory)
// =============================================================================

func (s *Store) CreateCaseFinancials(_ context.Context, f recovery.CaseFinancials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[f.CaseID]; ok {
		return billing.Invalidf("case %s already exists", f.CaseID)
	}
	if f.Version == 0 {
		f.Version = 1
	}
	s.cases[f.CaseID] = f
	return nil
}

func (s *Store) GetCaseFinancials(_ context.Context, id billing.CaseID) (*recovery.CaseFinancials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.cases[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "case", ID: string(id)}
	}
	out := f
	return &out, nil
}

func (s *Store) UpdateCaseFinancials(_ context.Context, f recovery.CaseFinancials, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[f.CaseID]
	if !ok {
		return &billing.NotFoundError{Kind: "case", ID: string(f.CaseID)}
	}
	if current.Version != expectedVersion {
		return billing.ErrConcurrentModification
	}
	f.Version = expectedVersion + 1
	s.cases[f.CaseID] = f
	return nil
}

func (s *Store) CaseExists(_ context.Context, id billing.CaseID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cases[id]
	return ok, nil
}

// =============================================================================
// RECOVERY HISTORY (recovery.HistoryStore)
// =============================================================================

func (s *Store) AppendRecovery(_ context.Context, e recovery.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[e.CaseID] = append(s.history[e.CaseID], e)
	return nil
}

func (s *Store) ListRecoveries(_ context.Context, caseID billing.CaseID) ([]recovery.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]recovery.HistoryEntry, len(s.history[caseID]))
	copy(entries, s.history[caseID])
	sort.Slice(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries, nil
}

// =============================================================================
// CATALOG (tariff.CatalogStore)
// =============================================================================

func (s *Store) SaveCatalogEntry(_ context.Context, e tariff.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[e.ID] = e
	return nil
}

func (s *Store) GetCatalogEntry(_ context.Context, id billing.CatalogEntryID) (*tariff.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.catalog[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "catalog entry", ID: string(id)}
	}
	out := e
	return &out, nil
}

func (s *Store) ListCatalogEntries(_ context.Context, f tariff.CatalogFilter) ([]tariff.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tariff.CatalogEntry
	for _, e := range s.catalog {
		if f.Phase != "" && e.Phase != f.Phase {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.ActiveOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// LINE ITEMS (tariff.LineItemStore)
// =============================================================================

func (s *Store) SaveLineItem(_ context.Context, li tariff.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the SQLite partial unique index on unique-per-case categories.
	if spec, ok := tariff.LookupCategory(li.Category); ok && spec.UniquePerCase && li.Status != tariff.StatusRejected {
		for _, other := range s.items {
			if other.ID != li.ID && other.CaseID == li.CaseID &&
				other.Phase == li.Phase && other.Category == li.Category &&
				other.Status != tariff.StatusRejected {
				return &billing.DuplicateChargeError{
					CaseID: li.CaseID, Phase: li.Phase, Category: li.Category, Existing: other.ID,
				}
			}
		}
	}
	s.items[li.ID] = li
	return nil
}

func (s *Store) GetLineItem(_ context.Context, id billing.LineItemID) (*tariff.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	li, ok := s.items[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "line item", ID: string(id)}
	}
	out := li
	return &out, nil
}

func (s *Store) ListLineItems(_ context.Context, caseID billing.CaseID) ([]tariff.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tariff.LineItem
	for _, li := range s.items {
		if li.CaseID == caseID {
			out = append(out, li)
		}
	}
	sortLineItems(out)
	return out, nil
}

func (s *Store) ListLineItemsByInvoice(_ context.Context, invoiceID billing.InvoiceID) ([]tariff.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tariff.LineItem
	for _, li := range s.items {
		if li.InvoiceID == invoiceID {
			out = append(out, li)
		}
	}
	sortLineItems(out)
	return out, nil
}

func sortLineItems(items []tariff.LineItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// =============================================================================
// INVOICES (invoicing.InvoiceStore, invoicing.SequenceStore)
// =============================================================================

func (s *Store) SaveInvoice(_ context.Context, inv invoicing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
	return nil
}

func (s *Store) GetInvoice(_ context.Context, id billing.InvoiceID) (*invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "invoice", ID: string(id)}
	}
	out := inv
	return &out, nil
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.Number == number {
			out := inv
			return &out, nil
		}
	}
	return nil, &billing.NotFoundError{Kind: "invoice", ID: number}
}

func (s *Store) ListInvoicesByCase(_ context.Context, caseID billing.CaseID) ([]invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []invoicing.Invoice
	for _, inv := range s.invoices {
		if inv.CaseID == caseID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) ListInvoicesByStatus(_ context.Context, status invoicing.InvoiceStatus) ([]invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []invoicing.Invoice
	for _, inv := range s.invoices {
		if inv.Status == status {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[year]++
	return s.sequences[year], nil
}

// =============================================================================
// PAYMENTS (invoicing.PaymentStore)
// =============================================================================

func (s *Store) SavePayment(_ context.Context, p invoicing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
	return nil
}

func (s *Store) GetPayment(_ context.Context, id billing.PaymentID) (*invoicing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "payment", ID: string(id)}
	}
	out := p
	return &out, nil
}

func (s *Store) ListPaymentsByInvoice(_ context.Context, invoiceID billing.InvoiceID) ([]invoicing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []invoicing.Payment
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

func (s *Store) ListPaymentsByStatus(_ context.Context, status invoicing.PaymentStatus) ([]invoicing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []invoicing.Payment
	for _, p := range s.payments {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

func sortPayments(payments []invoicing.Payment) {
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].Date.Equal(payments[j].Date) {
			return payments[i].Date.Before(payments[j].Date)
		}
		return payments[i].ID < payments[j].ID
	})
}

// =============================================================================
// COST ENTRIES (costflow.EntryStore)
// =============================================================================

func (s *Store) SaveCostEntry(_ context.Context, e costflow.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs[e.ID] = e
	return nil
}

func (s *Store) GetCostEntry(_ context.Context, id billing.CostEntryID) (*costflow.CostEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.costs[id]
	if !ok {
		return nil, &billing.NotFoundError{Kind: "cost entry", ID: string(id)}
	}
	out := e
	return &out, nil
}

func (s *Store) ListCostEntries(_ context.Context, caseID billing.CaseID) ([]costflow.CostEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []costflow.CostEntry
	for _, e := range s.costs {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
