package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/store/sqlite"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCase(t *testing.T, store *sqlite.Store, id billing.CaseID) {
	t.Helper()
	require.NoError(t, store.CreateCaseFinancials(context.Background(), recovery.CaseFinancials{
		CaseID:     id,
		ClaimTotal: billing.NewAmount("5000"),
		Recovered:  billing.Zero(),
		Remaining:  billing.NewAmount("5000"),
		State:      recovery.NotRecovered,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}))
}

// =============================================================================
// CASE FINANCIALS TESTS
// =============================================================================

func TestSQLite_CaseFinancials_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCase(t, store, "case-1")

	f, err := store.GetCaseFinancials(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, billing.CaseID("case-1"), f.CaseID)
	assert.True(t, f.ClaimTotal.Equal(billing.NewAmount("5000")))
	assert.Equal(t, int64(1), f.Version)

	exists, err := store.CaseExists(ctx, "case-1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.GetCaseFinancials(ctx, "ghost")
	assert.True(t, billing.IsNotFound(err))
}

func TestSQLite_UpdateCaseFinancials_CAS(t *testing.T) {
	// GIVEN: A case at version 1
	// WHEN: Updating with the right then a stale expected version
	// THEN: The first write bumps the version, the second conflicts

	store := newTestStore(t)
	ctx := context.Background()
	seedCase(t, store, "case-1")

	f, err := store.GetCaseFinancials(ctx, "case-1")
	require.NoError(t, err)

	f.Recovered = billing.NewAmount("100")
	require.NoError(t, store.UpdateCaseFinancials(ctx, *f, 1))

	after, err := store.GetCaseFinancials(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Version)

	err = store.UpdateCaseFinancials(ctx, *f, 1)
	assert.True(t, errors.Is(err, billing.ErrConcurrentModification))
}

// =============================================================================
// INVOICE SEQUENCE TESTS
// =============================================================================

func TestSQLite_NextInvoiceSequence_MonotonicPerYear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NextInvoiceSequence(ctx, 2026)
	require.NoError(t, err)
	second, err := store.NextInvoiceSequence(ctx, 2026)
	require.NoError(t, err)
	otherYear, err := store.NextInvoiceSequence(ctx, 2027)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, otherYear, "each year counts independently")
}

func TestSQLite_NextInvoiceSequence_ConcurrentAllocationsAreUnique(t *testing.T) {
	// GIVEN: 20 goroutines allocating invoice numbers for the same year
	// WHEN: All allocations complete
	// THEN: No two goroutines received the same sequence value

	store := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.NextInvoiceSequence(ctx, 2026)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "sequence %d allocated twice", results[i])
		seen[results[i]] = true
	}
	assert.Len(t, seen, n)
}

// =============================================================================
// LINE ITEM UNIQUE INDEX TESTS
// =============================================================================

func lineItem(id billing.LineItemID, category string, status tariff.LineItemStatus) tariff.LineItem {
	total := billing.NewAmount("250")
	return tariff.LineItem{
		ID:        id,
		CaseID:    "case-1",
		Phase:     billing.PhaseCreation,
		Category:  category,
		UnitCost:  &total,
		Quantity:  1,
		Total:     &total,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLite_LineItems_UniqueChargeIndex(t *testing.T) {
	// GIVEN: A non-rejected OUVERTURE_DOSSIER item
	// WHEN: Inserting a second non-rejected one for the same case and phase
	// THEN: The partial unique index rejects it as a duplicate charge

	store := newTestStore(t)
	ctx := context.Background()
	seedCase(t, store, "case-1")

	first := lineItem("li-1", tariff.CategoryCaseOpening, tariff.StatusValidated)
	require.NoError(t, store.SaveLineItem(ctx, first))

	second := lineItem("li-2", tariff.CategoryCaseOpening, tariff.StatusPendingValidation)
	err := store.SaveLineItem(ctx, second)
	assert.Error(t, err)
	var dup *billing.DuplicateChargeError
	assert.ErrorAs(t, err, &dup)
}

func TestSQLite_LineItems_RejectedItemDoesNotBlockReplacement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCase(t, store, "case-1")

	rejected := lineItem("li-1", tariff.CategoryCaseOpening, tariff.StatusRejected)
	require.NoError(t, store.SaveLineItem(ctx, rejected))

	replacement := lineItem("li-2", tariff.CategoryCaseOpening, tariff.StatusValidated)
	assert.NoError(t, store.SaveLineItem(ctx, replacement))
}

func TestSQLite_LineItems_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCase(t, store, "case-1")

	item := lineItem("li-1", tariff.CategoryCaseOpening, tariff.StatusValidated)
	now := time.Now().UTC().Truncate(time.Second)
	item.ValidatedAt = &now
	item.Links = tariff.EventLinks{ActionID: "act-1"}
	require.NoError(t, store.SaveLineItem(ctx, item))

	got, err := store.GetLineItem(ctx, "li-1")
	require.NoError(t, err)
	assert.Equal(t, item.Category, got.Category)
	assert.Equal(t, item.Status, got.Status)
	assert.Equal(t, "act-1", got.Links.ActionID)
	require.NotNil(t, got.ValidatedAt)
	assert.True(t, got.ValidatedAt.Equal(now))
	require.NotNil(t, got.Total)
	assert.True(t, got.Total.Equal(billing.NewAmount("250")))
}

// =============================================================================
// RECOVERY HISTORY TESTS
// =============================================================================

func TestSQLite_RecoveryHistory_AppendAndListOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCase(t, store, "case-1")

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"h-2", "h-1"} {
		require.NoError(t, store.AppendRecovery(ctx, recovery.HistoryEntry{
			ID:           id,
			CaseID:       "case-1",
			Phase:        recovery.RecoveryAmiable,
			Kind:         recovery.KindAmiableAction,
			Delta:        billing.NewAmount("100"),
			RunningTotal: billing.NewAmount("100"),
			Remaining:    billing.NewAmount("4900"),
			At:           base.Add(time.Duration(1-i) * time.Minute),
		}))
	}

	entries, err := store.ListRecoveries(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h-1", entries[0].ID, "entries come back oldest first")
	assert.Equal(t, "h-2", entries[1].ID)
}
