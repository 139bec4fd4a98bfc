package tariff_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/store/memory"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestCatalog(t *testing.T) *tariff.Catalog {
	t.Helper()
	return tariff.NewCatalog(memory.NewStore(), zerolog.Nop())
}

func jan(day int) time.Time {
	return time.Date(2026, time.January, day, 0, 0, 0, 0, time.UTC)
}

func entryInput(category, rate string, from time.Time, to *time.Time) tariff.CatalogEntryInput {
	return tariff.CatalogEntryInput{
		Phase:     billing.PhaseAmiable,
		Category:  category,
		UnitRate:  billing.NewAmount(rate),
		ValidFrom: from,
		ValidTo:   to,
	}
}

// =============================================================================
// CREATION AND OVERLAP TESTS
// =============================================================================

func TestCatalog_Create_RejectsOverlappingValidity(t *testing.T) {
	// GIVEN: A rate for RELANCE_TELEPHONIQUE valid from Jan 1 open-ended
	// WHEN: Creating a second rate for the same (phase, category) from Jan 15
	// THEN: Creation fails with the overlap error

	catalog := newTestCatalog(t)
	ctx := context.Background()

	_, err := catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "20", jan(1), nil))
	require.NoError(t, err)

	_, err = catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "25", jan(15), nil))
	assert.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrOverlappingTariff)
}

func TestCatalog_Create_AllowsAdjacentPeriods(t *testing.T) {
	// GIVEN: A rate closed on Jan 14
	// WHEN: Creating the successor rate starting Jan 15
	// THEN: Both coexist

	catalog := newTestCatalog(t)
	ctx := context.Background()

	to := jan(14)
	_, err := catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "20", jan(1), &to))
	require.NoError(t, err)

	_, err = catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "25", jan(15), nil))
	assert.NoError(t, err)
}

func TestCatalog_Create_RejectsInvertedRange(t *testing.T) {
	catalog := newTestCatalog(t)

	to := jan(1)
	_, err := catalog.Create(context.Background(), entryInput(tariff.CategoryPhoneReminder, "20", jan(10), &to))
	assert.True(t, billing.IsValidation(err), "inverted validity range should be a validation error")
}

func TestCatalog_Create_RejectsNegativeRate(t *testing.T) {
	catalog := newTestCatalog(t)

	in := entryInput(tariff.CategoryPhoneReminder, "20", jan(1), nil)
	in.UnitRate = billing.NewAmount("-5")
	_, err := catalog.Create(context.Background(), in)
	assert.True(t, billing.IsValidation(err))
}

// =============================================================================
// RATE RESOLUTION TESTS
// =============================================================================

func TestCatalog_ResolveRate_PicksRateCoveringDate(t *testing.T) {
	// GIVEN: Two consecutive rates, 20 until Jan 14 then 25 from Jan 15
	// WHEN: Resolving on Jan 10 and on Jan 20
	// THEN: Each date resolves to the rate covering it

	catalog := newTestCatalog(t)
	ctx := context.Background()

	to := jan(14)
	_, err := catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "20", jan(1), &to))
	require.NoError(t, err)
	_, err = catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "25", jan(15), nil))
	require.NoError(t, err)

	early, err := catalog.ResolveRate(ctx, billing.PhaseAmiable, tariff.CategoryPhoneReminder, jan(10))
	require.NoError(t, err)
	assert.Equal(t, "20.00", early.UnitRate.Value.StringFixed(2))

	late, err := catalog.ResolveRate(ctx, billing.PhaseAmiable, tariff.CategoryPhoneReminder, jan(20))
	require.NoError(t, err)
	assert.Equal(t, "25.00", late.UnitRate.Value.StringFixed(2))
}

func TestCatalog_ResolveRate_NoCoverage_NotFound(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	_, err := catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "20", jan(15), nil))
	require.NoError(t, err)

	_, err = catalog.ResolveRate(ctx, billing.PhaseAmiable, tariff.CategoryPhoneReminder, jan(5))
	assert.True(t, billing.IsNotFound(err))
}

func TestCatalog_ResolveRate_IgnoresDeactivatedEntries(t *testing.T) {
	// GIVEN: A covering rate that has been deactivated
	// WHEN: Resolving on a covered date
	// THEN: Resolution fails as not found

	catalog := newTestCatalog(t)
	ctx := context.Background()

	entry, err := catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "20", jan(1), nil))
	require.NoError(t, err)
	require.NoError(t, catalog.Deactivate(ctx, entry.ID))

	_, err = catalog.ResolveRate(ctx, billing.PhaseAmiable, tariff.CategoryPhoneReminder, jan(10))
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestCatalog_History_ReturnsAllRatesOfCategory(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	to := jan(14)
	first, err := catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "20", jan(1), &to))
	require.NoError(t, err)
	_, err = catalog.Create(ctx, entryInput(tariff.CategoryPhoneReminder, "25", jan(15), nil))
	require.NoError(t, err)

	history, err := catalog.History(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
