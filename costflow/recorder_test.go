package costflow_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/costflow"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/store/memory"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testCase = billing.CaseID("case-1")

func newTestRecorder(t *testing.T) (*costflow.Recorder, *tariff.Catalog) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateCaseFinancials(context.Background(), recovery.CaseFinancials{
		CaseID:     testCase,
		ClaimTotal: billing.NewAmount("10000"),
	}))

	catalog := tariff.NewCatalog(store, zerolog.Nop())
	recorder := costflow.NewRecorder(store, catalog, store, zerolog.Nop())
	return recorder, catalog
}

func amountPtr(s string) *billing.Amount {
	a := billing.NewAmount(s)
	return &a
}

// =============================================================================
// RECORDING TESTS
// =============================================================================

func TestRecorder_Record_ExplicitRateOverridesCatalog(t *testing.T) {
	recorder, _ := newTestRecorder(t)

	e, err := recorder.Record(context.Background(), costflow.RecordInput{
		CaseID:   testCase,
		Phase:    billing.PhaseAmiable,
		Category: tariff.CategoryPhoneReminder,
		Quantity: 3,
		UnitRate: amountPtr("15"),
	})
	require.NoError(t, err)

	assert.Equal(t, costflow.EntryPending, e.Status)
	assert.Equal(t, "45.00", e.Amount.Value.StringFixed(2))
}

func TestRecorder_Record_MissingRateBooksZero(t *testing.T) {
	// GIVEN: No catalog rate for the category
	// WHEN: Recording without an explicit rate
	// THEN: The entry books at zero instead of failing

	recorder, _ := newTestRecorder(t)

	e, err := recorder.Record(context.Background(), costflow.RecordInput{
		CaseID:   testCase,
		Phase:    billing.PhaseAmiable,
		Category: tariff.CategoryFieldVisit,
	})
	require.NoError(t, err)
	assert.True(t, e.Amount.IsZero())
}

func TestRecorder_Record_UnknownCaseRejected(t *testing.T) {
	recorder, _ := newTestRecorder(t)

	_, err := recorder.Record(context.Background(), costflow.RecordInput{
		CaseID: "ghost",
		Phase:  billing.PhaseAmiable,
	})
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// REVIEW TESTS
// =============================================================================

func TestRecorder_ApproveAndDismiss_PendingOnly(t *testing.T) {
	recorder, _ := newTestRecorder(t)
	ctx := context.Background()

	e, err := recorder.Record(ctx, costflow.RecordInput{
		CaseID:   testCase,
		Phase:    billing.PhaseAmiable,
		UnitRate: amountPtr("30"),
	})
	require.NoError(t, err)

	approved, err := recorder.Approve(ctx, e.ID, "justifié")
	require.NoError(t, err)
	assert.Equal(t, costflow.EntryApproved, approved.Status)

	_, err = recorder.Dismiss(ctx, e.ID, "trop tard")
	assert.True(t, billing.IsValidation(err), "approved entries are terminal")
}

// =============================================================================
// REPORTING TESTS
// =============================================================================

func TestRecorder_TotalsByPhase_ApprovedOnly(t *testing.T) {
	// GIVEN: One approved 30 amiable entry, one pending and one dismissed
	// WHEN: Summing per phase
	// THEN: Only the approved entry counts

	recorder, _ := newTestRecorder(t)
	ctx := context.Background()

	approved, err := recorder.Record(ctx, costflow.RecordInput{
		CaseID: testCase, Phase: billing.PhaseAmiable, UnitRate: amountPtr("30"),
	})
	require.NoError(t, err)
	_, err = recorder.Approve(ctx, approved.ID, "")
	require.NoError(t, err)

	_, err = recorder.Record(ctx, costflow.RecordInput{
		CaseID: testCase, Phase: billing.PhaseAmiable, UnitRate: amountPtr("99"),
	})
	require.NoError(t, err)

	dismissed, err := recorder.Record(ctx, costflow.RecordInput{
		CaseID: testCase, Phase: billing.PhaseJuridique, UnitRate: amountPtr("50"),
	})
	require.NoError(t, err)
	_, err = recorder.Dismiss(ctx, dismissed.ID, "doublon")
	require.NoError(t, err)

	totals, err := recorder.TotalsByPhase(ctx, testCase)
	require.NoError(t, err)
	assert.Equal(t, "30.00", totals[billing.PhaseAmiable].Value.StringFixed(2))
	assert.True(t, totals[billing.PhaseJuridique].IsZero())
}
