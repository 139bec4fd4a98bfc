package recovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestReconciler(t *testing.T) *recovery.Reconciler {
	t.Helper()
	store := memory.NewStore()
	return recovery.NewReconciler(store, store, zerolog.Nop())
}

func openCase(t *testing.T, r *recovery.Reconciler, claim string) billing.CaseID {
	t.Helper()
	f, err := r.Open(context.Background(), "case-1", "REF-001", billing.NewAmount(claim))
	require.NoError(t, err)
	return f.CaseID
}

func amt(s string) *billing.Amount {
	a := billing.NewAmount(s)
	return &a
}

// =============================================================================
// PURE RECOMPUTE TESTS
// =============================================================================

func TestRecompute_States(t *testing.T) {
	tests := []struct {
		name          string
		claim         string
		recovered     string
		wantRecovered string
		wantRemaining string
		wantState     recovery.FinancialState
	}{
		{"nothing recovered", "5000", "0", "0", "5000", recovery.NotRecovered},
		{"partial", "5000", "2000", "2000", "3000", recovery.RecoveredPartial},
		{"total", "5000", "5000", "5000", "0", recovery.RecoveredTotal},
		{"over-recovery clamped to claim", "5000", "6000", "5000", "0", recovery.RecoveredTotal},
		{"negative recovered clamped to zero", "5000", "-100", "0", "5000", recovery.NotRecovered},
		{"zero claim never totals", "0", "0", "0", "0", recovery.NotRecovered},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clamped, remaining, state := recovery.Recompute(billing.NewAmount(tc.claim), billing.NewAmount(tc.recovered))
			assert.True(t, clamped.Equal(billing.NewAmount(tc.wantRecovered)), "recovered: got %s", clamped)
			assert.True(t, remaining.Equal(billing.NewAmount(tc.wantRemaining)), "remaining: got %s", remaining)
			assert.Equal(t, tc.wantState, state)
		})
	}
}

// =============================================================================
// OPEN AND UPDATE TESTS
// =============================================================================

func TestReconciler_Open_RejectsNegativeClaim(t *testing.T) {
	r := newTestReconciler(t)

	_, err := r.Open(context.Background(), "case-1", "", billing.NewAmount("-1"))
	assert.True(t, billing.IsValidation(err))
}

func TestReconciler_Open_DuplicateRejected(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Open(ctx, "case-1", "", billing.NewAmount("1000"))
	require.NoError(t, err)
	_, err = r.Open(ctx, "case-1", "", billing.NewAmount("1000"))
	assert.Error(t, err)
}

func TestReconciler_UpdateAmounts_MutuallyExclusive(t *testing.T) {
	// GIVEN: An open case
	// WHEN: Supplying both claim and recovered, or neither
	// THEN: Both calls fail validation

	r := newTestReconciler(t)
	id := openCase(t, r, "5000")
	ctx := context.Background()

	_, _, err := r.UpdateAmounts(ctx, id, recovery.UpdateInput{
		NewClaimTotal:   amt("6000"),
		RecoveredAmount: amt("100"),
		Mode:            recovery.ModeAdd,
	})
	assert.True(t, billing.IsValidation(err))

	_, _, err = r.UpdateAmounts(ctx, id, recovery.UpdateInput{})
	assert.True(t, billing.IsValidation(err))
}

func TestReconciler_UpdateAmounts_ClaimChangeRecomputesState(t *testing.T) {
	// GIVEN: 2000 of 5000 recovered (partial)
	// WHEN: Lowering the claim to 2000
	// THEN: The case flips to fully recovered

	r := newTestReconciler(t)
	id := openCase(t, r, "5000")
	ctx := context.Background()

	_, _, err := r.UpdateAmounts(ctx, id, recovery.UpdateInput{
		RecoveredAmount: amt("2000"),
		Mode:            recovery.ModeReplace,
	})
	require.NoError(t, err)

	f, _, err := r.UpdateAmounts(ctx, id, recovery.UpdateInput{NewClaimTotal: amt("2000")})
	require.NoError(t, err)
	assert.Equal(t, recovery.RecoveredTotal, f.State)
	assert.True(t, f.Remaining.IsZero())
}

func TestReconciler_UpdateAmounts_AddAccumulates(t *testing.T) {
	r := newTestReconciler(t)
	id := openCase(t, r, "5000")
	ctx := context.Background()

	_, _, err := r.UpdateAmounts(ctx, id, recovery.UpdateInput{RecoveredAmount: amt("1000"), Mode: recovery.ModeAdd})
	require.NoError(t, err)
	f, _, err := r.UpdateAmounts(ctx, id, recovery.UpdateInput{RecoveredAmount: amt("500"), Mode: recovery.ModeAdd})
	require.NoError(t, err)

	assert.Equal(t, "1500", f.Recovered.Value.String())
	assert.Equal(t, "3500", f.Remaining.Value.String())
	assert.Equal(t, recovery.RecoveredPartial, f.State)
}

// =============================================================================
// PHASE POSTING TESTS
// =============================================================================

func TestReconciler_Post_SplitsByPhase(t *testing.T) {
	// GIVEN: A 5000 case
	// WHEN: Recovering 1200 amiable then 800 juridique
	// THEN: Phase totals and the global balance agree

	r := newTestReconciler(t)
	id := openCase(t, r, "5000")
	ctx := context.Background()

	_, _, err := r.Post(ctx, id, recovery.PostingInput{
		Phase:  recovery.RecoveryAmiable,
		Amount: billing.NewAmount("1200"),
		Kind:   recovery.KindAmiableAction,
	})
	require.NoError(t, err)

	f, _, err := r.Post(ctx, id, recovery.PostingInput{
		Phase:  recovery.RecoveryJuridique,
		Amount: billing.NewAmount("800"),
		Kind:   recovery.KindBailiffAction,
	})
	require.NoError(t, err)

	assert.Equal(t, "1200", f.RecoveredAmiable.Value.String())
	assert.Equal(t, "800", f.RecoveredJuridique.Value.String())
	assert.Equal(t, "2000", f.Recovered.Value.String())
	assert.Equal(t, "3000", f.Remaining.Value.String())
	assert.Equal(t, recovery.RecoveredPartial, f.State)
}

func TestReconciler_Post_AppendsHistory(t *testing.T) {
	r := newTestReconciler(t)
	id := openCase(t, r, "5000")
	ctx := context.Background()

	_, _, err := r.Post(ctx, id, recovery.PostingInput{
		Phase:    recovery.RecoveryAmiable,
		Amount:   billing.NewAmount("1200"),
		Kind:     recovery.KindAmiableSettlement,
		ActionID: "act-7",
		UserID:   "agent-1",
	})
	require.NoError(t, err)

	history, err := r.HistoryFor(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, recovery.KindAmiableSettlement, history[0].Kind)
	assert.Equal(t, "1200.00", history[0].Delta.Value.StringFixed(2))
	assert.Equal(t, "act-7", history[0].ActionID)
	assert.True(t, history[0].RunningTotal.Equal(billing.NewAmount("1200")))
}

func TestReconciler_Post_ReplaceRecordsNegativeDelta(t *testing.T) {
	// GIVEN: 1200 recovered amiable
	// WHEN: Replacing the amiable total with 900
	// THEN: History records a -300 delta and the balance follows

	r := newTestReconciler(t)
	id := openCase(t, r, "5000")
	ctx := context.Background()

	_, _, err := r.Post(ctx, id, recovery.PostingInput{
		Phase: recovery.RecoveryAmiable, Amount: billing.NewAmount("1200"),
	})
	require.NoError(t, err)

	f, _, err := r.Post(ctx, id, recovery.PostingInput{
		Phase: recovery.RecoveryAmiable, Amount: billing.NewAmount("900"), Mode: recovery.ModeReplace,
	})
	require.NoError(t, err)
	assert.Equal(t, "900", f.Recovered.Value.String())

	history, err := r.HistoryFor(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "-300.00", history[1].Delta.Value.StringFixed(2))
}

func TestReconciler_Post_UnknownPhaseRejected(t *testing.T) {
	r := newTestReconciler(t)
	id := openCase(t, r, "5000")

	_, _, err := r.Post(context.Background(), id, recovery.PostingInput{
		Phase: "ENQUETE", Amount: billing.NewAmount("100"),
	})
	assert.True(t, billing.IsValidation(err))
}

func TestReconciler_PostInterest_DoesNotTouchPrincipal(t *testing.T) {
	// GIVEN: A 5000 case
	// WHEN: Posting 150 of recovered interest
	// THEN: Interest accrues but remaining and state are untouched

	r := newTestReconciler(t)
	id := openCase(t, r, "5000")

	f, _, err := r.PostInterest(context.Background(), id, billing.NewAmount("150"), "agent-1")
	require.NoError(t, err)

	assert.Equal(t, "150.00", f.RecoveredInterest.Value.StringFixed(2))
	assert.True(t, f.Recovered.IsZero())
	assert.Equal(t, "5000", f.Remaining.Value.String())
	assert.Equal(t, recovery.NotRecovered, f.State)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

// flakyStore wraps the memory store and forces version conflicts on the
// first n update attempts.
type flakyStore struct {
	*memory.Store
	failures int
}

func (fs *flakyStore) UpdateCaseFinancials(ctx context.Context, f recovery.CaseFinancials, expectedVersion int64) error {
	if fs.failures > 0 {
		fs.failures--
		return billing.ErrConcurrentModification
	}
	return fs.Store.UpdateCaseFinancials(ctx, f, expectedVersion)
}

func TestReconciler_Mutate_RetriesOnVersionConflict(t *testing.T) {
	// GIVEN: A store that fails the first two CAS attempts
	// WHEN: Updating the recovered amount
	// THEN: The retry loop absorbs the conflicts and the write lands

	base := memory.NewStore()
	fs := &flakyStore{Store: base, failures: 2}
	r := recovery.NewReconciler(fs, base, zerolog.Nop())
	ctx := context.Background()

	_, err := r.Open(ctx, "case-1", "", billing.NewAmount("5000"))
	require.NoError(t, err)

	f, _, err := r.UpdateAmounts(ctx, "case-1", recovery.UpdateInput{
		RecoveredAmount: amt("100"), Mode: recovery.ModeAdd,
	})
	require.NoError(t, err)
	assert.Equal(t, "100", f.Recovered.Value.String())
}

func TestReconciler_Mutate_GivesUpAfterMaxRetries(t *testing.T) {
	base := memory.NewStore()
	fs := &flakyStore{Store: base, failures: 100}
	r := recovery.NewReconciler(fs, base, zerolog.Nop())
	r.MaxRetries = 2
	ctx := context.Background()

	_, err := r.Open(ctx, "case-1", "", billing.NewAmount("5000"))
	require.NoError(t, err)

	_, _, err = r.UpdateAmounts(ctx, "case-1", recovery.UpdateInput{
		RecoveredAmount: amt("100"), Mode: recovery.ModeAdd,
	})
	assert.True(t, errors.Is(err, billing.ErrConcurrentModification))
}

// =============================================================================
// DEGRADED SIDE EFFECT TESTS
// =============================================================================

type failingAudit struct{}

func (failingAudit) Record(context.Context, billing.AuditEntry) error {
	return errors.New("audit store down")
}

func TestReconciler_AuditFailure_DegradesOutcome(t *testing.T) {
	// GIVEN: An audit sink that always fails
	// WHEN: Posting a recovery
	// THEN: The write succeeds and the outcome reports the degraded side effect

	store := memory.NewStore()
	r := recovery.NewReconciler(store, store, zerolog.Nop())
	r.Audit = failingAudit{}
	ctx := context.Background()

	_, err := r.Open(ctx, "case-1", "", billing.NewAmount("5000"))
	require.NoError(t, err)

	f, out, err := r.Post(ctx, "case-1", recovery.PostingInput{
		Phase: recovery.RecoveryAmiable, Amount: billing.NewAmount("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, "100", f.Recovered.Value.String())
	assert.Contains(t, out.DegradedNames(), "audit")
}
