package invoicing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthago/recovery-engine/billing"
	"github.com/carthago/recovery-engine/invoicing"
	"github.com/carthago/recovery-engine/recovery"
	"github.com/carthago/recovery-engine/store/memory"
	"github.com/carthago/recovery-engine/tariff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testCase = billing.CaseID("case-1")

type fixture struct {
	store      *memory.Store
	ledger     *tariff.CaseLedger
	reconciler *recovery.Reconciler
	generator  *invoicing.Generator
	payments   *invoicing.PaymentLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	log := zerolog.Nop()

	catalog := tariff.NewCatalog(store, log)
	ledger := tariff.NewCaseLedger(store, store, catalog, log)
	reconciler := recovery.NewReconciler(store, store, log)
	generator := invoicing.NewGenerator(store, store, ledger, store, log)
	payments := invoicing.NewPaymentLedger(store, store, ledger, log)

	_, err := reconciler.Open(context.Background(), testCase, "REF-001", billing.NewAmount("10000"))
	require.NoError(t, err)

	return &fixture{
		store:      store,
		ledger:     ledger,
		reconciler: reconciler,
		generator:  generator,
		payments:   payments,
	}
}

// bookStandardFees books 250 + 300 + 60 = 610 of validated fees.
func (fx *fixture) bookStandardFees(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := fx.ledger.RecordCaseOpening(ctx, testCase)
	require.NoError(t, err)
	_, err = fx.ledger.RecordInvestigationFee(ctx, testCase, "inv-1")
	require.NoError(t, err)

	item, _, err := fx.ledger.CreateLineItem(ctx, tariff.CreateLineItemInput{
		CaseID:   testCase,
		Phase:    billing.PhaseAmiable,
		Category: tariff.CategoryFormalNotice,
		UnitCost: amountPtr("60"),
	})
	require.NoError(t, err)
	_, _, err = fx.ledger.Validate(ctx, item.ID, "", "manager-1")
	require.NoError(t, err)
}

func amountPtr(s string) *billing.Amount {
	a := billing.NewAmount(s)
	return &a
}

// =============================================================================
// GENERATION TESTS
// =============================================================================

func TestGenerator_Generate_AppliesVAT(t *testing.T) {
	// GIVEN: 610 of validated fees and the default 19% VAT
	// WHEN: Generating the invoice
	// THEN: 610.00 HT becomes 725.90 TTC, due 30 days after issue

	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	inv, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)

	assert.Equal(t, "610.00", inv.AmountExcl.Value.StringFixed(2))
	assert.Equal(t, "725.90", inv.AmountIncl.Value.StringFixed(2))
	assert.Equal(t, invoicing.InvoiceDraft, inv.Status)
	assert.Equal(t, inv.IssueDate.AddDate(0, 0, 30), inv.DueDate)
}

func TestGenerator_Generate_BlockedWhilePending(t *testing.T) {
	// GIVEN: A pending carence attestation
	// WHEN: Generating the invoice
	// THEN: Generation is refused

	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	_, _, err := fx.ledger.RecordCarenceAttestation(ctx, testCase, "", "user-1")
	require.NoError(t, err)

	_, _, err = fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	assert.True(t, billing.IsConflict(err))

	ok, state, err := fx.generator.CanGenerate(ctx, testCase)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEqual(t, tariff.GlobalAllValidated, state.Global)
}

func TestGenerator_Generate_NoValidatedItems(t *testing.T) {
	fx := newFixture(t)

	_, _, err := fx.generator.Generate(context.Background(), testCase, time.Time{}, time.Time{}, "manager-1")
	assert.True(t, billing.IsConflict(err))
}

func TestGenerator_Generate_NumbersAreSequential(t *testing.T) {
	// GIVEN: A generated invoice for one case
	// WHEN: A second case generates in the same year
	// THEN: Numbers follow FACT-YYYY-0001, FACT-YYYY-0002

	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	first, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)

	other := billing.CaseID("case-2")
	_, err = fx.reconciler.Open(ctx, other, "REF-002", billing.NewAmount("3000"))
	require.NoError(t, err)
	_, err = fx.ledger.RecordCaseOpening(ctx, other)
	require.NoError(t, err)

	second, _, err := fx.generator.Generate(ctx, other, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)

	year := time.Now().UTC().Year()
	assert.Equal(t, fmt.Sprintf("FACT-%d-0001", year), first.Number)
	assert.Equal(t, fmt.Sprintf("FACT-%d-0002", year), second.Number)
}

func TestGenerator_Generate_MarksItemsInvoiced(t *testing.T) {
	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	inv, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)

	items, err := fx.ledger.ListByCase(ctx, testCase)
	require.NoError(t, err)
	for _, li := range items {
		assert.Equal(t, tariff.StatusInvoiced, li.Status)
		assert.Equal(t, inv.ID, li.InvoiceID)
	}

	// Nothing left to invoice a second time: the case moves to
	// FACTURE_GENEREE and generation is blocked until new items validate.
	state, err := fx.ledger.ValidationState(ctx, testCase)
	require.NoError(t, err)
	assert.Equal(t, tariff.GlobalInvoiceGenerated, state.Global)
	assert.False(t, state.CanGenerateInvoice)

	_, _, err = fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	assert.Error(t, err)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestGenerator_Lifecycle_DraftToIssued(t *testing.T) {
	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	inv, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)

	issued, err := fx.generator.Finalize(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.InvoiceIssued, issued.Status)

	// Finalize is not repeatable.
	_, err = fx.generator.Finalize(ctx, inv.ID)
	assert.True(t, billing.IsValidation(err))

	sent, err := fx.generator.Send(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, sent.Sent)
	assert.Equal(t, invoicing.InvoiceIssued, sent.Status)
}

func TestGenerator_Send_IssuesDraft(t *testing.T) {
	// GIVEN: A freshly generated draft
	// WHEN: Sending it without finalizing first
	// THEN: The invoice is issued and marked sent in one step

	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	inv, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)
	require.Equal(t, invoicing.InvoiceDraft, inv.Status)

	sent, err := fx.generator.Send(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, sent.Sent)
	assert.Equal(t, invoicing.InvoiceIssued, sent.Status)
}

func TestGenerator_Remind_SetsFlag(t *testing.T) {
	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	inv, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)
	_, err = fx.generator.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	// Due date is 30 days out; the reminder flag is still settable and the
	// status stays put.
	reminded, err := fx.generator.Remind(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, reminded.ReminderSent)
	assert.Equal(t, invoicing.InvoiceIssued, reminded.Status)

	overdue, err := fx.generator.Overdue(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

// =============================================================================
// DETAIL TESTS
// =============================================================================

func TestGenerator_Detail_CommissionLines(t *testing.T) {
	// GIVEN: 610 of fees, 1000 recovered amiable, 500 juridique, 200 interest
	// WHEN: Computing the invoice detail
	// THEN: Commissions read 12%, 15% and 50% of their bases

	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	_, _, err := fx.reconciler.Post(ctx, testCase, recovery.PostingInput{
		Phase: recovery.RecoveryAmiable, Amount: billing.NewAmount("1000"),
	})
	require.NoError(t, err)
	_, _, err = fx.reconciler.Post(ctx, testCase, recovery.PostingInput{
		Phase: recovery.RecoveryJuridique, Amount: billing.NewAmount("500"),
	})
	require.NoError(t, err)
	_, _, err = fx.reconciler.PostInterest(ctx, testCase, billing.NewAmount("200"), "agent-1")
	require.NoError(t, err)

	d, err := fx.generator.Detail(ctx, testCase)
	require.NoError(t, err)

	assert.Equal(t, "610.00", d.FeesTotal.Value.StringFixed(2))
	require.Len(t, d.Commissions, 3)
	assert.Equal(t, "120.00", d.Commissions[0].Amount.Value.StringFixed(2)) // 12% of 1000
	assert.Equal(t, "75.00", d.Commissions[1].Amount.Value.StringFixed(2))  // 15% of 500
	assert.Equal(t, "100.00", d.Commissions[2].Amount.Value.StringFixed(2)) // 50% of 200
	assert.Equal(t, "905.00", d.GrandTotal.Value.StringFixed(2))
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestGenerator_BalanceOf_TracksValidatedPayments(t *testing.T) {
	// GIVEN: A 725.90 invoice with a validated 300 payment
	// WHEN: Computing the balance
	// THEN: 425.90 remains outstanding

	fx := newFixture(t)
	fx.bookStandardFees(t)
	ctx := context.Background()

	inv, _, err := fx.generator.Generate(ctx, testCase, time.Time{}, time.Time{}, "manager-1")
	require.NoError(t, err)
	_, err = fx.generator.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	p, err := fx.payments.Record(ctx, invoicing.RecordPaymentInput{
		InvoiceID: inv.ID,
		Amount:    billing.NewAmount("300"),
		Method:    invoicing.MethodTransfer,
	})
	require.NoError(t, err)
	_, _, err = fx.payments.Validate(ctx, p.ID, "manager-1")
	require.NoError(t, err)

	b, err := fx.generator.BalanceOf(ctx, inv.ID, fx.store)
	require.NoError(t, err)
	assert.Equal(t, "300.00", b.PaidToDate.Value.StringFixed(2))
	assert.Equal(t, "425.90", b.Outstanding.Value.StringFixed(2))
	assert.False(t, b.FullyPaid)
}
