package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func seedDebt(t *testing.T, mem *memory.Store, amount float64, typ credit.MarkupType, value float64, saleDate time.Time, graceMonths int) int64 {
	t.Helper()
	d := &credit.Debt{
		SaleID:            1,
		CustomerID:        1,
		OriginalAmount:    credit.Money(amount),
		CurrentAmount:     credit.Money(amount),
		MarkupType:        typ,
		MarkupValue:       credit.Money(value),
		GracePeriodMonths: graceMonths,
		SaleDate:          saleDate,
		GraceEndDate:      credit.GraceEnd(saleDate, graceMonths),
		Status:            credit.StatusActive,
		CreatedAt:         saleDate,
	}
	return mem.PutDebt(d)
}

func engineAt(mem *memory.Store, at time.Time) *credit.Engine {
	return credit.NewEngine(mem, credit.FixedClock{At: at}, nil)
}

// =============================================================================
// FIXED MARKUP
// =============================================================================

func TestApply_FixedMarkup_CatchUpWalk(t *testing.T) {
	// GIVEN: A 1000.00 debt, 50.00/month fixed markup, no grace period,
	//        sold 2024-01-01, never accrued
	// WHEN: Accrual runs on 2024-04-02
	// THEN: Four entries post (01-02, 02-02, 03-02, 04-02) and the balance
	//       becomes 1200.00

	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 1000, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)
	engine := engineAt(mem, date(2024, time.April, 2))

	res, err := engine.Apply(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 4, res.Checkpoints)
	require.Len(t, res.Entries, 4)
	assert.True(t, res.Entries[0].CalculationDate.Equal(date(2024, time.January, 2)))
	assert.True(t, res.Entries[3].CalculationDate.Equal(date(2024, time.April, 2)))
	assert.Equal(t, "200.00", res.MarkupAdded.StringFixed(2))
	assert.Equal(t, "1200.00", res.NewAmount.StringFixed(2))

	debt, err := mem.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, "1200.00", debt.CurrentAmount.StringFixed(2))
	require.NotNil(t, debt.LastMarkupDate)
	assert.True(t, debt.LastMarkupDate.Equal(date(2024, time.April, 2)))
}

func TestApply_SecondRunIsNoOp(t *testing.T) {
	// GIVEN: A debt whose ledger is already current
	// WHEN: Accrual runs again with no time passed
	// THEN: Nil result, no new entries, unchanged balance

	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 1000, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)
	engine := engineAt(mem, date(2024, time.April, 2))

	_, err := engine.Apply(ctx, debtID)
	require.NoError(t, err)

	res, err := engine.Apply(ctx, debtID)
	require.NoError(t, err)
	assert.Nil(t, res)

	entries, err := mem.ListMarkupEntries(ctx, debtID, credit.MarkupFixed)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	debt, _ := mem.GetDebt(ctx, debtID)
	assert.Equal(t, "1200.00", debt.CurrentAmount.StringFixed(2))
}

func TestApply_ResumesWhereItLeftOff(t *testing.T) {
	// GIVEN: Two checkpoints already posted
	// WHEN: Accrual runs two months later
	// THEN: Only the two missing checkpoints post

	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 1000, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)

	_, err := engineAt(mem, date(2024, time.February, 2)).Apply(ctx, debtID)
	require.NoError(t, err)

	res, err := engineAt(mem, date(2024, time.April, 2)).Apply(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 4, res.Checkpoints)
	require.Len(t, res.Entries, 2)
	assert.True(t, res.Entries[0].CalculationDate.Equal(date(2024, time.March, 2)))
	assert.True(t, res.Entries[1].CalculationDate.Equal(date(2024, time.April, 2)))
	assert.Equal(t, "1200.00", res.NewAmount.StringFixed(2))
}

// =============================================================================
// PERCENT MARKUP
// =============================================================================

func TestApply_PercentMarkup_CompoundsOnRunningBalance(t *testing.T) {
	// GIVEN: A 1000.00 debt at 5%/month, no grace, sold 2024-01-01
	// WHEN: Accrual runs on 2024-02-02
	// THEN: 50.00 posts on the first checkpoint and 52.50 on the second
	//       (5% of 1050.00, not of the original amount)

	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 1000, credit.MarkupPercent, 5, date(2024, time.January, 1), 0)
	engine := engineAt(mem, date(2024, time.February, 2))

	res, err := engine.Apply(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "50.00", res.Entries[0].MarkupValue.StringFixed(2))
	assert.Equal(t, "1000.00", res.Entries[0].RemainingDebt.StringFixed(2))
	assert.Equal(t, "52.50", res.Entries[1].MarkupValue.StringFixed(2))
	assert.Equal(t, "1050.00", res.Entries[1].RemainingDebt.StringFixed(2))
	assert.Equal(t, "1102.50", res.NewAmount.StringFixed(2))
}

func TestApply_PercentMarkup_RoundsToTwoDecimals(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 1000, credit.MarkupPercent, 5, date(2024, time.January, 1), 0)

	res, err := engineAt(mem, date(2024, time.March, 2)).Apply(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, res)

	// 5% of 1102.50 is 55.125, rounded half-up to 55.13.
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "55.13", res.Entries[2].MarkupValue.StringFixed(2))
	assert.Equal(t, "1157.63", res.NewAmount.StringFixed(2))
}

// =============================================================================
// NO-OP STATES
// =============================================================================

func TestApply_InGrace_DoesNothing(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 500, credit.MarkupFixed, 25, date(2024, time.January, 1), 2)

	res, err := engineAt(mem, date(2024, time.February, 15)).Apply(ctx, debtID)
	require.NoError(t, err)
	assert.Nil(t, res)

	entries, _ := mem.ListMarkupEntries(ctx, debtID, credit.MarkupFixed)
	assert.Empty(t, entries)
}

func TestApply_NoMarkupTerms_DoesNothing(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 500, credit.MarkupNone, 0, date(2023, time.June, 1), 0)

	res, err := engineAt(mem, date(2024, time.June, 1)).Apply(ctx, debtID)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestApply_SettledButActive_FlipsToPaid(t *testing.T) {
	// GIVEN: A debt whose balance reached zero but whose status is still
	//        active (interrupted earlier run)
	// WHEN: Accrual runs
	// THEN: Status is repaired to paid; no markup posts

	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 500, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)
	require.NoError(t, mem.UpdateDebtBalance(ctx, debtID, credit.Money(0), credit.StatusActive, nil))

	res, err := engineAt(mem, date(2024, time.March, 1)).Apply(ctx, debtID)
	require.NoError(t, err)
	assert.Nil(t, res)

	debt, err := mem.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPaid, debt.Status)
	assert.True(t, debt.CurrentAmount.IsZero())
}

func TestApply_MissingDebt_ReturnsNotFound(t *testing.T) {
	mem := memory.New()
	_, err := engineAt(mem, date(2024, time.March, 1)).Apply(context.Background(), 42)
	assert.True(t, credit.IsNotFound(err))
}

// =============================================================================
// PAYOFF-AWARE BOUNDARY
// =============================================================================

func TestApply_RetroactivePayment_ClampsBoundaryAndReconciles(t *testing.T) {
	// GIVEN: 500.00 debt, 50.00/month, entries on 01-02, 02-02 and 03-02
	//        (balance 650.00), then a payment of 600.00 entered with date
	//        2024-02-15 — which settled the debt back then
	// WHEN: Accrual runs on 2024-05-02
	// THEN: No new entries post past the payoff, the invalid 03-02 entry
	//       is removed in the same run, and the balance lands at zero

	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 500, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)

	_, err := engineAt(mem, date(2024, time.March, 2)).Apply(ctx, debtID)
	require.NoError(t, err)
	require.NoError(t, mem.AddDebtPayment(debtID, credit.Money(600), date(2024, time.February, 15)))

	res, err := engineAt(mem, date(2024, time.May, 2)).Apply(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Empty(t, res.Entries)
	assert.Equal(t, 1, res.Reconciled)
	assert.True(t, res.NewAmount.IsZero())

	entries, err := mem.ListMarkupEntries(ctx, debtID, credit.MarkupFixed)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].CalculationDate.Equal(date(2024, time.February, 2)))

	debt, _ := mem.GetDebt(ctx, debtID)
	assert.Equal(t, credit.StatusPaid, debt.Status)
}

// =============================================================================
// BATCH SWEEP
// =============================================================================

func TestProcessEligible_SelectsAndAccrues(t *testing.T) {
	// GIVEN: One overdue debt, one in grace, one without markup terms
	// WHEN: The sweep runs
	// THEN: Only the overdue debt accrues

	ctx := context.Background()
	mem := memory.New()
	overdue := seedDebt(t, mem, 1000, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)
	seedDebt(t, mem, 800, credit.MarkupFixed, 40, date(2024, time.March, 20), 2)
	seedDebt(t, mem, 600, credit.MarkupNone, 0, date(2024, time.January, 1), 0)

	engine := engineAt(mem, date(2024, time.April, 2))
	results, err := engine.ProcessEligible(ctx)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, overdue, results[0].DebtID)
	assert.Equal(t, "200.00", results[0].MarkupAdded.StringFixed(2))
}

func TestProcessEligible_SkipsRecentlyAccrued(t *testing.T) {
	// A debt accrued within the last month is not re-selected.
	ctx := context.Background()
	mem := memory.New()
	debtID := seedDebt(t, mem, 1000, credit.MarkupFixed, 50, date(2024, time.January, 1), 0)

	_, err := engineAt(mem, date(2024, time.April, 2)).Apply(ctx, debtID)
	require.NoError(t, err)

	results, err := engineAt(mem, date(2024, time.April, 20)).ProcessEligible(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	// A month later it is due again.
	results, err = engineAt(mem, date(2024, time.May, 3)).ProcessEligible(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "50.00", results[0].MarkupAdded.StringFixed(2))
}
