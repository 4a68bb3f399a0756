package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
	"github.com/vela/credit-engine/store/sqlite"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// createCreditSale inserts a sale carrying a debt and returns the debt id.
func createCreditSale(t *testing.T, store *sqlite.Store, amount float64, saleDate time.Time, graceMonths int) int64 {
	t.Helper()
	ctx := context.Background()

	sale := &sales.Sale{
		CustomerID:  1,
		SellerID:    1,
		TotalAmount: credit.Money(amount),
		PaidAmount:  credit.Money(0),
		Status:      sales.StatusUnpaid,
		SaleDate:    saleDate,
		CreatedAt:   saleDate,
	}
	items := []sales.SaleItem{{ProductID: 10, Quantity: 1, UnitPrice: credit.Money(amount)}}
	debt := &credit.Debt{
		CustomerID:        1,
		OriginalAmount:    credit.Money(amount),
		CurrentAmount:     credit.Money(amount),
		MarkupType:        credit.MarkupFixed,
		MarkupValue:       credit.Money(50),
		GracePeriodMonths: graceMonths,
		SaleDate:          saleDate,
		GraceEndDate:      credit.GraceEnd(saleDate, graceMonths),
		Status:            credit.StatusActive,
		CreatedAt:         saleDate,
	}
	_, err := store.CreateSale(ctx, sale, items, nil, debt)
	require.NoError(t, err)
	return debt.ID
}

// =============================================================================
// DEBT ROUND TRIP
// =============================================================================

func TestDebtRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	debtID := createCreditSale(t, store, 1000, date(2024, time.January, 1), 1)

	d, err := store.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", d.OriginalAmount.StringFixed(2))
	assert.Equal(t, credit.MarkupFixed, d.MarkupType)
	assert.Equal(t, 1, d.GracePeriodMonths)
	assert.True(t, d.GraceEndDate.Equal(date(2024, time.February, 1)))
	assert.Equal(t, credit.StatusActive, d.Status)
	assert.Nil(t, d.LastMarkupDate)

	last := date(2024, time.March, 2)
	require.NoError(t, store.UpdateDebtBalance(ctx, debtID, credit.Money(1050), credit.StatusActive, &last))

	d, err = store.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, "1050.00", d.CurrentAmount.StringFixed(2))
	require.NotNil(t, d.LastMarkupDate)
	assert.True(t, d.LastMarkupDate.Equal(last))

	_, err = store.GetDebt(ctx, 9999)
	assert.True(t, credit.IsNotFound(err))
}

// =============================================================================
// MARKUP LEDGER
// =============================================================================

func TestMarkupLedger_DayUniqueness(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	debtID := createCreditSale(t, store, 500, date(2024, time.January, 1), 0)

	entry := &credit.MarkupEntry{
		DebtID:           debtID,
		CalculationDate:  date(2024, time.February, 2),
		RemainingDebt:    credit.Money(500),
		MarkupValue:      credit.Money(50),
		TotalAfterMarkup: credit.Money(550),
	}
	require.NoError(t, store.InsertMarkupEntry(ctx, credit.MarkupFixed, entry))
	assert.NotZero(t, entry.ID)

	// Same debt, same calendar day: the unique index rejects it.
	dup := &credit.MarkupEntry{
		DebtID:           debtID,
		CalculationDate:  date(2024, time.February, 2),
		RemainingDebt:    credit.Money(550),
		MarkupValue:      credit.Money(50),
		TotalAfterMarkup: credit.Money(600),
	}
	err := store.InsertMarkupEntry(ctx, credit.MarkupFixed, dup)
	require.Error(t, err)
	assert.True(t, credit.IsDuplicateEntry(err))

	var dupErr *credit.DuplicateEntryError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, debtID, dupErr.DebtID)

	has, err := store.HasMarkupEntryOn(ctx, debtID, credit.MarkupFixed, date(2024, time.February, 2))
	require.NoError(t, err)
	assert.True(t, has)

	// The percent table is independent: same day there is fine.
	percent := &credit.MarkupEntry{
		DebtID:           debtID,
		CalculationDate:  date(2024, time.February, 2),
		RemainingDebt:    credit.Money(500),
		MarkupValue:      credit.Money(25),
		TotalAfterMarkup: credit.Money(525),
	}
	assert.NoError(t, store.InsertMarkupEntry(ctx, credit.MarkupPercent, percent))
}

func TestDeleteMarkupEntriesAfter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	debtID := createCreditSale(t, store, 500, date(2024, time.January, 1), 0)

	for _, day := range []time.Time{
		date(2024, time.January, 2),
		date(2024, time.February, 2),
		date(2024, time.March, 2),
	} {
		entry := &credit.MarkupEntry{
			DebtID:           debtID,
			CalculationDate:  day,
			RemainingDebt:    credit.Money(500),
			MarkupValue:      credit.Money(50),
			TotalAfterMarkup: credit.Money(550),
		}
		require.NoError(t, store.InsertMarkupEntry(ctx, credit.MarkupFixed, entry))
	}

	// Strictly after: the 02-15 cut keeps 01-02 and 02-02.
	deleted, err := store.DeleteMarkupEntriesAfter(ctx, debtID, credit.MarkupFixed, date(2024, time.February, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	entries, err := store.ListMarkupEntries(ctx, debtID, credit.MarkupFixed)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CalculationDate.Equal(date(2024, time.January, 2)))
	assert.True(t, entries[1].CalculationDate.Equal(date(2024, time.February, 2)))

	deleted, err = store.DeleteMarkupEntriesAfter(ctx, debtID, credit.MarkupFixed, date(2024, time.February, 15))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

// =============================================================================
// ELIGIBILITY SWEEP
// =============================================================================

func TestListEligible(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	overdue := createCreditSale(t, store, 1000, date(2024, time.January, 1), 0)
	inGrace := createCreditSale(t, store, 800, date(2024, time.March, 20), 2)
	recent := createCreditSale(t, store, 600, date(2024, time.January, 1), 0)

	last := date(2024, time.March, 25)
	require.NoError(t, store.UpdateDebtBalance(ctx, recent, credit.Money(650), credit.StatusActive, &last))

	eligible, err := store.ListEligible(ctx, date(2024, time.April, 2))
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, overdue, eligible[0].ID)

	// A month later the recently-accrued debt is due again; the in-grace
	// one still is not.
	eligible, err = store.ListEligible(ctx, date(2024, time.April, 26))
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	_ = inGrace
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithDebtTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	debtID := createCreditSale(t, store, 500, date(2024, time.January, 1), 0)

	boom := errors.New("boom")
	err := store.WithDebtTx(ctx, debtID, func(s credit.Store) error {
		entry := &credit.MarkupEntry{
			DebtID:           debtID,
			CalculationDate:  date(2024, time.January, 2),
			RemainingDebt:    credit.Money(500),
			MarkupValue:      credit.Money(50),
			TotalAfterMarkup: credit.Money(550),
		}
		if err := s.InsertMarkupEntry(ctx, credit.MarkupFixed, entry); err != nil {
			return err
		}
		if err := s.UpdateDebtBalance(ctx, debtID, credit.Money(550), credit.StatusActive, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Neither write survived.
	entries, err := store.ListMarkupEntries(ctx, debtID, credit.MarkupFixed)
	require.NoError(t, err)
	assert.Empty(t, entries)

	d, err := store.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", d.CurrentAmount.StringFixed(2))
}

// =============================================================================
// SALES FLOW
// =============================================================================

func TestRecordPayment_AppliesToDebt(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	debtID := createCreditSale(t, store, 500, date(2024, time.January, 1), 0)

	d, err := store.GetDebt(ctx, debtID)
	require.NoError(t, err)
	saleID := d.SaleID

	res, err := store.RecordPayment(ctx, saleID, credit.Money(200), "cash", date(2024, time.February, 1))
	require.NoError(t, err)
	require.NotNil(t, res.DebtID)
	assert.Equal(t, "200.00", res.AppliedToDebt.StringFixed(2))
	assert.False(t, res.DebtSettled)
	assert.Equal(t, sales.StatusPartial, res.SaleStatus)

	res, err = store.RecordPayment(ctx, saleID, credit.Money(300), "card", date(2024, time.March, 1))
	require.NoError(t, err)
	assert.True(t, res.DebtSettled)
	assert.Equal(t, sales.StatusPaid, res.SaleStatus)

	d, err = store.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPaid, d.Status)
	assert.True(t, d.CurrentAmount.IsZero())

	payments, err := store.ListDebtPayments(ctx, debtID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.True(t, payments[0].Date.Equal(date(2024, time.February, 1)))
	assert.Equal(t, "cash", payments[0].Method)

	sale, err := store.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.True(t, sale.Remaining().IsZero())
}

// =============================================================================
// GRACE CHANGES
// =============================================================================

func TestUpdateGracePeriod_AuditTrail(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	debtID := createCreditSale(t, store, 500, date(2024, time.January, 15), 0)

	change := credit.GraceChange{
		ID:             uuid.NewString(),
		DebtID:         debtID,
		PreviousMonths: 0,
		NewMonths:      3,
		ChangedBy:      "manager",
		ChangedAt:      date(2024, time.April, 1),
	}
	require.NoError(t, store.UpdateGracePeriod(ctx, debtID, 3, credit.GraceEnd(date(2024, time.January, 15), 3), change))

	d, err := store.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, 3, d.GracePeriodMonths)
	assert.True(t, d.GraceEndDate.Equal(date(2024, time.April, 15)))

	changes, err := store.ListGraceChanges(ctx, debtID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, change.ID, changes[0].ID)
	assert.Equal(t, "manager", changes[0].ChangedBy)
}

// =============================================================================
// STATS AND CUSTOMERS
// =============================================================================

func TestDebtStatsAndCustomers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	active := createCreditSale(t, store, 1000, date(2024, time.January, 1), 0)
	paid := createCreditSale(t, store, 400, date(2024, time.January, 1), 0)
	require.NoError(t, store.UpdateDebtBalance(ctx, paid, credit.Money(0), credit.StatusPaid, nil))
	_ = active

	stats, err := store.DebtStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, 1, stats.PaidCount)
	assert.Equal(t, "1000.00", stats.TotalActiveDebt.StringFixed(2))
	assert.Equal(t, "400.00", stats.TotalRecovered.StringFixed(2))

	c := &sales.Customer{Name: "Ana", Phone: "555-0101"}
	require.NoError(t, store.SaveCustomer(ctx, c))
	assert.NotZero(t, c.ID)

	got, err := store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)

	all, err := store.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
