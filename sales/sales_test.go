package sales_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
	"github.com/vela/credit-engine/store/memory"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newService(mem *memory.Store, at time.Time) *sales.Service {
	clock := credit.FixedClock{At: at}
	recon := credit.NewReconciler(mem, clock, nil)
	return sales.NewService(mem, recon, clock, nil)
}

func creditSale(total float64) sales.NewSale {
	return sales.NewSale{
		CustomerID: 1,
		SellerID:   1,
		Items:      []sales.SaleItem{{ProductID: 10, Quantity: 1, UnitPrice: credit.Money(total)}},
		Terms: &sales.DebtTerms{
			MarkupType:  credit.MarkupFixed,
			MarkupValue: credit.Money(50),
			GraceMonths: 1,
		},
	}
}

// =============================================================================
// SALE CREATION
// =============================================================================

func TestCreateSale_UnpaidBalanceBecomesDebt(t *testing.T) {
	// GIVEN: A 1000.00 sale with a 200.00 down payment and debt terms
	// WHEN: The sale is created on 2024-01-10
	// THEN: An 800.00 debt exists with grace ending 2024-02-10

	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.January, 10))

	in := creditSale(1000)
	in.InitialPayment = credit.Money(200)
	saleID, err := svc.CreateSale(ctx, in)
	require.NoError(t, err)

	sale, err := mem.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusPartial, sale.Status)
	assert.Equal(t, "800.00", sale.Remaining().StringFixed(2))

	debts, err := mem.ListDebts(ctx, credit.StatusActive, 0)
	require.NoError(t, err)
	require.Len(t, debts, 1)
	d := debts[0]
	assert.Equal(t, saleID, d.SaleID)
	assert.Equal(t, "800.00", d.OriginalAmount.StringFixed(2))
	assert.Equal(t, "800.00", d.CurrentAmount.StringFixed(2))
	assert.Equal(t, credit.MarkupFixed, d.MarkupType)
	assert.True(t, d.GraceEndDate.Equal(date(2024, time.February, 10)))

	// The down payment is a sale payment, not a debt payment: the debt is
	// only ever the remainder.
	payments, err := mem.ListDebtPayments(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestCreateSale_FullyPaidCreatesNoDebt(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.January, 10))

	in := creditSale(300)
	in.InitialPayment = credit.Money(300)
	saleID, err := svc.CreateSale(ctx, in)
	require.NoError(t, err)

	sale, _ := mem.GetSale(ctx, saleID)
	assert.Equal(t, sales.StatusPaid, sale.Status)

	debts, _ := mem.ListDebts(ctx, credit.StatusActive, 0)
	assert.Empty(t, debts)
}

func TestCreateSale_WithoutTermsCreatesNoDebt(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.January, 10))

	in := creditSale(500)
	in.Terms = nil
	_, err := svc.CreateSale(ctx, in)
	require.NoError(t, err)

	debts, _ := mem.ListDebts(ctx, credit.StatusActive, 0)
	assert.Empty(t, debts)
}

func TestCreateSale_OverpaymentIsCappedAtTotal(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.January, 10))

	in := creditSale(100)
	in.InitialPayment = credit.Money(150)
	saleID, err := svc.CreateSale(ctx, in)
	require.NoError(t, err)

	sale, _ := mem.GetSale(ctx, saleID)
	assert.Equal(t, sales.StatusPaid, sale.Status)
	assert.Equal(t, "100.00", sale.PaidAmount.StringFixed(2))
}

func TestCreateSale_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New(), date(2024, time.January, 10))

	_, err := svc.CreateSale(ctx, sales.NewSale{CustomerID: 1})
	assert.ErrorIs(t, err, sales.ErrNoItems)

	_, err = svc.CreateSale(ctx, sales.NewSale{
		CustomerID: 1,
		Items:      []sales.SaleItem{{ProductID: 10, Quantity: 0, UnitPrice: credit.Money(10)}},
	})
	assert.ErrorIs(t, err, sales.ErrInvalidQuantity)

	in := creditSale(100)
	in.InitialPayment = credit.Money(-5)
	_, err = svc.CreateSale(ctx, in)
	assert.ErrorIs(t, err, sales.ErrInvalidAmount)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestAddPayment_AppliesToDebtAndSettles(t *testing.T) {
	// GIVEN: A credit sale carrying a 500.00 debt
	// WHEN: Two payments arrive, the second covering the rest
	// THEN: The debt reduces, then flips to paid

	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.January, 10))

	saleID, err := svc.CreateSale(ctx, creditSale(500))
	require.NoError(t, err)

	res, err := svc.AddPayment(ctx, saleID, credit.Money(200), "cash", date(2024, time.February, 1))
	require.NoError(t, err)
	require.NotNil(t, res.DebtID)
	assert.Equal(t, "200.00", res.AppliedToDebt.StringFixed(2))
	assert.False(t, res.DebtSettled)
	assert.Equal(t, sales.StatusPartial, res.SaleStatus)

	res, err = svc.AddPayment(ctx, saleID, credit.Money(300), "card", date(2024, time.March, 1))
	require.NoError(t, err)
	assert.True(t, res.DebtSettled)
	assert.Equal(t, sales.StatusPaid, res.SaleStatus)

	debt, err := mem.GetDebt(ctx, *res.DebtID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPaid, debt.Status)
	assert.True(t, debt.CurrentAmount.IsZero())

	payments, err := mem.ListDebtPayments(ctx, debt.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestAddPayment_Validation(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.January, 10))

	saleID, err := svc.CreateSale(ctx, creditSale(500))
	require.NoError(t, err)

	_, err = svc.AddPayment(ctx, saleID, credit.Money(0), "cash", time.Time{})
	assert.ErrorIs(t, err, sales.ErrInvalidAmount)

	_, err = svc.AddPayment(ctx, saleID, credit.Money(600), "cash", time.Time{})
	assert.ErrorIs(t, err, sales.ErrExceedsBalance)

	_, err = svc.AddPayment(ctx, 999, credit.Money(10), "cash", time.Time{})
	assert.True(t, credit.IsNotFound(err))
}

func TestAddPayment_RetroactiveSettlementTriggersCleanup(t *testing.T) {
	// GIVEN: A credit sale whose debt accrued markup through 2024-03-02
	// WHEN: A payment dated back on the sale day arrives, settling the
	//       debt before any markup applied
	// THEN: The invalid entries are stripped immediately after recording

	ctx := context.Background()
	mem := memory.New()
	svc := newService(mem, date(2024, time.March, 10))

	in := creditSale(500)
	in.Terms.GraceMonths = 0
	in.SaleDate = date(2024, time.January, 1)
	saleID, err := svc.CreateSale(ctx, in)
	require.NoError(t, err)

	debts, _ := mem.ListDebts(ctx, credit.StatusActive, 0)
	require.Len(t, debts, 1)
	debtID := debts[0].ID

	// Markup posts on 01-02, 02-02 and 03-02; balance 650.00.
	engine := credit.NewEngine(mem, credit.FixedClock{At: date(2024, time.March, 2)}, nil)
	_, err = engine.Apply(ctx, debtID)
	require.NoError(t, err)

	res, err := svc.AddPayment(ctx, saleID, credit.Money(500), "cash", date(2024, time.January, 1))
	require.NoError(t, err)
	require.NotNil(t, res.DebtID)

	// All three entries postdate the 01-01 payoff.
	entries, err := mem.ListMarkupEntries(ctx, debtID, credit.MarkupFixed)
	require.NoError(t, err)
	assert.Empty(t, entries)

	debt, err := mem.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPaid, debt.Status)
	assert.True(t, debt.CurrentAmount.IsZero())
}
