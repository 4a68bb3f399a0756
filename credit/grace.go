package credit

import (
	"context"

	"github.com/google/uuid"
)

// ChangeGracePeriod applies a new grace-period month count to a debt.
//
// The grace end is recomputed from the ORIGINAL sale date, and the prior
// month count is preserved in the audit trail. Already-posted markup
// entries are left untouched: extending the grace period does not
// un-apply past accruals (only the Reconciler deletes entries, and only
// for the zero-balance reason). New checkpoints simply start from the
// new grace end.
func ChangeGracePeriod(ctx context.Context, store TxStore, clock Clock, debtID int64, months int, actor string) (*GraceChange, error) {
	if months < 0 {
		return nil, ErrInvalidGracePeriod
	}
	if clock == nil {
		clock = SystemClock{}
	}

	var change GraceChange
	err := store.WithDebtTx(ctx, debtID, func(s Store) error {
		debt, err := s.GetDebt(ctx, debtID)
		if err != nil {
			return err
		}
		change = GraceChange{
			ID:             uuid.NewString(),
			DebtID:         debtID,
			PreviousMonths: debt.GracePeriodMonths,
			NewMonths:      months,
			ChangedBy:      actor,
			ChangedAt:      clock.Now(),
		}
		return s.UpdateGracePeriod(ctx, debtID, months, GraceEnd(debt.SaleDate, months), change)
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}
